// Package recording turns bookings into raw video files on disk. The
// scheduler watches the booking cache and drives one capture process per
// camera for the duration of each booked window.
package recording

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"dualcam-dvr/config"
)

// Capture drives one camera. Start begins writing to outputPath and returns
// once the capture process is up; Stop ends the recording and waits for the
// file to be finalized.
type Capture interface {
	Start(outputPath string) error
	Stop() error
	IsRecording() bool
}

// FFmpegCapture records from a V4L2 device using an ffmpeg subprocess.
type FFmpegCapture struct {
	device config.CameraDevice
	logDir string

	// stopTimeout bounds how long Stop waits for ffmpeg to finalize the
	// MP4 after SIGTERM before escalating to SIGKILL.
	stopTimeout time.Duration

	mu  sync.Mutex
	cmd *exec.Cmd
}

func NewFFmpegCapture(device config.CameraDevice, logDir string, stopTimeout time.Duration) *FFmpegCapture {
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	return &FFmpegCapture{device: device, logDir: logDir, stopTimeout: stopTimeout}
}

// DetectDevices lists the V4L2 device nodes present on this host. Configured
// cameras that are missing from this list will fail at capture start.
func DetectDevices() []string {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil
	}
	devices := make([]string, 0, len(matches))
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			devices = append(devices, m)
		}
	}
	return devices
}

func (c *FFmpegCapture) Start(outputPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return fmt.Errorf("[%s] capture already running", c.device.Name)
	}

	args := []string{
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", c.device.FrameRate),
		"-video_size", fmt.Sprintf("%dx%d", c.device.Width, c.device.Height),
		"-i", c.device.Device,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-crf", "23",
		"-movflags", "+faststart",
		"-y", outputPath,
	}

	cmd := exec.Command("ffmpeg", args...)

	logPath := filepath.Join(c.logDir, filepath.Base(outputPath)+".ffmpeg.log")
	if logFile, err := os.Create(logPath); err == nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	log.Printf("[%s] Starting capture: %s -> %s", c.device.Name, c.device.Device, outputPath)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("[%s] failed to start ffmpeg: %v", c.device.Name, err)
	}
	c.cmd = cmd
	return nil
}

// Stop sends SIGTERM so ffmpeg writes the moov atom, then kills it if it
// does not exit in time. A Stop that had to SIGKILL returns an error since
// the output file may be truncated.
func (c *FFmpegCapture) Stop() error {
	c.mu.Lock()
	cmd := c.cmd
	c.cmd = nil
	c.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	log.Printf("[%s] Stopping capture (pid %d)", c.device.Name, cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return fmt.Errorf("[%s] failed to signal ffmpeg: %v", c.device.Name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(c.stopTimeout):
		log.Printf("[%s] ffmpeg did not exit after SIGTERM, killing", c.device.Name)
		cmd.Process.Kill()
		<-done
		return fmt.Errorf("[%s] capture killed before finalizing output", c.device.Name)
	}
}

func (c *FFmpegCapture) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd != nil
}
