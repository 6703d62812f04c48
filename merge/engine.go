// Package merge combines the two camera streams of a dual recording into a
// single panoramic file. All heavy lifting happens in ffmpeg; this package
// owns the crop geometry, the filtergraph construction, validation and the
// retry policy around it.
package merge

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Merge methods. The method picks the filtergraph; the geometry is shared.
const (
	MethodSideBySide     = "side_by_side"
	MethodAdvancedStitch = "advanced_stitch"
	MethodStacked        = "stacked"
)

// Result statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Result reports the outcome of one merge.
type Result struct {
	Success      bool
	Status       string
	OutputPath   string
	ErrorMessage string
	FileSize     int64
	Duration     float64
	RetryCount   int
	MergeTime    time.Duration
}

// Runner executes an external command with a timeout. It exists so tests can
// exercise the engine without ffmpeg installed.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("%s timed out after %v", name, timeout)
	}
	return out, err
}

// Options tune the merge engine.
type Options struct {
	Method       string
	FeatherWidth int
	EdgeTrim     int
	MaxRetries   int
	Timeout      time.Duration

	// Input validation floors.
	MinInputBytes  int64 // below this an input is rejected
	WarnInputBytes int64 // below this an input is merged with a warning
	MinOutputBytes int64 // below this the merge output is rejected

	// Optional homography stitcher.
	UseHomography   bool
	StitcherBinary  string
	CalibrationPath string
}

func (o *Options) applyDefaults() {
	if o.Method == "" {
		o.Method = MethodSideBySide
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Minute
	}
	if o.MinInputBytes <= 0 {
		o.MinInputBytes = 100 * 1024
	}
	if o.WarnInputBytes <= 0 {
		o.WarnInputBytes = 1024 * 1024
	}
	if o.MinOutputBytes <= 0 {
		o.MinOutputBytes = 1024 * 1024
	}
}

// graphBuilder produces an ffmpeg filtergraph for a given pair of streams.
type graphBuilder func(left, right StreamInfo, geo Geometry) string

// Engine performs dual-stream merges.
type Engine struct {
	opts     Options
	runner   Runner
	builders map[string]graphBuilder
}

func NewEngine(opts Options) *Engine {
	opts.applyDefaults()
	e := &Engine{opts: opts, runner: execRunner{}}
	e.builders = map[string]graphBuilder{
		MethodSideBySide:     sideBySideGraph,
		MethodAdvancedStitch: advancedStitchGraph,
		MethodStacked:        stackedGraph,
	}
	return e
}

// Merge combines leftPath and rightPath into outputPath. It validates both
// inputs, attempts a remux repair on a corrupt one, and retries the ffmpeg
// run with exponential backoff. On exhaustion a .debug.txt artifact is
// written next to the intended output.
func (e *Engine) Merge(ctx context.Context, leftPath, rightPath, outputPath string) Result {
	start := time.Now()
	res := Result{Status: StatusInProgress, OutputPath: outputPath}

	left, err := e.validateInput(ctx, leftPath)
	if err != nil {
		return e.fail(res, start, fmt.Sprintf("left input invalid: %v", err))
	}
	right, err := e.validateInput(ctx, rightPath)
	if err != nil {
		return e.fail(res, start, fmt.Sprintf("right input invalid: %v", err))
	}

	// Homography stitching runs an external calibrated stitcher when
	// configured; any failure there falls back to the filtergraph path.
	if e.opts.UseHomography && e.opts.StitcherBinary != "" {
		if err := e.runHomography(ctx, leftPath, rightPath, outputPath); err == nil {
			if verr := e.validateOutput(ctx, outputPath, left, &res); verr == nil {
				res.Success = true
				res.Status = StatusCompleted
				res.MergeTime = time.Since(start)
				return res
			}
			os.Remove(outputPath)
		} else {
			log.Printf("🧵 MERGE: homography stitcher failed, falling back to %s: %v", e.opts.Method, err)
		}
	}

	build, ok := e.builders[e.opts.Method]
	if !ok {
		return e.fail(res, start, fmt.Sprintf("unknown merge method %q", e.opts.Method))
	}

	geo, err := computeGeometry(left.Width, right.Width, e.opts.FeatherWidth, e.opts.EdgeTrim)
	if err != nil {
		return e.fail(res, start, fmt.Sprintf("geometry: %v", err))
	}
	graph := build(left, right, geo)

	var lastOut []byte
	var lastErr error
	for attempt := 0; attempt < e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<uint(attempt)) * time.Second
			log.Printf("🧵 MERGE: retry %d/%d for %s in %v", attempt+1, e.opts.MaxRetries, filepath.Base(outputPath), wait)
			select {
			case <-ctx.Done():
				return e.fail(res, start, "merge cancelled")
			case <-time.After(wait):
			}
		}
		res.RetryCount = attempt

		lastOut, lastErr = e.runner.Run(ctx, e.opts.Timeout, "ffmpeg",
			"-i", leftPath,
			"-i", rightPath,
			"-filter_complex", graph,
			"-map", "[out]",
			"-map", "0:a?",
			"-c:v", "libx264",
			"-preset", "fast",
			"-crf", "20",
			"-c:a", "aac",
			"-movflags", "+faststart",
			"-y", outputPath,
		)
		if lastErr != nil {
			os.Remove(outputPath)
			continue
		}
		if err := e.validateOutput(ctx, outputPath, left, &res); err != nil {
			lastErr = err
			os.Remove(outputPath)
			continue
		}

		res.Success = true
		res.Status = StatusCompleted
		res.MergeTime = time.Since(start)
		log.Printf("🧵 MERGE: %s completed in %v (%d bytes)", filepath.Base(outputPath), res.MergeTime.Round(time.Second), res.FileSize)
		return res
	}

	e.writeDebugArtifact(outputPath, leftPath, rightPath, graph, lastOut, lastErr)
	return e.fail(res, start, fmt.Sprintf("merge failed after %d attempts: %v", e.opts.MaxRetries, lastErr))
}

func (e *Engine) fail(res Result, start time.Time, msg string) Result {
	res.Success = false
	res.Status = StatusFailed
	res.ErrorMessage = msg
	res.MergeTime = time.Since(start)
	log.Printf("🧵 MERGE: %s", msg)
	return res
}

// validateInput checks an input exists, meets the size floors and has a
// probeable video stream. A file that fails the probe gets one remux repair
// attempt before being rejected.
func (e *Engine) validateInput(ctx context.Context, path string) (StreamInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return StreamInfo{}, err
	}
	if fi.Size() < e.opts.MinInputBytes {
		return StreamInfo{}, fmt.Errorf("file is %d bytes, below the %d byte floor", fi.Size(), e.opts.MinInputBytes)
	}
	if fi.Size() < e.opts.WarnInputBytes {
		log.Printf("🧵 MERGE: warning, %s is only %d bytes", filepath.Base(path), fi.Size())
	}

	info, err := probeStream(ctx, e.runner, path)
	if err == nil {
		return info, nil
	}

	log.Printf("🧵 MERGE: %s failed probe, attempting remux repair", filepath.Base(path))
	if rerr := e.remuxRepair(ctx, path); rerr != nil {
		return StreamInfo{}, fmt.Errorf("probe failed (%v) and repair failed (%v)", err, rerr)
	}
	return probeStream(ctx, e.runner, path)
}

// remuxRepair rewrites a file's container in place. The original is kept as
// a .bak until the remux succeeds, and restored if it does not.
func (e *Engine) remuxRepair(ctx context.Context, path string) error {
	backup := path + ".bak"
	if err := os.Rename(path, backup); err != nil {
		return err
	}
	_, err := e.runner.Run(ctx, e.opts.Timeout, "ffmpeg",
		"-i", backup,
		"-c", "copy",
		"-movflags", "+faststart",
		"-y", path,
	)
	if err != nil {
		os.Remove(path)
		os.Rename(backup, path)
		return err
	}
	os.Remove(backup)
	return nil
}

// validateOutput checks the merge product: present, above the size floor,
// probeable. A codec that differs from the input is logged but accepted.
func (e *Engine) validateOutput(ctx context.Context, path string, left StreamInfo, res *Result) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output missing: %v", err)
	}
	if fi.Size() < e.opts.MinOutputBytes {
		return fmt.Errorf("output is %d bytes, below the %d byte floor", fi.Size(), e.opts.MinOutputBytes)
	}

	info, err := probeStream(ctx, e.runner, path)
	if err != nil {
		return fmt.Errorf("output unprobeable: %v", err)
	}
	if left.Codec != "" && info.Codec != left.Codec {
		log.Printf("🧵 MERGE: output codec %s differs from input %s", info.Codec, left.Codec)
	}

	res.FileSize = fi.Size()
	res.Duration = info.Duration
	return nil
}

// runHomography invokes the external calibrated stitcher.
func (e *Engine) runHomography(ctx context.Context, leftPath, rightPath, outputPath string) error {
	args := []string{"--left", leftPath, "--right", rightPath, "--output", outputPath}
	if e.opts.CalibrationPath != "" {
		args = append(args, "--calibration", e.opts.CalibrationPath)
	}
	_, err := e.runner.Run(ctx, e.opts.Timeout, e.opts.StitcherBinary, args...)
	return err
}

// writeDebugArtifact drops a <output>.debug.txt describing the failed merge
// so the pair can be diagnosed later without rerunning it.
func (e *Engine) writeDebugArtifact(outputPath, leftPath, rightPath, graph string, out []byte, err error) {
	var body string
	body += fmt.Sprintf("merge failed at %s\n", time.Now().Format(time.RFC3339))
	body += fmt.Sprintf("left:  %s\n", leftPath)
	body += fmt.Sprintf("right: %s\n", rightPath)
	body += fmt.Sprintf("method: %s\n", e.opts.Method)
	body += fmt.Sprintf("filtergraph: %s\n", graph)
	if err != nil {
		body += fmt.Sprintf("error: %v\n", err)
	}
	if len(out) > 0 {
		const tail = 8 * 1024
		if len(out) > tail {
			out = out[len(out)-tail:]
		}
		body += "--- ffmpeg output (tail) ---\n" + string(out) + "\n"
	}
	if werr := os.WriteFile(outputPath+".debug.txt", []byte(body), 0644); werr != nil {
		log.Printf("🧵 MERGE: failed to write debug artifact: %v", werr)
	}
}
