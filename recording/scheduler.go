package recording

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"dualcam-dvr/bookings"
	"dualcam-dvr/config"
	"dualcam-dvr/recording/markers"
)

// Scheduler state machine.
type schedState int

const (
	stateIdle schedState = iota
	stateRecording
	stateFinalizing
)

// StatusSink receives booking status changes for remote mirroring. It must
// never block.
type StatusSink interface {
	Queue(bookingID, status, errMsg string)
}

// Light is an optional status indicator (front-panel LED over serial).
type Light interface {
	SetIdle()
	SetRecording()
	SetError()
}

// session is one in-progress recording.
type session struct {
	booking   bookings.Booking
	files     map[string]string // camera name -> video path
	startedAt time.Time
}

// Scheduler polls the booking cache and starts/stops captures so that every
// booked window has exactly one recording session.
type Scheduler struct {
	cfg      config.Config
	store    *bookings.Store
	captures map[string]Capture
	status   StatusSink
	light    Light
	clock    func() time.Time

	state schedState
	sess  *session
}

func NewScheduler(cfg config.Config, store *bookings.Store, captures map[string]Capture, status StatusSink, light Light) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		captures: captures,
		status:   status,
		light:    light,
		clock:    time.Now,
	}
}

// Run ticks the state machine until ctx is cancelled, then stops any
// in-progress recording cleanly.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	log.Printf("Scheduler started: polling every %v for %s/%s", s.cfg.CheckInterval, s.cfg.UserID, s.cfg.CameraID)
	for {
		select {
		case <-ctx.Done():
			if s.state == stateRecording {
				log.Printf("Scheduler shutting down with active recording, finalizing")
				s.finalize()
			}
			return
		case <-ticker.C:
			s.tick(s.clock())
		}
	}
}

// tick advances the state machine one step.
func (s *Scheduler) tick(now time.Time) {
	switch s.state {
	case stateIdle:
		b, ok, err := s.store.FindActive(now, s.cfg.UserID, s.cfg.CameraID)
		if err != nil {
			log.Printf("Failed to read booking cache: %v", err)
			return
		}
		if ok {
			s.startSession(b, now)
		}
	case stateRecording:
		if s.shouldStop(now) {
			s.state = stateFinalizing
			s.finalize()
		}
	case stateFinalizing:
		// finalize runs synchronously; reaching here means it already
		// returned to idle.
	}
}

// shouldStop applies the end-of-window check with the minimum duration
// guard: a recording never stops before it has run MinRecordingSeconds, even
// if the booking window has already closed.
func (s *Scheduler) shouldStop(now time.Time) bool {
	if s.sess == nil {
		return true
	}
	minDur := time.Duration(s.cfg.MinRecordingSeconds) * time.Second
	return now.After(s.sess.booking.EndTime) && now.Sub(s.sess.startedAt) >= minDur
}

// sessionStem builds the filename stem from the booking window.
func sessionStem(b bookings.Booking) string {
	return fmt.Sprintf("%s-%s", b.StartTime.Format("150405"), b.EndTime.Format("150405"))
}

// startSession begins recording a booking on every enabled camera. Any
// failure tears the whole session down; the scheduler stays idle and retries
// on the next tick.
func (s *Scheduler) startSession(b bookings.Booking, now time.Time) {
	dateDir := filepath.Join(s.cfg.RecordingsDir(), b.StartTime.Format("2006-01-02"))
	if err := os.MkdirAll(dateDir, 0755); err != nil {
		log.Printf("Failed to create recording directory %s: %v", dateDir, err)
		return
	}

	stem := sessionStem(b)
	sess := &session{booking: b, files: make(map[string]string), startedAt: now}

	dual := s.cfg.DualCamera()
	for _, cam := range s.cfg.Cameras {
		if !cam.Enabled {
			continue
		}
		name := stem + ".mp4"
		if dual {
			name = fmt.Sprintf("%s_%s.mp4", stem, cam.Name)
		}
		sess.files[cam.Name] = filepath.Join(dateDir, name)
	}

	// Lock every output before starting anything: a file that is locked and
	// has no .done marker is visibly mid-recording to the worker. Only
	// paths this session actually claimed are torn down on failure.
	claimed := []string{}
	for camName, path := range sess.files {
		if err := markers.AcquireLock(path); err != nil {
			// A lock on a path derived from the current booking window can
			// only belong to a crashed predecessor of this scheduler; a
			// dead owner frees the window for re-recording.
			if !markers.ReclaimStaleLock(path, s.cfg.CheckInterval, now) {
				log.Printf("Failed to lock %s: %v", path, err)
				s.teardown(claimed)
				return
			}
			log.Printf("🎥 RECORD: reclaimed stale lock on %s", filepath.Base(path))
			if err := markers.AcquireLock(path); err != nil {
				log.Printf("Failed to lock %s: %v", path, err)
				s.teardown(claimed)
				return
			}
		}
		claimed = append(claimed, path)
		sc := markers.Sidecar{
			BookingID: b.ID,
			UserID:    b.UserID,
			CameraID:  b.CameraID,
			StartTime: b.StartTime,
			EndTime:   b.EndTime,
		}
		if dual {
			sc.Camera = camName
		}
		if err := markers.WriteSidecar(path, sc); err != nil {
			log.Printf("Failed to write sidecar for %s: %v", path, err)
			s.teardown(claimed)
			return
		}
	}

	started := []string{}
	for camName, path := range sess.files {
		c, ok := s.captures[camName]
		if !ok {
			log.Printf("No capture for camera %s, aborting session", camName)
			s.stopCameras(started)
			s.teardown(claimed)
			return
		}
		if err := c.Start(path); err != nil {
			log.Printf("Failed to start camera %s: %v", camName, err)
			s.stopCameras(started)
			s.teardown(claimed)
			return
		}
		started = append(started, camName)
	}

	s.sess = sess
	s.state = stateRecording
	if s.light != nil {
		s.light.SetRecording()
	}
	log.Printf("🎥 RECORD: started booking %s (%s), %d camera(s)", b.ID, stem, len(sess.files))

	if err := s.store.UpdateStatus(b.ID, bookings.StatusRecording, ""); err != nil {
		log.Printf("Failed to update booking %s status: %v", b.ID, err)
	}
	if s.status != nil {
		s.status.Queue(b.ID, bookings.StatusRecording, "")
	}
}

func (s *Scheduler) stopCameras(names []string) {
	for _, name := range names {
		if c, ok := s.captures[name]; ok {
			c.Stop()
		}
	}
}

// teardown removes the markers of session paths that never produced video.
func (s *Scheduler) teardown(paths []string) {
	for _, path := range paths {
		markers.ReleaseLock(path)
		os.Remove(path + markers.SuffixSidecar)
		os.Remove(path)
	}
}

// finalize stops all captures, releases locks and marks every file done. A
// camera that fails to acknowledge the stop is logged and the session still
// completes: a truncated file is the worker's problem to validate, not a
// reason to lose the other stream.
func (s *Scheduler) finalize() {
	sess := s.sess
	if sess == nil {
		s.state = stateIdle
		return
	}

	for camName, path := range sess.files {
		c, ok := s.captures[camName]
		if ok {
			if err := c.Stop(); err != nil {
				log.Printf("Camera %s stop: %v", camName, err)
			}
		}
		markers.ReleaseLock(path)
		if err := markers.MarkDone(path); err != nil {
			log.Printf("Failed to mark %s done: %v", path, err)
		}
	}

	b := sess.booking
	log.Printf("🎥 RECORD: finished booking %s after %v", b.ID, s.clock().Sub(sess.startedAt).Round(time.Second))

	if err := s.store.UpdateStatus(b.ID, bookings.StatusRecordingFinished, ""); err != nil {
		log.Printf("Failed to update booking %s status: %v", b.ID, err)
	}
	if s.status != nil {
		s.status.Queue(b.ID, bookings.StatusRecordingFinished, "")
	}

	s.sess = nil
	s.state = stateIdle
	if s.light != nil {
		s.light.SetIdle()
	}
}

// State returns a human readable scheduler state for the ops endpoint.
func (s *Scheduler) State() string {
	switch s.state {
	case stateRecording:
		return "recording"
	case stateFinalizing:
		return "finalizing"
	default:
		return "idle"
	}
}
