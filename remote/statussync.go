package remote

import (
	"context"
	"log"
	"time"

	"dualcam-dvr/database"
)

// Status updates wait this long (minutes, per attempt) before being retried.
var statusRetryBackoff = []int{1, 2, 5, 15, 30, 60}

const maxStatusAttempts = 10

// StatusSync mirrors booking status changes to the remote backend. Every
// change is queued locally first; delivery is best effort and never blocks
// the recording or delivery pipeline.
type StatusSync struct {
	db     database.Database
	client Client
}

func NewStatusSync(db database.Database, client Client) *StatusSync {
	return &StatusSync{db: db, client: client}
}

// Queue records a status change for delivery. Errors are logged, not
// returned: failing to mirror a status must never fail the pipeline step
// that produced it.
func (s *StatusSync) Queue(bookingID, status, errMsg string) {
	if s == nil || s.db == nil {
		return
	}
	if err := s.db.EnqueueStatusUpdate(bookingID, status, errMsg); err != nil {
		log.Printf("🔄 STATUS: failed to queue update %s -> %s: %v", bookingID, status, err)
	}
}

// Run flushes the queue until ctx is cancelled.
func (s *StatusSync) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}

// Flush attempts delivery of every due queued update. It returns the number
// of updates delivered.
func (s *StatusSync) Flush() int {
	if s.client == nil {
		return 0
	}
	pending, err := s.db.PendingStatusUpdates(50)
	if err != nil {
		log.Printf("🔄 STATUS: failed to read queue: %v", err)
		return 0
	}

	delivered := 0
	now := time.Now()
	for _, u := range pending {
		if !attemptDue(u, now) {
			continue
		}
		if u.Attempts >= maxStatusAttempts {
			log.Printf("🔄 STATUS: dropping update %s -> %s after %d attempts", u.BookingID, u.Status, u.Attempts)
			s.db.DeleteStatusUpdate(u.ID)
			continue
		}
		if err := s.client.UpdateBookingStatus(u.BookingID, u.Status, u.ErrorMessage); err != nil {
			log.Printf("🔄 STATUS: update %s -> %s failed (attempt %d): %v", u.BookingID, u.Status, u.Attempts+1, err)
			s.db.MarkStatusAttempt(u.ID)
			continue
		}
		s.db.DeleteStatusUpdate(u.ID)
		delivered++
	}
	if delivered > 0 {
		log.Printf("🔄 STATUS: delivered %d queued update(s)", delivered)
	}
	return delivered
}

// attemptDue applies the retry backoff table to a queued update.
func attemptDue(u database.StatusUpdate, now time.Time) bool {
	if u.Attempts == 0 || u.LastAttempt.IsZero() {
		return true
	}
	idx := u.Attempts - 1
	if idx >= len(statusRetryBackoff) {
		idx = len(statusRetryBackoff) - 1
	}
	wait := time.Duration(statusRetryBackoff[idx]) * time.Minute
	return now.Sub(u.LastAttempt) >= wait
}
