package remote

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"dualcam-dvr/database"
)

type fakeClient struct {
	calls []string
	fail  bool
}

func (f *fakeClient) UpdateBookingStatus(bookingID, status, errMsg string) error {
	f.calls = append(f.calls, bookingID+":"+status)
	if f.fail {
		return fmt.Errorf("backend unreachable")
	}
	return nil
}

func (f *fakeClient) InsertVideoMetadata(meta VideoMetadata) error { return nil }

func (f *fakeClient) GetUserMediaURLs(userID string) (MediaURLs, error) {
	return MediaURLs{}, nil
}

func testSync(t *testing.T, client Client) (*StatusSync, database.Database) {
	t.Helper()
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStatusSync(db, client), db
}

func TestFlushDeliversAndDrains(t *testing.T) {
	fc := &fakeClient{}
	sync, db := testSync(t, fc)

	sync.Queue("b1", "processing", "")
	sync.Queue("b1", "uploaded", "")

	if n := sync.Flush(); n != 2 {
		t.Fatalf("expected 2 delivered, got %d", n)
	}
	if len(fc.calls) != 2 || fc.calls[0] != "b1:processing" || fc.calls[1] != "b1:uploaded" {
		t.Fatalf("unexpected calls: %v", fc.calls)
	}

	pending, _ := db.PendingStatusUpdates(10)
	if len(pending) != 0 {
		t.Errorf("expected empty queue after flush, got %d", len(pending))
	}
}

func TestFlushKeepsFailedUpdates(t *testing.T) {
	fc := &fakeClient{fail: true}
	sync, db := testSync(t, fc)

	sync.Queue("b1", "failed", "merge failed")

	if n := sync.Flush(); n != 0 {
		t.Fatalf("expected 0 delivered, got %d", n)
	}
	pending, _ := db.PendingStatusUpdates(10)
	if len(pending) != 1 || pending[0].Attempts != 1 {
		t.Fatalf("expected update kept with attempts=1, got %+v", pending)
	}

	// Within the backoff window the update is not retried.
	fc.calls = nil
	sync.Flush()
	if len(fc.calls) != 0 {
		t.Errorf("expected no retry inside backoff window, got %v", fc.calls)
	}
}

func TestAttemptDue(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		u    database.StatusUpdate
		want bool
	}{
		{"fresh", database.StatusUpdate{Attempts: 0}, true},
		{"one attempt recent", database.StatusUpdate{Attempts: 1, LastAttempt: now.Add(-10 * time.Second)}, false},
		{"one attempt old", database.StatusUpdate{Attempts: 1, LastAttempt: now.Add(-2 * time.Minute)}, true},
		{"many attempts old", database.StatusUpdate{Attempts: 9, LastAttempt: now.Add(-61 * time.Minute)}, true},
		{"many attempts recent", database.StatusUpdate{Attempts: 9, LastAttempt: now.Add(-30 * time.Minute)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := attemptDue(tt.u, now); got != tt.want {
				t.Errorf("attemptDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueueNilSafe(t *testing.T) {
	var s *StatusSync
	s.Queue("b1", "processing", "") // must not panic
}
