package database

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDeliveredVideoLedger(t *testing.T) {
	db := testDB(t)

	v := DeliveredVideo{
		ID:          "v1",
		BookingID:   "b1",
		UserID:      "u1",
		CameraID:    "c1",
		LocalPath:   "/videos/processed/2026-08-28/100000-110000.mp4",
		RemoteURL:   "https://cdn.example.com/u1/2026-08-28/100000-110000.mp4",
		S3Key:       "u1/2026-08-28/100000-110000.mp4",
		SizeBytes:   1 << 20,
		DurationSec: 3600,
		UploadedAt:  time.Now(),
	}
	if err := db.RecordDeliveredVideo(v); err != nil {
		t.Fatalf("RecordDeliveredVideo: %v", err)
	}

	got, err := db.GetDeliveredVideo("b1")
	if err != nil {
		t.Fatalf("GetDeliveredVideo: %v", err)
	}
	if got == nil || got.S3Key != v.S3Key || got.SizeBytes != v.SizeBytes {
		t.Fatalf("unexpected video: %+v", got)
	}

	if got, _ := db.GetDeliveredVideo("missing"); got != nil {
		t.Errorf("expected nil for unknown booking, got %+v", got)
	}

	list, err := db.ListDeliveredVideos(10)
	if err != nil {
		t.Fatalf("ListDeliveredVideos: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 row, got %d", len(list))
	}
}

func TestStatusUpdateQueue(t *testing.T) {
	db := testDB(t)

	if err := db.EnqueueStatusUpdate("b1", "processing", ""); err != nil {
		t.Fatalf("EnqueueStatusUpdate: %v", err)
	}
	if err := db.EnqueueStatusUpdate("b1", "failed", "merge failed"); err != nil {
		t.Fatalf("EnqueueStatusUpdate: %v", err)
	}

	pending, err := db.PendingStatusUpdates(10)
	if err != nil {
		t.Fatalf("PendingStatusUpdates: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending updates, got %d", len(pending))
	}
	// Oldest first.
	if pending[0].Status != "processing" || pending[1].Status != "failed" {
		t.Errorf("unexpected order: %+v", pending)
	}
	if pending[1].ErrorMessage != "merge failed" {
		t.Errorf("error message not persisted: %+v", pending[1])
	}

	if err := db.MarkStatusAttempt(pending[0].ID); err != nil {
		t.Fatalf("MarkStatusAttempt: %v", err)
	}
	again, _ := db.PendingStatusUpdates(10)
	if again[0].Attempts != 1 {
		t.Errorf("expected attempts=1, got %d", again[0].Attempts)
	}

	if err := db.DeleteStatusUpdate(pending[0].ID); err != nil {
		t.Fatalf("DeleteStatusUpdate: %v", err)
	}
	left, _ := db.PendingStatusUpdates(10)
	if len(left) != 1 || left[0].Status != "failed" {
		t.Errorf("unexpected queue after delete: %+v", left)
	}
}
