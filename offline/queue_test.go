package offline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	return NewQueue(filepath.Join(t.TempDir(), "pending_uploads.json"))
}

func TestLoadMissingFile(t *testing.T) {
	q := testQueue(t)
	entries, err := q.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty queue, got %d entries", len(entries))
	}
}

func TestAppendAndLoad(t *testing.T) {
	q := testQueue(t)

	e := QueueEntry{
		FinalFile: "/videos/processed/2026-08-28/100000-110000.mp4",
		S3Key:     "u1/2026-08-28/100000-110000.mp4",
		RawFiles:  []string{"/videos/recordings/2026-08-28/100000-110000_cam1.mp4"},
	}
	if err := q.Append(e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := q.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 1 || entries[0].S3Key != e.S3Key {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt not stamped")
	}
	if len(entries[0].RawFiles) != 1 {
		t.Error("raw files not persisted")
	}
}

func TestAppendDeduplicatesByFinalFile(t *testing.T) {
	q := testQueue(t)
	if err := q.Append(QueueEntry{FinalFile: "/a.mp4", S3Key: "k1"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Append(QueueEntry{FinalFile: "/a.mp4", S3Key: "k2", Attempts: 1}); err != nil {
		t.Fatal(err)
	}

	entries, _ := q.Load()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after duplicate append, got %d", len(entries))
	}
	if entries[0].S3Key != "k2" || entries[0].Attempts != 1 {
		t.Errorf("duplicate append did not replace: %+v", entries[0])
	}
}

func TestReplaceRewritesExactly(t *testing.T) {
	q := testQueue(t)
	for _, k := range []string{"k1", "k2", "k3"} {
		if err := q.Append(QueueEntry{FinalFile: "/" + k + ".mp4", S3Key: k}); err != nil {
			t.Fatal(err)
		}
	}

	// Simulate a drain that delivered k1 and k3.
	entries, _ := q.Load()
	var remaining []QueueEntry
	for _, e := range entries {
		if e.S3Key == "k2" {
			e.Attempts++
			remaining = append(remaining, e)
		}
	}
	if err := q.Replace(remaining); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	after, _ := q.Load()
	if len(after) != 1 || after[0].S3Key != "k2" || after[0].Attempts != 1 {
		t.Fatalf("replace lost or duplicated entries: %+v", after)
	}
}

func TestReplaceEmptyLeavesValidJSON(t *testing.T) {
	q := testQueue(t)
	q.Append(QueueEntry{FinalFile: "/a.mp4"})
	if err := q.Replace(nil); err != nil {
		t.Fatalf("Replace(nil): %v", err)
	}

	data, err := os.ReadFile(q.path)
	if err != nil {
		t.Fatal(err)
	}
	var entries []QueueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("queue file not valid JSON after empty replace: %v", err)
	}
	if q.Len() != 0 {
		t.Error("expected empty queue")
	}
}

func TestCorruptQueueSurfacesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending_uploads.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0644); err != nil {
		t.Fatal(err)
	}
	q := NewQueue(path)
	if _, err := q.Load(); err == nil {
		t.Fatal("expected error for corrupt queue file")
	}
}

func TestWireFormatFieldNames(t *testing.T) {
	q := testQueue(t)
	q.Append(QueueEntry{FinalFile: "/a.mp4", S3Key: "k", EnqueuedAt: time.Now()})

	data, _ := os.ReadFile(q.path)
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"final_file", "s3_key", "meta", "enqueued_at"} {
		if _, ok := raw[0][field]; !ok {
			t.Errorf("queue entry missing field %q", field)
		}
	}
}
