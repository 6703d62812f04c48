package markers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "100000-110000_cam1.mp4")
	if err := os.WriteFile(path, []byte("fake video"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStatePrecedence(t *testing.T) {
	video := testVideo(t)

	if got := Of(video); got != StatePending {
		t.Errorf("fresh file: got %v, want pending", got)
	}

	if err := MarkDone(video); err != nil {
		t.Fatal(err)
	}
	if got := Of(video); got != StateDone {
		t.Errorf("after done: got %v, want done", got)
	}

	if err := AcquireLock(video); err != nil {
		t.Fatal(err)
	}
	if got := Of(video); got != StateLocked {
		t.Errorf("locked beats done: got %v", got)
	}

	if err := MarkCompleted(video); err != nil {
		t.Fatal(err)
	}
	if got := Of(video); got != StateCompleted {
		t.Errorf("completed beats locked: got %v", got)
	}

	if err := MarkError(video, "boom"); err != nil {
		t.Fatal(err)
	}
	if got := Of(video); got != StateError {
		t.Errorf("error beats everything: got %v", got)
	}
}

func TestTerminalMarkersRetireDone(t *testing.T) {
	video := testVideo(t)
	if err := MarkDone(video); err != nil {
		t.Fatal(err)
	}
	if err := MarkCompleted(video); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(video + SuffixDone); !os.IsNotExist(err) {
		t.Error(".done left behind after MarkCompleted")
	}

	video2 := testVideo(t)
	if err := MarkDone(video2); err != nil {
		t.Fatal(err)
	}
	if err := MarkError(video2, "boom"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(video2 + SuffixDone); !os.IsNotExist(err) {
		t.Error(".done left behind after MarkError")
	}
}

func TestLockExclusivity(t *testing.T) {
	video := testVideo(t)

	if err := AcquireLock(video); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := AcquireLock(video); err == nil {
		t.Fatal("second acquire should fail while lock held")
	}

	ReleaseLock(video)
	if err := AcquireLock(video); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestLockInfoContents(t *testing.T) {
	video := testVideo(t)
	before := time.Now().Add(-time.Second)

	if err := AcquireLock(video); err != nil {
		t.Fatal(err)
	}
	info, err := ReadLock(video)
	if err != nil {
		t.Fatalf("ReadLock: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("lock pid = %d, want %d", info.PID, os.Getpid())
	}
	if info.StartedAt.Before(before) || info.StartedAt.After(time.Now().Add(time.Second)) {
		t.Errorf("lock started_at out of range: %v", info.StartedAt)
	}
}

func TestIsStale(t *testing.T) {
	maxProc := 10 * time.Minute
	now := time.Now()

	// Fresh lock from a live process: never stale.
	live := LockInfo{PID: os.Getpid(), StartedAt: now.Add(-time.Minute)}
	if IsStale(live, maxProc, now) {
		t.Error("fresh lock reported stale")
	}

	// Old lock but owner still alive: not stale.
	oldLive := LockInfo{PID: os.Getpid(), StartedAt: now.Add(-time.Hour)}
	if IsStale(oldLive, maxProc, now) {
		t.Error("lock with live owner reported stale")
	}

	// Old lock with a dead owner: stale. Very large pids do not exist.
	dead := LockInfo{PID: 999999, StartedAt: now.Add(-time.Hour)}
	if !IsStale(dead, maxProc, now) {
		t.Error("old lock with dead owner not reported stale")
	}

	// Dead owner but lock still young: not stale yet.
	young := LockInfo{PID: 999999, StartedAt: now.Add(-15 * time.Minute)}
	if IsStale(young, maxProc, now) {
		t.Error("young lock reported stale")
	}
}

func TestReclaimStaleLock(t *testing.T) {
	video := testVideo(t)
	maxProc := 10 * time.Minute

	// Write a lock owned by a dead process, started long ago.
	info := LockInfo{PID: 999999, StartedAt: time.Now().Add(-time.Hour)}
	data, _ := json.Marshal(info)
	if err := os.WriteFile(video+SuffixLock, data, 0644); err != nil {
		t.Fatal(err)
	}

	if !ReclaimStaleLock(video, maxProc, time.Now()) {
		t.Fatal("expected stale lock to be reclaimed")
	}
	if Of(video) == StateLocked {
		t.Error("lock still present after reclaim")
	}

	// No lock: nothing to reclaim.
	if ReclaimStaleLock(video, maxProc, time.Now()) {
		t.Error("reclaim reported success with no lock present")
	}
}

func TestSidecarRoundTrip(t *testing.T) {
	video := testVideo(t)
	sc := Sidecar{
		BookingID: "b1",
		UserID:    "u1",
		CameraID:  "c1",
		Camera:    "cam1",
		StartTime: time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC),
	}
	if err := WriteSidecar(video, sc); err != nil {
		t.Fatalf("WriteSidecar: %v", err)
	}

	got, err := ReadSidecar(video)
	if err != nil {
		t.Fatalf("ReadSidecar: %v", err)
	}
	if got.BookingID != sc.BookingID || got.Camera != sc.Camera || !got.StartTime.Equal(sc.StartTime) {
		t.Fatalf("sidecar mismatch: %+v", got)
	}
}

func TestRemoveAll(t *testing.T) {
	video := testVideo(t)
	MarkDone(video)
	MarkCompleted(video)
	WriteSidecar(video, Sidecar{BookingID: "b1"})

	RemoveAll(video)
	if Of(video) != StatePending {
		t.Error("markers remain after RemoveAll")
	}
	if _, err := os.Stat(video + SuffixSidecar); !os.IsNotExist(err) {
		t.Error("sidecar remains after RemoveAll")
	}
}
