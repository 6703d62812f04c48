// Package markers implements the on-disk marker-file protocol that carries
// pipeline state across crashes. Every recording file <video>.mp4 owns a set
// of sibling marker files; the markers, not process memory, are the source of
// truth for what work remains after a restart.
package markers

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
)

// Marker suffixes appended to the full video path.
const (
	SuffixLock       = ".lock"        // a worker is processing this file
	SuffixDone       = ".done"        // recording finished, ready for processing
	SuffixCompleted  = ".completed"   // fully processed, never touch again
	SuffixError      = ".error"       // processing failed permanently
	SuffixMerged     = ".merged"      // this file is a merge output
	SuffixMergeError = ".merge_error" // merge failed, raw files kept
	SuffixSidecar    = ".json"        // recording metadata sidecar
)

// State is the processing state derived from a video's marker files.
type State int

const (
	StatePending   State = iota // no markers: still being recorded
	StateDone                   // ready for processing
	StateLocked                 // being processed right now
	StateCompleted              // delivered, nothing to do
	StateError                  // failed permanently
)

func (s State) String() string {
	switch s {
	case StateDone:
		return "done"
	case StateLocked:
		return "locked"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "pending"
	}
}

// LockInfo is the JSON body of a lock file. It identifies the owner so stale
// locks left behind by a crashed worker can be reclaimed.
type LockInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Sidecar is the metadata file written next to each recording, tying the
// file back to its booking.
type Sidecar struct {
	BookingID string    `json:"booking_id"`
	UserID    string    `json:"user_id"`
	CameraID  string    `json:"camera_id"`
	Camera    string    `json:"camera,omitempty"` // cam1/cam2 for dual recordings
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Of returns the state of a video path. Precedence: error beats completed
// beats locked beats done.
func Of(videoPath string) State {
	switch {
	case exists(videoPath + SuffixError):
		return StateError
	case exists(videoPath + SuffixCompleted):
		return StateCompleted
	case exists(videoPath + SuffixLock):
		return StateLocked
	case exists(videoPath + SuffixDone):
		return StateDone
	default:
		return StatePending
	}
}

// AcquireLock creates <video>.lock exclusively. It fails if the lock already
// exists, which is how two workers agree on ownership.
func AcquireLock(videoPath string) error {
	f, err := os.OpenFile(videoPath+SuffixLock, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to acquire lock for %s: %v", videoPath, err)
	}
	info := LockInfo{PID: os.Getpid(), StartedAt: time.Now()}
	enc := json.NewEncoder(f)
	if err := enc.Encode(info); err != nil {
		f.Close()
		os.Remove(videoPath + SuffixLock)
		return fmt.Errorf("failed to write lock for %s: %v", videoPath, err)
	}
	return f.Close()
}

// ReleaseLock removes the lock file. Releasing an absent lock is a no-op.
func ReleaseLock(videoPath string) {
	os.Remove(videoPath + SuffixLock)
}

// ReadLock parses the lock file of a video.
func ReadLock(videoPath string) (LockInfo, error) {
	var info LockInfo
	data, err := os.ReadFile(videoPath + SuffixLock)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("lock file for %s is corrupt: %v", videoPath, err)
	}
	return info, nil
}

// IsStale reports whether a lock is old enough and its owner dead, meaning
// the worker holding it crashed mid-processing. maxProcessing is the longest
// a healthy worker may hold a lock; a lock older than twice that with a dead
// owner is stale.
func IsStale(info LockInfo, maxProcessing time.Duration, now time.Time) bool {
	if now.Sub(info.StartedAt) < 2*maxProcessing {
		return false
	}
	return !processAlive(info.PID)
}

// ReclaimStaleLock removes the lock of a video if ReadLock reports a stale
// owner. It returns true if the lock was reclaimed. A corrupt lock file is
// treated as stale once past the age threshold.
func ReclaimStaleLock(videoPath string, maxProcessing time.Duration, now time.Time) bool {
	info, err := ReadLock(videoPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false
		}
		// Corrupt lock: fall back to file age.
		fi, statErr := os.Stat(videoPath + SuffixLock)
		if statErr != nil || now.Sub(fi.ModTime()) < 2*maxProcessing {
			return false
		}
		ReleaseLock(videoPath)
		return true
	}
	if !IsStale(info, maxProcessing, now) {
		return false
	}
	ReleaseLock(videoPath)
	return true
}

// processAlive probes a pid with signal 0. The current process is always
// alive, which keeps a restarted worker that reuses a pid from reclaiming
// its own fresh lock.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if pid == os.Getpid() {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func markerWrite(path string, body []byte) error {
	return renameio.WriteFile(path, body, 0644)
}

// MarkDone flags a recording as finished and ready for the worker.
func MarkDone(videoPath string) error {
	return markerWrite(videoPath+SuffixDone, []byte(time.Now().Format(time.RFC3339)+"\n"))
}

// MarkCompleted flags a video as fully processed. The .done marker is
// removed so a terminal file carries exactly one state marker; the terminal
// marker lands first, so a crash in between still reads as completed.
func MarkCompleted(videoPath string) error {
	if err := markerWrite(videoPath+SuffixCompleted, []byte(time.Now().Format(time.RFC3339)+"\n")); err != nil {
		return err
	}
	os.Remove(videoPath + SuffixDone)
	return nil
}

// MarkError flags a video as permanently failed, recording the reason. Like
// MarkCompleted it retires the .done marker.
func MarkError(videoPath string, reason string) error {
	if err := markerWrite(videoPath+SuffixError, []byte(reason+"\n")); err != nil {
		return err
	}
	os.Remove(videoPath + SuffixDone)
	return nil
}

// MarkMerged flags a file as the output of a dual-camera merge.
func MarkMerged(videoPath string) error {
	return markerWrite(videoPath+SuffixMerged, []byte(time.Now().Format(time.RFC3339)+"\n"))
}

// MarkMergeError flags a pair whose merge failed after all retries.
func MarkMergeError(videoPath string, reason string) error {
	return markerWrite(videoPath+SuffixMergeError, []byte(reason+"\n"))
}

// IsMerged reports whether a file carries the merge-output marker.
func IsMerged(videoPath string) bool {
	return exists(videoPath + SuffixMerged)
}

// WriteSidecar writes the metadata sidecar for a recording.
func WriteSidecar(videoPath string, sc Sidecar) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar for %s: %v", videoPath, err)
	}
	return markerWrite(videoPath+SuffixSidecar, data)
}

// ReadSidecar loads the metadata sidecar of a recording.
func ReadSidecar(videoPath string) (Sidecar, error) {
	var sc Sidecar
	data, err := os.ReadFile(videoPath + SuffixSidecar)
	if err != nil {
		return sc, err
	}
	if err := json.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("sidecar for %s is corrupt: %v", videoPath, err)
	}
	return sc, nil
}

// RemoveAll deletes every marker belonging to a video. Used after delivery
// when the raw files themselves are evicted.
func RemoveAll(videoPath string) {
	for _, suffix := range []string{
		SuffixLock, SuffixDone, SuffixCompleted, SuffixError,
		SuffixMerged, SuffixMergeError, SuffixSidecar,
	} {
		os.Remove(videoPath + suffix)
	}
}
