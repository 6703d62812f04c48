package offline

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"dualcam-dvr/remote"
)

// QueueEntry is one delivery waiting for connectivity. RawFiles lists the
// source recordings that may only be evicted once this entry has been
// delivered.
type QueueEntry struct {
	FinalFile  string               `json:"final_file"`
	S3Key      string               `json:"s3_key"`
	Meta       remote.VideoMetadata `json:"meta"`
	RawFiles   []string             `json:"raw_files,omitempty"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
	Attempts   int                  `json:"attempts"`
}

// Queue is the durable pending-upload queue. Every mutation rewrites the
// whole file through a temp file and rename, so the queue on disk is always
// a complete, valid JSON document.
type Queue struct {
	path string
	mu   sync.Mutex
}

func NewQueue(path string) *Queue {
	return &Queue{path: path}
}

// Load returns the queued entries. A missing file is an empty queue.
func (q *Queue) Load() ([]QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

func (q *Queue) load() ([]QueueEntry, error) {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending queue: %v", err)
	}
	var entries []QueueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("pending queue %s is corrupt: %v", q.path, err)
	}
	return entries, nil
}

func (q *Queue) save(entries []QueueEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pending queue: %v", err)
	}
	if err := renameio.WriteFile(q.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write pending queue: %v", err)
	}
	return nil
}

// Append adds one entry. An entry for the same final file replaces the old
// one instead of duplicating it.
func (q *Queue) Append(e QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load()
	if err != nil {
		return err
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	replaced := false
	for i := range entries {
		if entries[i].FinalFile == e.FinalFile {
			entries[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, e)
	}
	return q.save(entries)
}

// Replace atomically swaps the queue contents. The worker drains by loading,
// attempting each entry, and replacing the file with only what still
// remains.
func (q *Queue) Replace(entries []QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.save(entries)
}

// Len reports the queue depth.
func (q *Queue) Len() int {
	entries, err := q.Load()
	if err != nil {
		return 0
	}
	return len(entries)
}
