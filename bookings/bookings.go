package bookings

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// Booking status values as they move through the pipeline.
const (
	StatusScheduled         = "scheduled"
	StatusRecording         = "recording"
	StatusRecordingFinished = "recordingfinished"
	StatusProcessing        = "processing"
	StatusUploading         = "uploading"
	StatusUploaded          = "uploaded"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
)

// Booking is one scheduled recording window for this appliance.
type Booking struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CameraID     string    `json:"camera_id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RetryCount   int       `json:"retry_count,omitempty"`
}

// envelope is the wrapped cache shape written by newer sync agents. The store
// also accepts a bare JSON array for backwards compatibility.
type envelope struct {
	Bookings    []Booking `json:"bookings"`
	LastUpdated time.Time `json:"last_updated"`
	UserID      string    `json:"user_id,omitempty"`
	CameraID    string    `json:"camera_id,omitempty"`
}

// Store is the local booking cache. All mutations go through the store and
// every save rewrites the whole file atomically, so a crash never leaves a
// partially written cache on disk.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the booking cache. A missing file is an empty cache, not an
// error. Both the bare-array and the enveloped file shapes are accepted.
func (s *Store) Load() ([]Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() ([]Booking, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read booking cache: %v", err)
	}

	var list []Booking
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("booking cache %s is not valid JSON: %v", s.path, err)
	}
	return env.Bookings, nil
}

// Save replaces the cache with the given bookings via a temp file and rename.
func (s *Store) Save(list []Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(list)
}

func (s *Store) save(list []Booking) error {
	env := envelope{Bookings: list, LastUpdated: time.Now()}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal booking cache: %v", err)
	}
	if err := renameio.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write booking cache: %v", err)
	}
	return nil
}

// FindActive returns the first booking whose window contains now and whose
// identity matches this appliance. Bookings already past recording (anything
// beyond recordingfinished) are never returned. When windows overlap, the
// first match in file order wins.
func (s *Store) FindActive(now time.Time, userID, cameraID string) (Booking, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return Booking{}, false, err
	}
	for _, b := range list {
		if b.UserID != userID || b.CameraID != cameraID {
			continue
		}
		switch b.Status {
		case "", StatusScheduled, StatusRecording:
		default:
			continue
		}
		if !now.Before(b.StartTime) && now.Before(b.EndTime) {
			return b, true, nil
		}
	}
	return Booking{}, false, nil
}

// UpdateStatus sets the status (and optional error message) of one booking
// and rewrites the cache.
func (s *Store) UpdateStatus(id, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return err
	}
	found := false
	for i := range list {
		if list[i].ID == id {
			list[i].Status = status
			list[i].ErrorMessage = errMsg
			if status == StatusFailed {
				list[i].RetryCount++
			}
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("booking %s not found in cache", id)
	}
	return s.save(list)
}

// Remove deletes a booking from the cache once its video has been delivered.
// Removing an unknown ID is a no-op.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return err
	}
	out := list[:0]
	for _, b := range list {
		if b.ID != id {
			out = append(out, b)
		}
	}
	if len(out) == len(list) {
		return nil
	}
	return s.save(out)
}

// Get returns one booking by ID.
func (s *Store) Get(id string) (Booking, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return Booking{}, false, err
	}
	for _, b := range list {
		if b.ID == id {
			return b, true, nil
		}
	}
	return Booking{}, false, nil
}
