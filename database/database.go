package database

import "time"

// DeliveredVideo is one row in the local ledger of videos this appliance has
// uploaded. It mirrors what was reported to the remote backend so deliveries
// survive a reinstall of the booking cache.
type DeliveredVideo struct {
	ID          string    `json:"id"`
	BookingID   string    `json:"booking_id"`
	UserID      string    `json:"user_id"`
	CameraID    string    `json:"camera_id"`
	LocalPath   string    `json:"local_path"`
	RemoteURL   string    `json:"remote_url"`
	S3Key       string    `json:"s3_key"`
	SizeBytes   int64     `json:"size_bytes"`
	DurationSec float64   `json:"duration_seconds"`
	UploadedAt  time.Time `json:"uploaded_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// StatusUpdate is a queued remote status notification. Updates that cannot be
// delivered are kept here and retried in the background.
type StatusUpdate struct {
	ID           int64     `json:"id"`
	BookingID    string    `json:"booking_id"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempts     int       `json:"attempts"`
	LastAttempt  time.Time `json:"last_attempt"`
	CreatedAt    time.Time `json:"created_at"`
}

// Database defines operations for the local persistence layer.
type Database interface {
	// Delivered video ledger
	RecordDeliveredVideo(v DeliveredVideo) error
	GetDeliveredVideo(bookingID string) (*DeliveredVideo, error)
	ListDeliveredVideos(limit int) ([]DeliveredVideo, error)

	// Status update queue
	EnqueueStatusUpdate(bookingID, status, errMsg string) error
	PendingStatusUpdates(limit int) ([]StatusUpdate, error)
	MarkStatusAttempt(id int64) error
	DeleteStatusUpdate(id int64) error

	Close() error
}
