package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB implements the Database interface using SQLite.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database connection and initializes tables.
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	s := &SQLiteDB{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS delivered_videos (
			id TEXT PRIMARY KEY,
			booking_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			camera_id TEXT NOT NULL,
			local_path TEXT,
			remote_url TEXT,
			s3_key TEXT,
			size_bytes INTEGER DEFAULT 0,
			duration_seconds REAL DEFAULT 0,
			uploaded_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivered_booking ON delivered_videos(booking_id)`,
		`CREATE TABLE IF NOT EXISTS status_updates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			attempts INTEGER DEFAULT 0,
			last_attempt TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to initialize tables: %v", err)
		}
	}
	return nil
}

func (s *SQLiteDB) RecordDeliveredVideo(v DeliveredVideo) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO delivered_videos
		(id, booking_id, user_id, camera_id, local_path, remote_url, s3_key, size_bytes, duration_seconds, uploaded_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.BookingID, v.UserID, v.CameraID, v.LocalPath, v.RemoteURL, v.S3Key,
		v.SizeBytes, v.DurationSec, v.UploadedAt, v.CreatedAt)
	return err
}

func (s *SQLiteDB) GetDeliveredVideo(bookingID string) (*DeliveredVideo, error) {
	row := s.db.QueryRow(`
		SELECT id, booking_id, user_id, camera_id, local_path, remote_url, s3_key, size_bytes, duration_seconds, uploaded_at, created_at
		FROM delivered_videos WHERE booking_id = ? ORDER BY created_at DESC LIMIT 1`, bookingID)

	var v DeliveredVideo
	var uploadedAt, createdAt sql.NullTime
	err := row.Scan(&v.ID, &v.BookingID, &v.UserID, &v.CameraID, &v.LocalPath,
		&v.RemoteURL, &v.S3Key, &v.SizeBytes, &v.DurationSec, &uploadedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.UploadedAt = uploadedAt.Time
	v.CreatedAt = createdAt.Time
	return &v, nil
}

func (s *SQLiteDB) ListDeliveredVideos(limit int) ([]DeliveredVideo, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, booking_id, user_id, camera_id, local_path, remote_url, s3_key, size_bytes, duration_seconds, uploaded_at, created_at
		FROM delivered_videos ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveredVideo
	for rows.Next() {
		var v DeliveredVideo
		var uploadedAt, createdAt sql.NullTime
		if err := rows.Scan(&v.ID, &v.BookingID, &v.UserID, &v.CameraID, &v.LocalPath,
			&v.RemoteURL, &v.S3Key, &v.SizeBytes, &v.DurationSec, &uploadedAt, &createdAt); err != nil {
			return nil, err
		}
		v.UploadedAt = uploadedAt.Time
		v.CreatedAt = createdAt.Time
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) EnqueueStatusUpdate(bookingID, status, errMsg string) error {
	_, err := s.db.Exec(`
		INSERT INTO status_updates (booking_id, status, error_message, created_at)
		VALUES (?, ?, ?, ?)`, bookingID, status, errMsg, time.Now())
	return err
}

func (s *SQLiteDB) PendingStatusUpdates(limit int) ([]StatusUpdate, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, booking_id, status, error_message, attempts, last_attempt, created_at
		FROM status_updates ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusUpdate
	for rows.Next() {
		var u StatusUpdate
		var errMsg sql.NullString
		var lastAttempt, createdAt sql.NullTime
		if err := rows.Scan(&u.ID, &u.BookingID, &u.Status, &errMsg, &u.Attempts, &lastAttempt, &createdAt); err != nil {
			return nil, err
		}
		u.ErrorMessage = errMsg.String
		u.LastAttempt = lastAttempt.Time
		u.CreatedAt = createdAt.Time
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) MarkStatusAttempt(id int64) error {
	_, err := s.db.Exec(`
		UPDATE status_updates SET attempts = attempts + 1, last_attempt = ? WHERE id = ?`,
		time.Now(), id)
	return err
}

func (s *SQLiteDB) DeleteStatusUpdate(id int64) error {
	_, err := s.db.Exec(`DELETE FROM status_updates WHERE id = ?`, id)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
