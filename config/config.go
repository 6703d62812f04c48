package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CameraDevice describes one physical capture device attached to the appliance.
type CameraDevice struct {
	Name      string `json:"name"`       // suffix used in filenames (cam1, cam2)
	Device    string `json:"device"`     // device node, e.g. /dev/video0
	Width     int    `json:"width"`      // capture width
	Height    int    `json:"height"`     // capture height
	FrameRate int    `json:"frame_rate"` // capture frame rate
	Enabled   bool   `json:"enabled"`
}

// Config contains all configuration for the scheduler and worker processes.
type Config struct {
	// Identity: which bookings this appliance records.
	UserID   string
	CameraID string

	// Paths
	StoragePath      string // root for recordings/, processed/, logs/
	BookingCachePath string
	PendingQueuePath string
	MediaCachePath   string
	DatabasePath     string
	PidFilePath      string

	// Capture
	Cameras             []CameraDevice
	CheckInterval       time.Duration
	MinRecordingSeconds int
	StopAckTimeout      time.Duration

	// Merge
	MergeMethod        string
	FeatherWidth       int
	EdgeTrim           int
	MergeMaxRetries    int
	MergeTimeout       time.Duration
	UseHomography      bool
	StitcherBinary     string
	CalibrationPath    string

	// Overlay / branding
	StaticLogoPath string
	IntroVideoPath string
	OverlayTimeout time.Duration

	// Worker
	WorkerInterval    time.Duration
	UploadConcurrency int
	MaxProcessingTime time.Duration

	// Disk management
	DiskThresholdPercent float64
	RetentionDays        int

	// Object storage (S3-compatible)
	S3Enabled   bool
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3BaseURL   string

	// Remote backend
	RemoteBaseURL  string
	RemoteAPIToken string

	// Ops. The scheduler and worker are separate processes, so each gets
	// its own status port.
	StatusServerPort       string
	WorkerStatusServerPort string
	SerialPort             string
	SerialBaud             int
}

// Load builds a Config from environment variables with sane appliance defaults.
func Load() Config {
	cfg := Config{
		UserID:   getEnv("USER_ID", ""),
		CameraID: getEnv("CAMERA_ID", ""),

		StoragePath:      getEnv("STORAGE_PATH", "./videos"),
		DatabasePath:     getEnv("DATABASE_PATH", "./data/pipeline.db"),
		PidFilePath:      getEnv("PID_FILE", ""),

		CheckInterval:       getEnvDuration("CHECK_INTERVAL", 3*time.Second),
		MinRecordingSeconds: getEnvInt("MIN_RECORDING_SECONDS", 10),
		StopAckTimeout:      getEnvDuration("STOP_ACK_TIMEOUT", 10*time.Second),

		MergeMethod:     getEnv("MERGE_METHOD", "side_by_side"),
		FeatherWidth:    getEnvInt("FEATHER_WIDTH", 100),
		EdgeTrim:        getEnvInt("EDGE_TRIM", 0),
		MergeMaxRetries: getEnvInt("MERGE_MAX_RETRIES", 3),
		MergeTimeout:    getEnvDuration("MERGE_TIMEOUT", 30*time.Minute),
		UseHomography:   getEnvBool("USE_HOMOGRAPHY_STITCHING", false),
		StitcherBinary:  getEnv("STITCHER_BINARY", ""),
		CalibrationPath: getEnv("STITCH_CALIBRATION_PATH", ""),

		StaticLogoPath: getEnv("STATIC_LOGO_PATH", "./assets/logo.png"),
		IntroVideoPath: getEnv("INTRO_VIDEO_PATH", ""),
		OverlayTimeout: getEnvDuration("OVERLAY_TIMEOUT", 30*time.Minute),

		WorkerInterval:    getEnvDuration("WORKER_INTERVAL", 15*time.Second),
		UploadConcurrency: getEnvInt("UPLOAD_CONCURRENCY", 2),
		MaxProcessingTime: getEnvDuration("MAX_PROCESSING_TIME", 45*time.Minute),

		DiskThresholdPercent: getEnvFloat("DISK_THRESHOLD_PERCENT", 80),
		RetentionDays:        getEnvInt("RETENTION_DAYS", 14),

		S3Enabled:   getEnvBool("S3_ENABLED", true),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Region:    getEnv("S3_REGION", "auto"),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3BaseURL:   getEnv("S3_BASE_URL", ""),

		RemoteBaseURL:  getEnv("REMOTE_API_URL", ""),
		RemoteAPIToken: getEnv("REMOTE_API_TOKEN", ""),

		StatusServerPort:       getEnv("STATUS_PORT", "3000"),
		WorkerStatusServerPort: getEnv("WORKER_STATUS_PORT", "3001"),
		SerialPort:             getEnv("SERIAL_PORT", ""),
		SerialBaud:             getEnvInt("SERIAL_BAUD", 9600),
	}

	cfg.BookingCachePath = getEnv("BOOKING_CACHE_PATH", filepath.Join(cfg.StoragePath, "bookings.json"))
	cfg.PendingQueuePath = getEnv("PENDING_QUEUE_PATH", filepath.Join(cfg.StoragePath, "pending_uploads.json"))
	cfg.MediaCachePath = getEnv("MEDIA_CACHE_PATH", filepath.Join(cfg.StoragePath, "media_cache"))

	cfg.Cameras = loadCameras()

	log.Printf("Loaded configuration: identity %s/%s, %d camera(s), storage %s",
		cfg.UserID, cfg.CameraID, len(cfg.Cameras), cfg.StoragePath)
	return cfg
}

// loadCameras parses CAMERA_DEVICES ("cam1=/dev/video0,cam2=/dev/video2") or
// falls back to a single default camera.
func loadCameras() []CameraDevice {
	spec := getEnv("CAMERA_DEVICES", "")
	if spec == "" {
		return []CameraDevice{{
			Name: "cam1", Device: "/dev/video0",
			Width: 1920, Height: 1080, FrameRate: 30, Enabled: true,
		}}
	}

	width := getEnvInt("CAMERA_WIDTH", 1920)
	height := getEnvInt("CAMERA_HEIGHT", 1080)
	fps := getEnvInt("CAMERA_FRAMERATE", 30)

	var cams []CameraDevice
	for _, part := range strings.Split(spec, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			log.Printf("Warning: skipping malformed CAMERA_DEVICES entry %q", part)
			continue
		}
		cams = append(cams, CameraDevice{
			Name: kv[0], Device: kv[1],
			Width: width, Height: height, FrameRate: fps, Enabled: true,
		})
	}
	return cams
}

// RecordingsDir returns the root of the date-partitioned recordings tree.
func (c Config) RecordingsDir() string { return filepath.Join(c.StoragePath, "recordings") }

// ProcessedDir returns the directory finished (merged/branded) files land in.
func (c Config) ProcessedDir() string { return filepath.Join(c.StoragePath, "processed") }

// LogsDir returns the directory capture/transcode logs are written to.
func (c Config) LogsDir() string { return filepath.Join(c.StoragePath, "logs") }

// DualCamera reports whether this appliance records a stereo pair.
func (c Config) DualCamera() bool {
	n := 0
	for _, cam := range c.Cameras {
		if cam.Enabled {
			n++
		}
	}
	return n >= 2
}

// Validate checks the configuration a process cannot start without.
func (c Config) Validate() error {
	if c.UserID == "" || c.CameraID == "" {
		return fmt.Errorf("USER_ID and CAMERA_ID must be set")
	}
	if c.S3Enabled && (c.S3AccessKey == "" || c.S3SecretKey == "" || c.S3Bucket == "") {
		return fmt.Errorf("S3 is enabled but S3_ACCESS_KEY, S3_SECRET_KEY or S3_BUCKET is missing")
	}
	return nil
}

// EnsurePaths creates the directories the pipeline writes to.
func EnsurePaths(cfg Config) {
	dirs := []string{
		cfg.RecordingsDir(),
		cfg.ProcessedDir(),
		cfg.LogsDir(),
		cfg.MediaCachePath,
		filepath.Dir(cfg.DatabasePath),
		filepath.Dir(cfg.BookingCachePath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("Failed to create directory %s: %v", dir, err)
		}
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("Warning: invalid integer for %s: %q, using %d", key, value, fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("Warning: invalid number for %s: %q, using %g", key, value, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
		log.Printf("Warning: invalid duration for %s: %q, using %v", key, value, fallback)
	}
	return fallback
}
