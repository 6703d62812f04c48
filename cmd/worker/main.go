// Command worker runs the finishing half of the appliance: merging, branding,
// upload and delivery bookkeeping for every finished recording.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"dualcam-dvr/api"
	"dualcam-dvr/bookings"
	"dualcam-dvr/config"
	"dualcam-dvr/cron"
	"dualcam-dvr/database"
	"dualcam-dvr/merge"
	"dualcam-dvr/monitoring"
	"dualcam-dvr/offline"
	"dualcam-dvr/overlay"
	"dualcam-dvr/remote"
	"dualcam-dvr/storage"
	"dualcam-dvr/worker"
)

// ledgerAdapter bridges the worker's delivery records to the database.
type ledgerAdapter struct{ db database.Database }

func (a ledgerAdapter) RecordDeliveredVideo(v worker.LedgerEntry) error {
	return a.db.RecordDeliveredVideo(database.DeliveredVideo{
		ID:          v.ID,
		BookingID:   v.BookingID,
		UserID:      v.UserID,
		CameraID:    v.CameraID,
		LocalPath:   v.LocalPath,
		RemoteURL:   v.RemoteURL,
		S3Key:       v.S3Key,
		SizeBytes:   v.SizeBytes,
		DurationSec: v.DurationSec,
		UploadedAt:  v.UploadedAt,
	})
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	config.EnsurePaths(cfg)

	pidPath := cfg.PidFilePath
	if pidPath == "" {
		pidPath = filepath.Join(cfg.StoragePath, "worker.pid")
	}
	cleanup, err := config.WritePIDFile(pidPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer cleanup()

	db, err := database.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var client remote.Client
	if cfg.RemoteBaseURL != "" {
		client = remote.NewHTTPClient(cfg.RemoteBaseURL, cfg.RemoteAPIToken)
	}
	statusSync := remote.NewStatusSync(db, client)

	var uploader worker.Uploader
	if cfg.S3Enabled {
		s3, err := storage.NewS3Storage(storage.S3Config{
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			BaseURL:   cfg.S3BaseURL,
		})
		if err != nil {
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
		uploader = s3
	} else {
		log.Fatalf("S3 delivery is disabled; the worker has nowhere to deliver")
	}

	store := bookings.NewStore(cfg.BookingCachePath)
	queue := offline.NewQueue(cfg.PendingQueuePath)
	conn := offline.NewConnectivityChecker()
	disks := storage.NewDiskManager(cfg.RecordingsDir(), cfg.ProcessedDir(), cfg.LogsDir(), cfg.DiskThresholdPercent, cfg.RetentionDays)

	engine := merge.NewEngine(merge.Options{
		Method:          cfg.MergeMethod,
		FeatherWidth:    cfg.FeatherWidth,
		EdgeTrim:        cfg.EdgeTrim,
		MaxRetries:      cfg.MergeMaxRetries,
		Timeout:         cfg.MergeTimeout,
		UseHomography:   cfg.UseHomography,
		StitcherBinary:  cfg.StitcherBinary,
		CalibrationPath: cfg.CalibrationPath,
	})

	composer := overlay.NewFFmpegComposer(cfg.ProcessedDir(), cfg.OverlayTimeout)
	assets := overlay.NewMediaCache(cfg.MediaCachePath, cfg.StaticLogoPath, cfg.IntroVideoPath, client)

	w := worker.New(cfg, worker.Deps{
		Store:    store,
		Queue:    queue,
		Merger:   engine,
		Composer: composer,
		Assets:   assets,
		Uploader: uploader,
		Conn:     conn,
		Status:   statusSync,
		Remote:   client,
		Ledger:   ledgerAdapter{db},
		Thumbs:   composer,
		Cleanup:  disks.CleanupIfNeeded,
	})

	maintenance := cron.NewMaintenance(disks)
	if err := maintenance.Start(); err != nil {
		log.Fatalf("Failed to schedule maintenance: %v", err)
	}
	defer maintenance.Stop()

	monitor := monitoring.NewMonitor(5*time.Minute, cfg.StoragePath)
	server := api.NewServer(nil, w, conn, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.Run(ctx)
		return nil
	})
	g.Go(func() error {
		statusSync.Run(ctx, 30*time.Second)
		return nil
	})
	g.Go(func() error {
		monitor.Run(ctx)
		return nil
	})
	g.Go(func() error {
		// The ops server has no graceful shutdown hook; it dies with the
		// process.
		if err := server.Run(cfg.WorkerStatusServerPort); err != nil {
			log.Printf("Ops server: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("Worker exiting with error: %v", err)
		os.Exit(1)
	}
	log.Printf("Worker stopped")
}
