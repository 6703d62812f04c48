// Command scheduler runs the recording half of the appliance: it watches the
// booking cache and drives the cameras for each booked window.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"dualcam-dvr/api"
	"dualcam-dvr/bookings"
	"dualcam-dvr/config"
	"dualcam-dvr/database"
	"dualcam-dvr/monitoring"
	"dualcam-dvr/recording"
	"dualcam-dvr/remote"
	"dualcam-dvr/signaling"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	config.EnsurePaths(cfg)

	cleanup, err := config.WritePIDFile(cfg.PidFilePath)
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

	store := bookings.NewStore(cfg.BookingCachePath)

	detected := recording.DetectDevices()
	log.Printf("🎥 RECORD: detected video devices: %v", detected)

	captures := make(map[string]recording.Capture)
	for _, cam := range cfg.Cameras {
		if !cam.Enabled {
			continue
		}
		found := false
		for _, d := range detected {
			if d == cam.Device {
				found = true
			}
		}
		if !found {
			log.Printf("🎥 RECORD: configured device %s for %s not present, captures will retry", cam.Device, cam.Name)
		}
		captures[cam.Name] = recording.NewFFmpegCapture(cam, cfg.LogsDir(), cfg.StopAckTimeout)
	}

	light := signaling.Open(cfg.SerialPort, cfg.SerialBaud)
	defer light.Close()
	light.SetIdle()

	scheduler := recording.NewScheduler(cfg, store, captures, statusSync, light)
	monitor := monitoring.NewMonitor(5*time.Minute, cfg.StoragePath)
	server := api.NewServer(scheduler, nil, nil, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheduler.Run(ctx)
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
		if err := server.Run(cfg.StatusServerPort); err != nil {
			log.Printf("Ops server: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("Scheduler exiting with error: %v", err)
		os.Exit(1)
	}
	log.Printf("Scheduler stopped")
}
