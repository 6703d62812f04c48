// Package cron schedules the recurring maintenance jobs that do not belong
// in the worker's hot loop.
package cron

import (
	"log"

	robfig "github.com/robfig/cron/v3"

	"dualcam-dvr/storage"
)

// Maintenance owns the cron scheduler for background jobs: the nightly
// retention sweep and a coarse disk-pressure check as a backstop to the
// worker's per-pass check.
type Maintenance struct {
	cron  *robfig.Cron
	disks *storage.DiskManager
}

func NewMaintenance(disks *storage.DiskManager) *Maintenance {
	return &Maintenance{cron: robfig.New(), disks: disks}
}

// Start registers and launches the jobs.
func (m *Maintenance) Start() error {
	// Nightly retention sweep at 02:00 local time, when no bookings run.
	if _, err := m.cron.AddFunc("0 2 * * *", func() {
		log.Printf("🧹 DISK: nightly retention sweep")
		m.disks.CleanupExpired()
	}); err != nil {
		return err
	}

	if _, err := m.cron.AddFunc("@every 30m", func() {
		m.disks.CleanupIfNeeded()
	}); err != nil {
		return err
	}

	m.cron.Start()
	log.Printf("Maintenance jobs scheduled")
	return nil
}

// Stop halts the scheduler, waiting for running jobs.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}
