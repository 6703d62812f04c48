package storage

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskManager keeps the recording volume below a usage threshold by evicting
// the oldest delivered date directories first. Only files whose work is done
// (a .completed marker or a retention-expired date) are candidates; pending
// work is never evicted to make room. Retention cleanup also covers the
// processed and log trees, which otherwise only shrink when deliveries
// confirm.
type DiskManager struct {
	root             string  // recordings root, date-partitioned
	processedDir     string  // finished files, date-partitioned; optional
	logsDir          string  // capture/transcode logs; optional
	thresholdPercent float64 // start cleaning at this usage
	retentionDays    int     // delivered files older than this always go
}

func NewDiskManager(root, processedDir, logsDir string, thresholdPercent float64, retentionDays int) *DiskManager {
	if thresholdPercent <= 0 {
		thresholdPercent = 80
	}
	if retentionDays <= 0 {
		retentionDays = 14
	}
	return &DiskManager{
		root:             root,
		processedDir:     processedDir,
		logsDir:          logsDir,
		thresholdPercent: thresholdPercent,
		retentionDays:    retentionDays,
	}
}

// UsagePercent reports the fill level of the volume holding the recordings.
func (d *DiskManager) UsagePercent() (float64, error) {
	usage, err := disk.Usage(d.root)
	if err != nil {
		return 0, fmt.Errorf("failed to stat disk for %s: %v", d.root, err)
	}
	return usage.UsedPercent, nil
}

// CleanupIfNeeded frees space when the volume crosses the threshold, oldest
// completed work first. It returns the number of files removed.
func (d *DiskManager) CleanupIfNeeded() int {
	pct, err := d.UsagePercent()
	if err != nil {
		log.Printf("🧹 DISK: %v", err)
		return 0
	}
	if pct < d.thresholdPercent {
		return 0
	}
	log.Printf("🧹 DISK: usage %.1f%% over threshold %.1f%%, cleaning", pct, d.thresholdPercent)
	enough := func() bool {
		p, err := d.UsagePercent()
		return err == nil && p < d.thresholdPercent
	}
	removed := d.evict(enough)
	if !enough() {
		cutoff := time.Now().AddDate(0, 0, -d.retentionDays)
		removed += d.cleanupProcessed(cutoff)
		removed += d.cleanupLogs(cutoff)
	}
	return removed
}

// CleanupExpired removes completed files past the retention window
// regardless of disk pressure. Run nightly.
func (d *DiskManager) CleanupExpired() int {
	cutoff := time.Now().AddDate(0, 0, -d.retentionDays)
	removed := 0

	for _, dateDir := range d.dateDirsOldestFirst() {
		dirDate, err := time.Parse("2006-01-02", filepath.Base(dateDir))
		if err != nil || !dirDate.Before(cutoff) {
			continue
		}
		removed += d.evictDir(dateDir)
	}
	removed += d.cleanupProcessed(cutoff)
	removed += d.cleanupLogs(cutoff)
	if removed > 0 {
		log.Printf("🧹 DISK: retention cleanup removed %d file(s)", removed)
	}
	return removed
}

// cleanupProcessed removes finished files past the retention window. A file
// still inside the window may be a parked offline delivery and is left
// alone.
func (d *DiskManager) cleanupProcessed(cutoff time.Time) int {
	if d.processedDir == "" {
		return 0
	}
	entries, err := os.ReadDir(d.processedDir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		path := filepath.Join(d.processedDir, e.Name())
		if e.IsDir() {
			dirDate, err := time.Parse("2006-01-02", e.Name())
			if err != nil || !dirDate.Before(cutoff) {
				continue
			}
			if files, err := os.ReadDir(path); err == nil {
				removed += len(files)
			}
			os.RemoveAll(path)
			continue
		}
		if fi, err := e.Info(); err == nil && fi.ModTime().Before(cutoff) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed
}

// cleanupLogs removes log files past the retention window.
func (d *DiskManager) cleanupLogs(cutoff time.Time) int {
	if d.logsDir == "" {
		return 0
	}
	entries, err := os.ReadDir(d.logsDir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if fi, err := e.Info(); err == nil && fi.ModTime().Before(cutoff) {
			if os.Remove(filepath.Join(d.logsDir, e.Name())) == nil {
				removed++
			}
		}
	}
	return removed
}

// evict walks date directories oldest first, removing completed videos until
// enough says stop.
func (d *DiskManager) evict(enough func() bool) int {
	removed := 0
	for _, dateDir := range d.dateDirsOldestFirst() {
		removed += d.evictDir(dateDir)
		if enough() {
			break
		}
	}
	if removed > 0 {
		log.Printf("🧹 DISK: evicted %d file(s)", removed)
	}
	return removed
}

// evictDir removes every completed video in one date directory, then the
// directory itself if nothing is left.
func (d *DiskManager) evictDir(dateDir string) int {
	entries, err := os.ReadDir(dateDir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".mp4" {
			continue
		}
		video := filepath.Join(dateDir, e.Name())
		if _, err := os.Stat(video + ".completed"); err != nil {
			continue
		}
		if err := os.Remove(video); err != nil {
			log.Printf("🧹 DISK: failed to remove %s: %v", video, err)
			continue
		}
		removeMarkers(video)
		removed++
	}

	if left, err := os.ReadDir(dateDir); err == nil && len(left) == 0 {
		os.Remove(dateDir)
	}
	return removed
}

func removeMarkers(video string) {
	for _, suffix := range []string{".lock", ".done", ".completed", ".error", ".merged", ".merge_error", ".json", ".debug.txt"} {
		os.Remove(video + suffix)
	}
}

// dateDirsOldestFirst lists the YYYY-MM-DD directories under the root,
// oldest first. Lexical order is chronological for this layout.
func (d *DiskManager) dateDirsOldestFirst() []string {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse("2006-01-02", e.Name()); err != nil {
			continue
		}
		dirs = append(dirs, filepath.Join(d.root, e.Name()))
	}
	sort.Strings(dirs)
	return dirs
}
