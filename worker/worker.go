// Package worker implements the finishing and delivery loop: it scans for
// finished recordings, merges dual-camera pairs, brands the result, uploads
// it and mirrors the outcome. All progress lives in marker files, so a crash
// at any point resumes cleanly on the next pass.
package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"dualcam-dvr/bookings"
	"dualcam-dvr/config"
	"dualcam-dvr/merge"
	"dualcam-dvr/offline"
	"dualcam-dvr/overlay"
	"dualcam-dvr/recording/markers"
	"dualcam-dvr/remote"
	"dualcam-dvr/storage"
)

// Merger combines a dual-camera pair into one file.
type Merger interface {
	Merge(ctx context.Context, leftPath, rightPath, outputPath string) merge.Result
}

// Uploader pushes a local file to object storage and returns its public URL.
type Uploader interface {
	UploadFile(localPath, key string) (string, error)
}

// AssetSource resolves branding assets for a user.
type AssetSource interface {
	AssetsFor(userID string) overlay.Assets
}

// Connectivity gates network operations.
type Connectivity interface {
	IsOnline() bool
}

// Thumbnailer grabs a preview frame from a finished video.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, videoPath string) (string, error)
}

// StatusSink receives booking status changes for remote mirroring.
type StatusSink interface {
	Queue(bookingID, status, errMsg string)
}

// Ledger records confirmed deliveries locally.
type Ledger interface {
	RecordDeliveredVideo(v LedgerEntry) error
}

// LedgerEntry mirrors database.DeliveredVideo without importing it here;
// cmd wiring adapts between the two.
type LedgerEntry struct {
	ID          string
	BookingID   string
	UserID      string
	CameraID    string
	LocalPath   string
	RemoteURL   string
	S3Key       string
	SizeBytes   int64
	DurationSec float64
	UploadedAt  time.Time
}

// Worker drives the finishing pipeline.
type Worker struct {
	cfg      config.Config
	store    *bookings.Store
	queue    *offline.Queue
	merger   Merger
	composer overlay.Composer
	assets   AssetSource
	uploader Uploader
	conn     Connectivity
	status   StatusSink
	remote   remote.Client
	ledger   Ledger
	thumbs   Thumbnailer
	cleanup  func() int
	clock    func() time.Time
	probe    func(ctx context.Context, path string) (merge.StreamInfo, error)

	drainSem *semaphore.Weighted

	// sidecarMisses counts passes in which a recording had no readable
	// sidecar. After maxSidecarMisses the file is parked for good.
	sidecarMisses map[string]int
}

// maxSidecarMisses bounds how many passes a recording without sidecar
// metadata stays retryable before it is parked.
const maxSidecarMisses = 5

// Deps bundles the worker's collaborators.
type Deps struct {
	Store    *bookings.Store
	Queue    *offline.Queue
	Merger   Merger
	Composer overlay.Composer
	Assets   AssetSource
	Uploader Uploader
	Conn     Connectivity
	Status   StatusSink
	Remote   remote.Client
	Ledger   Ledger
	Thumbs   Thumbnailer
	Cleanup  func() int
}

func New(cfg config.Config, deps Deps) *Worker {
	concurrency := int64(cfg.UploadConcurrency)
	if concurrency <= 0 {
		concurrency = 1
	}
	w := &Worker{
		cfg:      cfg,
		store:    deps.Store,
		queue:    deps.Queue,
		merger:   deps.Merger,
		composer: deps.Composer,
		assets:   deps.Assets,
		uploader: deps.Uploader,
		conn:     deps.Conn,
		status:   deps.Status,
		remote:   deps.Remote,
		ledger:   deps.Ledger,
		thumbs:   deps.Thumbs,
		cleanup:  deps.Cleanup,
		clock:    time.Now,
		probe:    merge.ProbeFile,
		drainSem: semaphore.NewWeighted(concurrency),

		sidecarMisses: make(map[string]int),
	}
	if w.cleanup == nil {
		w.cleanup = func() int { return 0 }
	}
	return w
}

// Run executes worker passes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.WorkerInterval)
	defer ticker.Stop()

	log.Printf("Worker started: scanning every %v", w.cfg.WorkerInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass: drain the pending queue, relieve disk
// pressure, then process every eligible recording.
func (w *Worker) RunOnce(ctx context.Context) {
	w.drainQueue(ctx)
	w.cleanup()

	for _, video := range w.scan() {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, video)
	}
}

// scan walks the date directories oldest first and returns the recordings
// ready for processing.
func (w *Worker) scan() []string {
	root := w.cfg.RecordingsDir()
	dateDirs, err := os.ReadDir(root)
	if err != nil {
		return nil
	}

	var dirs []string
	for _, e := range dateDirs {
		if e.IsDir() {
			if _, err := time.Parse("2006-01-02", e.Name()); err == nil {
				dirs = append(dirs, filepath.Join(root, e.Name()))
			}
		}
	}
	sort.Strings(dirs)

	var eligible []string
	now := w.clock()
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") {
				continue
			}
			video := filepath.Join(dir, e.Name())
			switch markers.Of(video) {
			case markers.StateDone:
				eligible = append(eligible, video)
			case markers.StateLocked:
				// A dead worker's lock is reclaimed so the file is picked
				// up on the next pass.
				if markers.ReclaimStaleLock(video, w.cfg.MaxProcessingTime, now) {
					log.Printf("📦 QUEUE: reclaimed stale lock on %s", e.Name())
				}
			}
		}
	}
	return eligible
}

// pairRole classifies a file in the dual-camera naming scheme.
func pairRole(video string) (role string, sibling string) {
	base := strings.TrimSuffix(video, ".mp4")
	switch {
	case strings.HasSuffix(base, "_cam1"):
		return "cam1", strings.TrimSuffix(base, "_cam1") + "_cam2.mp4"
	case strings.HasSuffix(base, "_cam2"):
		return "cam2", strings.TrimSuffix(base, "_cam2") + "_cam1.mp4"
	default:
		return "single", ""
	}
}

// process runs one recording through merge, branding and delivery.
func (w *Worker) process(ctx context.Context, video string) {
	// Earlier work in the same pass may have changed this file's state
	// (a merged cam2 is completed by its cam1, a failed merge errors both).
	if markers.Of(video) != markers.StateDone {
		return
	}

	role, sibling := pairRole(video)

	// cam1 drives the pair. A cam2 file only proceeds alone once its cam1
	// sibling is out of the running.
	if role == "cam2" {
		switch markers.Of(sibling) {
		case markers.StateDone, markers.StateLocked:
			return
		case markers.StatePending:
			// cam1 still finalizing. A cam1 that never existed at all
			// leaves cam2 to deliver on its own.
			if _, err := os.Stat(sibling); err == nil {
				return
			}
		}
	}

	if err := markers.AcquireLock(video); err != nil {
		return
	}
	defer markers.ReleaseLock(video)

	sc, err := markers.ReadSidecar(video)
	if err != nil {
		w.sidecarMisses[video]++
		if w.sidecarMisses[video] >= maxSidecarMisses {
			log.Printf("📦 QUEUE: %s still has no readable sidecar after %d passes, parking it: %v",
				filepath.Base(video), w.sidecarMisses[video], err)
			markers.MarkCompleted(video)
			delete(w.sidecarMisses, video)
			return
		}
		log.Printf("📦 QUEUE: %s has no readable sidecar, skipping: %v", filepath.Base(video), err)
		return
	}
	delete(w.sidecarMisses, video)

	info, err := w.validate(ctx, video)
	if err != nil {
		log.Printf("📦 QUEUE: %s failed validation: %v", filepath.Base(video), err)
		// Completed, not errored: the file is skipped forever without a
		// retry storm, and the raw stays on disk for inspection.
		markers.MarkCompleted(video)
		// An invalid cam1 leaves delivery to its cam2 sibling on the next
		// pass; only when no sibling can step in does the booking fail.
		siblingUsable := false
		if role == "cam1" {
			if st := markers.Of(sibling); st != markers.StateError && st != markers.StateCompleted {
				if _, serr := os.Stat(sibling); serr == nil {
					siblingUsable = true
				}
			}
		}
		if !siblingUsable {
			w.failBooking(sc.BookingID, fmt.Sprintf("recording invalid: %v", err))
		}
		return
	}

	w.setStatus(sc.BookingID, bookings.StatusProcessing, "")

	deliverable := video
	rawFiles := []string{video}
	duration := info.Duration

	if role == "cam1" {
		merged, extraRaw, ok := w.mergePair(ctx, video, sibling, sc)
		if !ok {
			return
		}
		if merged != "" {
			deliverable = merged
			// The merged intermediate is evicted with the raws once the
			// delivery is confirmed.
			rawFiles = append(rawFiles, extraRaw, merged)
			if out, err := w.probe(ctx, merged); err == nil {
				duration = out.Duration
			}
		}
	}

	final, err := w.composer.Compose(ctx, deliverable, w.assetsFor(sc.UserID))
	if err != nil {
		// Branding failures are retried: the lock is released without a
		// terminal marker so the next pass tries again.
		log.Printf("📦 QUEUE: branding of %s failed, will retry: %v", filepath.Base(deliverable), err)
		return
	}

	w.deliver(ctx, sc, final, rawFiles, duration)
}

func (w *Worker) assetsFor(userID string) overlay.Assets {
	if w.assets == nil {
		return overlay.Assets{}
	}
	return w.assets.AssetsFor(userID)
}

// mergePair merges video with its cam2 sibling. It returns the merged path
// ("" when cam2 is unusable and cam1 delivers alone), the consumed sibling,
// and whether processing should continue.
func (w *Worker) mergePair(ctx context.Context, video, sibling string, sc markers.Sidecar) (string, string, bool) {
	// A crash between merge and delivery leaves a valid merged output
	// behind; reuse it instead of merging again.
	output := strings.TrimSuffix(video, "_cam1.mp4") + "_merged.mp4"
	if markers.IsMerged(output) {
		if _, err := os.Stat(output); err == nil {
			return output, sibling, true
		}
		os.Remove(output + markers.SuffixMerged)
	}

	if _, err := os.Stat(sibling); err != nil || markers.Of(sibling) == markers.StateError {
		log.Printf("🧵 MERGE: cam2 sibling of %s unusable, delivering single stream", filepath.Base(video))
		return "", "", true
	}
	switch markers.Of(sibling) {
	case markers.StatePending, markers.StateLocked:
		// cam2 still finalizing: wait for the next pass.
		return "", "", false
	case markers.StateCompleted:
		return "", "", true
	}

	if err := markers.AcquireLock(sibling); err != nil {
		return "", "", false
	}
	defer markers.ReleaseLock(sibling)

	if _, err := w.validate(ctx, sibling); err != nil {
		log.Printf("🧵 MERGE: cam2 sibling of %s invalid, delivering single stream: %v", filepath.Base(video), err)
		markers.MarkCompleted(sibling)
		return "", "", true
	}

	res := w.merger.Merge(ctx, video, sibling, output)
	if !res.Success {
		markers.MarkMergeError(video, res.ErrorMessage)
		markers.MarkMergeError(sibling, res.ErrorMessage)
		markers.MarkError(video, res.ErrorMessage)
		markers.MarkError(sibling, res.ErrorMessage)
		w.failBooking(sc.BookingID, fmt.Sprintf("merge failed: %s", res.ErrorMessage))
		return "", "", false
	}

	markers.MarkMerged(output)
	if err := markers.WriteSidecar(output, sc); err != nil {
		log.Printf("🧵 MERGE: failed to write merged sidecar: %v", err)
	}
	markers.MarkCompleted(sibling)
	return output, sibling, true
}

// validate applies the cheap checks before any expensive work: the file must
// exist, clear the size floor and carry a probeable video stream.
func (w *Worker) validate(ctx context.Context, video string) (merge.StreamInfo, error) {
	fi, err := os.Stat(video)
	if err != nil {
		return merge.StreamInfo{}, err
	}
	if fi.Size() < 100*1024 {
		return merge.StreamInfo{}, fmt.Errorf("file is only %d bytes", fi.Size())
	}
	return w.probe(ctx, video)
}

// deliver uploads the final file or queues it for later, then finishes the
// booking.
func (w *Worker) deliver(ctx context.Context, sc markers.Sidecar, final string, rawFiles []string, duration float64) {
	date := sc.StartTime.Format("2006-01-02")
	key := storage.ObjectKey(sc.UserID, date, filepath.Base(final))
	meta := remote.VideoMetadata{
		UserID:          sc.UserID,
		CameraID:        sc.CameraID,
		BookingID:       sc.BookingID,
		RecordingID:     strings.TrimSuffix(filepath.Base(final), ".mp4"),
		Filename:        filepath.Base(final),
		StoragePath:     key,
		Date:            date,
		DurationSeconds: duration,
	}
	if fi, err := os.Stat(final); err == nil {
		meta.SizeBytes = fi.Size()
	}

	w.setStatus(sc.BookingID, bookings.StatusUploading, "")

	if w.conn != nil && !w.conn.IsOnline() {
		w.enqueue(final, key, meta, rawFiles, sc.BookingID)
		return
	}

	url, err := w.uploader.UploadFile(final, key)
	if err != nil {
		log.Printf("☁️ UPLOAD: %s failed, queueing for retry: %v", key, err)
		w.enqueue(final, key, meta, rawFiles, sc.BookingID)
		return
	}
	meta.VideoURL = url
	meta.UploadedAt = w.clock()

	w.finishDelivery(ctx, meta, final, rawFiles)
}

// enqueue parks a delivery in the durable queue. The raw files are marked
// completed so the scanner does not reprocess them; they are evicted only
// when the queued delivery eventually succeeds.
func (w *Worker) enqueue(final, key string, meta remote.VideoMetadata, rawFiles []string, bookingID string) {
	err := w.queue.Append(offline.QueueEntry{
		FinalFile: final,
		S3Key:     key,
		Meta:      meta,
		RawFiles:  rawFiles,
	})
	if err != nil {
		// The raw files keep their .done markers, so the whole pipeline
		// reruns for this recording rather than losing it.
		log.Printf("📦 QUEUE: failed to queue %s: %v", key, err)
		return
	}
	for _, raw := range rawFiles {
		markers.MarkCompleted(raw)
	}
	log.Printf("📦 QUEUE: parked %s for later upload (%d queued)", key, w.queue.Len())
}

// finishDelivery records a confirmed upload and evicts the raw files and
// the finished file.
func (w *Worker) finishDelivery(ctx context.Context, meta remote.VideoMetadata, final string, rawFiles []string) {
	w.uploadThumbnail(ctx, final, meta.StoragePath)

	if w.remote != nil {
		if err := w.remote.InsertVideoMetadata(meta); err != nil {
			log.Printf("☁️ UPLOAD: metadata insert for %s failed: %v", meta.BookingID, err)
		}
	}
	if w.ledger != nil {
		err := w.ledger.RecordDeliveredVideo(LedgerEntry{
			ID:          uuid.New().String(),
			BookingID:   meta.BookingID,
			UserID:      meta.UserID,
			CameraID:    meta.CameraID,
			LocalPath:   final,
			RemoteURL:   meta.VideoURL,
			S3Key:       meta.StoragePath,
			SizeBytes:   meta.SizeBytes,
			DurationSec: meta.DurationSeconds,
			UploadedAt:  meta.UploadedAt,
		})
		if err != nil {
			log.Printf("☁️ UPLOAD: ledger write for %s failed: %v", meta.BookingID, err)
		}
	}

	w.setStatus(meta.BookingID, bookings.StatusUploaded, "")

	// Raw recordings only disappear after the upload is confirmed. The
	// finished file goes too: the object store holds the deliverable now.
	for _, raw := range rawFiles {
		os.Remove(raw)
		markers.RemoveAll(raw)
	}
	if err := os.Remove(final); err != nil && !os.IsNotExist(err) {
		log.Printf("🧹 DISK: failed to remove finished file %s: %v", final, err)
	}
	markers.RemoveAll(final)

	w.setStatus(meta.BookingID, bookings.StatusCompleted, "")
	if err := w.store.Remove(meta.BookingID); err != nil {
		log.Printf("📦 QUEUE: failed to remove booking %s: %v", meta.BookingID, err)
	}
	log.Printf("✅ DONE: booking %s delivered as %s", meta.BookingID, meta.StoragePath)
}

// uploadThumbnail puts a preview frame beside the video in object storage.
// The delivery is already confirmed at this point, so every failure here is
// warn-only.
func (w *Worker) uploadThumbnail(ctx context.Context, final, videoKey string) {
	if w.thumbs == nil {
		return
	}
	thumb, err := w.thumbs.Thumbnail(ctx, final)
	if err != nil {
		log.Printf("🖼️ OVERLAY: thumbnail for %s failed: %v", filepath.Base(final), err)
		return
	}
	defer os.Remove(thumb)

	key := strings.TrimSuffix(videoKey, filepath.Ext(videoKey)) + ".jpg"
	if _, err := w.uploader.UploadFile(thumb, key); err != nil {
		log.Printf("🖼️ OVERLAY: thumbnail upload %s failed: %v", key, err)
	}
}

// drainQueue retries every parked delivery while online. Entries that still
// fail stay queued with their attempt count bumped; the queue file is
// rewritten exactly once.
func (w *Worker) drainQueue(ctx context.Context) {
	entries, err := w.queue.Load()
	if err != nil {
		log.Printf("📦 QUEUE: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	if w.conn != nil && !w.conn.IsOnline() {
		return
	}

	log.Printf("📦 QUEUE: draining %d parked delivery(ies)", len(entries))
	var mu sync.Mutex
	var remaining []offline.QueueEntry
	var wg sync.WaitGroup

	for _, e := range entries {
		if err := w.drainSem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			remaining = append(remaining, e)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(e offline.QueueEntry) {
			defer wg.Done()
			defer w.drainSem.Release(1)

			if _, err := os.Stat(e.FinalFile); err != nil {
				log.Printf("📦 QUEUE: parked file %s vanished, dropping entry", e.FinalFile)
				return
			}
			url, err := w.uploader.UploadFile(e.FinalFile, e.S3Key)
			if err != nil {
				log.Printf("📦 QUEUE: parked upload %s failed again: %v", e.S3Key, err)
				e.Attempts++
				mu.Lock()
				remaining = append(remaining, e)
				mu.Unlock()
				return
			}
			meta := e.Meta
			meta.VideoURL = url
			meta.UploadedAt = w.clock()
			w.finishDelivery(ctx, meta, e.FinalFile, e.RawFiles)
		}(e)
	}
	wg.Wait()

	if err := w.queue.Replace(remaining); err != nil {
		log.Printf("📦 QUEUE: failed to rewrite queue: %v", err)
	}
}

func (w *Worker) setStatus(bookingID, status, errMsg string) {
	if bookingID == "" {
		return
	}
	if err := w.store.UpdateStatus(bookingID, status, errMsg); err != nil {
		log.Printf("Failed to update booking %s: %v", bookingID, err)
	}
	if w.status != nil {
		w.status.Queue(bookingID, status, errMsg)
	}
}

func (w *Worker) failBooking(bookingID, msg string) {
	w.setStatus(bookingID, bookings.StatusFailed, msg)
}

// QueueDepth reports the pending-upload backlog for the ops endpoint.
func (w *Worker) QueueDepth() int {
	return w.queue.Len()
}
