// Package snapshot captures landing pages for stored creatives: headless
// browser navigation, DOM signal extraction, screenshot upload, and the
// one-shot write-back onto the catalog row.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pubwatch/catalog"
	"github.com/hazyhaar/pubwatch/objectstore"
	"github.com/hazyhaar/pubwatch/safeurl"
)

// PageCapture is the outcome of one landing-page visit.
type PageCapture struct {
	H1           string
	H2           string
	FormPresent  bool
	PixelPresent bool

	// Artifact is the stored blob: a PNG screenshot from the browser
	// capturer, raw HTML from the probe.
	Artifact    []byte
	ContentType string
	Ext         string
}

// Navigator visits one landing page. *Browser and *Prober implement it.
type Navigator interface {
	Snapshot(ctx context.Context, landingURL string) (*PageCapture, error)
}

// Config tunes the worker.
type Config struct {
	// BatchSize caps rows selected per queue drain. Default 25.
	BatchSize int
	// Concurrency caps simultaneous page visits. Default 3.
	Concurrency int
	// RetryDelay is the pause before the single per-job retry. Default 1.5s.
	RetryDelay time.Duration
	// MaxAttempts drops a row from selection after this many failed
	// visits. Default 5.
	MaxAttempts int
	// Interval between queue drains in Run. Default 5m.
	Interval time.Duration
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 1500 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Worker drains the snapshot queue: rows without a snapshot URL, newest
// first, visited with bounded concurrency.
type Worker struct {
	store   *catalog.Store
	nav     Navigator
	objects objectstore.Store
	cfg     Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewWorker wires the worker.
func NewWorker(store *catalog.Store, nav Navigator, objects objectstore.Store, cfg Config) *Worker {
	cfg.defaults()
	return &Worker{
		store:   store,
		nav:     nav,
		objects: objects,
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// SetClock overrides the time source. Test hook.
func (w *Worker) SetClock(now func() time.Time) { w.now = now }

// SetSleep replaces the retry delay function. Test hook.
func (w *Worker) SetSleep(fn func(ctx context.Context, d time.Duration) bool) { w.sleep = fn }

// Run drains the queue on every interval tick until the context ends.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	w.RunQueue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunQueue(ctx)
		}
	}
}

// RunQueue selects up to BatchSize pending rows and processes them in
// sequential chunks of Concurrency jobs. Chunked fan-out caps live Chrome
// pages without a general worker pool. Returns the number of completed
// snapshots.
func (w *Worker) RunQueue(ctx context.Context) int {
	pending, err := w.store.PendingSnapshots(ctx, w.cfg.BatchSize, w.cfg.MaxAttempts)
	if err != nil {
		w.cfg.Logger.Error("snapshot queue select failed", "error", err)
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	var mu sync.Mutex
	completed := 0
	for start := 0; start < len(pending); start += w.cfg.Concurrency {
		if ctx.Err() != nil {
			break
		}
		end := start + w.cfg.Concurrency
		if end > len(pending) {
			end = len(pending)
		}
		var wg sync.WaitGroup
		for _, ad := range pending[start:end] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if err := w.ProcessAd(ctx, id); err != nil {
					w.cfg.Logger.Warn("snapshot job abandoned", "ad_id", id, "error", err)
					return
				}
				mu.Lock()
				completed++
				mu.Unlock()
			}(ad.ID)
		}
		wg.Wait()
	}
	w.cfg.Logger.Info("snapshot queue drained", "selected", len(pending), "completed", completed)
	return completed
}

// ProcessAd snapshots one creative's landing page and writes the result
// back. One retry after a fixed delay; a second failure abandons the job
// and bumps the row's attempt counter so dead pages eventually leave the
// queue.
func (w *Worker) ProcessAd(ctx context.Context, id string) error {
	ad, err := w.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load ad: %w", err)
	}
	if ad == nil || ad.SnapshotURL != "" {
		return nil
	}

	err = w.attempt(ctx, ad)
	if err != nil && ctx.Err() == nil {
		w.cfg.Logger.Debug("snapshot attempt failed, retrying", "ad_id", id, "error", err)
		if w.sleep(ctx, w.cfg.RetryDelay) {
			err = w.attempt(ctx, ad)
		}
	}
	if err != nil {
		if recErr := w.store.RecordSnapshotAttempt(ctx, id); recErr != nil {
			w.cfg.Logger.Warn("snapshot attempt counter update failed", "ad_id", id, "error", recErr)
		}
		return err
	}
	return nil
}

// attempt is one full visit: validate, capture, upload, write back.
func (w *Worker) attempt(ctx context.Context, ad *catalog.AdCreative) error {
	if ad.LandingURL == "" {
		return errors.New("creative has no landing url")
	}
	if err := safeurl.Validate(ad.LandingURL); err != nil {
		return fmt.Errorf("landing url rejected: %w", err)
	}

	capture, err := w.nav.Snapshot(ctx, ad.LandingURL)
	if err != nil {
		return err
	}

	url, err := w.objects.Upload(ctx, w.objectKey(ad, capture.Ext), capture.Artifact, capture.ContentType)
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}

	res := catalog.SnapshotResult{
		SnapshotURL:  url,
		H1:           capture.H1,
		H2:           capture.H2,
		FormPresent:  capture.FormPresent,
		PixelPresent: capture.PixelPresent,
	}
	if err := w.store.AttachSnapshot(ctx, ad.ID, res); err != nil {
		return fmt.Errorf("attach snapshot: %w", err)
	}
	return nil
}

// objectKey partitions uploads by capture date.
func (w *Worker) objectKey(ad *catalog.AdCreative, ext string) string {
	return fmt.Sprintf("%s/%s.%s", w.now().UTC().Format("2006/01/02"), ad.ID, ext)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
