// Package ingest drives the periodic pull of competitor ads into the
// catalog: fetch, hash, claim, bulk insert, one pass per interval.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pubwatch/adsource"
	"github.com/hazyhaar/pubwatch/catalog"
)

// Source yields normalized ads for one advertiser. *adsource.Fetcher is
// the production implementation.
type Source interface {
	Platform() string
	Fetch(ctx context.Context, advertiser string, since time.Time) ([]adsource.RawAd, error)
}

// Config tunes the coordinator.
type Config struct {
	// Interval between passes. Default 30m.
	Interval time.Duration
	// Lookback bounds the `since` passed to sources. Default 24h.
	Lookback time.Duration
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Minute
	}
	if c.Lookback <= 0 {
		c.Lookback = 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result is the outcome of one pass for one competitor.
type Result struct {
	Competitor Competitor
	Fetched    int
	Duplicates int
	Inserted   int
	Err        error
}

// Coordinator runs ingestion passes over the competitor watch list.
// Overlapping passes are safe: they compete for the same dedup claims and
// the same unique index, nothing else.
type Coordinator struct {
	store   *catalog.Store
	dedup   *Deduplicator
	sources map[string]Source
	targets []Competitor
	cfg     Config

	now func() time.Time
}

// NewCoordinator wires the pipeline. sources is keyed by platform.
func NewCoordinator(store *catalog.Store, dedup *Deduplicator, sources map[string]Source, targets []Competitor, cfg Config) *Coordinator {
	cfg.defaults()
	return &Coordinator{
		store:   store,
		dedup:   dedup,
		sources: sources,
		targets: targets,
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// Run executes a pass immediately, then on every interval tick until the
// context ends.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	c.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce processes every competitor once. A failure on one competitor is
// logged and recorded but never stops the rest of the pass.
func (c *Coordinator) RunOnce(ctx context.Context) []Result {
	results := make([]Result, 0, len(c.targets))
	for _, target := range c.targets {
		if ctx.Err() != nil {
			break
		}
		started := c.now()
		res := c.ingestOne(ctx, target)
		c.record(ctx, res, c.now().Sub(started))
		results = append(results, res)
	}
	return results
}

// ingestOne fetches, hashes, claims and inserts for a single competitor.
// Panics from adapter or store code are contained here.
func (c *Coordinator) ingestOne(ctx context.Context, target Competitor) (res Result) {
	res = Result{Competitor: target}
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("ingest %s/%s panicked: %v", target.Platform, target.Advertiser, r)
		}
	}()

	source, ok := c.sources[target.Platform]
	if !ok {
		res.Err = fmt.Errorf("no source adapter for platform %q", target.Platform)
		return res
	}

	since := c.now().Add(-c.cfg.Lookback)
	ads, err := source.Fetch(ctx, target.Advertiser, since)
	if err != nil {
		res.Err = fmt.Errorf("fetch %s/%s: %w", target.Platform, target.Advertiser, err)
		return res
	}
	res.Fetched = len(ads)

	batch := make([]*catalog.AdCreative, 0, len(ads))
	for _, ad := range ads {
		hash := Hash(ad)
		if !c.dedup.Claim(ctx, hash) {
			res.Duplicates++
			continue
		}
		batch = append(batch, &catalog.AdCreative{
			AccountID:    target.AccountID,
			CompetitorID: target.CompetitorID,
			Platform:     catalog.Platform(target.Platform),
			ContentHash:  hash,
			AdCopy:       ad.Copy,
			CTA:          ad.CTA,
			CreativeURLs: ad.AssetURLs(),
			LandingURL:   ad.LandingURL,
			FetchedAt:    ad.FetchedAt.UnixMilli(),
		})
	}

	if len(batch) > 0 {
		inserted, err := c.store.BulkInsert(ctx, batch)
		if err != nil {
			res.Err = fmt.Errorf("insert %s/%s: %w", target.Platform, target.Advertiser, err)
			return res
		}
		// Second line of defense: rows skipped by the unique index were
		// duplicates the claim window had already forgotten.
		res.Duplicates += len(batch) - inserted
		res.Inserted = inserted
	}
	return res
}

// record logs the competitor outcome and appends it to the ingest log.
func (c *Coordinator) record(ctx context.Context, res Result, took time.Duration) {
	entry := &catalog.IngestLogEntry{
		AccountID:    res.Competitor.AccountID,
		CompetitorID: res.Competitor.CompetitorID,
		Platform:     catalog.Platform(res.Competitor.Platform),
		Status:       "ok",
		Fetched:      res.Fetched,
		Duplicates:   res.Duplicates,
		Inserted:     res.Inserted,
		DurationMs:   took.Milliseconds(),
		RanAt:        c.now().UnixMilli(),
	}
	if res.Err != nil {
		entry.Status = "error"
		entry.ErrorMessage = res.Err.Error()
		c.cfg.Logger.Error("competitor ingest failed",
			"platform", res.Competitor.Platform,
			"advertiser", res.Competitor.Advertiser,
			"error", res.Err)
	} else {
		c.cfg.Logger.Info("competitor ingest done",
			"platform", res.Competitor.Platform,
			"advertiser", res.Competitor.Advertiser,
			"fetched", res.Fetched,
			"duplicates", res.Duplicates,
			"inserted", res.Inserted,
			"took_ms", took.Milliseconds())
	}
	if err := c.store.InsertIngestLog(ctx, entry); err != nil {
		c.cfg.Logger.Warn("ingest log write failed", "error", err)
	}
}
