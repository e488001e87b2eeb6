package adsource

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/hazyhaar/pubwatch/ratelimit"
)

// FetcherConfig tunes admission pacing and retry behavior.
type FetcherConfig struct {
	// MaxAttempts is the number of provider calls before giving up on an
	// advertiser for the cycle. Default 5.
	MaxAttempts int
	// AdmissionDelay is the pause between rate-limit admission probes.
	// Default 200ms.
	AdmissionDelay time.Duration
	// BackoffBase and BackoffCap bound the exponential retry delay.
	// Defaults 1s and 10s.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// JitterMax is the random extra added to each retry delay. Default 250ms.
	JitterMax time.Duration
	Logger    *slog.Logger
}

func (c *FetcherConfig) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.AdmissionDelay <= 0 {
		c.AdmissionDelay = 200 * time.Millisecond
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Second
	}
	if c.JitterMax <= 0 {
		c.JitterMax = 250 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher paces an Adapter through the shared rate limiter and retries
// transient provider failures with exponential backoff. A fully failed
// advertiser yields an empty result rather than an error, so one broken
// provider call never aborts a whole ingestion cycle.
//
// Admission is per adapter call, not per upstream request: a paged
// adapter may issue several page requests on one token. Size the bucket
// as a per-advertiser fetch budget, not an HTTP request budget.
type Fetcher struct {
	adapter Adapter
	limiter *ratelimit.Limiter
	cfg     FetcherConfig

	sleep func(ctx context.Context, d time.Duration) bool
}

// NewFetcher wraps the adapter. limiter may be nil, in which case every
// call is admitted immediately.
func NewFetcher(adapter Adapter, limiter *ratelimit.Limiter, cfg FetcherConfig) *Fetcher {
	cfg.defaults()
	return &Fetcher{adapter: adapter, limiter: limiter, cfg: cfg, sleep: sleepCtx}
}

// Platform reports the wrapped adapter's platform.
func (f *Fetcher) Platform() string { return f.adapter.Platform() }

// SetSleep replaces the delay function, for tests.
func (f *Fetcher) SetSleep(fn func(ctx context.Context, d time.Duration) bool) { f.sleep = fn }

// Fetch retrieves the advertiser's ads, waiting for rate-limit admission
// before every provider call. On exhausted retries it logs and returns an
// empty slice with a nil error.
func (f *Fetcher) Fetch(ctx context.Context, advertiser string, since time.Time) ([]RawAd, error) {
	bucket := f.adapter.Platform() + ":" + advertiser
	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if !f.sleep(ctx, f.backoff(attempt-1)) {
				return []RawAd{}, ctx.Err()
			}
		}
		if !f.admit(ctx, bucket) {
			return []RawAd{}, ctx.Err()
		}
		ads, err := f.adapter.Fetch(ctx, advertiser, since)
		if err == nil {
			return ads, nil
		}
		lastErr = err
		f.cfg.Logger.Warn("ad fetch attempt failed",
			"platform", f.adapter.Platform(),
			"advertiser", advertiser,
			"attempt", attempt+1,
			"error", err)
	}
	f.cfg.Logger.Error("ad fetch exhausted retries",
		"platform", f.adapter.Platform(),
		"advertiser", advertiser,
		"attempts", f.cfg.MaxAttempts,
		"error", lastErr)
	return []RawAd{}, nil
}

// admit blocks until the limiter grants a token or the context ends.
func (f *Fetcher) admit(ctx context.Context, bucket string) bool {
	if f.limiter == nil {
		return true
	}
	for !f.limiter.Acquire(ctx, bucket) {
		if !f.sleep(ctx, f.cfg.AdmissionDelay) {
			return false
		}
	}
	return true
}

// backoff computes the delay before retry n (zero-based).
func (f *Fetcher) backoff(n int) time.Duration {
	d := f.cfg.BackoffBase << uint(n)
	if d > f.cfg.BackoffCap || d <= 0 {
		d = f.cfg.BackoffCap
	}
	return d + time.Duration(rand.Int63n(int64(f.cfg.JitterMax)))
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
