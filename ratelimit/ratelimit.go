// Package ratelimit implements a token bucket with lazy refill, persisted
// in the shared counter store so multiple coordinator instances share the
// same budget per fetch target.
//
// The read-then-write on a bucket is deliberately not transactional: under
// races the limiter may slightly over-admit. That is acceptable — the
// limiter is a courtesy to the upstream ad-archive API, not a correctness
// boundary.
package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hazyhaar/pubwatch/kv"
)

// Config configures a Limiter.
type Config struct {
	// TokensPerInterval is the refill amount per Interval. Default: 10.
	TokensPerInterval float64
	// Interval is the refill period. Default: 1s.
	Interval time.Duration
	// MaxBurst caps the bucket. Default: 20.
	MaxBurst float64
	// StateTTL is how long bucket state survives in the store without
	// activity. Must outlive normal polling gaps. Default: 1h.
	StateTTL time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.TokensPerInterval <= 0 {
		c.TokensPerInterval = 10
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxBurst <= 0 {
		c.MaxBurst = 20
	}
	if c.StateTTL <= 0 {
		c.StateTTL = time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// state is the persisted per-bucket record.
type state struct {
	Tokens       float64 `json:"tokens"`
	LastRefillMs int64   `json:"last_refill_ms"`
}

// Limiter gates outbound calls per bucket key.
type Limiter struct {
	store kv.Store
	cfg   Config
	now   func() time.Time
}

// New creates a Limiter on top of the given store.
func New(store kv.Store, cfg Config) *Limiter {
	cfg.defaults()
	return &Limiter{store: store, cfg: cfg, now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Acquire attempts to take one token from the bucket. Non-blocking single
// attempt; the caller decides whether to wait and retry. Never returns an
// error: absent or corrupt state is treated as a full bucket, and a store
// failure admits the call (fail-open — the limiter must not take the
// pipeline down).
func (l *Limiter) Acquire(ctx context.Context, bucketKey string) bool {
	now := l.now()
	st := l.load(ctx, bucketKey, now)

	elapsed := now.UnixMilli() - st.LastRefillMs
	if elapsed < 0 {
		elapsed = 0
	}
	refill := float64(elapsed) / float64(l.cfg.Interval.Milliseconds()) * l.cfg.TokensPerInterval
	current := st.Tokens + refill
	if current > l.cfg.MaxBurst {
		current = l.cfg.MaxBurst
	}

	if current < 1 {
		// Denied: leave state untouched so the refill keeps accruing from
		// the last persisted point.
		return false
	}

	next := state{Tokens: current - 1, LastRefillMs: now.UnixMilli()}
	data, _ := json.Marshal(next)
	if err := l.store.Set(ctx, bucketKey, string(data), l.cfg.StateTTL); err != nil {
		l.cfg.Logger.Warn("ratelimit: persist bucket failed", "bucket", bucketKey, "error", err)
	}
	return true
}

// load reads the bucket state, defaulting to a full bucket on absence or
// corruption.
func (l *Limiter) load(ctx context.Context, bucketKey string, now time.Time) state {
	full := state{Tokens: l.cfg.MaxBurst, LastRefillMs: now.UnixMilli()}

	raw, ok, err := l.store.Get(ctx, bucketKey)
	if err != nil {
		l.cfg.Logger.Warn("ratelimit: read bucket failed", "bucket", bucketKey, "error", err)
		return full
	}
	if !ok {
		return full
	}

	var st state
	if err := json.Unmarshal([]byte(raw), &st); err != nil || st.LastRefillMs <= 0 {
		return full
	}
	if st.Tokens < 0 {
		st.Tokens = 0
	}
	if st.Tokens > l.cfg.MaxBurst {
		st.Tokens = l.cfg.MaxBurst
	}
	return st
}
