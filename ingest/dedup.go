package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/pubwatch/kv"
)

// DefaultClaimTTL bounds how long a dedup claim suppresses an identical
// hash. Short on purpose: it only needs to cover concurrent passes over
// the same competitor, the storage unique index handles everything else.
const DefaultClaimTTL = 30 * time.Second

// Deduplicator hands out at most one claim per content hash within the
// TTL window, using the shared store's set-if-absent primitive.
type Deduplicator struct {
	store  kv.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewDeduplicator builds a Deduplicator. ttl <= 0 selects DefaultClaimTTL.
func NewDeduplicator(store kv.Store, ttl time.Duration, logger *slog.Logger) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{store: store, ttl: ttl, logger: logger}
}

// Claim returns true only to the first caller for this hash within the
// window; concurrent and repeated claims get false and drop the candidate.
// A store failure grants the claim: the catalog's unique index is the
// authority, the claim step is only an optimization that skips doomed
// insert attempts.
func (d *Deduplicator) Claim(ctx context.Context, hash string) bool {
	ok, err := d.store.SetNX(ctx, "dedup:"+hash, "1", d.ttl)
	if err != nil {
		d.logger.Warn("dedup claim store failure, falling through to storage uniqueness",
			"hash", hash, "error", err)
		return true
	}
	return ok
}
