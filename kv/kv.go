// Package kv defines the shared counter store used for rate-limiter state
// and dedup claims.
//
// Two implementations ship with pubwatch: Memory (single-process, used in
// tests and deployments without Redis) and Redis (shared across coordinator
// instances). Both honour the same semantics: TTLs are enforced on read,
// SetNX is atomic, and a missing key is not an error.
package kv

import (
	"context"
	"time"
)

// Store is the key/value contract the pipeline depends on.
//
// The pipeline treats the store as advisory shared state: rate-limiter
// buckets and dedup claims. It is never the authoritative record — the
// catalog's unique index is — so implementations may lose data on restart
// without breaking correctness.
type Store interface {
	// Get returns the value for key. ok is false if the key is absent or
	// expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value under key only if the key is absent. Returns true
	// if the value was stored by this call. Atomic against concurrent
	// callers.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Expire resets the TTL of an existing key. A missing key is a no-op.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Incr atomically increments the integer value at key and returns the
	// new value. A missing key counts from zero.
	Incr(ctx context.Context, key string) (int64, error)
}
