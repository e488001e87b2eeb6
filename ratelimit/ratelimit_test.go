package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/pubwatch/kv"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *kv.Memory, func(time.Duration)) {
	t.Helper()
	store := kv.NewMemory()
	l := New(store, cfg)

	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	l.SetClock(clock)
	store.SetClock(clock)

	advance := func(d time.Duration) { now = now.Add(d) }
	return l, store, advance
}

func TestAcquire_FreshBucketStartsFull(t *testing.T) {
	// WHAT: An unseen bucket key admits MaxBurst calls before denying.
	// WHY: Absent state must default to a full bucket, never an error.
	l, _, _ := newTestLimiter(t, Config{TokensPerInterval: 10, Interval: time.Second, MaxBurst: 5})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !l.Acquire(ctx, "meta:acme") {
			t.Fatalf("acquire %d should be admitted from full bucket", i)
		}
	}
	if l.Acquire(ctx, "meta:acme") {
		t.Fatal("acquire past burst should be denied")
	}
}

func TestAcquire_LazyRefill(t *testing.T) {
	// WHAT: After draining, tokens come back proportionally to elapsed time.
	// WHY: Refill is computed lazily at acquisition, not by a timer.
	l, _, advance := newTestLimiter(t, Config{TokensPerInterval: 2, Interval: time.Second, MaxBurst: 4})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if !l.Acquire(ctx, "b") {
			t.Fatalf("drain %d failed", i)
		}
	}
	if l.Acquire(ctx, "b") {
		t.Fatal("bucket should be empty")
	}

	// 500ms at 2 tokens/s = 1 token.
	advance(500 * time.Millisecond)
	if !l.Acquire(ctx, "b") {
		t.Fatal("one token should have refilled")
	}
	if l.Acquire(ctx, "b") {
		t.Fatal("only one token should have refilled")
	}
}

func TestAcquire_RefillCappedAtBurst(t *testing.T) {
	// WHAT: A long idle period refills at most MaxBurst tokens.
	// WHY: tokens must never exceed the configured burst capacity.
	l, _, advance := newTestLimiter(t, Config{TokensPerInterval: 10, Interval: time.Second, MaxBurst: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Acquire(ctx, "b")
	}
	advance(time.Hour)

	admitted := 0
	for i := 0; i < 10; i++ {
		if l.Acquire(ctx, "b") {
			admitted++
		}
	}
	if admitted != 3 {
		t.Fatalf("admitted %d after long idle, want 3 (burst cap)", admitted)
	}
}

func TestAcquire_DenialLeavesStateUntouched(t *testing.T) {
	// WHAT: A denied acquisition does not rewrite the bucket record.
	// WHY: Rewriting last_refill_at on denial would forfeit accrued refill
	// and starve a busy bucket forever.
	l, store, advance := newTestLimiter(t, Config{TokensPerInterval: 1, Interval: time.Second, MaxBurst: 1})
	ctx := context.Background()

	if !l.Acquire(ctx, "b") {
		t.Fatal("first acquire should pass")
	}
	before, _, _ := store.Get(ctx, "b")

	advance(300 * time.Millisecond)
	if l.Acquire(ctx, "b") {
		t.Fatal("should be denied at 0.3 tokens")
	}
	after, _, _ := store.Get(ctx, "b")
	if before != after {
		t.Fatalf("denied acquire mutated state: %q -> %q", before, after)
	}

	// 700ms more completes the refill of one whole token.
	advance(700 * time.Millisecond)
	if !l.Acquire(ctx, "b") {
		t.Fatal("accrued refill should admit after a full interval")
	}
}

func TestAcquire_SteadyStateRate(t *testing.T) {
	// WHAT: Over a sustained window the admitted rate does not exceed
	// TokensPerInterval per Interval (plus the initial burst).
	// WHY: This is the limiter's one observable guarantee to the upstream.
	l, _, advance := newTestLimiter(t, Config{TokensPerInterval: 5, Interval: time.Second, MaxBurst: 5})
	ctx := context.Background()

	admitted := 0
	// 10 seconds in 100ms steps, trying twice per step.
	for step := 0; step < 100; step++ {
		for try := 0; try < 2; try++ {
			if l.Acquire(ctx, "b") {
				admitted++
			}
		}
		advance(100 * time.Millisecond)
	}
	// Budget = initial burst (5) + 10s * 5/s = 55.
	if admitted > 55 {
		t.Fatalf("admitted %d over 10s, budget is 55", admitted)
	}
	if admitted < 50 {
		t.Fatalf("admitted %d over 10s, limiter is over-throttling", admitted)
	}
}

func TestAcquire_CorruptStateTreatedAsFull(t *testing.T) {
	// WHAT: Garbage in the store is treated as a full bucket.
	// WHY: The limiter must fail open; corrupt shared state is not an error.
	l, store, _ := newTestLimiter(t, Config{TokensPerInterval: 10, Interval: time.Second, MaxBurst: 2})
	ctx := context.Background()

	store.Set(ctx, "b", "not json", 0)
	if !l.Acquire(ctx, "b") {
		t.Fatal("corrupt state should admit")
	}
}
