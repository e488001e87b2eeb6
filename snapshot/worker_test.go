package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pubwatch/catalog"
	"github.com/hazyhaar/pubwatch/dbopen"
	"github.com/hazyhaar/pubwatch/objectstore"
)

type fakeNavigator struct {
	mu       sync.Mutex
	visits   map[string]int
	failures map[string]int // url -> failing visits before success
	capture  PageCapture
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func newFakeNavigator() *fakeNavigator {
	return &fakeNavigator{
		visits:   make(map[string]int),
		failures: make(map[string]int),
		capture: PageCapture{
			H1:          "Welcome",
			H2:          "Limited offer",
			FormPresent: true,
			Artifact:    []byte("png-bytes"),
			ContentType: "image/png",
			Ext:         "png",
		},
	}
}

func (f *fakeNavigator) Snapshot(_ context.Context, url string) (*PageCapture, error) {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.visits[url]++
	n := f.visits[url]
	fail := f.failures[url]
	f.mu.Unlock()
	if n <= fail {
		return nil, errors.New("net::ERR_TIMED_OUT")
	}
	c := f.capture
	return &c, nil
}

func (f *fakeNavigator) visitCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visits[url]
}

func newTestWorker(t *testing.T, nav Navigator, cfg Config) (*Worker, *catalog.Store, *objectstore.Memory) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := catalog.ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	store := catalog.NewStore(db)
	objects := objectstore.NewMemory()
	w := NewWorker(store, nav, objects, cfg)
	w.SetSleep(func(context.Context, time.Duration) bool { return true })
	return w, store, objects
}

func insertPending(t *testing.T, store *catalog.Store, n int) []*catalog.AdCreative {
	t.Helper()
	rows := make([]*catalog.AdCreative, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, &catalog.AdCreative{
			AccountID:    "acct-1",
			CompetitorID: "comp-1",
			Platform:     catalog.PlatformMeta,
			ContentHash:  fmt.Sprintf("hash-%d", i),
			AdCopy:       "copy",
			LandingURL:   fmt.Sprintf("https://example.com/page-%d", i),
			FetchedAt:    time.Now().UnixMilli(),
		})
	}
	if _, err := store.BulkInsert(context.Background(), rows); err != nil {
		t.Fatalf("insert pending rows: %v", err)
	}
	return rows
}

// WHAT: a queue drain snapshots every pending row, uploads the artifact
// under a date-partitioned key, and writes signals back exactly once.
func TestWorker_RunQueue(t *testing.T) {
	nav := newFakeNavigator()
	w, store, objects := newTestWorker(t, nav, Config{})
	fixed := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	w.SetClock(func() time.Time { return fixed })
	rows := insertPending(t, store, 4)

	if n := w.RunQueue(context.Background()); n != 4 {
		t.Fatalf("completed = %d, want 4", n)
	}

	ad, err := store.GetByID(context.Background(), rows[0].ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if ad.SnapshotURL == "" || ad.H1 != "Welcome" || ad.H2 != "Limited offer" || !ad.FormPresent || ad.PixelPresent {
		t.Fatalf("written-back row = %+v", ad)
	}
	if !strings.Contains(ad.SnapshotURL, "2026/08/29/"+ad.ID+".png") {
		t.Fatalf("snapshot url not date-partitioned: %q", ad.SnapshotURL)
	}
	if objects.Len() != 4 {
		t.Fatalf("uploaded objects = %d, want 4", objects.Len())
	}

	// Nothing left pending; a second drain is a no-op.
	if n := w.RunQueue(context.Background()); n != 0 {
		t.Fatalf("second drain completed = %d, want 0", n)
	}
}

// WHAT: a job that fails once is retried exactly once and the retry's
// success completes it; navigation happens exactly twice.
func TestWorker_SingleRetryThenSuccess(t *testing.T) {
	nav := newFakeNavigator()
	w, store, _ := newTestWorker(t, nav, Config{})
	rows := insertPending(t, store, 1)
	nav.failures[rows[0].LandingURL] = 1

	if err := w.ProcessAd(context.Background(), rows[0].ID); err != nil {
		t.Fatalf("ProcessAd: %v", err)
	}
	if n := nav.visitCount(rows[0].LandingURL); n != 2 {
		t.Fatalf("navigation attempts = %d, want exactly 2", n)
	}
	ad, _ := store.GetByID(context.Background(), rows[0].ID)
	if ad.SnapshotURL == "" {
		t.Fatal("snapshot not attached after successful retry")
	}
}

// WHAT: when the retry also fails the job is abandoned, the attempt
// counter is bumped, and the row stays snapshot-less for the next cycle.
func TestWorker_AbandonAfterRetry(t *testing.T) {
	nav := newFakeNavigator()
	w, store, _ := newTestWorker(t, nav, Config{})
	rows := insertPending(t, store, 1)
	nav.failures[rows[0].LandingURL] = 99

	if err := w.ProcessAd(context.Background(), rows[0].ID); err == nil {
		t.Fatal("expected error from abandoned job")
	}
	if n := nav.visitCount(rows[0].LandingURL); n != 2 {
		t.Fatalf("navigation attempts = %d, want exactly 2", n)
	}
	ad, _ := store.GetByID(context.Background(), rows[0].ID)
	if ad.SnapshotURL != "" {
		t.Fatal("abandoned job must not attach a snapshot")
	}
	if ad.SnapshotAttempts != 1 {
		t.Fatalf("snapshot_attempts = %d, want 1", ad.SnapshotAttempts)
	}
}

// WHAT: one broken landing page does not fail the rest of the batch.
func TestWorker_FailureDoesNotFailBatch(t *testing.T) {
	nav := newFakeNavigator()
	w, store, _ := newTestWorker(t, nav, Config{})
	rows := insertPending(t, store, 3)
	nav.failures[rows[1].LandingURL] = 99

	if n := w.RunQueue(context.Background()); n != 2 {
		t.Fatalf("completed = %d, want 2", n)
	}
}

// WHAT: concurrent page visits never exceed the configured limit.
// WHY: each visit is a live Chrome page; the cap is the memory budget.
func TestWorker_BoundedConcurrency(t *testing.T) {
	nav := newFakeNavigator()
	nav.delay = 20 * time.Millisecond
	w, store, _ := newTestWorker(t, nav, Config{Concurrency: 3, BatchSize: 12})
	insertPending(t, store, 12)

	if n := w.RunQueue(context.Background()); n != 12 {
		t.Fatalf("completed = %d, want 12", n)
	}
	if peak := nav.peak.Load(); peak > 3 {
		t.Fatalf("peak concurrent visits = %d, want <= 3", peak)
	}
}

// WHAT: rows whose landing URL points at private address space are never
// navigated.
func TestWorker_RejectsUnsafeLandingURL(t *testing.T) {
	nav := newFakeNavigator()
	w, store, _ := newTestWorker(t, nav, Config{})
	rows := []*catalog.AdCreative{{
		AccountID:    "acct-1",
		CompetitorID: "comp-1",
		Platform:     catalog.PlatformMeta,
		ContentHash:  "hash-ssrf",
		AdCopy:       "copy",
		LandingURL:   "http://169.254.169.254/latest/meta-data",
		FetchedAt:    time.Now().UnixMilli(),
	}}
	if _, err := store.BulkInsert(context.Background(), rows); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := w.ProcessAd(context.Background(), rows[0].ID); err == nil {
		t.Fatal("expected rejection of metadata-service url")
	}
	if n := nav.visitCount(rows[0].LandingURL); n != 0 {
		t.Fatalf("unsafe url was navigated %d times", n)
	}
}

// WHAT: a deleted or already-snapshotted row is a silent no-op.
func TestWorker_MissingRowNoOp(t *testing.T) {
	nav := newFakeNavigator()
	w, _, _ := newTestWorker(t, nav, Config{})
	if err := w.ProcessAd(context.Background(), "no-such-id"); err != nil {
		t.Fatalf("ProcessAd on missing row: %v", err)
	}
}
