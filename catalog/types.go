// Package catalog is the persisted record set of competitor ad creatives.
//
// It owns the SQLite schema, the idempotent bulk insert used by the
// ingestion coordinator, the snapshot write-back, and the keyset-paginated
// read path served by the query API.
package catalog

import "time"

// Platform identifies the ad archive a creative was observed on.
type Platform string

const (
	PlatformMeta   Platform = "meta"
	PlatformGoogle Platform = "google"
	PlatformTikTok Platform = "tiktok"
)

// ValidPlatform reports whether p is a supported platform.
func ValidPlatform(p Platform) bool {
	switch p {
	case PlatformMeta, PlatformGoogle, PlatformTikTok:
		return true
	}
	return false
}

// AdCreative is one stored competitor creative. The id is assigned at
// insert and immutable; snapshot fields are written exactly once by the
// snapshot worker.
type AdCreative struct {
	ID           string   `json:"id"`
	AccountID    string   `json:"account_id"`
	CompetitorID string   `json:"competitor_id"`
	Platform     Platform `json:"platform"`
	ContentHash  string   `json:"content_hash"`
	AdCopy       string   `json:"ad_copy"`
	CTA          string   `json:"cta,omitempty"`
	CreativeURLs []string `json:"creative_urls"`
	LandingURL   string   `json:"landing_url"`
	FetchedAt    int64    `json:"fetched_at"` // unix milliseconds

	// Snapshot fields, empty until the snapshot worker completes.
	SnapshotURL  string `json:"snapshot_url,omitempty"`
	H1           string `json:"h1,omitempty"`
	H2           string `json:"h2,omitempty"`
	FormPresent  bool   `json:"form_present"`
	PixelPresent bool   `json:"pixel_present"`

	SnapshotAttempts int   `json:"-"`
	CreatedAt        int64 `json:"created_at"`
}

// FetchedTime returns FetchedAt as a time.Time.
func (a *AdCreative) FetchedTime() time.Time {
	return time.UnixMilli(a.FetchedAt)
}

// ListFilter selects rows for the paginated read path. AccountID is
// required; everything else narrows the scan.
type ListFilter struct {
	AccountID    string
	CompetitorID string
	Platform     Platform
	DateFrom     time.Time // inclusive lower bound on fetched_at
	DateTo       time.Time // inclusive upper bound on fetched_at
}

// Page is one page of a keyset-paginated scan. NextCursor is empty when
// the scan is exhausted.
type Page struct {
	Items      []*AdCreative `json:"items"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

// SnapshotResult is what the snapshot worker writes back onto a row.
type SnapshotResult struct {
	SnapshotURL  string
	H1           string
	H2           string
	FormPresent  bool
	PixelPresent bool
}

// CounterTask is a follow-up task attached to a creative. Idempotent on
// (AdID, Title).
type CounterTask struct {
	ID        string `json:"id"`
	AdID      string `json:"ad_id"`
	Title     string `json:"title"`
	Notes     string `json:"notes,omitempty"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// Stats aggregates an account's catalog.
type Stats struct {
	TotalAds    int            `json:"total_ads"`
	WithSnaps   int            `json:"with_snapshots"`
	PerPlatform map[string]int `json:"per_platform"`
}

// IngestLogEntry records the outcome of one coordinator pass for one
// competitor.
type IngestLogEntry struct {
	ID           string
	AccountID    string
	CompetitorID string
	Platform     Platform
	Status       string // ok | error
	Fetched      int
	Duplicates   int
	Inserted     int
	ErrorMessage string
	DurationMs   int64
	RanAt        int64
}
