package adsource

import (
	"context"
	"time"
)

// Adapter retrieves raw public ads for one advertiser on one platform.
// A call is a single attempt; retry and pacing live in Fetcher.
type Adapter interface {
	// Platform reports the platform identifier the adapter serves.
	Platform() string

	// Fetch returns every public ad for the advertiser observed since the
	// given time, normalized. An empty slice with a nil error means the
	// advertiser currently runs no ads.
	Fetch(ctx context.Context, advertiser string, since time.Time) ([]RawAd, error)
}
