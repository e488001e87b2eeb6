package adsource

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Offline is a deterministic adapter for development without provider
// credentials. Each advertiser always yields the same single ad, so a full
// cycle can be replayed locally and the second pass inserts nothing new.
type Offline struct {
	// Now drives fetched-at stamps; defaults to time.Now.
	Now func() time.Time
}

func (o *Offline) Platform() string { return "meta" }

func (o *Offline) Fetch(_ context.Context, advertiser string, _ time.Time) ([]RawAd, error) {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(advertiser), " ", "-"))
	return []RawAd{{
		Platform:       "meta",
		AdvertiserName: advertiser,
		Copy:           fmt.Sprintf("Discover the new %s collection, now with free shipping.", advertiser),
		CTA:            "Shop Now",
		LandingURL:     fmt.Sprintf("https://example.com/%s/offer", slug),
		Assets: []Asset{
			{Type: "image", URL: fmt.Sprintf("https://cdn.example.com/%s/hero.jpg", slug)},
		},
		FetchedAt:    now().UTC(),
		ProviderMeta: map[string]string{"mode": "offline"},
	}}, nil
}
