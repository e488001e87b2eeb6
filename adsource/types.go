// Package adsource fetches competitor creatives from external ad-archive
// APIs and normalizes them into RawAd records.
//
// The pipeline core never sees provider wire formats: each Adapter parses
// its provider's payload into a validated RawAd at this boundary, and copy
// text is sanitized here before anything downstream touches it.
package adsource

import "time"

// Asset is one creative asset referenced by an ad.
type Asset struct {
	Type string `json:"type"` // image | video
	URL  string `json:"url"`
}

// RawAd is a normalized ad observation, prior to storage.
type RawAd struct {
	Platform       string            `json:"platform"` // meta | google | tiktok
	AdvertiserName string            `json:"advertiser_name"`
	Copy           string            `json:"copy"`
	CTA            string            `json:"cta,omitempty"`
	LandingURL     string            `json:"landing_url"`
	Assets         []Asset           `json:"assets"`
	FetchedAt      time.Time         `json:"fetched_at"`
	ProviderMeta   map[string]string `json:"provider_meta,omitempty"`
}

// AssetURLs returns the ordered creative URLs, the shape the content hash
// and the catalog row use.
func (a *RawAd) AssetURLs() []string {
	urls := make([]string, 0, len(a.Assets))
	for _, asset := range a.Assets {
		urls = append(urls, asset.URL)
	}
	return urls
}
