package adsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	metaDefaultBaseURL = "https://graph.facebook.com/v19.0/ads_archive"
	metaPageLimit      = 100
	metaMaxPages       = 10
	metaBodyLimit      = 4 << 20
)

// MetaArchive reads the Meta Ad Library archive endpoint. Responses are
// paged; Fetch walks the paging cursor up to metaMaxPages per advertiser.
type MetaArchive struct {
	BaseURL     string
	AccessToken string
	Client      *http.Client
}

// NewMetaArchive builds an adapter for the given access token.
func NewMetaArchive(accessToken string) *MetaArchive {
	return &MetaArchive{
		BaseURL:     metaDefaultBaseURL,
		AccessToken: accessToken,
		Client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (m *MetaArchive) Platform() string { return "meta" }

// metaAd mirrors the subset of the archive payload we keep.
type metaAd struct {
	ID                string   `json:"id"`
	PageName          string   `json:"page_name"`
	CreativeBodies    []string `json:"ad_creative_bodies"`
	LinkCaptions      []string `json:"ad_creative_link_captions"`
	LinkDescriptions  []string `json:"ad_creative_link_descriptions"`
	SnapshotURL       string   `json:"ad_snapshot_url"`
	DeliveryStartTime string   `json:"ad_delivery_start_time"`
}

type metaPage struct {
	Data   []metaAd `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

func (m *MetaArchive) Fetch(ctx context.Context, advertiser string, since time.Time) ([]RawAd, error) {
	next := m.firstPageURL(advertiser, since)
	var out []RawAd
	for page := 0; next != "" && page < metaMaxPages; page++ {
		body, err := m.get(ctx, next)
		if err != nil {
			return nil, err
		}
		var pg metaPage
		if err := json.Unmarshal(body, &pg); err != nil {
			return nil, fmt.Errorf("meta archive: decode page: %w", err)
		}
		now := time.Now().UTC()
		for _, ad := range pg.Data {
			raw := m.normalize(ad, advertiser, now)
			if raw.Copy == "" && raw.LandingURL == "" {
				continue
			}
			out = append(out, raw)
		}
		next = pg.Paging.Next
	}
	if out == nil {
		out = []RawAd{}
	}
	return out, nil
}

func (m *MetaArchive) firstPageURL(advertiser string, since time.Time) string {
	q := url.Values{}
	q.Set("access_token", m.AccessToken)
	q.Set("search_page_ids", advertiser)
	q.Set("ad_active_status", "ALL")
	q.Set("ad_delivery_date_min", since.UTC().Format("2006-01-02"))
	q.Set("fields", "id,page_name,ad_creative_bodies,ad_creative_link_captions,ad_creative_link_descriptions,ad_snapshot_url,ad_delivery_start_time")
	q.Set("limit", strconv.Itoa(metaPageLimit))
	return m.BaseURL + "?" + q.Encode()
}

func (m *MetaArchive) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("meta archive: build request: %w", err)
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meta archive: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, metaBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("meta archive: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("meta archive: status %d", resp.StatusCode)
	}
	return body, nil
}

func (m *MetaArchive) normalize(ad metaAd, advertiser string, now time.Time) RawAd {
	var copyText string
	if len(ad.CreativeBodies) > 0 {
		copyText = sanitizeText(ad.CreativeBodies[0])
	}
	var cta string
	if len(ad.LinkDescriptions) > 0 {
		cta = sanitizeText(ad.LinkDescriptions[0])
	}
	var landing string
	if len(ad.LinkCaptions) > 0 {
		landing = normalizeLanding(ad.LinkCaptions[0])
	}
	name := sanitizeText(ad.PageName)
	if name == "" {
		name = advertiser
	}
	raw := RawAd{
		Platform:       "meta",
		AdvertiserName: name,
		Copy:           copyText,
		CTA:            cta,
		LandingURL:     landing,
		FetchedAt:      now,
	}
	if ad.SnapshotURL != "" {
		raw.Assets = append(raw.Assets, Asset{Type: "image", URL: ad.SnapshotURL})
	}
	if ad.ID != "" {
		raw.ProviderMeta = map[string]string{"archive_id": ad.ID}
	}
	return raw
}

// normalizeLanding turns archive link captions, which are often bare hosts
// like "example.com/offer", into absolute URLs.
func normalizeLanding(s string) string {
	s = sanitizeText(s)
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	if u.Scheme == "" {
		return "https://" + s
	}
	return u.String()
}
