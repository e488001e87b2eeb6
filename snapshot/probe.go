package snapshot

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/pubwatch/safeurl"
)

// Prober is the browser-free capturer: a plain HTTP fetch with static
// signal extraction. It misses JS-rendered content and script-installed
// pixels, but runs anywhere Chrome cannot. The stored artifact is the raw
// HTML instead of a screenshot.
type Prober struct {
	Client *http.Client
}

// NewProber builds a Prober with a bounded default client.
func NewProber() *Prober {
	return &Prober{Client: &http.Client{Timeout: 15 * time.Second}}
}

func (p *Prober) Snapshot(ctx context.Context, landingURL string) (*PageCapture, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, landingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("probe: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("probe: %s returned %d", landingURL, resp.StatusCode)
	}

	body, err := safeurl.LimitedReadAll(resp.Body, safeurl.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("probe: read body: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("probe: parse html: %w", err)
	}

	capture := &PageCapture{
		Artifact:    body,
		ContentType: "text/html; charset=utf-8",
		Ext:         "html",
	}
	capture.H1 = strings.TrimSpace(doc.Find("h1").First().Text())
	capture.H2 = strings.TrimSpace(doc.Find("h2").First().Text())
	capture.FormPresent = doc.Find("form").Length() > 0
	capture.PixelPresent = detectPixel(doc)
	return capture, nil
}

// detectPixel looks for tracker loaders in script sources and for inline
// pixel bootstrap code.
func detectPixel(doc *goquery.Document) bool {
	found := false
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if src, ok := s.Attr("src"); ok {
			if strings.Contains(src, "googletagmanager.com/gtm.js") ||
				strings.Contains(src, "connect.facebook.net") {
				found = true
				return false
			}
			return true
		}
		text := s.Text()
		if strings.Contains(text, "fbq(") || strings.Contains(text, "dataLayer") {
			found = true
			return false
		}
		return true
	})
	return found
}
