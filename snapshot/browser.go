package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the headless Chrome capturer.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// NavTimeout bounds navigation plus extraction per page. Default: 15s.
	// DOMContentLoaded is the readiness signal, not full load; slow
	// third-party trackers must not eat the whole budget.
	NavTimeout time.Duration

	Logger *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser captures landing pages with headless Chrome. Each capture runs
// in its own stealth page; the Chrome process is shared.
type Browser struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowser creates a capturer. Call Start before the first capture.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance).
func (b *Browser) Start(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("snapshot: browser is closed")
	}

	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("snapshot: launch chrome: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.cfg.Logger.Info("snapshot: launched local chrome", "url", wsURL)
	} else {
		b.cfg.Logger.Info("snapshot: connecting to remote chrome", "url", wsURL)
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		return fmt.Errorf("snapshot: connect: %w", err)
	}
	if err := br.IgnoreCertErrors(true); err != nil {
		b.cfg.Logger.Warn("snapshot: ignore cert errors failed", "error", err)
	}
	b.browser = br
	return nil
}

// Close shuts Chrome down.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.browser != nil {
		b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return nil
}

// Snapshot navigates to the landing page in an isolated stealth page,
// extracts the DOM signals, and takes a full-page screenshot. The page is
// always closed, including on error.
func (b *Browser) Snapshot(ctx context.Context, landingURL string) (*PageCapture, error) {
	b.mu.Lock()
	br := b.browser
	b.mu.Unlock()
	if br == nil {
		return nil, fmt.Errorf("snapshot: browser not started")
	}

	page, err := stealth.Page(br)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create page: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavTimeout)
	defer cancel()
	p := page.Context(navCtx)

	wait := p.WaitEvent(&proto.PageDomContentEventFired{})
	if err := p.Navigate(landingURL); err != nil {
		return nil, fmt.Errorf("snapshot: navigate %s: %w", landingURL, err)
	}
	wait()
	if navCtx.Err() != nil {
		return nil, fmt.Errorf("snapshot: navigate %s: %w", landingURL, navCtx.Err())
	}

	capture := &PageCapture{ContentType: "image/png", Ext: "png"}
	b.extractSignals(p, capture)

	shot, err := p.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: screenshot %s: %w", landingURL, err)
	}
	capture.Artifact = shot
	return capture, nil
}

// extractSignals reads the DOM signals in one evaluation. Every signal is
// wrapped in its own try/catch in the page, so a hostile or broken page
// degrades individual signals to empty/false instead of failing the job.
func (b *Browser) extractSignals(p *rod.Page, capture *PageCapture) {
	res, err := p.Eval(signalScript)
	if err != nil {
		b.cfg.Logger.Warn("snapshot: signal extraction failed", "error", err)
		return
	}
	capture.H1 = res.Value.Get("h1").Str()
	capture.H2 = res.Value.Get("h2").Str()
	capture.FormPresent = res.Value.Get("form").Bool()
	capture.PixelPresent = res.Value.Get("pixel").Bool()
}

const signalScript = `() => {
	const sig = { h1: "", h2: "", form: false, pixel: false };
	try {
		const h1 = document.querySelector("h1");
		if (h1) sig.h1 = (h1.textContent || "").trim();
	} catch (e) {}
	try {
		const h2 = document.querySelector("h2");
		if (h2) sig.h2 = (h2.textContent || "").trim();
	} catch (e) {}
	try {
		sig.form = document.querySelector("form") !== null;
	} catch (e) {}
	try {
		sig.pixel = typeof window.fbq === "function" || Array.isArray(window.dataLayer);
		if (!sig.pixel) {
			sig.pixel = Array.from(document.querySelectorAll("script[src]")).some(s =>
				s.src.includes("googletagmanager.com/gtm.js") ||
				s.src.includes("connect.facebook.net"));
		}
	} catch (e) {}
	return sig;
}`
