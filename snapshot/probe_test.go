package snapshot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

const probePage = `<!doctype html>
<html><head>
<script src="https://www.googletagmanager.com/gtm.js?id=GTM-XYZ"></script>
</head><body>
<h1> Spring Sale </h1>
<h2>Up to 50% off</h2>
<form action="/signup"><input name="email"></form>
</body></html>`

// WHAT: the HTTP probe extracts the same signals the browser path does
// from static markup, and keeps the raw HTML as the artifact.
func TestProber_Snapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, probePage)
	}))
	defer srv.Close()

	p := NewProber()
	p.Client = srv.Client()

	capture, err := p.Snapshot(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if capture.H1 != "Spring Sale" {
		t.Fatalf("H1 = %q", capture.H1)
	}
	if capture.H2 != "Up to 50% off" {
		t.Fatalf("H2 = %q", capture.H2)
	}
	if !capture.FormPresent {
		t.Fatal("form not detected")
	}
	if !capture.PixelPresent {
		t.Fatal("GTM loader not detected")
	}
	if capture.Ext != "html" || len(capture.Artifact) == 0 {
		t.Fatalf("artifact = ext %q, %d bytes", capture.Ext, len(capture.Artifact))
	}
}

// WHAT: missing signals degrade to empty/false, not errors.
func TestProber_SparsePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><p>nothing here</p></body></html>`)
	}))
	defer srv.Close()

	p := NewProber()
	p.Client = srv.Client()

	capture, err := p.Snapshot(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if capture.H1 != "" || capture.H2 != "" || capture.FormPresent || capture.PixelPresent {
		t.Fatalf("sparse page signals = %+v", capture)
	}
}

// WHAT: inline Facebook pixel bootstrap code counts as a pixel.
func TestProber_InlinePixel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><script>fbq('init','123');fbq('track','PageView');</script></head><body></body></html>`)
	}))
	defer srv.Close()

	p := NewProber()
	p.Client = srv.Client()

	capture, err := p.Snapshot(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !capture.PixelPresent {
		t.Fatal("inline fbq bootstrap not detected")
	}
}

// WHAT: non-200 responses are errors, so the worker's retry applies.
func TestProber_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	p := NewProber()
	p.Client = srv.Client()

	if _, err := p.Snapshot(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 410 response")
	}
}
