package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTargets(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write targets: %v", err)
	}
	return path
}

// WHAT: a well-formed watch list parses into competitors.
func TestLoadTargets(t *testing.T) {
	path := writeTargets(t, `
competitors:
  - account_id: acct-1
    competitor_id: comp-1
    advertiser: Acme
    platform: meta
  - account_id: acct-1
    competitor_id: comp-2
    advertiser: Globex
    platform: tiktok
`)
	targets, err := LoadTargets(path)
	if err != nil {
		t.Fatalf("LoadTargets: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(targets))
	}
	if targets[1].Advertiser != "Globex" || targets[1].Platform != "tiktok" {
		t.Fatalf("second target = %+v", targets[1])
	}
}

// WHAT: unsupported platforms and incomplete entries are rejected at load.
// WHY: a bad watch list should fail startup, not silently skip competitors
// every pass.
func TestLoadTargets_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad platform": `
competitors:
  - {account_id: a, competitor_id: c, advertiser: X, platform: myspace}
`,
		"missing advertiser": `
competitors:
  - {account_id: a, competitor_id: c, platform: meta}
`,
	}
	for name, body := range cases {
		if _, err := LoadTargets(writeTargets(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
