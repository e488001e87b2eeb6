package ingest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pubwatch/catalog"
)

// Competitor is one watch target: an advertiser tracked for an account on
// one platform.
type Competitor struct {
	AccountID    string `yaml:"account_id"`
	CompetitorID string `yaml:"competitor_id"`
	Advertiser   string `yaml:"advertiser"`
	Platform     string `yaml:"platform"`
}

type targetsFile struct {
	Competitors []Competitor `yaml:"competitors"`
}

// LoadTargets reads the competitor watch list from a YAML file and
// rejects entries the pipeline cannot process.
func LoadTargets(path string) ([]Competitor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}
	var f targetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("load targets: parse %s: %w", path, err)
	}
	for i, c := range f.Competitors {
		if c.AccountID == "" || c.CompetitorID == "" || c.Advertiser == "" {
			return nil, fmt.Errorf("load targets: entry %d: account_id, competitor_id and advertiser are required", i)
		}
		if !catalog.ValidPlatform(catalog.Platform(c.Platform)) {
			return nil, fmt.Errorf("load targets: entry %d: unsupported platform %q", i, c.Platform)
		}
	}
	return f.Competitors, nil
}
