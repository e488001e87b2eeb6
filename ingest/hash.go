package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/hazyhaar/pubwatch/adsource"
)

// Hash derives the content identity of an observed ad: a sha256 over the
// fields that define the creative, each length-prefixed so field
// boundaries cannot be forged by crafted input ("ab"+"c" vs "a"+"bc").
// Upstream ad IDs are deliberately excluded; providers reissue the same
// creative under new identifiers.
func Hash(ad adsource.RawAd) string {
	h := sha256.New()
	write := func(field string) {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	write(ad.Platform)
	write(ad.AdvertiserName)
	write(ad.Copy)
	write(ad.CTA)
	write(ad.LandingURL)
	for _, u := range ad.AssetURLs() {
		write(u)
	}
	return hex.EncodeToString(h.Sum(nil))
}
