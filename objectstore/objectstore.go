// Package objectstore holds snapshot screenshots. The production backend
// is any S3-compatible service; a deterministic in-memory backend covers
// tests and offline runs.
package objectstore

import "context"

// Store uploads immutable blobs and returns their public URL.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
}
