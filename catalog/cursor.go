package catalog

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Cursor identifies the last row of the previous page in the
// (fetched_at DESC, id DESC) scan order.
type Cursor struct {
	FetchedAt int64  // unix milliseconds
	ID        string
}

// cursorWire is the external JSON shape: {"fetchedAt": ISO-8601, "id": uuid}.
type cursorWire struct {
	FetchedAt string `json:"fetchedAt"`
	ID        string `json:"id"`
}

// EncodeCursor produces the opaque base64 token handed to clients.
// URL-safe alphabet: tokens travel in query strings.
func EncodeCursor(c Cursor) string {
	w := cursorWire{
		FetchedAt: time.UnixMilli(c.FetchedAt).UTC().Format(time.RFC3339Nano),
		ID:        c.ID,
	}
	data, _ := json.Marshal(w)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a client-supplied token. A malformed token returns
// nil — the scan restarts from the beginning, never a hard error.
func DecodeCursor(token string) *Cursor {
	if token == "" {
		return nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil
	}
	var w cursorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, w.FetchedAt)
	if err != nil || w.ID == "" {
		return nil
	}
	return &Cursor{FetchedAt: ts.UnixMilli(), ID: w.ID}
}
