package streamable

import "github.com/google/uuid"

// newRandomID derives a URL-safe session identifier from a UUIDv4. length is
// advisory only (UUIDs are a fixed 36 characters once hyphenated); kept as a
// parameter so callers read intent at the call site.
func newRandomID(length int) string {
	return uuid.NewString()
}
