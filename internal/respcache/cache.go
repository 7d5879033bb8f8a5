// Package respcache memoizes successful platform API responses under TTLs so
// dashboard reads don't spend rate-limit budget on repeat queries.
package respcache

import (
	"context"
	"strings"
	"time"
)

// Entry is a cached platform response body with its content type.
type Entry struct {
	Body        []byte `json:"body"`
	ContentType string `json:"content_type,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// Cache is the response-cache contract. Implementations are safe for
// concurrent use. Only successful responses belong in the cache; callers
// enforce that.
type Cache interface {
	// Get returns the entry for key, or ok=false on a miss or expiry.
	Get(ctx context.Context, key string) (*Entry, bool)

	// Set stores an entry under key for ttl. A non-positive ttl falls back
	// to the backend default.
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// InvalidatePrefix drops every entry whose key starts with prefix.
	// Used when fresh data lands for an account (e.g. a platform webhook).
	InvalidatePrefix(ctx context.Context, prefix string) error

	// Close releases backend resources.
	Close() error
}

// Key builds a cache key from its parts. Parts are joined with ":" so that
// prefix invalidation by platform or by platform and scope works naturally.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
