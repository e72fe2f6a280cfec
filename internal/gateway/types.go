// Package gateway implements C9: an authenticating reverse proxy with a
// permission-aware response cache, falling back from a primary proxy
// engine to a stable one on failure (spec.md §4.9). Grounded on
// cuemby-warren/pkg/ingress/proxy.go's dual-server/graceful-shutdown
// structure and loadbalancer.go's round-robin-over-healthy-backends
// selection, paired with go-server/internal/auth/jwt.go's bearer
// verification (internal/auth, reused directly rather than duplicated).
package gateway

import (
	"time"
)

// Route maps a path prefix to an upstream pool and, optionally, a cache
// rule (spec.md §4.9 step 2/4).
type Route struct {
	PathPrefix string
	Upstreams  []string // base URLs, e.g. "http://127.0.0.1:9001"
	CacheRule  *CacheRule
}

// CacheRule names which methods are cacheable under a route and what TTL
// and variance keys apply.
type CacheRule struct {
	Methods        []string
	TTL            time.Duration
	QueryVariants  []string // query params whose value varies the cache key
	HeaderVariants []string // headers whose value varies the cache key
}

// CacheEntry is spec.md §3's CacheEntry verbatim: content, status, headers,
// created_at, ttl, optional etag/permissions hash.
type CacheEntry struct {
	Content          []byte
	StatusCode       int
	Headers          map[string]string
	CreatedAt        time.Time
	TTLSeconds       int64
	ETag             string
	PermissionsHash  string
}

// IsExpired implements the CacheEntry invariant: now > created_at + ttl.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// Size is the byte footprint counted against the memory cap.
func (e *CacheEntry) Size() int64 {
	n := int64(len(e.Content))
	for k, v := range e.Headers {
		n += int64(len(k) + len(v))
	}
	return n
}

// Identity is the authenticated principal a request carries once auth
// succeeds — resolved from internal/auth.Claims, not trusted from the
// client directly.
type Identity struct {
	UserID      int64
	WorkspaceID int64
	Permissions []string
}
