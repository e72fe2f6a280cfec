package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Kevinzh0C/fechatter-core/internal/auth"
	"github.com/Kevinzh0C/fechatter-core/internal/config"
)

// AuditEmitter is the seam gateway middleware uses to raise audit events
// on CORS violations, auth failures, and rate-limit breaches (spec.md
// §4.9 step 3), wired to C10 by cmd/gateway.
type AuditEmitter func(kind, detail, remoteAddr string)

// corsMiddleware applies the configured CORS policy, short-circuiting
// disallowed origins.
func corsMiddleware(cfg config.CORSCfg, audit AuditEmitter) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.Origins))
	wildcard := false
	for _, o := range cfg.Origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		_, ok := allowed[origin]
		if !wildcard && !ok {
			audit("cors_violation", "origin not allowed: "+origin, c.ClientIP())
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", strings.Join(cfg.Methods, ", "))
		c.Header("Access-Control-Allow-Headers", strings.Join(cfg.Headers, ", "))
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// rateLimiter is a token-bucket limiter keyed by identity (preferred) or
// client IP (spec.md §4.9 step 3: "token-bucket keyed by identity or IP").
type rateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newRateLimiter(cfg config.RateLimitCfg) *rateLimiter {
	rps := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	return &rateLimiter{buckets: make(map[string]*rate.Limiter), rps: rps, burst: cfg.BurstSize}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = rate.NewLimiter(rl.rps, rl.burst)
		rl.buckets[key] = b
	}
	rl.mu.Unlock()
	return b.Allow()
}

func rateLimitMiddleware(rl *rateLimiter, audit AuditEmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if id, ok := c.Get(identityContextKey); ok {
			if ident, ok := id.(*Identity); ok {
				key = ident.userKey()
			}
		}
		if !rl.allow(key) {
			audit("rate_limit_breach", key, c.ClientIP())
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}

func (id *Identity) userKey() string {
	if id == nil {
		return ""
	}
	return "user:" + strconv.FormatInt(id.UserID, 10)
}

const identityContextKey = "gateway.identity"

// authMiddleware verifies the bearer token when present. It never rejects
// anonymous requests outright — routes without a cache rule or mutating
// method may be public; downstream handlers that require an identity
// check c.Get(identityContextKey) themselves. An invalid (present but
// unparseable) token is always rejected and audited.
func authMiddleware(jwtManager *auth.JWTManager, audit AuditEmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractTokenFromHeader(c.Request)
		if err != nil {
			c.Next()
			return
		}
		claims, err := jwtManager.Verify(token)
		if err != nil {
			audit("auth_failure", err.Error(), c.ClientIP())
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(identityContextKey, &Identity{UserID: claims.UserID, WorkspaceID: claims.WorkspaceID, Permissions: claims.Permissions})
		c.Next()
	}
}

func identityFromContext(c *gin.Context) *Identity {
	v, ok := c.Get(identityContextKey)
	if !ok {
		return nil
	}
	ident, _ := v.(*Identity)
	return ident
}

