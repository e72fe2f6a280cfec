package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Kevinzh0C/fechatter-core/internal/auth"
	"github.com/Kevinzh0C/fechatter-core/internal/config"
	"github.com/Kevinzh0C/fechatter-core/internal/message"
	"github.com/Kevinzh0C/fechatter-core/internal/metrics"
)

// upstreamTimeout is spec.md §5's 30s proxy-upstream deadline.
const upstreamTimeout = 30 * time.Second

const defaultCacheTTL = 300 * time.Second

// Engine is C9's primary proxy engine: gin-based request flow implementing
// spec.md §4.9 steps 1-6 in order (route -> CORS/rate-limit/auth ->
// cache lookup -> proxy -> cache store -> audit).
type Engine struct {
	routes []Route
	lb     *LoadBalancer
	cache  *Cache
	jwt    *auth.JWTManager
	reg    *metrics.Registry
	log    zerolog.Logger
	audit  AuditEmitter
	client *http.Client

	rl *rateLimiter
}

func NewEngine(routes []Route, lb *LoadBalancer, cache *Cache, jwtManager *auth.JWTManager, cors config.CORSCfg, rateLimit config.RateLimitCfg, reg *metrics.Registry, log zerolog.Logger, audit AuditEmitter) *Engine {
	if audit == nil {
		audit = func(kind, detail, remoteAddr string) {}
	}
	e := &Engine{
		routes: routes, lb: lb, cache: cache, jwt: jwtManager, reg: reg, log: log, audit: audit,
		client: &http.Client{Timeout: upstreamTimeout},
		rl:     newRateLimiter(rateLimit),
	}
	for _, r := range routes {
		e.lb.SetPool(r.PathPrefix, r.Upstreams)
	}
	return e
}

// Handler builds the gin engine implementing the full request flow.
func (e *Engine) Handler(cors config.CORSCfg) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(cors, e.audit))
	r.Use(authMiddleware(e.jwt, e.audit))
	r.Use(rateLimitMiddleware(e.rl, e.audit))
	r.NoRoute(e.handle)
	return r
}

func (e *Engine) routeFor(path string) (Route, bool) {
	var best Route
	found := false
	for _, r := range e.routes {
		if strings.HasPrefix(path, r.PathPrefix) && len(r.PathPrefix) >= len(best.PathPrefix) {
			best = r
			found = true
		}
	}
	return best, found
}

func (e *Engine) handle(c *gin.Context) {
	start := time.Now()
	route, ok := e.routeFor(c.Request.URL.Path)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	identity := identityFromContext(c)
	rule := cacheRuleFor(route, c.Request.Method)

	var permsFP string
	if identity != nil {
		perms := make(message.Permissions, len(identity.Permissions))
		for i, p := range identity.Permissions {
			perms[i] = message.Permission(p)
		}
		permsFP = perms.Fingerprint()
	}

	cacheable := rule != nil && identity != nil
	var cacheKey string
	if cacheable {
		cacheKey = Fingerprint(route.PathPrefix, c.Request.Method, c.Request.URL.Path, c.Request.URL.Query(), identity, permsFP, rule, c.Request.Header)
		if entry, hit := e.cache.Get(cacheKey, time.Now()); hit {
			e.reg.GatewayCacheHits.Inc()
			for k, v := range entry.Headers {
				c.Header(k, v)
			}
			remaining := entry.TTLSeconds - int64(time.Since(entry.CreatedAt).Seconds())
			c.Header("X-Cache", "HIT")
			c.Header("X-Cache-TTL", fmt.Sprintf("%d", remaining))
			c.Header("X-Cache-Created", fmt.Sprintf("%d", entry.CreatedAt.Unix()))
			c.Data(entry.StatusCode, entry.Headers["Content-Type"], entry.Content)
			e.audit("gateway_request", fmt.Sprintf("cache_hit path=%s status=%d", c.Request.URL.Path, entry.StatusCode), c.ClientIP())
			return
		}
		e.reg.GatewayCacheMiss.Inc()
	}

	upstreamURL, err := e.lb.Select(route.PathPrefix)
	if err != nil {
		e.reg.GatewayRequests.WithLabelValues("error").Inc()
		c.AbortWithStatus(http.StatusBadGateway)
		e.audit("gateway_request", "no healthy upstream: "+err.Error(), c.ClientIP())
		return
	}

	status, respHeaders, body, err := e.proxyOnce(c, upstreamURL)
	if err != nil {
		e.reg.GatewayRequests.WithLabelValues("error").Inc()
		c.AbortWithStatus(http.StatusBadGateway)
		e.audit("gateway_request", fmt.Sprintf("upstream error: %v", err), c.ClientIP())
		return
	}

	c.Header("X-Cache", "MISS")
	for k, v := range respHeaders {
		if len(v) > 0 {
			c.Header(k, v[0])
		}
	}
	c.Data(status, respHeaders.Get("Content-Type"), body)

	if cacheable && status >= 200 && status < 300 {
		ttl := defaultCacheTTL
		if rule.TTL > 0 {
			ttl = rule.TTL
		}
		headerCopy := make(map[string]string, len(respHeaders))
		for k := range respHeaders {
			headerCopy[k] = respHeaders.Get(k)
		}
		before := e.cache.Evictions()
		e.cache.Put(cacheKey, &CacheEntry{
			Content: body, StatusCode: status, Headers: headerCopy,
			CreatedAt: time.Now(), TTLSeconds: int64(ttl.Seconds()),
			ETag: respHeaders.Get("ETag"), PermissionsHash: permsFP,
		})
		if delta := e.cache.Evictions() - before; delta > 0 {
			e.reg.GatewayEvictions.Add(float64(delta))
		}
	}

	e.reg.GatewayRequests.WithLabelValues(fmt.Sprintf("%dxx", status/100)).Inc()
	e.audit("gateway_request", fmt.Sprintf("path=%s status=%d duration_ms=%d", c.Request.URL.Path, status, time.Since(start).Milliseconds()), c.ClientIP())
}

func cacheRuleFor(route Route, method string) *CacheRule {
	if route.CacheRule == nil {
		return nil
	}
	for _, m := range route.CacheRule.Methods {
		if strings.EqualFold(m, method) {
			return route.CacheRule
		}
	}
	return nil
}

func (e *Engine) proxyOnce(c *gin.Context, upstreamBase string) (int, http.Header, []byte, error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), upstreamTimeout)
	defer cancel()

	target, err := url.Parse(upstreamBase)
	if err != nil {
		return 0, nil, nil, err
	}
	target.Path = c.Request.URL.Path
	target.RawQuery = c.Request.URL.RawQuery

	var bodyBytes []byte
	if c.Request.Body != nil {
		bodyBytes, _ = io.ReadAll(c.Request.Body)
	}

	req, err := http.NewRequestWithContext(ctx, c.Request.Method, target.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header = c.Request.Header.Clone()

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, respBody, nil
}

// FallbackHandler is the stable reverse proxy C9 falls back to on primary
// engine creation failure or runtime panic (spec.md §4.9 "Degradation"):
// a bare net/http/httputil.ReverseProxy per route prefix, with no
// auth/cache/rate-limit layer, serving the same upstream pools.
type FallbackHandler struct {
	mu     sync.RWMutex
	mux    *http.ServeMux
}

func NewFallbackHandler(routes []Route) *FallbackHandler {
	mux := http.NewServeMux()
	for _, r := range routes {
		if len(r.Upstreams) == 0 {
			continue
		}
		target, err := url.Parse(r.Upstreams[0])
		if err != nil {
			continue
		}
		mux.Handle(r.PathPrefix, httputil.NewSingleHostReverseProxy(target))
	}
	return &FallbackHandler{mux: mux}
}

func (f *FallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	f.mux.ServeHTTP(w, r)
}

// Server wraps Engine and FallbackHandler, switching to the fallback if
// building or running the primary engine panics, and exposing which mode
// is active via Degraded (spec.md §4.9: "Fallback is logged loudly and
// exposed in status").
type Server struct {
	primary  http.Handler
	fallback http.Handler
	log      zerolog.Logger
	reg      *metrics.Registry

	mu       sync.RWMutex
	degraded bool
}

func NewServer(routes []Route, engineFactory func() (http.Handler, error), reg *metrics.Registry, log zerolog.Logger) *Server {
	s := &Server{fallback: NewFallbackHandler(routes), log: log, reg: reg}
	primary, err := safeBuildEngine(engineFactory)
	if err != nil {
		log.Error().Err(err).Msg("gateway: primary engine failed to initialize, falling back to stable reverse proxy")
		s.degraded = true
		reg.GatewayFallbacks.Inc()
		return s
	}
	s.primary = primary
	return s
}

func safeBuildEngine(factory func() (http.Handler, error)) (h http.Handler, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gateway: panic building primary engine: %v", r)
		}
	}()
	return factory()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	degraded := s.degraded
	s.mu.RUnlock()

	if degraded || s.primary == nil {
		s.fallback.ServeHTTP(w, r)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Msg("gateway: primary engine panicked, falling back to stable reverse proxy")
			s.mu.Lock()
			s.degraded = true
			s.mu.Unlock()
			s.reg.GatewayFallbacks.Inc()
			s.fallback.ServeHTTP(w, r)
		}
	}()
	s.primary.ServeHTTP(w, r)
}

// Degraded reports whether the server has fallen back to the stable proxy.
func (s *Server) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}
