package gateway

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kevinzh0C/fechatter-core/internal/auth"
	"github.com/Kevinzh0C/fechatter-core/internal/config"
	"github.com/Kevinzh0C/fechatter-core/internal/metrics"
)

// metrics.NewRegistry registers every collector against the default
// Prometheus registry via promauto, which panics on duplicate
// registration — every test in this package shares one Registry instance
// rather than each constructing its own.
var (
	testRegistryOnce sync.Once
	testRegistry     *metrics.Registry
)

func sharedTestRegistry() *metrics.Registry {
	testRegistryOnce.Do(func() { testRegistry = metrics.NewRegistry() })
	return testRegistry
}

func TestFingerprintVariesByIdentityAndPermissions(t *testing.T) {
	query := url.Values{}
	alice := &Identity{UserID: 1, WorkspaceID: 9}
	bob := &Identity{UserID: 2, WorkspaceID: 9}

	fpAlice := Fingerprint("/api", "GET", "/api/chats/1", query, alice, "aaaaaaaa", nil, http.Header{})
	fpBob := Fingerprint("/api", "GET", "/api/chats/1", query, bob, "aaaaaaaa", nil, http.Header{})
	assert.NotEqual(t, fpAlice, fpBob, "different identities must yield different cache keys")

	fpAliceAdmin := Fingerprint("/api", "GET", "/api/chats/1", query, alice, "bbbbbbbb", nil, http.Header{})
	assert.NotEqual(t, fpAlice, fpAliceAdmin, "different permission fingerprints must yield different cache keys")
}

func TestCacheEvictsOldestFirstUnderMemoryCap(t *testing.T) {
	c := NewCache(30)
	now := time.Now()
	c.Put("a", &CacheEntry{Content: []byte("0123456789"), CreatedAt: now, TTLSeconds: 60})
	c.Put("b", &CacheEntry{Content: []byte("0123456789"), CreatedAt: now.Add(time.Second), TTLSeconds: 60})
	c.Put("c", &CacheEntry{Content: []byte("0123456789"), CreatedAt: now.Add(2 * time.Second), TTLSeconds: 60})

	_, aStillThere := c.Get("a", now)
	assert.True(t, aStillThere)

	c.Put("d", &CacheEntry{Content: []byte("0123456789"), CreatedAt: now.Add(3 * time.Second), TTLSeconds: 60})

	_, aStillThere = c.Get("a", now)
	assert.False(t, aStillThere, "oldest entry should be evicted first")
	assert.Equal(t, int64(1), c.Evictions())
}

func TestCacheEntryExpiresAfterTTL(t *testing.T) {
	e := &CacheEntry{CreatedAt: time.Now().Add(-61 * time.Second), TTLSeconds: 60}
	assert.True(t, e.IsExpired(time.Now()))

	fresh := &CacheEntry{CreatedAt: time.Now(), TTLSeconds: 60}
	assert.False(t, fresh.IsExpired(time.Now()))
}

func TestLoadBalancerRoundRobinsOverHealthyBackends(t *testing.T) {
	lb := NewLoadBalancer()
	lb.SetPool("svc", []string{"http://a", "http://b"})
	now := time.Now()
	lb.RecordProbe("svc", "http://a", true, now)
	lb.RecordProbe("svc", "http://b", true, now)

	first, err := lb.Select("svc")
	require.NoError(t, err)
	second, err := lb.Select("svc")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestLoadBalancerSkipsUnhealthyBackends(t *testing.T) {
	lb := NewLoadBalancer()
	lb.SetPool("svc", []string{"http://a", "http://b"})
	now := time.Now()
	lb.RecordProbe("svc", "http://a", false, now)
	lb.RecordProbe("svc", "http://b", true, now)

	for i := 0; i < 3; i++ {
		selected, err := lb.Select("svc")
		require.NoError(t, err)
		assert.Equal(t, "http://b", selected)
	}
}

func TestLoadBalancerErrorsWhenAllUnhealthy(t *testing.T) {
	lb := NewLoadBalancer()
	lb.SetPool("svc", []string{"http://a"})
	lb.RecordProbe("svc", "http://a", false, time.Now())

	_, err := lb.Select("svc")
	assert.Error(t, err)
}

func newTestEngine(t *testing.T, upstream *httptest.Server) (*Engine, *metrics.Registry) {
	lb := NewLoadBalancer()
	route := Route{
		PathPrefix: "/api",
		Upstreams:  []string{upstream.URL},
		CacheRule:  &CacheRule{Methods: []string{"GET"}, TTL: time.Minute},
	}
	lb.SetPool(route.PathPrefix, route.Upstreams)
	lb.RecordProbe(route.PathPrefix, upstream.URL, true, time.Now())

	cache := NewCache(1 << 20)
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	reg := sharedTestRegistry()

	e := NewEngine([]Route{route}, lb, cache, jwtManager, config.CORSCfg{Origins: []string{"*"}}, config.RateLimitCfg{RequestsPerMinute: 6000, BurstSize: 100}, reg, zerolog.Nop(), nil)
	return e, reg
}

func TestGatewayServesCacheHitOnSecondIdenticalRequest(t *testing.T) {
	hits := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	e, _ := newTestEngine(t, upstream)
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	token, err := jwtManager.Generate(1, 9, "alice", []string{"chat.member"})
	require.NoError(t, err)

	handler := e.Handler(config.CORSCfg{Origins: []string{"*"}})

	req1 := httptest.NewRequest(http.MethodGet, "/api/chats/1", nil)
	req1.Header.Set("Authorization", "Bearer "+token)
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req1)
	require.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, "MISS", w1.Header().Get("X-Cache"))

	req2 := httptest.NewRequest(http.MethodGet, "/api/chats/1", nil)
	req2.Header.Set("Authorization", "Bearer "+token)
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, "HIT", w2.Header().Get("X-Cache"))
	assert.NotEmpty(t, w2.Header().Get("X-Cache-TTL"))
	assert.NotEmpty(t, w2.Header().Get("X-Cache-Created"))

	assert.Equal(t, 1, hits, "second request should be served from cache, not hit upstream again")
}

func TestGatewayCachePermissionIsolationAcrossUsers(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	e, _ := newTestEngine(t, upstream)
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	aliceToken, _ := jwtManager.Generate(1, 9, "alice", []string{"chat.member"})
	bobToken, _ := jwtManager.Generate(2, 9, "bob", []string{"chat.admin"})

	handler := e.Handler(config.CORSCfg{Origins: []string{"*"}})

	req1 := httptest.NewRequest(http.MethodGet, "/api/chats/1", nil)
	req1.Header.Set("Authorization", "Bearer "+aliceToken)
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req1)
	assert.Equal(t, "MISS", w1.Header().Get("X-Cache"))

	req2 := httptest.NewRequest(http.MethodGet, "/api/chats/1", nil)
	req2.Header.Set("Authorization", "Bearer "+bobToken)
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	assert.Equal(t, "MISS", w2.Header().Get("X-Cache"), "different user/permissions must not reuse alice's cache entry")
}

func TestGatewayRejectsInvalidBearerToken(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	e, _ := newTestEngine(t, upstream)
	handler := e.Handler(config.CORSCfg{Origins: []string{"*"}})

	req := httptest.NewRequest(http.MethodGet, "/api/chats/1", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServerFallsBackWhenPrimaryEngineFactoryFails(t *testing.T) {
	route := Route{PathPrefix: "/api", Upstreams: []string{"http://127.0.0.1:9"}}
	reg := sharedTestRegistry()
	srv := NewServer([]Route{route}, func() (http.Handler, error) {
		panic("simulated primary engine failure")
	}, reg, zerolog.Nop())

	assert.True(t, srv.Degraded())
}
