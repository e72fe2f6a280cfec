package gateway

import (
	"fmt"
	"sync"
	"time"
)

// probeWindow is how recently a health probe must have succeeded for a
// backend to count as healthy (spec.md §4.9: "healthy when its last probe
// succeeded within the probe window").
const probeWindow = 15 * time.Second

type backend struct {
	url        string
	lastProbe  time.Time
	lastProbeOK bool
}

// LoadBalancer round-robins over the healthy members of a named upstream
// pool, adapted from cuemby-warren/pkg/ingress/loadbalancer.go's
// SelectBackend: same per-pool round-robin index under a mutex, same
// healthy-filter-then-select shape, retargeted from gRPC container
// discovery onto a static configured URL list with periodic HTTP probes.
type LoadBalancer struct {
	mu      sync.Mutex
	pools   map[string][]*backend
	indexes map[string]int
}

func NewLoadBalancer() *LoadBalancer {
	return &LoadBalancer{pools: make(map[string][]*backend), indexes: make(map[string]int)}
}

// SetPool (re)configures the backend URL list for a named pool, preserving
// any existing health state for URLs that persist across the update.
func (lb *LoadBalancer) SetPool(name string, urls []string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	existing := make(map[string]*backend)
	for _, b := range lb.pools[name] {
		existing[b.url] = b
	}
	backends := make([]*backend, 0, len(urls))
	for _, u := range urls {
		if b, ok := existing[u]; ok {
			backends = append(backends, b)
			continue
		}
		backends = append(backends, &backend{url: u, lastProbeOK: true, lastProbe: time.Now()})
	}
	lb.pools[name] = backends
}

// RecordProbe updates a backend's health state from an out-of-band health
// check.
func (lb *LoadBalancer) RecordProbe(poolName, url string, ok bool, at time.Time) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	for _, b := range lb.pools[poolName] {
		if b.url == url {
			b.lastProbe = at
			b.lastProbeOK = ok
			return
		}
	}
}

// Select returns the next healthy backend URL for poolName, round-robin.
func (lb *LoadBalancer) Select(poolName string) (string, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	pool := lb.pools[poolName]
	if len(pool) == 0 {
		return "", fmt.Errorf("gateway: no upstreams configured for pool %q", poolName)
	}

	now := time.Now()
	healthy := make([]*backend, 0, len(pool))
	for _, b := range pool {
		if b.lastProbeOK && now.Sub(b.lastProbe) <= probeWindow {
			healthy = append(healthy, b)
		}
	}
	if len(healthy) == 0 {
		return "", fmt.Errorf("gateway: no healthy upstreams for pool %q", poolName)
	}

	idx := lb.indexes[poolName] % len(healthy)
	lb.indexes[poolName] = (idx + 1) % len(healthy)
	return healthy[idx].url, nil
}
