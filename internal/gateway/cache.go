package gateway

import (
	"container/heap"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Fingerprint computes spec.md §4.9's cache key: SHA-256 of a joined key
// built from the route prefix, method, path, sorted query values, user and
// workspace id, a permission-set fingerprint, and the configured
// query-param/header variance values. Two requests differing only in
// identity or permission set hash to different keys — caching is
// permission-aware by construction.
func Fingerprint(prefix, method, path string, query url.Values, identity *Identity, permsFingerprint string, rule *CacheRule, headers http.Header) string {
	var b strings.Builder
	fmt.Fprintf(&b, "prefix=%s|method=%s|path=%s", prefix, method, path)
	if len(query) > 0 {
		// Encode sorts by key, so parameter order does not change the key.
		fmt.Fprintf(&b, "|query=%s", query.Encode())
	}

	if rule != nil {
		for _, q := range rule.QueryVariants {
			fmt.Fprintf(&b, "|q:%s=%s", q, query.Get(q))
		}
		for _, h := range rule.HeaderVariants {
			fmt.Fprintf(&b, "|h:%s=%s", h, headers.Get(h))
		}
	}
	if identity != nil {
		fmt.Fprintf(&b, "|user:%d|workspace:%d|perms:%s", identity.UserID, identity.WorkspaceID, permsFingerprint)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// evictionItem tracks one cache entry's key and insertion time for the
// oldest-first eviction heap.
type evictionItem struct {
	key       string
	createdAt time.Time
	index     int
}

type evictionHeap []*evictionItem

func (h evictionHeap) Len() int            { return len(h) }
func (h evictionHeap) Less(i, j int) bool  { return h[i].createdAt.Before(h[j].createdAt) }
func (h evictionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *evictionHeap) Push(x any) {
	item := x.(*evictionItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *evictionHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Cache is a permission-aware, bounded-memory response cache. Eviction is
// oldest-first by created_at (spec.md §4.9 "Eviction"), implemented with
// container/heap rather than an LRU policy: the Open Question this spec
// resolves explicitly rejects recency-based eviction (see DESIGN.md's C9
// entry for the hashicorp/golang-lru rejection).
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]*CacheEntry
	items     map[string]*evictionItem
	heap      evictionHeap
	maxBytes  int64
	usedBytes int64

	evictions int64
}

func NewCache(maxBytes int64) *Cache {
	return &Cache{
		entries:  make(map[string]*CacheEntry),
		items:    make(map[string]*evictionItem),
		maxBytes: maxBytes,
	}
}

// Get returns the entry for key if present and not expired.
func (c *Cache) Get(key string, now time.Time) (*CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.IsExpired(now) {
		return nil, false
	}
	return e, true
}

// Put inserts or replaces key's entry, evicting oldest entries first until
// there is room under the memory cap.
func (c *Cache) Put(key string, entry *CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.usedBytes -= old.Size()
		c.removeFromHeapLocked(key)
	}

	size := entry.Size()
	for c.usedBytes+size > c.maxBytes && c.heap.Len() > 0 {
		oldest := heap.Pop(&c.heap).(*evictionItem)
		delete(c.items, oldest.key)
		if victim, ok := c.entries[oldest.key]; ok {
			c.usedBytes -= victim.Size()
			delete(c.entries, oldest.key)
			c.evictions++
		}
	}

	c.entries[key] = entry
	c.usedBytes += size
	item := &evictionItem{key: key, createdAt: entry.CreatedAt}
	c.items[key] = item
	heap.Push(&c.heap, item)
}

func (c *Cache) removeFromHeapLocked(key string) {
	item, ok := c.items[key]
	if !ok {
		return
	}
	heap.Remove(&c.heap, item.index)
	delete(c.items, key)
}

// Evictions returns the running eviction counter.
func (c *Cache) Evictions() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.evictions
}

// UsedBytes reports current memory usage.
func (c *Cache) UsedBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usedBytes
}
