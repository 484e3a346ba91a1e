package query

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// DefaultCacheCapacity bounds the rewrite cache.
const DefaultCacheCapacity = 1000

// Outcome is a memoized rewrite decision for one normalized query.
type Outcome struct {
	Rewritten string
	Decided   time.Time
}

type cacheEntry struct {
	key     string
	outcome Outcome
}

// Cache memoizes rewrite outcomes per normalized query with LRU
// eviction. It is the only shared mutable state in the engine: all
// mutation goes through GetOrCompute, which serializes compute-and-store
// under one mutex so the LRU bookkeeping can never be corrupted by
// concurrent callers. The cache lives for the process lifetime only.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

// NewCache creates a cache holding at most capacity entries. A
// non-positive capacity falls back to DefaultCacheCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// NormalizeKey produces the cache key: trimmed and case-folded.
func NormalizeKey(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// GetOrCompute returns the cached outcome for key, or invokes compute,
// stores its result, and returns it. Failed computations are not cached:
// a transient rewriter outage must not pin the degraded path until
// eviction. Holding the lock across compute trades rewrite latency under
// contention for single-flight behaviour per process.
func (c *Cache) GetOrCompute(key string, compute func() (Outcome, error)) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).outcome, nil
	}

	outcome, err := compute()
	if err != nil {
		return Outcome{}, err
	}

	el := c.order.PushFront(&cacheEntry{key: key, outcome: outcome})
	c.entries[key] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	return outcome, nil
}

// Get reports whether key is cached, refreshing its recency on a hit.
func (c *Cache) Get(key string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return Outcome{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).outcome, true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
