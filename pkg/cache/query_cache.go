// Package cache provides a bounded LRU+TTL cache for planner search
// results, avoiding a repeat three-axis fan-out for identical queries.
// The LRU bookkeeping is hashicorp/golang-lru; this package wraps it with
// the TTL and hit/miss accounting the planner's result cache needs on
// top.
package cache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryCache is a thread-safe LRU cache for planner.Search results,
// keyed by a hash of the query shape (Key).
type QueryCache struct {
	mu sync.RWMutex

	maxSize int
	ttl     time.Duration
	enabled bool

	lru *lru.Cache[uint64, *cacheEntry]

	hits   uint64
	misses uint64
}

// cacheEntry holds a cached item with metadata.
type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// NewQueryCache creates a new result cache.
//
// maxSize is the maximum number of cached result sets (LRU eviction when
// exceeded; <=0 defaults to 1000). ttl is how long a cached result stays
// valid (0 means no expiration, eviction is LRU-only).
func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	c, err := lru.New[uint64, *cacheEntry](maxSize)
	if err != nil {
		// Only returned for a non-positive size, which maxSize can no
		// longer be by this point.
		panic(err)
	}
	return &QueryCache{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		lru:     c,
	}
}

// Key hashes a query's shape (its serialized field values, as produced by
// the caller) into a cache key. Two calls with byte-identical shape
// strings collide to the same key; callers are responsible for
// serializing the query fields that affect the result set.
func (c *QueryCache) Key(shape string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(shape))
	return h.Sum64()
}

// Get retrieves a cached result if present and not expired. Counts as a
// recent access for LRU eviction on hit.
func (c *QueryCache) Get(key uint64) (interface{}, bool) {
	if !c.enabled {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	c.mu.Lock()
	entry, ok := c.lru.Get(key)
	if ok && c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.lru.Remove(key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	atomic.AddUint64(&c.hits, 1)
	return entry.value, true
}

// Put adds a result to the cache, evicting the least recently used entry
// if at capacity. If key already exists, its value and TTL are refreshed.
func (c *QueryCache) Put(key uint64, value interface{}) {
	if !c.enabled {
		return
	}

	entry := &cacheEntry{value: value}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry)
}

// Remove removes an entry from the cache.
func (c *QueryCache) Remove(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Clear removes all entries from the cache. Call this whenever a mutation
// (Add/Update/Delete/Relate/Unrelate) changes the underlying indexes, since
// a cached result set has no invalidation key finer than "everything".
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of cached entries.
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// Stats returns cache performance statistics.
func (c *QueryCache) Stats() CacheStats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	c.mu.RLock()
	size := c.lru.Len()
	c.mu.RUnlock()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return CacheStats{
		Size:    size,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// CacheStats holds cache performance statistics.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// SetEnabled enables or disables the cache; disabling clears it.
func (c *QueryCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled

	if !enabled {
		c.lru.Purge()
	}
}
