package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryCache is an in-process cache bounded by total value size. When the
// bound is exceeded it evicts the least used entries, oldest access first,
// until usage drops to 90% of capacity.
type MemoryCache struct {
	maxBytes int64
	metrics  Metrics

	mu      sync.Mutex
	entries map[string]*memoryEntry
	size    int64
	now     func() time.Time
}

type memoryEntry struct {
	value       []byte
	lastAccess  int64
	accessCount int64
}

// NewMemoryCache creates a cache holding at most maxBytes of values.
// A non-positive maxBytes means unbounded.
func NewMemoryCache(maxBytes int64) *MemoryCache {
	return &MemoryCache{
		maxBytes: maxBytes,
		entries:  make(map[string]*memoryEntry),
		now:      time.Now,
	}
}

// Get returns a copy of the cached value.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.metrics.Misses.Add(1)
		return nil, false, nil
	}
	c.metrics.Hits.Add(1)
	e.lastAccess = c.now().UnixNano()
	e.accessCount++
	return append([]byte(nil), e.value...), true, nil
}

// Set stores a copy of value. Values larger than the whole cache are not
// stored.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	size := int64(len(value))
	if c.maxBytes > 0 && size > c.maxBytes {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.size -= int64(len(old.value))
	}
	c.entries[key] = &memoryEntry{
		value:       append([]byte(nil), value...),
		lastAccess:  c.now().UnixNano(),
		accessCount: 1,
	}
	c.size += size

	if c.maxBytes > 0 && c.size > c.maxBytes {
		c.evict(key)
	}
	return nil
}

// evict drops entries other than keep until usage is at most 90% of
// capacity. Caller holds c.mu.
func (c *MemoryCache) evict(keep string) {
	target := int64(float64(c.maxBytes) * 0.9)

	type candidate struct {
		key        string
		accessTime int64
		count      int64
	}
	candidates := make([]candidate, 0, len(c.entries))
	for k, e := range c.entries {
		if k == keep {
			continue
		}
		candidates = append(candidates, candidate{key: k, accessTime: e.lastAccess, count: e.accessCount})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count < candidates[j].count
		}
		if candidates[i].accessTime != candidates[j].accessTime {
			return candidates[i].accessTime < candidates[j].accessTime
		}
		return candidates[i].key < candidates[j].key
	})

	for _, cand := range candidates {
		if c.size <= target {
			break
		}
		c.size -= int64(len(c.entries[cand.key].value))
		delete(c.entries, cand.key)
		c.metrics.Evictions.Add(1)
	}
}

// Metrics returns the cache statistics.
func (c *MemoryCache) Metrics() *Metrics {
	return &c.metrics
}

// Size returns the total size of cached values in bytes.
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
