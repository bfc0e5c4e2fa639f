package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"trip-route-service/internal/domain"
)

const (
	DefaultRouteTTL        = 10 * time.Minute
	DefaultRouteMaxEntries = 256
)

type routeEntry struct {
	result    domain.RouteResult
	createdAt time.Time
}

// MemoryRouteCache is an in-memory, TTL-bounded cache of route results for a
// single trip-planning session.
//
// Expiry is lazy: an entry older than the TTL is treated as absent on lookup
// and dropped. Purge can be called periodically to reclaim memory. When the
// entry cap is reached the entry written least recently is evicted; lookups
// do not refresh an entry's position.
//
// The cache is safe for concurrent use.
type MemoryRouteCache struct {
	mu      sync.Mutex
	entries *simplelru.LRU[domain.RouteKey, routeEntry]
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryRouteCache(ttl time.Duration, maxEntries int) (*MemoryRouteCache, error) {
	if ttl <= 0 {
		return nil, errors.New("route cache: ttl must be positive")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultRouteMaxEntries
	}

	entries, err := simplelru.NewLRU[domain.RouteKey, routeEntry](maxEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("route cache: create lru: %w", err)
	}

	return &MemoryRouteCache{
		entries: entries,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Get returns the cached result for key unless it was never stored or its
// age exceeds the TTL.
func (c *MemoryRouteCache) Get(key domain.RouteKey) (domain.RouteResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(key)
	if !ok {
		return domain.RouteResult{}, false
	}
	if c.expired(e, c.now()) {
		c.entries.Remove(key)
		return domain.RouteResult{}, false
	}

	return e.result, true
}

// Put stores result under key with a fresh timestamp, replacing any previous entry.
func (c *MemoryRouteCache) Put(key domain.RouteKey, result domain.RouteResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(key, routeEntry{result: result, createdAt: c.now()})
}

// Purge drops every expired entry and returns how many were removed.
func (c *MemoryRouteCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, k := range c.entries.Keys() {
		e, ok := c.entries.Peek(k)
		if ok && c.expired(e, now) {
			c.entries.Remove(k)
			removed++
		}
	}

	return removed
}

func (c *MemoryRouteCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *MemoryRouteCache) expired(e routeEntry, now time.Time) bool {
	return now.Sub(e.createdAt) > c.ttl
}
