// Package cache provides the short-TTL read cache in front of the three
// expensive aggregated queries (uptime, latency, target status). Entries
// live for ten seconds; any result submission purges the whole cache so the
// next read recomputes from fresh state.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is how long a cached query result stays valid.
const DefaultTTL = 10 * time.Second

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a TTL map keyed by query string. Safe for concurrent use.
type Cache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates a Cache with the given TTL; ttl <= 0 uses DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// Get returns the cached value for key if it has not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the cache TTL.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Purge drops every entry. Called on each result submission so aggregated
// reads never serve pre-submission state for longer than one request.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}
