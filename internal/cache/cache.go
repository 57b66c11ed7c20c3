// Package cache holds short-lived per-node results fetched from daemons.
//
// Entries are keyed by node and resource kind and expire after their TTL.
// There is no invalidation beyond expiry; readers must tolerate stale data.
package cache

import (
	"sync"
	"time"
)

// Kind names a cached resource
type Kind string

const (
	KindServerStatuses Kind = "server_statuses"
	KindNodeIPs        Kind = "node_ips"
)

// Key identifies a cache entry
type Key struct {
	NodeID int64
	Kind   Kind
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a TTL cache safe for concurrent use
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]entry
	now     func() time.Time
}

// New creates a cache using now as its clock; nil means time.Now
func New(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[Key]entry),
		now:     now,
	}
}

// Get returns the live value stored under key
func (c *Cache) Get(key Key) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed it.
		if cur, ok := c.entries[key]; ok && !c.now().Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl
func (c *Cache) Set(key Key, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// Delete removes key
func (c *Cache) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, expired or not
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Remember returns the cached value for key, or calls fetch and caches its
// result for ttl. Errors from fetch are returned and nothing is cached.
func Remember[T any](c *Cache, key Key, ttl time.Duration, fetch func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	value, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, value, ttl)
	return value, nil
}
