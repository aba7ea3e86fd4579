// Package tokencache holds a single value with a TTL, used for the cached
// OAuth bearer token. Races on refresh are tolerated: a redundant fetch is
// safe, last writer wins.
package tokencache

import (
	"sync"
	"time"
)

type Cache struct {
	mu        sync.Mutex
	value     string
	expiresAt time.Time
	now       func() time.Time
}

func New() *Cache {
	return &Cache{now: time.Now}
}

// NewWithClock builds a cache with an injected clock.
func NewWithClock(now func() time.Time) *Cache {
	return &Cache{now: now}
}

// Get returns the cached value, or false when absent or expired.
func (c *Cache) Get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value == "" || !c.now().Before(c.expiresAt) {
		return "", false
	}

	return c.value, true
}

// Set stores value for ttl.
func (c *Cache) Set(value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = value
	c.expiresAt = c.now().Add(ttl)
}

// Clear drops the cached value.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = ""
	c.expiresAt = time.Time{}
}
