// ABOUTME: Bounded TTL cache for recognizing redelivered inbound events
// ABOUTME: Slack retries and Matrix sync replays are dropped by event ID

package dedupe

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Cache remembers event keys for a TTL window. Once full, the least recently
// marked key is evicted.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache
	ttl time.Duration
	now func() time.Time
}

// New creates a cache holding at most maxSize keys for ttl each.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	// only fails for a non-positive size
	l, _ := lru.New(maxSize)
	return &Cache{
		lru: l,
		ttl: ttl,
		now: time.Now,
	}
}

// Key joins the parts identifying an event, e.g. surface and event ID.
func Key(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// Check reports whether key was marked within the TTL.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// Mark records key as seen now.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, c.now())
}

// CheckAndMark reports whether key is a duplicate and marks it if it is not.
// The check and the mark happen atomically.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return true
	}
	c.lru.Add(key, c.now())
	return false
}

// Len returns the number of keys held, including expired ones not yet evicted.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge forgets every key.
func (c *Cache) Purge() {
	c.lru.Purge()
}

func (c *Cache) liveLocked(key string) bool {
	v, ok := c.lru.Peek(key)
	if !ok {
		return false
	}
	seen, _ := v.(time.Time)
	if c.now().Sub(seen) >= c.ttl {
		c.lru.Remove(key)
		return false
	}
	return true
}
