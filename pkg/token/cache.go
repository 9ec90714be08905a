package token

import (
	"sync"
	"time"
)

// Cache holds issued tokens per document page for a bounded window.
// It is owned by the caller; nothing in this package creates one.
type Cache struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[cacheKey]cacheEntry
}

type cacheKey struct {
	document string
	page     int
}

type cacheEntry struct {
	token    string
	issuedAt time.Time
}

// NewCache creates a cache that serves a token until window has elapsed since it was issued
func NewCache(window time.Duration) *Cache {
	return &Cache{
		window:  window,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// Get returns the cached token for a page if it is still inside the window at now
func (c *Cache) Get(documentID string, page int, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := cacheKey{documentID, page}
	e, ok := c.entries[k]
	if !ok {
		return "", false
	}
	if now.Before(e.issuedAt) || now.Sub(e.issuedAt) >= c.window {
		delete(c.entries, k)
		return "", false
	}
	return e.token, true
}

// Put records a token issued at now
func (c *Cache) Put(documentID string, page int, tok string, now time.Time) {
	if c.window <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{documentID, page}] = cacheEntry{token: tok, issuedAt: now}
}

// Len returns the number of cached tokens
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
