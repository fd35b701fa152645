package memory

import (
	"sync"
	"time"
)

// ContextCache provides simple TTL-based caching of assembled conversation
// context, keyed by user and conversation. The clock is injectable so
// expiry is testable without sleeping.
type ContextCache struct {
	mu      sync.RWMutex
	entries map[string]*contextEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type contextEntry struct {
	value     interface{}
	expiresAt time.Time
}

// CacheOption configures the ContextCache.
type CacheOption func(*ContextCache)

// WithClock overrides the cache's time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *ContextCache) {
		c.now = now
	}
}

// WithMaxSize caps the number of cached entries.
func WithMaxSize(n int) CacheOption {
	return func(c *ContextCache) {
		c.maxSize = n
	}
}

// NewContextCache creates a TTL cache for assembled context.
func NewContextCache(ttl time.Duration, opts ...CacheOption) *ContextCache {
	c := &ContextCache{
		entries: make(map[string]*contextEntry),
		maxSize: 256,
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(userID, conversationID string) string {
	return userID + "\x00" + conversationID
}

// Get returns a cached value if present and not expired.
func (c *ContextCache) Get(userID, conversationID string) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey(userID, conversationID)]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.Invalidate(userID, conversationID)
		return nil, false
	}
	return entry.value, true
}

// Set stores a value. When the cache is full, expired entries are purged;
// if it is still full the write is accepted anyway and the map grows by one.
func (c *ContextCache) Set(userID, conversationID string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		now := c.now()
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}

	c.entries[cacheKey(userID, conversationID)] = &contextEntry{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate drops a cached entry.
func (c *ContextCache) Invalidate(userID, conversationID string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(userID, conversationID))
	c.mu.Unlock()
}

// Len returns the number of entries, expired or not.
func (c *ContextCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
