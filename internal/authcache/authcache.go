// Package authcache implements the Token Cache: a bounded, TTL-aware
// in-process cache mapping a bearer token to the Principal it authenticates,
// so the hot bid path almost never needs a database round trip to authorize
// a caller.
package authcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/lvdashuaibi/bidfeed/internal/core"
)

type entry struct {
	principal core.Principal
	expiresAt time.Time
}

// Cache is a fixed-capacity LRU of token -> Principal, entries expiring
// after ttl. Capacity eviction is left to the underlying LRU's recency
// order, a cheap approximation of true earliest-expiration-first eviction.
type Cache struct {
	mu    sync.Mutex
	lru   *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

// New builds a Token Cache holding at most maxEntries tokens, each valid
// for ttl after being Set.
func New(maxEntries int, ttl time.Duration) (*Cache, error) {
	l, err := lru.New(maxEntries)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, ttl: ttl, now: time.Now}, nil
}

// Get returns the cached principal for token, and whether it was present
// and unexpired. An expired entry is evicted on the way out.
func (c *Cache) Get(token string) (core.Principal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(token)
	if !ok {
		return core.Principal{}, false
	}
	e := v.(entry)
	if c.now().After(e.expiresAt) {
		c.lru.Remove(token)
		return core.Principal{}, false
	}
	return e.principal, true
}

// Set caches principal under token for the cache's configured TTL.
func (c *Cache) Set(token string, principal core.Principal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(token, entry{principal: principal, expiresAt: c.now().Add(c.ttl)})
}

// Invalidate removes token from the cache, e.g. on explicit logout.
func (c *Cache) Invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(token)
}

// Len reports the current number of cached tokens, for pool-status
// reporting.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}
