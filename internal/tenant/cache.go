package tenant

import (
	"context"
	"sync"
	"time"
)

// Cache is a bounded TTL cache over resolved identities, keyed by token
// hash. It is an explicit handle owned by whoever constructs it; there is no
// package-level cache state. When full, the entry closest to expiry is
// evicted to make room.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]cacheEntry
	now        func() time.Time
}

type cacheEntry struct {
	identity  Identity
	expiresAt time.Time
}

func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry, maxEntries),
		now:        time.Now,
	}
}

// Len returns the current entry count, counting expired entries not yet
// evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) get(tokenHash string) (*Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[tokenHash]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, tokenHash)
		return nil, false
	}
	clone := entry.identity
	return &clone, true
}

func (c *Cache) put(tokenHash string, identity *Identity) {
	if identity == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[tokenHash]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[tokenHash] = cacheEntry{
		identity:  *identity,
		expiresAt: now.Add(c.ttl),
	}
}

// evictLocked drops all expired entries, and if none were expired, the entry
// closest to expiry. Callers hold c.mu.
func (c *Cache) evictLocked(now time.Time) {
	var (
		soonestKey string
		soonestAt  time.Time
		dropped    bool
	)
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			dropped = true
			continue
		}
		if soonestKey == "" || entry.expiresAt.Before(soonestAt) {
			soonestKey = key
			soonestAt = entry.expiresAt
		}
	}
	if !dropped && soonestKey != "" {
		delete(c.entries, soonestKey)
	}
}

// CachingResolver wraps a Resolver with a Cache. Only successful resolutions
// are cached: a rejected key is cheap to reject again and must not occupy
// bounded cache space.
type CachingResolver struct {
	next  Resolver
	cache *Cache
}

func NewCachingResolver(next Resolver, cache *Cache) *CachingResolver {
	if cache == nil {
		cache = NewCache(0, 0)
	}
	return &CachingResolver{next: next, cache: cache}
}

func (r *CachingResolver) Resolve(ctx context.Context, token string) (*Identity, error) {
	tokenHash := HashToken(token)
	if identity, ok := r.cache.get(tokenHash); ok {
		return identity, nil
	}

	identity, err := r.next.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	r.cache.put(tokenHash, identity)
	return identity, nil
}
