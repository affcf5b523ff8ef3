package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a typed, thread-safe in-memory cache with expiration
type Cache[V any] struct {
	items *gocache.Cache
}

// New creates a cache whose entries live for ttl and whose expired entries
// are purged every cleanupInterval. A zero ttl keeps entries forever.
func New[V any](ttl, cleanupInterval time.Duration) *Cache[V] {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Cache[V]{items: gocache.New(ttl, cleanupInterval)}
}

// Set adds an item to the cache with the default expiration
func (c *Cache[V]) Set(key string, value V) {
	c.items.Set(key, value, gocache.DefaultExpiration)
}

// SetWithExpiration adds an item to the cache with a specific expiration time
func (c *Cache[V]) SetWithExpiration(key string, value V, d time.Duration) {
	c.items.Set(key, value, d)
}

// Get retrieves an unexpired item from the cache
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	v, found := c.items.Get(key)
	if !found {
		return zero, false
	}
	typed, ok := v.(V)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Touch resets the expiration of an existing item. It reports whether the item was present.
func (c *Cache[V]) Touch(key string) bool {
	v, found := c.Get(key)
	if !found {
		return false
	}
	c.Set(key, v)
	return true
}

// Delete removes an item from the cache
func (c *Cache[V]) Delete(key string) {
	c.items.Delete(key)
}

// Flush removes all items from the cache without running the eviction callback
func (c *Cache[V]) Flush() {
	c.items.Flush()
}

// Items returns a copy of all unexpired items
func (c *Cache[V]) Items() map[string]V {
	out := make(map[string]V)
	for k, item := range c.items.Items() {
		if typed, ok := item.Object.(V); ok {
			out[k] = typed
		}
	}
	return out
}

// Count returns the number of items in the cache (including expired items not yet purged)
func (c *Cache[V]) Count() int {
	return c.items.ItemCount()
}

// SetOnEvicted sets the callback run when an item expires or is deleted
func (c *Cache[V]) SetOnEvicted(f func(string, V)) {
	c.items.OnEvicted(func(key string, v interface{}) {
		if typed, ok := v.(V); ok {
			f(key, typed)
		}
	})
}

// HashKey derives a fixed-length cache key from arbitrary text parts
func HashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
