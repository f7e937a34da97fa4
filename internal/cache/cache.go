// Package cache provides a bounded in-memory TTL cache backed by ristretto.
// A Cache is created explicitly with its capacity and TTL and passed to the
// components that use it; there is no package-level instance.
package cache

import (
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// ErrInvalidConfig is returned by New for a non-positive capacity.
var ErrInvalidConfig = errors.New("cache: capacity must be positive")

// Cache holds up to Capacity entries, each expiring TTL after it was set.
type Cache[K ristretto.Key, V any] struct {
	store *ristretto.Cache[K, V]
	ttl   time.Duration
}

// New creates a cache holding at most capacity entries. A zero ttl keeps
// entries until they are evicted for space.
func New[K ristretto.Key, V any](capacity int64, ttl time.Duration) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, ErrInvalidConfig
	}
	store, err := ristretto.NewCache(&ristretto.Config[K, V]{
		NumCounters:        capacity * 10, // ristretto recommends 10x the expected item count.
		MaxCost:            capacity,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache[K, V]{store: store, ttl: ttl}, nil
}

// Get returns the cached value and true on a hit. Expired entries miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.store.Get(key)
}

// Set stores value under key. It reports false if the admission policy
// dropped the entry. A successful Set is visible to the next Get.
func (c *Cache[K, V]) Set(key K, value V) bool {
	ok := c.store.SetWithTTL(key, value, 1, c.ttl)
	c.store.Wait()
	return ok
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.store.Del(key)
}

// TTL returns the configured entry lifetime.
func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

// Close stops the cache's background goroutines.
func (c *Cache[K, V]) Close() {
	c.store.Close()
}
