// Package cache provides a bounded, TTL-expiring cache for context source
// payloads (document excerpts, vault snippets) so the budgeter does not
// refetch them on every turn. Bounded capacity and expiry keep the cache
// from growing with the number of owners.
package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

const (
	// DefaultMaxCost caps the cache at roughly 16 MiB of payload text.
	DefaultMaxCost = 16 << 20

	// DefaultTTL is how long a cached payload stays valid.
	DefaultTTL = 5 * time.Minute
)

// Cache is a bounded TTL cache keyed by (owner, source).
type Cache struct {
	inner  *ristretto.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache creates a cache with the given byte budget and TTL. Zero values
// select the defaults.
func NewCache(maxCost int64, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	if maxCost <= 0 {
		maxCost = DefaultMaxCost
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	inner, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	return &Cache{inner: inner, ttl: ttl, logger: logger}, nil
}

func key(ownerID, source string) string {
	return ownerID + "\x00" + source
}

// Get returns the cached payload for (owner, source), if present and fresh.
func (c *Cache) Get(ownerID, source string) (string, bool) {
	v, ok := c.inner.Get(key(ownerID, source))
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set stores a payload, costed by its byte length.
func (c *Cache) Set(ownerID, source, payload string) {
	c.inner.SetWithTTL(key(ownerID, source), payload, int64(len(payload)), c.ttl)
}

// Invalidate drops the cached payload for (owner, source).
func (c *Cache) Invalidate(ownerID, source string) {
	c.inner.Del(key(ownerID, source))
}

// Wait blocks until pending writes are applied. Tests use this; the serving
// path never does.
func (c *Cache) Wait() {
	c.inner.Wait()
}

// Close releases the cache.
func (c *Cache) Close() {
	c.inner.Close()
}
