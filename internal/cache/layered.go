package cache

import (
	"fmt"
	"time"

	"github.com/factgate/factgate/internal/model"
)

// LayeredCache fronts a bounded L1 with a persistent L2. Reads check L1
// first and promote L2 hits; writes go through to both levels, so L1 is
// always a subset cache of L2, never an independent store.
type LayeredCache struct {
	l1 Cache
	l2 Cache
}

// NewLayeredCache builds the two-level cache from config. The L2
// backend is chosen by cfg.Backend; "badger" is the embedded default,
// "redis" serves multi-node deployments.
func NewLayeredCache(cfg model.CacheConfig) (*LayeredCache, error) {
	var l2 Cache
	var err error

	switch cfg.Backend {
	case "", "badger":
		l2, err = NewBadgerCache(cfg.Dir, cfg.L2TTL)
	case "redis":
		l2, err = NewRedisCache(cfg.RedisURL, cfg.L2TTL)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s (supported: badger, redis)", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return &LayeredCache{
		l1: NewMemoryCache(cfg.L1Capacity, cfg.L1TTL),
		l2: l2,
	}, nil
}

// NewLayeredCacheWith builds the layered cache over explicit levels
func NewLayeredCacheWith(l1, l2 Cache) *LayeredCache {
	return &LayeredCache{l1: l1, l2: l2}
}

// Get checks L1, then L2 with promotion into L1 on a hit
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.l1.Get(key); found {
		return val, true
	}

	if val, found := c.l2.Get(key); found {
		_ = c.l1.Set(key, val, 0) // Promote with the L1 default TTL
		return val, true
	}

	return nil, false
}

// Set writes through to both levels. The L2 write happens first so the
// subset invariant holds even if the process dies between the two.
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.l2.Set(key, value, ttl); err != nil {
		return err
	}
	return c.l1.Set(key, value, ttl)
}

// Delete removes a key from both levels
func (c *LayeredCache) Delete(key string) error {
	err1 := c.l1.Delete(key)
	err2 := c.l2.Delete(key)
	if err2 != nil {
		return err2
	}
	return err1
}

// Clear empties both levels
func (c *LayeredCache) Clear() error {
	if err := c.l1.Clear(); err != nil {
		return err
	}
	return c.l2.Clear()
}

// ClearLevel empties one level only: "l1" or "l2"
func (c *LayeredCache) ClearLevel(level string) error {
	switch level {
	case "l1":
		return c.l1.Clear()
	case "l2":
		return c.l2.Clear()
	default:
		return fmt.Errorf("unknown cache level: %s", level)
	}
}

// Close releases backend resources where the L2 supports it
func (c *LayeredCache) Close() error {
	type closer interface{ Close() error }
	if cl, ok := c.l2.(closer); ok {
		return cl.Close()
	}
	return nil
}
