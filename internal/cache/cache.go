package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Cache defines the interface for caching. L1 and L2 implementations
// and the layered front all satisfy it, so deployments can swap the
// persistent tier (embedded vs distributed) without touching callers.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// keyPrefix versions the key namespace so format changes never collide
// with entries written by older builds.
const keyPrefix = "factgate:v1:"

// Key builds a cache key from logical parts. Parts are hashed so keys
// stay filesystem- and redis-safe regardless of input.
func Key(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return keyPrefix + hex.EncodeToString(hash[:])
}
