// Package cache memoizes classifications of identical queries.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/ppiankov/psyclass/internal/model"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// CacheKey generates a cache key from a query. Title and comment are hashed
// together so distinct splits of the same text never collide.
func CacheKey(q model.Query) string {
	data, _ := json.Marshal(q)
	hash := sha256.Sum256(data)
	return "psyclass:v1:" + hex.EncodeToString(hash[:])
}
