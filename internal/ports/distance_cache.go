package ports

import (
	"context"
	"time"
)

// Port: a key-value store of pair-key -> DistanceResult. Keys come from
// domain.Key. Writes are last-writer-wins; values are derived and
// idempotent, so no transactional guarantee is needed.
type DistanceCache interface {
	Get(ctx context.Context, key string) (DistanceResult, bool, error)

	// Return the subset of keys present in the cache.
	GetMany(ctx context.Context, keys []string) (map[string]DistanceResult, error)

	Set(ctx context.Context, key string, value DistanceResult, ttl time.Duration) error
}
