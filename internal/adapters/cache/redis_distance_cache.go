package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-route-service/internal/ports"
)

const redisKeyPrefix = "dima:"

// RedisDistanceCache stores distance results in Redis. Values are JSON;
// expiry is handled by Redis TTLs.
type RedisDistanceCache struct {
	Client *redis.Client
}

func NewRedisDistanceCache(client *redis.Client) *RedisDistanceCache {
	return &RedisDistanceCache{Client: client}
}

func (r *RedisDistanceCache) Get(ctx context.Context, key string) (ports.DistanceResult, bool, error) {
	if r.Client == nil {
		return ports.DistanceResult{}, false, errors.New("distance cache: redis client is nil")
	}
	raw, err := r.Client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ports.DistanceResult{}, false, nil
	}
	if err != nil {
		return ports.DistanceResult{}, false, fmt.Errorf("get distance cache: redis get: %w", err)
	}
	var out ports.DistanceResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return ports.DistanceResult{}, false, fmt.Errorf("get distance cache: decode value: %w", err)
	}
	return out, true, nil
}

func (r *RedisDistanceCache) GetMany(ctx context.Context, keys []string) (map[string]ports.DistanceResult, error) {
	if r.Client == nil {
		return nil, errors.New("distance cache: redis client is nil")
	}
	if len(keys) == 0 {
		return map[string]ports.DistanceResult{}, nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = redisKeyPrefix + k
	}
	values, err := r.Client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, fmt.Errorf("get distance cache: redis mget: %w", err)
	}

	out := make(map[string]ports.DistanceResult, len(keys))
	for i, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		var value ports.DistanceResult
		if err := json.Unmarshal([]byte(s), &value); err != nil {
			return nil, fmt.Errorf("get distance cache: decode value for %q: %w", keys[i], err)
		}
		out[keys[i]] = value
	}
	return out, nil
}

func (r *RedisDistanceCache) Set(ctx context.Context, key string, value ports.DistanceResult, ttl time.Duration) error {
	if r.Client == nil {
		return errors.New("distance cache: redis client is nil")
	}
	if key == "" {
		return errors.New("set distance cache: key must not be empty")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set distance cache: encode value: %w", err)
	}
	if err := r.Client.Set(ctx, redisKeyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set distance cache: redis set: %w", err)
	}
	return nil
}
