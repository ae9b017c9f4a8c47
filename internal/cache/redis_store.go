package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/pkg/models"
)

// SharedStoreTTL caps how long a serialized cache value can outlive the
// process that wrote it.
const SharedStoreTTL = 24 * time.Hour

// RedisStore is the shared persistent cache tier. Every process instance
// reads and writes the same serialized OddsCache value, so a cold restart
// can serve data written by a sibling without an upstream fetch.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a shared-tier store around a Redis client.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    key,
	}
}

// Write stores the serialized cache value.
func (s *RedisStore) Write(ctx context.Context, cache *models.OddsCache) error {
	data, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("marshaling odds cache: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, SharedStoreTTL).Err(); err != nil {
		return fmt.Errorf("writing odds cache to redis: %w", err)
	}
	return nil
}

// Read retrieves the serialized cache value. A missing key is not an
// error; it returns (nil, nil) so callers fall through to a refresh.
func (s *RedisStore) Read(ctx context.Context) (*models.OddsCache, error) {
	data, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading odds cache from redis: %w", err)
	}

	var cache models.OddsCache
	if err := json.Unmarshal([]byte(data), &cache); err != nil {
		return nil, fmt.Errorf("unmarshaling odds cache: %w", err)
	}
	return &cache, nil
}
