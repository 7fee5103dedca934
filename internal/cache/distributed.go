package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// keyPrefix namespaces portal entries in a Redis instance that may be shared
// with other services.
const keyPrefix = "clinic-portal:"

// Distributed implements Cache using Redis, allowing several portal
// instances to share one cached value. The generic type T represents the
// value type being cached; values are stored as JSON.
type Distributed[T any] struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewDistributed creates a new Redis-backed cache. The ttl parameter
// specifies how long values remain in the cache.
func NewDistributed[T any](client redis.UniversalClient, ttl time.Duration) (*Distributed[T], error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}

	return &Distributed[T]{
		client: client,
		ttl:    ttl,
	}, nil
}

// Get retrieves a value from the cache.
// Returns the value, whether it was found, and any error.
// Undecodable entries are returned as errors and removed on a best-effort
// basis.
func (d *Distributed[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	data, err := d.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		// Key not found is not an error in our semantics
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("failed to get cached value: %w", err)
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		if delErr := d.client.Del(ctx, keyPrefix+key).Err(); delErr != nil {
			log.Warn().Err(delErr).Str("key", key).Msg("failed to remove undecodable cache entry")
		}
		return zero, false, fmt.Errorf("failed to unmarshal cached value for key %q: %w", key, err)
	}

	return value, true, nil
}

// Set stores a value in the cache with the configured TTL.
func (d *Distributed[T]) Set(ctx context.Context, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := d.client.Set(ctx, keyPrefix+key, data, d.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cached value: %w", err)
	}
	return nil
}

// Invalidate removes a value from the cache.
func (d *Distributed[T]) Invalidate(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached value: %w", err)
	}
	return nil
}

// Close releases the Redis client.
func (d *Distributed[T]) Close() error {
	return d.client.Close()
}
