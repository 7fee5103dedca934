package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/clinicops/clinic-portal/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// NewFromConfig creates a cache implementation based on the provided configuration.
//
// The cache type must be either "memory" or "redis". Any other value returns an error.
// For "redis", cacheConfig.Redis.Address must be provided. The connection is
// verified with a PING before the cache is returned.
func NewFromConfig[T any](
	ctx context.Context,
	cacheConfig config.CacheConfig,
	ttl time.Duration,
	maxMemorySize int,
) (Cache[T], error) {
	switch cacheConfig.Type {
	case "redis":
		log.Info().
			Str("cache_type", "redis").
			Str("address", cacheConfig.Redis.Address).
			Bool("tls", cacheConfig.Redis.TLS).
			Msg("initializing distributed cache")

		if cacheConfig.Redis.Address == "" {
			return nil, fmt.Errorf("redis address is required when cache type is redis")
		}

		client := redis.NewClient(redisOptions(cacheConfig.Redis))

		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		distributed, err := NewDistributed[T](client, ttl)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to create distributed cache: %w", err)
		}

		return NewInstrumented(distributed, "distributed"), nil

	case "memory":
		log.Info().
			Str("cache_type", "memory").
			Msg("initializing in-memory cache")

		memory, err := NewMemory[T](ttl, maxMemorySize)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}

		return NewInstrumented(memory, "memory"), nil

	default:
		return nil, fmt.Errorf("invalid cache type %q: must be either \"memory\" or \"redis\"", cacheConfig.Type)
	}
}

func redisOptions(cfg config.RedisConfig) *redis.Options {
	opts := &redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return opts
}
