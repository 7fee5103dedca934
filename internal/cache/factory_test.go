package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/clinicops/clinic-portal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromConfig_Memory(t *testing.T) {
	c, err := NewFromConfig[entry](
		context.Background(),
		config.CacheConfig{Type: "memory"},
		time.Minute,
		10,
	)

	require.NoError(t, err)
	assert.IsType(t, &Instrumented[entry]{}, c)
	assert.NoError(t, c.Close())
}

func TestNewFromConfig_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewFromConfig[entry](
		ctx,
		config.CacheConfig{
			Type:  "redis",
			Redis: config.RedisConfig{Address: mr.Addr(), TLS: false},
		},
		time.Minute,
		10,
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Set(ctx, "insurers", entry{Names: []string{"Amil"}}))
	assert.True(t, mr.Exists("clinic-portal:insurers"))
}

func TestNewFromConfig_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c, err := NewFromConfig[entry](
		context.Background(),
		config.CacheConfig{
			Type:  "redis",
			Redis: config.RedisConfig{Address: addr},
		},
		time.Minute,
		10,
	)

	assert.ErrorContains(t, err, "failed to connect to redis")
	assert.Nil(t, c)
}

func TestNewFromConfig_RedisRequiresAddress(t *testing.T) {
	c, err := NewFromConfig[entry](
		context.Background(),
		config.CacheConfig{Type: "redis"},
		time.Minute,
		10,
	)

	assert.ErrorContains(t, err, "redis address is required")
	assert.Nil(t, c)
}

func TestNewFromConfig_InvalidType(t *testing.T) {
	c, err := NewFromConfig[entry](
		context.Background(),
		config.CacheConfig{Type: "valkey"},
		time.Minute,
		10,
	)

	assert.ErrorContains(t, err, "invalid cache type")
	assert.ErrorContains(t, err, "valkey")
	assert.Nil(t, c)
}

func TestRedisOptions_TLS(t *testing.T) {
	opts := redisOptions(config.RedisConfig{Address: "cache:6379", TLS: true, Username: "portal"})
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, "portal", opts.Username)

	opts = redisOptions(config.RedisConfig{Address: "cache:6379"})
	assert.Nil(t, opts.TLSConfig)
}
