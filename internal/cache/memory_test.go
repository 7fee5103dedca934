package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// entry is a small value type used to exercise the generic caches without
// depending on any domain package.
type entry struct {
	Names     []string
	FetchedAt time.Time
}

func TestMemoryGet_NotFound(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemory[entry](time.Minute, 10)
	require.NoError(t, err)

	value, found, err := c.Get(ctx, "missing")

	assert.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, entry{}, value)
}

func TestMemorySetAndGet(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemory[entry](time.Minute, 10)
	require.NoError(t, err)

	stored := entry{Names: []string{"Amil", "Bradesco"}}
	require.NoError(t, c.Set(ctx, "insurers", stored))

	value, found, err := c.Get(ctx, "insurers")

	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, stored, value)
}

func TestMemorySet_ReplacesExisting(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemory[entry](time.Minute, 10)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "insurers", entry{Names: []string{"old"}}))
	require.NoError(t, c.Set(ctx, "insurers", entry{Names: []string{"new"}}))

	value, found, err := c.Get(ctx, "insurers")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"new"}, value.Names)
}

func TestMemoryInvalidate(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemory[entry](time.Minute, 10)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "insurers", entry{Names: []string{"Amil"}}))
	require.NoError(t, c.Invalidate(ctx, "insurers"))

	_, found, err := c.Get(ctx, "insurers")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemory[entry](100*time.Millisecond, 10)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "insurers", entry{Names: []string{"Amil"}}))

	_, found, err := c.Get(ctx, "insurers")
	assert.NoError(t, err)
	assert.True(t, found)

	time.Sleep(150 * time.Millisecond)

	_, found, err = c.Get(ctx, "insurers")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryClose(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemory[entry](time.Minute, 10)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "insurers", entry{Names: []string{"Amil"}}))
	require.NoError(t, c.Close())

	_, found, err := c.Get(ctx, "insurers")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestNewMemory_RejectsInvalidSettings(t *testing.T) {
	_, err := NewMemory[entry](0, 10)
	assert.ErrorContains(t, err, "TTL must be positive")

	_, err = NewMemory[entry](time.Minute, 0)
	assert.ErrorContains(t, err, "size must be positive")
}
