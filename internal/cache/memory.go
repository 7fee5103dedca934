package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

// Memory is a process-local cache. Entries expire ttl after they were last
// written; reads do not extend them, so a value is never served for longer
// than ttl after it was fetched.
type Memory[T any] struct {
	cache *otter.Cache[string, T]
}

// NewMemory creates an in-memory cache holding at most maxSize entries.
func NewMemory[T any](ttl time.Duration, maxSize int) (*Memory[T], error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("memory cache TTL must be positive, got %s", ttl)
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("memory cache size must be positive, got %d", maxSize)
	}

	cache, err := otter.New(&otter.Options[string, T]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, T](ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}

	return &Memory[T]{cache: cache}, nil
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, bool, error) {
	value, ok := m.cache.GetIfPresent(key)
	return value, ok, nil
}

// Set stores a value, replacing any existing entry and restarting its TTL.
func (m *Memory[T]) Set(_ context.Context, key string, value T) error {
	m.cache.Set(key, value)
	return nil
}

func (m *Memory[T]) Invalidate(_ context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

// Close drops all entries. The cache holds no external resources.
func (m *Memory[T]) Close() error {
	m.cache.InvalidateAll()
	return nil
}
