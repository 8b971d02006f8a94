package sessionstore

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryStore is an in-process Store backed by go-cache. LoadOrIssue uses a
// singleflight group so one issue call runs per key at a time.
type MemoryStore[T any] struct {
	cache *cache.Cache
	group singleflight.Group
}

// NewMemoryStore creates a MemoryStore that purges expired entries every
// cleanupInterval.
//
// Parameters:
//   - cleanupInterval: How often expired entries are evicted
//
// Returns:
//   - A new, empty MemoryStore
func NewMemoryStore[T any](cleanupInterval time.Duration) *MemoryStore[T] {
	return &MemoryStore[T]{
		cache: cache.New(cache.NoExpiration, cleanupInterval),
	}
}

func ttlOf(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return cache.NoExpiration
	}
	return ttl
}

// Load implements Store.
func (s *MemoryStore[T]) Load(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	val, found := s.cache.Get(key)
	if !found {
		return zero, false, nil
	}

	typed, ok := val.(T)
	if !ok {
		return zero, false, fmt.Errorf("unexpected type in store for key %s", key)
	}
	return typed, true, nil
}

// Save implements Store.
func (s *MemoryStore[T]) Save(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Set(key, value, ttlOf(ttl))
	return nil
}

// Delete implements Store.
func (s *MemoryStore[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Delete(key)
	return nil
}

// LoadOrIssue implements Store.
func (s *MemoryStore[T]) LoadOrIssue(ctx context.Context, key string, ttl time.Duration, issue IssueFunc[T]) (T, error) {
	var zero T

	if val, found, err := s.Load(ctx, key); err != nil || found {
		return val, err
	}

	val, err, _ := s.group.Do(key, func() (interface{}, error) {
		// Another caller may have issued while we waited for the group.
		if cached, found := s.cache.Get(key); found {
			return cached, nil
		}

		issued, err := issue(ctx)
		if err != nil {
			return zero, err
		}

		s.cache.Set(key, issued, ttlOf(ttl))
		return issued, nil
	})
	if err != nil {
		return zero, err
	}

	typed, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected type in store for key %s", key)
	}
	return typed, nil
}

// Count implements Store.
func (s *MemoryStore[T]) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.cache.ItemCount(), nil
}

// Clear implements Store.
func (s *MemoryStore[T]) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Flush()
	return nil
}

// OnEvicted registers a function called when an entry expires or is deleted.
func (s *MemoryStore[T]) OnEvicted(fn func(key string, value T)) {
	s.cache.OnEvicted(func(key string, v interface{}) {
		if typed, ok := v.(T); ok {
			fn(key, typed)
		}
	})
}
