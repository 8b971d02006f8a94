package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

const (
	lockTTL     = 10 * time.Second
	waitTimeout = 10 * time.Second
)

var errNotReady = errors.New("value not issued yet")

// RedisStore is a Store backed by Redis. Values are JSON encoded. LoadOrIssue
// serializes issuers across processes with a SETNX lock.
type RedisStore[T any] struct {
	client *redis.Client
}

// NewRedisStore wraps client.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := NewRedisStore[messenger.SessionInfo](client)
func NewRedisStore[T any](client *redis.Client) *RedisStore[T] {
	return &RedisStore[T]{client: client}
}

func (s *RedisStore[T]) get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get error: %w", err)
	}

	var val T
	if err := json.Unmarshal(raw, &val); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal stored value: %w", err)
	}
	return val, true, nil
}

// Load implements Store.
func (s *RedisStore[T]) Load(ctx context.Context, key string) (T, bool, error) {
	return s.get(ctx, key)
}

// Save implements Store.
func (s *RedisStore[T]) Save(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore[T]) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// LoadOrIssue implements Store.
//
// On a miss the caller tries to take key+":lock". The winner issues, stores
// and releases the lock; losers poll with exponential backoff until the value
// appears, the lock disappears without a value, or waitTimeout elapses.
func (s *RedisStore[T]) LoadOrIssue(ctx context.Context, key string, ttl time.Duration, issue IssueFunc[T]) (T, error) {
	var zero T

	if val, found, err := s.get(ctx, key); err != nil || found {
		return val, err
	}

	lockKey := key + ":lock"
	lockValue := strconv.FormatInt(time.Now().UnixNano(), 10)

	acquired, err := s.client.SetNX(ctx, lockKey, lockValue, lockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if acquired {
		defer func() {
			// Only delete if we still own the lock.
			script := `
				if redis.call("get", KEYS[1]) == ARGV[1] then
					return redis.call("del", KEYS[1])
				else
					return 0
				end
			`
			s.client.Eval(context.Background(), script, []string{lockKey}, lockValue)
		}()

		val, err := issue(ctx)
		if err != nil {
			return zero, fmt.Errorf("issue function failed: %w", err)
		}
		if err := s.Save(ctx, key, val, ttl); err != nil {
			return zero, err
		}
		return val, nil
	}

	return s.waitForValue(ctx, key, lockKey)
}

func (s *RedisStore[T]) waitForValue(ctx context.Context, key, lockKey string) (T, error) {
	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = 10 * time.Millisecond
	poll.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, func() (T, error) {
		var zero T

		val, found, err := s.get(ctx, key)
		if err != nil {
			return zero, backoff.Permanent(err)
		}
		if found {
			return val, nil
		}

		exists, err := s.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return zero, backoff.Permanent(fmt.Errorf("failed to check lock existence: %w", err))
		}
		if exists == 0 {
			// The issuer gave up; one last look in case it stored just now.
			if val, found, err := s.get(ctx, key); err == nil && found {
				return val, nil
			}
			return zero, backoff.Permanent(errors.New("issue operation failed or value not stored"))
		}

		return zero, errNotReady
	},
		backoff.WithBackOff(poll),
		backoff.WithMaxElapsedTime(waitTimeout),
	)
}

func (s *RedisStore[T]) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

// Count implements Store. Only keys under KeyPrefix are counted.
func (s *RedisStore[T]) Count(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Clear implements Store. Only keys under KeyPrefix are removed.
func (s *RedisStore[T]) Clear(ctx context.Context) error {
	keys, err := s.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}
