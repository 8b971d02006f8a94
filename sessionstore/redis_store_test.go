package sessionstore

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to the server named by PLANKTON_TEST_REDIS, skipping
// the test when it is unset or unreachable.
func newTestRedis(t *testing.T) *RedisStore[session] {
	t.Helper()
	addr := os.Getenv("PLANKTON_TEST_REDIS")
	if addr == "" {
		t.Skip("PLANKTON_TEST_REDIS not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	s := NewRedisStore[session](client)
	require.NoError(t, s.Clear(context.Background()))
	t.Cleanup(func() {
		_ = s.Clear(context.Background())
		_ = client.Close()
	})
	return s
}

func TestRedisStore_SaveLoadDelete(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()
	key := SessionKey([]byte{1, 2, 3})

	require.NoError(t, s.Save(ctx, key, session{Token: 42, Room: -1}, time.Minute))

	got, found, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, session{Token: 42, Room: -1}, got)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Delete(ctx, key))
	_, found, err = s.Load(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_LoadOrIssue_Concurrent(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()
	key := DeviceKey([]byte{9})

	var calls int32
	issue := func(context.Context) (session, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return session{Token: 77}, nil
	}

	const concurrency = 5
	var wg sync.WaitGroup
	results := make([]session, concurrency)
	errs := make([]error, concurrency)
	for i := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.LoadOrIssue(ctx, key, time.Minute, issue)
		}()
	}
	wg.Wait()

	for i := range concurrency {
		require.NoError(t, errs[i])
		assert.Equal(t, uint32(77), results[i].Token)
	}
	assert.Equal(t, int32(1), calls)
}
