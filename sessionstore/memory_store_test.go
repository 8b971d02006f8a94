package sessionstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type session struct {
	Token uint32 `json:"token"`
	Room  int16  `json:"room"`
}

func TestMemoryStore_SaveLoadDelete(t *testing.T) {
	s := NewMemoryStore[session](time.Minute)
	ctx := context.Background()

	_, found, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Save(ctx, "k", session{Token: 42, Room: 7}, time.Minute))
	got, found, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, session{Token: 42, Room: 7}, got)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	_, found, err = s.Load(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore[session](time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "short", session{Token: 1}, 20*time.Millisecond))
	require.NoError(t, s.Save(ctx, "forever", session{Token: 2}, 0))

	time.Sleep(40 * time.Millisecond)

	_, found, err := s.Load(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.Load(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryStore_LoadOrIssue(t *testing.T) {
	ctx := context.Background()

	t.Run("issues on miss and caches", func(t *testing.T) {
		s := NewMemoryStore[session](time.Minute)
		calls := 0
		issue := func(context.Context) (session, error) {
			calls++
			return session{Token: uint32(calls)}, nil
		}

		first, err := s.LoadOrIssue(ctx, "dev", time.Minute, issue)
		require.NoError(t, err)
		second, err := s.LoadOrIssue(ctx, "dev", time.Minute, issue)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, calls)
	})

	t.Run("issue error is returned and not cached", func(t *testing.T) {
		s := NewMemoryStore[session](time.Minute)
		_, err := s.LoadOrIssue(ctx, "dev", time.Minute, func(context.Context) (session, error) {
			return session{}, assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)

		got, err := s.LoadOrIssue(ctx, "dev", time.Minute, func(context.Context) (session, error) {
			return session{Token: 9}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, uint32(9), got.Token)
	})

	t.Run("concurrent callers share one issue", func(t *testing.T) {
		s := NewMemoryStore[session](time.Minute)
		var calls int32
		issue := func(context.Context) (session, error) {
			atomic.AddInt32(&calls, 1)
			time.Sleep(20 * time.Millisecond)
			return session{Token: 5}, nil
		}

		const concurrency = 10
		var wg sync.WaitGroup
		results := make([]session, concurrency)
		errs := make([]error, concurrency)
		for i := range concurrency {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = s.LoadOrIssue(ctx, "same", time.Minute, issue)
			}()
		}
		wg.Wait()

		for i := range concurrency {
			require.NoError(t, errs[i])
			assert.Equal(t, uint32(5), results[i].Token)
		}
		assert.Equal(t, int32(1), calls)
	})
}

func TestMemoryStore_ContextCancelled(t *testing.T) {
	s := NewMemoryStore[session](time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Load(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Save(ctx, "k", session{}, 0), context.Canceled)
	assert.ErrorIs(t, s.Clear(ctx), context.Canceled)
}

func TestMemoryStore_ClearAndEvicted(t *testing.T) {
	s := NewMemoryStore[session](time.Minute)
	ctx := context.Background()

	var evicted []string
	s.OnEvicted(func(key string, _ session) { evicted = append(evicted, key) })

	require.NoError(t, s.Save(ctx, "a", session{}, 0))
	require.NoError(t, s.Save(ctx, "b", session{}, 0))
	require.NoError(t, s.Delete(ctx, "a"))
	assert.Equal(t, []string{"a"}, evicted)

	require.NoError(t, s.Clear(ctx))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestKeys(t *testing.T) {
	device := []byte{0xAB, 0x01}
	assert.Equal(t, "plankton:session:ab01", SessionKey(device))
	assert.Equal(t, "plankton:device:ab01", DeviceKey(device))
}
