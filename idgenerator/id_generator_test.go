package idgenerator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("first id is start plus one", func(t *testing.T) {
		g := New(100)
		assert.Equal(t, uint32(101), g.Next())
		assert.Equal(t, uint32(101), g.Last())
	})

	t.Run("zero start issues one first", func(t *testing.T) {
		assert.Equal(t, uint32(1), New(0).Next())
	})
}

func TestNext_SkipsZeroOnWrap(t *testing.T) {
	g := New(^uint32(0) - 1)
	assert.Equal(t, ^uint32(0), g.Next())
	assert.Equal(t, uint32(1), g.Next())
	assert.Equal(t, uint32(2), g.Next())
}

func TestNext_Concurrent(t *testing.T) {
	const (
		workers = 50
		each    = 200
	)
	g := New(0)

	var mu sync.Mutex
	seen := make(map[uint32]struct{}, workers*each)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint32, 0, each)
			for range each {
				local = append(local, g.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*each)
	assert.NotContains(t, seen, uint32(0))
	assert.Equal(t, uint32(workers*each), g.Last())
}
