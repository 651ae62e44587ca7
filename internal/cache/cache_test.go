package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetInvalidate(t *testing.T) {
	c := New[string, int](0)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Invalidate("a")
	_, ok = c.Get("a")
	assert.False(t, ok)

	// Invalidating an absent key is a no-op, not an error.
	c.Invalidate("a")
}

func TestExpiry(t *testing.T) {
	c := New[string, int](10 * time.Millisecond)
	c.Set("a", 1)

	_, ok := c.Get("a")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should have expired")
}

func TestGetOrLoadCollapsesConcurrentMisses(t *testing.T) {
	c := New[string, int](0)
	var calls int64

	load := func(context.Context) (int, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "key", load)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "load should run exactly once for a cold concurrent miss")
}

func TestInvalidateAllThenNextGetOrLoadFetches(t *testing.T) {
	c := New[string, int](0)
	var calls int64
	load := func(context.Context) (int, error) {
		atomic.AddInt64(&calls, 1)
		return int(atomic.LoadInt64(&calls)), nil
	}

	v, err := c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// Cached: no new fetch.
	v, err = c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	c.InvalidateAll()

	v, err = c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "invalidation must force the next GetOrLoad to re-fetch")
}
