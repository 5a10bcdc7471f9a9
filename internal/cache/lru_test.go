package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_LoadsOnMissAndCachesResult(t *testing.T) {
	var loads int32
	loader := func(ctx context.Context, key string) (string, error) {
		atomic.AddInt32(&loads, 1)
		return "value-" + key, nil
	}

	c := New(Config{TTL: time.Minute, MaxSize: 10}, loader)

	v1, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "value-a", v1)

	v2, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "value-a", v2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads), "second Get should hit cache, not reload")
}

func TestLRU_ExpiresAfterTTL(t *testing.T) {
	var loads int32
	loader := func(ctx context.Context, key string) (string, error) {
		atomic.AddInt32(&loads, 1)
		return "v", nil
	}

	c := New(Config{TTL: time.Millisecond, MaxSize: 10}, loader)
	_, err := c.Get(context.Background(), "a")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loads))
}

func TestLRU_EvictsLeastRecentlyUsedOverCapacity(t *testing.T) {
	loader := func(ctx context.Context, key string) (string, error) { return key, nil }
	c := New(Config{TTL: time.Minute, MaxSize: 2}, loader)

	_, _ = c.Get(context.Background(), "a")
	_, _ = c.Get(context.Background(), "b")
	_, _ = c.Get(context.Background(), "a") // touch a, making b least-recently-used
	_, _ = c.Get(context.Background(), "c") // evicts b

	assert.Equal(t, 2, c.Size())
	_, stillCached := c.peek("a")
	assert.True(t, stillCached)
	_, bCached := c.peek("b")
	assert.False(t, bCached)
}

func TestLRU_ConcurrentLoadsForSameKeyCoalesce(t *testing.T) {
	var loads int32
	loader := func(ctx context.Context, key string) (string, error) {
		atomic.AddInt32(&loads, 1)
		time.Sleep(10 * time.Millisecond)
		return "v", nil
	}
	c := New(Config{TTL: time.Minute, MaxSize: 10}, loader)

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			_, _ = c.Get(context.Background(), "shared")
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestLRU_InvalidateForcesReload(t *testing.T) {
	var loads int32
	loader := func(ctx context.Context, key string) (string, error) {
		atomic.AddInt32(&loads, 1)
		return "v", nil
	}
	c := New(Config{TTL: time.Minute, MaxSize: 10}, loader)

	_, _ = c.Get(context.Background(), "a")
	c.Invalidate("a")
	_, _ = c.Get(context.Background(), "a")

	assert.Equal(t, int32(2), atomic.LoadInt32(&loads))
}
