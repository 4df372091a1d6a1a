package billing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCacheVersionedKeys(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "billing", "x")
	require.NoError(t, err)
	require.Equal(t, "billing:x:1", key)

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]int{"calls": calls}, nil
	}
	var got map[string]int
	require.NoError(t, cache.FetchJSON(ctx, key, &got, loader))
	require.NoError(t, cache.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, 1, calls)
	require.True(t, mr.Exists(key))

	require.NoError(t, cache.Bump(ctx))
	key, err = cache.BuildKey(ctx, "billing", "x")
	require.NoError(t, err)
	require.Equal(t, "billing:x:2", key)
	require.NoError(t, cache.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, 2, got["calls"])
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	loader := func(context.Context) (any, error) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
		return 42, nil
	}
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			var v int
			assert.NoError(t, cache.FetchJSON(ctx, "billing:same:1", &v, loader))
			assert.Equal(t, 42, v)
		}()
	}
	close(start)
	wg.Wait()
	require.Equal(t, int32(1), calls.Load())
}

func TestNilCacheLoadsDirectly(t *testing.T) {
	var cache *Cache
	ctx := context.Background()
	key, err := cache.BuildKey(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, "a:b", key)
	var v string
	require.NoError(t, cache.FetchJSON(ctx, key, &v, func(context.Context) (any, error) { return "fresh", nil }))
	require.Equal(t, "fresh", v)
	require.NoError(t, cache.Bump(ctx))
}

func TestListenForInvalidation(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan int64, 1)
	require.NoError(t, cache.ListenForInvalidation(ctx, func(v int64) { seen <- v }))
	_, err := cache.Version(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.Bump(ctx))

	select {
	case v := <-seen:
		require.Equal(t, int64(2), v)
	case <-time.After(2 * time.Second):
		t.Fatal("bump not observed")
	}
}
