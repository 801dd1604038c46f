package consol

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCacheFetchJSONAndBump(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	key, err := cache.Key(ctx, "working", 7, testPeriod)
	require.NoError(t, err)
	require.Equal(t, "consol:working:7:2024-03:v1", key)

	loads := 0
	loader := func(context.Context) (any, error) {
		loads++
		return map[string]int{"loads": loads}, nil
	}
	var got map[string]int
	hit, err := cache.FetchJSON(ctx, key, &got, loader)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, 1, got["loads"])

	hit, err = cache.FetchJSON(ctx, key, &got, loader)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, 1, loads)
	require.Equal(t, time.Minute, mr.TTL(key))

	require.NoError(t, cache.Bump(ctx, 7, testPeriod))
	key, err = cache.Key(ctx, "working", 7, testPeriod)
	require.NoError(t, err)
	require.Equal(t, "consol:working:7:2024-03:v2", key)
	hit, err = cache.FetchJSON(ctx, key, &got, loader)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, 2, got["loads"])

	other, err := cache.Key(ctx, "working", 8, testPeriod)
	require.NoError(t, err)
	require.Equal(t, "consol:working:8:2024-03:v1", other)
}

func TestCacheDisabledRunsLoader(t *testing.T) {
	var cache *Cache
	var got []string
	hit, err := cache.FetchJSON(context.Background(), "ignored", &got, func(context.Context) (any, error) {
		return []string{"fresh"}, nil
	})
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, []string{"fresh"}, got)
	require.NoError(t, cache.Bump(context.Background(), 1, testPeriod))

	_, err = NewCache(nil, time.Minute).FetchJSON(context.Background(), "k", &got, nil)
	require.Error(t, err)
}

func TestCacheSubscribeReceivesBumps(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 1)
	require.NoError(t, cache.Subscribe(ctx, func(payload string) { received <- payload }))
	require.NoError(t, cache.Bump(ctx, 3, testPeriod))

	select {
	case payload := <-received:
		require.Equal(t, "3:2024-03:1", payload)
	case <-time.After(2 * time.Second):
		t.Fatal("bump was not published")
	}
}
