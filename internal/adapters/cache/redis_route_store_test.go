package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-route-service/internal/ports"
)

func setupRedisStore(t *testing.T, ttl time.Duration) (*RedisRouteStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisRouteStore(client, ttl, nil), mr
}

func TestRedisRouteStoreRoundTrip(t *testing.T) {
	store, mr := setupRedisStore(t, 10*time.Minute)
	ctx := context.Background()

	routes := []ports.ProviderRoute{
		{EncodedPolyline: "_p~iF~ps|U", DistanceMeters: 5000, Duration: 600 * time.Second},
	}
	require.NoError(t, store.PutRoutes(ctx, "41.000000,29.000000|41.100000,29.100000", routes))

	assert.True(t, mr.Exists("41.000000,29.000000|41.100000,29.100000"))

	got, err := store.GetRoutes(ctx, "41.000000,29.000000|41.100000,29.100000")
	require.NoError(t, err)
	assert.Equal(t, routes, got)
}

func TestRedisRouteStoreMiss(t *testing.T) {
	store, _ := setupRedisStore(t, time.Minute)

	got, err := store.GetRoutes(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisRouteStoreExpires(t *testing.T) {
	store, mr := setupRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.PutRoutes(ctx, "k", []ports.ProviderRoute{{EncodedPolyline: "", DistanceMeters: 1}}))
	mr.FastForward(61 * time.Second)

	got, err := store.GetRoutes(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisRouteStoreSkipsEmpty(t *testing.T) {
	store, mr := setupRedisStore(t, time.Minute)

	require.NoError(t, store.PutRoutes(context.Background(), "k", nil))
	assert.False(t, mr.Exists("k"))
}

func TestRedisRouteStoreCorruptPayload(t *testing.T) {
	store, mr := setupRedisStore(t, time.Minute)
	require.NoError(t, mr.Set("k", "not json"))

	_, err := store.GetRoutes(context.Background(), "k")
	require.Error(t, err)
}

func TestRedisRouteStoreUnavailable(t *testing.T) {
	store, mr := setupRedisStore(t, time.Minute)
	mr.Close()

	_, err := store.GetRoutes(context.Background(), "k")
	require.Error(t, err)
}
