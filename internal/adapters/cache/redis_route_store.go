package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trip-route-service/internal/platform/obs"
	"trip-route-service/internal/ports"
)

// RedisRouteStore keeps provider responses in Redis with a per-key expiry,
// so several service instances can share upstream results.
type RedisRouteStore struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *zap.Logger
}

// NewRedisRouteStore stores values under the keys it is given verbatim;
// namespacing is the caller's job.
func NewRedisRouteStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisRouteStore {
	return &RedisRouteStore{Client: client, TTL: ttl, Logger: logger}
}

// Fetch cached routes for key; a miss or an expired key yields (nil, nil).
func (s *RedisRouteStore) GetRoutes(ctx context.Context, key string) (_ []ports.ProviderRoute, err error) {
	defer obs.Time(ctx, s.Logger, "route.store.redis.Get")(&err)

	if s.Client == nil {
		return nil, errors.New("redis route store: client is nil")
	}
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("get redis route store: key must not be empty")
	}

	b, err := s.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get redis route store: %w", err)
	}

	routes, err := unmarshalRoutes(b)
	if err != nil {
		return nil, fmt.Errorf("get redis route store key=%q: %w", key, err)
	}
	return routes, nil
}

// Store routes under key, replacing any previous value and resetting its expiry.
func (s *RedisRouteStore) PutRoutes(ctx context.Context, key string, routes []ports.ProviderRoute) (err error) {
	defer obs.Time(ctx, s.Logger, "route.store.redis.Put")(&err)

	if s.Client == nil {
		return errors.New("redis route store: client is nil")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("put redis route store: key must not be empty")
	}
	if len(routes) == 0 {
		return nil
	}

	payload, err := marshalRoutes(routes)
	if err != nil {
		return fmt.Errorf("put redis route store: %w", err)
	}

	if err := s.Client.Set(ctx, key, payload, s.TTL).Err(); err != nil {
		return fmt.Errorf("put redis route store key=%q: %w", key, err)
	}
	return nil
}
