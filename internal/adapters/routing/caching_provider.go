package routing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trip-route-service/internal/platform/logger"
	"trip-route-service/internal/ports"
)

// CachingProvider wraps a RoutingProvider with a shared RouteStore.
//
// It checks the store before calling upstream and writes successful,
// non-empty responses back. Store failures are logged and otherwise ignored
// so a degraded cache never turns into a routing failure. Empty results and
// errors are never stored.
type CachingProvider struct {
	upstream ports.RoutingProvider
	store    ports.RouteStore
	prefix   string
	logger   *zap.Logger
}

func NewCachingProvider(upstream ports.RoutingProvider, store ports.RouteStore, prefix string, log *zap.Logger) *CachingProvider {
	return &CachingProvider{
		upstream: upstream,
		store:    store,
		prefix:   prefix,
		logger:   logger.OrNop(log),
	}
}

// Ready forwards the upstream readiness check so a missing credential is
// still reported before the store is consulted.
func (c *CachingProvider) Ready() error {
	if rc, ok := c.upstream.(ports.ReadinessChecker); ok {
		return rc.Ready()
	}
	return nil
}

func (c *CachingProvider) ComputeRoutes(ctx context.Context, req ports.RouteRequest) ([]ports.ProviderRoute, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}

	key, ok := req.Key()
	if !ok {
		return nil, errors.New("caching provider: request has invalid coordinates")
	}
	storeKey := c.prefix + key.String()

	cached, err := c.store.GetRoutes(ctx, storeKey)
	if err != nil {
		c.logger.Warn("route store read failed", zap.String("key", storeKey), zap.Error(err))
	} else if len(cached) > 0 {
		return cached, nil
	}

	routes, err := c.upstream.ComputeRoutes(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("caching provider: %w", err)
	}

	if len(routes) > 0 {
		if err := c.store.PutRoutes(ctx, storeKey, routes); err != nil {
			c.logger.Warn("route store write failed", zap.String("key", storeKey), zap.Error(err))
		}
	}

	return routes, nil
}
