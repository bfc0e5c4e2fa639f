package ports

import "context"

// Port: a shared store of provider responses keyed by route key. Misses are
// reported as (nil, nil); implementations expire entries on their own TTL.
type RouteStore interface {
	GetRoutes(ctx context.Context, key string) ([]ProviderRoute, error)
	PutRoutes(ctx context.Context, key string, routes []ProviderRoute) error
}
