package ports

import (
	"context"
	"errors"
	"time"

	"trip-route-service/internal/domain"
)

var (
	// ErrMissingCredential is returned synchronously, before any network I/O,
	// when a provider that needs an API credential has none configured.
	ErrMissingCredential = errors.New("routing provider credential is missing")

	// ErrNoRoute reports a well-formed provider response with zero routes.
	ErrNoRoute = errors.New("routing provider returned no route")
)

// Driving route request in visiting order.
type RouteRequest struct {
	Origin        domain.GeoPoint
	Destination   domain.GeoPoint
	Intermediates []domain.GeoPoint
}

// NewRouteRequest derives the provider request from a routable waypoint set.
func NewRouteRequest(s domain.WaypointSet) RouteRequest {
	return RouteRequest{
		Origin:        s.Origin(),
		Destination:   s.Destination(),
		Intermediates: s.Intermediates(),
	}
}

// One candidate route as returned by a provider, in provider units.
type ProviderRoute struct {
	EncodedPolyline string
	DistanceMeters  float64
	Duration        time.Duration
}

// Contract for computing driving routes through an external routing service.
type RoutingProvider interface {
	// Return candidate routes, best first. An empty slice with a nil error
	// means the provider found no route.
	ComputeRoutes(ctx context.Context, req RouteRequest) ([]ProviderRoute, error)
}

// Key returns the route key of the request, matching domain.NewRouteKey for
// the waypoint set the request was derived from.
func (r RouteRequest) Key() (domain.RouteKey, bool) {
	stops := make([]domain.Waypoint, 0, len(r.Intermediates))
	for _, p := range r.Intermediates {
		stops = append(stops, domain.Waypoint{Point: p})
	}

	return domain.NewRouteKey(domain.WaypointSet{
		Pickup:  &domain.Waypoint{Point: r.Origin},
		Stops:   stops,
		Dropoff: &domain.Waypoint{Point: r.Destination},
	})
}

// Optional extension of RoutingProvider for adapters whose configuration can
// be checked without I/O. Ready returns ErrMissingCredential when unusable.
type ReadinessChecker interface {
	Ready() error
}
