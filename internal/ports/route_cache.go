package ports

import "trip-route-service/internal/domain"

// Session-scoped cache of normalized route results consulted by the
// scheduler on every waypoint change. Calls never block on I/O.
type RouteCache interface {
	Get(key domain.RouteKey) (domain.RouteResult, bool)
	Put(key domain.RouteKey, result domain.RouteResult)
}
