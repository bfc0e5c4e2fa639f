package domain

import (
	"math"
	"time"
)

// RouteResult is the normalized route shown to the rider: decoded path
// geometry plus total distance and duration. It is created only from a
// successful provider response and treated as immutable afterwards.
type RouteResult struct {
	Path            []GeoPoint `json:"path"`
	DistanceKm      float64    `json:"distance_km"`
	DurationMinutes int        `json:"duration_minutes"`
}

// NewRouteResult converts provider units (meters, duration) into display units.
// Negative inputs are clamped to zero.
func NewRouteResult(path []GeoPoint, distanceMeters float64, duration time.Duration) RouteResult {
	if path == nil {
		path = []GeoPoint{}
	}
	if distanceMeters < 0 || math.IsNaN(distanceMeters) {
		distanceMeters = 0
	}
	if duration < 0 {
		duration = 0
	}

	return RouteResult{
		Path:            path,
		DistanceKm:      distanceMeters / 1000,
		DurationMinutes: int(math.Round(duration.Minutes())),
	}
}
