package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"trip-route-service/internal/ports"
)

// storedRoute is the persisted form of a provider route shared by the
// Redis and SQL stores.
type storedRoute struct {
	Polyline        string  `json:"polyline"`
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func marshalRoutes(routes []ports.ProviderRoute) ([]byte, error) {
	out := make([]storedRoute, 0, len(routes))
	for _, r := range routes {
		out = append(out, storedRoute{
			Polyline:        r.EncodedPolyline,
			DistanceMeters:  r.DistanceMeters,
			DurationSeconds: r.Duration.Seconds(),
		})
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal routes: %w", err)
	}
	return b, nil
}

func unmarshalRoutes(b []byte) ([]ports.ProviderRoute, error) {
	var in []storedRoute
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, fmt.Errorf("unmarshal routes: %w", err)
	}

	out := make([]ports.ProviderRoute, 0, len(in))
	for _, r := range in {
		out = append(out, ports.ProviderRoute{
			EncodedPolyline: r.Polyline,
			DistanceMeters:  r.DistanceMeters,
			Duration:        time.Duration(r.DurationSeconds * float64(time.Second)),
		})
	}
	return out, nil
}
