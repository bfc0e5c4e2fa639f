package domain

import "strings"

// RouteKey is the canonical identity of a routable waypoint configuration.
// Coordinate-identical sets produce the same key regardless of labels.
type RouteKey string

const routeKeySeparator = "|"

// NewRouteKey builds the key for a routable set in the order
// origin, intermediates..., destination. ok is false when the set is not routable.
func NewRouteKey(s WaypointSet) (key RouteKey, ok bool) {
	if !s.Routable() {
		return "", false
	}

	intermediates := s.Intermediates()
	parts := make([]string, 0, 2+len(intermediates))
	parts = append(parts, s.Origin().keyPart())
	for _, p := range intermediates {
		parts = append(parts, p.keyPart())
	}
	parts = append(parts, s.Destination().keyPart())

	return RouteKey(strings.Join(parts, routeKeySeparator)), true
}

func (k RouteKey) String() string { return string(k) }
