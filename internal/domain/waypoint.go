package domain

import (
	"errors"
	"fmt"
)

// Waypoint is a labeled point taking part in a trip: the pickup, a stop or
// the drop-off. The label is display data only and never affects routing.
type Waypoint struct {
	Point GeoPoint `json:"point"`
	Label string   `json:"label,omitempty"`
}

// WaypointSet is a snapshot of trip planning state. It is recomputed on every
// user change and never mutated in place; stop order is the visiting order.
type WaypointSet struct {
	Pickup  *Waypoint  `json:"pickup,omitempty"`
	Stops   []Waypoint `json:"stops,omitempty"`
	Dropoff *Waypoint  `json:"dropoff,omitempty"`
}

// Routable reports whether a route can be requested for the set: a pickup
// and at least one of dropoff or stops, all with valid coordinates.
func (s WaypointSet) Routable() bool {
	if s.Pickup == nil {
		return false
	}
	if s.Dropoff == nil && len(s.Stops) == 0 {
		return false
	}
	return s.Validate() == nil
}

// Validate checks the coordinates of every present waypoint.
func (s WaypointSet) Validate() error {
	var errs []error
	if s.Pickup != nil && !s.Pickup.Point.Valid() {
		errs = append(errs, fmt.Errorf("pickup: invalid coordinates %v", s.Pickup.Point))
	}
	for i, st := range s.Stops {
		if !st.Point.Valid() {
			errs = append(errs, fmt.Errorf("stop %d: invalid coordinates %v", i, st.Point))
		}
	}
	if s.Dropoff != nil && !s.Dropoff.Point.Valid() {
		errs = append(errs, fmt.Errorf("dropoff: invalid coordinates %v", s.Dropoff.Point))
	}
	return errors.Join(errs...)
}

// Origin returns the pickup point. Only meaningful when the set is routable.
func (s WaypointSet) Origin() GeoPoint {
	if s.Pickup == nil {
		return GeoPoint{}
	}
	return s.Pickup.Point
}

// Destination returns the effective destination: the dropoff when present,
// otherwise the last stop.
func (s WaypointSet) Destination() GeoPoint {
	if s.Dropoff != nil {
		return s.Dropoff.Point
	}
	if len(s.Stops) == 0 {
		return GeoPoint{}
	}
	return s.Stops[len(s.Stops)-1].Point
}

// Intermediates returns the stops visited between origin and destination.
// Without a dropoff the last stop is the destination and is left out.
func (s WaypointSet) Intermediates() []GeoPoint {
	stops := s.Stops
	if s.Dropoff == nil && len(stops) > 0 {
		stops = stops[:len(stops)-1]
	}

	out := make([]GeoPoint, 0, len(stops))
	for _, st := range stops {
		out = append(out, st.Point)
	}
	return out
}
