package dto

import "trip-route-service/internal/domain"

type PointRequest struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label,omitempty"`
}

func (p PointRequest) toDomain() domain.Waypoint {
	return domain.Waypoint{
		Point: domain.GeoPoint{Lat: p.Lat, Lng: p.Lng},
		Label: p.Label,
	}
}

// WaypointsRequest is the full waypoint snapshot sent by a client. Every
// update replaces the previous one.
type WaypointsRequest struct {
	Pickup  *PointRequest  `json:"pickup"`
	Stops   []PointRequest `json:"stops"`
	Dropoff *PointRequest  `json:"dropoff"`
}

func (r WaypointsRequest) ToDomain() domain.WaypointSet {
	var set domain.WaypointSet
	if r.Pickup != nil {
		p := r.Pickup.toDomain()
		set.Pickup = &p
	}
	if len(r.Stops) > 0 {
		set.Stops = make([]domain.Waypoint, 0, len(r.Stops))
		for _, s := range r.Stops {
			set.Stops = append(set.Stops, s.toDomain())
		}
	}
	if r.Dropoff != nil {
		p := r.Dropoff.toDomain()
		set.Dropoff = &p
	}
	return set
}

type WaypointsAccepted struct {
	RouteKey string `json:"route_key,omitempty"`
	Routable bool   `json:"routable"`
}
