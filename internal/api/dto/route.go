package dto

import "trip-route-service/internal/services"

const (
	StatusRoute       = "route"
	StatusNoRoute     = "no_route"
	StatusConfigError = "config_error"
	StatusPending     = "pending"
)

type SessionResponse struct {
	SessionID string `json:"session_id"`
}

type PointResponse struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type RouteBody struct {
	Path            []PointResponse `json:"path"`
	DistanceKm      float64         `json:"distance_km"`
	DurationMinutes int             `json:"duration_minutes"`
}

// RouteResponse describes what a session currently displays.
type RouteResponse struct {
	Status   string     `json:"status,omitempty"`
	State    string     `json:"state,omitempty"`
	RouteKey string     `json:"route_key,omitempty"`
	Route    *RouteBody `json:"route,omitempty"`
	Error    string     `json:"error,omitempty"`
}

func Pending(state services.Snapshot) RouteResponse {
	return RouteResponse{
		Status:   StatusPending,
		State:    state.State.String(),
		RouteKey: state.Key.String(),
	}
}

func FromOutcome(o services.Outcome) RouteResponse {
	res := RouteResponse{
		Status:   o.Kind.String(),
		RouteKey: o.Key.String(),
	}
	if o.Err != nil {
		res.Error = o.Err.Error()
	}
	if o.Kind == services.OutcomeRoute {
		path := make([]PointResponse, 0, len(o.Result.Path))
		for _, p := range o.Result.Path {
			path = append(path, PointResponse{Lat: p.Lat, Lng: p.Lng})
		}
		res.Route = &RouteBody{
			Path:            path,
			DistanceKm:      o.Result.DistanceKm,
			DurationMinutes: o.Result.DurationMinutes,
		}
	}
	return res
}

// StreamMessage is one websocket frame from the server.
type StreamMessage struct {
	Type string `json:"type"`
	RouteResponse
	Accepted *WaypointsAccepted `json:"accepted,omitempty"`
}

// ClientMessage is one websocket frame from a client. Only type
// "waypoints" is understood.
type ClientMessage struct {
	Type string `json:"type"`
	WaypointsRequest
}
