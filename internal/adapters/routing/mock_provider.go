package routing

import (
	"context"
	"math"
	"sync"
	"time"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/polyline"
	"trip-route-service/internal/ports"
)

// MockResponse scripts the provider answer for one route key.
type MockResponse struct {
	Routes []ports.ProviderRoute
	Err    error
}

// MockProvider answers from scripted responses keyed by route key and
// records every request. Unscripted keys get a straight-line route through
// all points, which keeps ROUTING_PROVIDER=mock usable for local runs.
type MockProvider struct {
	mu        sync.Mutex
	responses map[domain.RouteKey]MockResponse
	calls     []ports.RouteRequest
}

func NewMockProvider() *MockProvider {
	return &MockProvider{responses: make(map[domain.RouteKey]MockResponse)}
}

// Script sets the response returned for key.
func (p *MockProvider) Script(key domain.RouteKey, resp MockResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[key] = resp
}

// Calls returns a copy of the requests received so far.
func (p *MockProvider) Calls() []ports.RouteRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.RouteRequest(nil), p.calls...)
}

func (p *MockProvider) ComputeRoutes(ctx context.Context, req ports.RouteRequest) ([]ports.ProviderRoute, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.calls = append(p.calls, req)
	key, _ := req.Key()
	resp, ok := p.responses[key]
	p.mu.Unlock()

	if ok {
		return resp.Routes, resp.Err
	}
	return []ports.ProviderRoute{straightLine(req)}, nil
}

const (
	earthRadiusMeters = 6371000.0
	mockSpeedMPS      = 40 * 1000.0 / 3600.0
)

func straightLine(req ports.RouteRequest) ports.ProviderRoute {
	points := make([]domain.GeoPoint, 0, 2+len(req.Intermediates))
	points = append(points, req.Origin)
	points = append(points, req.Intermediates...)
	points = append(points, req.Destination)

	meters := 0.0
	for i := 1; i < len(points); i++ {
		meters += haversineMeters(points[i-1], points[i])
	}

	return ports.ProviderRoute{
		EncodedPolyline: polyline.Encode(points),
		DistanceMeters:  math.Round(meters),
		Duration:        time.Duration(meters / mockSpeedMPS * float64(time.Second)).Round(time.Second),
	}
}

func haversineMeters(a, b domain.GeoPoint) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
