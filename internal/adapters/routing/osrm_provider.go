package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/logger"
	"trip-route-service/internal/platform/obs"
	"trip-route-service/internal/ports"
)

type OSRMConfig struct {
	BaseURL     string
	Profile     string
	Timeout     time.Duration
	MaxAttempts int
}

// OSRMProvider implements RoutingProvider against an OSRM route service.
// OSRM needs no credential; geometry is requested as a precision-5 polyline.
type OSRMProvider struct {
	client  httpClient
	baseURL string
	profile string
	logger  *zap.Logger
}

func NewOSRMProvider(cfg OSRMConfig, log *zap.Logger) *OSRMProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://router.project-osrm.org"
	}
	profile := cfg.Profile
	if profile == "" {
		profile = "driving"
	}

	return &OSRMProvider{
		client:  newHTTPClient(cfg.Timeout, cfg.MaxAttempts),
		baseURL: baseURL,
		profile: profile,
		logger:  logger.OrNop(log),
	}
}

type osrmRouteResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Geometry string  `json:"geometry"`
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

func osrmCoordinates(req ports.RouteRequest) string {
	points := make([]domain.GeoPoint, 0, 2+len(req.Intermediates))
	points = append(points, req.Origin)
	points = append(points, req.Intermediates...)
	points = append(points, req.Destination)

	coords := make([]string, len(points))
	for i, p := range points {
		coords[i] = fmt.Sprintf("%.6f,%.6f", p.Lng, p.Lat)
	}
	return strings.Join(coords, ";")
}

func (o *OSRMProvider) ComputeRoutes(
	ctx context.Context,
	req ports.RouteRequest,
) (_ []ports.ProviderRoute, err error) {
	defer obs.Time(ctx, o.logger, "osrm.ComputeRoutes")(&err)

	endpoint := fmt.Sprintf("%s/route/v1/%s/%s", o.baseURL, o.profile, osrmCoordinates(req))

	resp, err := o.client.doWithRetry(ctx, func() (*http.Request, error) {
		r, err := newRequest(ctx, http.MethodGet, endpoint, nil, nil)
		if err != nil {
			return nil, err
		}
		q := r.URL.Query()
		q.Set("overview", "full")
		q.Set("geometries", "polyline")
		r.URL.RawQuery = q.Encode()
		return r, nil
	})
	if err != nil {
		// OSRM answers 400 with code NoRoute in some deployments.
		var he *HTTPStatusError
		if errors.As(err, &he) && strings.Contains(he.Body, `"NoRoute"`) {
			return []ports.ProviderRoute{}, nil
		}
		return nil, fmt.Errorf("osrm route request failed: %w", err)
	}
	defer resp.Body.Close()

	var rr osrmRouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode osrm route response: %w", err)
	}

	switch rr.Code {
	case "Ok":
	case "NoRoute":
		return []ports.ProviderRoute{}, nil
	default:
		return nil, fmt.Errorf("osrm error: code=%s message=%s", rr.Code, rr.Message)
	}

	out := make([]ports.ProviderRoute, 0, len(rr.Routes))
	for _, r := range rr.Routes {
		out = append(out, ports.ProviderRoute{
			EncodedPolyline: r.Geometry,
			DistanceMeters:  r.Distance,
			Duration:        time.Duration(r.Duration * float64(time.Second)),
		})
	}

	return out, nil
}
