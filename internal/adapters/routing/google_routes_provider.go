package routing

import (
	"bytes"
	"context"
	"encoding/json"
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

const googleFieldMask = "routes.duration,routes.distanceMeters,routes.polyline.encodedPolyline"

type GoogleRoutesConfig struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
}

// GoogleRoutesProvider implements RoutingProvider using the Google Routes
// API (directions/v2:computeRoutes) with driving mode and encoded polylines.
//
// An empty API key is accepted at construction time so the caller can
// surface it per request; ComputeRoutes then fails with
// ports.ErrMissingCredential without touching the network.
//
// The provider is safe for concurrent use.
type GoogleRoutesProvider struct {
	client  httpClient
	apiKey  string
	baseURL string
	logger  *zap.Logger
}

func NewGoogleRoutesProvider(cfg GoogleRoutesConfig, log *zap.Logger) *GoogleRoutesProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://routes.googleapis.com"
	}

	return &GoogleRoutesProvider{
		client:  newHTTPClient(cfg.Timeout, cfg.MaxAttempts),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		logger:  logger.OrNop(log),
	}
}

type googleLatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type googleWaypoint struct {
	Location struct {
		LatLng googleLatLng `json:"latLng"`
	} `json:"location"`
}

type computeRoutesRequest struct {
	Origin           googleWaypoint   `json:"origin"`
	Destination      googleWaypoint   `json:"destination"`
	Intermediates    []googleWaypoint `json:"intermediates,omitempty"`
	TravelMode       string           `json:"travelMode"`
	PolylineEncoding string           `json:"polylineEncoding"`
}

type computeRoutesResponse struct {
	Routes []struct {
		DistanceMeters float64 `json:"distanceMeters"`
		Duration       string  `json:"duration"`
		Polyline       struct {
			EncodedPolyline string `json:"encodedPolyline"`
		} `json:"polyline"`
	} `json:"routes"`
}

func toGoogleWaypoint(p domain.GeoPoint) googleWaypoint {
	var w googleWaypoint
	w.Location.LatLng = googleLatLng{Latitude: p.Lat, Longitude: p.Lng}
	return w
}

// ComputeRoutes requests driving routes for req. Zero routes is not an error.
func (g *GoogleRoutesProvider) ComputeRoutes(
	ctx context.Context,
	req ports.RouteRequest,
) (_ []ports.ProviderRoute, err error) {
	if err := g.Ready(); err != nil {
		return nil, err
	}

	defer obs.Time(ctx, g.logger, "google.ComputeRoutes")(&err)

	bodyObj := computeRoutesRequest{
		Origin:           toGoogleWaypoint(req.Origin),
		Destination:      toGoogleWaypoint(req.Destination),
		TravelMode:       "DRIVE",
		PolylineEncoding: "ENCODED_POLYLINE",
	}
	for _, p := range req.Intermediates {
		bodyObj.Intermediates = append(bodyObj.Intermediates, toGoogleWaypoint(p))
	}

	payload, err := json.Marshal(bodyObj)
	if err != nil {
		return nil, fmt.Errorf("marshal compute routes request: %w", err)
	}

	endpoint := g.baseURL + "/directions/v2:computeRoutes"
	header := http.Header{}
	header.Set("X-Goog-Api-Key", g.apiKey)
	header.Set("X-Goog-FieldMask", googleFieldMask)

	resp, err := g.client.doWithRetry(ctx, func() (*http.Request, error) {
		return newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload), header)
	})
	if err != nil {
		return nil, fmt.Errorf("compute routes request failed: %w", err)
	}
	defer resp.Body.Close()

	var cr computeRoutesResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode compute routes response: %w", err)
	}

	out := make([]ports.ProviderRoute, 0, len(cr.Routes))
	for i, r := range cr.Routes {
		dur, err := parseGoogleDuration(r.Duration)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		out = append(out, ports.ProviderRoute{
			EncodedPolyline: r.Polyline.EncodedPolyline,
			DistanceMeters:  r.DistanceMeters,
			Duration:        dur,
		})
	}

	return out, nil
}

// parseGoogleDuration parses protobuf JSON durations such as "600s" or "12.5s".
// An absent duration is treated as zero.
func parseGoogleDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if !strings.HasSuffix(s, "s") {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// Ready reports ports.ErrMissingCredential when no API key is configured.
func (g *GoogleRoutesProvider) Ready() error {
	if g.apiKey == "" {
		return ports.ErrMissingCredential
	}
	return nil
}
