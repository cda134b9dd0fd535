package ports

import (
	"context"
	"errors"

	"fleet-route-service/internal/domain"
)

// ErrNoRoute reports a directions chain crossing unreachable regions.
// Permanent for the inputs, like StatusZeroResults.
var ErrNoRoute = errors.New("no route between points")

// ErrRouteTooLong reports a chain the provider refused for length; callers
// react by bisecting the chain.
var ErrRouteTooLong = errors.New("max route length exceeded")

// RouteStatus reports whether the provider could route a pair.
type RouteStatus string

const (
	StatusOK RouteStatus = "OK"
	// StatusZeroResults means "no route exists" and is permanent for the
	// pair; callers must not retry with the same inputs.
	StatusZeroResults RouteStatus = "ZERO_RESULTS"
)

// Driving distance and travel duration between two points.
type DistanceResult struct {
	DistanceMeters  int         `json:"distance"`
	DurationSeconds int         `json:"duration"`
	Status          RouteStatus `json:"status"`
	Polyline        string      `json:"polyline,omitempty"`
}

// Leg is one segment of a multi-waypoint directions response.
type Leg struct {
	DistanceMeters  int
	DurationSeconds int
	Polyline        string
}

// Contract for retrieving driving distance and duration between points.
type DistanceProvider interface {
	// Return the single matrix element for one ordered pair.
	SingleElement(ctx context.Context, origin, destination domain.LatLng) (DistanceResult, error)

	// Return per-leg distance/duration/polyline for a chain
	// origin -> waypoints... -> destination.
	Directions(ctx context.Context, origin, destination domain.LatLng, waypoints []domain.LatLng) ([]Leg, error)
}
