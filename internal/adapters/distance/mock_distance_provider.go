package distance

import (
	"context"
	"fmt"
	"sync/atomic"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/ports"
)

// MockDistanceProvider serves synthetic driving results for tests. Points
// belong to reachability regions; pairs in different regions get
// ZERO_RESULTS, mirroring disconnected road networks.
type MockDistanceProvider struct {
	// RoadFactor scales straight-line distance into road distance.
	RoadFactor float64
	// SpeedMps converts road meters into seconds.
	SpeedMps float64
	// MaxChainWaypoints, when positive, rejects longer Directions chains
	// with ErrMaxRouteLengthExceeded.
	MaxChainWaypoints int

	regions   []func(domain.LatLng) bool
	overrides map[string]float64 // pair key -> road factor override

	calls atomic.Int64
}

func NewMockDistanceProvider() *MockDistanceProvider {
	return &MockDistanceProvider{
		RoadFactor: 1.3,
		SpeedMps:   11, // ~40 km/h
		overrides:  map[string]float64{},
	}
}

// AddRegion registers a reachability region. With no regions registered all
// points are mutually reachable.
func (p *MockDistanceProvider) AddRegion(contains func(domain.LatLng) bool) {
	p.regions = append(p.regions, contains)
}

// OverrideRoadFactor makes one ordered pair "road-far" (or near) regardless
// of the global factor.
func (p *MockDistanceProvider) OverrideRoadFactor(origin, destination domain.LatLng, factor float64) {
	p.overrides[domain.Key(origin, destination)] = factor
}

// Calls reports how many provider requests were served.
func (p *MockDistanceProvider) Calls() int { return int(p.calls.Load()) }

func (p *MockDistanceProvider) regionOf(pt domain.LatLng) int {
	for i, contains := range p.regions {
		if contains(pt) {
			return i
		}
	}
	return -1
}

func (p *MockDistanceProvider) reachable(a, b domain.LatLng) bool {
	if len(p.regions) == 0 {
		return true
	}
	ra, rb := p.regionOf(a), p.regionOf(b)
	return ra >= 0 && ra == rb
}

func (p *MockDistanceProvider) pairResult(origin, destination domain.LatLng) ports.DistanceResult {
	factor := p.RoadFactor
	if f, ok := p.overrides[domain.Key(origin, destination)]; ok {
		factor = f
	}
	meters := origin.StraightLineMeters(destination) * factor
	return ports.DistanceResult{
		DistanceMeters:  int(meters),
		DurationSeconds: int(meters / p.SpeedMps),
		Status:          ports.StatusOK,
		Polyline:        fmt.Sprintf("mock(%s->%s)", origin, destination),
	}
}

func (p *MockDistanceProvider) SingleElement(_ context.Context, origin, destination domain.LatLng) (ports.DistanceResult, error) {
	p.calls.Add(1)
	if !p.reachable(origin, destination) {
		return ports.DistanceResult{Status: ports.StatusZeroResults}, nil
	}
	return p.pairResult(origin, destination), nil
}

func (p *MockDistanceProvider) Directions(_ context.Context, origin, destination domain.LatLng, waypoints []domain.LatLng) ([]ports.Leg, error) {
	p.calls.Add(1)
	if p.MaxChainWaypoints > 0 && len(waypoints) > p.MaxChainWaypoints {
		return nil, ports.ErrRouteTooLong
	}

	chain := make([]domain.LatLng, 0, len(waypoints)+2)
	chain = append(chain, origin)
	chain = append(chain, waypoints...)
	chain = append(chain, destination)

	legs := make([]ports.Leg, 0, len(chain)-1)
	for i := 0; i+1 < len(chain); i++ {
		if !p.reachable(chain[i], chain[i+1]) {
			return nil, fmt.Errorf("directions %s -> %s: %w", chain[i], chain[i+1], ports.ErrNoRoute)
		}
		r := p.pairResult(chain[i], chain[i+1])
		legs = append(legs, ports.Leg{
			DistanceMeters:  r.DistanceMeters,
			DurationSeconds: r.DurationSeconds,
			Polyline:        r.Polyline,
		})
	}
	return legs, nil
}
