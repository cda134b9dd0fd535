package dima

import (
	"context"
	"testing"
	"time"

	"fleet-route-service/internal/adapters/cache"
	"fleet-route-service/internal/adapters/distance"
	"fleet-route-service/internal/config"
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/ports"
	"fleet-route-service/internal/runctx"
)

func newTestContext(t *testing.T) *runctx.SolveContext {
	t.Helper()
	sctx, err := runctx.New(config.Default(), nil, cache.NewMemoryDistanceCache(), runctx.NewRecordingEventHandler())
	if err != nil {
		t.Fatalf("solve context: %v", err)
	}
	return sctx
}

// Minsk city points, all mutually reachable by road.
func minskPoints() []domain.LatLng {
	return []domain.LatLng{
		{Lat: 53.9006, Lng: 27.5590},
		{Lat: 53.9045, Lng: 27.5615},
		{Lat: 53.8938, Lng: 27.5709},
		{Lat: 53.9123, Lng: 27.5430},
		{Lat: 53.8847, Lng: 27.5401},
	}
}

func TestBuildCompleteMatrix(t *testing.T) {
	provider := distance.NewMockDistanceProvider()
	points := minskPoints()

	m, err := NewBuilder(provider, newTestContext(t)).Build(context.Background(), points)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	n := len(points)
	if m.Len() != n*n {
		t.Fatalf("expected %d entries, got %d", n*n, m.Len())
	}
	if len(m.Components()) != 1 {
		t.Fatalf("expected one component, got %d", len(m.Components()))
	}
	for i := 0; i < n; i++ {
		r, ok := m.Get(i, i)
		if !ok || r.DistanceMeters != 0 || r.DurationSeconds != 0 {
			t.Fatalf("self pair %d not zero: %+v", i, r)
		}
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			r, ok := m.Get(i, j)
			if !ok {
				t.Fatalf("missing entry %d->%d", i, j)
			}
			if r.Status != ports.StatusOK || r.DurationSeconds <= 0 {
				t.Fatalf("bad entry %d->%d: %+v", i, j, r)
			}
		}
	}
}

func TestBuildThreeDisconnectedRegions(t *testing.T) {
	provider := distance.NewMockDistanceProvider()
	// Australia, South America, Eurasia.
	provider.AddRegion(func(p domain.LatLng) bool { return p.Lat < 0 && p.Lng > 100 })
	provider.AddRegion(func(p domain.LatLng) bool { return p.Lat < 0 && p.Lng < 0 })
	provider.AddRegion(func(p domain.LatLng) bool { return p.Lat > 0 && p.Lng > 0 })

	points := []domain.LatLng{
		{Lat: -33.8688, Lng: 151.2093}, // Sydney
		{Lat: -37.8136, Lng: 144.9631}, // Melbourne
		{Lat: -34.6037, Lng: -58.3816}, // Buenos Aires
		{Lat: -23.5505, Lng: -46.6333}, // Sao Paulo
		{Lat: 53.9006, Lng: 27.5590},   // Minsk
		{Lat: 52.5200, Lng: 13.4050},   // Berlin
	}

	m, err := NewBuilder(provider, newTestContext(t)).Build(context.Background(), points)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(m.Components()) != 3 {
		t.Fatalf("expected 3 components, got %d", len(m.Components()))
	}

	// No forged entries across regions; complete within each region.
	region := []int{0, 0, 1, 1, 2, 2}
	for i := range points {
		for j := range points {
			r, ok := m.Get(i, j)
			if region[i] != region[j] {
				if ok {
					t.Fatalf("forged entry across regions %d->%d: %+v", i, j, r)
				}
				continue
			}
			if !ok {
				t.Fatalf("missing same-region entry %d->%d", i, j)
			}
		}
	}
}

// Two regions where every vertex keeps failing once only cross-region
// pairs remain: the builder must still separate them instead of reporting
// one component.
func TestBuildTwoDisconnectedRegions(t *testing.T) {
	provider := distance.NewMockDistanceProvider()
	provider.AddRegion(func(p domain.LatLng) bool { return p.Lat < 0 })
	provider.AddRegion(func(p domain.LatLng) bool { return p.Lat > 0 })

	points := []domain.LatLng{
		{Lat: -33.8688, Lng: 151.2093}, // Sydney
		{Lat: -37.8136, Lng: 144.9631}, // Melbourne
		{Lat: 53.9006, Lng: 27.5590},   // Minsk
		{Lat: 52.5200, Lng: 13.4050},   // Berlin
	}

	m, err := NewBuilder(provider, newTestContext(t)).Build(context.Background(), points)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	comps := m.Components()
	if len(comps) != 2 {
		t.Fatalf("expected 2 components, got %d: %v", len(comps), comps)
	}
	if comps[0][0] != 0 || comps[0][1] != 1 || comps[1][0] != 2 || comps[1][1] != 3 {
		t.Fatalf("wrong component membership: %v", comps)
	}
	for _, pair := range [][2]int{{0, 2}, {2, 0}, {1, 3}, {3, 1}} {
		if r, ok := m.Get(pair[0], pair[1]); ok {
			t.Fatalf("forged entry across regions %d->%d: %+v", pair[0], pair[1], r)
		}
	}
	for _, pair := range [][2]int{{0, 1}, {1, 0}, {2, 3}, {3, 2}} {
		r, ok := m.Get(pair[0], pair[1])
		if !ok || r.Status != ports.StatusOK || r.DurationSeconds <= 0 {
			t.Fatalf("bad same-region entry %d->%d: %+v", pair[0], pair[1], r)
		}
	}
}

func TestBuildBisectsLongChains(t *testing.T) {
	provider := distance.NewMockDistanceProvider()
	provider.MaxChainWaypoints = 2

	points := minskPoints()
	m, err := NewBuilder(provider, newTestContext(t)).Build(context.Background(), points)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if m.Len() != len(points)*len(points) {
		t.Fatalf("expected complete matrix after bisection, got %d entries", m.Len())
	}
}

func TestBuildUsesCache(t *testing.T) {
	sctx := newTestContext(t)
	provider := distance.NewMockDistanceProvider()
	points := minskPoints()

	// Pre-fill every directed pair; the provider should stay idle.
	ctx := context.Background()
	for _, a := range points {
		for _, b := range points {
			if a == b {
				continue
			}
			r, err := provider.SingleElement(ctx, a, b)
			if err != nil {
				t.Fatalf("prefill: %v", err)
			}
			if err := sctx.Cache.Set(ctx, domain.Key(a, b), r, time.Hour); err != nil {
				t.Fatalf("prefill set: %v", err)
			}
		}
	}
	prefillCalls := provider.Calls()

	m, err := NewBuilder(provider, sctx).Build(ctx, points)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if m.Len() != len(points)*len(points) {
		t.Fatalf("incomplete matrix: %d entries", m.Len())
	}
	if provider.Calls() != prefillCalls {
		t.Fatalf("expected no provider calls beyond prefill, got %d extra", provider.Calls()-prefillCalls)
	}
}
