package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleet-route-service/internal/adapters/cache"
	"fleet-route-service/internal/adapters/distance"
	"fleet-route-service/internal/config"
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/runctx"
)

var day = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func minskHub() *domain.Hub {
	return &domain.Hub{ID: 1, Name: "minsk-hub", Location: domain.LatLng{Lat: 53.9006, Lng: 27.5590}}
}

func hubDriver(id int64) *domain.Driver {
	return &domain.Driver{
		ID:              id,
		MemberID:        id,
		ShiftStart:      at(8, 0),
		ShiftEnd:        at(20, 0),
		StartHub:        minskHub(),
		EndHub:          minskHub(),
		VehicleCapacity: 20,
	}
}

func order(id int64, lat, lng float64) *domain.Job {
	after := at(9, 0)
	return &domain.Job{
		ID:       id,
		OrderID:  id,
		Location: domain.LatLng{Lat: lat, Lng: lng},
		Window:   domain.TimeWindow{After: &after, Before: at(19, 0)},
		Capacity: 1,
	}
}

func params(jobs []*domain.Job, drivers []*domain.Driver) *domain.EngineParameters {
	return &domain.EngineParameters{
		Day:                "2026-09-01",
		Timezone:           "UTC",
		Focus:              domain.FocusAll,
		DefaultServiceTime: 5,
		UseVehicleCapacity: true,
		Jobs:               jobs,
		Drivers:            drivers,
	}
}

func newOptimizer(t *testing.T, provider *distance.MockDistanceProvider) *Optimizer {
	t.Helper()
	sctx, err := runctx.New(config.Default(), nil, cache.NewMemoryDistanceCache(), runctx.NewRecordingEventHandler())
	require.NoError(t, err)
	return New(provider, sctx)
}

func TestSolveEndToEnd(t *testing.T) {
	jobs := []*domain.Job{
		order(101, 53.9100, 27.5500),
		order(102, 53.8950, 27.5700),
		order(103, 53.9050, 27.5650),
		order(104, 53.9200, 27.5450),
		order(105, 53.8900, 27.5800),
		order(106, 53.9150, 27.5600),
	}
	opt := newOptimizer(t, distance.NewMockDistanceProvider())

	res, err := opt.Solve(context.Background(), params(jobs, []*domain.Driver{hubDriver(1), hubDriver(2)}))
	require.NoError(t, err)
	require.True(t, res.Good)
	require.Empty(t, res.SkippedOrders)

	// Every order appears in exactly one tour.
	served := map[int64]int{}
	for _, tour := range res.DriverTours {
		for _, pt := range tour.Points {
			if pt.Kind == domain.PointDelivery {
				served[pt.SourceID]++
			}
		}
	}
	for _, j := range jobs {
		require.Equal(t, 1, served[j.OrderID], "order %d", j.OrderID)
	}
	require.Greater(t, res.DrivingTime, 0)
	require.Greater(t, res.DrivingDistance, 0)
}

func TestSolveDropsUnreachableRegion(t *testing.T) {
	provider := distance.NewMockDistanceProvider()
	provider.AddRegion(func(p domain.LatLng) bool { return p.Lng < 100 })
	provider.AddRegion(func(p domain.LatLng) bool { return p.Lng > 100 })
	opt := newOptimizer(t, provider)

	jobs := []*domain.Job{
		order(101, 53.9100, 27.5500),
		order(102, 53.8950, 27.5700),
		order(103, -33.8688, 151.2093), // Sydney, unreachable from Minsk
	}
	res, err := opt.Solve(context.Background(), params(jobs, []*domain.Driver{hubDriver(1)}))
	require.NoError(t, err)
	require.True(t, res.Good)
	require.Equal(t, []int64{103}, res.SkippedOrders)
}

func TestSolveValidationFailureIsError(t *testing.T) {
	opt := newOptimizer(t, distance.NewMockDistanceProvider())
	_, err := opt.Solve(context.Background(), params(nil, []*domain.Driver{hubDriver(1)}))
	require.Error(t, err)
}
