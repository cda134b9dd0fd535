package solver

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

func newEngine(t *testing.T) (*Engine, *runctx.SolveContext) {
	t.Helper()
	sctx, err := runctx.New(config.Default(), nil, cache.NewMemoryDistanceCache(), runctx.NewRecordingEventHandler())
	require.NoError(t, err)
	return NewEngine(distance.NewMockDistanceProvider(), sctx), sctx
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
		VehicleCapacity: 10,
	}
}

func order(id int64, lat, lng float64) *domain.Job {
	after := at(9, 0)
	return &domain.Job{
		ID:       id,
		OrderID:  id,
		Location: domain.LatLng{Lat: lat, Lng: lng},
		Window:   domain.TimeWindow{After: &after, Before: at(18, 0)},
		Capacity: 1,
	}
}

func baseParams(jobs []*domain.Job, drivers []*domain.Driver) *domain.EngineParameters {
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

func TestSolveSingleDriverTwoOrders(t *testing.T) {
	engine, _ := newEngine(t)
	params := baseParams(
		[]*domain.Job{order(101, 53.9100, 27.5500), order(102, 53.8950, 27.5700)},
		[]*domain.Driver{hubDriver(1)},
	)

	res, err := engine.Solve(context.Background(), params)
	require.NoError(t, err)
	require.True(t, res.Good)
	require.Empty(t, res.SkippedOrders)
	require.Empty(t, res.SkippedDrivers)
	require.Len(t, res.DriverTours, 1)

	tour := res.DriverTours[1]
	require.Equal(t, 2, tour.StopCount())
	// Hub anchors bracket the tour.
	require.Equal(t, domain.PointHub, tour.Points[0].Kind)
	require.Equal(t, domain.PointHub, tour.Points[len(tour.Points)-1].Kind)
	// Regression ceiling, not a tight bound: a city round trip over two
	// nearby stops stays well under 50 km.
	require.Less(t, res.DrivingDistance, 50_000)
	require.Greater(t, res.DrivingDistance, 0)
}

func TestSolveOrdersPointsTimed(t *testing.T) {
	engine, _ := newEngine(t)
	params := baseParams(
		[]*domain.Job{order(101, 53.9100, 27.5500), order(102, 53.8950, 27.5700), order(103, 53.9050, 27.5650)},
		[]*domain.Driver{hubDriver(1)},
	)

	res, err := engine.Solve(context.Background(), params)
	require.NoError(t, err)
	require.True(t, res.Good)

	tour := res.DriverTours[1]
	for i := 1; i < len(tour.Points); i++ {
		require.False(t, tour.Points[i].StartTime.Before(tour.Points[i-1].EndTime),
			"points must be chronologically ordered")
		require.Same(t, tour.Points[i-1], tour.Points[i].Prev)
	}
	for _, pt := range tour.Points {
		if pt.Kind == domain.PointDelivery {
			require.False(t, pt.StartTime.Before(at(9, 0)), "delivery before window opens")
		}
	}
}

func TestSolvePickupBeforeDelivery(t *testing.T) {
	engine, _ := newEngine(t)
	job := order(201, 53.9100, 27.5500)
	job.Pickups = []*domain.Pickup{{
		ID:       301,
		Location: domain.LatLng{Lat: 53.8900, Lng: 27.5800},
		Window:   domain.TimeWindow{Before: at(18, 0)},
		Capacity: 2,
	}}
	params := baseParams([]*domain.Job{job}, []*domain.Driver{hubDriver(1)})

	res, err := engine.Solve(context.Background(), params)
	require.NoError(t, err)
	require.True(t, res.Good)

	tour := res.DriverTours[1]
	pickupAt, deliveryAt := -1, -1
	for i, pt := range tour.Points {
		switch pt.Kind {
		case domain.PointPickup:
			pickupAt = i
			require.Equal(t, 2, pt.UtilizedCapacity)
		case domain.PointDelivery:
			deliveryAt = i
			require.Equal(t, 0, pt.UtilizedCapacity)
		}
	}
	require.GreaterOrEqual(t, pickupAt, 0)
	require.Greater(t, deliveryAt, pickupAt, "pickup must precede its delivery")
}

func TestSolveImpossibleMandatoryJob(t *testing.T) {
	engine, _ := newEngine(t)
	job := order(101, 53.9100, 27.5500)
	// Window closes before the shift starts.
	early := at(5, 0)
	job.Window = domain.TimeWindow{After: &early, Before: at(6, 0)}
	params := baseParams([]*domain.Job{job}, []*domain.Driver{hubDriver(1)})

	res, err := engine.Solve(context.Background(), params)
	require.NoError(t, err)
	require.False(t, res.Good)
	require.NotNil(t, res.Exception)
	require.Equal(t, "no_solution", res.Exception.Kind)
}

func TestSolveSkipsUnfittableSkippableJob(t *testing.T) {
	engine, _ := newEngine(t)
	good := order(101, 53.9100, 27.5500)
	bad := order(102, 53.8950, 27.5700)
	early := at(5, 0)
	bad.Window = domain.TimeWindow{After: &early, Before: at(6, 0)}
	bad.AllowSkip = true
	params := baseParams([]*domain.Job{good, bad}, []*domain.Driver{hubDriver(1)})

	res, err := engine.Solve(context.Background(), params)
	require.NoError(t, err)
	require.True(t, res.Good)
	require.Equal(t, []int64{102}, res.SkippedOrders)
	require.Equal(t, 1, res.DriverTours[1].StopCount())
}

func TestSolveHonoursAssignedDriver(t *testing.T) {
	engine, _ := newEngine(t)
	d1, d2 := hubDriver(1), hubDriver(2)
	j1 := order(101, 53.9100, 27.5500)
	j1.AssignedDriver = 2
	params := baseParams([]*domain.Job{j1}, []*domain.Driver{d1, d2})

	res, err := engine.Solve(context.Background(), params)
	require.NoError(t, err)
	require.True(t, res.Good)
	require.NotNil(t, res.DriverTours[2])
	require.Equal(t, 1, res.DriverTours[2].StopCount())
	require.Contains(t, res.SkippedDrivers, int64(1))
}

func TestSolveMergesOverlappingBreaks(t *testing.T) {
	engine, _ := newEngine(t)
	d := hubDriver(1)
	d.Breaks = []*domain.DriverBreak{
		{Start: at(12, 0), End: at(12, 30)},
		{Start: at(12, 15), End: at(12, 45)},
	}
	params := baseParams([]*domain.Job{order(101, 53.9100, 27.5500)}, []*domain.Driver{d})

	res, err := engine.Solve(context.Background(), params)
	require.NoError(t, err)
	require.True(t, res.Good)

	var rests []*domain.Point
	for _, pt := range res.DriverTours[1].Points {
		if pt.Kind == domain.PointBreak {
			rests = append(rests, pt)
		}
	}
	require.Len(t, rests, 1, "overlapping declared breaks collapse into one")
	require.Equal(t, 45*60, int(rests[0].EndTime.Sub(rests[0].StartTime).Seconds()))
}

func TestSolveDisconnectedJobSkipped(t *testing.T) {
	sctx, err := runctx.New(config.Default(), nil, cache.NewMemoryDistanceCache(), runctx.NewRecordingEventHandler())
	require.NoError(t, err)
	provider := distance.NewMockDistanceProvider()
	provider.AddRegion(func(p domain.LatLng) bool { return p.Lng < 100 })
	provider.AddRegion(func(p domain.LatLng) bool { return p.Lng > 100 })
	engine := NewEngine(provider, sctx)

	reachable := order(101, 53.9100, 27.5500)
	stranded := order(102, -33.8688, 151.2093) // Sydney
	stranded.AllowSkip = true
	params := baseParams([]*domain.Job{reachable, stranded}, []*domain.Driver{hubDriver(1)})

	res, err := engine.Solve(context.Background(), params)
	require.NoError(t, err)
	require.True(t, res.Good)
	require.Equal(t, []int64{102}, res.SkippedOrders)
}
