package improve

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
	"fleet-route-service/internal/solver"
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

func newProblem(t *testing.T, jobs []*domain.Job, drivers []*domain.Driver) (*solver.Problem, *runctx.SolveContext) {
	t.Helper()
	sctx, err := runctx.New(config.Default(), nil, cache.NewMemoryDistanceCache(), runctx.NewRecordingEventHandler())
	require.NoError(t, err)
	params := &domain.EngineParameters{
		Day:                "2026-09-01",
		Timezone:           "UTC",
		Focus:              domain.FocusAll,
		DefaultServiceTime: 5,
		UseVehicleCapacity: true,
		Jobs:               jobs,
		Drivers:            drivers,
	}
	problem, err := solver.BuildProblem(context.Background(), distance.NewMockDistanceProvider(), sctx, params)
	require.NoError(t, err)
	return problem, sctx
}

func minskOrders() []*domain.Job {
	return []*domain.Job{
		order(101, 53.9100, 27.5500),
		order(102, 53.8950, 27.5700),
		order(103, 53.9050, 27.5650),
		order(104, 53.9200, 27.5450),
		order(105, 53.8900, 27.5800),
		order(106, 53.9150, 27.5600),
	}
}

// deliveryRoute reports which route serves each job's delivery node, or -1.
func deliveryRoute(p *solver.Problem, plan *solver.Plan, ji int) int {
	return p.VehicleOfJob(plan, ji)
}

func TestRunKeepsEveryOrderServed(t *testing.T) {
	problem, sctx := newProblem(t, minskOrders(), []*domain.Driver{hubDriver(1), hubDriver(2)})
	initial, err := problem.SolveInitial(context.Background(), solver.Options{TimeLimit: 5 * time.Second})
	require.NoError(t, err)
	require.Empty(t, initial.SkippedJobs)

	engine := New(problem, sctx, OptionsForFocus(domain.FocusAll))
	improved, err := engine.Run(context.Background(), initial)
	require.NoError(t, err)

	require.Empty(t, improved.SkippedJobs)
	for ji := range problem.Params.Jobs {
		require.GreaterOrEqual(t, deliveryRoute(problem, improved, ji), 0,
			"job %d lost during improvement", problem.Params.Jobs[ji].ID)
	}
	// Every route must still simulate cleanly.
	for vi, route := range improved.Routes {
		if len(route) == 0 {
			continue
		}
		_, ok := problem.Schedule(vi, route)
		require.True(t, ok, "route %d infeasible after improvement", vi)
	}
}

func TestRunDoesNotModifyInput(t *testing.T) {
	problem, sctx := newProblem(t, minskOrders(), []*domain.Driver{hubDriver(1)})
	initial, err := problem.SolveInitial(context.Background(), solver.Options{TimeLimit: 5 * time.Second})
	require.NoError(t, err)
	snapshot := initial.Clone()

	engine := New(problem, sctx, EngineOptions{})
	_, err = engine.Run(context.Background(), initial)
	require.NoError(t, err)
	require.Equal(t, snapshot, initial)
}

func TestRunNeverIncreasesSkipped(t *testing.T) {
	impossible := order(199, 53.9000, 27.5600)
	early := at(5, 0)
	impossible.Window = domain.TimeWindow{After: &early, Before: at(6, 0)}
	impossible.AllowSkip = true
	jobs := append(minskOrders(), impossible)

	problem, sctx := newProblem(t, jobs, []*domain.Driver{hubDriver(1), hubDriver(2)})
	initial, err := problem.SolveInitial(context.Background(), solver.Options{TimeLimit: 5 * time.Second})
	require.NoError(t, err)
	require.Len(t, initial.SkippedJobs, 1)

	engine := New(problem, sctx, OptionsForFocus(domain.FocusTimeBalance))
	improved, err := engine.Run(context.Background(), initial)
	require.NoError(t, err)
	require.Len(t, improved.SkippedJobs, 1, "a job with a closed window can never be reclaimed")
}

func TestUnassignNonNearbyRemovesOutlier(t *testing.T) {
	jobs := []*domain.Job{
		order(101, 53.9000, 27.5500),
		order(102, 53.9020, 27.5530),
		order(103, 53.9040, 27.5560),
		order(104, 53.9010, 27.5580),
		order(105, 54.0500, 27.8000), // far north-east of the cluster
	}
	problem, sctx := newProblem(t, jobs, []*domain.Driver{hubDriver(1)})
	initial, err := problem.SolveInitial(context.Background(), solver.Options{TimeLimit: 5 * time.Second})
	require.NoError(t, err)

	engine := New(problem, sctx, EngineOptions{})
	removed := engine.unassignNonNearby(initial, 1.25)

	require.Equal(t, []int{4}, removed)
	require.Equal(t, -1, deliveryRoute(problem, initial, 4))
	for ji := 0; ji < 4; ji++ {
		require.GreaterOrEqual(t, deliveryRoute(problem, initial, ji), 0)
	}
}

func TestUnassignNonNearbyKeepsPinnedJobs(t *testing.T) {
	jobs := []*domain.Job{
		order(101, 53.9000, 27.5500),
		order(102, 53.9020, 27.5530),
		order(103, 53.9040, 27.5560),
		order(105, 54.0500, 27.8000),
	}
	jobs[3].AssignedDriver = 1
	problem, sctx := newProblem(t, jobs, []*domain.Driver{hubDriver(1)})
	initial, err := problem.SolveInitial(context.Background(), solver.Options{TimeLimit: 5 * time.Second})
	require.NoError(t, err)

	engine := New(problem, sctx, EngineOptions{})
	removed := engine.unassignNonNearby(initial, 1.25)
	require.Empty(t, removed, "pre-assigned jobs stay with their driver")
}

func TestNearbyReassignMovesMisplacedJob(t *testing.T) {
	northWest := []*domain.Job{
		order(101, 53.9300, 27.5200),
		order(102, 53.9320, 27.5230),
		order(103, 53.9340, 27.5260),
	}
	southEast := []*domain.Job{
		order(201, 53.8700, 27.6000),
		order(202, 53.8720, 27.6030),
		order(203, 53.8740, 27.6060),
	}
	jobs := append(append([]*domain.Job{}, northWest...), southEast...)
	problem, sctx := newProblem(t, jobs, []*domain.Driver{hubDriver(1), hubDriver(2)})
	engine := New(problem, sctx, EngineOptions{})

	// Job 201 starts on the north-west route, far from its neighbours.
	plan := &solver.Plan{Routes: make([][]int, 2)}
	for ji := 0; ji < 3; ji++ {
		plan.Routes[0] = append(plan.Routes[0], problem.JobNodes(ji)...)
	}
	plan.Routes[0] = append(plan.Routes[0], problem.JobNodes(3)...)
	for ji := 4; ji < 6; ji++ {
		plan.Routes[1] = append(plan.Routes[1], problem.JobNodes(ji)...)
	}

	engine.nearbyReassign(plan)
	require.Equal(t, 1, problem.VehicleOfJob(plan, 3), "misplaced job moves to the closer route")
}

func TestRouteBalancingEvensRoutes(t *testing.T) {
	problem, sctx := newProblem(t, minskOrders(), []*domain.Driver{hubDriver(1), hubDriver(2)})
	engine := New(problem, sctx, EngineOptions{TimeBalancing: true})

	// Pile five orders onto driver 1 and leave one with driver 2.
	plan := &solver.Plan{Routes: make([][]int, 2)}
	for ji := 0; ji < 5; ji++ {
		nodes := problem.JobNodes(ji)
		plan.Routes[0] = append(plan.Routes[0], nodes...)
	}
	plan.Routes[1] = append(plan.Routes[1], problem.JobNodes(5)...)

	before := routeSpread(t, problem, plan)
	engine.routeBalancing(plan, 10)
	after := routeSpread(t, problem, plan)

	require.Greater(t, len(plan.Routes[1]), 1, "balancing must move work to the short route")
	require.Less(t, after, before)
}

func routeSpread(t *testing.T, p *solver.Problem, plan *solver.Plan) int {
	t.Helper()
	longest, shortest := 0, 1<<60
	for vi, route := range plan.Routes {
		timing, ok := p.Schedule(vi, route)
		require.True(t, ok)
		ft := timing.FullSeconds()
		if ft > longest {
			longest = ft
		}
		if ft < shortest {
			shortest = ft
		}
	}
	return longest - shortest
}

func TestOptionsForFocus(t *testing.T) {
	require.Equal(t, EngineOptions{}, OptionsForFocus(domain.FocusMinimalTime))
	require.Equal(t, EngineOptions{}, OptionsForFocus(domain.FocusOld))
	require.Equal(t, EngineOptions{TimeBalancing: true}, OptionsForFocus(domain.FocusTimeBalance))
	require.Equal(t, EngineOptions{TimeBalancing: true, UseAllDrivers: true}, OptionsForFocus(domain.FocusAll))
}
