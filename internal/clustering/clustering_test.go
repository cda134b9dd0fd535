package clustering

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

func at(hour int) time.Time { return day.Add(time.Duration(hour) * time.Hour) }

func testJob(id int64, lat, lng float64) *domain.Job {
	after := at(9)
	return &domain.Job{
		ID:       id,
		OrderID:  id,
		Location: domain.LatLng{Lat: lat, Lng: lng},
		Window:   domain.TimeWindow{After: &after, Before: at(17)},
		Capacity: 1,
	}
}

func testDriver(id int64, lat, lng float64) *domain.Driver {
	return &domain.Driver{
		ID:         id,
		MemberID:   id,
		ShiftStart: at(8),
		ShiftEnd:   at(18),
		StartHub: &domain.Hub{
			ID:       id,
			Location: domain.LatLng{Lat: lat, Lng: lng},
		},
	}
}

func newClusteringContext(t *testing.T, mutate func(*config.OptimizerConfig)) *runctx.SolveContext {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	sctx, err := runctx.New(cfg, nil, cache.NewMemoryDistanceCache(), runctx.NewRecordingEventHandler())
	require.NoError(t, err)
	return sctx
}

// blob plants n jobs in a tight grid around a center.
func blob(ids *int64, lat, lng float64, n int) []*domain.Job {
	jobs := make([]*domain.Job, 0, n)
	for i := 0; i < n; i++ {
		*ids++
		jobs = append(jobs, testJob(*ids,
			lat+float64(i%3)*0.002,
			lng+float64(i/3)*0.002))
	}
	return jobs
}

func TestMiniClustersConserveJobs(t *testing.T) {
	sctx := newClusteringContext(t, nil)
	provider := distance.NewMockDistanceProvider()

	var ids int64
	var jobs []*domain.Job
	jobs = append(jobs, blob(&ids, 53.90, 27.55, 10)...)
	jobs = append(jobs, blob(&ids, 53.95, 27.65, 10)...)
	// Mixed attributes force splits.
	jobs[0].Skills = []int64{7}
	jobs[1].Skills = []int64{7}
	jobs[5].AssignedDriver = 2
	narrow := at(10)
	jobs[12].Window = domain.TimeWindow{After: &narrow, Before: at(11)}

	params := &domain.EngineParameters{
		Day:                "2026-09-01",
		Timezone:           "UTC",
		Focus:              domain.FocusAll,
		DefaultServiceTime: 5,
		Jobs:               jobs,
		Drivers:            []*domain.Driver{testDriver(1, 53.90, 27.55), testDriver(2, 53.95, 27.65)},
	}

	set, err := NewMiniClusterBuilder(provider, sctx).Build(context.Background(), params)
	require.NoError(t, err)

	seen := make(map[int64]int)
	for _, c := range set.Clusters {
		require.NotEmpty(t, c.Objects)
		for _, o := range c.Objects {
			seen[o.Job.ID]++
		}
	}
	for _, id := range set.SkippedJobs {
		seen[id]++
	}
	require.Len(t, seen, len(jobs))
	for id, count := range seen {
		require.Equal(t, 1, count, "job %d must appear exactly once", id)
	}

	// Homogeneity: one skill signature, window signature and pin per cluster.
	for _, c := range set.Clusters {
		first := c.Objects[0].Job
		for _, o := range c.Objects[1:] {
			require.Equal(t, first.SkillsSignature(), o.Job.SkillsSignature())
			require.Equal(t, first.AssignedDriver, o.Job.AssignedDriver)
		}
	}
}

func TestMiniClustersSplitDisconnectedRegions(t *testing.T) {
	sctx := newClusteringContext(t, nil)
	provider := distance.NewMockDistanceProvider()
	provider.AddRegion(func(p domain.LatLng) bool { return p.Lng < 100 })
	provider.AddRegion(func(p domain.LatLng) bool { return p.Lng > 100 })

	var ids int64
	jobs := blob(&ids, 53.90, 27.55, 8)
	jobs = append(jobs, blob(&ids, -33.86, 151.20, 3)...) // unreachable from Minsk

	params := &domain.EngineParameters{
		Day:                "2026-09-01",
		Timezone:           "UTC",
		Focus:              domain.FocusAll,
		DefaultServiceTime: 5,
		Jobs:               jobs,
		Drivers:            []*domain.Driver{testDriver(1, 53.90, 27.55), testDriver(2, 53.91, 27.56)},
	}

	set, err := NewMiniClusterBuilder(provider, sctx).Build(context.Background(), params)
	require.NoError(t, err)

	require.Len(t, set.SkippedJobs, 3, "the smaller region must be skipped")
	kept := 0
	for _, c := range set.Clusters {
		for _, o := range c.Objects {
			require.Less(t, o.Job.Location.Lng, 100.0)
			kept++
		}
	}
	require.Equal(t, 8, kept)
}

func TestMergeInvariants(t *testing.T) {
	sctx := newClusteringContext(t, func(cfg *config.OptimizerConfig) {
		cfg.Clustering.SingleClusterPoints = 10
		cfg.Clustering.GrowClusterPoints = 8
		cfg.Clustering.GrowNextClusterPoints = 6
	})
	provider := distance.NewMockDistanceProvider()

	var ids int64
	var jobs []*domain.Job
	jobs = append(jobs, blob(&ids, 53.90, 27.55, 8)...)
	jobs = append(jobs, blob(&ids, 53.96, 27.65, 8)...)
	jobs = append(jobs, blob(&ids, 53.84, 27.45, 7)...)
	jobs = append(jobs, blob(&ids, 53.98, 27.40, 7)...)

	params := &domain.EngineParameters{
		Day:                "2026-09-01",
		Timezone:           "UTC",
		Focus:              domain.FocusAll,
		DefaultServiceTime: 5,
		Jobs:               jobs,
		Drivers: []*domain.Driver{
			testDriver(1, 53.90, 27.55),
			testDriver(2, 53.96, 27.65),
			testDriver(3, 53.84, 27.45),
			testDriver(4, 53.98, 27.40),
		},
	}

	ctx := context.Background()
	set, err := NewMiniClusterBuilder(provider, sctx).Build(ctx, params)
	require.NoError(t, err)
	require.Empty(t, set.SkippedJobs)

	bigs, err := NewBigClustersManager(sctx, set, params).MergeMiniClusters(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, bigs)

	miniSeen := make(map[int]int)
	driverSeen := make(map[int]int)
	for _, bc := range bigs {
		require.NotEmpty(t, bc.DriverIndexes, "every big cluster needs a driver")
		for _, mi := range bc.ClusterIndexes {
			miniSeen[mi]++
		}
		for _, o := range bc.Objects {
			require.NotNil(t, o)
		}
		for _, di := range bc.DriverIndexes {
			driverSeen[di]++
		}
	}
	require.Len(t, miniSeen, len(set.Clusters))
	for mi, count := range miniSeen {
		require.Equal(t, 1, count, "mini-cluster %d must land in one big cluster", mi)
	}
	require.Len(t, driverSeen, len(set.Drivers))
	for di, count := range driverSeen {
		require.Equal(t, 1, count, "driver %d must land in one big cluster", di)
	}
}

func TestClusteringProducesSubProblems(t *testing.T) {
	sctx := newClusteringContext(t, nil)
	provider := distance.NewMockDistanceProvider()

	var ids int64
	jobs := blob(&ids, 53.90, 27.55, 12)
	params := &domain.EngineParameters{
		Day:                "2026-09-01",
		Timezone:           "UTC",
		Focus:              domain.FocusAll,
		DefaultServiceTime: 5,
		Jobs:               jobs,
		Drivers:            []*domain.Driver{testDriver(1, 53.90, 27.55)},
	}

	res, err := New(provider, sctx).Run(context.Background(), params)
	require.NoError(t, err)
	require.Empty(t, res.SkippedJobs)
	require.Len(t, res.SubProblems, 1)

	sub := res.SubProblems[0]
	require.Len(t, sub.Jobs, 12)
	require.Len(t, sub.Drivers, 1)
	require.Equal(t, params.Day, sub.Day)
	require.Equal(t, params.Timezone, sub.Timezone)
}
