package clustering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/platform/obs"
	"fleet-route-service/internal/ports"
	"fleet-route-service/internal/runctx"
)

// Result is the clustering pipeline output: one independent sub-problem
// per big cluster, plus jobs and drivers that could not participate.
type Result struct {
	SubProblems    []*domain.EngineParameters
	SkippedJobs    []int64
	SkippedDrivers []int64
}

// Clustering runs the full pipeline: mini-clusters, outer matrix, merge.
type Clustering struct {
	provider ports.DistanceProvider
	sctx     *runctx.SolveContext
}

func New(provider ports.DistanceProvider, sctx *runctx.SolveContext) *Clustering {
	return &Clustering{provider: provider, sctx: sctx}
}

// Run partitions one day's problem into big-cluster sub-problems. Big
// clusters are independent; callers may solve them in any order.
func (c *Clustering) Run(ctx context.Context, params *domain.EngineParameters) (_ *Result, err error) {
	defer obs.Time(c.sctx.Logger, "clustering.run")(&err)

	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}

	set, err := NewMiniClusterBuilder(c.provider, c.sctx).Build(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}
	out := &Result{
		SkippedJobs:    append([]int64(nil), set.SkippedJobs...),
		SkippedDrivers: append([]int64(nil), set.SkippedDrivers...),
	}
	if len(set.Clusters) == 0 {
		return out, nil
	}

	bigs, err := NewBigClustersManager(c.sctx, set, params).MergeMiniClusters(ctx)
	if err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}

	for _, bc := range bigs {
		sub := c.subProblem(params, set, bc)
		if len(sub.Jobs) == 0 || len(sub.Drivers) == 0 {
			for _, j := range sub.Jobs {
				out.SkippedJobs = append(out.SkippedJobs, j.OrderID)
			}
			continue
		}
		out.SubProblems = append(out.SubProblems, sub)
	}

	c.sctx.Logger.Info("clustering finished",
		zap.Int("sub_problems", len(out.SubProblems)),
		zap.Int("skipped_jobs", len(out.SkippedJobs)),
		zap.Int("skipped_drivers", len(out.SkippedDrivers)))
	return out, nil
}

// subProblem carves one big cluster into a standalone EngineParameters.
func (c *Clustering) subProblem(params *domain.EngineParameters, set *MiniClusterSet, bc *BigCluster) *domain.EngineParameters {
	sub := &domain.EngineParameters{
		Day:                      params.Day,
		Timezone:                 params.Timezone,
		Focus:                    params.Focus,
		DefaultServiceTime:       params.DefaultServiceTime,
		DefaultPickupServiceTime: params.DefaultPickupServiceTime,
		UseVehicleCapacity:       params.UseVehicleCapacity,
	}
	for _, mi := range bc.ClusterIndexes {
		for _, o := range set.Clusters[mi].Objects {
			sub.Jobs = append(sub.Jobs, o.Job)
		}
	}
	for _, o := range bc.Objects {
		sub.Jobs = append(sub.Jobs, o.Job)
	}
	memberIDs := make(map[int64]bool)
	for _, di := range bc.DriverIndexes {
		d := set.Drivers[di]
		sub.Drivers = append(sub.Drivers, d)
		memberIDs[d.MemberID] = true
	}
	for _, seq := range params.RequiredStartSequence {
		if memberIDs[seq.DriverMemberID] {
			sub.RequiredStartSequence = append(sub.RequiredStartSequence, seq)
		}
	}
	return sub
}
