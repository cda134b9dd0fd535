// Package optimizer composes the full pipeline: cluster one day's problem
// into independent big clusters, solve each sub-problem, improve the
// assignments iteratively, and merge everything into one result.
package optimizer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fleet-route-service/internal/clustering"
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/improve"
	"fleet-route-service/internal/platform/obs"
	"fleet-route-service/internal/ports"
	"fleet-route-service/internal/roerr"
	"fleet-route-service/internal/runctx"
	"fleet-route-service/internal/solver"
)

// Optimizer runs one whole optimisation: clustering, per-cluster solve
// and improvement, result merge. Big clusters are independent, so a
// single infeasible cluster fails only its own jobs, never the day.
type Optimizer struct {
	provider ports.DistanceProvider
	sctx     *runctx.SolveContext
}

func New(provider ports.DistanceProvider, sctx *runctx.SolveContext) *Optimizer {
	return &Optimizer{provider: provider, sctx: sctx}
}

var _ ports.RoutingSolver = (*Optimizer)(nil)

func (o *Optimizer) Solve(ctx context.Context, params *domain.EngineParameters) (_ *domain.AssignmentResult, err error) {
	defer obs.Time(o.sctx.Logger, "optimizer.solve")(&err)

	clusters, err := clustering.New(o.provider, o.sctx).Run(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}

	tours := map[int64]*domain.DriverTour{}
	skippedOrders := append([]int64(nil), clusters.SkippedJobs...)
	skippedDrivers := append([]int64(nil), clusters.SkippedDrivers...)
	softWindow := len(clusters.SubProblems) > 1

	for _, sub := range clusters.SubProblems {
		res, err := o.solveSub(ctx, sub, softWindow)
		if err != nil {
			return nil, err
		}
		if !res.Good {
			// The whole cluster failed: its jobs and drivers are lost,
			// the other clusters still stand.
			o.sctx.Logger.Warn("big cluster unsolvable",
				zap.Int("jobs", len(sub.Jobs)),
				zap.String("kind", res.Exception.Kind))
			for _, j := range sub.Jobs {
				skippedOrders = append(skippedOrders, j.OrderID)
			}
			for _, d := range sub.Drivers {
				skippedDrivers = append(skippedDrivers, d.ID)
			}
			continue
		}
		for id, tour := range res.DriverTours {
			tours[id] = tour
		}
		skippedOrders = append(skippedOrders, res.SkippedOrders...)
		skippedDrivers = append(skippedDrivers, res.SkippedDrivers...)
	}

	stops := 0
	for _, tour := range tours {
		stops += tour.StopCount()
	}
	o.sctx.Logger.Info("optimisation finished",
		zap.Int("drivers", len(tours)),
		zap.Int("stops", stops),
		zap.Int("skipped_orders", len(skippedOrders)),
		zap.Int("skipped_drivers", len(skippedDrivers)))

	return domain.NewAssignmentResult(tours, skippedOrders, skippedDrivers), nil
}

// solveSub runs one big cluster end to end: model build, initial solve,
// iterative improvement, result assembly.
func (o *Optimizer) solveSub(ctx context.Context, sub *domain.EngineParameters, softWindow bool) (*domain.AssignmentResult, error) {
	problem, err := solver.BuildProblem(ctx, o.provider, o.sctx, sub)
	if err != nil {
		if errors.Is(err, roerr.ErrDisconnectedGeography) {
			return domain.FailedAssignmentResult("disconnected_geography", err), nil
		}
		return nil, err
	}

	plan, err := problem.SolveInitial(ctx, solver.Options{
		TimeLimit: solver.SolveBudget(len(sub.Jobs), o.sctx.Config.Improvement),
	})
	if err != nil {
		if errors.Is(err, roerr.ErrNoSolution) {
			return domain.FailedAssignmentResult("no_solution", err), nil
		}
		return nil, err
	}

	opts := improve.OptionsForFocus(sub.Focus)
	opts.SoftWindow = softWindow
	improved, err := improve.New(problem, o.sctx, opts).Run(ctx, plan)
	if err != nil {
		return nil, err
	}
	return problem.BuildResult(improved), nil
}
