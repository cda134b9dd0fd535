// Package improve iterates on a solved assignment: unassigning far-away
// points, reassigning them where they fit better, balancing route
// durations and swapping work between drivers, until the assignment stops
// changing or the budget runs out.
package improve

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/runctx"
	"fleet-route-service/internal/solver"
)

// EngineOptions compose the assignment behaviors; each flag switches one
// pipeline stage on.
type EngineOptions struct {
	// TimeBalancing enables the route-duration balancing stage.
	TimeBalancing bool
	// UseAllDrivers pulls work onto idle drivers at finish.
	UseAllDrivers bool
	// SoftWindow caps iterations at the short soft-window budget.
	SoftWindow bool
}

// OptionsForFocus maps the requested optimisation focus onto behaviors.
func OptionsForFocus(focus domain.Focus) EngineOptions {
	switch focus {
	case domain.FocusTimeBalance:
		return EngineOptions{TimeBalancing: true}
	case domain.FocusAll:
		return EngineOptions{TimeBalancing: true, UseAllDrivers: true}
	default:
		return EngineOptions{}
	}
}

// Engine runs the iterative improvement loop over one solved problem.
type Engine struct {
	problem *solver.Problem
	sctx    *runctx.SolveContext
	opts    EngineOptions
}

func New(problem *solver.Problem, sctx *runctx.SolveContext, opts EngineOptions) *Engine {
	return &Engine{problem: problem, sctx: sctx, opts: opts}
}

// Run improves the plan in iterations and returns the best assignment
// seen. The input plan is not modified.
func (e *Engine) Run(ctx context.Context, initial *solver.Plan) (*solver.Plan, error) {
	cfg := e.sctx.Config.Improvement

	budget := len(e.problem.Vehicles) + cfg.ExtraIterations
	if e.opts.SoftWindow {
		budget = cfg.SoftWindowIterations
	}
	timer := NewAssignmentRunTimer(time.Duration(cfg.RunTimeLimitSeconds) * time.Second)
	rerun := time.Duration(cfg.RerunTimeLimitSeconds) * time.Second
	prev := NewPreviousRunStore(cfg.HistoryWindow)
	store := NewMinSkippedAssignmentStore()

	current := initial.Clone()
	store.Offer(current, e.planMetric(current))

	for iter := 0; iter < budget; iter++ {
		if err := ctx.Err(); err != nil {
			break
		}
		if timer.Exceeded() {
			e.sctx.Logger.Info("improvement time limit reached", zap.Int("iteration", iter))
			break
		}

		var toReassign []int
		if len(cfg.UnassignThresholds) > 0 {
			threshold := cfg.UnassignThresholds[min(iter, len(cfg.UnassignThresholds)-1)]
			toReassign = e.unassignNonNearby(current, threshold)
		}
		e.pickupRationalPosition(current)
		e.reassignPoints(current, toReassign)
		e.nearbyReassign(current)

		if e.opts.TimeBalancing && (iter*2 >= budget || len(toReassign) == 0) {
			e.routeBalancing(current, cfg.RouteBalancingAllowedPct)
		}
		e.swapFullRoutes(current)

		// Re-solve from the modified skeleton under the short rerun budget.
		deadline := time.Now().Add(rerun)
		e.moveAndSwapPoints(current, deadline)
		e.resolve(current, deadline)

		metric := e.planMetric(current)
		store.Offer(current, metric)
		if prev.NotChanging(metric) {
			e.sctx.Logger.Info("improvement converged",
				zap.Int("iteration", iter), zap.Int("metric", metric))
			break
		}
		prev.Push(metric)
	}

	final := store.Best().Clone()
	e.finish(final, timer.Deadline())
	if len(final.SkippedJobs) > len(store.Best().SkippedJobs) {
		return store.Best(), nil
	}
	return final, nil
}

// resolve re-polishes every route with 2-opt from the warm skeleton.
func (e *Engine) resolve(plan *solver.Plan, deadline time.Time) {
	for vi := range plan.Routes {
		plan.Routes[vi] = e.problem.TwoOptRoute(vi, plan.Routes[vi],
			len(e.problem.Vehicles[vi].StartSeq), deadline)
	}
}

// finish runs the clean-up pass: reclaim skipped jobs one last time, give
// idle drivers work when requested, and polish the final node sets.
func (e *Engine) finish(plan *solver.Plan, deadline time.Time) {
	e.reassignPoints(plan, nil)
	if e.opts.UseAllDrivers {
		e.feedIdleDrivers(plan)
	}
	e.resolve(plan, deadline)
}

// feedIdleDrivers moves one job from the longest route onto each empty
// route when that is feasible.
func (e *Engine) feedIdleDrivers(plan *solver.Plan) {
	for vi, route := range plan.Routes {
		if len(route) > 0 {
			continue
		}
		longest, longTime := -1, 0
		for ovi, or := range plan.Routes {
			if ovi == vi || len(or) < 2 {
				continue
			}
			timing, ok := e.problem.Schedule(ovi, or)
			if !ok {
				continue
			}
			if ft := timing.FullSeconds(); ft > longTime {
				longest, longTime = ovi, ft
			}
		}
		if longest >= 0 {
			e.moveOneJob(plan, longest, vi)
		}
	}
}

// planMetric is the convergence measure: total driving time plus distance.
func (e *Engine) planMetric(plan *solver.Plan) int {
	total := 0
	for vi, route := range plan.Routes {
		if len(route) == 0 {
			continue
		}
		timing, ok := e.problem.Schedule(vi, route)
		if !ok {
			continue
		}
		total += timing.DrivingSeconds + timing.DrivingMeters
	}
	return total
}
