package solver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"fleet-route-service/internal/config"
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/ports"
	"fleet-route-service/internal/roerr"
	"fleet-route-service/internal/runctx"
)

// Engine adapts the heuristic routing core to the RoutingSolver port.
// Infeasibility is a result, not an error: callers get a failed
// AssignmentResult with exception metadata and decide what to persist.
type Engine struct {
	provider ports.DistanceProvider
	sctx     *runctx.SolveContext
}

func NewEngine(provider ports.DistanceProvider, sctx *runctx.SolveContext) *Engine {
	return &Engine{provider: provider, sctx: sctx}
}

var _ ports.RoutingSolver = (*Engine)(nil)

func (e *Engine) Solve(ctx context.Context, params *domain.EngineParameters) (*domain.AssignmentResult, error) {
	problem, err := BuildProblem(ctx, e.provider, e.sctx, params)
	if err != nil {
		if errors.Is(err, roerr.ErrDisconnectedGeography) {
			e.sctx.Logger.Warn("solve failed on geography", zap.Error(err))
			return domain.FailedAssignmentResult("disconnected_geography", err), nil
		}
		return nil, err
	}

	plan, err := problem.SolveInitial(ctx, Options{
		TimeLimit: SolveBudget(len(params.Jobs), e.sctx.Config.Improvement),
	})
	if err != nil {
		if errors.Is(err, roerr.ErrNoSolution) {
			e.sctx.Logger.Warn("no feasible assignment", zap.Int("jobs", len(params.Jobs)), zap.Error(err))
			return domain.FailedAssignmentResult("no_solution", err), nil
		}
		return nil, err
	}
	return problem.BuildResult(plan), nil
}

// SolveBudget scales the wall-clock budget with job count, capped by the
// configured run limit.
func SolveBudget(jobs int, cfg config.ImprovementConfig) time.Duration {
	secs := 5 + jobs/2
	if secs > cfg.RunTimeLimitSeconds {
		secs = cfg.RunTimeLimitSeconds
	}
	return time.Duration(secs) * time.Second
}
