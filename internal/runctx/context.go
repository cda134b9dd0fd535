// Package runctx carries the per-run ambient state of one optimisation:
// the active distance cache, the event handler, the provider request
// tracker and the tuning configuration. It is passed explicitly through
// the pipeline; every concurrent optimisation builds its own.
package runctx

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleet-route-service/internal/config"
	"fleet-route-service/internal/ports"
	"fleet-route-service/internal/roerr"
)

// SolveContext is the explicit ambient state of one optimisation run.
type SolveContext struct {
	RunID    string
	Config   config.OptimizerConfig
	Logger   *zap.Logger
	Cache    ports.DistanceCache
	Events   ports.EventHandler
	Requests *RequestTracker
}

// New validates and assembles a solve context. A missing cache or event
// handler is a construction error, never a mid-run assertion.
func New(cfg config.OptimizerConfig, logger *zap.Logger, cache ports.DistanceCache, events ports.EventHandler) (*SolveContext, error) {
	if cache == nil {
		return nil, errors.New("solve context: no distance cache set")
	}
	if events == nil {
		return nil, errors.New("solve context: no event handler set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	return &SolveContext{
		RunID:    runID,
		Config:   cfg,
		Logger:   logger.With(zap.String("run_id", runID)),
		Cache:    cache,
		Events:   events,
		Requests: NewRequestTracker(cfg.Matrix.MaxProviderCalls),
	}, nil
}

// Emit sends one structured event to the installed handler.
func (s *SolveContext) Emit(ctx context.Context, level ports.EventLevel, name, message string, fields map[string]any) {
	s.Events.Handle(ctx, ports.Event{
		RunID:   s.RunID,
		Level:   level,
		Name:    name,
		Message: message,
		Fields:  fields,
	})
}

// RequestTracker enforces the hard per-run ceiling on distance-provider
// calls, protecting against runaway cost in iterative matrix building.
type RequestTracker struct {
	limit int64
	count atomic.Int64
}

func NewRequestTracker(limit int) *RequestTracker {
	return &RequestTracker{limit: int64(limit)}
}

// Track records n provider calls and fails once the ceiling is passed.
func (t *RequestTracker) Track(n int) error {
	if t.count.Add(int64(n)) > t.limit {
		return roerr.ErrTooManyProviderRequests
	}
	return nil
}

// Count returns the number of calls recorded so far.
func (t *RequestTracker) Count() int { return int(t.count.Load()) }
