package ports

import (
	"context"

	"fleet-route-service/internal/domain"
)

// Port: the vehicle-routing solver consumed as a black box. Given one
// sub-problem it returns an assignment, or an error wrapping
// roerr.ErrNoSolution when no feasible assignment exists.
type RoutingSolver interface {
	Solve(ctx context.Context, params *domain.EngineParameters) (*domain.AssignmentResult, error)
}
