// Package roerr defines the route-optimisation error taxonomy shared
// across the pipeline.
package roerr

import (
	"errors"
	"fmt"
)

// ErrNoSolution: the solver found no feasible assignment for a sub-problem.
// Never retried automatically; surfaced as a failed AssignmentResult.
var ErrNoSolution = errors.New("no solution found")

// ErrDisconnectedGeography: hubs/depot and orders fall into mutually
// unreachable road-network components. Fatal for the attempt.
var ErrDisconnectedGeography = errors.New("orders are in disconnected regions")

// ErrTooManyProviderRequests: the per-run ceiling on distance-provider
// calls was exceeded.
var ErrTooManyProviderRequests = errors.New("distance provider request limit exceeded")

// ErrCannotInsertBreak: a manual break fits nowhere in the route. A domain
// result for the caller, not a programming error.
var ErrCannotInsertBreak = errors.New("cannot insert break into route")

// UserError wraps an error with a message safe to surface to end users.
type UserError struct {
	UserMessage string
	Err         error
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.UserMessage
	}
	return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
}

func (e *UserError) Unwrap() error { return e.Err }

// NewUserError attaches a user-facing message to an underlying error.
func NewUserError(message string, err error) *UserError {
	return &UserError{UserMessage: message, Err: err}
}
