package improve

import (
	"time"

	"fleet-route-service/internal/solver"
)

// PreviousRunStore watches the assignment metric across recent iterations
// and detects convergence: a full window of identical values means further
// iterations are not changing anything.
type PreviousRunStore struct {
	window  int
	history []int
}

func NewPreviousRunStore(window int) *PreviousRunStore {
	if window < 1 {
		window = 1
	}
	return &PreviousRunStore{window: window}
}

func (s *PreviousRunStore) Push(metric int) {
	s.history = append(s.history, metric)
	if len(s.history) > s.window {
		s.history = s.history[len(s.history)-s.window:]
	}
}

// NotChanging reports whether the metric has been stuck at this value for
// the whole lookback window.
func (s *PreviousRunStore) NotChanging(metric int) bool {
	if len(s.history) < s.window {
		return false
	}
	for _, h := range s.history {
		if h != metric {
			return false
		}
	}
	return true
}

// MinSkippedAssignmentStore keeps the best plan seen across iterations:
// fewest skipped jobs first, cheaper driving as the tiebreak. Later
// iterations may regress; the store guarantees the engine never returns
// worse than its best moment.
type MinSkippedAssignmentStore struct {
	best    *solver.Plan
	skipped int
	metric  int
}

func NewMinSkippedAssignmentStore() *MinSkippedAssignmentStore {
	return &MinSkippedAssignmentStore{}
}

func (s *MinSkippedAssignmentStore) Offer(plan *solver.Plan, metric int) {
	skipped := len(plan.SkippedJobs)
	if s.best == nil || skipped < s.skipped || (skipped == s.skipped && metric < s.metric) {
		s.best = plan.Clone()
		s.skipped = skipped
		s.metric = metric
	}
}

func (s *MinSkippedAssignmentStore) Best() *solver.Plan { return s.best }

// AssignmentRunTimer is the engine's only cancellation mechanism: checked
// at iteration boundaries, never mid-solve.
type AssignmentRunTimer struct {
	start time.Time
	limit time.Duration
}

func NewAssignmentRunTimer(limit time.Duration) *AssignmentRunTimer {
	return &AssignmentRunTimer{start: time.Now(), limit: limit}
}

func (t *AssignmentRunTimer) Exceeded() bool {
	return t.limit > 0 && time.Since(t.start) > t.limit
}

func (t *AssignmentRunTimer) Deadline() time.Time {
	if t.limit <= 0 {
		return time.Time{}
	}
	return t.start.Add(t.limit)
}
