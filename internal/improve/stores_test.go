package improve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleet-route-service/internal/solver"
)

func TestPreviousRunStoreDetectsStuckMetric(t *testing.T) {
	s := NewPreviousRunStore(3)
	require.False(t, s.NotChanging(100))
	s.Push(100)
	s.Push(100)
	require.False(t, s.NotChanging(100), "window not yet full")
	s.Push(100)
	require.True(t, s.NotChanging(100))
	require.False(t, s.NotChanging(99))

	s.Push(99)
	require.False(t, s.NotChanging(99), "one fresh value breaks the streak")
}

func TestMinSkippedStorePrefersFewerSkippedThenCheaper(t *testing.T) {
	s := NewMinSkippedAssignmentStore()

	s.Offer(&solver.Plan{SkippedJobs: []int{1, 2}}, 500)
	s.Offer(&solver.Plan{SkippedJobs: []int{1}}, 900)
	require.Len(t, s.Best().SkippedJobs, 1, "fewer skipped wins over cheaper")

	s.Offer(&solver.Plan{SkippedJobs: []int{3}}, 400)
	require.Equal(t, []int{3}, s.Best().SkippedJobs, "equal skipped: cheaper wins")

	s.Offer(&solver.Plan{SkippedJobs: []int{4}}, 450)
	require.Equal(t, []int{3}, s.Best().SkippedJobs, "worse offer ignored")
}

func TestMinSkippedStoreClonesOffered(t *testing.T) {
	s := NewMinSkippedAssignmentStore()
	plan := &solver.Plan{Routes: [][]int{{1, 2}}}
	s.Offer(plan, 100)
	plan.Routes[0][0] = 99
	require.Equal(t, 1, s.Best().Routes[0][0])
}

func TestAssignmentRunTimer(t *testing.T) {
	unlimited := NewAssignmentRunTimer(0)
	require.False(t, unlimited.Exceeded())
	require.True(t, unlimited.Deadline().IsZero())

	expired := NewAssignmentRunTimer(time.Nanosecond)
	time.Sleep(time.Millisecond)
	require.True(t, expired.Exceeded())
	require.False(t, expired.Deadline().IsZero())
}
