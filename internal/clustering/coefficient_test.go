package clustering

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// collect drives the search with a fixed feasibility path and returns the
// candidate sequence.
func collect(start *float64, path []bool) []float64 {
	c := NewCoefficient(start, 0.019, 30)
	out := []float64{c.Current()}
	for _, feasible := range path {
		if !c.Feed(feasible) {
			break
		}
		out = append(out, c.Current())
	}
	return out
}

func TestCoefficientCandidateSequences(t *testing.T) {
	cases := []struct {
		name  string
		start *float64
		path  []bool
		want  []float64
	}{
		{
			name: "up then bisect down",
			path: []bool{true, false, false},
			want: []float64{1.0, 2.0, 1.5, 1.25},
		},
		{
			name: "straight down",
			path: []bool{false, false},
			want: []float64{1.0, 0.5, 0.25},
		},
		{
			name:  "explicit start",
			start: floatPtr(4.0),
			path:  []bool{false, true},
			want:  []float64{4.0, 2.0, 3.0},
		},
		{
			name: "feasible then infeasible narrows",
			path: []bool{true, true, false},
			want: []float64{1.0, 2.0, 4.0, 3.0},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, collect(tc.start, tc.path))
		})
	}
}

func TestCoefficientTracksBestFeasible(t *testing.T) {
	c := NewCoefficient(nil, 0.019, 30)
	c.Feed(true)  // 1.0 feasible
	c.Feed(true)  // 2.0 feasible
	c.Feed(false) // 4.0 infeasible
	best, ok := c.Best()
	require.True(t, ok)
	require.Equal(t, 2.0, best)
}

func TestCoefficientStopsOnTolerance(t *testing.T) {
	c := NewCoefficient(nil, 0.019, 30)
	steps := 0
	for c.Feed(steps%2 == 0) {
		steps++
		require.Less(t, steps, 30, "search must converge before the attempt budget")
	}
	_, ok := c.Best()
	require.True(t, ok)
}

func TestCoefficientStopsOnAttemptBudget(t *testing.T) {
	c := NewCoefficient(nil, 1e-12, 5)
	feeds := 0
	for c.Feed(true) {
		feeds++
	}
	require.Equal(t, 4, feeds, "fifth feed must report termination")
}

func floatPtr(v float64) *float64 { return &v }
