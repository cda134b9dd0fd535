package clustering

import "math"

// Coefficient drives the adaptive search for the largest feasible
// time-equivalence coefficient. After a feasible solve the candidate moves
// up (doubling, or bisecting toward the next larger value already tried);
// after an infeasible solve it bisects toward the next smaller tried value.
// The search stops when a candidate repeats, consecutive candidates land
// within the tolerance, or the attempt budget runs out.
type Coefficient struct {
	tolerance   float64
	maxAttempts int

	current  float64
	tried    []float64
	attempts int

	best    float64
	hasBest bool
	done    bool
}

// NewCoefficient starts the search at start, or 1.0 when start is nil.
func NewCoefficient(start *float64, tolerance float64, maxAttempts int) *Coefficient {
	c := &Coefficient{tolerance: tolerance, maxAttempts: maxAttempts, current: 1.0}
	if start != nil {
		c.current = *start
	}
	return c
}

// Current returns the candidate to solve with next.
func (c *Coefficient) Current() float64 { return c.current }

// Done reports whether the search has terminated.
func (c *Coefficient) Done() bool { return c.done }

// Best returns the largest coefficient that ever solved feasibly.
func (c *Coefficient) Best() (float64, bool) { return c.best, c.hasBest }

// Feed records the solve outcome for the current candidate and advances.
// It returns false once the search is over.
func (c *Coefficient) Feed(feasible bool) bool {
	if c.done {
		return false
	}
	c.tried = append(c.tried, c.current)
	c.attempts++
	if feasible && (!c.hasBest || c.current > c.best) {
		c.best = c.current
		c.hasBest = true
	}
	if c.attempts >= c.maxAttempts {
		c.done = true
		return false
	}

	var next float64
	if feasible {
		if above, ok := c.nearestTried(true); ok {
			next = (c.current + above) / 2
		} else {
			next = c.current * 2
		}
	} else {
		if below, ok := c.nearestTried(false); ok {
			next = (c.current + below) / 2
		} else {
			next = c.current / 2
		}
	}

	if math.Abs(next-c.current) < c.tolerance || c.wasTried(next) {
		c.done = true
		return false
	}
	c.current = next
	return true
}

// nearestTried finds the tried value closest to the current candidate from
// above (or below).
func (c *Coefficient) nearestTried(above bool) (float64, bool) {
	found := false
	var best float64
	for _, v := range c.tried {
		if above && v > c.current && (!found || v < best) {
			best = v
			found = true
		}
		if !above && v < c.current && (!found || v > best) {
			best = v
			found = true
		}
	}
	return best, found
}

func (c *Coefficient) wasTried(v float64) bool {
	for _, t := range c.tried {
		if math.Abs(t-v) < 1e-9 {
			return true
		}
	}
	return false
}
