// Package breaks implements driver-break interval arithmetic: merging and
// trimming detected break windows, and inserting manual breaks into a
// finished route's part sequence. All times are integer seconds from
// midnight of the route's day.
package breaks

import "sort"

// Interval is one break window in seconds from midnight.
type Interval struct {
	Start int
	End   int
}

func (i Interval) Duration() int { return i.End - i.Start }

const (
	mergePasses  = 10
	extendPasses = 5
)

// MergeIntersected collapses overlapping or touching intervals. Iterated
// to a fixed pass cap so pathological inputs still terminate.
func MergeIntersected(breaks []Interval) []Interval {
	out := append([]Interval(nil), breaks...)
	for pass := 0; pass < mergePasses; pass++ {
		sort.Slice(out, func(i, j int) bool {
			if out[i].Start != out[j].Start {
				return out[i].Start < out[j].Start
			}
			return out[i].End < out[j].End
		})
		merged := out[:0:0]
		changed := false
		for _, b := range out {
			if n := len(merged); n > 0 && b.Start <= merged[n-1].End {
				if b.End > merged[n-1].End {
					merged[n-1].End = b.End
				}
				changed = true
				continue
			}
			merged = append(merged, b)
		}
		out = merged
		if !changed {
			break
		}
	}
	return out
}

// AdditionalBreakTime grows intervals toward the transit bounds to make up
// a duration shortfall, re-merging after every pass since growth can make
// neighbours touch.
func AdditionalBreakTime(breaks []Interval, shortfall, startTransit, endTransit int) []Interval {
	out := append([]Interval(nil), breaks...)
	for pass := 0; pass < extendPasses && shortfall > 0 && len(out) > 0; pass++ {
		for i := range out {
			if shortfall <= 0 {
				break
			}
			grow := shortfall
			if out[i].End+grow > endTransit {
				grow = endTransit - out[i].End
			}
			if grow > 0 {
				out[i].End += grow
				shortfall -= grow
			}
		}
		// Grow backwards when the forward direction is exhausted.
		for i := range out {
			if shortfall <= 0 {
				break
			}
			grow := shortfall
			if out[i].Start-grow < startTransit {
				grow = out[i].Start - startTransit
			}
			if grow > 0 {
				out[i].Start -= grow
				shortfall -= grow
			}
		}
		merged := MergeIntersected(out)
		// Merging can swallow time the loop above already counted; re-check
		// against the real total next pass.
		out = merged
	}
	return out
}

func totalDuration(breaks []Interval) int {
	t := 0
	for _, b := range breaks {
		t += b.Duration()
	}
	return t
}

// CleanBreaks normalizes detected break windows to an exact total
// duration within [startTransit, endTransit]: merge overlaps, drop the
// smallest windows while the total runs over, extend while it runs short,
// and finally clip the tail to land exactly on the target.
func CleanBreaks(breaks []Interval, breakDuration, startTransit, endTransit int) []Interval {
	out := MergeIntersected(breaks)

	for totalDuration(out) > breakDuration && len(out) > 1 {
		smallest := len(out) - 1
		for i := range out {
			if out[i].Duration() < out[smallest].Duration() {
				smallest = i
			}
		}
		out = append(out[:smallest], out[smallest+1:]...)
	}

	for pass := 0; pass < extendPasses; pass++ {
		shortfall := breakDuration - totalDuration(out)
		if shortfall <= 0 {
			break
		}
		grown := AdditionalBreakTime(out, shortfall, startTransit, endTransit)
		if totalDuration(grown) == totalDuration(out) {
			break
		}
		out = grown
	}

	if excess := totalDuration(out) - breakDuration; excess > 0 && len(out) > 0 {
		last := len(out) - 1
		if out[last].Duration() > excess {
			out[last].End -= excess
		} else {
			out = out[:last]
		}
	}
	return out
}
