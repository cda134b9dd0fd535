package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ExceptionInfo carries failure metadata for a bad assignment.
type ExceptionInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// AssignmentResult is the immutable output of one optimisation: a tour per
// driver plus the jobs and drivers that could not be placed.
type AssignmentResult struct {
	Good            bool                  `json:"good"`
	DriverTours     map[int64]*DriverTour `json:"drivers_tours"`
	SkippedOrders   []int64               `json:"skipped_orders"`
	SkippedDrivers  []int64               `json:"skipped_drivers"`
	DrivingTime     int                   `json:"driving_time"`     // seconds, all tours
	DrivingDistance int                   `json:"driving_distance"` // meters, all tours
	Exception       *ExceptionInfo        `json:"exception_dict,omitempty"`
}

// NewAssignmentResult aggregates tours into a result and computes the
// per-tour balance ratios.
func NewAssignmentResult(tours map[int64]*DriverTour, skippedOrders []int64, skippedDrivers []int64) *AssignmentResult {
	r := &AssignmentResult{
		Good:           true,
		DriverTours:    tours,
		SkippedOrders:  normalizeIDs(skippedOrders),
		SkippedDrivers: normalizeIDs(skippedDrivers),
	}
	minTime := 0
	total := 0
	for _, t := range tours {
		r.DrivingTime += t.DrivingTime
		r.DrivingDistance += t.DrivingDistance
		total += t.FullTime
		if minTime == 0 || (t.FullTime > 0 && t.FullTime < minTime) {
			minTime = t.FullTime
		}
	}
	if len(tours) > 0 {
		avg := float64(total) / float64(len(tours))
		for _, t := range tours {
			if minTime > 0 {
				t.RatioToMin = float64(t.FullTime) / float64(minTime)
			}
			if avg > 0 {
				t.RatioToAvg = float64(t.FullTime) / avg
			}
		}
	}
	return r
}

// FailedAssignmentResult builds the result for an optimisation that found
// no feasible assignment at all.
func FailedAssignmentResult(kind string, err error) *AssignmentResult {
	return &AssignmentResult{
		Good:           false,
		DriverTours:    map[int64]*DriverTour{},
		SkippedOrders:  []int64{},
		SkippedDrivers: []int64{},
		Exception:      &ExceptionInfo{Kind: kind, Message: err.Error()},
	}
}

func (r *AssignmentResult) ToJSON() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("assignment result: marshal: %w", err)
	}
	return b, nil
}

func FromAssignmentResultJSON(data []byte) (*AssignmentResult, error) {
	var r AssignmentResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("assignment result: unmarshal: %w", err)
	}
	for _, t := range r.DriverTours {
		for _, p := range t.Points {
			if _, err := ParsePointKind(string(p.Kind)); err != nil {
				return nil, fmt.Errorf("assignment result: %w", err)
			}
			if _, err := ParseModelClass(string(p.ModelClass)); err != nil {
				return nil, fmt.Errorf("assignment result: %w", err)
			}
		}
	}
	return &r, nil
}

func normalizeIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
