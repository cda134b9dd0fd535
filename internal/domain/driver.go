package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// UnlimitedCapacity is the sentinel vehicle capacity for drivers without a
// configured limit.
const UnlimitedCapacity = 1 << 30

// DriverBreak is a manual break window with an allowed placement slack.
type DriverBreak struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	SlackMinutes int       `json:"slack_minutes"`
}

func (b DriverBreak) Duration() time.Duration { return b.End.Sub(b.Start) }

// SequencePoint identifies one entry of a required start sequence.
type SequencePoint struct {
	PointID   int64     `json:"point_id"`
	PointKind PointKind `json:"point_kind"`
}

// StartSequence pins the first stops of one driver's route.
type StartSequence struct {
	DriverMemberID int64           `json:"driver_member_id"`
	Sequence       []SequencePoint `json:"sequence"`
}

// Driver is an agent with a shift, skills, capacity, breaks and start/end
// anchors. Exactly one of StartHub/StartLocation may be set (same for end);
// all four may be nil for free-floating drivers.
type Driver struct {
	ID              int64          `json:"id"`
	MemberID        int64          `json:"member_id"`
	ShiftStart      time.Time      `json:"shift_start"`
	ShiftEnd        time.Time      `json:"shift_end"`
	StartHub        *Hub           `json:"start_hub,omitempty"`
	EndHub          *Hub           `json:"end_hub,omitempty"`
	StartLocation   *Location      `json:"start_location,omitempty"`
	EndLocation     *Location      `json:"end_location,omitempty"`
	Skills          []int64        `json:"skills,omitempty"`
	VehicleCapacity int            `json:"vehicle_capacity"`
	Breaks          []*DriverBreak `json:"breaks,omitempty"`
}

// StartPoint returns the route start anchor, if any.
func (d *Driver) StartPoint() (LatLng, bool) {
	if d.StartHub != nil {
		return d.StartHub.Location, true
	}
	if d.StartLocation != nil {
		return d.StartLocation.Location, true
	}
	return LatLng{}, false
}

// EndPoint returns the route end anchor, if any.
func (d *Driver) EndPoint() (LatLng, bool) {
	if d.EndHub != nil {
		return d.EndHub.Location, true
	}
	if d.EndLocation != nil {
		return d.EndLocation.Location, true
	}
	return LatLng{}, false
}

// AnchorPoint returns the best-known driver position for clustering: start
// anchor, then end anchor.
func (d *Driver) AnchorPoint() (LatLng, bool) {
	if p, ok := d.StartPoint(); ok {
		return p, true
	}
	return d.EndPoint()
}

// ShiftDuration is the driver's total available time.
func (d *Driver) ShiftDuration() time.Duration { return d.ShiftEnd.Sub(d.ShiftStart) }

// ShiftWindow is the shift expressed as a time window.
func (d *Driver) ShiftWindow() TimeWindow {
	start := d.ShiftStart
	return TimeWindow{After: &start, Before: d.ShiftEnd}
}

// CanServe reports whether the driver's skills cover the job's requirements.
func (d *Driver) CanServe(job *Job) bool {
	if len(job.Skills) == 0 {
		return true
	}
	have := make(map[int64]struct{}, len(d.Skills))
	for _, s := range d.Skills {
		have[s] = struct{}{}
	}
	for _, s := range job.Skills {
		if _, ok := have[s]; !ok {
			return false
		}
	}
	return true
}

// SkillsSignature mirrors Job.SkillsSignature for drivers.
func (d *Driver) SkillsSignature() string {
	if len(d.Skills) == 0 {
		return ""
	}
	ids := append([]int64(nil), d.Skills...)
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

func (d *Driver) Validate() error {
	var errs []error
	if d.ID == 0 {
		errs = append(errs, errors.New("driver: id is required"))
	}
	if !d.ShiftEnd.After(d.ShiftStart) {
		errs = append(errs, fmt.Errorf("driver %d: shift end must be after shift start", d.ID))
	}
	if d.StartHub != nil && d.StartLocation != nil {
		errs = append(errs, fmt.Errorf("driver %d: both start hub and start location set", d.ID))
	}
	if d.EndHub != nil && d.EndLocation != nil {
		errs = append(errs, fmt.Errorf("driver %d: both end hub and end location set", d.ID))
	}
	if d.VehicleCapacity < 0 {
		errs = append(errs, fmt.Errorf("driver %d: vehicle capacity must be non-negative", d.ID))
	}
	for i, b := range d.Breaks {
		if !b.End.After(b.Start) {
			errs = append(errs, fmt.Errorf("driver %d: break %d is empty", d.ID, i))
		}
	}
	return errors.Join(errs...)
}

// Hub is a merchant facility used as a route anchor.
type Hub struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Location LatLng `json:"location"`
}

// Location is an ad-hoc named point used as a route anchor. Structurally
// identical to Hub, distinguished by origin.
type Location struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Location LatLng `json:"location"`
}
