package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeWindow bounds when a stop may be serviced. After is optional: a nil
// After means "any time up to Before".
type TimeWindow struct {
	After  *time.Time `json:"after,omitempty"`
	Before time.Time  `json:"before"`
}

// Overlaps reports whether two windows share at least slack of usable time.
func (w TimeWindow) Overlaps(other TimeWindow, slack time.Duration) bool {
	start := time.Time{}
	if w.After != nil {
		start = *w.After
	}
	if other.After != nil && other.After.After(start) {
		start = *other.After
	}
	end := w.Before
	if other.Before.Before(end) {
		end = other.Before
	}
	return end.Sub(start) >= slack
}

// Pickup is a collection leg that must happen before its job's delivery.
type Pickup struct {
	ID          int64      `json:"id"`
	Address     string     `json:"address"`
	Location    LatLng     `json:"location"`
	Window      TimeWindow `json:"window"`
	Capacity    int        `json:"capacity"`
	ServiceTime int        `json:"service_time"` // minutes
}

// Job is one delivery (optionally fed by pickups) to be placed on a route.
type Job struct {
	ID             int64      `json:"id"`
	OrderID        int64      `json:"order_id"`
	Address        string     `json:"address"`
	Location       LatLng     `json:"location"`
	Window         TimeWindow `json:"window"`
	Pickups        []*Pickup  `json:"pickups,omitempty"`
	Skills         []int64    `json:"skills,omitempty"`
	Capacity       int        `json:"capacity"`
	ServiceTime    int        `json:"service_time"` // minutes, 0 means default
	AllowSkip      bool       `json:"allow_skip"`
	AssignedDriver int64      `json:"assigned_driver,omitempty"` // 0 means none
}

// PointsCount counts the job as one routing point per leg: the delivery
// plus every pickup.
func (j *Job) PointsCount() int { return 1 + len(j.Pickups) }

// ClusterCapacity is the job's capacity contribution for cluster sizing.
// A job with pickups splits its capacity across pickup and delivery legs,
// rounded up.
func (j *Job) ClusterCapacity() int {
	if len(j.Pickups) == 0 {
		return j.Capacity
	}
	return (j.Capacity + 1) / 2
}

// SkillsSignature is a canonical string over the required skill ids, used
// to group jobs with identical skill requirements.
func (j *Job) SkillsSignature() string {
	if len(j.Skills) == 0 {
		return ""
	}
	ids := append([]int64(nil), j.Skills...)
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

// Validate collects all structural problems instead of failing on the first.
func (j *Job) Validate() error {
	var errs []error
	if j.ID == 0 {
		errs = append(errs, errors.New("job: id is required"))
	}
	if j.Capacity < 0 {
		errs = append(errs, fmt.Errorf("job %d: capacity must be non-negative", j.ID))
	}
	if j.Window.Before.IsZero() {
		errs = append(errs, fmt.Errorf("job %d: delivery window end is required", j.ID))
	}
	if j.Window.After != nil && !j.Window.After.Before(j.Window.Before) {
		errs = append(errs, fmt.Errorf("job %d: delivery window is empty", j.ID))
	}
	for _, p := range j.Pickups {
		if p.ID == 0 {
			errs = append(errs, fmt.Errorf("job %d: pickup id is required", j.ID))
		}
	}
	return errors.Join(errs...)
}

// JobObject wraps a job and its pickups for clustering. Pickup legs carry a
// LocationPointer so their effective position can be redirected to a cluster
// center without touching the pickup itself.
type JobObject struct {
	Job *Job

	// PickupPointers mirror Job.Pickups one to one.
	PickupPointers []*LocationPointer
}

func NewJobObject(job *Job) *JobObject {
	o := &JobObject{Job: job}
	for _, p := range job.Pickups {
		o.PickupPointers = append(o.PickupPointers, &LocationPointer{Own: p.Location})
	}
	return o
}

// LocationPointer is an indirection over a pickup's position: while its home
// cluster is being reshaped the pickup's effective location is the cluster
// center it points to, not its own coordinates.
type LocationPointer struct {
	Own      LatLng
	Redirect *LatLng
}

// Effective returns the location distance math should use.
func (l *LocationPointer) Effective() LatLng {
	if l.Redirect != nil {
		return *l.Redirect
	}
	return l.Own
}
