package solver

import (
	"sort"
	"time"

	"fleet-route-service/internal/breaks"
	"fleet-route-service/internal/domain"
)

// Stop is one scheduled visit with resolved timing and load.
type Stop struct {
	Node       int
	Arrive     time.Time
	Start      time.Time
	End        time.Time
	LegSeconds int
	LegMeters  int
	Polyline   string
	Load       int
}

// TakenBreak is a driver break placed by the schedule walk.
type TakenBreak struct {
	Start time.Time
	End   time.Time
}

// RouteTiming is the simulated execution of one route.
type RouteTiming struct {
	Stops  []Stop
	Breaks []TakenBreak

	Begin time.Time
	End   time.Time

	DrivingSeconds int
	DrivingMeters  int

	// Final leg back to the end anchor, when one exists.
	ReturnSeconds int
	ReturnMeters  int
	ReturnPoly    string
}

// FullSeconds is wall time from leaving the start anchor to finishing.
func (t *RouteTiming) FullSeconds() int { return int(t.End.Sub(t.Begin).Seconds()) }

// Schedule simulates a route for one vehicle: legs, waits, windows, load
// and driver breaks. Returns false when any constraint breaks.
func (p *Problem) Schedule(vi int, route []int) (*RouteTiming, bool) {
	v := p.Vehicles[vi]
	d := v.Driver

	// Deliveries without pickups ride along from the start.
	load := 0
	for _, ni := range route {
		n := p.Nodes[ni]
		if n.Kind == domain.PointDelivery && len(p.Params.Jobs[n.JobIndex].Pickups) == 0 {
			load += p.Params.Jobs[n.JobIndex].Capacity
		}
	}
	if load > v.Capacity {
		return nil, false
	}

	pending := append([]*domain.DriverBreak(nil), v.Breaks...)
	sort.Slice(pending, func(i, j int) bool { return pending[i].Start.Before(pending[j].Start) })

	t := d.ShiftStart
	timing := &RouteTiming{Begin: t}
	cur := v.StartLoc
	hasCur := v.HasStart

	for _, ni := range route {
		n := p.Nodes[ni]
		stop := Stop{Node: ni}
		if hasCur {
			leg, ok := p.Travel(cur, n.Loc)
			if !ok {
				return nil, false
			}
			stop.LegSeconds = leg.DurationSeconds
			stop.LegMeters = leg.DistanceMeters
			stop.Polyline = leg.Polyline
			timing.DrivingSeconds += leg.DurationSeconds
			timing.DrivingMeters += leg.DistanceMeters
		}
		arrive := t.Add(time.Duration(stop.LegSeconds) * time.Second)
		arrive, pending = p.takeBreaks(timing, pending, arrive)
		stop.Arrive = arrive

		start := arrive
		if n.Window.After != nil && n.Window.After.After(start) {
			start = *n.Window.After
		}
		if !n.Window.Before.IsZero() && start.After(n.Window.Before) {
			return nil, false
		}
		stop.Start = start
		stop.End = start.Add(time.Duration(n.ServiceSeconds) * time.Second)

		load += n.Demand
		if load > v.Capacity || load < 0 {
			return nil, false
		}
		stop.Load = load

		timing.Stops = append(timing.Stops, stop)
		t = stop.End
		cur = n.Loc
		hasCur = true
	}

	if v.HasEnd && hasCur {
		leg, ok := p.Travel(cur, v.EndLoc)
		if !ok {
			return nil, false
		}
		timing.ReturnSeconds = leg.DurationSeconds
		timing.ReturnMeters = leg.DistanceMeters
		timing.ReturnPoly = leg.Polyline
		timing.DrivingSeconds += leg.DurationSeconds
		timing.DrivingMeters += leg.DistanceMeters
		t = t.Add(time.Duration(leg.DurationSeconds) * time.Second)
	}

	// Breaks the route never reached still consume shift time.
	for _, b := range pending {
		if b.Start.Before(d.ShiftEnd) {
			timing.Breaks = append(timing.Breaks, TakenBreak{Start: t, End: t.Add(b.Duration())})
			t = t.Add(b.Duration())
		}
	}

	timing.End = t
	if t.After(d.ShiftEnd) {
		return nil, false
	}
	return timing, true
}

// takeBreaks consumes every pending break starting at or before the
// current moment, pushing the moment forward.
func (p *Problem) takeBreaks(timing *RouteTiming, pending []*domain.DriverBreak, now time.Time) (time.Time, []*domain.DriverBreak) {
	for len(pending) > 0 && !pending[0].Start.After(now) {
		b := pending[0]
		pending = pending[1:]
		timing.Breaks = append(timing.Breaks, TakenBreak{Start: now, End: now.Add(b.Duration())})
		now = now.Add(b.Duration())
	}
	return now, pending
}

// normalizeBreaks collapses a driver's overlapping declared break windows
// before the schedule walk consumes them. Interval arithmetic runs on unix
// seconds; comparisons downstream are absolute, so the zone is irrelevant.
func normalizeBreaks(d *domain.Driver) []*domain.DriverBreak {
	if len(d.Breaks) == 0 {
		return nil
	}
	iv := make([]breaks.Interval, len(d.Breaks))
	for i, b := range d.Breaks {
		iv[i] = breaks.Interval{Start: int(b.Start.Unix()), End: int(b.End.Unix())}
	}
	merged := breaks.MergeIntersected(iv)
	out := make([]*domain.DriverBreak, len(merged))
	for i, m := range merged {
		out[i] = &domain.DriverBreak{
			Start: time.Unix(int64(m.Start), 0).In(d.ShiftStart.Location()),
			End:   time.Unix(int64(m.End), 0).In(d.ShiftStart.Location()),
		}
	}
	return out
}

// RouteCost is the driving-seconds objective of one route; infeasible
// routes cost infinity.
func (p *Problem) RouteCost(vi int, route []int) (int, bool) {
	timing, ok := p.Schedule(vi, route)
	if !ok {
		return 0, false
	}
	return timing.DrivingSeconds, true
}
