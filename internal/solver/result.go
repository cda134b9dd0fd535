package solver

import (
	"sort"

	"fleet-route-service/internal/domain"
)

// BuildResult parses a plan into the serializable assignment: one tour of
// timed points per driver, skipped-order and skipped-driver lists, and
// aggregate driving totals.
func (p *Problem) BuildResult(plan *Plan) *domain.AssignmentResult {
	tours := make(map[int64]*domain.DriverTour)
	var skippedOrders, skippedDrivers []int64

	for _, ji := range plan.SkippedJobs {
		skippedOrders = append(skippedOrders, p.Params.Jobs[ji].OrderID)
	}

	for vi, route := range plan.Routes {
		v := p.Vehicles[vi]
		if len(route) == 0 {
			skippedDrivers = append(skippedDrivers, v.Driver.ID)
			continue
		}
		timing, ok := p.Schedule(vi, route)
		if !ok {
			// A plan handed to result parsing is feasible by construction;
			// a failure here means the route was mutated behind our back.
			skippedDrivers = append(skippedDrivers, v.Driver.ID)
			for _, ni := range route {
				n := p.Nodes[ni]
				if n.Kind == domain.PointDelivery {
					skippedOrders = append(skippedOrders, p.Params.Jobs[n.JobIndex].OrderID)
				}
			}
			continue
		}
		tours[v.Driver.ID] = p.buildTour(v, timing)
	}

	return domain.NewAssignmentResult(tours, skippedOrders, skippedDrivers)
}

func (p *Problem) buildTour(v *Vehicle, timing *RouteTiming) *domain.DriverTour {
	var points []*domain.Point

	if v.HasStart {
		points = append(points, &domain.Point{
			Kind:       v.StartKind,
			ModelClass: anchorModel(v.StartKind),
			SourceID:   v.StartID,
			Location:   v.StartLoc,
			StartTime:  timing.Begin,
			EndTime:    timing.Begin,
		})
	}
	for _, s := range timing.Stops {
		n := p.Nodes[s.Node]
		points = append(points, &domain.Point{
			Kind:             n.Kind,
			ModelClass:       n.Model,
			SourceID:         n.SourceID,
			Location:         n.Loc,
			ServiceTime:      n.ServiceSeconds,
			DrivingTime:      s.LegSeconds,
			Distance:         s.LegMeters,
			StartTime:        s.Start,
			EndTime:          s.End,
			UtilizedCapacity: s.Load,
			Polyline:         s.Polyline,
		})
	}
	if v.HasEnd {
		points = append(points, &domain.Point{
			Kind:        v.EndKind,
			ModelClass:  anchorModel(v.EndKind),
			SourceID:    v.EndID,
			Location:    v.EndLoc,
			DrivingTime: timing.ReturnSeconds,
			Distance:    timing.ReturnMeters,
			StartTime:   timing.End,
			EndTime:     timing.End,
			Polyline:    timing.ReturnPoly,
		})
	}

	points = weaveBreaks(points, timing.Breaks)
	for i := 1; i < len(points); i++ {
		points[i].Prev = points[i-1]
	}

	return &domain.DriverTour{
		Points:          points,
		DrivingTime:     timing.DrivingSeconds,
		FullTime:        timing.FullSeconds(),
		DrivingDistance: timing.DrivingMeters,
	}
}

func anchorModel(kind domain.PointKind) domain.ModelClass {
	if kind == domain.PointHub {
		return domain.ModelHub
	}
	return domain.ModelDriverRouteLocation
}

// weaveBreaks inserts break points into the tour at their scheduled
// times, anchored to the location the driver rests at.
func weaveBreaks(points []*domain.Point, breaks []TakenBreak) []*domain.Point {
	if len(breaks) == 0 {
		return points
	}
	ordered := append([]TakenBreak(nil), breaks...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start.Before(ordered[j].Start) })

	out := make([]*domain.Point, 0, len(points)+len(ordered))
	bi := 0
	for _, pt := range points {
		for bi < len(ordered) && !ordered[bi].Start.After(pt.StartTime) {
			loc := pt.Location
			if n := len(out); n > 0 {
				loc = out[n-1].Location
			}
			out = append(out, breakPoint(ordered[bi], loc))
			bi++
		}
		out = append(out, pt)
	}
	for ; bi < len(ordered); bi++ {
		loc := domain.LatLng{}
		if n := len(out); n > 0 {
			loc = out[n-1].Location
		}
		out = append(out, breakPoint(ordered[bi], loc))
	}
	return out
}

func breakPoint(b TakenBreak, loc domain.LatLng) *domain.Point {
	return &domain.Point{
		Kind:        domain.PointBreak,
		ModelClass:  domain.ModelDriverRouteLocation,
		Location:    loc,
		ServiceTime: int(b.End.Sub(b.Start).Seconds()),
		StartTime:   b.Start,
		EndTime:     b.End,
	}
}
