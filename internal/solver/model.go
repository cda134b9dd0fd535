// Package solver turns one EngineParameters sub-problem into per-driver
// stop sequences: a routing model over a driving-time matrix, solved with
// construction and local-search heuristics.
package solver

import (
	"context"
	"fmt"

	"fleet-route-service/internal/dima"
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/ports"
	"fleet-route-service/internal/roerr"
	"fleet-route-service/internal/runctx"
)

// Node is one visitable point of the routing model.
type Node struct {
	Index          int
	Kind           domain.PointKind
	Model          domain.ModelClass
	SourceID       int64
	Loc            domain.LatLng
	ServiceSeconds int
	Window         domain.TimeWindow
	Demand         int // load delta when visited
	JobIndex       int
	AllowSkip      bool
}

// Vehicle is one driver's routing view.
type Vehicle struct {
	Index    int
	Driver   *domain.Driver
	Capacity int

	// Breaks are the driver's declared windows with overlaps merged away.
	Breaks []*domain.DriverBreak

	HasStart  bool
	StartLoc  domain.LatLng
	StartKind domain.PointKind
	StartID   int64
	HasEnd    bool
	EndLoc    domain.LatLng
	EndKind   domain.PointKind
	EndID     int64

	// StartSeq pins node indexes to the head of this vehicle's route.
	StartSeq []int
}

// Problem is a built routing model: nodes, vehicles and the travel matrix.
type Problem struct {
	Params   *domain.EngineParameters
	Nodes    []*Node
	Vehicles []*Vehicle

	sctx     *runctx.SolveContext
	matrix   *dima.Matrix
	jobNodes [][]int // per job: pickup nodes in order, delivery last
	fixedVeh []int   // per job: required vehicle index or -1

	// preSkipped jobs are unreachable from every vehicle anchor.
	preSkipped []int
}

// BuildProblem assembles the model and its distance matrix. Jobs stranded
// in a road component no vehicle can reach are skipped up front when
// allowed; a mandatory stranded job fails the whole build.
func BuildProblem(ctx context.Context, provider ports.DistanceProvider, sctx *runctx.SolveContext, params *domain.EngineParameters) (*Problem, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("solver: %w", err)
	}

	p := &Problem{
		Params:   params,
		sctx:     sctx,
		jobNodes: make([][]int, len(params.Jobs)),
		fixedVeh: make([]int, len(params.Jobs)),
	}

	vehicleByDriver := make(map[int64]int, len(params.Drivers))
	vehicleByMember := make(map[int64]int, len(params.Drivers))
	for i, d := range params.Drivers {
		v := &Vehicle{Index: i, Driver: d, Capacity: domain.UnlimitedCapacity, Breaks: normalizeBreaks(d)}
		if params.UseVehicleCapacity && d.VehicleCapacity > 0 {
			v.Capacity = d.VehicleCapacity
		}
		if d.StartHub != nil {
			v.HasStart, v.StartLoc, v.StartKind, v.StartID = true, d.StartHub.Location, domain.PointHub, d.StartHub.ID
		} else if d.StartLocation != nil {
			v.HasStart, v.StartLoc, v.StartKind, v.StartID = true, d.StartLocation.Location, domain.PointLocation, d.StartLocation.ID
		}
		if d.EndHub != nil {
			v.HasEnd, v.EndLoc, v.EndKind, v.EndID = true, d.EndHub.Location, domain.PointHub, d.EndHub.ID
		} else if d.EndLocation != nil {
			v.HasEnd, v.EndLoc, v.EndKind, v.EndID = true, d.EndLocation.Location, domain.PointLocation, d.EndLocation.ID
		}
		p.Vehicles = append(p.Vehicles, v)
		vehicleByDriver[d.ID] = i
		vehicleByMember[d.MemberID] = i
	}

	for ji, job := range params.Jobs {
		p.fixedVeh[ji] = -1
		if job.AssignedDriver != 0 {
			vi, ok := vehicleByDriver[job.AssignedDriver]
			if !ok {
				return nil, fmt.Errorf("solver: job %d assigned to unknown driver %d", job.ID, job.AssignedDriver)
			}
			p.fixedVeh[ji] = vi
		}
		pickupTotal := 0
		for _, pk := range job.Pickups {
			node := &Node{
				Index:          len(p.Nodes),
				Kind:           domain.PointPickup,
				Model:          domain.ModelOrder,
				SourceID:       pk.ID,
				Loc:            pk.Location,
				ServiceSeconds: params.PickupServiceTimeFor(pk),
				Window:         pk.Window,
				Demand:         pk.Capacity,
				JobIndex:       ji,
				AllowSkip:      job.AllowSkip,
			}
			p.Nodes = append(p.Nodes, node)
			p.jobNodes[ji] = append(p.jobNodes[ji], node.Index)
			pickupTotal += pk.Capacity
		}
		demand := -job.Capacity
		if len(job.Pickups) > 0 {
			demand = -pickupTotal
		}
		node := &Node{
			Index:          len(p.Nodes),
			Kind:           domain.PointDelivery,
			Model:          domain.ModelOrder,
			SourceID:       job.OrderID,
			Loc:            job.Location,
			ServiceSeconds: params.ServiceTimeFor(job),
			Window:         job.Window,
			Demand:         demand,
			JobIndex:       ji,
			AllowSkip:      job.AllowSkip,
		}
		p.Nodes = append(p.Nodes, node)
		p.jobNodes[ji] = append(p.jobNodes[ji], node.Index)
	}

	for _, seq := range params.RequiredStartSequence {
		vi, ok := vehicleByMember[seq.DriverMemberID]
		if !ok {
			continue
		}
		for _, sp := range seq.Sequence {
			if ni, ok := p.findNode(sp.PointKind, sp.PointID); ok {
				p.Vehicles[vi].StartSeq = append(p.Vehicles[vi].StartSeq, ni)
			}
		}
	}

	if err := p.buildMatrix(ctx, provider); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Problem) findNode(kind domain.PointKind, id int64) (int, bool) {
	for _, n := range p.Nodes {
		if n.Kind == kind && n.SourceID == id {
			return n.Index, true
		}
	}
	return 0, false
}

func (p *Problem) buildMatrix(ctx context.Context, provider ports.DistanceProvider) error {
	seen := make(map[domain.LatLng]struct{})
	var points []domain.LatLng
	add := func(loc domain.LatLng) {
		if _, ok := seen[loc]; ok {
			return
		}
		seen[loc] = struct{}{}
		points = append(points, loc)
	}
	for _, v := range p.Vehicles {
		if v.HasStart {
			add(v.StartLoc)
		}
		if v.HasEnd {
			add(v.EndLoc)
		}
	}
	for _, n := range p.Nodes {
		add(n.Loc)
	}

	m, err := dima.NewBuilder(provider, p.sctx).Build(ctx, points)
	if err != nil {
		return fmt.Errorf("solver: travel matrix: %w", err)
	}
	p.matrix = m

	if len(m.Components()) > 1 {
		if err := p.skipUnreachable(); err != nil {
			return err
		}
	}
	return nil
}

// skipUnreachable drops jobs outside the component holding the vehicle
// anchors. Anchors in different components are a hard geography error.
func (p *Problem) skipUnreachable() error {
	compOf := make(map[int]int)
	for ci, comp := range p.matrix.Components() {
		for _, idx := range comp {
			compOf[idx] = ci
		}
	}
	anchorComp := -1
	for _, v := range p.Vehicles {
		if !v.HasStart {
			continue
		}
		idx, ok := p.matrix.IndexOf(v.StartLoc)
		if !ok {
			continue
		}
		if anchorComp == -1 {
			anchorComp = compOf[idx]
		} else if compOf[idx] != anchorComp {
			return roerr.NewUserError("drivers start in mutually unreachable regions", roerr.ErrDisconnectedGeography)
		}
	}
	if anchorComp == -1 {
		return nil
	}

	for ji, job := range p.Params.Jobs {
		reachable := true
		for _, ni := range p.jobNodes[ji] {
			idx, ok := p.matrix.IndexOf(p.Nodes[ni].Loc)
			if !ok || compOf[idx] != anchorComp {
				reachable = false
				break
			}
		}
		if reachable {
			continue
		}
		if !job.AllowSkip {
			return roerr.NewUserError("orders are not reachable from driver hubs",
				roerr.ErrDisconnectedGeography)
		}
		p.preSkipped = append(p.preSkipped, ji)
	}
	return nil
}

// Travel looks up one directed leg.
func (p *Problem) Travel(a, b domain.LatLng) (ports.DistanceResult, bool) {
	if a == b {
		return ports.DistanceResult{Status: ports.StatusOK}, true
	}
	r, ok := p.matrix.Between(a, b)
	if !ok || r.Status != ports.StatusOK {
		return ports.DistanceResult{}, false
	}
	return r, true
}

// JobNodes returns a job's node indexes, pickups first.
func (p *Problem) JobNodes(job int) []int { return p.jobNodes[job] }

func (p *Problem) isPreSkipped(job int) bool {
	for _, ji := range p.preSkipped {
		if ji == job {
			return true
		}
	}
	return false
}
