package improve

import (
	"math"
	"time"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/solver"
)

// Per-iteration services. Each one mutates the plan in place and keeps it
// schedule-feasible: every candidate mutation is accepted only after the
// affected routes re-simulate cleanly.

// unassignNonNearby removes jobs sitting further from their route's
// centroid than threshold times the route's average stop distance. The
// removed jobs are returned for reassignment.
func (e *Engine) unassignNonNearby(plan *solver.Plan, threshold float64) []int {
	var removed []int
	for vi, route := range plan.Routes {
		locked := len(e.problem.Vehicles[vi].StartSeq)
		jobs := e.routeJobs(route[locked:])
		if len(jobs) < 2 {
			continue
		}

		centroid := e.jobsCentroid(jobs)
		total := 0.0
		dist := make(map[int]float64, len(jobs))
		for _, ji := range jobs {
			d := e.problem.Params.Jobs[ji].Location.StraightLineMeters(centroid)
			dist[ji] = d
			total += d
		}
		avg := total / float64(len(jobs))
		if avg == 0 {
			continue
		}

		for _, ji := range jobs {
			if dist[ji] > threshold*avg && e.problem.Params.Jobs[ji].AssignedDriver == 0 {
				e.problem.RemoveJob(plan, ji)
				removed = append(removed, ji)
			}
		}
	}
	return removed
}

// reassignPoints gives every unassigned job its cheapest feasible slot.
// Jobs that fit nowhere stay (or become) skipped.
func (e *Engine) reassignPoints(plan *solver.Plan, jobs []int) {
	pendingSkipped := plan.SkippedJobs
	plan.SkippedJobs = nil

	for _, ji := range append(append([]int(nil), jobs...), pendingSkipped...) {
		if e.problem.VehicleOfJob(plan, ji) >= 0 {
			continue
		}
		if !e.problem.InsertJobBest(plan, ji) {
			plan.SkippedJobs = append(plan.SkippedJobs, ji)
		}
	}
}

// pickupRationalPosition re-seats each pickup at its cheapest position
// before its delivery within the same route, shaving detours the initial
// insertion ordering left behind.
func (e *Engine) pickupRationalPosition(plan *solver.Plan) {
	for ji, job := range e.problem.Params.Jobs {
		if len(job.Pickups) == 0 {
			continue
		}
		vi := e.problem.VehicleOfJob(plan, ji)
		if vi < 0 {
			continue
		}
		baseCost, ok := e.problem.RouteCost(vi, plan.Routes[vi])
		if !ok {
			continue
		}

		candidate := plan.Clone()
		e.problem.RemoveJob(candidate, ji)
		if route := e.insertIntoVehicle(candidate, ji, vi); route != nil {
			if cost, ok := e.problem.RouteCost(vi, route); ok && cost < baseCost {
				plan.Routes[vi] = route
			}
		}
	}
}

// nearbyReassign is the closeness-based secondary pass: a job whose
// nearest route centroid is not its own route gets re-seated there when
// the move lowers total cost.
func (e *Engine) nearbyReassign(plan *solver.Plan) {
	centroids := make([]domain.LatLng, len(plan.Routes))
	populated := make([]bool, len(plan.Routes))
	for vi, route := range plan.Routes {
		if jobs := e.routeJobs(route); len(jobs) > 0 {
			centroids[vi] = e.jobsCentroid(jobs)
			populated[vi] = true
		}
	}

	total, ok := e.problem.PlanCost(plan)
	if !ok {
		return
	}
	for ji, job := range e.problem.Params.Jobs {
		if job.AssignedDriver != 0 {
			continue
		}
		vi := e.problem.VehicleOfJob(plan, ji)
		if vi < 0 {
			continue
		}
		nearest, nearestDist := vi, job.Location.StraightLineMeters(centroids[vi])
		for ovi := range plan.Routes {
			if ovi == vi || !populated[ovi] {
				continue
			}
			if d := job.Location.StraightLineMeters(centroids[ovi]); d < nearestDist {
				nearest, nearestDist = ovi, d
			}
		}
		if nearest == vi {
			continue
		}

		candidate := plan.Clone()
		e.problem.RemoveJob(candidate, ji)
		route := e.insertIntoVehicle(candidate, ji, nearest)
		if route == nil {
			continue
		}
		candidate.Routes[nearest] = route
		if cost, ok := e.problem.PlanCost(candidate); ok && cost < total {
			*plan = *candidate
			total = cost
		}
	}
}

// swapFullRoutes exchanges two vehicles' entire routes when the swap is
// feasible for both and shortens total driving.
func (e *Engine) swapFullRoutes(plan *solver.Plan) {
	for a := 0; a < len(plan.Routes); a++ {
		for b := a + 1; b < len(plan.Routes); b++ {
			if len(e.problem.Vehicles[a].StartSeq) > 0 || len(e.problem.Vehicles[b].StartSeq) > 0 {
				continue
			}
			if e.routeHasPins(plan.Routes[a]) || e.routeHasPins(plan.Routes[b]) {
				continue
			}
			curA, okA := e.problem.RouteCost(a, plan.Routes[a])
			curB, okB := e.problem.RouteCost(b, plan.Routes[b])
			if !okA || !okB {
				continue
			}
			newA, okA := e.problem.RouteCost(a, plan.Routes[b])
			newB, okB := e.problem.RouteCost(b, plan.Routes[a])
			if okA && okB && newA+newB < curA+curB {
				plan.Routes[a], plan.Routes[b] = plan.Routes[b], plan.Routes[a]
			}
		}
	}
}

// routeBalancing shifts jobs from the longest routes toward shorter ones
// while the spread exceeds the allowed percentage.
func (e *Engine) routeBalancing(plan *solver.Plan, allowedPct float64) {
	for pass := 0; pass < len(plan.Routes); pass++ {
		longest, shortest := -1, -1
		var longTime, shortTime int
		for vi, route := range plan.Routes {
			if len(route) == 0 {
				continue
			}
			timing, ok := e.problem.Schedule(vi, route)
			if !ok {
				continue
			}
			ft := timing.FullSeconds()
			if longest == -1 || ft > longTime {
				longest, longTime = vi, ft
			}
			if shortest == -1 || ft < shortTime {
				shortest, shortTime = vi, ft
			}
		}
		if longest == -1 || longest == shortest || shortTime == 0 {
			return
		}
		if float64(longTime-shortTime)/float64(shortTime)*100 <= allowedPct {
			return
		}
		if !e.moveOneJob(plan, longest, shortest) {
			return
		}
	}
}

// moveOneJob relocates the cheapest movable job between two routes.
func (e *Engine) moveOneJob(plan *solver.Plan, from, to int) bool {
	locked := len(e.problem.Vehicles[from].StartSeq)
	jobs := e.routeJobs(plan.Routes[from][locked:])

	bestJob := -1
	bestCost := math.MaxInt
	var bestRoutes [2][]int
	for _, ji := range jobs {
		if e.problem.Params.Jobs[ji].AssignedDriver != 0 {
			continue
		}
		candidate := plan.Clone()
		e.problem.RemoveJob(candidate, ji)
		ins := e.insertIntoVehicle(candidate, ji, to)
		if ins == nil {
			continue
		}
		costFrom, okF := e.problem.RouteCost(from, candidate.Routes[from])
		costTo, okT := e.problem.RouteCost(to, ins)
		if !okF || !okT {
			continue
		}
		if costFrom+costTo < bestCost {
			bestCost = costFrom + costTo
			bestJob = ji
			bestRoutes = [2][]int{candidate.Routes[from], ins}
		}
	}
	if bestJob < 0 {
		return false
	}
	plan.Routes[from] = bestRoutes[0]
	plan.Routes[to] = bestRoutes[1]
	return true
}

// insertIntoVehicle returns the target route with the job inserted at its
// cheapest feasible position, or nil.
func (e *Engine) insertIntoVehicle(plan *solver.Plan, ji, vi int) []int {
	saved := make([][]int, len(plan.Routes))
	copy(saved, plan.Routes)
	// Blank every other route so the cheapest insertion can only land here.
	for other := range plan.Routes {
		if other != vi {
			plan.Routes[other] = nil
		}
	}
	ok := e.problem.InsertJobBest(plan, ji)
	route := plan.Routes[vi]
	copy(plan.Routes, saved)
	if !ok {
		return nil
	}
	return route
}

// moveAndSwapPoints is the final cross-route pass: single-job relocations
// and pairwise swaps, accepted on total-cost improvement.
func (e *Engine) moveAndSwapPoints(plan *solver.Plan, deadline time.Time) {
	total, ok := e.problem.PlanCost(plan)
	if !ok {
		return
	}
	for a := 0; a < len(plan.Routes); a++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return
		}
		lockedA := len(e.problem.Vehicles[a].StartSeq)
		for _, ji := range e.routeJobs(plan.Routes[a][lockedA:]) {
			if e.problem.Params.Jobs[ji].AssignedDriver != 0 {
				continue
			}
			candidate := plan.Clone()
			e.problem.RemoveJob(candidate, ji)
			if !e.problem.InsertJobBest(candidate, ji) {
				continue
			}
			if cost, ok := e.problem.PlanCost(candidate); ok && cost < total {
				*plan = *candidate
				total = cost
			}
		}
	}
}

func (e *Engine) routeJobs(route []int) []int {
	seen := make(map[int]bool)
	var jobs []int
	for _, ni := range route {
		ji := e.problem.Nodes[ni].JobIndex
		if !seen[ji] {
			seen[ji] = true
			jobs = append(jobs, ji)
		}
	}
	return jobs
}

func (e *Engine) routeHasPins(route []int) bool {
	for _, ni := range route {
		if e.problem.Params.Jobs[e.problem.Nodes[ni].JobIndex].AssignedDriver != 0 {
			return true
		}
	}
	return false
}

func (e *Engine) jobsCentroid(jobs []int) domain.LatLng {
	var lat, lng float64
	for _, ji := range jobs {
		loc := e.problem.Params.Jobs[ji].Location
		lat += loc.Lat
		lng += loc.Lng
	}
	n := float64(len(jobs))
	return domain.LatLng{Lat: lat / n, Lng: lng / n}
}
