package solver

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"fleet-route-service/internal/roerr"
)

// Plan is one assignment: a node sequence per vehicle plus skipped jobs.
type Plan struct {
	Routes      [][]int
	SkippedJobs []int
}

func (pl *Plan) Clone() *Plan {
	out := &Plan{
		Routes:      make([][]int, len(pl.Routes)),
		SkippedJobs: append([]int(nil), pl.SkippedJobs...),
	}
	for i, r := range pl.Routes {
		out.Routes[i] = append([]int(nil), r...)
	}
	return out
}

// Options bound one solve call.
type Options struct {
	TimeLimit time.Duration
}

type insertion struct {
	vehicle int
	route   []int
	cost    int
	ok      bool
}

// SolveInitial builds a first feasible plan: required start sequences,
// pre-assigned jobs, regret-2 insertion for the rest, then 2-opt polish.
// A mandatory job with no feasible slot anywhere fails the solve with
// roerr.ErrNoSolution.
func (p *Problem) SolveInitial(ctx context.Context, opts Options) (*Plan, error) {
	deadline := time.Time{}
	if opts.TimeLimit > 0 {
		deadline = time.Now().Add(opts.TimeLimit)
	}

	plan := &Plan{Routes: make([][]int, len(p.Vehicles))}
	placed := make(map[int]bool)
	for vi, v := range p.Vehicles {
		plan.Routes[vi] = append([]int(nil), v.StartSeq...)
		for _, ni := range v.StartSeq {
			placed[p.Nodes[ni].JobIndex] = true
		}
	}
	for _, ji := range p.preSkipped {
		placed[ji] = true
		plan.SkippedJobs = append(plan.SkippedJobs, ji)
	}

	var pending []int
	for ji := range p.Params.Jobs {
		if !placed[ji] {
			pending = append(pending, ji)
		}
	}
	// Pre-assigned jobs claim their vehicle before open insertion starts.
	sort.SliceStable(pending, func(i, j int) bool {
		return p.fixedVeh[pending[i]] >= 0 && p.fixedVeh[pending[j]] < 0
	})

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("solver: %w", err)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}

		// Regret-2: commit the job that would suffer most from waiting.
		bestIdx := -1
		var bestIns insertion
		bestRegret := math.Inf(-1)
		for idx, ji := range pending {
			first, second := p.bestInsertions(plan, ji)
			if !first.ok {
				continue
			}
			regret := math.Inf(1)
			if second.ok {
				regret = float64(second.cost - first.cost)
			}
			if bestIdx == -1 || regret > bestRegret ||
				(regret == bestRegret && first.cost < bestIns.cost) {
				bestIdx = idx
				bestIns = first
				bestRegret = regret
			}
		}

		if bestIdx == -1 {
			// Nothing insertable. Skip the skippable, fail on the rest.
			for _, ji := range pending {
				if !p.Params.Jobs[ji].AllowSkip {
					return nil, fmt.Errorf("solver: job %d has no feasible slot: %w",
						p.Params.Jobs[ji].ID, roerr.ErrNoSolution)
				}
				plan.SkippedJobs = append(plan.SkippedJobs, ji)
			}
			break
		}

		plan.Routes[bestIns.vehicle] = bestIns.route
		pending = append(pending[:bestIdx], pending[bestIdx+1:]...)
	}

	p.polish(plan, deadline)
	return plan, nil
}

// bestInsertions returns the cheapest and second-cheapest feasible
// insertions of one job over all allowed vehicles and positions.
func (p *Problem) bestInsertions(plan *Plan, ji int) (insertion, insertion) {
	var first, second insertion
	consider := func(cand insertion) {
		if !cand.ok {
			return
		}
		if !first.ok || cand.cost < first.cost {
			second = first
			first = cand
		} else if !second.ok || cand.cost < second.cost {
			second = cand
		}
	}
	for vi := range p.Vehicles {
		if fixed := p.fixedVeh[ji]; fixed >= 0 && fixed != vi {
			continue
		}
		consider(p.bestInsertionInto(plan, ji, vi))
	}
	return first, second
}

// bestInsertionInto finds the cheapest feasible placement of a job's
// pickup block and delivery within one vehicle's route.
func (p *Problem) bestInsertionInto(plan *Plan, ji, vi int) insertion {
	route := plan.Routes[vi]
	lockedPrefix := len(p.Vehicles[vi].StartSeq)
	baseCost := 0
	if len(route) > 0 {
		c, ok := p.RouteCost(vi, route)
		if !ok {
			return insertion{}
		}
		baseCost = c
	}

	nodes := p.jobNodes[ji]
	pickups := nodes[:len(nodes)-1]
	delivery := nodes[len(nodes)-1]

	best := insertion{vehicle: vi}
	for dp := lockedPrefix; dp <= len(route); dp++ {
		ppStart := lockedPrefix
		if len(pickups) == 0 {
			ppStart = dp
		}
		for pp := ppStart; pp <= dp; pp++ {
			cand := make([]int, 0, len(route)+len(nodes))
			cand = append(cand, route[:pp]...)
			cand = append(cand, pickups...)
			cand = append(cand, route[pp:dp]...)
			cand = append(cand, delivery)
			cand = append(cand, route[dp:]...)

			cost, ok := p.RouteCost(vi, cand)
			if !ok {
				continue
			}
			delta := cost - baseCost
			if !best.ok || delta < best.cost {
				best = insertion{vehicle: vi, route: cand, cost: delta, ok: true}
			}
		}
	}
	return best
}

// polish runs 2-opt over every route until no move improves.
func (p *Problem) polish(plan *Plan, deadline time.Time) {
	for vi := range plan.Routes {
		plan.Routes[vi] = p.TwoOptRoute(vi, plan.Routes[vi], len(p.Vehicles[vi].StartSeq), deadline)
	}
}

// TwoOptRoute improves one route by segment reversal, honouring a locked
// prefix. Only schedule-feasible, strictly cheaper routes are accepted.
func (p *Problem) TwoOptRoute(vi int, route []int, lockedPrefix int, deadline time.Time) []int {
	if len(route)-lockedPrefix < 3 {
		return route
	}
	best := append([]int(nil), route...)
	bestCost, ok := p.RouteCost(vi, best)
	if !ok {
		return route
	}

	improved := true
	for improved {
		improved = false
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		for i := lockedPrefix; i < len(best)-1; i++ {
			for j := i + 1; j < len(best); j++ {
				cand := append([]int(nil), best...)
				for l, r := i, j; l < r; l, r = l+1, r-1 {
					cand[l], cand[r] = cand[r], cand[l]
				}
				cost, ok := p.RouteCost(vi, cand)
				if ok && cost < bestCost {
					best = cand
					bestCost = cost
					improved = true
				}
			}
		}
	}
	return best
}

// RemoveJob strips a job's nodes from the plan's routes.
func (p *Problem) RemoveJob(plan *Plan, ji int) {
	own := make(map[int]bool, len(p.jobNodes[ji]))
	for _, ni := range p.jobNodes[ji] {
		own[ni] = true
	}
	for vi, route := range plan.Routes {
		kept := route[:0:0]
		for _, ni := range route {
			if !own[ni] {
				kept = append(kept, ni)
			}
		}
		plan.Routes[vi] = kept
	}
}

// InsertJobBest places a job at its cheapest feasible slot. Returns false
// when no vehicle can take it.
func (p *Problem) InsertJobBest(plan *Plan, ji int) bool {
	first, _ := p.bestInsertions(plan, ji)
	if !first.ok {
		return false
	}
	plan.Routes[first.vehicle] = first.route
	return true
}

// VehicleOfJob reports which route currently serves a job's delivery.
func (p *Problem) VehicleOfJob(plan *Plan, ji int) int {
	delivery := p.jobNodes[ji][len(p.jobNodes[ji])-1]
	for vi, route := range plan.Routes {
		for _, ni := range route {
			if ni == delivery {
				return vi
			}
		}
	}
	return -1
}

// PlanCost totals driving seconds across all routes; false when any route
// is infeasible.
func (p *Problem) PlanCost(plan *Plan) (int, bool) {
	total := 0
	for vi, route := range plan.Routes {
		if len(route) == 0 {
			continue
		}
		c, ok := p.RouteCost(vi, route)
		if !ok {
			return 0, false
		}
		total += c
	}
	return total, true
}
