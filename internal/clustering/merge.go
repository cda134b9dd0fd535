package clustering

import (
	"math"

	"fleet-route-service/internal/domain"
)

// The merge model assigns every object (a whole mini-cluster, or a single
// job exploded out of one) and every driver to exactly one big cluster.
// Hard constraints: capacity-size bounds per cluster, at least one driver
// per cluster, enough aggregate driver shift time for the cluster's
// workload, and group limits from MergeConstraints. The objective is the
// sum of squared travel-time-to-center terms plus an optional capacity
// penalty. Solved by a greedy seed plus best-improvement local search over
// single moves; a zero-violation final state means feasible.

type mergeObject struct {
	miniIndex int                // -1 when this is an exploded job
	object    *domain.JobObject  // set only for exploded jobs

	center         domain.LatLng
	points         int
	capacity       int
	serviceSeconds float64
	pickups        []domain.LatLng

	pinnedCluster int // big-cluster index or -1
}

type mergeDriver struct {
	index         int
	anchor        domain.LatLng
	hasAnchor     bool
	shiftSeconds  float64
	capacity      int
	pinnedCluster int
	// followsObject keeps a pre-assigned driver in the same big cluster
	// as the object holding its jobs. -1 when free.
	followsObject int
}

type constraintGroup struct {
	objectIndexes []int
	maxClusters   int
}

type mergeProblem struct {
	objects []*mergeObject
	drivers []*mergeDriver
	centers []domain.LatLng

	minSize     float64 // capacity units
	maxSize     float64
	coefficient float64
	useCapacity bool
	groups      []constraintGroup

	travel func(a, b domain.LatLng) float64 // seconds
}

type mergeResult struct {
	objectCluster []int
	driverCluster []int
	objective     float64
}

// requiredSeconds is the driver time one object demands when served from a
// given center: service scaled by the time-equivalence coefficient, plus
// travel to the center for the delivery and each pickup.
func (p *mergeProblem) requiredSeconds(o *mergeObject, cluster int) float64 {
	t := p.coefficient*o.serviceSeconds + p.travel(o.center, p.centers[cluster])
	for _, pk := range o.pickups {
		t += p.travel(pk, p.centers[cluster])
	}
	return t
}

// objectiveTerm is an object's squared time-to-center contribution.
func (p *mergeProblem) objectiveTerm(o *mergeObject, cluster int) float64 {
	t := p.travel(o.center, p.centers[cluster])
	sum := t * t
	for _, pk := range o.pickups {
		pt := p.travel(pk, p.centers[cluster])
		sum += pt * pt
	}
	return sum
}

func (p *mergeProblem) driverTerm(d *mergeDriver, cluster int) float64 {
	if !d.hasAnchor {
		return 0
	}
	t := p.travel(d.anchor, p.centers[cluster])
	return t * t
}

// mergeState tracks per-cluster aggregates so move evaluation is cheap.
type mergeState struct {
	p *mergeProblem

	objectCluster []int
	driverCluster []int

	size        []float64 // capacity units per cluster
	required    []float64
	available   []float64
	jobCap      []int
	driverCap   []int
	driverCount []int

	// groupUse[g][k] counts group g's objects in cluster k.
	groupUse [][]int
	groupOf  map[int]int // object index -> group index, if any

	// followers[oi] lists drivers that must share oi's cluster.
	followers [][]int
}

func newMergeState(p *mergeProblem) *mergeState {
	k := len(p.centers)
	s := &mergeState{
		p:             p,
		objectCluster: make([]int, len(p.objects)),
		driverCluster: make([]int, len(p.drivers)),
		size:          make([]float64, k),
		required:      make([]float64, k),
		available:     make([]float64, k),
		jobCap:        make([]int, k),
		driverCap:     make([]int, k),
		driverCount:   make([]int, k),
		groupOf:       make(map[int]int),
	}
	for i := range s.objectCluster {
		s.objectCluster[i] = -1
	}
	for i := range s.driverCluster {
		s.driverCluster[i] = -1
	}
	s.groupUse = make([][]int, len(p.groups))
	for g, grp := range p.groups {
		s.groupUse[g] = make([]int, k)
		for _, oi := range grp.objectIndexes {
			s.groupOf[oi] = g
		}
	}
	s.followers = make([][]int, len(p.objects))
	for di, d := range p.drivers {
		if d.followsObject >= 0 {
			s.followers[d.followsObject] = append(s.followers[d.followsObject], di)
		}
	}
	return s
}

func (s *mergeState) placeObject(oi, cluster int) {
	o := s.p.objects[oi]
	if prev := s.objectCluster[oi]; prev >= 0 {
		s.size[prev] -= float64(o.capacity)
		s.required[prev] -= s.p.requiredSeconds(o, prev)
		s.jobCap[prev] -= o.capacity
		if g, ok := s.groupOf[oi]; ok {
			s.groupUse[g][prev]--
		}
	}
	s.objectCluster[oi] = cluster
	if cluster >= 0 {
		s.size[cluster] += float64(o.capacity)
		s.required[cluster] += s.p.requiredSeconds(o, cluster)
		s.jobCap[cluster] += o.capacity
		if g, ok := s.groupOf[oi]; ok {
			s.groupUse[g][cluster]++
		}
	}
}

func (s *mergeState) placeDriver(di, cluster int) {
	d := s.p.drivers[di]
	if prev := s.driverCluster[di]; prev >= 0 {
		s.available[prev] -= d.shiftSeconds
		s.driverCap[prev] -= d.capacity
		s.driverCount[prev]--
	}
	s.driverCluster[di] = cluster
	if cluster >= 0 {
		s.available[cluster] += d.shiftSeconds
		s.driverCap[cluster] += d.capacity
		s.driverCount[cluster]++
	}
}

// violation is zero exactly when the state satisfies every hard
// constraint. Weights only shape the repair search.
func (s *mergeState) violation() float64 {
	v := 0.0
	for k := range s.p.centers {
		if s.size[k] < s.p.minSize {
			v += 10 * (s.p.minSize - s.size[k])
		}
		if s.size[k] > s.p.maxSize {
			v += 10 * (s.size[k] - s.p.maxSize)
		}
		if s.driverCount[k] == 0 {
			v += 1000
		}
		if over := s.required[k] - s.available[k]; over > 0 {
			v += over / 60
		}
	}
	for g, grp := range s.p.groups {
		used := 0
		for _, n := range s.groupUse[g] {
			if n > 0 {
				used++
			}
		}
		if used > grp.maxClusters {
			v += 1000 * float64(used-grp.maxClusters)
		}
	}
	return v
}

func (s *mergeState) objective() float64 {
	obj := 0.0
	for oi, o := range s.p.objects {
		obj += s.p.objectiveTerm(o, s.objectCluster[oi])
	}
	for di, d := range s.p.drivers {
		obj += s.p.driverTerm(d, s.driverCluster[di])
	}
	if s.p.useCapacity {
		for k := range s.p.centers {
			if deficit := s.jobCap[k] - s.driverCap[k]; deficit > 0 {
				weight := 1.0
				if s.size[k] > 0 {
					weight = s.required[k] / s.size[k]
				}
				obj += float64(deficit*deficit) * weight
			}
		}
	}
	return obj
}

// solveMerge seeds greedily, repairs violations by best-improvement single
// moves, then polishes the objective with feasibility-preserving moves.
func solveMerge(p *mergeProblem) (*mergeResult, bool) {
	k := len(p.centers)
	if k == 0 || len(p.objects) == 0 || len(p.drivers) < k {
		return nil, false
	}
	s := newMergeState(p)

	// Seed: pinned entities first, then nearest center with room.
	for oi, o := range p.objects {
		if o.pinnedCluster >= 0 {
			s.placeObject(oi, o.pinnedCluster)
		}
	}
	for oi, o := range p.objects {
		if s.objectCluster[oi] >= 0 {
			continue
		}
		best, bestCost := 0, math.Inf(1)
		for c := 0; c < k; c++ {
			cost := p.travel(o.center, p.centers[c])
			if s.size[c]+float64(o.capacity) > p.maxSize {
				cost += 1e7
			}
			if cost < bestCost {
				best, bestCost = c, cost
			}
		}
		s.placeObject(oi, best)
	}
	for di, d := range p.drivers {
		if d.pinnedCluster >= 0 {
			s.placeDriver(di, d.pinnedCluster)
		} else if d.followsObject >= 0 {
			s.placeDriver(di, s.objectCluster[d.followsObject])
		}
	}
	// Remaining drivers go where coverage is thinnest, near anchors.
	for di, d := range p.drivers {
		if s.driverCluster[di] >= 0 {
			continue
		}
		best, bestScore := 0, math.Inf(-1)
		for c := 0; c < k; c++ {
			score := s.required[c] - s.available[c]
			if s.driverCount[c] == 0 {
				score += 1e9
			}
			if d.hasAnchor {
				score -= p.travel(d.anchor, p.centers[c])
			}
			if score > bestScore {
				best, bestScore = c, score
			}
		}
		s.placeDriver(di, best)
	}

	maxIter := 200 + 40*(len(p.objects)+len(p.drivers))
	s.improve(maxIter, true)
	if s.violation() > 0 {
		return nil, false
	}
	s.improve(maxIter, false)

	return &mergeResult{
		objectCluster: append([]int(nil), s.objectCluster...),
		driverCluster: append([]int(nil), s.driverCluster...),
		objective:     s.objective(),
	}, true
}

// improve applies best single moves. With repair=true it minimizes
// (violation, objective); otherwise only moves keeping violation at zero
// and lowering the objective are taken.
func (s *mergeState) improve(maxIter int, repair bool) {
	k := len(s.p.centers)
	for iter := 0; iter < maxIter; iter++ {
		curV, curO := s.violation(), s.objective()
		if repair && curV == 0 {
			return
		}

		type move struct {
			isDriver bool
			idx      int
			to       int
		}
		var best move
		bestV, bestO := curV, curO
		found := false

		apply := func(isDriver bool, idx, to int) {
			if isDriver {
				s.placeDriver(idx, to)
				return
			}
			s.placeObject(idx, to)
			for _, di := range s.followers[idx] {
				s.placeDriver(di, to)
			}
		}

		try := func(isDriver bool, idx, from, to int) {
			apply(isDriver, idx, to)
			v, o := s.violation(), s.objective()
			if (repair && (v < bestV || (v == bestV && o < bestO))) ||
				(!repair && v == 0 && o < bestO) {
				best = move{isDriver: isDriver, idx: idx, to: to}
				bestV, bestO = v, o
				found = true
			}
			apply(isDriver, idx, from)
		}

		for oi, o := range s.p.objects {
			if o.pinnedCluster >= 0 {
				continue
			}
			from := s.objectCluster[oi]
			for c := 0; c < k; c++ {
				if c != from {
					try(false, oi, from, c)
				}
			}
		}
		for di, d := range s.p.drivers {
			if d.pinnedCluster >= 0 || d.followsObject >= 0 {
				continue
			}
			from := s.driverCluster[di]
			for c := 0; c < k; c++ {
				if c != from {
					try(true, di, from, c)
				}
			}
		}

		if !found {
			return
		}
		apply(best.isDriver, best.idx, best.to)
	}
}
