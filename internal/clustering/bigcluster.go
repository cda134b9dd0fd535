package clustering

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"go.uber.org/zap"

	"fleet-route-service/internal/config"
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/ports"
	"fleet-route-service/internal/runctx"
)

// BigCluster is one merged sub-problem: whole mini-clusters plus any jobs
// the capacity pass assigned individually, and the drivers serving them.
type BigCluster struct {
	Index          int
	ClusterIndexes []int
	Objects        []*domain.JobObject
	DriverIndexes  []int
	Center         domain.LatLng
}

// BigClustersManager merges mini-clusters and drivers into workload-
// balanced big clusters via the merge model, re-solved under the
// coefficient search with center recomputation between steps.
type BigClustersManager struct {
	sctx   *runctx.SolveContext
	set    *MiniClusterSet
	params *domain.EngineParameters
}

func NewBigClustersManager(sctx *runctx.SolveContext, set *MiniClusterSet, params *domain.EngineParameters) *BigClustersManager {
	return &BigClustersManager{sctx: sctx, set: set, params: params}
}

// clustersCountFor sizes the big-cluster partition from the point total,
// capped by how many drivers exist.
func clustersCountFor(points, drivers int, cfg config.ClusteringConfig) int {
	count := 1
	if points > cfg.SingleClusterPoints {
		for points/count >= cfg.GrowClusterPoints {
			count++
		}
		for points/(count+1) >= cfg.GrowNextClusterPoints {
			count++
		}
	}
	if count > drivers {
		count = drivers
	}
	if count < 1 {
		count = 1
	}
	return count
}

// MergeMiniClusters partitions the mini-cluster set. It never returns an
// empty partition while clusters remain: when no coefficient ever solves,
// it falls back to a single degenerate cluster and reports a warning.
func (m *BigClustersManager) MergeMiniClusters(ctx context.Context) ([]*BigCluster, error) {
	cfg := m.sctx.Config.Clustering
	if len(m.set.Clusters) == 0 {
		return nil, nil
	}
	if len(m.set.Drivers) == 0 {
		return nil, fmt.Errorf("merge: no drivers available")
	}

	points := 0
	for _, c := range m.set.Clusters {
		points += c.PointsCount()
	}
	k := clustersCountFor(points, len(m.set.Drivers), cfg)
	if k <= 1 {
		return m.degeneratePartition(), nil
	}

	centers := m.initialCenters(k)
	tried := map[string]bool{centersSignature(centers): true}
	rng := rand.New(rand.NewSource(int64(len(m.set.Clusters))))

	var best *solvedMerge
	var bestCenters []domain.LatLng
	stagnation := 0

	for attempt := 0; attempt <= cfg.CenterRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		solved := m.searchCoefficient(centers, nil, nil)
		if solved != nil && (best == nil || solved.result.objective < best.result.objective) {
			best = solved
			bestCenters = centers
			stagnation = 0
		} else {
			stagnation++
		}

		base := solved
		if base == nil {
			base = best
		}
		var next []domain.LatLng
		if base == nil {
			next = m.randomizeOneCenter(centers, rng)
		} else {
			next = m.recomputeCenters(base, k)
			if tried[centersSignature(next)] || stagnation >= cfg.CenterStagnationRounds {
				next = m.randomizeOneCenter(next, rng)
				stagnation = 0
			}
		}
		sig := centersSignature(next)
		if tried[sig] {
			break
		}
		tried[sig] = true
		centers = next
	}

	if best == nil {
		m.sctx.Logger.Warn("no feasible merge for any coefficient, using degenerate partition",
			zap.Int("clusters", len(m.set.Clusters)), zap.Int("target", k))
		m.sctx.Emit(ctx, ports.LevelWarning, "clustering.merge_fallback",
			"no feasible merge partition found", map[string]any{
				"mini_clusters": len(m.set.Clusters), "target_clusters": k,
			})
		return m.degeneratePartition(), nil
	}

	if m.params.UseVehicleCapacity {
		if improved := m.improveCapacity(best, bestCenters); improved != nil {
			best = improved
		}
	}
	return m.assemble(best, bestCenters, k), nil
}

// solvedMerge binds a merge result to the problem it solved, so object
// indexes stay interpretable.
type solvedMerge struct {
	problem     *mergeProblem
	result      *mergeResult
	coefficient float64
}

// searchCoefficient runs the adaptive coefficient search and keeps the
// solution of the largest feasible coefficient.
func (m *BigClustersManager) searchCoefficient(centers []domain.LatLng, explode map[int]bool, pins map[int]int) *solvedMerge {
	cfg := m.sctx.Config.Clustering
	coef := NewCoefficient(nil, cfg.CoefficientTolerance, cfg.CoefficientMaxAttempts)

	var best *solvedMerge
	for {
		p := m.buildProblem(centers, coef.Current(), explode, pins)
		res, feasible := solveMerge(p)
		if feasible && (best == nil || coef.Current() >= best.coefficient) {
			best = &solvedMerge{problem: p, result: res, coefficient: coef.Current()}
		}
		if !coef.Feed(feasible) {
			break
		}
	}
	return best
}

// buildProblem assembles the merge model for one coefficient. Mini-cluster
// indexes in explode are expanded to individual jobs; pins maps mini-cluster
// index to a fixed big-cluster index.
func (m *BigClustersManager) buildProblem(centers []domain.LatLng, coefficient float64, explode map[int]bool, pins map[int]int) *mergeProblem {
	cfg := m.sctx.Config.Clustering
	p := &mergeProblem{
		centers:     centers,
		coefficient: coefficient,
		useCapacity: m.params.UseVehicleCapacity,
		travel:      m.travelSeconds,
	}

	objectsOfMini := make(map[int][]int)
	for mi, c := range m.set.Clusters {
		pinned := -1
		if pin, ok := pins[mi]; ok {
			pinned = pin
		}
		if explode[mi] {
			for _, o := range c.Objects {
				p.objects = append(p.objects, &mergeObject{
					miniIndex:      -1,
					object:         o,
					center:         o.Job.Location,
					points:         o.Job.PointsCount(),
					capacity:       o.Job.ClusterCapacity(),
					serviceSeconds: m.objectServiceSeconds(o),
					pickups:        effectivePickups(o),
					pinnedCluster:  pinned,
				})
				objectsOfMini[mi] = append(objectsOfMini[mi], len(p.objects)-1)
			}
			continue
		}
		p.objects = append(p.objects, &mergeObject{
			miniIndex:      mi,
			center:         c.Center,
			points:         c.PointsCount(),
			capacity:       c.Capacity(),
			serviceSeconds: m.clusterServiceSeconds(c),
			pickups:        clusterPickups(c),
			pinnedCluster:  pinned,
		})
		objectsOfMini[mi] = append(objectsOfMini[mi], len(p.objects)-1)
	}

	followOf := make(map[int64]int) // driver id -> object index
	for mi, c := range m.set.Clusters {
		for _, d := range c.PinnedDrivers {
			if objs := objectsOfMini[mi]; len(objs) > 0 {
				followOf[d.ID] = objs[0]
			}
		}
	}
	for di, d := range m.set.Drivers {
		md := &mergeDriver{
			index:         di,
			shiftSeconds:  d.ShiftDuration().Seconds(),
			capacity:      d.VehicleCapacity,
			pinnedCluster: -1,
			followsObject: -1,
		}
		if md.capacity == 0 {
			md.capacity = domain.UnlimitedCapacity
		}
		if anchor, ok := d.AnchorPoint(); ok {
			md.anchor = anchor
			md.hasAnchor = true
		}
		if oi, ok := followOf[d.ID]; ok {
			md.followsObject = oi
		}
		p.drivers = append(p.drivers, md)
	}

	total := 0.0
	for _, o := range p.objects {
		total += float64(o.capacity)
	}
	k := float64(len(centers))
	p.minSize = total / (k * cfg.SizeBoundFactor)
	p.maxSize = total * cfg.SizeBoundFactor / k

	for _, mc := range m.set.Constraints {
		if len(mc.DriverIndexes) == 0 || len(mc.DriverIndexes) >= len(centers) {
			continue
		}
		var objectIndexes []int
		for _, mi := range mc.ClusterIndexes {
			objectIndexes = append(objectIndexes, objectsOfMini[mi]...)
		}
		p.groups = append(p.groups, constraintGroup{
			objectIndexes: objectIndexes,
			maxClusters:   len(mc.DriverIndexes),
		})
	}
	return p
}

func (m *BigClustersManager) objectServiceSeconds(o *domain.JobObject) float64 {
	t := float64(m.params.ServiceTimeFor(o.Job))
	for _, pk := range o.Job.Pickups {
		t += float64(m.params.PickupServiceTimeFor(pk))
	}
	return t
}

func (m *BigClustersManager) clusterServiceSeconds(c *MiniCluster) float64 {
	t := 0.0
	for _, o := range c.Objects {
		t += m.objectServiceSeconds(o)
	}
	return t
}

func effectivePickups(o *domain.JobObject) []domain.LatLng {
	out := make([]domain.LatLng, 0, len(o.PickupPointers))
	for _, ptr := range o.PickupPointers {
		out = append(out, ptr.Effective())
	}
	return out
}

func clusterPickups(c *MiniCluster) []domain.LatLng {
	var out []domain.LatLng
	for _, o := range c.Objects {
		out = append(out, effectivePickups(o)...)
	}
	return out
}

// travelSeconds reads the outer matrix, estimating from straight-line
// distance for points outside it (exploded jobs, ad-hoc centers).
func (m *BigClustersManager) travelSeconds(a, b domain.LatLng) float64 {
	if a == b {
		return 0
	}
	if m.set.OuterMatrix != nil {
		if r, ok := m.set.OuterMatrix.Between(a, b); ok && r.Status == ports.StatusOK {
			return float64(r.DurationSeconds)
		}
	}
	// ~40 km/h over a 1.3 road factor.
	return a.StraightLineMeters(b) * 1.3 / 11
}

// initialCenters spreads k centers over mini-cluster centers by farthest-
// point seeding, deterministically.
func (m *BigClustersManager) initialCenters(k int) []domain.LatLng {
	candidates := make([]domain.LatLng, len(m.set.Clusters))
	for i, c := range m.set.Clusters {
		candidates[i] = c.Center
	}
	centers := []domain.LatLng{candidates[0]}
	for len(centers) < k {
		best := -1
		bestDist := -1.0
		for i, cand := range candidates {
			minDist := math.Inf(1)
			for _, c := range centers {
				if d := cand.StraightLineMeters(c); d < minDist {
					minDist = d
				}
			}
			if minDist > bestDist {
				best = i
				bestDist = minDist
			}
		}
		centers = append(centers, candidates[best])
	}
	return centers
}

// recomputeCenters picks, per big cluster, the member mini-cluster
// minimizing the capacity-weighted RMS travel time to all other members.
func (m *BigClustersManager) recomputeCenters(solved *solvedMerge, k int) []domain.LatLng {
	members := make([][]*mergeObject, k)
	for oi, cluster := range solved.result.objectCluster {
		members[cluster] = append(members[cluster], solved.problem.objects[oi])
	}

	centers := make([]domain.LatLng, k)
	for ci := range centers {
		centers[ci] = solved.problem.centers[ci]
		if len(members[ci]) == 0 {
			continue
		}
		bestScore := math.Inf(1)
		for _, cand := range members[ci] {
			sum, weight := 0.0, 0.0
			for _, other := range members[ci] {
				t := m.travelSeconds(cand.center, other.center)
				sum += float64(other.capacity) * t * t
				weight += float64(other.capacity)
			}
			score := sum
			if weight > 0 {
				score = math.Sqrt(sum / weight)
			}
			if score < bestScore {
				bestScore = score
				centers[ci] = cand.center
			}
		}
	}
	return centers
}

func (m *BigClustersManager) randomizeOneCenter(centers []domain.LatLng, rng *rand.Rand) []domain.LatLng {
	out := append([]domain.LatLng(nil), centers...)
	if len(m.set.Clusters) == 0 {
		return out
	}
	out[rng.Intn(len(out))] = m.set.Clusters[rng.Intn(len(m.set.Clusters))].Center
	return out
}

func centersSignature(centers []domain.LatLng) string {
	parts := make([]string, len(centers))
	for i, c := range centers {
		parts[i] = c.String()
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

// improveCapacity re-runs the merge at job granularity for the worst-placed
// share of mini-clusters when per-cluster capacity deficits cancel out in
// aggregate but still bite individually.
func (m *BigClustersManager) improveCapacity(best *solvedMerge, centers []domain.LatLng) *solvedMerge {
	cfg := m.sctx.Config.Clustering
	k := len(centers)

	jobCap := make([]int, k)
	drvCap := make([]int, k)
	for oi, cluster := range best.result.objectCluster {
		jobCap[cluster] += best.problem.objects[oi].capacity
	}
	for di, cluster := range best.result.driverCluster {
		drvCap[cluster] += best.problem.drivers[di].capacity
	}
	used, raw := 0, 0
	for ci := 0; ci < k; ci++ {
		deficit := jobCap[ci] - drvCap[ci]
		raw += deficit
		if deficit > 0 {
			used += deficit
		}
	}
	if used <= raw {
		return nil
	}

	// Rank whole mini-clusters by how much closer a different cluster's
	// center is than their assigned one.
	type ranked struct {
		mini      int
		advantage float64
	}
	var order []ranked
	pins := make(map[int]int)
	for oi, cluster := range best.result.objectCluster {
		o := best.problem.objects[oi]
		if o.miniIndex < 0 {
			continue
		}
		assigned := m.travelSeconds(o.center, centers[cluster])
		bestOther := math.Inf(1)
		for ci := 0; ci < k; ci++ {
			if ci == cluster {
				continue
			}
			if t := m.travelSeconds(o.center, centers[ci]); t < bestOther {
				bestOther = t
			}
		}
		order = append(order, ranked{mini: o.miniIndex, advantage: assigned - bestOther})
		pins[o.miniIndex] = cluster
	}
	sort.Slice(order, func(i, j int) bool { return order[i].advantage > order[j].advantage })

	explodeCount := int(math.Ceil(float64(len(order)) * cfg.ImproveCapacityShare))
	if explodeCount == 0 {
		return nil
	}
	explode := make(map[int]bool, explodeCount)
	for _, r := range order[:explodeCount] {
		explode[r.mini] = true
		delete(pins, r.mini)
	}

	improved := m.searchCoefficient(centers, explode, pins)
	if improved == nil {
		return nil
	}
	return improved
}

// assemble converts a solved merge into the final partition, dropping
// empty clusters and renumbering. Every mini-cluster and driver lands in
// exactly one big cluster.
func (m *BigClustersManager) assemble(solved *solvedMerge, centers []domain.LatLng, k int) []*BigCluster {
	out := make([]*BigCluster, k)
	for ci := 0; ci < k; ci++ {
		out[ci] = &BigCluster{Center: centers[ci]}
	}
	for oi, cluster := range solved.result.objectCluster {
		o := solved.problem.objects[oi]
		if o.miniIndex >= 0 {
			out[cluster].ClusterIndexes = append(out[cluster].ClusterIndexes, o.miniIndex)
		} else {
			out[cluster].Objects = append(out[cluster].Objects, o.object)
		}
	}
	for di, cluster := range solved.result.driverCluster {
		out[cluster].DriverIndexes = append(out[cluster].DriverIndexes, solved.problem.drivers[di].index)
	}

	filtered := make([]*BigCluster, 0, len(out))
	for _, bc := range out {
		if len(bc.ClusterIndexes) == 0 && len(bc.Objects) == 0 {
			// Strand-free: its drivers move to the busiest cluster.
			continue
		}
		filtered = append(filtered, bc)
	}
	if len(filtered) < len(out) {
		reassignStrandedDrivers(out, filtered)
	}
	for i, bc := range filtered {
		bc.Index = i
		sort.Ints(bc.ClusterIndexes)
		sort.Ints(bc.DriverIndexes)
	}
	return filtered
}

func reassignStrandedDrivers(all, kept []*BigCluster) {
	if len(kept) == 0 {
		return
	}
	keptSet := make(map[*BigCluster]bool, len(kept))
	for _, bc := range kept {
		keptSet[bc] = true
	}
	for _, bc := range all {
		if keptSet[bc] {
			continue
		}
		for _, di := range bc.DriverIndexes {
			target := kept[0]
			for _, cand := range kept[1:] {
				if len(cand.DriverIndexes) < len(target.DriverIndexes) {
					target = cand
				}
			}
			target.DriverIndexes = append(target.DriverIndexes, di)
		}
	}
}

// degeneratePartition puts everything into one big cluster.
func (m *BigClustersManager) degeneratePartition() []*BigCluster {
	bc := &BigCluster{Index: 0}
	for mi := range m.set.Clusters {
		bc.ClusterIndexes = append(bc.ClusterIndexes, mi)
	}
	for di := range m.set.Drivers {
		bc.DriverIndexes = append(bc.DriverIndexes, di)
	}
	if len(m.set.Clusters) > 0 {
		bc.Center = m.set.Clusters[0].Center
	}
	return []*BigCluster{bc}
}
