package clustering

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"fleet-route-service/internal/dima"
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/ports"
	"fleet-route-service/internal/runctx"
)

// MiniClusterBuilder runs the k-means stage: initial geographic clusters,
// homogeneity splitters, inner and outer distance matrices, and the
// feasibility constraints the merge stage needs.
type MiniClusterBuilder struct {
	provider ports.DistanceProvider
	sctx     *runctx.SolveContext
}

func NewMiniClusterBuilder(provider ports.DistanceProvider, sctx *runctx.SolveContext) *MiniClusterBuilder {
	return &MiniClusterBuilder{provider: provider, sctx: sctx}
}

// MergeConstraint groups clusters sharing one exact feasible-driver set.
// The merge model limits such a group to at most as many big clusters as
// the group has drivers.
type MergeConstraint struct {
	ClusterIndexes []int
	DriverIndexes  []int
}

// MiniClusterSet is the k-means stage output consumed by the merge stage.
type MiniClusterSet struct {
	Clusters []*MiniCluster

	// Drivers surviving the outer reachability split, in input order.
	Drivers []*domain.Driver

	SkippedJobs    []int64
	SkippedDrivers []int64

	// OuterMatrix covers cluster centers and driver anchor points.
	OuterMatrix *dima.Matrix

	Constraints []MergeConstraint
}

// Build partitions the day's jobs into homogeneous mini-clusters.
func (b *MiniClusterBuilder) Build(ctx context.Context, params *domain.EngineParameters) (*MiniClusterSet, error) {
	objects := make([]*domain.JobObject, len(params.Jobs))
	for i, j := range params.Jobs {
		objects[i] = domain.NewJobObject(j)
	}

	clusters := buildInitialClusters(objects, b.sctx.Config.Clustering.MaxMiniClusters)
	b.sctx.Logger.Info("initial clusters built",
		zap.Int("jobs", len(objects)), zap.Int("clusters", len(clusters)))

	clusters = splitBySkills(clusters)
	clusters = splitByTime(clusters, params.Drivers)
	clusters = splitByAssignedDriver(clusters)

	clusters, skippedObjects, err := b.splitByInnerMatrix(ctx, clusters)
	if err != nil {
		return nil, fmt.Errorf("mini clusters: %w", err)
	}
	clusters = b.splitByRoadRatio(clusters)
	pinAssignedDrivers(clusters, params.Drivers)

	set := &MiniClusterSet{Clusters: clusters, Drivers: params.Drivers}
	for _, o := range skippedObjects {
		set.SkippedJobs = append(set.SkippedJobs, o.Job.OrderID)
	}

	if err := b.splitByOuterMatrix(ctx, set); err != nil {
		return nil, fmt.Errorf("mini clusters: %w", err)
	}
	b.collectConstraints(set, params)

	b.sctx.Logger.Info("mini clusters ready",
		zap.Int("clusters", len(set.Clusters)),
		zap.Int("skipped_jobs", len(set.SkippedJobs)),
		zap.Int("skipped_drivers", len(set.SkippedDrivers)))
	return set, nil
}

// pinAssignedDrivers attaches pre-assigned drivers to the clusters holding
// their jobs. The assigned-driver splitter already guaranteed a cluster
// never mixes two different pins.
func pinAssignedDrivers(clusters []*MiniCluster, drivers []*domain.Driver) {
	byID := make(map[int64]*domain.Driver, len(drivers))
	for _, d := range drivers {
		byID[d.ID] = d
	}
	for _, c := range clusters {
		c.PinnedDrivers = nil
		if len(c.Objects) == 0 {
			continue
		}
		if id := c.Objects[0].Job.AssignedDriver; id != 0 {
			if d, ok := byID[id]; ok {
				c.PinnedDrivers = append(c.PinnedDrivers, d)
			}
		}
	}
}

// splitByOuterMatrix builds the matrix across cluster centers and driver
// anchors. When it splits into components, the component holding the most
// clusters is kept; clusters and drivers stranded elsewhere are skipped.
func (b *MiniClusterBuilder) splitByOuterMatrix(ctx context.Context, set *MiniClusterSet) error {
	seen := make(map[domain.LatLng]struct{})
	var points []domain.LatLng
	add := func(p domain.LatLng) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		points = append(points, p)
	}
	for _, c := range set.Clusters {
		add(c.Center)
	}
	anchored := 0
	for _, d := range set.Drivers {
		if p, ok := d.AnchorPoint(); ok {
			add(p)
			anchored++
		}
	}
	if len(points) < 2 {
		return nil
	}

	m, err := dima.NewBuilder(b.provider, b.sctx).Build(ctx, points)
	if err != nil {
		return fmt.Errorf("outer matrix: %w", err)
	}
	set.OuterMatrix = m

	comps := m.Components()
	if len(comps) <= 1 {
		return nil
	}

	compOf := make(map[int]int)
	for ci, comp := range comps {
		for _, idx := range comp {
			compOf[idx] = ci
		}
	}
	clustersIn := make([]int, len(comps))
	for _, c := range set.Clusters {
		if idx, ok := m.IndexOf(c.Center); ok {
			clustersIn[compOf[idx]]++
		}
	}
	keep := 0
	for ci := 1; ci < len(comps); ci++ {
		if clustersIn[ci] > clustersIn[keep] {
			keep = ci
		}
	}

	var kept []*MiniCluster
	for _, c := range set.Clusters {
		idx, ok := m.IndexOf(c.Center)
		if ok && compOf[idx] == keep {
			kept = append(kept, c)
			continue
		}
		for _, o := range c.Objects {
			set.SkippedJobs = append(set.SkippedJobs, o.Job.OrderID)
		}
	}
	var keptDrivers []*domain.Driver
	for _, d := range set.Drivers {
		p, hasAnchor := d.AnchorPoint()
		if !hasAnchor {
			keptDrivers = append(keptDrivers, d)
			continue
		}
		if idx, ok := m.IndexOf(p); ok && compOf[idx] == keep {
			keptDrivers = append(keptDrivers, d)
			continue
		}
		set.SkippedDrivers = append(set.SkippedDrivers, d.ID)
	}

	b.sctx.Emit(ctx, ports.LevelWarning, "clustering.outer_split",
		"cluster centers and driver anchors span disconnected regions", map[string]any{
			"components":      len(comps),
			"kept_clusters":   len(kept),
			"skipped_jobs":    len(set.SkippedJobs),
			"skipped_drivers": len(set.SkippedDrivers),
		})

	set.Clusters = kept
	set.Drivers = keptDrivers
	reindex(set.Clusters)
	redirectPickups(set.Clusters)
	return nil
}

// collectConstraints groups clusters by their exact feasible-driver set.
func (b *MiniClusterBuilder) collectConstraints(set *MiniClusterSet, params *domain.EngineParameters) {
	groups := make(map[string]*MergeConstraint)
	var order []string

	for ci, c := range set.Clusters {
		feasible := feasibleDrivers(c, set.Drivers, params)
		sig := driverSetSignature(feasible)
		g, ok := groups[sig]
		if !ok {
			g = &MergeConstraint{DriverIndexes: feasible}
			groups[sig] = g
			order = append(order, sig)
		}
		g.ClusterIndexes = append(g.ClusterIndexes, ci)
	}

	set.Constraints = set.Constraints[:0]
	for _, sig := range order {
		set.Constraints = append(set.Constraints, *groups[sig])
	}
}

// feasibleDrivers lists driver indexes able to serve a cluster: matching
// skills, an overlapping shift with room for service, and a matching
// pre-assignment when one exists. Clusters are homogeneous, so the first
// job answers for all.
func feasibleDrivers(c *MiniCluster, drivers []*domain.Driver, params *domain.EngineParameters) []int {
	if len(c.Objects) == 0 {
		return nil
	}
	job := c.Objects[0].Job
	slack := time.Duration(params.ServiceTimeFor(job)) * time.Second

	var out []int
	for di, d := range drivers {
		if job.AssignedDriver != 0 && job.AssignedDriver != d.ID {
			continue
		}
		if !d.CanServe(job) {
			continue
		}
		if !d.ShiftWindow().Overlaps(job.Window, slack) {
			continue
		}
		out = append(out, di)
	}
	return out
}

func driverSetSignature(indexes []int) string {
	parts := make([]string, len(indexes))
	sorted := append([]int(nil), indexes...)
	sort.Ints(sorted)
	for i, idx := range sorted {
		parts[i] = fmt.Sprintf("%d", idx)
	}
	return strings.Join(parts, ",")
}
