package clustering

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fleet-route-service/internal/dima"
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/ports"
)

// Splitters run in a fixed order after k-means. Each one re-derives the
// cluster list so later splitters always see homogeneous input, and every
// pass re-points pickups at the surviving centers.

// splitBy regroups each cluster's objects by a signature, keeping clusters
// whose objects already agree untouched.
func splitBy(clusters []*MiniCluster, signature func(*domain.JobObject) string) []*MiniCluster {
	out := make([]*MiniCluster, 0, len(clusters))
	for _, c := range clusters {
		groups := make(map[string][]*domain.JobObject)
		var order []string
		for _, o := range c.Objects {
			sig := signature(o)
			if _, seen := groups[sig]; !seen {
				order = append(order, sig)
			}
			groups[sig] = append(groups[sig], o)
		}
		if len(groups) == 1 {
			out = append(out, c)
			continue
		}
		for _, sig := range order {
			nc := &MiniCluster{Objects: groups[sig], InnerMatrix: c.InnerMatrix}
			nc.RecomputeCenter()
			out = append(out, nc)
		}
	}
	reindex(out)
	redirectPickups(out)
	return out
}

// splitBySkills separates jobs with different skill requirements.
func splitBySkills(clusters []*MiniCluster) []*MiniCluster {
	return splitBy(clusters, func(o *domain.JobObject) string {
		return o.Job.SkillsSignature()
	})
}

// splitByTime separates jobs whose delivery windows, clipped to the global
// driver shift range, differ. Jobs deliverable at the same times stay
// together regardless of how wide their raw windows are.
func splitByTime(clusters []*MiniCluster, drivers []*domain.Driver) []*MiniCluster {
	if len(drivers) == 0 {
		return clusters
	}
	minStart := drivers[0].ShiftStart
	maxEnd := drivers[0].ShiftEnd
	for _, d := range drivers[1:] {
		if d.ShiftStart.Before(minStart) {
			minStart = d.ShiftStart
		}
		if d.ShiftEnd.After(maxEnd) {
			maxEnd = d.ShiftEnd
		}
	}
	return splitBy(clusters, func(o *domain.JobObject) string {
		return clippedWindowSignature(o.Job.Window, minStart, maxEnd)
	})
}

func clippedWindowSignature(w domain.TimeWindow, minStart, maxEnd time.Time) string {
	start := minStart
	if w.After != nil && w.After.After(start) {
		start = *w.After
	}
	end := maxEnd
	if w.Before.Before(end) {
		end = w.Before
	}
	if !end.After(start) {
		return "empty"
	}
	return start.UTC().Format(time.RFC3339) + "/" + end.UTC().Format(time.RFC3339)
}

// splitByAssignedDriver separates pre-assigned jobs by driver id.
func splitByAssignedDriver(clusters []*MiniCluster) []*MiniCluster {
	return splitBy(clusters, func(o *domain.JobObject) string {
		if o.Job.AssignedDriver == 0 {
			return ""
		}
		return fmt.Sprintf("driver:%d", o.Job.AssignedDriver)
	})
}

// splitByInnerMatrix builds each cluster's inner distance matrix and splits
// off geographically disconnected sub-components. A cluster whose matrix
// cannot be built at all is skipped with a warning; its jobs go to the
// skipped list.
func (b *MiniClusterBuilder) splitByInnerMatrix(ctx context.Context, clusters []*MiniCluster) ([]*MiniCluster, []*domain.JobObject, error) {
	out := make([]*MiniCluster, 0, len(clusters))
	var skipped []*domain.JobObject

	for _, c := range clusters {
		points := innerPoints(c)
		m, err := dima.NewBuilder(b.provider, b.sctx).Build(ctx, points)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, fmt.Errorf("inner matrix for cluster %d: %w", c.Index, err)
			}
			b.sctx.Logger.Warn("inner matrix build failed, skipping cluster",
				zap.Int("cluster", c.Index), zap.Int("jobs", len(c.Objects)), zap.Error(err))
			b.sctx.Emit(ctx, ports.LevelWarning, "clustering.cluster_skipped",
				"inner distance matrix could not be built", map[string]any{
					"cluster": c.Index, "jobs": len(c.Objects),
				})
			skipped = append(skipped, c.Objects...)
			continue
		}
		c.InnerMatrix = m

		comps := m.Components()
		if len(comps) <= 1 {
			out = append(out, c)
			continue
		}

		// Partition objects by the component their delivery point landed in.
		compOf := make(map[int]int)
		for ci, comp := range comps {
			for _, idx := range comp {
				compOf[idx] = ci
			}
		}
		buckets := make([][]*domain.JobObject, len(comps))
		for _, o := range c.Objects {
			idx, ok := m.IndexOf(o.Job.Location)
			if !ok {
				skipped = append(skipped, o)
				continue
			}
			ci := compOf[idx]
			buckets[ci] = append(buckets[ci], o)
		}
		for _, members := range buckets {
			if len(members) == 0 {
				continue
			}
			nc := &MiniCluster{Objects: members, InnerMatrix: m}
			nc.RecomputeCenter()
			out = append(out, nc)
		}
	}
	reindex(out)
	redirectPickups(out)
	return out, skipped, nil
}

// innerPoints lists a cluster's delivery locations plus effective pickup
// locations, deduplicated.
func innerPoints(c *MiniCluster) []domain.LatLng {
	seen := make(map[domain.LatLng]struct{})
	var points []domain.LatLng
	add := func(p domain.LatLng) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		points = append(points, p)
	}
	for _, o := range c.Objects {
		add(o.Job.Location)
		for _, ptr := range o.PickupPointers {
			add(ptr.Effective())
		}
	}
	return points
}

// splitByRoadRatio breaks apart pairs that are crow-flies-close but
// road-far. Two jobs stay together only when every connecting path through
// the cluster keeps road-distance / straight-line-distance under a
// distance-dependent threshold; grouping is union-find over accepted pairs.
func (b *MiniClusterBuilder) splitByRoadRatio(clusters []*MiniCluster) []*MiniCluster {
	cfg := b.sctx.Config.Clustering
	out := make([]*MiniCluster, 0, len(clusters))

	for _, c := range clusters {
		if len(c.Objects) < 2 || c.InnerMatrix == nil {
			out = append(out, c)
			continue
		}
		parent := newUnionFind(len(c.Objects))
		for i := 0; i < len(c.Objects); i++ {
			for j := i + 1; j < len(c.Objects); j++ {
				a := c.Objects[i].Job.Location
				bb := c.Objects[j].Job.Location
				if roadRatioOK(c.InnerMatrix, a, bb, cfg.DistanceRatioNear, cfg.DistanceRatioMid, cfg.DistanceRatioFar) {
					parent.union(i, j)
				}
			}
		}

		groups := make(map[int][]*domain.JobObject)
		var order []int
		for i, o := range c.Objects {
			root := parent.find(i)
			if _, seen := groups[root]; !seen {
				order = append(order, root)
			}
			groups[root] = append(groups[root], o)
		}
		if len(groups) == 1 {
			out = append(out, c)
			continue
		}
		for _, root := range order {
			nc := &MiniCluster{Objects: groups[root], InnerMatrix: c.InnerMatrix}
			nc.RecomputeCenter()
			out = append(out, nc)
		}
	}
	reindex(out)
	redirectPickups(out)
	return out
}

func roadRatioOK(m *dima.Matrix, a, b domain.LatLng, near, mid, far float64) bool {
	straight := a.StraightLineMeters(b)
	if straight == 0 {
		return true
	}
	threshold := far
	switch {
	case straight < 500:
		threshold = near
	case straight < 2000:
		threshold = mid
	}

	// Use the worse direction; one-way detours count against the pair.
	road := 0.0
	forward, okF := m.Between(a, b)
	backward, okB := m.Between(b, a)
	if !okF || !okB {
		return false
	}
	road = float64(forward.DistanceMeters)
	if float64(backward.DistanceMeters) > road {
		road = float64(backward.DistanceMeters)
	}
	return road <= threshold*straight
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
