// Package clustering partitions a day's jobs and drivers into solvable
// sub-problems: k-means mini-clusters refined by rule splitters, then a
// constraint merge into workload-balanced big clusters.
package clustering

import (
	"fleet-route-service/internal/dima"
	"fleet-route-service/internal/domain"
)

// MiniCluster is a small, geographically and attribute-homogeneous group
// of jobs. After the splitters run, all jobs in one mini-cluster share a
// skill signature, a time-window signature and a pre-assigned driver (if
// any).
type MiniCluster struct {
	Index   int
	Objects []*domain.JobObject

	// PinnedDrivers are drivers pre-assigned to jobs of this cluster.
	PinnedDrivers []*domain.Driver

	Center      domain.LatLng
	InnerMatrix *dima.Matrix
}

// PointsCount counts each job as one point per leg (delivery + pickups).
func (c *MiniCluster) PointsCount() int {
	n := 0
	for _, o := range c.Objects {
		n += o.Job.PointsCount()
	}
	return n
}

// Capacity sums job capacities the way big-cluster sizing counts them.
func (c *MiniCluster) Capacity() int {
	total := 0
	for _, o := range c.Objects {
		total += o.Job.ClusterCapacity()
	}
	return total
}

// Locations returns the delivery locations of all jobs in the cluster.
func (c *MiniCluster) Locations() []domain.LatLng {
	out := make([]domain.LatLng, 0, len(c.Objects))
	for _, o := range c.Objects {
		out = append(out, o.Job.Location)
	}
	return out
}

// RecomputeCenter picks the member location closest to the centroid, a
// median-ish point robust against outliers.
func (c *MiniCluster) RecomputeCenter() {
	if len(c.Objects) == 0 {
		return
	}
	var cx, cy float64
	planes := make([]domain.PlanePoint, len(c.Objects))
	for i, o := range c.Objects {
		planes[i] = o.Job.Location.ToPlane()
		cx += planes[i].X
		cy += planes[i].Y
	}
	centroid := domain.PlanePoint{X: cx / float64(len(planes)), Y: cy / float64(len(planes))}

	best := 0
	bestDist := planes[0].SquaredDistanceTo(centroid)
	for i := 1; i < len(planes); i++ {
		if d := planes[i].SquaredDistanceTo(centroid); d < bestDist {
			best = i
			bestDist = d
		}
	}
	c.Center = c.Objects[best].Job.Location
}

// reindex renumbers clusters after a splitter changed the list.
func reindex(clusters []*MiniCluster) {
	for i, c := range clusters {
		c.Index = i
	}
}
