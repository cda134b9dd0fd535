package clustering

import (
	"math"

	"fleet-route-service/internal/domain"
)

// clusterCountFor sizes the k-means stage: k grows sub-linearly with the
// point count so mini-clusters stay small enough for inner matrices.
func clusterCountFor(pointsCount, maxClusters int) int {
	if pointsCount <= 0 {
		return 0
	}
	k := int(math.Floor(float64(pointsCount) / math.Cbrt(2*float64(pointsCount))))
	if k < 1 {
		k = 1
	}
	if k > maxClusters {
		k = maxClusters
	}
	if k > pointsCount {
		k = pointsCount
	}
	return k
}

// kMeans runs Lloyd iterations over projected points and returns the
// cluster index per point. Seeding is deterministic: initial centroids are
// spread evenly across the input order, so identical inputs cluster
// identically run to run.
func kMeans(points []domain.PlanePoint, k, maxIterations int) []int {
	assignment := make([]int, len(points))
	if k <= 1 || len(points) <= k {
		for i := range assignment {
			if i < k {
				assignment[i] = i
			}
		}
		return assignment
	}

	centroids := make([]domain.PlanePoint, k)
	step := float64(len(points)) / float64(k)
	for i := 0; i < k; i++ {
		centroids[i] = points[int(float64(i)*step)]
	}

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, p := range points {
			best := 0
			bestDist := p.SquaredDistanceTo(centroids[0])
			for c := 1; c < k; c++ {
				if d := p.SquaredDistanceTo(centroids[c]); d < bestDist {
					best = c
					bestDist = d
				}
			}
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([]domain.PlanePoint, k)
		counts := make([]int, k)
		for i, p := range points {
			c := assignment[i]
			sums[c].X += p.X
			sums[c].Y += p.Y
			counts[c]++
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// An emptied centroid re-seeds on the point farthest from
				// its current owner, keeping all k clusters populated.
				centroids[c] = farthestPoint(points, centroids, assignment)
				continue
			}
			centroids[c] = domain.PlanePoint{
				X: sums[c].X / float64(counts[c]),
				Y: sums[c].Y / float64(counts[c]),
			}
		}
	}
	return assignment
}

func farthestPoint(points []domain.PlanePoint, centroids []domain.PlanePoint, assignment []int) domain.PlanePoint {
	best := points[0]
	bestDist := -1.0
	for i, p := range points {
		if d := p.SquaredDistanceTo(centroids[assignment[i]]); d > bestDist {
			best = p
			bestDist = d
		}
	}
	return best
}

// buildInitialClusters groups jobs by k-means over their delivery points
// and wires every pickup to the center of its nearest cluster.
func buildInitialClusters(objects []*domain.JobObject, maxClusters int) []*MiniCluster {
	if len(objects) == 0 {
		return nil
	}
	pointsCount := 0
	for _, o := range objects {
		pointsCount += o.Job.PointsCount()
	}
	k := clusterCountFor(pointsCount, maxClusters)
	if k > len(objects) {
		k = len(objects)
	}

	planes := make([]domain.PlanePoint, len(objects))
	for i, o := range objects {
		planes[i] = o.Job.Location.ToPlane()
	}
	assignment := kMeans(planes, k, 50)

	buckets := make([][]*domain.JobObject, k)
	for i, o := range objects {
		c := assignment[i]
		buckets[c] = append(buckets[c], o)
	}

	clusters := make([]*MiniCluster, 0, k)
	for _, members := range buckets {
		if len(members) == 0 {
			continue
		}
		c := &MiniCluster{Objects: members}
		c.RecomputeCenter()
		clusters = append(clusters, c)
	}
	reindex(clusters)
	redirectPickups(clusters)
	return clusters
}

// redirectPickups points every pickup at the center of the surviving
// cluster nearest to it. Called after every splitter pass so pickups never
// reference a dropped or reshaped cluster.
func redirectPickups(clusters []*MiniCluster) {
	if len(clusters) == 0 {
		return
	}
	centers := make([]domain.PlanePoint, len(clusters))
	for i, c := range clusters {
		centers[i] = c.Center.ToPlane()
	}
	for _, c := range clusters {
		for _, o := range c.Objects {
			for _, ptr := range o.PickupPointers {
				p := ptr.Own.ToPlane()
				best := 0
				bestDist := p.SquaredDistanceTo(centers[0])
				for i := 1; i < len(centers); i++ {
					if d := p.SquaredDistanceTo(centers[i]); d < bestDist {
						best = i
						bestDist = d
					}
				}
				center := clusters[best].Center
				ptr.Redirect = &center
			}
		}
	}
}
