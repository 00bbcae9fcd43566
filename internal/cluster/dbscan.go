package cluster

import (
	"github.com/citizenlink/heatmap-service/internal/domain"
)

// Noise is the label assigned to points that belong to no cluster.
const Noise = -1

// internal label states; cluster ids are stored 1-based while running.
const (
	unvisited = 0
	noise     = -1
)

// DistanceFunc returns the distance in kilometres between two coordinates.
type DistanceFunc func(a, b domain.LatLng) float64

// Labels runs DBSCAN over points and returns one label per input point: a
// 0-based cluster id, or Noise.
//
// Neighbourhoods include the point itself and are found with a linear scan.
// Cluster expansion uses an explicit FIFO queue in which every point is
// enqueued at most once per cluster, so memory stays O(n) however dense the
// input. Points are visited in input order, so identical input yields
// identical labels. A point, once assigned to a cluster, is never reassigned;
// border points go to the first cluster that reaches them.
func Labels(points []domain.LatLng, params Params, dist DistanceFunc) ([]int, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if dist == nil {
		dist = domain.Haversine
	}

	n := len(points)
	labels := make([]int, n)
	// queuedFor[i] holds the cluster id whose queue i was last added to.
	queuedFor := make([]int, n)
	clusterID := 0

	regionQuery := func(idx int) []int {
		var neighbors []int
		for j := range points {
			if dist(points[idx], points[j]) <= params.Eps {
				neighbors = append(neighbors, j)
			}
		}
		return neighbors
	}

	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}

		neighbors := regionQuery(i)
		if len(neighbors) < params.MinPts {
			labels[i] = noise
			continue
		}

		clusterID++
		labels[i] = clusterID
		queuedFor[i] = clusterID

		queue := make([]int, 0, len(neighbors))
		enqueue := func(j int) {
			if labels[j] > 0 || queuedFor[j] == clusterID {
				return
			}
			queuedFor[j] = clusterID
			queue = append(queue, j)
		}
		for _, j := range neighbors {
			enqueue(j)
		}

		for head := 0; head < len(queue); head++ {
			j := queue[head]
			if labels[j] == noise {
				// Already known not to be core: becomes a border point.
				labels[j] = clusterID
				continue
			}

			labels[j] = clusterID
			jNeighbors := regionQuery(j)
			if len(jNeighbors) >= params.MinPts {
				for _, k := range jNeighbors {
					enqueue(k)
				}
			}
		}
	}

	for i, l := range labels {
		if l > 0 {
			labels[i] = l - 1
		} else {
			labels[i] = Noise
		}
	}
	return labels, nil
}
