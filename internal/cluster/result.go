package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/citizenlink/heatmap-service/internal/domain"
)

// PaletteSize is the number of distinct cluster colours the map cycles through.
const PaletteSize = 10

// minAreaKm2 floors the cluster area so a cluster of coincident points has a
// finite density.
const minAreaKm2 = 0.01

// Cluster is one density-connected group of complaints, or a singleton noise
// point when IsNoise is set.
type Cluster struct {
	ID               int            `json:"id"` // Noise for noise singletons
	Members          []int          `json:"members"`
	Centroid         domain.LatLng  `json:"centroid"`
	RadiusKm         float64        `json:"radius_km"`
	DensityPerKm2    float64        `json:"density_per_km2"`
	DominantCategory string         `json:"dominant_category,omitempty"`
	StatusCounts     map[string]int `json:"status_counts,omitempty"`
	ColorIndex       int            `json:"color_index"`
	IsNoise          bool           `json:"is_noise"`
}

// Size returns the number of members.
func (c Cluster) Size() int { return len(c.Members) }

// Result is the output of one clustering pass. Points holds the clustered
// points, borrowed from the caller when none were excluded, and must be
// treated as read-only. Labels, Members and Noise index into Points.
type Result struct {
	Params   Params                  `json:"params"`
	Points   []domain.ComplaintPoint `json:"-"`
	Labels   []int                   `json:"labels"`
	Clusters []Cluster               `json:"clusters"`
	Noise    []int                   `json:"noise"`
	Excluded int                     `json:"excluded"` // invalid coordinates, not clustered
}

// Stats summarises a clustering pass for display.
type Stats struct {
	TotalPoints     int     `json:"total_points"`
	Clusters        int     `json:"clusters"`
	NoisePoints     int     `json:"noise_points"`
	LargestCluster  int     `json:"largest_cluster"`
	MeanClusterSize float64 `json:"mean_cluster_size"`
	Excluded        int     `json:"excluded,omitempty"`
}

// Stats returns the counts for this result.
func (r Result) Stats() Stats {
	s := Stats{
		TotalPoints: len(r.Points),
		Clusters:    len(r.Clusters),
		NoisePoints: len(r.Noise),
		Excluded:    r.Excluded,
	}
	if len(r.Clusters) == 0 {
		return s
	}
	sizes := make([]float64, len(r.Clusters))
	for i, c := range r.Clusters {
		sizes[i] = float64(c.Size())
	}
	s.LargestCluster = int(floats.Max(sizes))
	s.MeanClusterSize = stat.Mean(sizes, nil)
	return s
}

// NoiseClusters returns each noise point as its own singleton cluster.
func (r Result) NoiseClusters() []Cluster {
	out := make([]Cluster, 0, len(r.Noise))
	for _, idx := range r.Noise {
		c := summarize(r.Points, []int{idx})
		c.ID = Noise
		c.IsNoise = true
		out = append(out, c)
	}
	return out
}

// ClusterOf returns the cluster containing point index idx, if any.
func (r Result) ClusterOf(idx int) (Cluster, bool) {
	if idx < 0 || idx >= len(r.Labels) || r.Labels[idx] == Noise {
		return Cluster{}, false
	}
	return r.Clusters[r.Labels[idx]], true
}

// buildResult groups points by label. Members keep input order.
func buildResult(points []domain.ComplaintPoint, labels []int, params Params) Result {
	res := Result{
		Params: params,
		Points: points,
		Labels: labels,
		Noise:  []int{},
	}

	numClusters := 0
	for _, l := range labels {
		if l+1 > numClusters {
			numClusters = l + 1
		}
	}
	members := make([][]int, numClusters)
	for i, l := range labels {
		if l == Noise {
			res.Noise = append(res.Noise, i)
			continue
		}
		members[l] = append(members[l], i)
	}

	res.Clusters = make([]Cluster, numClusters)
	for id := range members {
		c := summarize(points, members[id])
		c.ID = id
		c.ColorIndex = id % PaletteSize
		res.Clusters[id] = c
	}
	return res
}

func summarize(points []domain.ComplaintPoint, members []int) Cluster {
	lats := make([]float64, len(members))
	lngs := make([]float64, len(members))
	for i, idx := range members {
		lats[i] = points[idx].Lat
		lngs[i] = points[idx].Lng
	}
	centroid := domain.LatLng{Lat: stat.Mean(lats, nil), Lng: stat.Mean(lngs, nil)}

	dists := make([]float64, len(members))
	for i, idx := range members {
		dists[i] = domain.Haversine(centroid, points[idx].Position())
	}
	radius := floats.Max(dists)
	area := math.Max(math.Pi*radius*radius, minAreaKm2)

	return Cluster{
		Members:          members,
		Centroid:         centroid,
		RadiusKm:         radius,
		DensityPerKm2:    float64(len(members)) / area,
		DominantCategory: dominantCategory(points, members),
		StatusCounts:     statusCounts(points, members),
	}
}

// dominantCategory picks the most frequent non-empty category; ties go to the
// lexically smallest so the choice is stable.
func dominantCategory(points []domain.ComplaintPoint, members []int) string {
	counts := make(map[string]int)
	for _, idx := range members {
		if c := points[idx].Category; c != "" {
			counts[c]++
		}
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	best, bestCount := "", 0
	for _, name := range names {
		if counts[name] > bestCount {
			best, bestCount = name, counts[name]
		}
	}
	return best
}

func statusCounts(points []domain.ComplaintPoint, members []int) map[string]int {
	counts := make(map[string]int)
	for _, idx := range members {
		status := domain.NormalizeStatus(points[idx].Status)
		if status == "" {
			status = "unknown"
		}
		counts[status]++
	}
	return counts
}
