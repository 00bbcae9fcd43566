package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/citizenlink/heatmap-service/internal/domain"
)

const (
	suggestK          = 4
	suggestQuantile   = 0.75
	minSuggestedEps   = 0.001
	minSuggestedPts   = 3
	maxSuggestedPts   = 10
	pointsPerMinPoint = 10
)

// SuggestParams estimates DBSCAN parameters from the live point set using the
// k-distance heuristic: eps is the upper quartile of every point's distance
// to its k-th nearest neighbour, and minPts scales with the number of points.
// Fewer than two points yield DefaultParams. The result always validates.
func SuggestParams(points []domain.LatLng) Params {
	n := len(points)
	if n < 2 {
		return DefaultParams()
	}

	k := min(suggestK, n-1)
	kDist := make([]float64, n)
	row := make([]float64, 0, n-1)
	for i := range points {
		row = row[:0]
		for j := range points {
			if i != j {
				row = append(row, domain.Haversine(points[i], points[j]))
			}
		}
		sort.Float64s(row)
		kDist[i] = row[k-1]
	}
	sort.Float64s(kDist)

	eps := stat.Quantile(suggestQuantile, stat.Empirical, kDist, nil)
	eps = math.Round(eps*1000) / 1000
	if eps < minSuggestedEps || math.IsNaN(eps) {
		eps = minSuggestedEps
	}

	minPts := n / pointsPerMinPoint
	minPts = max(minSuggestedPts, min(maxSuggestedPts, minPts))
	minPts = min(minPts, n)

	return Params{Eps: eps, MinPts: minPts}
}
