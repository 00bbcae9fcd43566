package cluster

import (
	"log/slog"
	"sync"

	"github.com/citizenlink/heatmap-service/internal/domain"
)

// Engine runs DBSCAN over complaint points with adjustable parameters.
type Engine struct {
	mu       sync.RWMutex
	params   Params
	distance DistanceFunc
	logger   *slog.Logger
}

// NewEngine creates an Engine using haversine distance.
func NewEngine(params Params, logger *slog.Logger) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{params: params, distance: domain.Haversine, logger: logger}, nil
}

// Params returns the current clustering parameters.
func (e *Engine) Params() Params {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params
}

// SetParams replaces the clustering parameters. Invalid parameters are
// rejected and the previous ones kept.
func (e *Engine) SetParams(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.params = params
	e.mu.Unlock()
	return nil
}

// Cluster partitions points into clusters and noise. Points with an invalid
// coordinate are logged and left out entirely: Result.Points holds only the
// clustered points and Result.Excluded counts the rest. Empty input yields an
// empty result.
func (e *Engine) Cluster(points []domain.ComplaintPoint) (Result, error) {
	params := e.Params()

	valid := points
	excluded := 0
	for i, p := range points {
		if p.Position().Valid() {
			if excluded > 0 {
				valid = append(valid, p)
			}
			continue
		}
		if excluded == 0 {
			valid = append(make([]domain.ComplaintPoint, 0, len(points)-1), points[:i]...)
		}
		excluded++
		e.logger.Warn("excluding point with invalid coordinates from clustering",
			"id", p.ID, "lat", p.Lat, "lng", p.Lng)
	}

	labels, err := Labels(domain.Positions(valid), params, e.distance)
	if err != nil {
		return Result{}, err
	}

	res := buildResult(valid, labels, params)
	res.Excluded = excluded
	e.logger.Debug("clustering pass complete",
		"points", len(valid),
		"excluded", excluded,
		"clusters", len(res.Clusters),
		"noise", len(res.Noise),
		"eps_km", params.Eps,
		"min_pts", params.MinPts,
	)
	return res, nil
}
