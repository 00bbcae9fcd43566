package heatmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/citizenlink/heatmap-service/internal/cluster"
	"github.com/citizenlink/heatmap-service/internal/domain"
	"github.com/citizenlink/heatmap-service/internal/observability"
)

// PointSource fetches the complaint points matching a query.
type PointSource interface {
	FetchPoints(ctx context.Context, q domain.Query) ([]domain.ComplaintPoint, error)
}

// Renderer draws frames. A nil Renderer discards them.
type Renderer interface {
	Render(ctx context.Context, f Frame) error
}

// Options are the initial view settings.
type Options struct {
	Params            cluster.Params
	ZoomThreshold     int
	InitialZoom       int
	Intensity         float64
	ClusteringEnabled bool
	Clock             clockwork.Clock
}

// DefaultOptions returns the settings a fresh map starts with.
func DefaultOptions() Options {
	return Options{
		Params:        cluster.DefaultParams(),
		ZoomThreshold: 14,
		InitialZoom:   12,
		Intensity:     1.0,
	}
}

// Manager owns the loaded point set, the clustering result derived from it,
// and the view state, and turns them into Frames for the Renderer.
//
// Loads may overlap: each is tagged with a sequence number and only the most
// recently started one may replace the point set.
type Manager struct {
	source   PointSource
	renderer Renderer
	engine   *cluster.Engine
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool

	mu          sync.Mutex
	initialized bool
	viewID      uuid.UUID
	loadSeq     uint64 // last load started
	doneSeq     uint64 // last load that settled the view
	frameSeq    uint64
	filters     domain.Filters
	points      []domain.ComplaintPoint
	result      cluster.Result
	view        ViewState
	lastErr     error
	frame       Frame
}

// NewManager creates a Manager. Call Initialize before use.
func NewManager(source PointSource, renderer Renderer, opts Options, logger *slog.Logger, metrics *observability.Metrics) (*Manager, error) {
	engine, err := cluster.NewEngine(opts.Params, logger)
	if err != nil {
		return nil, err
	}
	view := ViewState{
		Zoom:              opts.InitialZoom,
		ZoomThreshold:     opts.ZoomThreshold,
		Intensity:         opts.Intensity,
		ClusteringEnabled: opts.ClusteringEnabled,
	}
	if err := validateView(view); err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		source:   source,
		renderer: renderer,
		engine:   engine,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		filters:  domain.DefaultFilters(),
		view:     view,
	}, nil
}

// Initialize starts a new view session with an empty point set.
func (m *Manager) Initialize() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.initialized = true
	m.viewID = uuid.New()
	m.result, _ = m.engine.Cluster(nil)
	m.frame = m.buildFrameLocked()
	m.logger.Info("heatmap view initialized", "view_id", m.viewID)
}

// Destroy ends the view session and drops the loaded data. Loads still in
// flight are discarded when they complete.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.initialized = false
	m.loadSeq++
	m.doneSeq = m.loadSeq
	m.points = nil
	m.result = cluster.Result{}
	m.frame = Frame{}
	m.lastErr = nil
	m.ready.Store(false)
	m.metrics.PointsLoaded.Set(0)
	m.logger.Info("heatmap view destroyed", "view_id", m.viewID)
}

// CheckReadiness returns nil once a load has succeeded.
func (m *Manager) CheckReadiness(_ context.Context) error {
	if !m.ready.Load() {
		return errors.New("no complaint points loaded yet")
	}
	return nil
}

// LoadData replaces the point set with the points matching filters,
// re-clusters, and renders. If a newer load starts before this one's fetch
// returns, the result is discarded and ErrStaleResponse returned. A failed
// fetch leaves the current view in place and returns a *DataFetchError.
func (m *Manager) LoadData(ctx context.Context, filters domain.Filters) error {
	q, err := filters.Resolve()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	m.loadSeq++
	seq := m.loadSeq
	m.mu.Unlock()

	start := m.clock.Now()
	points, fetchErr := m.source.FetchPoints(ctx, q)
	m.metrics.FetchDuration.Observe(m.clock.Since(start).Seconds())

	m.mu.Lock()
	if seq != m.loadSeq {
		m.mu.Unlock()
		m.metrics.FetchRequests.WithLabelValues("stale").Inc()
		m.logger.Debug("discarding stale complaint fetch", "seq", seq, "latest", m.latestSeq())
		return ErrStaleResponse
	}
	m.doneSeq = seq

	if fetchErr != nil {
		m.lastErr = &DataFetchError{Filters: filters, Err: fetchErr}
		err := m.lastErr
		m.mu.Unlock()
		m.metrics.FetchRequests.WithLabelValues("error").Inc()
		m.logger.Error("complaint fetch failed, keeping previous view", "error", fetchErr, "seq", seq)
		return err
	}

	valid, skipped := domain.ValidPoints(points, m.logger)
	m.metrics.MalformedPoints.Add(float64(skipped))
	valid, unmatched := q.Apply(valid)
	if unmatched > 0 {
		m.logger.Warn("feed returned points outside the requested filters", "dropped", unmatched, "seq", seq)
	}
	m.metrics.FetchRequests.WithLabelValues("success").Inc()
	m.metrics.PointsLoaded.Set(float64(len(valid)))

	m.filters = filters
	m.points = valid
	m.lastErr = nil
	if err := m.reclusterLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	frame := m.commitFrameLocked()
	m.mu.Unlock()

	m.ready.Store(true)
	m.logger.Info("complaint points loaded",
		"points", len(valid),
		"skipped", skipped,
		"clusters", frame.Stats.Clusters,
		"noise", frame.Stats.NoisePoints,
	)
	m.render(ctx, frame)
	return nil
}

// Refresh reloads the points with the current filters.
func (m *Manager) Refresh(ctx context.Context) error {
	return m.LoadData(ctx, m.Filters())
}

// SetClusteringEnabled switches markers between raw points and cluster
// summaries, re-running the clustering pass when enabling.
func (m *Manager) SetClusteringEnabled(ctx context.Context, enabled bool) error {
	return m.update(ctx, func() error {
		m.view.ClusteringEnabled = enabled
		if enabled {
			return m.reclusterLocked()
		}
		return nil
	})
}

// UpdateClusteringParameters re-clusters the current points with params.
// Invalid params are rejected with cluster.ErrInvalidParameter and the view
// is left unchanged.
func (m *Manager) UpdateClusteringParameters(ctx context.Context, params cluster.Params) error {
	return m.update(ctx, func() error {
		if err := m.engine.SetParams(params); err != nil {
			return err
		}
		return m.reclusterLocked()
	})
}

// SetZoom records a zoom change reported by the rendering surface.
func (m *Manager) SetZoom(ctx context.Context, zoom int) error {
	return m.setView(ctx, func(v *ViewState) { v.Zoom = zoom })
}

// SetZoomThreshold sets the zoom at and above which markers are drawn.
func (m *Manager) SetZoomThreshold(ctx context.Context, threshold int) error {
	return m.setView(ctx, func(v *ViewState) { v.ZoomThreshold = threshold })
}

// SetIntensity sets the heat weight multiplier.
func (m *Manager) SetIntensity(ctx context.Context, intensity float64) error {
	return m.setView(ctx, func(v *ViewState) { v.Intensity = intensity })
}

// SuggestParameters estimates clustering parameters from the loaded points.
// It does not apply them.
func (m *Manager) SuggestParameters() cluster.Params {
	m.mu.Lock()
	positions := domain.Positions(m.points)
	m.mu.Unlock()
	return cluster.SuggestParams(positions)
}

// Frame returns the most recently built frame.
func (m *Manager) Frame() Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame
}

// Stats returns the counts from the last clustering pass.
func (m *Manager) Stats() cluster.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result.Stats()
}

// Result returns the last clustering result.
func (m *Manager) Result() cluster.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

// View returns the current view state.
func (m *Manager) View() ViewState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// Filters returns the filters of the displayed point set.
func (m *Manager) Filters() domain.Filters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filters
}

// Params returns the current clustering parameters.
func (m *Manager) Params() cluster.Params {
	return m.engine.Params()
}

// Err returns the error from the last settled load, or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Bounds returns the bounding box of the loaded points so the map can fit them.
func (m *Manager) Bounds() (domain.Bounds, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.BoundsOf(m.points)
}

// Loading reports whether the most recent load is still in flight.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doneSeq < m.loadSeq
}

func (m *Manager) latestSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadSeq
}

// update applies fn under the lock, rebuilds the frame, and renders it.
func (m *Manager) update(ctx context.Context, fn func() error) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	if err := fn(); err != nil {
		m.mu.Unlock()
		return err
	}
	frame := m.commitFrameLocked()
	m.mu.Unlock()

	m.render(ctx, frame)
	return nil
}

func (m *Manager) setView(ctx context.Context, mutate func(*ViewState)) error {
	return m.update(ctx, func() error {
		v := m.view
		mutate(&v)
		if err := validateView(v); err != nil {
			return err
		}
		m.view = v
		return nil
	})
}

func (m *Manager) reclusterLocked() error {
	start := m.clock.Now()
	res, err := m.engine.Cluster(m.points)
	if err != nil {
		return fmt.Errorf("cluster complaint points: %w", err)
	}
	m.metrics.ClusteringPasses.Inc()
	m.metrics.ClusteringDuration.Observe(m.clock.Since(start).Seconds())

	m.result = res
	stats := res.Stats()
	m.metrics.ClusterCount.Set(float64(stats.Clusters))
	m.metrics.NoiseCount.Set(float64(stats.NoisePoints))
	return nil
}

func (m *Manager) commitFrameLocked() Frame {
	m.frame = m.buildFrameLocked()
	return m.frame
}

func (m *Manager) buildFrameLocked() Frame {
	m.frameSeq++
	f := Frame{
		ID:                uuid.New(),
		ViewID:            m.viewID,
		Sequence:          m.frameSeq,
		Zoom:              m.view.Zoom,
		ZoomThreshold:     m.view.ZoomThreshold,
		ClusteringEnabled: m.view.ClusteringEnabled,
		Params:            m.engine.Params(),
		Heat:              buildHeatLayer(m.points, m.view),
		ShowMarkers:       m.view.MarkersVisible(),
		Stats:             m.result.Stats(),
		RenderedAt:        m.clock.Now().UTC(),
	}
	if f.ShowMarkers {
		f.Markers = buildMarkers(m.result, m.view.ClusteringEnabled)
	}
	if b, ok := domain.BoundsOf(m.points); ok {
		f.Bounds = &b
	}
	return f
}

func (m *Manager) render(ctx context.Context, f Frame) {
	if m.renderer == nil {
		return
	}
	if err := m.renderer.Render(ctx, f); err != nil {
		m.metrics.RenderPublishes.WithLabelValues("error").Inc()
		m.logger.Warn("render frame failed", "error", err, "frame_id", f.ID, "sequence", f.Sequence)
		return
	}
	m.metrics.RenderPublishes.WithLabelValues("success").Inc()
}

func validateView(v ViewState) error {
	if v.Zoom < MinZoom || v.Zoom > MaxZoom {
		return fmt.Errorf("%w: zoom %d outside [%d, %d]", ErrInvalidView, v.Zoom, MinZoom, MaxZoom)
	}
	if v.ZoomThreshold < MinZoom || v.ZoomThreshold > MaxZoom {
		return fmt.Errorf("%w: zoom threshold %d outside [%d, %d]", ErrInvalidView, v.ZoomThreshold, MinZoom, MaxZoom)
	}
	if !(v.Intensity >= MinIntensity && v.Intensity <= MaxIntensity) {
		return fmt.Errorf("%w: intensity %v outside [%v, %v]", ErrInvalidView, v.Intensity, MinIntensity, MaxIntensity)
	}
	return nil
}
