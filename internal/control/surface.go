// Package control mediates between user input and the heatmap view. It holds
// the selected filters and parameters, validates them, debounces slider
// input, and tracks a small idle/loading/error status for display.
package control

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/citizenlink/heatmap-service/internal/cluster"
	"github.com/citizenlink/heatmap-service/internal/domain"
	"github.com/citizenlink/heatmap-service/internal/heatmap"
)

// Controller is the view manager as seen by the control surface.
type Controller interface {
	LoadData(ctx context.Context, filters domain.Filters) error
	SetClusteringEnabled(ctx context.Context, enabled bool) error
	UpdateClusteringParameters(ctx context.Context, params cluster.Params) error
	SetZoom(ctx context.Context, zoom int) error
	SetZoomThreshold(ctx context.Context, threshold int) error
	SetIntensity(ctx context.Context, intensity float64) error
	SuggestParameters() cluster.Params
	Params() cluster.Params
	Stats() cluster.Stats
	View() heatmap.ViewState
}

// Status is the data-fetch cycle state shown to the user.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusError   Status = "error"
)

// Options tune the surface's timers.
type Options struct {
	Debounce     time.Duration
	ErrorTimeout time.Duration
	Clock        clockwork.Clock
}

// DefaultOptions returns a 250ms slider debounce and a 5s error banner.
func DefaultOptions() Options {
	return Options{Debounce: 250 * time.Millisecond, ErrorTimeout: 5 * time.Second}
}

// State is a snapshot for the UI.
type State struct {
	Status        Status            `json:"status"`
	Error         string            `json:"error,omitempty"`
	Filters       domain.Filters    `json:"filters"`
	Params        cluster.Params    `json:"params"`
	PendingParams bool              `json:"pending_params"`
	View          heatmap.ViewState `json:"view"`
	Stats         cluster.Stats     `json:"stats"`
}

// Surface translates user input into view manager calls.
//
// Status is derived from two independent cycles: the data load (ApplyFilters,
// Refresh, ResetFilters) and view or parameter changes. A view change made
// while a fetch is in flight never settles the fetch's status, and a failure
// of the latest fetch always raises the error banner.
type Surface struct {
	ctrl   Controller
	clock  clockwork.Clock
	logger *slog.Logger
	opts   Options

	// baseCtx outlives individual requests; debounced updates run under it.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	loadSeq     uint64
	loadDone    uint64
	opsInFlight int
	errMsg      string
	errFromLoad bool
	errGen      uint64
	filters     domain.Filters
	pending     *cluster.Params
	paramTimer  clockwork.Timer
	errorTimer  clockwork.Timer
}

// NewSurface creates a Surface driving ctrl.
func NewSurface(ctrl Controller, opts Options, logger *slog.Logger) *Surface {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Surface{
		ctrl:    ctrl,
		clock:   opts.Clock,
		logger:  logger,
		opts:    opts,
		baseCtx: ctx,
		cancel:  cancel,
		filters: domain.DefaultFilters(),
	}
}

// Close stops pending timers. Debounced changes not yet applied are dropped.
func (s *Surface) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	stopTimer(s.paramTimer)
	stopTimer(s.errorTimer)
	s.pending = nil
}

// ApplyFilters validates filters and loads the matching points.
func (s *Surface) ApplyFilters(ctx context.Context, filters domain.Filters) error {
	if err := filters.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.filters = filters
	seq := s.beginLoadLocked()
	s.mu.Unlock()

	return s.finishLoad(seq, s.ctrl.LoadData(ctx, filters))
}

// ResetFilters restores the default filters, turns clustering off, and reloads.
func (s *Surface) ResetFilters(ctx context.Context) error {
	if err := s.ctrl.SetClusteringEnabled(ctx, false); err != nil && !errors.Is(err, heatmap.ErrNotInitialized) {
		return err
	}
	return s.ApplyFilters(ctx, domain.DefaultFilters())
}

// Refresh reloads the points for the selected filters.
func (s *Surface) Refresh(ctx context.Context) error {
	s.mu.Lock()
	filters := s.filters
	seq := s.beginLoadLocked()
	s.mu.Unlock()

	return s.finishLoad(seq, s.ctrl.LoadData(ctx, filters))
}

// Loading reports whether the latest load has not settled yet.
func (s *Surface) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadDone < s.loadSeq
}

// SetClusteringEnabled toggles cluster markers.
func (s *Surface) SetClusteringEnabled(ctx context.Context, enabled bool) error {
	s.beginOp()
	return s.finishOp(s.ctrl.SetClusteringEnabled(ctx, enabled))
}

// SetClusteringParameters records a slider change. Invalid values are
// rejected immediately; valid ones are applied once input has been quiet for
// the debounce interval, so only the settled value re-clusters.
func (s *Surface) SetClusteringParameters(params cluster.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &params
	stopTimer(s.paramTimer)
	s.paramTimer = s.clock.AfterFunc(s.opts.Debounce, func() {
		if err := s.FlushParameters(s.baseCtx); err != nil {
			s.logger.Warn("debounced parameter update failed", "error", err)
		}
	})
	return nil
}

// FlushParameters applies a pending parameter change now.
func (s *Surface) FlushParameters(ctx context.Context) error {
	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		return nil
	}
	params := *s.pending
	s.pending = nil
	stopTimer(s.paramTimer)
	s.beginOpLocked()
	s.mu.Unlock()

	s.logger.Debug("applying clustering parameters", "eps_km", params.Eps, "min_pts", params.MinPts)
	return s.finishOp(s.ctrl.UpdateClusteringParameters(ctx, params))
}

// SuggestParameters derives parameters from the loaded points and applies
// them, discarding any pending slider change.
func (s *Surface) SuggestParameters(ctx context.Context) (cluster.Params, error) {
	params := s.ctrl.SuggestParameters()

	s.mu.Lock()
	s.pending = nil
	stopTimer(s.paramTimer)
	s.beginOpLocked()
	s.mu.Unlock()

	if err := s.finishOp(s.ctrl.UpdateClusteringParameters(ctx, params)); err != nil {
		return cluster.Params{}, err
	}
	s.logger.Info("applied suggested clustering parameters", "eps_km", params.Eps, "min_pts", params.MinPts)
	return params, nil
}

// SetZoomThreshold sets the zoom at which markers appear.
func (s *Surface) SetZoomThreshold(ctx context.Context, threshold int) error {
	s.beginOp()
	return s.finishOp(s.ctrl.SetZoomThreshold(ctx, threshold))
}

// SetIntensity sets the heat intensity multiplier.
func (s *Surface) SetIntensity(ctx context.Context, intensity float64) error {
	s.beginOp()
	return s.finishOp(s.ctrl.SetIntensity(ctx, intensity))
}

// OnZoom forwards a zoom-change event from the map. It does not affect status.
func (s *Surface) OnZoom(ctx context.Context, zoom int) error {
	return s.ctrl.SetZoom(ctx, zoom)
}

// State returns a snapshot for display. Params shows a pending slider value
// if there is one.
func (s *Surface) State() State {
	s.mu.Lock()
	st := State{
		Status:        s.statusLocked(),
		Error:         s.errMsg,
		Filters:       s.filters,
		PendingParams: s.pending != nil,
	}
	if s.pending != nil {
		st.Params = *s.pending
	}
	s.mu.Unlock()

	if !st.PendingParams {
		st.Params = s.ctrl.Params()
	}
	st.View = s.ctrl.View()
	st.Stats = s.ctrl.Stats()
	return st
}

func (s *Surface) statusLocked() Status {
	switch {
	case s.errMsg != "":
		return StatusError
	case s.loadDone < s.loadSeq, s.opsInFlight > 0, s.pending != nil:
		return StatusLoading
	default:
		return StatusIdle
	}
}

// beginLoadLocked starts a load cycle. Any banner is cleared: the user is
// retrying.
func (s *Surface) beginLoadLocked() uint64 {
	s.loadSeq++
	s.clearErrorLocked()
	return s.loadSeq
}

// finishLoad settles load seq unless a newer load has started since. A
// stale response settles without error.
func (s *Surface) finishLoad(seq uint64, err error) error {
	if errors.Is(err, heatmap.ErrStaleResponse) {
		err = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.loadSeq {
		return err
	}
	s.loadDone = seq
	if err != nil {
		s.setErrorLocked(userMessage(err), true)
	}
	return err
}

func (s *Surface) beginOp() {
	s.mu.Lock()
	s.beginOpLocked()
	s.mu.Unlock()
}

// beginOpLocked starts a view or parameter change. A fetch failure banner
// stays up; it belongs to the load cycle.
func (s *Surface) beginOpLocked() {
	s.opsInFlight++
	if !s.errFromLoad {
		s.clearErrorLocked()
	}
}

func (s *Surface) finishOp(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opsInFlight--
	if err != nil && !s.errFromLoad {
		s.setErrorLocked(userMessage(err), false)
	}
	return err
}

func (s *Surface) setErrorLocked(msg string, fromLoad bool) {
	stopTimer(s.errorTimer)
	s.errGen++
	gen := s.errGen
	s.errMsg = msg
	s.errFromLoad = fromLoad
	s.errorTimer = s.clock.AfterFunc(s.opts.ErrorTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.errGen == gen {
			s.errMsg = ""
			s.errFromLoad = false
		}
	})
}

func (s *Surface) clearErrorLocked() {
	stopTimer(s.errorTimer)
	s.errGen++
	s.errMsg = ""
	s.errFromLoad = false
}

func userMessage(err error) string {
	var fetchErr *heatmap.DataFetchError
	switch {
	case errors.As(err, &fetchErr):
		return "Failed to load complaint data. Showing the last loaded map."
	case errors.Is(err, cluster.ErrInvalidParameter), errors.Is(err, heatmap.ErrInvalidView):
		return err.Error()
	case errors.Is(err, heatmap.ErrNotInitialized):
		return "Map is not ready yet."
	default:
		return "Something went wrong updating the map."
	}
}

func stopTimer(t clockwork.Timer) {
	if t != nil {
		t.Stop()
	}
}
