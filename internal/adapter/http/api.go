package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/citizenlink/heatmap-service/internal/cluster"
	"github.com/citizenlink/heatmap-service/internal/control"
	"github.com/citizenlink/heatmap-service/internal/domain"
	"github.com/citizenlink/heatmap-service/internal/heatmap"
)

const maxBodyBytes = 64 << 10

// Surface is the control surface as driven by HTTP requests.
type Surface interface {
	ApplyFilters(ctx context.Context, filters domain.Filters) error
	ResetFilters(ctx context.Context) error
	Refresh(ctx context.Context) error
	SetClusteringEnabled(ctx context.Context, enabled bool) error
	SetClusteringParameters(params cluster.Params) error
	SuggestParameters(ctx context.Context) (cluster.Params, error)
	SetZoomThreshold(ctx context.Context, threshold int) error
	SetIntensity(ctx context.Context, intensity float64) error
	OnZoom(ctx context.Context, zoom int) error
	State() control.State
}

// FrameSource returns the frame currently on display.
type FrameSource interface {
	Frame() heatmap.Frame
}

// TaxonomyProvider returns the category tree for filter dropdowns.
type TaxonomyProvider interface {
	Tree(ctx context.Context) ([]domain.Category, error)
}

// API binds UI events, sent as JSON requests, to the control surface.
type API struct {
	surface  Surface
	frames   FrameSource
	taxonomy TaxonomyProvider
	logger   *slog.Logger
}

// NewAPI creates the heatmap API handlers. taxonomy may be nil.
func NewAPI(surface Surface, frames FrameSource, taxonomy TaxonomyProvider, logger *slog.Logger) *API {
	return &API{surface: surface, frames: frames, taxonomy: taxonomy, logger: logger}
}

type snapshot struct {
	State control.State  `json:"state"`
	Frame heatmap.Frame  `json:"frame"`
	Error string         `json:"error,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

type clusteringRequest struct {
	Enabled bool `json:"enabled"`
}

type viewRequest struct {
	Zoom *int `json:"zoom"`
}

type thresholdRequest struct {
	Threshold *int `json:"threshold"`
}

type intensityRequest struct {
	Intensity *float64 `json:"intensity"`
}

type paramsRequest struct {
	Eps    *float64 `json:"eps"`
	MinPts *int     `json:"minPts"`
}

var (
	errMissingField = errors.New("missing required field")
	errBadRequest   = errors.New("bad request body")
)

func (a *API) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/heatmap", a.handleGet)
	mux.HandleFunc("POST /api/heatmap/filters", a.handleFilters)
	mux.HandleFunc("POST /api/heatmap/filters/reset", a.handleReset)
	mux.HandleFunc("POST /api/heatmap/refresh", a.handleRefresh)
	mux.HandleFunc("POST /api/heatmap/clustering", a.handleClustering)
	mux.HandleFunc("POST /api/heatmap/params", a.handleParams)
	mux.HandleFunc("POST /api/heatmap/params/suggest", a.handleSuggest)
	mux.HandleFunc("POST /api/heatmap/view", a.handleView)
	mux.HandleFunc("POST /api/heatmap/zoom-threshold", a.handleZoomThreshold)
	mux.HandleFunc("POST /api/heatmap/intensity", a.handleIntensity)
	mux.HandleFunc("GET /api/taxonomy", a.handleTaxonomy)
}

func (a *API) handleGet(w http.ResponseWriter, _ *http.Request) {
	a.respond(w, http.StatusOK, nil, nil)
}

func (a *API) handleFilters(w http.ResponseWriter, r *http.Request) {
	filters := domain.DefaultFilters()
	if err := decodeBody(w, r, &filters); err != nil {
		a.respond(w, 0, err, nil)
		return
	}
	a.respond(w, http.StatusOK, a.surface.ApplyFilters(r.Context(), filters), nil)
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	a.respond(w, http.StatusOK, a.surface.ResetFilters(r.Context()), nil)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	a.respond(w, http.StatusOK, a.surface.Refresh(r.Context()), nil)
}

func (a *API) handleClustering(w http.ResponseWriter, r *http.Request) {
	var req clusteringRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.respond(w, 0, err, nil)
		return
	}
	a.respond(w, http.StatusOK, a.surface.SetClusteringEnabled(r.Context(), req.Enabled), nil)
}

// handleParams answers 202: the change is applied after the debounce interval.
func (a *API) handleParams(w http.ResponseWriter, r *http.Request) {
	var req paramsRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.respond(w, 0, err, nil)
		return
	}
	if req.Eps == nil || req.MinPts == nil {
		a.respond(w, 0, fmt.Errorf("%w: eps and minPts", errMissingField), nil)
		return
	}
	err := a.surface.SetClusteringParameters(cluster.Params{Eps: *req.Eps, MinPts: *req.MinPts})
	a.respond(w, http.StatusAccepted, err, nil)
}

func (a *API) handleSuggest(w http.ResponseWriter, r *http.Request) {
	params, err := a.surface.SuggestParameters(r.Context())
	a.respond(w, http.StatusOK, err, map[string]any{"suggested": params})
}

func (a *API) handleView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.respond(w, 0, err, nil)
		return
	}
	if req.Zoom == nil {
		a.respond(w, 0, fmt.Errorf("%w: zoom", errMissingField), nil)
		return
	}
	a.respond(w, http.StatusOK, a.surface.OnZoom(r.Context(), *req.Zoom), nil)
}

func (a *API) handleZoomThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.respond(w, 0, err, nil)
		return
	}
	if req.Threshold == nil {
		a.respond(w, 0, fmt.Errorf("%w: threshold", errMissingField), nil)
		return
	}
	a.respond(w, http.StatusOK, a.surface.SetZoomThreshold(r.Context(), *req.Threshold), nil)
}

func (a *API) handleIntensity(w http.ResponseWriter, r *http.Request) {
	var req intensityRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.respond(w, 0, err, nil)
		return
	}
	if req.Intensity == nil {
		a.respond(w, 0, fmt.Errorf("%w: intensity", errMissingField), nil)
		return
	}
	a.respond(w, http.StatusOK, a.surface.SetIntensity(r.Context(), *req.Intensity), nil)
}

func (a *API) handleTaxonomy(w http.ResponseWriter, r *http.Request) {
	if a.taxonomy == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "taxonomy feed not configured"})
		return
	}
	cats, err := a.taxonomy.Tree(r.Context())
	if err != nil {
		a.logger.Error("taxonomy fetch failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to load categories"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

// respond writes the current snapshot with ok on success or the status mapped
// from err.
func (a *API) respond(w http.ResponseWriter, ok int, err error, extra map[string]any) {
	body := snapshot{
		State: a.surface.State(),
		Frame: a.frames.Frame(),
		Extra: extra,
	}
	status := ok
	if err != nil {
		status = statusFor(err)
		body.Error = err.Error()
		if status >= http.StatusInternalServerError {
			a.logger.Error("heatmap request failed", "error", err, "status", status)
		}
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	var fetchErr *heatmap.DataFetchError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.Is(err, heatmap.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrInvalidFilter),
		errors.Is(err, cluster.ErrInvalidParameter),
		errors.Is(err, heatmap.ErrInvalidView),
		errors.Is(err, errMissingField),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}
