package heatmap_test

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citizenlink/heatmap-service/internal/cluster"
	"github.com/citizenlink/heatmap-service/internal/domain"
	"github.com/citizenlink/heatmap-service/internal/heatmap"
	"github.com/citizenlink/heatmap-service/internal/observability"
)

// --- mocks ---

type mockSource struct {
	mu      sync.Mutex
	points  []domain.ComplaintPoint
	err     error
	queries []domain.Query
}

func (m *mockSource) FetchPoints(_ context.Context, q domain.Query) ([]domain.ComplaintPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.err != nil {
		return nil, m.err
	}
	return append([]domain.ComplaintPoint(nil), m.points...), nil
}

func (m *mockSource) set(points []domain.ComplaintPoint, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points, m.err = points, err
}

type recordingRenderer struct {
	mu     sync.Mutex
	frames []heatmap.Frame
	err    error
}

func (r *recordingRenderer) Render(_ context.Context, f heatmap.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return r.err
}

func (r *recordingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

var fixedNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func scenarioPoints() []domain.ComplaintPoint {
	return []domain.ComplaintPoint{
		{ID: "c-1", Lat: 6.7500, Lng: 125.3500, Category: "roads", Status: "pending", Priority: "high"},
		{ID: "c-2", Lat: 6.7501, Lng: 125.3501, Category: "roads", Status: "in_progress", Priority: "low"},
		{ID: "c-3", Lat: 6.7502, Lng: 125.3502, Category: "drainage", Status: "new", Priority: "urgent"},
		{ID: "c-4", Lat: 6.9000, Lng: 125.5000, Category: "noise", Status: "resolved", Priority: "medium"},
	}
}

func newTestManager(t *testing.T, source heatmap.PointSource, renderer heatmap.Renderer) (*heatmap.Manager, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	opts := heatmap.DefaultOptions()
	opts.Params = cluster.Params{Eps: 0.5, MinPts: 2}
	opts.Clock = clockwork.NewFakeClockAt(fixedNow)

	m, err := heatmap.NewManager(source, renderer, opts, slog.Default(), metrics)
	require.NoError(t, err)
	m.Initialize()
	return m, metrics
}

// --- tests ---

func TestHeatStyleForZoom(t *testing.T) {
	cases := []struct {
		zoom         int
		radius, blur float64
	}{
		{0, 40, 25},
		{10, 25, 15},
		{12, 21, 12},
		{14, 17, 9},
		{18, 10, 5},
		{22, 10, 5},
	}
	for _, tc := range cases {
		got := heatmap.HeatStyleForZoom(tc.zoom)
		assert.InDelta(t, tc.radius, got.Radius, 1e-9, "radius at zoom %d", tc.zoom)
		assert.InDelta(t, tc.blur, got.Blur, 1e-9, "blur at zoom %d", tc.zoom)
	}
}

func TestNewManager_RejectsInvalidOptions(t *testing.T) {
	opts := heatmap.DefaultOptions()
	opts.Params.MinPts = 0
	_, err := heatmap.NewManager(&mockSource{}, nil, opts, slog.Default(), observability.NewMetricsForTesting())
	assert.ErrorIs(t, err, cluster.ErrInvalidParameter)

	opts = heatmap.DefaultOptions()
	opts.Intensity = 3
	_, err = heatmap.NewManager(&mockSource{}, nil, opts, slog.Default(), observability.NewMetricsForTesting())
	assert.ErrorIs(t, err, heatmap.ErrInvalidView)
}

func TestManager_NotInitialized(t *testing.T) {
	m, err := heatmap.NewManager(&mockSource{}, nil, heatmap.DefaultOptions(), slog.Default(), observability.NewMetricsForTesting())
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, m.LoadData(ctx, domain.DefaultFilters()), heatmap.ErrNotInitialized)
	assert.ErrorIs(t, m.SetZoom(ctx, 14), heatmap.ErrNotInitialized)

	m.Initialize()
	require.NoError(t, m.SetZoom(ctx, 14))

	m.Destroy()
	assert.ErrorIs(t, m.SetClusteringEnabled(ctx, true), heatmap.ErrNotInitialized)
	assert.Zero(t, m.Frame().Sequence)
}

func TestManager_LoadDataClustersAndRenders(t *testing.T) {
	src := &mockSource{points: scenarioPoints()}
	rdr := &recordingRenderer{}
	m, metrics := newTestManager(t, src, rdr)

	require.Error(t, m.CheckReadiness(context.Background()))
	require.NoError(t, m.LoadData(context.Background(), domain.DefaultFilters()))
	require.NoError(t, m.CheckReadiness(context.Background()))

	assert.Equal(t, cluster.Stats{TotalPoints: 4, Clusters: 1, NoisePoints: 1, LargestCluster: 3, MeanClusterSize: 3}, m.Stats())
	assert.Equal(t, []int{0, 0, 0, cluster.Noise}, m.Result().Labels)
	assert.False(t, m.Loading())
	assert.NoError(t, m.Err())

	f := m.Frame()
	assert.Len(t, f.Heat.Points, 4)
	assert.Equal(t, 12, f.Zoom)
	assert.False(t, f.ShowMarkers)
	require.NotNil(t, f.Bounds)
	assert.InDelta(t, 6.75, f.Bounds.South, 1e-9)
	assert.InDelta(t, 125.5, f.Bounds.East, 1e-9)
	assert.True(t, fixedNow.Equal(f.RenderedAt))

	require.Equal(t, 1, rdr.count())
	assert.Equal(t, f.ID, rdr.frames[0].ID)
	assert.InDelta(t, 4, testutil.ToFloat64(metrics.PointsLoaded), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ClusterCount), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FetchRequests.WithLabelValues("success")), 0)
}

func TestManager_ZoomThreshold(t *testing.T) {
	src := &mockSource{points: scenarioPoints()}
	m, _ := newTestManager(t, src, nil)
	ctx := context.Background()
	require.NoError(t, m.LoadData(ctx, domain.DefaultFilters()))

	require.NoError(t, m.SetZoom(ctx, 13))
	f := m.Frame()
	assert.False(t, f.ShowMarkers)
	assert.Empty(t, f.Markers)
	assert.Len(t, f.Heat.Points, 4, "heat layer stays at low zoom")

	require.NoError(t, m.SetZoom(ctx, 14))
	f = m.Frame()
	assert.True(t, f.ShowMarkers)
	assert.Len(t, f.Markers, 4)
	assert.Len(t, f.Heat.Points, 4)

	require.NoError(t, m.SetZoomThreshold(ctx, 16))
	assert.False(t, m.Frame().ShowMarkers)

	require.NoError(t, m.SetZoom(ctx, 17))
	assert.True(t, m.Frame().ShowMarkers)
}

func TestManager_ClusterMarkers(t *testing.T) {
	src := &mockSource{points: scenarioPoints()}
	m, _ := newTestManager(t, src, nil)
	ctx := context.Background()
	require.NoError(t, m.LoadData(ctx, domain.DefaultFilters()))
	require.NoError(t, m.SetZoom(ctx, 15))

	for _, mk := range m.Frame().Markers {
		assert.Equal(t, heatmap.MarkerPoint, mk.Kind)
		assert.Equal(t, 1, mk.Count)
	}

	require.NoError(t, m.SetClusteringEnabled(ctx, true))
	markers := m.Frame().Markers
	require.Len(t, markers, 2)

	assert.Equal(t, heatmap.MarkerCluster, markers[0].Kind)
	assert.Equal(t, 3, markers[0].Count)
	assert.Equal(t, "roads", markers[0].Category)
	assert.InDelta(t, 6.7501, markers[0].Lat, 1e-9)

	assert.Equal(t, heatmap.MarkerNoise, markers[1].Kind)
	assert.Equal(t, "c-4", markers[1].ComplaintID)
	assert.Equal(t, cluster.Noise, markers[1].ClusterID)
	assert.Equal(t, -1, markers[1].ColorIndex)
}

func TestManager_UpdateClusteringParameters(t *testing.T) {
	src := &mockSource{points: scenarioPoints()}
	m, _ := newTestManager(t, src, nil)
	ctx := context.Background()
	require.NoError(t, m.LoadData(ctx, domain.DefaultFilters()))

	require.NoError(t, m.UpdateClusteringParameters(ctx, cluster.Params{Eps: 0.5, MinPts: 4}))
	assert.Equal(t, 0, m.Stats().Clusters)
	assert.Equal(t, 4, m.Stats().NoisePoints)

	before := m.Frame()
	err := m.UpdateClusteringParameters(ctx, cluster.Params{Eps: -1, MinPts: 4})
	assert.ErrorIs(t, err, cluster.ErrInvalidParameter)
	assert.Equal(t, cluster.Params{Eps: 0.5, MinPts: 4}, m.Params())
	assert.Equal(t, before.ID, m.Frame().ID)
}

func TestManager_FilterRoundTripIsIdempotent(t *testing.T) {
	src := &mockSource{points: scenarioPoints()}
	m, _ := newTestManager(t, src, nil)
	ctx := context.Background()
	filters := domain.Filters{Category: "roads", IncludeResolved: true}

	require.NoError(t, m.LoadData(ctx, filters))
	first := m.Result()
	assert.Len(t, first.Points, 2)

	require.NoError(t, m.LoadData(ctx, filters))
	second := m.Result()

	if diff := cmp.Diff(first.Labels, second.Labels); diff != "" {
		t.Errorf("labels changed on reapply (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Points, second.Points); diff != "" {
		t.Errorf("points changed on reapply (-first +second):\n%s", diff)
	}
	assert.Equal(t, filters, m.Filters())
	require.Len(t, src.queries, 2)
	assert.Equal(t, "roads", src.queries[0].Category)
}

func TestManager_InvalidFiltersRejectedBeforeFetch(t *testing.T) {
	src := &mockSource{}
	m, _ := newTestManager(t, src, nil)

	err := m.LoadData(context.Background(), domain.Filters{StartDate: "yesterday"})
	assert.ErrorIs(t, err, domain.ErrInvalidFilter)
	assert.Empty(t, src.queries)
}

func TestManager_FetchFailureKeepsPreviousView(t *testing.T) {
	src := &mockSource{points: scenarioPoints()}
	rdr := &recordingRenderer{}
	m, metrics := newTestManager(t, src, rdr)
	ctx := context.Background()
	require.NoError(t, m.LoadData(ctx, domain.DefaultFilters()))
	before := m.Frame()

	upstream := errors.New("connection refused")
	src.set(nil, upstream)
	err := m.LoadData(ctx, domain.Filters{Category: "roads"})

	var fetchErr *heatmap.DataFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, "roads", fetchErr.Filters.Category)
	assert.Equal(t, err, m.Err())

	assert.Equal(t, before.ID, m.Frame().ID)
	assert.Equal(t, 4, m.Stats().TotalPoints)
	assert.Equal(t, domain.DefaultFilters(), m.Filters())
	assert.Equal(t, 1, rdr.count(), "failed fetch renders nothing")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FetchRequests.WithLabelValues("error")), 0)

	src.set(scenarioPoints()[:2], nil)
	require.NoError(t, m.Refresh(ctx))
	assert.NoError(t, m.Err())
	assert.Equal(t, 2, m.Stats().TotalPoints)
}

func TestManager_MalformedPointsExcluded(t *testing.T) {
	points := append(scenarioPoints(),
		domain.ComplaintPoint{ID: "bad-lat", Lat: math.NaN(), Lng: 125.35},
		domain.ComplaintPoint{ID: "", Lat: 6.75, Lng: 125.35},
		domain.ComplaintPoint{ID: "off-planet", Lat: 120, Lng: 125.35},
	)
	src := &mockSource{points: points}
	m, metrics := newTestManager(t, src, nil)

	require.NoError(t, m.LoadData(context.Background(), domain.DefaultFilters()))
	assert.Equal(t, 4, m.Stats().TotalPoints)
	assert.Equal(t, []int{0, 0, 0, cluster.Noise}, m.Result().Labels)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.MalformedPoints), 0)
}

func TestManager_EmptyResultIsNotAnError(t *testing.T) {
	src := &mockSource{}
	m, _ := newTestManager(t, src, nil)

	require.NoError(t, m.LoadData(context.Background(), domain.DefaultFilters()))
	assert.Equal(t, cluster.Stats{}, m.Stats())
	assert.Nil(t, m.Frame().Bounds)
	_, ok := m.Bounds()
	assert.False(t, ok)
}

// blockingSource holds each call open until its query's category is released.
type blockingSource struct {
	started chan string
	release map[string]chan struct{}
	data    map[string][]domain.ComplaintPoint
}

func (b *blockingSource) FetchPoints(ctx context.Context, q domain.Query) ([]domain.ComplaintPoint, error) {
	b.started <- q.Category
	select {
	case <-b.release[q.Category]:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.data[q.Category], nil
}

func withCategory(points []domain.ComplaintPoint, category string) []domain.ComplaintPoint {
	out := append([]domain.ComplaintPoint(nil), points...)
	for i := range out {
		out[i].Category = category
	}
	return out
}

func TestManager_StaleResponseDiscarded(t *testing.T) {
	pts := scenarioPoints()
	src := &blockingSource{
		started: make(chan string, 2),
		release: map[string]chan struct{}{"A": make(chan struct{}), "B": make(chan struct{})},
		data: map[string][]domain.ComplaintPoint{
			"A": withCategory(pts[:1], "A"),
			"B": withCategory(pts[1:], "B"),
		},
	}
	m, metrics := newTestManager(t, src, nil)
	ctx := context.Background()

	errA := make(chan error, 1)
	go func() { errA <- m.LoadData(ctx, domain.Filters{Category: "A", IncludeResolved: true}) }()
	require.Equal(t, "A", <-src.started)

	errB := make(chan error, 1)
	go func() { errB <- m.LoadData(ctx, domain.Filters{Category: "B", IncludeResolved: true}) }()
	require.Equal(t, "B", <-src.started)
	assert.True(t, m.Loading())

	close(src.release["B"])
	require.NoError(t, <-errB)
	assert.False(t, m.Loading())

	close(src.release["A"])
	assert.ErrorIs(t, <-errA, heatmap.ErrStaleResponse)

	assert.Equal(t, "B", m.Filters().Category)
	assert.Equal(t, 3, m.Stats().TotalPoints)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FetchRequests.WithLabelValues("stale")), 0)
}

func TestManager_IntensityScalesHeatWeights(t *testing.T) {
	src := &mockSource{points: scenarioPoints()}
	m, _ := newTestManager(t, src, nil)
	ctx := context.Background()
	require.NoError(t, m.LoadData(ctx, domain.DefaultFilters()))
	base := m.Frame().Heat.Points

	require.NoError(t, m.SetIntensity(ctx, 2))
	doubled := m.Frame().Heat.Points
	for i := range base {
		assert.InDelta(t, base[i].Weight*2, doubled[i].Weight, 1e-9)
	}

	assert.ErrorIs(t, m.SetIntensity(ctx, 0.05), heatmap.ErrInvalidView)
	assert.ErrorIs(t, m.SetZoom(ctx, 23), heatmap.ErrInvalidView)
	assert.ErrorIs(t, m.SetZoomThreshold(ctx, -1), heatmap.ErrInvalidView)
	assert.InDelta(t, 2, m.View().Intensity, 0)
}

func TestManager_RenderFailureDoesNotFailLoad(t *testing.T) {
	src := &mockSource{points: scenarioPoints()}
	rdr := &recordingRenderer{err: errors.New("broker down")}
	m, metrics := newTestManager(t, src, rdr)

	require.NoError(t, m.LoadData(context.Background(), domain.DefaultFilters()))
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RenderPublishes.WithLabelValues("error")), 0)
}

func TestManager_FrameSequenceIncreases(t *testing.T) {
	src := &mockSource{points: scenarioPoints()}
	rdr := &recordingRenderer{}
	m, _ := newTestManager(t, src, rdr)
	ctx := context.Background()

	require.NoError(t, m.LoadData(ctx, domain.DefaultFilters()))
	require.NoError(t, m.SetZoom(ctx, 15))
	require.NoError(t, m.SetClusteringEnabled(ctx, true))

	require.Equal(t, 3, rdr.count())
	for i := 1; i < len(rdr.frames); i++ {
		assert.Greater(t, rdr.frames[i].Sequence, rdr.frames[i-1].Sequence)
		assert.Equal(t, rdr.frames[0].ViewID, rdr.frames[i].ViewID)
	}
}

func TestManager_SuggestParameters(t *testing.T) {
	src := &mockSource{points: scenarioPoints()}
	m, _ := newTestManager(t, src, nil)

	assert.Equal(t, cluster.DefaultParams(), m.SuggestParameters())

	require.NoError(t, m.LoadData(context.Background(), domain.DefaultFilters()))
	p := m.SuggestParameters()
	require.NoError(t, p.Validate())
	assert.Equal(t, 3, p.MinPts)
	assert.Equal(t, cluster.Params{Eps: 0.5, MinPts: 2}, m.Params(), "suggestion is not applied")
}

func TestManager_DestroyDropsDataAndReinitializeStartsNewView(t *testing.T) {
	src := &mockSource{points: scenarioPoints()}
	m, metrics := newTestManager(t, src, nil)
	ctx := context.Background()
	require.NoError(t, m.LoadData(ctx, domain.DefaultFilters()))

	b, ok := m.Bounds()
	require.True(t, ok)
	assert.InDelta(t, 6.75, b.South, 1e-9)
	assert.InDelta(t, 6.9, b.North, 1e-9)
	firstView := m.Frame().ViewID

	m.Destroy()
	assert.Error(t, m.CheckReadiness(ctx))
	assert.Equal(t, cluster.Stats{}, m.Stats())
	_, ok = m.Bounds()
	assert.False(t, ok)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.PointsLoaded), 0)
	assert.ErrorIs(t, m.LoadData(ctx, domain.DefaultFilters()), heatmap.ErrNotInitialized)
	assert.ErrorIs(t, m.SetZoom(ctx, 15), heatmap.ErrNotInitialized)

	m.Initialize()
	require.NoError(t, m.LoadData(ctx, domain.DefaultFilters()))
	assert.NotEqual(t, firstView, m.Frame().ViewID)
	assert.Equal(t, 4, m.Stats().TotalPoints)
}

func TestManager_ClusteringToggleKeepsStatsCurrent(t *testing.T) {
	src := &mockSource{points: scenarioPoints()}
	rdr := &recordingRenderer{}
	m, _ := newTestManager(t, src, rdr)
	ctx := context.Background()
	require.NoError(t, m.LoadData(ctx, domain.DefaultFilters()))

	require.NoError(t, m.SetClusteringEnabled(ctx, true))
	assert.True(t, m.View().ClusteringEnabled)
	assert.True(t, m.Frame().ClusteringEnabled)
	assert.Equal(t, 1, m.Stats().Clusters)

	require.NoError(t, m.SetClusteringEnabled(ctx, false))
	assert.False(t, m.Frame().ClusteringEnabled)
	assert.Equal(t, 1, m.Stats().Clusters, "stats survive toggling markers off")
	assert.Equal(t, 3, rdr.count())
}

func TestManager_DropsPointsOutsideFilters(t *testing.T) {
	// The feed ignores the query and returns everything.
	src := &mockSource{points: scenarioPoints()}
	m, _ := newTestManager(t, src, nil)
	ctx := context.Background()

	require.NoError(t, m.LoadData(ctx, domain.Filters{IncludeResolved: false}))
	assert.Equal(t, 3, m.Stats().TotalPoints, "resolved c-4 dropped")

	require.NoError(t, m.LoadData(ctx, domain.Filters{Category: "drainage", IncludeResolved: true}))
	require.Len(t, m.Result().Points, 1)
	assert.Equal(t, "c-3", m.Result().Points[0].ID)

	require.NoError(t, m.LoadData(ctx, domain.Filters{Status: "Pending", IncludeResolved: true}))
	require.Len(t, m.Result().Points, 1)
	assert.Equal(t, "c-1", m.Result().Points[0].ID)
}

func TestManager_PointMarkersCarryClusterColour(t *testing.T) {
	src := &mockSource{points: scenarioPoints()}
	m, _ := newTestManager(t, src, nil)
	ctx := context.Background()
	require.NoError(t, m.LoadData(ctx, domain.DefaultFilters()))
	require.NoError(t, m.SetZoom(ctx, 15))

	markers := m.Frame().Markers
	require.Len(t, markers, 4)
	for _, mk := range markers[:3] {
		assert.Equal(t, 0, mk.ClusterID)
		assert.Equal(t, 0, mk.ColorIndex)
	}
	assert.Equal(t, cluster.Noise, markers[3].ClusterID)
	assert.Equal(t, -1, markers[3].ColorIndex)
}
