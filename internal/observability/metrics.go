package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "heatmap"

// Metrics holds the Prometheus counters, histograms, and gauges for the heatmap service.
type Metrics struct {
	// Data feed metrics.
	FetchRequests   *prometheus.CounterVec // labels: outcome={success,error,stale}
	FetchDuration   prometheus.Histogram
	PointsLoaded    prometheus.Gauge
	MalformedPoints prometheus.Counter

	// Clustering metrics.
	ClusteringPasses   prometheus.Counter
	ClusteringDuration prometheus.Histogram
	ClusterCount       prometheus.Gauge
	NoiseCount         prometheus.Gauge

	RenderPublishes  *prometheus.CounterVec // labels: outcome={success,error}
	TaxonomyCache    *prometheus.CounterVec // labels: result={hit,miss}
	RefresherRunning prometheus.Gauge
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchRequests,
		m.FetchDuration,
		m.PointsLoaded,
		m.MalformedPoints,
		m.ClusteringPasses,
		m.ClusteringDuration,
		m.ClusterCount,
		m.NoiseCount,
		m.RenderPublishes,
		m.TaxonomyCache,
		m.RefresherRunning,
	)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Complaint location fetches by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of complaint location fetches.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		PointsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "points_loaded",
			Help:      "Number of complaint points in the current view.",
		}),
		MalformedPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_points_total",
			Help:      "Complaint records skipped for missing or invalid coordinates.",
		}),
		ClusteringPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clustering_passes_total",
			Help:      "Total DBSCAN passes over the current point set.",
		}),
		ClusteringDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clustering_duration_seconds",
			Help:      "Duration of a DBSCAN pass.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		ClusterCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clusters",
			Help:      "Clusters found by the last clustering pass.",
		}),
		NoiseCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "noise_points",
			Help:      "Noise points found by the last clustering pass.",
		}),
		RenderPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_publishes_total",
			Help:      "Frames handed to the render sink by outcome.",
		}, []string{"outcome"}),
		TaxonomyCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "taxonomy_cache_total",
			Help:      "Taxonomy cache lookups by result.",
		}, []string{"result"}),
		RefresherRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresher_running",
			Help:      "1 when the auto-refresher is active, 0 otherwise.",
		}),
	}
}
