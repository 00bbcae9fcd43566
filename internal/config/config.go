package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Complaint location and taxonomy feed.
	ComplaintsAPIURL     string
	ComplaintsAPIToken   string
	ComplaintsAPITimeout time.Duration
	TaxonomyCacheSize    int
	TaxonomyCacheTTL     time.Duration

	// Render sink.
	KafkaBrokers      []string
	KafkaRenderTopic  string
	RenderSinkEnabled bool

	// View and clustering defaults.
	ClusterEpsKm        float64
	ClusterMinPts       int
	ZoomThreshold       int
	InitialZoom         int
	RefreshInterval     time.Duration
	ParamDebounce       time.Duration
	ErrorDisplayTimeout time.Duration
}

// MaxZoom is the deepest zoom level the map supports.
const MaxZoom = 22

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	apiTimeout, err := parsePositiveDuration("COMPLAINTS_API_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	debounce, err := parsePositiveDuration("PARAM_DEBOUNCE", "250ms")
	if err != nil {
		return nil, err
	}
	errorTimeout, err := parsePositiveDuration("ERROR_DISPLAY_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	taxonomyTTL, err := parsePositiveDuration("TAXONOMY_CACHE_TTL", "10m")
	if err != nil {
		return nil, err
	}

	refreshInterval, err := time.ParseDuration(sharedcfg.EnvOrDefault("REFRESH_INTERVAL", "5m"))
	if err != nil || refreshInterval < 0 {
		return nil, errors.New("invalid REFRESH_INTERVAL")
	}

	eps, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("CLUSTER_EPS_KM", "0.5"), 64)
	if err != nil || eps <= 0 {
		return nil, errors.New("invalid CLUSTER_EPS_KM: must be a number > 0")
	}
	minPts, err := strconv.Atoi(sharedcfg.EnvOrDefault("CLUSTER_MIN_PTS", "3"))
	if err != nil || minPts < 1 {
		return nil, errors.New("invalid CLUSTER_MIN_PTS: must be an integer >= 1")
	}
	zoomThreshold, err := parseZoom("ZOOM_THRESHOLD", "14")
	if err != nil {
		return nil, err
	}
	initialZoom, err := parseZoom("INITIAL_ZOOM", "12")
	if err != nil {
		return nil, err
	}

	brokers := sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092"))
	sinkEnabled := len(brokers) > 0
	if v := os.Getenv("RENDER_SINK_ENABLED"); v != "" {
		sinkEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ComplaintsAPIURL:     sharedcfg.EnvOrDefault("COMPLAINTS_API_URL", "http://localhost:3000"),
		ComplaintsAPIToken:   os.Getenv("COMPLAINTS_API_TOKEN"),
		ComplaintsAPITimeout: apiTimeout,
		TaxonomyCacheSize:    parseCacheSize(),
		TaxonomyCacheTTL:     taxonomyTTL,

		KafkaBrokers:      brokers,
		KafkaRenderTopic:  sharedcfg.EnvOrDefault("KAFKA_RENDER_TOPIC", "heatmap-frames"),
		RenderSinkEnabled: sinkEnabled,

		ClusterEpsKm:        eps,
		ClusterMinPts:       minPts,
		ZoomThreshold:       zoomThreshold,
		InitialZoom:         initialZoom,
		RefreshInterval:     refreshInterval,
		ParamDebounce:       debounce,
		ErrorDisplayTimeout: errorTimeout,
	}

	u, err := url.Parse(cfg.ComplaintsAPIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("COMPLAINTS_API_URL must be an absolute http(s) URL, got %q", cfg.ComplaintsAPIURL)
	}
	if cfg.RenderSinkEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("RENDER_SINK_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.RenderSinkEnabled && cfg.KafkaRenderTopic == "" {
		return nil, errors.New("KAFKA_RENDER_TOPIC is required")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseZoom(key, def string) (int, error) {
	z, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, def))
	if err != nil || z < 0 || z > MaxZoom {
		return 0, fmt.Errorf("invalid %s: must be an integer in [0, %d]", key, MaxZoom)
	}
	return z, nil
}

func parseCacheSize() int {
	if s := os.Getenv("TAXONOMY_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 256
}
