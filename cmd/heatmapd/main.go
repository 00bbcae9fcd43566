package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/citizenlink/heatmap-service/internal/adapter/complaints"
	httpadapter "github.com/citizenlink/heatmap-service/internal/adapter/http"
	kafkaadapter "github.com/citizenlink/heatmap-service/internal/adapter/kafka"
	"github.com/citizenlink/heatmap-service/internal/cluster"
	"github.com/citizenlink/heatmap-service/internal/config"
	"github.com/citizenlink/heatmap-service/internal/control"
	"github.com/citizenlink/heatmap-service/internal/heatmap"
	"github.com/citizenlink/heatmap-service/internal/observability"
)

func main() {
	// A local .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	client := complaints.NewClient(cfg.ComplaintsAPIURL, cfg.ComplaintsAPIToken, cfg.ComplaintsAPITimeout, metrics, logger)
	taxonomy := complaints.NewCachedTaxonomy(client, cfg.TaxonomyCacheSize, cfg.TaxonomyCacheTTL, nil, metrics)

	// Render sink (feature-flagged via RENDER_SINK_ENABLED).
	var renderer heatmap.Renderer
	var publisher *kafkaadapter.FramePublisher
	if cfg.RenderSinkEnabled {
		publisher = kafkaadapter.NewFramePublisher(cfg, logger)
		renderer = publisher
		logger.Info("kafka render sink enabled", "topic", cfg.KafkaRenderTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("kafka render sink disabled")
	}

	manager, err := heatmap.NewManager(client, renderer, heatmap.Options{
		Params:        cluster.Params{Eps: cfg.ClusterEpsKm, MinPts: cfg.ClusterMinPts},
		ZoomThreshold: cfg.ZoomThreshold,
		InitialZoom:   cfg.InitialZoom,
		Intensity:     1.0,
	}, logger, metrics)
	if err != nil {
		logger.Error("failed to create heatmap manager", "error", err)
		os.Exit(1)
	}
	manager.Initialize()
	defer manager.Destroy()

	surface := control.NewSurface(manager, control.Options{
		Debounce:     cfg.ParamDebounce,
		ErrorTimeout: cfg.ErrorDisplayTimeout,
	}, logger)
	defer surface.Close()

	api := httpadapter.NewAPI(surface, manager, taxonomy, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, manager, api, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Initial load, retried with backoff until it succeeds, then periodic
	// refresh. Both go through the control surface so failures reach its
	// status.
	refresher := heatmap.NewRefresher(surface, cfg.RefreshInterval, nil, logger, metrics)
	go func() {
		if err := refresher.RefreshNow(ctx); err != nil {
			return
		}
		if cfg.RefreshInterval <= 0 {
			return
		}
		if err := refresher.Run(ctx); err != nil {
			logger.Error("auto-refresh error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
