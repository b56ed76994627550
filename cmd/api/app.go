package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"darkspot/internal/api/handlers"
	"darkspot/internal/config"
	"darkspot/internal/core"
	"darkspot/internal/darkspot"
	"darkspot/internal/metrics"
	"darkspot/internal/raster"
)

// app holds the long-lived dependencies built at cold start and reused
// across requests.
type app struct {
	server     *core.Server
	store      *raster.Store
	service    *darkspot.Service
	collector  metrics.Collector
	cloudwatch *metrics.CloudWatch
}

// buildApp opens the raster, selects the metrics backend and mounts every
// route. It does not start listening.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	loc, err := cfg.RasterLocation()
	if err != nil {
		return nil, fmt.Errorf("parsing raster location: %w", err)
	}
	src, err := raster.OpenSource(ctx, loc, cfg.ConnectConfig(logger))
	if err != nil {
		return nil, fmt.Errorf("opening raster source %s: %w", loc, err)
	}
	store, err := raster.Open(ctx, src, cfg.StoreOptions(logger))
	if err != nil {
		return nil, fmt.Errorf("opening raster store %s: %w", loc, err)
	}
	info := store.Info()
	logger.Info("raster opened",
		"source", info.Source,
		"height", info.Height,
		"width", info.Width,
		"resolution_deg", info.Resolution,
		"codec", info.Codec,
	)

	a := &app{store: store}
	if err := a.initMetrics(ctx, cfg, logger); err != nil {
		return nil, err
	}

	a.service = darkspot.NewService(store, logger,
		darkspot.WithRecorder(a.collector),
		darkspot.WithDefaults(cfg.Search.DefaultRadiusKM, cfg.Search.DefaultCount),
		darkspot.WithMaxWindowPixels(cfg.Search.MaxWindowPixels),
		darkspot.WithMaxBatch(cfg.Search.MaxBatch),
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = a.collector
	if cfg.Security.RateLimitEnabled {
		srv.RateLimiter = core.NewMemoryRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)
	}
	srv.HealthProbes = append(srv.HealthProbes, core.PingFunc{Label: "raster", Ping: store.Ping})
	if p, ok := a.collector.(*metrics.Prometheus); ok {
		srv.MetricsHandler = p.Handler()
	}

	h := handlers.NewDarkSpotHandler(a.service, srv.Validator, logger)
	srv.RootRouteRegistrars = append(srv.RootRouteRegistrars, h.RegisterLegacyRoutes)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, h.RegisterRoutes)
	srv.MountRoutes()

	a.server = srv
	return a, nil
}

// initMetrics selects the collector named by METRICS_BACKEND.
func (a *app) initMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.Observability.MetricsBackend {
	case metrics.BackendPrometheus:
		p := metrics.NewPrometheus(cfg.Observability.MetricNamespace)
		p.WatchCache(cfg.Observability.MetricNamespace, a.store.CacheStats)
		a.collector = p
	case metrics.BackendCloudWatch:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS config for CloudWatch: %w", err)
		}
		client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = &cfg.AWS.EndpointURL
			}
		})
		a.cloudwatch = metrics.NewCloudWatch(client, cfg.Observability.MetricNamespace, logger)
		a.collector = a.cloudwatch
	default:
		if err := metrics.ValidateBackend(cfg.Observability.MetricsBackend); err != nil {
			return err
		}
		a.collector = metrics.Nop{}
	}
	return nil
}

// startBackground starts the periodic CloudWatch flusher for the
// long-running server. Lambda flushes per invocation instead.
func (a *app) startBackground(ctx context.Context, cfg *config.Config) {
	if a.cloudwatch == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		a.cloudwatch.Run(ctx, cfg.Observability.FlushInterval)
		close(done)
	}()
	a.server.OnShutdown(func(shutdownCtx context.Context) error {
		select {
		case <-done:
			return nil
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	})
}

// flushMetrics publishes buffered CloudWatch datums, bounded by timeout.
func (a *app) flushMetrics(ctx context.Context, timeout time.Duration) error {
	if a.cloudwatch == nil || a.cloudwatch.Pending() == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return a.cloudwatch.Flush(ctx)
}
