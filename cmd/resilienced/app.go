package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/angeloszaimis/resilience/config"
	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
	"github.com/angeloszaimis/resilience/internal/dedupe"
	"github.com/angeloszaimis/resilience/internal/guard"
	"github.com/angeloszaimis/resilience/internal/handler"
	"github.com/angeloszaimis/resilience/internal/healthcheck"
	"github.com/angeloszaimis/resilience/internal/httpserver"
	"github.com/angeloszaimis/resilience/internal/metrics"
	"github.com/angeloszaimis/resilience/internal/telemetry"
	"github.com/angeloszaimis/resilience/internal/upstream"
)

const serviceName = "resilienced"

type app struct {
	logger    *slog.Logger
	telemetry *telemetry.Telemetry
	collector *metrics.Collector
	prober    *healthcheck.Prober
	breakers  *circuitbreaker.Registry
	cache     *dedupe.Deduplicator[json.RawMessage]
	router    http.Handler
	server    *httpserver.Server
}

// newApp wires every component from cfg. Nothing runs until run is called.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, readers ...sdkmetric.Reader) (*app, error) {
	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Server.Environment,
		Endpoint:       cfg.Metrics.OTLPEndpoint,
		ExportInterval: cfg.Metrics.ExportInterval,
	}, log, readers...)
	if err != nil {
		return nil, err
	}

	collector, err := metrics.NewCollector(cfg.Metrics.BufferSize, log, tel.Meter())
	if err != nil {
		return nil, err
	}

	breakers := circuitbreaker.NewRegistry(cfg.Breaker.Breaker(),
		circuitbreaker.WithOverrides(cfg.Breaker.BreakerOverrides()),
		circuitbreaker.WithBreakerOptions(circuitbreaker.WithFailurePredicate(guard.CountsAsFailure)))
	breakers.Subscribe(collector)

	cache := dedupe.New[json.RawMessage](cfg.Dedupe.Dedupe(), dedupe.WithListener(collector))

	g := guard.New(breakers, cache, log,
		guard.WithRetryOptions(cfg.Retry.Options()...),
		guard.WithObserver(collector))

	sources, err := upstream.NewSetFromConfig(cfg.UpstreamConfigs())
	if err != nil {
		return nil, fmt.Errorf("build upstreams: %w", err)
	}

	prober, err := healthcheck.NewProber(breakers, cfg.HealthCheck.Interval, cfg.HealthCheck.Timeout, log)
	if err != nil {
		return nil, err
	}
	for _, name := range sources.Names() {
		src, _ := sources.Get(name)
		prober.Register(name, src.Probe)
		breakers.Get(name)
	}
	prober.AddPruner(cache)
	breakers.Subscribe(prober)

	h := handler.New(log, sources, g, breakers, cache, cfg.Server.FanOut)
	router := h.Middleware(setupRouter(h, collector))

	server, err := httpserver.New(cfg.Server.Address, router, cfg.Server.Timeouts())
	if err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}

	return &app{
		logger:    log,
		telemetry: tel,
		collector: collector,
		prober:    prober,
		breakers:  breakers,
		cache:     cache,
		router:    router,
		server:    server,
	}, nil
}

// run serves until ctx is done or the server fails, then shuts everything
// down in reverse order.
func (a *app) run(ctx context.Context) error {
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	defer stopCollector()
	a.collector.Start(collectorCtx)

	proberCtx, stopProber := context.WithCancel(ctx)
	defer stopProber()
	go a.prober.Run(proberCtx)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- a.server.Start()
	}()

	a.logger.Info("Gateway listening",
		slog.String("address", a.server.Addr()),
		slog.Any("circuits", a.breakers.Names()))

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down gracefully...")
		if err := a.server.Shutdown(context.Background()); err != nil {
			runErr = fmt.Errorf("shutdown server: %w", err)
		}
	case err := <-srvErrCh:
		runErr = err
	}

	stopProber()
	stopCollector()

	if err := a.telemetry.Shutdown(context.Background()); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}
