// Package telemetry owns the OpenTelemetry meter provider the service's
// instruments report to.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

const DefaultExportInterval = 15 * time.Second

type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP/gRPC collector address. Empty disables export.
	Endpoint       string
	ExportInterval time.Duration
}

type Telemetry struct {
	provider *sdkmetric.MeterProvider
	name     string
}

func (c Config) newResource() *sdkresource.Resource {
	return sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(c.ServiceVersion),
		semconv.DeploymentEnvironmentName(c.Environment),
		semconv.TelemetrySDKLanguageGo,
	)
}

func (c Config) newMetricExporter(ctx context.Context) (*otlpmetricgrpc.Exporter, error) {
	return otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(c.Endpoint),
		otlpmetricgrpc.WithInsecure())
}

// Setup builds the meter provider and installs it globally. Extra readers are
// attached alongside the OTLP exporter.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger, readers ...sdkmetric.Reader) (*Telemetry, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(cfg.newResource())}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	if cfg.Endpoint == "" {
		logger.Warn("Metric export disabled, no collector endpoint configured")
	} else {
		exp, err := cfg.newMetricExporter(ctx)
		if err != nil {
			return nil, fmt.Errorf("can't initialize metric exporter: %w", err)
		}

		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = DefaultExportInterval
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
		logger.Info("Exporting metrics",
			slog.String("endpoint", cfg.Endpoint),
			slog.Duration("interval", interval))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	return &Telemetry{provider: mp, name: cfg.ServiceName}, nil
}

// Meter returns the service's meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.provider.Meter(t.name)
}

// Shutdown flushes pending metrics and stops the exporter.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("can't shutdown metric provider: %w", err)
	}
	return nil
}
