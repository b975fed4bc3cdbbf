package telemetry_test

import (
	"context"
	"io"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"

	"github.com/angeloszaimis/resilience/internal/telemetry"
)

var _ = Describe("Setup", func() {
	var (
		ctx    context.Context
		logger *slog.Logger
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	It("should report instruments to attached readers without an exporter", func() {
		reader := sdkmetric.NewManualReader()
		tel, err := telemetry.Setup(ctx, telemetry.Config{
			ServiceName: "resilienced",
			Environment: "dev",
		}, logger, reader)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(tel.Shutdown, context.Background())

		counter, err := tel.Meter().Int64Counter("resilience.test")
		Expect(err).NotTo(HaveOccurred())
		counter.Add(ctx, 2)

		var rm metricdata.ResourceMetrics
		Expect(reader.Collect(ctx, &rm)).To(Succeed())

		name, ok := rm.Resource.Set().Value(semconv.ServiceNameKey)
		Expect(ok).To(BeTrue())
		Expect(name.AsString()).To(Equal("resilienced"))

		Expect(rm.ScopeMetrics).To(HaveLen(1))
		Expect(rm.ScopeMetrics[0].Scope.Name).To(Equal("resilienced"))
		sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
		Expect(ok).To(BeTrue())
		Expect(sum.DataPoints[0].Value).To(Equal(int64(2)))
	})

	It("should refuse readers once shut down", func() {
		reader := sdkmetric.NewManualReader()
		tel, err := telemetry.Setup(ctx, telemetry.Config{ServiceName: "resilienced"}, logger, reader)
		Expect(err).NotTo(HaveOccurred())

		Expect(tel.Shutdown(ctx)).To(Succeed())

		var rm metricdata.ResourceMetrics
		Expect(reader.Collect(ctx, &rm)).To(HaveOccurred())
	})
})
