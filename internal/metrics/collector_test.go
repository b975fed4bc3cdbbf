package metrics_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
	"github.com/angeloszaimis/resilience/internal/metrics"
)

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func counterTotal(m *metricdata.Metrics) int64 {
	data, ok := m.Data.(metricdata.Sum[int64])
	Expect(ok).To(BeTrue(), "expected Sum[int64], got %T", m.Data)

	var total int64
	for _, dp := range data.DataPoints {
		total += dp.Value
	}
	return total
}

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		log       *slog.Logger
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx, cancel = context.WithCancel(context.Background())

		var err error
		collector, err = metrics.NewCollector(100, log, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cancel()
	})

	Describe("event processing", func() {
		BeforeEach(func() {
			collector.Start(ctx)
		})

		It("should track circuit transitions and rejections", func() {
			collector.OnStateChange("oura", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
			collector.OnRejected("oura")
			collector.OnRejected("oura")

			Eventually(func() metrics.CircuitMetrics {
				return collector.Snapshot().Circuits["oura"]
			}).Should(And(
				HaveField("State", circuitbreaker.StateOpen),
				HaveField("Transitions", int64(1)),
				HaveField("Rejections", int64(2)),
			))
		})

		It("should track retries and call latency per dependency", func() {
			collector.OnRetry("whoop", 1, errors.New("503"), 100*time.Millisecond)
			collector.OnRetry("whoop", 2, errors.New("503"), 200*time.Millisecond)
			collector.OnCallCompleted("whoop", 300*time.Millisecond, nil)
			collector.OnCallCompleted("whoop", 100*time.Millisecond, errors.New("503"))

			Eventually(func() int64 {
				return collector.Snapshot().TotalCalls
			}).Should(Equal(int64(2)))

			op := collector.Snapshot().Operations["whoop"]
			Expect(op.Retries).To(Equal(int64(2)))
			Expect(op.TotalDelay).To(Equal(300 * time.Millisecond))
			Expect(op.Failures).To(Equal(int64(1)))
			Expect(op.AvgDuration).To(Equal(200 * time.Millisecond))
		})

		It("should count rejected calls without their latency", func() {
			collector.OnCallCompleted("oura", time.Microsecond, &circuitbreaker.CircuitOpenError{Name: "oura"})

			Eventually(func() int64 {
				return collector.Snapshot().Operations["oura"].Rejected
			}).Should(Equal(int64(1)))
			Expect(collector.Snapshot().Operations["oura"].AvgDuration).To(BeZero())
		})

		It("should count deduplicated calls", func() {
			collector.OnDedupe("ecosystem:oura:a@x.io")
			collector.OnDedupe("ecosystem:oura:a@x.io")

			Eventually(func() int64 {
				return collector.Snapshot().DedupeHits
			}).Should(Equal(int64(2)))
		})
	})

	It("should drain events on context cancellation", func() {
		for range 5 {
			collector.OnRejected("oura")
		}
		collector.Start(ctx)
		cancel()

		Eventually(func() int64 {
			return collector.Snapshot().Circuits["oura"].Rejections
		}).Should(Equal(int64(5)))
	})

	It("should drop events when the buffer is full", func() {
		small, err := metrics.NewCollector(1, log, nil)
		Expect(err).NotTo(HaveOccurred())

		small.OnRejected("oura")
		small.OnRejected("oura")
		small.OnRejected("oura")

		Expect(small.Snapshot().DroppedEvents).To(Equal(int64(2)))
	})

	It("should mirror events into OpenTelemetry instruments", func() {
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		DeferCleanup(provider.Shutdown, context.Background())

		c, err := metrics.NewCollector(100, log, provider.Meter("test"))
		Expect(err).NotTo(HaveOccurred())
		c.Start(ctx)

		c.OnStateChange("oura", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
		c.OnRejected("oura")
		c.OnRetry("oura", 1, errors.New("timeout"), time.Millisecond)
		c.OnDedupe("k")
		c.OnCallCompleted("oura", 250*time.Millisecond, nil)

		Eventually(func() int64 {
			return c.Snapshot().TotalCalls
		}).Should(Equal(int64(1)))

		var rm metricdata.ResourceMetrics
		Expect(reader.Collect(context.Background(), &rm)).To(Succeed())

		for _, name := range []string{
			metrics.MetricTransitions,
			metrics.MetricRejections,
			metrics.MetricRetries,
			metrics.MetricDedupeHits,
		} {
			m := findMetric(rm, name)
			Expect(m).NotTo(BeNil(), name)
			Expect(counterTotal(m)).To(Equal(int64(1)), name)
		}

		transitions := findMetric(rm, metrics.MetricTransitions).Data.(metricdata.Sum[int64])
		to, ok := transitions.DataPoints[0].Attributes.Value(attribute.Key("to"))
		Expect(ok).To(BeTrue())
		Expect(to.AsString()).To(Equal("OPEN"))

		latency := findMetric(rm, metrics.MetricCallLatency)
		Expect(latency).NotTo(BeNil())
		hist, ok := latency.Data.(metricdata.Histogram[float64])
		Expect(ok).To(BeTrue())
		Expect(hist.DataPoints).To(HaveLen(1))
		Expect(hist.DataPoints[0].Count).To(Equal(uint64(1)))
		Expect(hist.DataPoints[0].Sum).To(BeNumerically("~", 0.25, 0.001))
	})

	Describe("Handler", func() {
		It("should serve the snapshot as JSON", func() {
			collector.Start(ctx)
			collector.OnStateChange("oura", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
			Eventually(func() int {
				return len(collector.Snapshot().Circuits)
			}).Should(Equal(1))

			rec := httptest.NewRecorder()
			collector.Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("circuits", HaveKeyWithValue("oura", HaveKeyWithValue("state", "OPEN"))))
		})
	})
})
