package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
	"github.com/angeloszaimis/resilience/internal/metrics"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("RecordCall", func() {
		It("should track dependencies separately", func() {
			m.RecordCall("oura", 10*time.Millisecond, false, false)
			m.RecordCall("oura", 20*time.Millisecond, true, false)
			m.RecordCall("whoop", 5*time.Millisecond, false, false)

			snap := m.Snapshot()
			Expect(snap.TotalCalls).To(Equal(int64(3)))
			Expect(snap.Operations["oura"].Calls).To(Equal(int64(2)))
			Expect(snap.Operations["oura"].Failures).To(Equal(int64(1)))
			Expect(snap.Operations["whoop"].Calls).To(Equal(int64(1)))
		})

		It("should calculate percentiles", func() {
			for i := 1; i <= 100; i++ {
				m.RecordCall("oura", time.Duration(i)*time.Millisecond, false, false)
			}

			op := m.Snapshot().Operations["oura"]
			Expect(op.P50Duration).To(Equal(51 * time.Millisecond))
			Expect(op.P95Duration).To(Equal(96 * time.Millisecond))
			Expect(op.P99Duration).To(Equal(100 * time.Millisecond))
		})

		It("should keep only the most recent samples", func() {
			for range 1000 {
				m.RecordCall("oura", time.Second, false, false)
			}
			for range 1000 {
				m.RecordCall("oura", time.Millisecond, false, false)
			}

			op := m.Snapshot().Operations["oura"]
			Expect(op.AvgDuration).To(Equal(time.Millisecond))
			Expect(op.Calls).To(Equal(int64(2000)))
		})
	})

	Describe("RecordTransition", func() {
		It("should remember the latest state", func() {
			at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			m.RecordTransition("oura", circuitbreaker.StateClosed, circuitbreaker.StateOpen, at)
			m.RecordTransition("oura", circuitbreaker.StateOpen, circuitbreaker.StateHalfOpen, at.Add(time.Minute))

			c := m.Snapshot().Circuits["oura"]
			Expect(c.State).To(Equal(circuitbreaker.StateHalfOpen))
			Expect(c.Transitions).To(Equal(int64(2)))
			Expect(c.LastChange).To(Equal(at.Add(time.Minute)))
		})
	})

	Describe("Snapshot", func() {
		It("should start empty", func() {
			snap := m.Snapshot()
			Expect(snap.TotalCalls).To(BeZero())
			Expect(snap.Circuits).To(BeEmpty())
			Expect(snap.Operations).To(BeEmpty())
			Expect(snap.Uptime).To(BeNumerically(">=", 0))
		})
	})
})
