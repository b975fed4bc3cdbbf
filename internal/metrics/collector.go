package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
)

type EventType string

const (
	EventStateChanged   EventType = "state_changed"
	EventRejected       EventType = "rejected"
	EventRetryScheduled EventType = "retry_scheduled"
	EventDedupeHit      EventType = "dedupe_hit"
	EventCallCompleted  EventType = "call_completed"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Name      string
	Key       string
	From      circuitbreaker.State
	To        circuitbreaker.State
	Attempt   int
	Delay     time.Duration
	Duration  time.Duration
	Failed    bool
	Rejected  bool
}

type Collector struct {
	eventCh     chan MetricEvent
	metrics     *Metrics
	instruments *instruments
	dropped     atomic.Int64
	logger      *slog.Logger
}

// NewCollector creates a collector with a buffer of bufferSize events. A nil
// meter disables the OpenTelemetry instruments.
func NewCollector(bufferSize int, logger *slog.Logger, meter metric.Meter) (*Collector, error) {
	inst, err := newInstruments(meter)
	if err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}

	return &Collector{
		eventCh:     make(chan MetricEvent, bufferSize),
		metrics:     NewMetrics(),
		instruments: inst,
		logger:      logger,
	}, nil
}

// Emit queues an event without blocking. Events that do not fit in the
// buffer are counted as dropped.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.dropped.Add(1)
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventStateChanged:
		c.metrics.RecordTransition(event.Name, event.From, event.To, event.Timestamp)

	case EventRejected:
		c.metrics.RecordRejection(event.Name)

	case EventRetryScheduled:
		c.metrics.RecordRetry(event.Name, event.Delay)

	case EventDedupeHit:
		c.metrics.RecordDedupeHit()

	case EventCallCompleted:
		c.metrics.RecordCall(event.Name, event.Duration, event.Failed, event.Rejected)
	}

	c.instruments.record(event)
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	snap := c.metrics.Snapshot()
	snap.DroppedEvents = c.dropped.Load()
	return snap
}
