package metrics

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	MetricTransitions = "resilience.breaker.transitions"
	MetricRejections  = "resilience.breaker.rejections"
	MetricRetries     = "resilience.retry.scheduled"
	MetricDedupeHits  = "resilience.dedupe.hits"
	MetricCallLatency = "resilience.call.duration"
)

type instruments struct {
	transitions metric.Int64Counter
	rejections  metric.Int64Counter
	retries     metric.Int64Counter
	dedupeHits  metric.Int64Counter
	latency     metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("resilience")
	}

	transitions, err1 := meter.Int64Counter(MetricTransitions,
		metric.WithDescription("Circuit breaker state transitions"))
	rejections, err2 := meter.Int64Counter(MetricRejections,
		metric.WithDescription("Calls rejected by an open circuit"))
	retries, err3 := meter.Int64Counter(MetricRetries,
		metric.WithDescription("Retries scheduled after a failed attempt"))
	dedupeHits, err4 := meter.Int64Counter(MetricDedupeHits,
		metric.WithDescription("Calls served by an existing deduplicated entry"))
	latency, err5 := meter.Float64Histogram(MetricCallLatency,
		metric.WithDescription("Duration of guarded calls"),
		metric.WithUnit("s"))

	if err := errors.Join(err1, err2, err3, err4, err5); err != nil {
		return nil, err
	}

	return &instruments{
		transitions: transitions,
		rejections:  rejections,
		retries:     retries,
		dedupeHits:  dedupeHits,
		latency:     latency,
	}, nil
}

func (i *instruments) record(event MetricEvent) {
	ctx := context.Background()

	switch event.Type {
	case EventStateChanged:
		i.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("circuit", event.Name),
			attribute.String("from", event.From.String()),
			attribute.String("to", event.To.String()),
		))

	case EventRejected:
		i.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("circuit", event.Name)))

	case EventRetryScheduled:
		i.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("dependency", event.Name)))

	case EventDedupeHit:
		i.dedupeHits.Add(ctx, 1)

	case EventCallCompleted:
		i.latency.Record(ctx, event.Duration.Seconds(), metric.WithAttributes(
			attribute.String("dependency", event.Name),
			attribute.String("outcome", outcome(event)),
		))
	}
}

func outcome(event MetricEvent) string {
	switch {
	case event.Rejected:
		return "rejected"
	case event.Failed:
		return "failure"
	default:
		return "success"
	}
}
