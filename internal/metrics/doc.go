// Package metrics collects what the resilience layer is doing: breaker state
// changes and rejections, scheduled retries, deduplicated calls and the
// latency of every guarded call.
//
// It uses a channel-based event pipeline. The Collector implements the
// listener interfaces of the circuitbreaker, dedupe and guard packages; each
// callback turns into a MetricEvent sent with non-blocking semantics, so a
// full buffer drops the event instead of slowing down the call path. A
// dedicated goroutine aggregates events into a JSON snapshot and mirrors them
// into OpenTelemetry instruments.
//
// Example usage:
//
//	collector, err := metrics.NewCollector(1000, logger, otel.Meter("resilience"))
//	collector.Start(ctx)
//
//	registry.Subscribe(collector)
//	g := guard.New(registry, deduplicator, logger, guard.WithObserver(collector))
//
//	// Get metrics snapshot
//	snapshot := collector.Snapshot()
//
// On shutdown the collector drains buffered events before stopping.
package metrics
