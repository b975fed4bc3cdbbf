package metrics

import (
	"time"

	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
	"github.com/angeloszaimis/resilience/internal/dedupe"
	"github.com/angeloszaimis/resilience/internal/guard"
)

var (
	_ circuitbreaker.Listener = (*Collector)(nil)
	_ dedupe.Listener         = (*Collector)(nil)
	_ guard.Observer          = (*Collector)(nil)
)

func (c *Collector) OnStateChange(name string, from, to circuitbreaker.State) {
	c.Emit(MetricEvent{Type: EventStateChanged, Name: name, From: from, To: to})
}

func (c *Collector) OnRejected(name string) {
	c.Emit(MetricEvent{Type: EventRejected, Name: name})
}

func (c *Collector) OnDedupe(key string) {
	c.Emit(MetricEvent{Type: EventDedupeHit, Key: key})
}

func (c *Collector) OnRetry(name string, attempt int, _ error, delay time.Duration) {
	c.Emit(MetricEvent{Type: EventRetryScheduled, Name: name, Attempt: attempt, Delay: delay})
}

func (c *Collector) OnCallCompleted(name string, duration time.Duration, err error) {
	c.Emit(MetricEvent{
		Type:     EventCallCompleted,
		Name:     name,
		Duration: duration,
		Failed:   err != nil,
		Rejected: circuitbreaker.IsOpen(err),
	})
}
