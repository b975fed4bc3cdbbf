package metrics

import (
	"slices"
	"sync"
	"time"

	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
)

const maxSamples = 1000

type circuitCounters struct {
	state       circuitbreaker.State
	transitions int64
	rejections  int64
	lastChange  time.Time
}

type operationCounters struct {
	calls     int64
	failures  int64
	rejected  int64
	retries   int64
	backoff   time.Duration
	durations []time.Duration
}

type Metrics struct {
	mutex      sync.RWMutex
	circuits   map[string]*circuitCounters
	operations map[string]*operationCounters
	dedupeHits int64
	startTime  time.Time
}

type Snapshot struct {
	Uptime        time.Duration               `json:"uptime"`
	TotalCalls    int64                       `json:"total_calls"`
	DedupeHits    int64                       `json:"dedupe_hits"`
	DroppedEvents int64                       `json:"dropped_events"`
	Circuits      map[string]CircuitMetrics   `json:"circuits"`
	Operations    map[string]OperationMetrics `json:"operations"`
}

type CircuitMetrics struct {
	State       circuitbreaker.State `json:"state"`
	Transitions int64                `json:"transitions"`
	Rejections  int64                `json:"rejections"`
	LastChange  time.Time            `json:"last_change,omitzero"`
}

type OperationMetrics struct {
	Calls       int64         `json:"calls"`
	Failures    int64         `json:"failures"`
	Rejected    int64         `json:"rejected"`
	Retries     int64         `json:"retries"`
	TotalDelay  time.Duration `json:"total_backoff"`
	AvgDuration time.Duration `json:"avg_duration"`
	P50Duration time.Duration `json:"p50_duration"`
	P95Duration time.Duration `json:"p95_duration"`
	P99Duration time.Duration `json:"p99_duration"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		circuits:   make(map[string]*circuitCounters),
		operations: make(map[string]*operationCounters),
		startTime:  time.Now(),
	}
}

func (m *Metrics) circuit(name string) *circuitCounters {
	c, ok := m.circuits[name]
	if !ok {
		c = &circuitCounters{}
		m.circuits[name] = c
	}
	return c
}

func (m *Metrics) operation(name string) *operationCounters {
	o, ok := m.operations[name]
	if !ok {
		o = &operationCounters{}
		m.operations[name] = o
	}
	return o
}

func (m *Metrics) RecordTransition(name string, _, to circuitbreaker.State, at time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	c := m.circuit(name)
	c.state = to
	c.transitions++
	c.lastChange = at
}

func (m *Metrics) RecordRejection(name string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.circuit(name).rejections++
}

func (m *Metrics) RecordRetry(name string, delay time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	o := m.operation(name)
	o.retries++
	o.backoff += delay
}

func (m *Metrics) RecordDedupeHit() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.dedupeHits++
}

// RecordCall counts a guarded call. Rejected calls are counted but their
// duration is left out of the latency figures.
func (m *Metrics) RecordCall(name string, duration time.Duration, failed, rejected bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	o := m.operation(name)
	o.calls++
	if failed {
		o.failures++
	}
	if rejected {
		o.rejected++
		return
	}

	o.durations = append(o.durations, duration)
	if len(o.durations) > maxSamples {
		o.durations = o.durations[1:]
	}
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:     time.Since(m.startTime),
		DedupeHits: m.dedupeHits,
		Circuits:   make(map[string]CircuitMetrics, len(m.circuits)),
		Operations: make(map[string]OperationMetrics, len(m.operations)),
	}

	for name, c := range m.circuits {
		snap.Circuits[name] = CircuitMetrics{
			State:       c.state,
			Transitions: c.transitions,
			Rejections:  c.rejections,
			LastChange:  c.lastChange,
		}
	}

	for name, o := range m.operations {
		snap.TotalCalls += o.calls

		om := OperationMetrics{
			Calls:      o.calls,
			Failures:   o.failures,
			Rejected:   o.rejected,
			Retries:    o.retries,
			TotalDelay: o.backoff,
		}

		if len(o.durations) > 0 {
			sorted := slices.Clone(o.durations)
			slices.Sort(sorted)

			om.AvgDuration = average(sorted)
			om.P50Duration = percentile(sorted, 0.50)
			om.P95Duration = percentile(sorted, 0.95)
			om.P99Duration = percentile(sorted, 0.99)
		}

		snap.Operations[name] = om
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
