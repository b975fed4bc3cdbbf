package healthcheck

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
)

var (
	ErrInvalidInterval = errors.New("health check interval must be positive")
	ErrInvalidTimeout  = errors.New("health check timeout must be positive")
)

// ProbeFunc reports whether a dependency is reachable.
type ProbeFunc func(ctx context.Context) error

// Pruner drops expired cache entries and returns how many were removed.
type Pruner interface {
	Prune() int
}

type Prober struct {
	breakers  *circuitbreaker.Registry
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	immediate chan string

	mutex   sync.RWMutex
	probes  map[string]ProbeFunc
	pruners []Pruner
}

func NewProber(breakers *circuitbreaker.Registry, interval, timeout time.Duration, logger *slog.Logger) (*Prober, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	return &Prober{
		breakers:  breakers,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
		immediate: make(chan string, 16),
		probes:    make(map[string]ProbeFunc),
	}, nil
}

// Register sets the probe for the dependency name, replacing any earlier one.
func (p *Prober) Register(name string, probe ProbeFunc) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.probes[name] = probe
}

func (p *Prober) AddPruner(pruner Pruner) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.pruners = append(p.pruners, pruner)
}

// Run probes every interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Health prober started", slog.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Health prober stopped")
			return

		case <-ticker.C:
			p.CheckAll(ctx)
			p.prune()

		case name := <-p.immediate:
			p.Check(ctx, name)
		}
	}
}

// CheckAll probes every registered dependency once.
func (p *Prober) CheckAll(ctx context.Context) {
	p.mutex.RLock()
	names := slices.Sorted(maps.Keys(p.probes))
	p.mutex.RUnlock()

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		p.Check(ctx, name)
	}
}

// Check probes one dependency. If its breaker is OPEN and the probe succeeds,
// the breaker moves to HALF_OPEN so live traffic decides whether it closes.
// It reports whether the probe succeeded.
func (p *Prober) Check(ctx context.Context, name string) bool {
	p.mutex.RLock()
	probe, ok := p.probes[name]
	p.mutex.RUnlock()

	if !ok {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := probe(probeCtx)
	cancel()

	cb, tracked := p.breakers.Lookup(name)
	open := tracked && cb.State() == circuitbreaker.StateOpen

	switch {
	case err == nil && open:
		if cb.Recover() {
			p.logger.Info("Dependency recovered, circuit half-open", slog.String("dependency", name))
		}
	case err != nil && open:
		p.logger.Warn("Dependency still unhealthy",
			slog.String("dependency", name),
			slog.Duration("next_check", p.interval),
			slog.Any("err", err))
	case err != nil:
		p.logger.Debug("Health probe failed",
			slog.String("dependency", name),
			slog.Any("err", err))
	}

	return err == nil
}

func (p *Prober) prune() {
	p.mutex.RLock()
	pruners := p.pruners
	p.mutex.RUnlock()

	for _, pruner := range pruners {
		if n := pruner.Prune(); n > 0 {
			p.logger.Debug("Pruned expired cache entries", slog.Int("count", n))
		}
	}
}

// OnStateChange schedules an immediate probe when a circuit opens.
func (p *Prober) OnStateChange(name string, _, to circuitbreaker.State) {
	if to != circuitbreaker.StateOpen {
		return
	}

	// Non-blocking send to avoid deadlock
	select {
	case p.immediate <- name:
		p.logger.Debug("Immediate health probe scheduled", slog.String("dependency", name))
	default:
		p.logger.Warn("Immediate probe queue full, will check on next interval", slog.String("dependency", name))
	}
}

func (p *Prober) OnRejected(string) {}
