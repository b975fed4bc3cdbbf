package circuitbreaker

import (
	"maps"
	"slices"
	"sync"
)

// Registry hands out one breaker per dependency name, creating it on first
// use. It also fans breaker events out to subscribers, which may be added at
// any time.
type Registry struct {
	mutex       sync.RWMutex
	breakers    map[string]*CircuitBreaker
	defaults    Config
	overrides   map[string]Config
	options     []Option
	subscribers []Listener
}

type RegistryOption func(*Registry)

// WithOverrides sets per-name configs used instead of the defaults.
func WithOverrides(overrides map[string]Config) RegistryOption {
	return func(r *Registry) {
		for name, cfg := range overrides {
			r.overrides[name] = cfg
		}
	}
}

// WithBreakerOptions applies opts to every breaker the registry creates.
func WithBreakerOptions(opts ...Option) RegistryOption {
	return func(r *Registry) {
		r.options = append(r.options, opts...)
	}
}

func NewRegistry(defaults Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		defaults:  defaults.normalize(),
		overrides: make(map[string]Config),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Get returns the breaker registered under name. The first call creates it
// from config[0] when given, else from the override for name, else from the
// registry defaults; later calls return the same instance and ignore config.
func (r *Registry) Get(name string, config ...Config) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	cfg := r.defaults
	if override, ok := r.overrides[name]; ok {
		cfg = override
	}
	if len(config) > 0 {
		cfg = config[0]
	}

	opts := append(slices.Clone(r.options), WithListener(registryFanout{r}))
	cb = New(name, cfg, opts...)
	r.breakers[name] = cb
	return cb
}

// Lookup returns an existing breaker without creating one.
func (r *Registry) Lookup(name string) (*CircuitBreaker, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return slices.Sorted(maps.Keys(r.breakers))
}

func (r *Registry) AllStats() map[string]Stats {
	r.mutex.RLock()
	breakers := maps.Clone(r.breakers)
	r.mutex.RUnlock()

	stats := make(map[string]Stats, len(breakers))
	for name, cb := range breakers {
		stats[name] = cb.Stats()
	}
	return stats
}

// ResetAll resets every registered breaker. Breakers stay registered.
func (r *Registry) ResetAll() {
	r.mutex.RLock()
	breakers := slices.Collect(maps.Values(r.breakers))
	r.mutex.RUnlock()

	for _, cb := range breakers {
		cb.Reset()
	}
}

// Subscribe adds a listener for events from every breaker in the registry,
// including breakers created later.
func (r *Registry) Subscribe(l Listener) {
	if l == nil {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.subscribers = append(r.subscribers, l)
}

func (r *Registry) listeners() []Listener {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.subscribers
}

type registryFanout struct {
	r *Registry
}

func (f registryFanout) OnStateChange(name string, from, to State) {
	for _, l := range f.r.listeners() {
		l.OnStateChange(name, from, to)
	}
}

func (f registryFanout) OnRejected(name string) {
	for _, l := range f.r.listeners() {
		l.OnRejected(name)
	}
}
