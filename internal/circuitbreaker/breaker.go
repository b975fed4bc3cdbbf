package circuitbreaker

import (
	"context"
	"sync"
	"time"
)

// Stats is a point-in-time copy of a breaker's counters. Failures and
// Successes are consecutive; the Total fields only move forward until Reset.
type Stats struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	Failures        int       `json:"failures"`
	Successes       int       `json:"successes"`
	TotalRequests   int64     `json:"total_requests"`
	TotalFailures   int64     `json:"total_failures"`
	TotalSuccesses  int64     `json:"total_successes"`
	TotalRejections int64     `json:"total_rejections"`
	LastFailure     time.Time `json:"last_failure,omitzero"`
}

type CircuitBreaker struct {
	mutex     sync.Mutex
	name      string
	config    Config
	listeners []Listener
	isFailure func(error) bool
	now       func() time.Time

	state       State
	failures    int
	successes   int
	lastFailure time.Time

	totalRequests   int64
	totalFailures   int64
	totalSuccesses  int64
	totalRejections int64
}

type Option func(*CircuitBreaker)

// WithListener adds an observer. Listeners are fixed once the breaker is built.
func WithListener(l Listener) Option {
	return func(cb *CircuitBreaker) {
		if l != nil {
			cb.listeners = append(cb.listeners, l)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// WithFailurePredicate decides which errors returned through Execute count
// against the breaker. Errors it rejects are recorded as successes: the
// dependency answered, the answer was just not what the caller wanted.
func WithFailurePredicate(isFailure func(error) bool) Option {
	return func(cb *CircuitBreaker) {
		if isFailure != nil {
			cb.isFailure = isFailure
		}
	}
}

func New(name string, config Config, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:      name,
		config:    config.normalize(),
		isFailure: func(error) bool { return true },
		now:       time.Now,
		state:     StateClosed,
	}

	for _, opt := range opts {
		opt(cb)
	}

	return cb
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) Config() Config {
	return cb.config
}

// Execute runs fn if the breaker admits it and records the outcome. The error
// from fn is returned unchanged; a rejected call returns *CircuitOpenError
// without running fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && cb.isFailure(err) {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return err
}

// Run is Execute for functions that produce a value.
func Run[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Allow decides whether a call may proceed and counts it. Once ResetTimeout
// has passed since the last failure, the OPEN breaker moves to HALF_OPEN
// before admitting the call. Callers that use Allow directly must report the
// outcome with RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mutex.Lock()

	cb.totalRequests++

	if cb.state != StateOpen {
		cb.mutex.Unlock()
		return nil
	}

	elapsed := cb.now().Sub(cb.lastFailure)
	if elapsed >= cb.config.ResetTimeout {
		notices := cb.setState(StateHalfOpen)
		cb.mutex.Unlock()
		dispatch(cb.listeners, cb.name, notices)
		return nil
	}

	cb.totalRejections++
	err := &CircuitOpenError{Name: cb.name, RetryAfter: cb.config.ResetTimeout - elapsed}
	cb.mutex.Unlock()

	dispatch(cb.listeners, cb.name, []notice{{rejected: true}})
	return err
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()

	cb.totalSuccesses++

	var notices []notice
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			notices = cb.setState(StateClosed)
		}
	}

	cb.mutex.Unlock()
	dispatch(cb.listeners, cb.name, notices)
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()

	cb.totalFailures++
	cb.lastFailure = cb.now()

	var notices []notice
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			notices = cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.failures++
		notices = cb.setState(StateOpen)
	}

	cb.mutex.Unlock()
	dispatch(cb.listeners, cb.name, notices)
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return Stats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		TotalRequests:   cb.totalRequests,
		TotalFailures:   cb.totalFailures,
		TotalSuccesses:  cb.totalSuccesses,
		TotalRejections: cb.totalRejections,
		LastFailure:     cb.lastFailure,
	}
}

// Reset forces the breaker CLOSED and clears every counter, lifetime totals
// included.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()

	notices := cb.setState(StateClosed)
	cb.failures = 0
	cb.lastFailure = time.Time{}
	cb.totalRequests = 0
	cb.totalFailures = 0
	cb.totalSuccesses = 0
	cb.totalRejections = 0

	cb.mutex.Unlock()
	dispatch(cb.listeners, cb.name, notices)
}

// Trip forces the breaker OPEN as if it had just failed.
func (cb *CircuitBreaker) Trip() {
	cb.mutex.Lock()

	cb.lastFailure = cb.now()
	notices := cb.setState(StateOpen)

	cb.mutex.Unlock()
	dispatch(cb.listeners, cb.name, notices)
}

// Recover moves an OPEN breaker to HALF_OPEN without waiting for
// ResetTimeout, so the next calls act as trials. Lifetime totals are kept.
// It reports whether the state changed.
func (cb *CircuitBreaker) Recover() bool {
	cb.mutex.Lock()

	if cb.state != StateOpen {
		cb.mutex.Unlock()
		return false
	}
	notices := cb.setState(StateHalfOpen)

	cb.mutex.Unlock()
	dispatch(cb.listeners, cb.name, notices)
	return true
}

// setState must be called with the mutex held. Consecutive counters restart
// on every transition.
func (cb *CircuitBreaker) setState(to State) []notice {
	from := cb.state
	if from == to {
		return nil
	}

	cb.state = to
	cb.successes = 0
	if to != StateOpen {
		cb.failures = 0
	}

	return []notice{{from: from, to: to}}
}
