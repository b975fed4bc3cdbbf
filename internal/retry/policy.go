package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxRetries    = 3
	DefaultBaseDelay     = 1 * time.Second
	DefaultMaxDelay      = 10 * time.Second
	DefaultBackoffFactor = 2.0
)

// Classifier reports whether a failed attempt may be retried.
type Classifier func(err error) bool

// Listener is notified before every backoff wait.
type Listener interface {
	OnRetry(attempt int, err error, delay time.Duration)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(attempt int, err error, delay time.Duration)

func (f ListenerFunc) OnRetry(attempt int, err error, delay time.Duration) {
	f(attempt, err, delay)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy is the immutable configuration of a retry loop.
type Policy struct {
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	backoffFactor float64
	jitter        bool
	classifier    Classifier
	listeners     []Listener
	sleep         SleepFunc
	randFloat     func() float64
}

// Option customises a Policy.
type Option func(*Policy)

func WithMaxRetries(n int) Option {
	return func(p *Policy) {
		if n < 0 {
			n = 0
		}
		p.maxRetries = n
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(p *Policy) { p.baseDelay = d }
}

func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) { p.maxDelay = d }
}

func WithBackoffFactor(f float64) Option {
	return func(p *Policy) { p.backoffFactor = f }
}

func WithJitter(enabled bool) Option {
	return func(p *Policy) { p.jitter = enabled }
}

// WithClassifier replaces the default classifier entirely.
func WithClassifier(c Classifier) Option {
	return func(p *Policy) {
		if c != nil {
			p.classifier = c
		}
	}
}

// WithListener appends a retry observer. Listeners run synchronously, in
// registration order, before the loop sleeps.
func WithListener(l Listener) Option {
	return func(p *Policy) {
		if l != nil {
			p.listeners = append(p.listeners, l)
		}
	}
}

func WithSleep(s SleepFunc) Option {
	return func(p *Policy) {
		if s != nil {
			p.sleep = s
		}
	}
}

// WithRand sets the source of jitter; it must return values in [0, 1).
func WithRand(r func() float64) Option {
	return func(p *Policy) {
		if r != nil {
			p.randFloat = r
		}
	}
}

// WithPolicy copies a previously built policy. Options given after it still
// apply on top.
func WithPolicy(base Policy) Option {
	return func(p *Policy) {
		listeners := p.listeners
		*p = base
		p.listeners = append(append([]Listener(nil), base.listeners...), listeners...)
	}
}

// NewPolicy builds a policy from the defaults and the given options.
func NewPolicy(opts ...Option) Policy {
	p := Policy{
		maxRetries:    DefaultMaxRetries,
		baseDelay:     DefaultBaseDelay,
		maxDelay:      DefaultMaxDelay,
		backoffFactor: DefaultBackoffFactor,
		jitter:        true,
		classifier:    IsRetryable,
		sleep:         Sleep,
		randFloat:     rand.Float64,
	}

	for _, opt := range opts {
		opt(&p)
	}

	return p
}

func (p Policy) MaxRetries() int { return p.maxRetries }
func (p Policy) BaseDelay() time.Duration { return p.baseDelay }
func (p Policy) MaxDelay() time.Duration { return p.maxDelay }
func (p Policy) BackoffFactor() float64 { return p.backoffFactor }
func (p Policy) Jitter() bool { return p.jitter }
func (p Policy) Retryable(err error) bool { return p.classifier(err) }
func (p Policy) MaxAttempts() int { return p.maxRetries + 1 }

// Delay returns the wait before the retry that follows the given 1-based
// attempt: min(base * factor^(attempt-1), maxDelay), optionally jittered into
// [0.5, 1.5) of that value and capped at maxDelay again. A maxDelay of zero
// or less means no wait at all.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(p.baseDelay)
	if base <= 0 {
		return 0
	}

	factor := p.backoffFactor
	if factor < 1 {
		factor = 1
	}

	d := base * math.Pow(factor, float64(attempt-1))
	limit := max(float64(p.maxDelay), 0)
	if d > limit {
		d = limit
	}

	if p.jitter {
		d = min(d*(0.5+p.randFloat()), limit)
	}

	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(d)
}

// Sleep waits for d, returning early with the context error if ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
