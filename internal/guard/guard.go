// Package guard wraps outbound calls in request deduplication, a per-dependency
// circuit breaker and retries, in that order.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
	"github.com/angeloszaimis/resilience/internal/dedupe"
	"github.com/angeloszaimis/resilience/internal/retry"
)

// Observer sees what happens inside a guarded call.
type Observer interface {
	OnRetry(name string, attempt int, err error, delay time.Duration)
	OnCallCompleted(name string, duration time.Duration, err error)
}

type settings struct {
	retryOptions []retry.Option
	observers    []Observer
}

type Option func(*settings)

func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *settings) {
		s.retryOptions = append(s.retryOptions, opts...)
	}
}

func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

type Guard[T any] struct {
	breakers  *circuitbreaker.Registry
	dedupe    *dedupe.Deduplicator[T]
	policy    retry.Policy
	observers []Observer
	logger    *slog.Logger
}

func New[T any](breakers *circuitbreaker.Registry, deduplicator *dedupe.Deduplicator[T], logger *slog.Logger, opts ...Option) *Guard[T] {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	return &Guard[T]{
		breakers:  breakers,
		dedupe:    deduplicator,
		policy:    retry.NewPolicy(s.retryOptions...),
		observers: s.observers,
		logger:    logger,
	}
}

// Do runs fn for the dependency name. Callers sharing key share one
// execution; an empty key disables deduplication. The breaker sees the
// outcome of the whole retry loop, not every attempt.
func (g *Guard[T]) Do(ctx context.Context, name, key string, fn func(context.Context) (T, error)) (T, error) {
	call := func(ctx context.Context) (T, error) {
		return g.call(ctx, name, fn)
	}

	if key == "" || g.dedupe == nil {
		return call(ctx)
	}
	return g.dedupe.Dedupe(ctx, key, call)
}

func (g *Guard[T]) call(ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()

	onRetry := retry.ListenerFunc(func(attempt int, err error, delay time.Duration) {
		g.logger.Debug("Retrying call",
			slog.String("dependency", name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("err", err))
		for _, o := range g.observers {
			o.OnRetry(name, attempt, err, delay)
		}
	})

	v, err := circuitbreaker.Run(ctx, g.breakers.Get(name), func(ctx context.Context) (T, error) {
		return retry.Do(ctx, fn, retry.WithPolicy(g.policy), retry.WithListener(onRetry))
	})

	duration := time.Since(start)
	for _, o := range g.observers {
		o.OnCallCompleted(name, duration, err)
	}

	if err != nil && !circuitbreaker.IsOpen(err) {
		g.logger.Warn("Call failed",
			slog.String("dependency", name),
			slog.Duration("duration", duration),
			slog.Any("err", err))
	}

	return v, err
}

// CountsAsFailure is a breaker failure predicate for guarded calls: client
// errors other than 429 and caller cancellations say nothing about the
// dependency's health.
func CountsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *retry.StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}

	return true
}
