package retry

import (
	"context"
	"errors"
)

// Result is the outcome of Execute. Attempts counts every invocation of the
// operation, including the first one.
type Result[T any] struct {
	Success  bool
	Data     T
	Err      error
	Attempts int
}

// Execute runs fn until it succeeds, fails with an error the classifier
// rejects, or the retry budget is spent. It never panics on failure and never
// returns an error out of band: everything is reported in the Result.
func Execute[T any](ctx context.Context, fn func(context.Context) (T, error), opts ...Option) Result[T] {
	return run(ctx, NewPolicy(opts...), fn)
}

// Do is Execute for call sites that prefer (value, error).
func Do[T any](ctx context.Context, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	res := Execute(ctx, fn, opts...)
	if !res.Success {
		var zero T
		return zero, res.Err
	}
	return res.Data, nil
}

// Wrap returns fn with retries applied on every call.
func Wrap[A, T any](fn func(context.Context, A) (T, error), opts ...Option) func(context.Context, A) (T, error) {
	policy := NewPolicy(opts...)

	return func(ctx context.Context, arg A) (T, error) {
		res := run(ctx, policy, func(ctx context.Context) (T, error) {
			return fn(ctx, arg)
		})
		if !res.Success {
			var zero T
			return zero, res.Err
		}
		return res.Data, nil
	}
}

func run[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) Result[T] {
	attempt := 0

	for {
		attempt++

		data, err := fn(ctx)
		if err == nil {
			return Result[T]{Success: true, Data: data, Attempts: attempt}
		}

		if !p.classifier(err) || attempt >= p.MaxAttempts() {
			return Result[T]{Err: err, Attempts: attempt}
		}

		delay := p.Delay(attempt)
		for _, l := range p.listeners {
			l.OnRetry(attempt, err, delay)
		}

		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return Result[T]{Err: errors.Join(sleepErr, err), Attempts: attempt}
		}
	}
}
