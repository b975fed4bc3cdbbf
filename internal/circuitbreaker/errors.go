package circuitbreaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrOpen matches every rejection produced by an open breaker.
var ErrOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned instead of running the call while the breaker
// is OPEN. RetryAfter is how long until a trial call would be admitted.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrOpen
}

// IsOpen reports whether err is, or wraps, a rejection from an open breaker.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}
