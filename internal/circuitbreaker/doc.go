// Package circuitbreaker stops calls to a failing dependency until it has had
// time to recover.
//
// A circuit breaker has three states:
//
//   - CLOSED: calls pass through; consecutive failures are counted
//   - OPEN: calls are rejected with *CircuitOpenError
//   - HALF_OPEN: trial calls are admitted after the reset timeout
//
// FailureThreshold consecutive failures open the circuit. After ResetTimeout
// the next call moves it to HALF_OPEN; SuccessThreshold consecutive successes
// close it again and any failure reopens it.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
//	cb := registry.Get("oura")
//	data, err := circuitbreaker.Run(ctx, cb, fetch)
//	if circuitbreaker.IsOpen(err) {
//	    // fail fast
//	}
package circuitbreaker
