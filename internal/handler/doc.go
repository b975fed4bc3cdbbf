// Package handler exposes the guarded data sources and the state of the
// resilience layer over HTTP.
//
// Ecosystem requests fetch a user's data from one or more sources through the
// guard, so concurrent identical requests share one upstream call, failing
// sources are cut off by their circuit breaker and transient errors are
// retried. The operational endpoints inspect and reset circuits and
// invalidate cached results.
package handler
