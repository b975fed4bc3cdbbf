// Package healthcheck brings open circuits back to a trial state without
// waiting out their reset timeout.
//
// The Prober periodically calls the health probe registered for each
// dependency. A dependency whose breaker is OPEN and whose probe succeeds has
// its breaker moved to HALF_OPEN, keeping its lifetime counters; the next
// calls then decide whether it closes. The prober also listens to breaker
// events so that a circuit opening triggers an immediate probe, and it prunes
// expired deduplicator entries on every tick.
package healthcheck
