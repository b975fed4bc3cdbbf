// Package dedupe collapses concurrent calls that share a key into a single
// execution and keeps the outcome for a short TTL.
//
// The first caller for a key starts the operation; everyone arriving while the
// entry is alive waits for and receives the same value or the same error. The
// operation runs detached from the first caller's cancellation, so a caller
// that gives up does not fail the others.
package dedupe
