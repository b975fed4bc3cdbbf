// Package upstream talks to the third-party data sources the service fetches
// from.
//
// A Source is a named dependency (a wearable vendor, a calendar bridge) served
// by one or more endpoints. Each fetch picks an endpoint with the source's
// selection strategy, preferring endpoints whose last request or probe
// succeeded:
//
//   - round-robin: sequential distribution across endpoints
//   - random: uniform random choice
//   - least-conn: fewest requests in flight
//   - least-response: lowest EWMA response time weighted by requests in flight
//
// Responses outside the 2xx range are returned as *retry.StatusError so the
// retry classifier can tell rate limiting and server errors from terminal
// failures.
package upstream
