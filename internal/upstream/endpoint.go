package upstream

import (
	"net/url"
	"sync"
	"time"
)

// Endpoint is one base URL of a source, with its health and response time
// tracking.
type Endpoint struct {
	url              *url.URL
	mutex            sync.Mutex
	isHealthy        bool
	inFlight         int
	ewmaResponseTime time.Duration
	hasEWMA          bool
}

const ewmaAlpha = 0.2

// NewEndpoint creates an endpoint that starts out healthy.
func NewEndpoint(u *url.URL) *Endpoint {
	return &Endpoint{
		url:       u,
		isHealthy: true,
	}
}

func (e *Endpoint) URL() *url.URL {
	return e.url
}

func (e *Endpoint) acquire() {
	e.mutex.Lock()
	e.inFlight++
	e.mutex.Unlock()
}

func (e *Endpoint) release() {
	e.mutex.Lock()
	if e.inFlight > 0 {
		e.inFlight--
	}
	e.mutex.Unlock()
}

// InFlight returns the number of requests currently running against the
// endpoint.
func (e *Endpoint) InFlight() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.inFlight
}

func (e *Endpoint) IsHealthy() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.isHealthy
}

// SetHealthy updates the health flag and reports whether it changed.
func (e *Endpoint) SetHealthy(healthy bool) (changed bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.isHealthy == healthy {
		return false
	}

	e.isHealthy = healthy
	return true
}

// RecordResponse folds a response time into the moving average.
func (e *Endpoint) RecordResponse(duration time.Duration) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.hasEWMA {
		e.ewmaResponseTime = duration
		e.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	e.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(e.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns 0 until a response has been recorded.
func (e *Endpoint) EWMATime() time.Duration {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.hasEWMA {
		return 0
	}
	return e.ewmaResponseTime
}
