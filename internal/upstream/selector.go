package upstream

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

const (
	StrategyRoundRobin    = "round-robin"
	StrategyRandom        = "random"
	StrategyLeastConn     = "least-conn"
	StrategyLeastResponse = "least-response"
	StrategyHash          = "consistent-hash"
)

var ErrUnknownStrategy = errors.New("unknown selection strategy")

// Strategies lists every name NewSelector accepts.
var Strategies = []string{StrategyRoundRobin, StrategyRandom, StrategyLeastConn, StrategyLeastResponse, StrategyHash}

// Selector picks the endpoint for the next request. key identifies the user
// the request is for; only key-aware strategies look at it. Select returns nil
// only for an empty slice.
type Selector interface {
	Select(endpoints []*Endpoint, key string) *Endpoint
}

// NewSelector returns the strategy registered under name. An empty name
// means round-robin.
func NewSelector(name string) (Selector, error) {
	switch name {
	case "", StrategyRoundRobin:
		return &roundRobin{}, nil
	case StrategyRandom:
		return randomChoice{}, nil
	case StrategyLeastConn:
		return leastConn{}, nil
	case StrategyLeastResponse:
		return leastResponse{}, nil
	case StrategyHash:
		return newConsistentHash(defaultVirtualNodes), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

type roundRobin struct {
	current atomic.Uint64
}

func (rr *roundRobin) Select(endpoints []*Endpoint, _ string) *Endpoint {
	if len(endpoints) == 0 {
		return nil
	}

	n := rr.current.Add(1)
	return endpoints[(n-1)%uint64(len(endpoints))]
}

type randomChoice struct{}

func (randomChoice) Select(endpoints []*Endpoint, _ string) *Endpoint {
	if len(endpoints) == 0 {
		return nil
	}
	return endpoints[rand.IntN(len(endpoints))]
}

type leastConn struct{}

func (leastConn) Select(endpoints []*Endpoint, _ string) *Endpoint {
	var best *Endpoint
	bestConns := math.MaxInt

	for _, e := range endpoints {
		if n := e.InFlight(); n < bestConns {
			bestConns = n
			best = e
		}
	}
	return best
}

type leastResponse struct{}

func (leastResponse) Select(endpoints []*Endpoint, _ string) *Endpoint {
	var (
		chosen *Endpoint
		best   time.Duration
	)

	for _, e := range endpoints {
		ewma := e.EWMATime()
		if ewma == 0 {
			return e
		}

		score := ewma * (time.Duration(e.InFlight()) + 1)
		if chosen == nil || score < best {
			chosen = e
			best = score
		}
	}
	return chosen
}
