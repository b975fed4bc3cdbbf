package circuitbreaker

// Listener observes a breaker. Callbacks run synchronously on the goroutine
// that caused the event, after the breaker has released its lock, so they may
// call back into the breaker.
type Listener interface {
	OnStateChange(name string, from, to State)
	OnRejected(name string)
}

// StateChangeFunc adapts a function to Listener, ignoring rejections.
type StateChangeFunc func(name string, from, to State)

func (f StateChangeFunc) OnStateChange(name string, from, to State) { f(name, from, to) }
func (f StateChangeFunc) OnRejected(string) {}

// RejectedFunc adapts a function to Listener, ignoring state changes.
type RejectedFunc func(name string)

func (f RejectedFunc) OnStateChange(string, State, State) {}
func (f RejectedFunc) OnRejected(name string) { f(name) }

type notice struct {
	rejected bool
	from, to State
}

func dispatch(listeners []Listener, name string, notices []notice) {
	for _, n := range notices {
		for _, l := range listeners {
			if n.rejected {
				l.OnRejected(name)
			} else {
				l.OnStateChange(name, n.from, n.to)
			}
		}
	}
}
