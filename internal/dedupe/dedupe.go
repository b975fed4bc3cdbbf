package dedupe

import (
	"container/list"
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// Listener is told about every caller that joined an existing entry instead
// of starting a new operation.
type Listener interface {
	OnDedupe(key string)
}

type ListenerFunc func(key string)

func (f ListenerFunc) OnDedupe(key string) { f(key) }

type options struct {
	listeners []Listener
	now       func() time.Time
}

type Option func(*options)

func WithListener(l Listener) Option {
	return func(o *options) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type entry[T any] struct {
	key     string
	created time.Time
	elem    *list.Element
	done    chan struct{}
	value   T
	err     error
}

type Deduplicator[T any] struct {
	mutex   sync.Mutex
	entries map[string]*entry[T]
	order   *list.List
	config  Config
	opts    options
}

func New[T any](config Config, opts ...Option) *Deduplicator[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Deduplicator[T]{
		entries: make(map[string]*entry[T]),
		order:   list.New(),
		config:  config.normalize(),
		opts:    o,
	}
}

func (d *Deduplicator[T]) Config() Config {
	return d.config
}

// Dedupe returns the outcome of fn for key, running fn only if no live entry
// exists. A caller whose ctx ends first gets ctx.Err(); the operation keeps
// running for the others.
func (d *Deduplicator[T]) Dedupe(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, error) {
	d.mutex.Lock()

	now := d.opts.now()
	if e, ok := d.entries[key]; ok {
		if !d.expired(e, now) {
			d.mutex.Unlock()
			for _, l := range d.opts.listeners {
				l.OnDedupe(key)
			}
			return wait(ctx, e)
		}
		d.remove(e)
	}

	e := &entry[T]{key: key, created: now, done: make(chan struct{})}
	e.elem = d.order.PushBack(e)
	d.entries[key] = e
	d.cleanup(now)

	d.mutex.Unlock()

	go d.run(context.WithoutCancel(ctx), e, fn)

	return wait(ctx, e)
}

func (d *Deduplicator[T]) run(ctx context.Context, e *entry[T], fn func(context.Context) (T, error)) {
	defer close(e.done)
	defer func() {
		if r := recover(); r != nil {
			e.err = fmt.Errorf("dedupe: operation for %q panicked: %v", e.key, r)
			d.forgetFailure(e)
		}
	}()

	e.value, e.err = fn(ctx)
	if e.err != nil {
		d.forgetFailure(e)
	}
}

func (d *Deduplicator[T]) forgetFailure(e *entry[T]) {
	if d.config.CacheFailures {
		return
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.entries[e.key] == e {
		d.remove(e)
	}
}

func wait[T any](ctx context.Context, e *entry[T]) (T, error) {
	select {
	case <-e.done:
		return e.value, e.err
	default:
	}

	select {
	case <-e.done:
		return e.value, e.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Invalidate drops the entry for key. Callers already waiting on it are not
// affected.
func (d *Deduplicator[T]) Invalidate(key string) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	e, ok := d.entries[key]
	if ok {
		d.remove(e)
	}
	return ok
}

// InvalidatePattern drops every entry whose key m matches and returns how
// many were removed.
func (d *Deduplicator[T]) InvalidatePattern(m Matcher) int {
	if re, ok := m.(*regexp.Regexp); m == nil || ok && re == nil {
		return 0
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	removed := 0
	for key, e := range d.entries {
		if m.MatchString(key) {
			d.remove(e)
			removed++
		}
	}
	return removed
}

func (d *Deduplicator[T]) Clear() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	clear(d.entries)
	d.order.Init()
}

// Size counts stored entries, including expired ones not yet cleaned up.
func (d *Deduplicator[T]) Size() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.entries)
}

// Prune drops every expired entry and returns how many were removed.
func (d *Deduplicator[T]) Prune() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.pruneExpired(d.opts.now())
}

// cleanup must be called with the mutex held.
func (d *Deduplicator[T]) cleanup(now time.Time) {
	if len(d.entries) <= d.config.MaxSize {
		return
	}

	d.pruneExpired(now)

	for len(d.entries) > d.config.MaxSize {
		oldest := d.order.Front()
		if oldest == nil {
			return
		}
		d.remove(oldest.Value.(*entry[T]))
	}
}

func (d *Deduplicator[T]) pruneExpired(now time.Time) int {
	removed := 0
	for elem := d.order.Front(); elem != nil; {
		next := elem.Next()
		if e := elem.Value.(*entry[T]); d.expired(e, now) {
			d.remove(e)
			removed++
		}
		elem = next
	}
	return removed
}

func (d *Deduplicator[T]) expired(e *entry[T], now time.Time) bool {
	return now.Sub(e.created) >= d.config.TTL
}

func (d *Deduplicator[T]) remove(e *entry[T]) {
	delete(d.entries, e.key)
	d.order.Remove(e.elem)
}

// Wrap returns fn with calls sharing a key, as computed by keyFn, collapsed
// through a deduplicator built from config.
func Wrap[A, T any](fn func(context.Context, A) (T, error), keyFn func(A) string, config Config, opts ...Option) func(context.Context, A) (T, error) {
	d := New[T](config, opts...)

	return func(ctx context.Context, arg A) (T, error) {
		return d.Dedupe(ctx, keyFn(arg), func(ctx context.Context) (T, error) {
			return fn(ctx, arg)
		})
	}
}
