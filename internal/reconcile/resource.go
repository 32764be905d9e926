// Package reconcile keeps locally cached views of remote lists consistent
// with a backend that changes state out of band.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
)

type Fetcher[T any] func(ctx context.Context) ([]T, error)

type Snapshot[T any] struct {
	// Seq is the sequence number of the poll that produced Items, 0 before
	// the first successful poll.
	Seq   uint64
	Items []T
	// Optimistic is set while a local hint is overlaid on the last poll.
	Optimistic bool
}

// Resource is the process-wide cache of one remote list. Every poll is
// stamped with a sequence number when issued; a response is applied only if
// no poll with a higher number has been applied already, and it replaces the
// cached list wholesale.
type Resource[T any] struct {
	name  string
	fetch Fetcher[T]

	mu         sync.Mutex
	issued     uint64
	applied    uint64
	items      []T
	optimistic bool
	watchers   map[int]chan struct{}
	nextWatch  int
	onApply    []func([]T)
}

func NewResource[T any](name string, fetch Fetcher[T]) *Resource[T] {
	return &Resource[T]{
		name:     name,
		fetch:    fetch,
		watchers: make(map[int]chan struct{}),
	}
}

func (r *Resource[T]) Name() string {
	return r.name
}

func (r *Resource[T]) next() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued++
	return r.issued
}

// Poll fetches the list and applies it if it is not stale. It returns the
// snapshot visible after the poll and whether this response was applied.
// A failed fetch leaves the cache unchanged.
func (r *Resource[T]) Poll(ctx context.Context) (Snapshot[T], bool, error) {
	seq := r.next()

	items, err := r.fetch(ctx)
	if err != nil {
		slog.Warn("revalidation failed", "resource", r.name, "seq", seq, "error", err)
		return r.Snapshot(), false, err
	}

	applied := r.apply(seq, items)
	return r.Snapshot(), applied, nil
}

func (r *Resource[T]) Revalidate(ctx context.Context) error {
	_, _, err := r.Poll(ctx)
	return err
}

func (r *Resource[T]) apply(seq uint64, items []T) bool {
	r.mu.Lock()
	if seq < r.applied {
		r.mu.Unlock()
		slog.Debug("dropping stale response", "resource", r.name, "seq", seq, "applied", r.applied)
		return false
	}
	r.applied = seq
	r.items = items
	r.optimistic = false
	hooks := append([]func([]T){}, r.onApply...)
	r.notifyLocked()
	r.mu.Unlock()

	for _, hook := range hooks {
		hook(items)
	}
	return true
}

func (r *Resource[T]) Snapshot() Snapshot[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]T, len(r.items))
	copy(items, r.items)
	return Snapshot[T]{Seq: r.applied, Items: items, Optimistic: r.optimistic}
}

func (r *Resource[T]) Items() []T {
	return r.Snapshot().Items
}

// Optimistic overlays a local hint on the cached list. The hint is visible
// until the next poll is applied, which overwrites it.
func (r *Resource[T]) Optimistic(update func([]T) []T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]T, len(r.items))
	copy(items, r.items)
	r.items = update(items)
	r.optimistic = true
	r.notifyLocked()
}

// OnApply registers fn to run after every applied poll, outside the lock.
func (r *Resource[T]) OnApply(fn func([]T)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onApply = append(r.onApply, fn)
}

// Watch returns a channel that receives a value whenever the visible list
// changes. Notifications coalesce; call stop to release the watcher.
func (r *Resource[T]) Watch() (<-chan struct{}, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextWatch
	r.nextWatch++
	ch := make(chan struct{}, 1)
	r.watchers[id] = ch

	var once sync.Once
	stop := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.watchers, id)
		})
	}
	return ch, stop
}

func (r *Resource[T]) notifyLocked() {
	for _, ch := range r.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
