package awaitable

import (
	"context"
	"sync"
)

type listener[T any] struct {
	fn   func(T)
	once bool
}

// Event is a repeatable notification.
type Event[T any] struct {
	mu        sync.Mutex
	listeners []*listener[T]
	missed    func(T)
}

// NewEvent creates an Event. missed, when not nil, runs for triggers nobody listens to.
func NewEvent[T any](missed func(T)) *Event[T] {
	return &Event[T]{missed: missed}
}

// On adds a permanent listener and returns a func that removes it.
func (e *Event[T]) On(fn func(T)) (remove func()) {
	return e.add(&listener[T]{fn: fn})
}

// Once adds a listener that is dropped when the event next fires.
func (e *Event[T]) Once(fn func(T)) (remove func()) {
	return e.add(&listener[T]{fn: fn, once: true})
}

func (e *Event[T]) add(l *listener[T]) func() {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()

	return func() { e.remove(l) }
}

func (e *Event[T]) remove(l *listener[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Trigger may be iterating the old slice.
	kept := make([]*listener[T], 0, len(e.listeners))
	for _, other := range e.listeners {
		if other != l {
			kept = append(kept, other)
		}
	}
	e.listeners = kept
}

// Trigger calls every listener with v, in the order they were added.
func (e *Event[T]) Trigger(v T) {
	e.mu.Lock()
	current := e.listeners
	if len(current) == 0 {
		e.mu.Unlock()
		if e.missed != nil {
			e.missed(v)
		}
		return
	}

	kept := make([]*listener[T], 0, len(current))
	for _, l := range current {
		if !l.once {
			kept = append(kept, l)
		}
	}
	e.listeners = kept
	e.mu.Unlock()

	for _, l := range current {
		l.fn(v)
	}
}

// Next blocks until the event fires or ctx is done.
func (e *Event[T]) Next(ctx context.Context) (T, error) {
	ch := make(chan T, 1)
	remove := e.Once(func(v T) { ch <- v })
	defer remove()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Len returns the number of listeners.
func (e *Event[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}
