package awaitable

import (
	"context"
	"sync"
)

// State is a single-resolution result.
type State[T any] struct {
	mu       sync.Mutex
	resolved bool
	value    T
	err      error
	done     chan struct{}

	then *Event[T]
	fail *Event[error]
}

// NewState creates an unresolved State. The missed hooks run when it resolves
// with nobody listening for that outcome; either may be nil.
func NewState[T any](missedThen func(T), missedErr func(error)) *State[T] {
	return &State[T]{
		done: make(chan struct{}),
		then: NewEvent(missedThen),
		fail: NewEvent(missedErr),
	}
}

// Then calls fn with the value once the State succeeds. If it already
// succeeded, fn runs before Then returns.
func (s *State[T]) Then(fn func(T)) (remove func()) {
	s.mu.Lock()
	if s.resolved {
		ok, v := s.err == nil, s.value
		s.mu.Unlock()
		if ok {
			fn(v)
		}
		return func() {}
	}
	defer s.mu.Unlock()
	return s.then.Once(fn)
}

// OnError calls fn with the error once the State fails. If it already failed,
// fn runs before OnError returns.
func (s *State[T]) OnError(fn func(error)) (remove func()) {
	s.mu.Lock()
	if s.resolved {
		err := s.err
		s.mu.Unlock()
		if err != nil {
			fn(err)
		}
		return func() {}
	}
	defer s.mu.Unlock()
	return s.fail.Once(fn)
}

// Succeed resolves the State with v. It reports false if the State was already resolved.
func (s *State[T]) Succeed(v T) bool {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return false
	}
	s.resolved, s.value = true, v
	close(s.done)
	s.mu.Unlock()

	s.then.Trigger(v)
	return true
}

// Fail resolves the State with err. It reports false if the State was already resolved.
func (s *State[T]) Fail(err error) bool {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return false
	}
	s.resolved, s.err = true, err
	close(s.done)
	s.mu.Unlock()

	s.fail.Trigger(err)
	return true
}

// Wait blocks until the State resolves or ctx is done.
func (s *State[T]) Wait(ctx context.Context) (T, error) {
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)

	removeThen := s.Then(func(v T) { ch <- result{value: v} })
	defer removeThen()
	removeErr := s.OnError(func(err error) { ch <- result{err: err} })
	defer removeErr()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed when the State resolves.
func (s *State[T]) Done() <-chan struct{} {
	return s.done
}

// Resolved reports whether the State has succeeded or failed.
func (s *State[T]) Resolved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved
}

// Err returns the failure of a resolved State, or nil.
func (s *State[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
