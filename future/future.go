// Package future provides a single-producer, multi-subscriber result slot.
//
// A Promise is resolved exactly once; every holder of its Future observes the
// identical value and error. Futures are safe for concurrent use.
package future

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrNotReady is returned by Future.Result when the future has not been
// resolved yet.
var ErrNotReady = errors.New("future is not ready")

// Future is the read side of a Promise.
type Future[T any] struct {
	done chan struct{}
	v    T
	err  error
}

// Promise is the write side of a Future.
type Promise[T any] struct {
	f        *Future[T]
	resolved atomic.Bool
}

// New creates a Promise together with its Future.
//
// Returns:
//   - The Promise used to resolve the result
//   - The Future observing the result
func New[T any]() (*Promise[T], *Future[T]) {
	f := &Future[T]{done: make(chan struct{})}
	return &Promise[T]{f: f}, f
}

// Ready returns an already-resolved Future.
//
// Parameters:
//   - v: The value of the future
//   - err: The error of the future, or nil
//
// Returns:
//   - A resolved Future
func Ready[T any](v T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), v: v, err: err}
	close(f.done)
	return f
}

// Future returns the Future attached to p. Every call returns the same
// Future, so it may be handed to any number of subscribers.
func (p *Promise[T]) Future() *Future[T] {
	return p.f
}

// Resolve sets the result and releases every waiter.
//
// Resolving a Promise more than once is a programming error and panics.
//
// Parameters:
//   - v: The value to publish
//   - err: The error to publish, or nil
func (p *Promise[T]) Resolve(v T, err error) {
	if !p.resolved.CompareAndSwap(false, true) {
		panic("future: promise resolved more than once")
	}

	p.f.v = v
	p.f.err = err
	close(p.f.done)
}

// Done returns a channel that is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsReady reports whether the future has been resolved.
func (f *Future[T]) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the resolved value without blocking. It returns
// ErrNotReady if the future is still pending.
func (f *Future[T]) Result() (T, error) {
	if !f.IsReady() {
		var zero T
		return zero, ErrNotReady
	}
	return f.v, f.err
}

// Get blocks until the future is resolved or ctx is done.
//
// Parameters:
//   - ctx: Context bounding the wait; the computation itself is not affected
//
// Returns:
//   - The resolved value
//   - The resolved error, or ctx.Err() if ctx ended first
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.v, f.err
	default:
	}

	select {
	case <-f.done:
		return f.v, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Wait blocks until the future is resolved.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.v, f.err
}
