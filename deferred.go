package xproxy

import (
	"context"
	"sync"
)

// Deferred is a value that is settled exactly once, from the outside.
// Resolve and Reject may be called from any goroutine; only the first call wins.
type Deferred[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// NewDeferred returns an unsettled Deferred.
func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Resolve settles the Deferred successfully. It reports false if it was already settled.
func (d *Deferred[T]) Resolve(v T) bool {
	settled := false
	d.once.Do(func() {
		d.value = v
		close(d.done)
		settled = true
	})
	return settled
}

// Reject settles the Deferred with err. It reports false if it was already settled.
func (d *Deferred[T]) Reject(err error) bool {
	settled := false
	d.once.Do(func() {
		d.err = err
		close(d.done)
		settled = true
	})
	return settled
}

// Done is closed once the Deferred settles.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// Settled reports whether Resolve or Reject already happened.
func (d *Deferred[T]) Settled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the Deferred settles or ctx is done.
// Giving up on ctx does not settle the Deferred.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the settled outcome without blocking, or ErrPending.
func (d *Deferred[T]) Result() (T, error) {
	select {
	case <-d.done:
		return d.value, d.err
	default:
		var zero T
		return zero, ErrPending
	}
}

// OnDone runs cb in its own goroutine after the Deferred settles.
func (d *Deferred[T]) OnDone(cb func(T, error)) {
	go func() {
		<-d.done
		cb(d.value, d.err)
	}()
}
