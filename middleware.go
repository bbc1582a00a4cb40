package xproxy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig controls retry behavior for handler middleware.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first execution.
	MaxAttempts int
	// Backoff computes the base wait before the next attempt.
	Backoff func(attempt int) time.Duration
	// RetryIf, when provided, returns true if the error should be retried.
	// If nil, all errors are retried (bounded by MaxAttempts).
	RetryIf func(err error) bool
	// Jitter adds up to [0, Jitter] random delay to the base backoff.
	Jitter time.Duration
}

// RetryMiddleware provides bounded, selective retries around a handler.
func RetryMiddleware(cfg RetryConfig) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (any, error) {
			attempts := cfg.MaxAttempts
			if attempts < 1 {
				attempts = 1
			}
			shouldRetry := cfg.RetryIf
			if shouldRetry == nil {
				shouldRetry = func(error) bool { return true }
			}

			var (
				result  any
				lastErr error
			)
			for i := 1; i <= attempts; i++ {
				result, lastErr = next(ctx, req)
				if lastErr == nil {
					return result, nil
				}
				if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, lastErr
				}
				if i == attempts || !shouldRetry(lastErr) {
					return nil, lastErr
				}
				if cfg.Backoff != nil {
					wait := cfg.Backoff(i)
					if cfg.Jitter > 0 {
						wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
					}
					select {
					case <-ctx.Done():
						return nil, lastErr
					case <-time.After(wait):
					}
				}
			}
			return nil, lastErr
		}
	}
}

// TimeoutMiddleware bounds how long a handler may take before the request
// is answered with context.DeadlineExceeded.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next Handler) Handler { return next }
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (any, error) {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			type outcome struct {
				result any
				err    error
			}
			ch := make(chan outcome, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						ch <- outcome{err: fmt.Errorf("%w: %v", ErrHandlerPanic, r)}
					}
				}()
				res, err := next(tctx, req)
				ch <- outcome{result: res, err: err}
			}()

			select {
			case <-tctx.Done():
				return nil, tctx.Err()
			case o := <-ch:
				return o.result, o.err
			}
		}
	}
}

// RecoveryMiddleware turns handler panics into errors so the counterpart still gets a reply.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					result = nil
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// Chain composes middlewares around a handler in order.
func Chain(h Handler, mws ...Middleware) Handler {
	if len(mws) == 0 {
		return h
	}
	wrapped := h
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
