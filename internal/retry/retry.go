// Package retry wraps fallible operations with bounded retry and
// exponential backoff. Policies are stateless configuration and safe to
// share across concurrent callers.
package retry

import (
	"context"
	"errors"
	"net"
	"time"
)

// Default configuration values.
const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 10 * time.Second
	DefaultMultiplier   = 2.0
)

// Policy holds retry configuration. The zero value is not usable; create
// policies with New.
type Policy struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	retryable    func(error) bool
}

// Option configures a Policy.
type Option func(*Policy)

// WithMaxRetries sets the maximum number of retries. Total attempts are
// maxRetries + 1.
func WithMaxRetries(n int) Option {
	return func(p *Policy) {
		p.maxRetries = n
	}
}

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.initialDelay = d
	}
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.maxDelay = d
	}
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(p *Policy) {
		p.multiplier = m
	}
}

// WithRetryable sets the predicate deciding whether an error is worth
// retrying.
func WithRetryable(pred func(error) bool) Option {
	return func(p *Policy) {
		p.retryable = pred
	}
}

// New creates a Policy with defaults applied.
func New(opts ...Option) *Policy {
	p := &Policy{
		maxRetries:   DefaultMaxRetries,
		initialDelay: DefaultInitialDelay,
		maxDelay:     DefaultMaxDelay,
		multiplier:   DefaultMultiplier,
		retryable:    DefaultRetryable,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Do invokes op until it succeeds, the error is not retryable, retries
// are exhausted, or the context is cancelled. The final error is
// returned unchanged. Backoff: delay n = min(maxDelay,
// initialDelay * multiplier^n), no jitter. Cancellation is honored
// between attempts and during the delay.
func (p *Policy) Do(ctx context.Context, op func(context.Context) error) error {
	delay := p.initialDelay
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = nextDelay(delay, p.multiplier, p.maxDelay)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

// Value is Do for operations returning a value.
func Value[T any](ctx context.Context, p *Policy, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// nextDelay advances the backoff delay, clamped to max.
func nextDelay(d time.Duration, multiplier float64, max time.Duration) time.Duration {
	d = time.Duration(float64(d) * multiplier)
	if d > max {
		d = max
	}
	return d
}

// DefaultRetryable treats transient-tagged errors and network timeouts
// as retryable; context cancellation and everything else is terminal.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var transient interface{ Transient() bool }
	if errors.As(err, &transient) {
		return transient.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
