// Package retry re-runs store operations with exponential backoff and jitter.
// Command handlers use it to repeat read-modify-write cycles after a
// conditional write conflict and to ride out short store outages.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Marked errors steer the default classifier. A Retry-marked error is
// retried, a Stop-marked error ends the loop at once. Both unwrap to the
// original error before they are returned to the caller.
type markedError struct {
	err   error
	retry bool
}

func (e *markedError) Error() string { return e.err.Error() }
func (e *markedError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, retry: true}
}

// Permanent marks err as final regardless of the policy's predicate.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, retry: false}
}

// IsRetryable reports whether err carries a Retryable mark.
func IsRetryable(err error) bool {
	var m *markedError
	return errors.As(err, &m) && m.retry
}

// IsPermanent reports whether err carries a Permanent mark.
func IsPermanent(err error) bool {
	var m *markedError
	return errors.As(err, &m) && !m.retry
}

func unmark(err error) error {
	var m *markedError
	if errors.As(err, &m) {
		return m.err
	}
	return err
}

// Policy describes how many times and how far apart attempts run.
type Policy struct {
	// MaxAttempts counts the first attempt.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter spreads each delay by up to ±Jitter of its value.
	Jitter float64

	// ShouldRetry classifies unmarked errors. Nil retries only
	// Retryable-marked errors.
	ShouldRetry func(error) bool
	// OnRetry runs before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns three attempts starting at 100ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
		Jitter:      0.1,
	}
}

// Option adjusts a Policy.
type Option func(*Policy)

func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.MaxAttempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.BaseDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.MaxDelay = d
		}
	}
}

func WithMultiplier(m float64) Option {
	return func(p *Policy) {
		if m >= 1 {
			p.Multiplier = m
		}
	}
}

// WithJitter sets the jitter fraction, clamped to [0, 1].
func WithJitter(j float64) Option {
	return func(p *Policy) {
		p.Jitter = min(max(j, 0), 1)
	}
}

func WithRetryIf(fn func(error) bool) Option {
	return func(p *Policy) { p.ShouldRetry = fn }
}

func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *Policy) { p.OnRetry = fn }
}

// Retrier runs operations under a Policy. It is safe for concurrent use.
type Retrier struct {
	policy Policy
}

// New builds a Retrier from DefaultPolicy and opts.
func New(opts ...Option) *Retrier {
	p := DefaultPolicy()
	for _, opt := range opts {
		opt(&p)
	}
	return &Retrier{policy: p}
}

// Policy returns the effective policy.
func (r *Retrier) Policy() Policy { return r.policy }

func (r *Retrier) retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if IsRetryable(err) {
		return true
	}
	return r.policy.ShouldRetry != nil && r.policy.ShouldRetry(err)
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx ends. The returned error is stripped of its mark. When ctx
// ends between attempts the last operation error wins over ctx.Err().
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return unmark(lastErr)
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.retryable(err) || attempt >= r.policy.MaxAttempts {
			return unmark(err)
		}

		delay := r.delay(attempt)
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unmark(lastErr)
		case <-timer.C:
		}
	}
}

// delay is BaseDelay*Multiplier^(attempt-1), capped at MaxDelay, then jittered.
func (r *Retrier) delay(attempt int) time.Duration {
	p := r.policy
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(d, 0))
}

// Do runs op with a one-off Retrier.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

// DoValue runs op through r and returns the value of the successful attempt.
func DoValue[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// StoreRetrier suits store read-modify-write cycles: conflicts are retried
// almost immediately with fresh reads and outages back off up to a second.
// Callers pick the retryable errors with WithRetryIf.
func StoreRetrier(opts ...Option) *Retrier {
	base := []Option{
		WithMaxAttempts(5),
		WithInitialDelay(20 * time.Millisecond),
		WithMaxDelay(time.Second),
		WithMultiplier(2),
		WithJitter(0.2),
	}
	return New(append(base, opts...)...)
}
