// Package retry runs an operation again after transient failures, with
// exponential backoff and jitter. Used around storage checkpoints and
// projection writes, never inside the ledger itself.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// marked carries an explicit retry decision made by the operation.
type marked struct {
	err   error
	retry bool
}

func (e *marked) Error() string { return e.err.Error() }
func (e *marked) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt. Nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, retry: true}
}

// Permanent marks err as final even when the retry predicate would accept
// it. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var m *marked
	return errors.As(err, &m) && m.retry
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var m *marked
	return errors.As(err, &m) && !m.retry
}

// unmark strips the outermost marker so callers see their own error.
func unmark(err error) error {
	if m, ok := err.(*marked); ok {
		return m.err
	}
	return err
}

type policy struct {
	attempts   int
	initial    time.Duration
	ceiling    time.Duration
	multiplier float64
	jitter     float64
	retryIf    func(error) bool
	onRetry    func(attempt int, err error, delay time.Duration)
}

// Option configures a Retrier.
type Option func(*policy)

// WithMaxAttempts sets the total number of attempts, the first included.
func WithMaxAttempts(n int) Option {
	return func(p *policy) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithInitialDelay sets the wait before the second attempt.
func WithInitialDelay(d time.Duration) Option {
	return func(p *policy) {
		if d > 0 {
			p.initial = d
		}
	}
}

// WithMaxDelay caps the wait between attempts.
func WithMaxDelay(d time.Duration) Option {
	return func(p *policy) {
		if d > 0 {
			p.ceiling = d
		}
	}
}

// WithMultiplier sets the backoff growth factor; values below 1 are ignored.
func WithMultiplier(m float64) Option {
	return func(p *policy) {
		if m >= 1 {
			p.multiplier = m
		}
	}
}

// WithJitter spreads each delay by up to ±j of itself, 0 ≤ j ≤ 1.
func WithJitter(j float64) Option {
	return func(p *policy) {
		if j >= 0 && j <= 1 {
			p.jitter = j
		}
	}
}

// WithRetryIf decides which unmarked errors are retried. Without it only
// errors marked Retryable are.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *policy) { p.retryIf = fn }
}

// WithOnRetry is called before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *policy) { p.onRetry = fn }
}

// Retrier is immutable and safe for concurrent use.
type Retrier struct {
	p policy
}

// New creates a Retrier: three attempts starting at 100ms, doubling up to
// 30s with 10% jitter.
func New(opts ...Option) *Retrier {
	p := policy{
		attempts:   3,
		initial:    100 * time.Millisecond,
		ceiling:    30 * time.Second,
		multiplier: 2,
		jitter:     0.1,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return &Retrier{p: p}
}

func (r *Retrier) shouldRetry(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if IsRetryable(err) {
		return true
	}
	return r.p.retryIf != nil && r.p.retryIf(err)
}

// Do runs op until it succeeds, returns an error that is not retried, the
// attempts run out or ctx is done. The last error of op is returned with
// its marker removed; ctx.Err() is returned only when op never ran.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return unmark(last)
			}
			return err
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if attempt >= r.p.attempts || !r.shouldRetry(last) {
			return unmark(last)
		}

		delay := r.backoff(attempt)
		if r.p.onRetry != nil {
			r.p.onRetry(attempt, last, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unmark(last)
		case <-timer.C:
		}
	}
}

// backoff returns the wait after the given failed attempt.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := float64(r.p.initial)
	for i := 1; i < attempt && d < float64(r.p.ceiling); i++ {
		d *= r.p.multiplier
	}
	if d > float64(r.p.ceiling) {
		d = float64(r.p.ceiling)
	}
	if r.p.jitter > 0 {
		d += d * r.p.jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(d, 0))
}

// Do runs op with a Retrier built from opts.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var out T
	err := New(opts...).Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = op(ctx)
		return err
	})
	return out, err
}

// StorageRetrier returns the Retrier for class checkpoints to Postgres or
// SQLite. retryIf selects the transient storage errors.
func StorageRetrier(retryIf func(error) bool, opts ...Option) *Retrier {
	base := []Option{
		WithMaxAttempts(3),
		WithInitialDelay(50 * time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.05),
		WithRetryIf(retryIf),
	}
	return New(append(base, opts...)...)
}

// ProjectionRetrier returns the Retrier for best-effort Redis writes.
func ProjectionRetrier(opts ...Option) *Retrier {
	base := []Option{
		WithMaxAttempts(2),
		WithInitialDelay(100 * time.Millisecond),
		WithMaxDelay(500 * time.Millisecond),
		WithMultiplier(1.5),
	}
	return New(append(base, opts...)...)
}
