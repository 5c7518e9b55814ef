// Package circuitbreaker stops calling a read-side store that keeps failing.
// Ledger writes never go through a breaker; only projections do, so an
// unreachable Redis costs one fast ErrCircuitOpen per event instead of a
// full retry cycle.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down has passed.
	StateOpen
	// StateHalfOpen lets a few probe calls through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned without calling fn while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when every half-open probe slot is taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type settings struct {
	failureThreshold int
	successThreshold int
	coolDown         time.Duration
	probes           int
	onStateChange    func(name string, from, to State)
	isFailure        func(error) bool
}

// Option configures a breaker.
type Option func(*settings)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many half-open successes close it again.
func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.successThreshold = n
		}
	}
}

// WithTimeout sets how long the breaker stays open before probing.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.coolDown = d
		}
	}
}

// WithMaxHalfOpenRequests sets how many probes may run at once.
func WithMaxHalfOpenRequests(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.probes = n
		}
	}
}

// WithOnStateChange registers a callback run under the breaker's lock; it
// must not call back into the breaker.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onStateChange = fn }
}

// WithIsFailure decides which errors count. By default every error does.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) { s.isFailure = fn }
}

// Counts are cumulative since creation or the last Reset.
type Counts struct {
	Requests             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  settings
	now  func() time.Time

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	inFlight int
}

// New creates a closed breaker. Defaults: five failures open it for 30s,
// two half-open successes close it, one probe at a time.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{
		failureThreshold: 5,
		successThreshold: 2,
		coolDown:         30 * time.Second,
		probes:           1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, cfg: cfg, now: time.Now}
}

// Execute calls fn unless the breaker rejects the call. fn's error is
// returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.coolDown {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.inFlight >= cb.cfg.probes {
			return ErrTooManyRequests
		}
		cb.inFlight++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++
	if cb.state == StateHalfOpen && cb.inFlight > 0 {
		cb.inFlight--
	}

	failed := err != nil
	if failed && cb.cfg.isFailure != nil {
		failed = cb.cfg.isFailure(err)
	}

	if !failed {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.successThreshold {
			cb.transition(StateClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.cfg.failureThreshold {
		cb.openedAt = cb.now()
		cb.transition(StateOpen)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.counts.ConsecutiveSuccesses = 0
	cb.counts.ConsecutiveFailures = 0
	cb.inFlight = 0
	if cb.cfg.onStateChange != nil {
		cb.cfg.onStateChange(cb.name, from, to)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns the current counts.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and clears its counts without a callback.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.counts = Counts{}
	cb.inFlight = 0
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string { return cb.name }

// IsOpen returns true if the circuit is open.
func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == StateOpen }

// IsClosed returns true if the circuit is closed.
func (cb *CircuitBreaker) IsClosed() bool { return cb.State() == StateClosed }

// ProjectionBreaker returns the breaker guarding ranking publication.
// Two failed publications open it for half a minute. Cancellation is not
// counted.
func ProjectionBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(
		"ranking-projection",
		WithFailureThreshold(2),
		WithSuccessThreshold(1),
		WithTimeout(30*time.Second),
		WithMaxHalfOpenRequests(1),
		WithOnStateChange(onStateChange),
		WithIsFailure(func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}),
	)
}
