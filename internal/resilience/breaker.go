// Package resilience guards calls to the helper process with circuit
// breakers and bounded retries.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// State represents circuit breaker state
type State uint32

const (
	Closed   State = iota // calls flow
	Open                  // calls fail fast
	HalfOpen              // probing recovery
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned while a breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

// Snapshot is a point-in-time view of a breaker, reported by /health.
type Snapshot struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

// Breaker implements the circuit breaker pattern with atomic state.
// Each helper method gets its own breaker so a failing translator does not
// stop recognition.
type Breaker struct {
	name          string
	cfg           Config
	state         atomic.Uint32
	failures      atomic.Int32
	successes     atomic.Int32
	lastFailure   atomic.Int64 // unix nano
	onStateChange func(name string, from, to State)
}

// New creates a named breaker.
func New(name string, cfg Config) *Breaker {
	b := &Breaker{name: name, cfg: cfg.withDefaults()}
	b.state.Store(uint32(Closed))
	return b
}

// WithHook sets a state change callback.
func (b *Breaker) WithHook(fn func(name string, from, to State)) *Breaker {
	b.onStateChange = fn
	return b
}

func (b *Breaker) Name() string { return b.name }

// Allow returns nil if a call may proceed.
func (b *Breaker) Allow() error {
	switch State(b.state.Load()) {
	case Open:
		if b.shouldAttemptReset() {
			b.transition(Open, HalfOpen)
			return nil
		}
		return ErrOpen
	default:
		return nil
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	switch State(b.state.Load()) {
	case HalfOpen:
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.transition(HalfOpen, Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.lastFailure.Store(time.Now().UnixNano())
	count := b.failures.Add(1)

	switch State(b.state.Load()) {
	case HalfOpen:
		b.transition(HalfOpen, Open)
	case Closed:
		if count >= int32(b.cfg.Threshold) {
			b.transition(Closed, Open)
		}
	}
}

// Record classifies err: nil is a success, a caller-side error (see
// Config.IsFailure) leaves the breaker untouched, anything else is a failure.
func (b *Breaker) Record(err error) {
	switch {
	case err == nil:
		b.Success()
	case b.cfg.IsFailure(err):
		b.Failure()
	}
}

func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Snapshot reports the breaker's current state.
func (b *Breaker) Snapshot() Snapshot {
	s := Snapshot{
		Name:     b.name,
		State:    b.State().String(),
		Failures: int(b.failures.Load()),
	}
	if last := b.lastFailure.Load(); last != 0 {
		s.LastFailure = time.Unix(0, last)
	}
	return s
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.transition(b.State(), Closed)
}

// transition moves from -> to; it is a no-op if another goroutine already
// moved the breaker out of from.
func (b *Breaker) transition(from, to State) {
	if from == to || !b.state.CompareAndSwap(uint32(from), uint32(to)) {
		return
	}

	switch to {
	case Closed:
		b.failures.Store(0)
		b.successes.Store(0)
		slog.Info("circuit breaker closed", "breaker", b.name)
	case Open:
		b.successes.Store(0)
		slog.Warn("circuit breaker opened", "breaker", b.name, "failures", b.failures.Load())
	case HalfOpen:
		b.successes.Store(0)
		slog.Info("circuit breaker half-open", "breaker", b.name)
	}

	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

func (b *Breaker) shouldAttemptReset() bool {
	last := b.lastFailure.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) > b.cfg.ResetTimeout
}

// Execute runs fn with circuit breaker protection.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Record(err)
	return err
}

// ExecuteWithResult runs fn returning a value with circuit breaker protection.
func ExecuteWithResult[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	result, err := fn()
	b.Record(err)
	if err != nil {
		return zero, err
	}
	return result, nil
}

// Call retries fn under cfg, each attempt guarded by b. An open breaker
// ends the retry loop immediately.
func Call[T any](ctx context.Context, b *Breaker, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var result T
	next := cfg.IsRetryable
	cfg.IsRetryable = func(err error) bool {
		if errors.Is(err, ErrOpen) {
			return false
		}
		if next == nil {
			return IsRetryableGRPC(err)
		}
		return next(err)
	}
	err := Retry(ctx, cfg, func() error {
		r, err := ExecuteWithResult(b, func() (T, error) { return fn(ctx) })
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}
