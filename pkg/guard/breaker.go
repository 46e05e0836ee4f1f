// Package guard implements the supervision primitives around the streaming
// engine: a circuit breaker guarding processing calls, a watermarked
// backpressure queue around output, and a supervisor that restarts failed
// workers under a bounded budget.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vulpeslabs/redaction-plane/internal/metrics"
)

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// BreakerConfig contains configuration for one circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" default:"5"`
	// ResetTimeout is the cooldown before an open circuit admits a trial
	// call.
	ResetTimeout time.Duration `json:"reset_timeout" yaml:"reset_timeout" default:"30s"`
	// SuccessThreshold is the consecutive-success count that closes a
	// half-open circuit.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold" default:"2"`
	// OperationTimeout bounds one guarded call; exceeding it counts as a
	// failure. Zero disables the per-call timeout.
	OperationTimeout time.Duration `json:"operation_timeout" yaml:"operation_timeout" default:"5s"`
}

// CircuitOpenError is the typed rejection for calls made while the circuit
// is open. It is a signal, not a generic failure: RetryAt carries the
// earliest time a trial call will be admitted.
type CircuitOpenError struct {
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open, retry at %s", e.RetryAt.Format(time.RFC3339))
}

// Breaker is a circuit breaker guarding one worker's processing calls.
// States move CLOSED -> OPEN -> HALF_OPEN -> CLOSED. Safe for concurrent
// use.
type Breaker struct {
	cfg    *BreakerConfig
	metric *metrics.Handler

	mu        sync.Mutex
	state     string
	failures  int
	successes int
	retryAt   time.Time

	now func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg *BreakerConfig, metric *metrics.Handler) *Breaker {
	return &Breaker{
		cfg:    cfg,
		metric: metric,
		state:  StateClosed,
		now:    time.Now,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn under the breaker. An open circuit rejects immediately with
// *CircuitOpenError; otherwise fn runs with the operation timeout applied
// and its outcome feeds the state machine.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := b.invoke(ctx, fn)
	b.record(err)
	return err
}

// invoke runs fn bounded by the operation timeout. A call that outlives the
// timeout is abandoned; its context is cancelled and the timeout counts as
// the call's failure.
func (b *Breaker) invoke(ctx context.Context, fn func(context.Context) error) error {
	if b.cfg.OperationTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.OperationTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// allow admits or rejects a call. An open circuit past its cooldown moves to
// half-open and admits the call as a trial.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Before(b.retryAt) {
			return &CircuitOpenError{RetryAt: b.retryAt}
		}
		b.transition(StateHalfOpen)
		b.successes = 0
	}
	return nil
}

// record feeds one call outcome into the state machine.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		switch b.state {
		case StateHalfOpen:
			// Any half-open failure reopens immediately.
			b.open()
		default:
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				b.open()
			}
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
			b.failures = 0
			b.successes = 0
		}
	default:
		b.failures = 0
	}
}

func (b *Breaker) open() {
	b.transition(StateOpen)
	b.retryAt = b.now().Add(b.cfg.ResetTimeout)
}

// transition moves to a new state and records the edge. Caller holds mu.
func (b *Breaker) transition(to string) {
	if b.state == to {
		return
	}
	if b.metric != nil {
		b.metric.IncBreakerTransitions(b.state, to)
	}
	b.state = to
}
