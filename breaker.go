package steward

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's observable state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

const (
	defaultFailureThreshold = 5
	defaultResetTimeout     = 60 * time.Second
)

// Breaker is a three-state circuit breaker guarding one provider. All
// operations are atomic; the open → half_open transition happens inside
// CanExecute/State once the reset timeout has elapsed.
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	lastFailureAt    time.Time
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// FailureThreshold sets the consecutive-failure count that opens the
// circuit (default 5).
func FailureThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.failureThreshold = n }
}

// ResetTimeout sets how long the circuit stays open before allowing a
// half-open probe (default 60s).
func ResetTimeout(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.resetTimeout = d }
}

// breakerClock overrides the breaker's time source, for tests.
func breakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// NewBreaker creates a closed Breaker.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{
		state:            StateClosed,
		failureThreshold: defaultFailureThreshold,
		resetTimeout:     defaultResetTimeout,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CanExecute reports whether a call may proceed. While open, it returns
// false until the reset timeout elapses, at which point the breaker moves to
// half_open and the call is allowed as a probe.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state != StateOpen
}

// RecordSuccess clears the failure count. From half_open it closes the
// circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = StateClosed
}

// RecordFailure increments the failure count. From closed it opens the
// circuit at the threshold; from half_open a single failure re-opens it and
// restarts the reset timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailureAt = b.now()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
	default:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = StateOpen
		}
	}
}

// State returns the current state, applying the open → half_open time check.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// maybeHalfOpen moves open → half_open once the reset timeout has elapsed.
// Caller must hold b.mu.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.lastFailureAt) >= b.resetTimeout {
		b.state = StateHalfOpen
	}
}
