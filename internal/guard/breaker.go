package guard

import (
	"sync"
	"time"

	"tickerd/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker guards the persistence/exchange path. Consecutive
// failures inside the error window open the circuit; after Timeout one
// trial call is let through (half-open). DegradeAfter consecutive
// failures, before the circuit opens, flips the breaker into partial
// degradation where callers should prefer cached responses.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	threshold     int
	degradeAfter  int
	errorWindow   time.Duration
	timeout       time.Duration
	firstFailure  time.Time
	lastFailure   time.Time
	openedAt      time.Time
	name          string
	onStateChange func(name string, from, to State)
}

func NewCircuitBreaker(name string, threshold int, timeout, errorWindow time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		degradeAfter: 3,
		errorWindow:  errorWindow,
		timeout:      timeout,
		state:        StateClosed,
	}
}

func (cb *CircuitBreaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = handler
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) > cb.timeout {
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateClosed)
		cb.failures = 0
	case StateClosed:
		cb.failures = 0
	}
	cb.firstFailure = time.Time{}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	if cb.errorWindow > 0 && !cb.firstFailure.IsZero() && now.Sub(cb.firstFailure) > cb.errorWindow {
		// Stale streak, this failure starts a fresh window.
		cb.failures = 0
		cb.firstFailure = time.Time{}
	}
	if cb.firstFailure.IsZero() {
		cb.firstFailure = now
	}
	cb.failures++
	cb.lastFailure = now

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.openedAt = now
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.openedAt = now
		cb.transition(StateOpen)
	}
}

// Degraded reports partial degradation: an active failure streak that
// has not yet opened the circuit.
func (cb *CircuitBreaker) Degraded() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == StateClosed && cb.failures >= cb.degradeAfter
}

func (cb *CircuitBreaker) Snapshot() (state State, failures int, openedAt time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failures, cb.openedAt
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, from, to)
	} else {
		logger.Warnf("CircuitBreaker %s state change: %s -> %s (failures=%d/%d, timeout=%s)",
			cb.name, from, to, cb.failures, cb.threshold, cb.timeout)
	}
}
