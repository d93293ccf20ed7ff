// Package resilience provides the reconnect timing policy and the circuit
// breaker that decides when a session gives up on the live channel.
//
// [ReconnectPolicy] answers "how long until the next attempt, and is there
// one?". [CircuitBreaker] is a classic three-state breaker (closed → open →
// half-open) fed with the outcome of each connection attempt; once it opens,
// the session controller stops waiting for the channel and falls back to
// simulated mode.
//
// All types are safe for concurrent use.
package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/livetranslate/internal/clock"
)

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state: failures are being counted
	// but the protected resource is still considered usable.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	StateOpen

	// StateHalfOpen is entered once the reset timeout has elapsed after
	// tripping. The next recorded outcome decides between closed and open.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before reporting
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// Clock supplies the current time. Defaults to the real clock.
	Clock clock.Clock
}

// CircuitBreaker implements the three-state circuit breaker pattern over
// explicitly recorded outcomes. Callers report each attempt with
// [CircuitBreaker.Record] and consult [CircuitBreaker.State].
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	clk          clock.Clock

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with sensible defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		clk:          clock.OrReal(cfg.Clock),
		state:        StateClosed,
	}
}

// Record feeds the outcome of one attempt into the breaker. A nil err counts
// as a success. It returns the state after recording.
func (cb *CircuitBreaker) Record(err error) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	inHalfOpen := cb.currentState() == StateHalfOpen
	if err != nil {
		cb.recordFailure(inHalfOpen)
	} else {
		cb.recordSuccess(inHalfOpen)
	}
	return cb.state
}

// recordFailure handles failure accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(inHalfOpen bool) {
	cb.lastFailure = cb.clk.Now()

	if inHalfOpen {
		cb.state = StateOpen
		cb.consecutiveFail = cb.maxFailures
		slog.Warn("circuit breaker re-opened from half-open", "name", cb.name)
		return
	}

	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.consecutiveFail)
	}
}

// recordSuccess handles success accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(inHalfOpen bool) {
	if inHalfOpen || cb.state == StateOpen {
		slog.Info("circuit breaker closed after successful attempt", "name", cb.name)
	}
	cb.state = StateClosed
	cb.consecutiveFail = 0
}

// currentState resolves the open → half-open transition. Must be called with
// cb.mu held.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && cb.clk.Now().Sub(cb.lastFailure) >= cb.resetTimeout {
		cb.state = StateHalfOpen
		slog.Info("circuit breaker transitioning to half-open", "name", cb.name)
	}
	return cb.state
}

// State returns the current [State] of the breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFail
}

// Reset manually forces the breaker back to [StateClosed], clearing all failure
// counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFail = 0
	slog.Debug("circuit breaker reset", "name", cb.name)
}
