// Package resilience provides the explicit retry and circuit-breaker policies
// wrapped around order submission. Both are plain policy objects composed at
// the call site, so each is unit-testable in isolation from the business logic.
package resilience

import (
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// ErrCircuitOpen is returned by Breaker.Allow callers when the breaker is
// short-circuiting calls to the fallback path.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
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

// BreakerConfig tunes the rolling failure-rate accounting.
type BreakerConfig struct {
	// Window is the rolling interval over which call outcomes are counted.
	Window time.Duration
	// Cooldown is how long the breaker stays open before allowing a trial call.
	Cooldown time.Duration
	// FailureRatio opens the breaker once failures/total meets or exceeds it.
	FailureRatio float64
	// MinCalls is the minimum number of calls in the window before the ratio
	// is evaluated, so a single early failure cannot open the breaker.
	MinCalls int
}

// DefaultBreakerConfig mirrors the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:       30 * time.Second,
		Cooldown:     15 * time.Second,
		FailureRatio: 0.5,
		MinCalls:     4,
	}
}

// Breaker is a mutex-guarded circuit breaker. The counters are the only
// mutable state shared across concurrent order submissions; every read of the
// open/closed decision happens under the same lock as state transitions, so
// a caller never observes an open state past the cooldown boundary.
//
// The lock is held only for counter updates and transitions, never across
// the guarded call itself.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu            sync.Mutex
	state         BreakerState
	windowStart   time.Time
	successes     int
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// NewBreaker creates a closed Breaker with the given configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg: cfg,
		now: time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it flips to
// half-open once the cooldown has elapsed and admits exactly one trial call;
// further calls are rejected until the trial resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		b.rotateWindow(now)
		return true
	case StateOpen:
		if now.Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful guarded call. A successful half-open
// trial closes the breaker and resets the window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.successes++
	case StateHalfOpen:
		b.reset(b.now())
	}
}

// RecordFailure records a failed guarded call. In the closed state the rolling
// ratio is evaluated; a failed half-open trial re-opens for another cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		b.rotateWindow(now)
		b.failures++
		total := b.successes + b.failures
		if total >= b.cfg.MinCalls && float64(b.failures)/float64(total) >= b.cfg.FailureRatio {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.trialInFlight = false
	}
}

// State returns the current state. Exposed for tests and health reporting.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// rotateWindow drops stale counters once the rolling window has elapsed.
// Caller must hold b.mu.
func (b *Breaker) rotateWindow(now time.Time) {
	if b.windowStart.IsZero() {
		b.windowStart = now
		return
	}
	if now.Sub(b.windowStart) >= b.cfg.Window {
		b.windowStart = now
		b.successes = 0
		b.failures = 0
	}
}

// reset returns the breaker to a fresh closed state. Caller must hold b.mu.
func (b *Breaker) reset(now time.Time) {
	b.state = StateClosed
	b.windowStart = now
	b.successes = 0
	b.failures = 0
	b.trialInFlight = false
}
