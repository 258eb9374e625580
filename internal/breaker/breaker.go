// Package breaker provides a three-state circuit breaker that gates
// risk-increasing strategy actions under elevated error rates. Reduce-only
// operations are never gated.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Default configuration values.
const (
	DefaultErrorThreshold   = 10
	DefaultErrorWindow      = time.Hour
	DefaultCooldown         = 5 * time.Minute
	DefaultHalfOpenAttempts = 3
)

// Config configures a CircuitBreaker. Zero fields fall back to defaults.
type Config struct {
	ErrorThreshold   int
	ErrorWindow      time.Duration
	Cooldown         time.Duration
	HalfOpenAttempts int

	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time
}

// errorRecord is one timestamped, typed error observation.
type errorRecord struct {
	at      time.Time
	errType string
}

// CircuitBreaker tracks typed errors over a sliding window and exposes
// gating decisions. Pruning is lazy: stale records are dropped on read
// and write paths, never by a background timer. Safe for concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	state             State
	records           []errorRecord
	halfOpenSuccesses int
	lastStateChange   time.Time

	errorThreshold   int
	errorWindow      time.Duration
	cooldown         time.Duration
	halfOpenAttempts int
	clock            func() time.Time
}

// Diagnostics is a consistent snapshot of breaker state.
type Diagnostics struct {
	State             State
	ErrorsInWindow    int
	ErrorThreshold    int
	CooldownRemaining *time.Duration // nil unless OPEN
	LastStateChange   time.Time
	HalfOpenSuccesses int
}

// New creates a CircuitBreaker in the CLOSED state.
func New(cfg Config) *CircuitBreaker {
	if cfg.ErrorThreshold == 0 {
		cfg.ErrorThreshold = DefaultErrorThreshold
	}
	if cfg.ErrorWindow == 0 {
		cfg.ErrorWindow = DefaultErrorWindow
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.HalfOpenAttempts == 0 {
		cfg.HalfOpenAttempts = DefaultHalfOpenAttempts
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	b := &CircuitBreaker{
		state:            StateClosed,
		errorThreshold:   cfg.ErrorThreshold,
		errorWindow:      cfg.ErrorWindow,
		cooldown:         cfg.Cooldown,
		halfOpenAttempts: cfg.HalfOpenAttempts,
		clock:            cfg.Clock,
	}
	b.lastStateChange = b.clock()
	return b
}

// RecordError timestamps and tags an error observation. Reaching the
// error threshold within the window while CLOSED opens the breaker; any
// error while HALF_OPEN reopens it and restarts the cooldown.
func (b *CircuitBreaker) RecordError(errType string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.pruneLocked(now)
	b.records = append(b.records, errorRecord{at: now, errType: errType})

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.halfOpenSuccesses = 0
		b.lastStateChange = now
	case StateClosed:
		if len(b.records) >= b.errorThreshold {
			b.state = StateOpen
			b.lastStateChange = now
		}
	}
}

// RecordSuccess counts a trial success. Meaningful only in HALF_OPEN:
// reaching the configured attempt count closes the breaker and clears
// the error window.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.transitionLocked(now)

	if b.state != StateHalfOpen {
		return
	}
	b.halfOpenSuccesses++
	if b.halfOpenSuccesses >= b.halfOpenAttempts {
		b.state = StateClosed
		b.records = nil
		b.halfOpenSuccesses = 0
		b.lastStateChange = now
	}
}

// State returns the current state. Reading is itself a transition point:
// an OPEN breaker whose cooldown has elapsed becomes HALF_OPEN here.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionLocked(b.clock())
	return b.state
}

// CanOpenNewPosition reports whether risk-increasing actions are allowed:
// true in CLOSED and HALF_OPEN, false in OPEN.
func (b *CircuitBreaker) CanOpenNewPosition() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionLocked(b.clock())
	return b.state == StateClosed || b.state == StateHalfOpen
}

// CanClosePosition reports whether reduce-only actions are allowed.
// Always true: blocking exits during a fault could trap capital.
func (b *CircuitBreaker) CanClosePosition() bool {
	return true
}

// ErrorCountInWindow returns the number of error records inside the
// sliding window.
func (b *CircuitBreaker) ErrorCountInWindow() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked(b.clock())
	return len(b.records)
}

// ErrorBreakdown returns per-type error counts inside the window.
func (b *CircuitBreaker) ErrorBreakdown() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked(b.clock())
	breakdown := make(map[string]int, len(b.records))
	for _, rec := range b.records {
		breakdown[rec.errType]++
	}
	return breakdown
}

// Diagnostics returns a consistent snapshot for status endpoints and
// logs.
func (b *CircuitBreaker) Diagnostics() Diagnostics {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.transitionLocked(now)
	b.pruneLocked(now)

	d := Diagnostics{
		State:             b.state,
		ErrorsInWindow:    len(b.records),
		ErrorThreshold:    b.errorThreshold,
		LastStateChange:   b.lastStateChange,
		HalfOpenSuccesses: b.halfOpenSuccesses,
	}
	if b.state == StateOpen {
		remaining := b.cooldown - now.Sub(b.lastStateChange)
		if remaining < 0 {
			remaining = 0
		}
		d.CooldownRemaining = &remaining
	}
	return d
}

// Reset forces the breaker CLOSED and clears all error history.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.records = nil
	b.halfOpenSuccesses = 0
	b.lastStateChange = b.clock()
}

// ForceState is an administrative override with no side constraints.
func (b *CircuitBreaker) ForceState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = s
	b.halfOpenSuccesses = 0
	b.lastStateChange = b.clock()
}

// transitionLocked applies the time-driven OPEN -> HALF_OPEN transition.
// Callers must hold b.mu.
func (b *CircuitBreaker) transitionLocked(now time.Time) {
	if b.state == StateOpen && now.Sub(b.lastStateChange) >= b.cooldown {
		b.state = StateHalfOpen
		b.halfOpenSuccesses = 0
		b.lastStateChange = now
	}
}

// pruneLocked drops records that have aged out of the window. Callers
// must hold b.mu.
func (b *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.errorWindow)
	i := 0
	for ; i < len(b.records); i++ {
		if b.records[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		b.records = append([]errorRecord(nil), b.records[i:]...)
	}
}
