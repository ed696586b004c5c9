// Package breaker implements the per-target circuit breaker from spec
// §4.4.2: closed/open/half-open state machine driven by consecutive
// failure/success counts, grounded on the pack's rate-based adaptive
// breaker but simplified to the spec's plain threshold semantics (see
// DESIGN.md). Registry.WithMetrics wires circuit_open_total/
// circuit_closed_total counters the way the SWARM pack-mate's
// CircuitBreaker.transitionToOpen/reset do.
package breaker

import (
	"sync"
	"time"

	"github.com/taskmesh/orchestrator/internal/telemetry"
)

// State is one of the three circuit states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config configures one breaker instance.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker from Closed to Open.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in HalfOpen
	// required to close the breaker again.
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays Open before moving to
	// HalfOpen and letting up to HalfOpenMaxCalls trial calls through.
	OpenTimeout time.Duration
	// HalfOpenMaxCalls bounds how many trial calls may be in flight while
	// HalfOpen; additional calls are rejected until one resolves.
	HalfOpenMaxCalls int
}

// DefaultConfig matches the spec's suggested defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// ErrOpen is returned by Allow when the breaker is rejecting calls.
type ErrOpen struct{ Target string }

func (e *ErrOpen) Error() string { return "circuit breaker open for " + e.Target }

// Breaker is one target's state machine. Not safe to copy after first use.
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	state  State
	target string

	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	halfOpenInFlight     int

	now     func() time.Time
	metrics telemetry.Metrics
}

func New(target string, cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: Closed, target: target, now: time.Now}
}

// State reports the current state, transitioning Open->HalfOpen first if
// OpenTimeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpen()
	return b.state
}

// Allow reports whether a call may proceed, reserving a half-open slot if
// applicable. Call Success or Failure exactly once for every Allow that
// returns nil.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpen()

	switch b.state {
	case Open:
		return &ErrOpen{Target: b.target}
	case HalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxCalls {
			return &ErrOpen{Target: b.target}
		}
		b.halfOpenInFlight++
		return nil
	default:
		return nil
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenInFlight--
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.toClosed()
		}
	case Closed:
		b.consecutiveFailures = 0
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenInFlight--
		b.toOpen()
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.toOpen()
		}
	}
}

func (b *Breaker) maybeTransitionToHalfOpen() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.state = HalfOpen
		b.consecutiveSuccesses = 0
		b.halfOpenInFlight = 0
	}
}

func (b *Breaker) toOpen() {
	b.state = Open
	b.openedAt = b.now()
	b.consecutiveSuccesses = 0
	b.halfOpenInFlight = 0
	if b.metrics != nil {
		b.metrics.IncCounter("circuit_open_total", 1, "target", b.target)
	}
}

func (b *Breaker) toClosed() {
	b.state = Closed
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.halfOpenInFlight = 0
	if b.metrics != nil {
		b.metrics.IncCounter("circuit_closed_total", 1, "target", b.target)
	}
}

// Registry lazily instantiates one Breaker per target string (spec §4.4.2:
// "a circuit breaker per agent/capability target").
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
	metrics  telemetry.Metrics
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// WithMetrics attaches a metrics sink; every Breaker created afterward (and
// every Breaker already vended by For) reports circuit_open_total /
// circuit_closed_total transitions against it.
func (r *Registry) WithMetrics(m telemetry.Metrics) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
	for _, b := range r.breakers {
		b.metrics = m
	}
	return r
}

// For returns the Breaker for target, creating it on first use.
func (r *Registry) For(target string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[target]
	if !ok {
		b = New(target, r.cfg)
		b.metrics = r.metrics
		r.breakers[target] = b
	}
	return b
}
