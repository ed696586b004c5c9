// Package fallback implements per-step fallback chains (spec §4.4.3): a
// primary target plus an ordered list of alternates, each guarded by a
// predicate over the primary's failure (timeout, unavailable, circuit
// breaker open, or a rolling error rate above a threshold).
package fallback

import (
	"time"

	"github.com/taskmesh/orchestrator/internal/errs"
)

// Predicate names which failure classes authorize falling back.
type Predicate string

const (
	OnTimeout           Predicate = "timeout"
	OnUnavailable        Predicate = "unavailable"
	OnCircuitBreakerOpen Predicate = "circuit_breaker_open"
	OnErrorRateAbove     Predicate = "error_rate_above"
)

// Strategy is one step's fallback configuration.
type Strategy struct {
	Primary string
	// Alternates are tried in order after Primary fails and Predicates
	// authorize a fallback.
	Alternates []string
	Predicates []Predicate
	// ErrorRateThreshold is compared against a rolling failure rate when
	// OnErrorRateAbove is among Predicates (value in [0,1]).
	ErrorRateThreshold float64
}

// Authorizes reports whether err (which occurred calling target) permits
// moving to the next alternate, consulting rate for the OnErrorRateAbove
// predicate.
func (s Strategy) Authorizes(err error, rate float64) bool {
	if err == nil {
		return false
	}
	for _, p := range s.Predicates {
		switch p {
		case OnTimeout:
			if errs.Is(err, errs.KindTimeout) {
				return true
			}
		case OnUnavailable:
			if errs.Is(err, errs.KindSelection) || errs.Is(err, errs.KindInvocation) {
				return true
			}
		case OnCircuitBreakerOpen:
			if errs.Is(err, errs.KindCircuitOpen) {
				return true
			}
		case OnErrorRateAbove:
			if rate > s.ErrorRateThreshold {
				return true
			}
		}
	}
	return false
}

// RollingErrorRate tracks a fixed-size window of recent call outcomes per
// target, used to evaluate OnErrorRateAbove.
type RollingErrorRate struct {
	window  []bool // true = failure
	size    int
	pos     int
	filled  bool
}

// NewRollingErrorRate returns a tracker over the last size outcomes.
func NewRollingErrorRate(size int) *RollingErrorRate {
	if size <= 0 {
		size = 20
	}
	return &RollingErrorRate{window: make([]bool, size), size: size}
}

// Record appends one outcome.
func (r *RollingErrorRate) Record(failed bool) {
	r.window[r.pos] = failed
	r.pos = (r.pos + 1) % r.size
	if r.pos == 0 {
		r.filled = true
	}
}

// Rate returns the fraction of failures in the window observed so far.
func (r *RollingErrorRate) Rate() float64 {
	n := r.size
	if !r.filled {
		n = r.pos
	}
	if n == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < n; i++ {
		if r.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(n)
}

// Targets returns Primary followed by Alternates, the order a caller
// should try them in.
func (s Strategy) Targets() []string {
	return append([]string{s.Primary}, s.Alternates...)
}

// ElapsedExceeds is a small helper for timeout-predicate evaluation at the
// call site, kept here so callers don't duplicate the comparison.
func ElapsedExceeds(start time.Time, budget time.Duration) bool {
	return budget > 0 && time.Since(start) > budget
}
