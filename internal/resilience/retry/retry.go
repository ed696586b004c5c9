// Package retry implements the per-step retry strategies from spec §4.4.1:
// exponential, linear, fixed, and random-jittered backoff, all clamped to a
// configured max delay and bounded by a max attempt count. It wraps
// cenkalti/backoff/v4 the way the teacher's A2A client wraps its own
// hand-rolled backoff loop around a retryable operation.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Strategy names the backoff shape (spec §4.4.1).
type Strategy string

const (
	Exponential Strategy = "exponential"
	Linear      Strategy = "linear"
	Fixed       Strategy = "fixed"
	Random      Strategy = "random"
)

// Policy configures one step's retry behavior.
type Policy struct {
	Strategy    Strategy
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Multiplier scales each successive delay for Exponential; unused
	// otherwise. Defaults to 2 when zero.
	Multiplier float64
}

// DefaultPolicy mirrors the teacher's DefaultConfig: three attempts,
// exponential backoff starting at 100ms, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		Strategy:    Exponential,
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
	}
}

// ExhaustedError reports that every attempt failed.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return "retry: exhausted " + itoa(e.Attempts) + " attempts after " + e.Elapsed.String() + ": " + e.LastErr.Error()
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Do runs fn under the policy, retrying while fn returns a retryable error
// (per isRetryable) until MaxAttempts is reached or ctx is cancelled. A
// non-retryable error returns immediately, unwrapped.
func Do(ctx context.Context, p Policy, isRetryable func(error) bool, fn func(ctx context.Context) error) error {
	b := backOffFor(p)
	b = backoff.WithContext(b, ctx)
	if p.MaxAttempts > 0 {
		b = backoffWithMaxAttempts(b, p.MaxAttempts)
	}

	start := time.Now()
	attempts := 0
	var lastErr error
	permanent := false

	op := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable != nil && !isRetryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, b)
	if err == nil {
		return nil
	}
	if permanent {
		return lastErr
	}
	return &ExhaustedError{Attempts: attempts, Elapsed: time.Since(start), LastErr: lastErr}
}

func backOffFor(p Policy) backoff.BackOff {
	max := p.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}
	switch p.Strategy {
	case Linear:
		return &linearBackOff{base: p.BaseDelay, max: max}
	case Fixed:
		return &boundedConstant{delay: p.BaseDelay, max: max}
	case Random:
		return &randomBackOff{base: p.BaseDelay, max: max}
	case Exponential:
		fallthrough
	default:
		mult := p.Multiplier
		if mult <= 0 {
			mult = 2
		}
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.BaseDelay
		eb.Multiplier = mult
		eb.MaxInterval = max
		eb.RandomizationFactor = 0 // keep every delay within MaxInterval
		eb.MaxElapsedTime = 0 // bounded by MaxAttempts, not elapsed wall time
		return eb
	}
}

// linearBackOff grows the delay by a fixed base increment each attempt,
// clamped to max.
type linearBackOff struct {
	base, max time.Duration
	attempt   int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	d := time.Duration(l.attempt) * l.base
	if d > l.max {
		d = l.max
	}
	return d
}

func (l *linearBackOff) Reset() { l.attempt = 0 }

// boundedConstant is backoff.ConstantBackOff clamped to max (the teacher's
// backoff dep ships ConstantBackOff without a clamp; spec §4.4.1 requires
// max_delay to apply uniformly across strategies).
type boundedConstant struct{ delay, max time.Duration }

func (b *boundedConstant) NextBackOff() time.Duration {
	if b.delay > b.max {
		return b.max
	}
	return b.delay
}

func (b *boundedConstant) Reset() {}

// randomBackOff picks a uniformly random delay in [base, max] each attempt,
// spreading retries from many concurrent callers instead of synchronizing
// them (the scenario cenkalti's Jitter helper addresses for a single
// strategy; here "random" is itself the strategy, not a jitter overlay).
type randomBackOff struct{ base, max time.Duration }

func (r *randomBackOff) NextBackOff() time.Duration {
	lo, hi := r.base, r.max
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo))) //nolint:gosec // jitter, not security sensitive
}

func (r *randomBackOff) Reset() {}

// backoffWithMaxAttempts wraps b so NextBackOff returns backoff.Stop once n
// attempts have been made (cenkalti's WithMaxRetries lives in a separate
// v5 module; this is the v4-compatible equivalent).
func backoffWithMaxAttempts(b backoff.BackOff, n int) backoff.BackOff {
	return &maxAttemptsBackOff{BackOff: b, max: n}
}

type maxAttemptsBackOff struct {
	backoff.BackOff
	max     int
	attempt int
}

func (m *maxAttemptsBackOff) NextBackOff() time.Duration {
	m.attempt++
	if m.attempt >= m.max {
		return backoff.Stop
	}
	return m.BackOff.NextBackOff()
}

func (m *maxAttemptsBackOff) Reset() {
	m.attempt = 0
	m.BackOff.Reset()
}
