package breaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/orchestrator/internal/resilience/breaker"
)

type recordingMetrics struct{ counters map[string]float64 }

func newRecordingMetrics() *recordingMetrics { return &recordingMetrics{counters: map[string]float64{}} }

func (m *recordingMetrics) IncCounter(name string, value float64, _ ...string) { m.counters[name] += value }
func (m *recordingMetrics) RecordTimer(string, time.Duration, ...string)       {}
func (m *recordingMetrics) RecordGauge(string, float64, ...string)            {}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := breaker.New("agent-1", breaker.Config{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Hour, HalfOpenMaxCalls: 1})

	require.NoError(t, b.Allow())
	b.Failure()
	assert.Equal(t, breaker.Closed, b.State())

	require.NoError(t, b.Allow())
	b.Failure()
	assert.Equal(t, breaker.Open, b.State())

	var openErr *breaker.ErrOpen
	require.ErrorAs(t, b.Allow(), &openErr)
}

func TestBreaker_HalfOpenAfterTimeoutThenCloses(t *testing.T) {
	b := breaker.New("agent-2", breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 1})
	require.NoError(t, b.Allow())
	b.Failure()
	assert.Equal(t, breaker.Open, b.State())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, breaker.HalfOpen, b.State())

	require.NoError(t, b.Allow())
	b.Success()
	assert.Equal(t, breaker.Closed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := breaker.New("agent-3", breaker.Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Millisecond, HalfOpenMaxCalls: 1})
	require.NoError(t, b.Allow())
	b.Failure()
	time.Sleep(2 * time.Millisecond)
	require.Equal(t, breaker.HalfOpen, b.State())

	require.NoError(t, b.Allow())
	b.Failure()
	assert.Equal(t, breaker.Open, b.State())
}

func TestRegistry_IsolatesBreakersPerTarget(t *testing.T) {
	r := breaker.NewRegistry(breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Hour, HalfOpenMaxCalls: 1})
	a := r.For("agent-a")
	b := r.For("agent-b")
	require.NoError(t, a.Allow())
	a.Failure()
	assert.Equal(t, breaker.Open, a.State())
	assert.Equal(t, breaker.Closed, b.State())
	assert.Same(t, a, r.For("agent-a"))
}

func TestRegistry_WithMetricsRecordsOpenAndClosedTransitions(t *testing.T) {
	m := newRecordingMetrics()
	r := breaker.NewRegistry(breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Millisecond, HalfOpenMaxCalls: 1}).WithMetrics(m)
	b := r.For("agent-a")

	require.NoError(t, b.Allow())
	b.Failure()
	assert.Equal(t, breaker.Open, b.State())
	assert.Equal(t, float64(1), m.counters["circuit_open_total"])

	time.Sleep(2 * time.Millisecond)
	require.Equal(t, breaker.HalfOpen, b.State())
	require.NoError(t, b.Allow())
	b.Success()
	assert.Equal(t, breaker.Closed, b.State())
	assert.Equal(t, float64(1), m.counters["circuit_closed_total"])
}

func TestErrOpen_ImplementsError(t *testing.T) {
	var err error = &breaker.ErrOpen{Target: "x"}
	assert.True(t, errors.As(err, new(*breaker.ErrOpen)))
}
