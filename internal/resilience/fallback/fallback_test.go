package fallback_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskmesh/orchestrator/internal/errs"
	"github.com/taskmesh/orchestrator/internal/resilience/fallback"
)

func TestStrategy_AuthorizesOnMatchingPredicate(t *testing.T) {
	s := fallback.Strategy{
		Primary:    "agent-a",
		Alternates: []string{"agent-b"},
		Predicates: []fallback.Predicate{fallback.OnCircuitBreakerOpen},
	}
	assert.True(t, s.Authorizes(errs.New(errs.KindCircuitOpen, "", "open", nil), 0))
	assert.False(t, s.Authorizes(errs.New(errs.KindValidation, "", "bad input", nil), 0))
}

func TestStrategy_AuthorizesOnErrorRateAbove(t *testing.T) {
	s := fallback.Strategy{
		Primary:            "agent-a",
		Predicates:         []fallback.Predicate{fallback.OnErrorRateAbove},
		ErrorRateThreshold: 0.5,
	}
	err := errs.New(errs.KindInvocation, "", "boom", nil)
	assert.False(t, s.Authorizes(err, 0.3))
	assert.True(t, s.Authorizes(err, 0.6))
}

func TestStrategy_Targets(t *testing.T) {
	s := fallback.Strategy{Primary: "a", Alternates: []string{"b", "c"}}
	assert.Equal(t, []string{"a", "b", "c"}, s.Targets())
}

func TestRollingErrorRate_ComputesFractionOverWindow(t *testing.T) {
	r := fallback.NewRollingErrorRate(4)
	r.Record(true)
	r.Record(false)
	r.Record(true)
	r.Record(true)
	assert.InDelta(t, 0.75, r.Rate(), 0.001)

	r.Record(false) // wraps, overwrites first "true"
	assert.InDelta(t, 0.5, r.Rate(), 0.001)
}
