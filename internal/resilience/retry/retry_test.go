package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/orchestrator/internal/resilience/retry"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{
		Strategy: retry.Fixed, MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond,
	}, func(error) bool { return true }, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableErrorStopsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("fatal")
	err := retry.Do(context.Background(), retry.DefaultPolicy(), func(error) bool { return false }, func(context.Context) error {
		calls++
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{
		Strategy: retry.Exponential, MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2,
	}, func(error) bool { return true }, func(context.Context) error {
		calls++
		return errors.New("always fails")
	})
	require.Error(t, err)
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestDo_RandomStrategyStaysWithinBounds(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{
		Strategy: retry.Random, MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 3 * time.Millisecond,
	}, func(error) bool { return true }, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("retry me")
		}
		return nil
	})
	require.NoError(t, err)
}
