package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/orchestrator/internal/executor"
	"github.com/taskmesh/orchestrator/internal/state/memstore"
	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

func TestPersistFinalState_FirstSaveUsesVersionZero(t *testing.T) {
	store := memstore.New()
	o := &Engine{states: store}

	result := &executor.Result{Context: &types.ExecutionContext{State: value.Object(map[string]any{"a": 1})}}
	require.NoError(t, o.persistFinalState(context.Background(), "wf-1", result))

	saved, err := store.Load(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Version)
}

func TestPersistFinalState_SubsequentSaveUsesLoadedVersion(t *testing.T) {
	store := memstore.New()
	o := &Engine{states: store}

	first := &executor.Result{Context: &types.ExecutionContext{State: value.Object(map[string]any{"a": 1})}}
	require.NoError(t, o.persistFinalState(context.Background(), "wf-1", first))

	second := &executor.Result{Context: &types.ExecutionContext{State: value.Object(map[string]any{"a": 2})}}
	require.NoError(t, o.persistFinalState(context.Background(), "wf-1", second))

	saved, err := store.Load(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)

	got, ok := saved.State.Get("a")
	require.True(t, ok)
	gotVal, _ := got.Float()
	assert.Equal(t, float64(2), gotVal)
}
