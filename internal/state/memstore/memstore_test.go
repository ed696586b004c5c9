package memstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/orchestrator/internal/state"
	"github.com/taskmesh/orchestrator/internal/state/memstore"
	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

func TestSave_AppendsVersionsSequentially(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "wf-1", 0, types.StateVersion{State: value.Object(map[string]any{"a": 1})}))
	require.NoError(t, s.Save(ctx, "wf-1", 1, types.StateVersion{State: value.Object(map[string]any{"a": 2})}))

	latest, err := s.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
}

func TestSave_RejectsStaleExpectedVersion(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "wf-1", 0, types.StateVersion{}))

	err := s.Save(ctx, "wf-1", 0, types.StateVersion{})
	assert.ErrorIs(t, err, state.ErrVersionConflict)
}

func TestLoad_UnknownWorkflowErrors(t *testing.T) {
	s := memstore.New()
	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestLoadVersion_ReturnsHistoricalSnapshot(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "wf-1", 0, types.StateVersion{State: value.Object(map[string]any{"v": 1})}))
	require.NoError(t, s.Save(ctx, "wf-1", 1, types.StateVersion{State: value.Object(map[string]any{"v": 2})}))

	v1, err := s.LoadVersion(ctx, "wf-1", 1)
	require.NoError(t, err)
	got, _ := v1.State.Get("v")
	f, _ := got.Float()
	assert.Equal(t, float64(1), f)
}

func TestSaveAt_MakesOlderVersionCurrentAgain(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "wf-1", 0, types.StateVersion{State: value.Object(map[string]any{"n": 1})}))
	require.NoError(t, s.Save(ctx, "wf-1", 1, types.StateVersion{State: value.Object(map[string]any{"n": 2})}))

	require.NoError(t, s.SaveAt(ctx, "wf-1", types.StateVersion{Version: 1, State: value.Object(map[string]any{"n": 1})}))

	latest, err := s.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
	n, _ := latest.State.Get("n")
	f, _ := n.Float()
	assert.Equal(t, float64(1), f)
}

func TestUpdate_ConcurrentPatchesAllLand(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "wf-1", value.Object(map[string]any{"counter": 1}))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := s.History(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, history, 10)
	for i, v := range history {
		assert.Equal(t, i+1, v.Version)
	}
}

func TestHistory_UnknownWorkflowReturnsNil(t *testing.T) {
	s := memstore.New()
	history, err := s.History(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, history)
}

func TestDelete_RemovesAllVersions(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "wf-1", 0, types.StateVersion{}))

	require.NoError(t, s.Delete(ctx, "wf-1"))

	_, err := s.Load(ctx, "wf-1")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestList_ReturnsWorkflowsWithRecordedState(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "wf-1", 0, types.StateVersion{}))
	require.NoError(t, s.Save(ctx, "wf-2", 0, types.StateVersion{}))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"wf-1", "wf-2"}, ids)
}

func TestLock_SerializesConcurrentAcquirers(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	release, err := s.Lock(ctx, "wf-1", time.Second)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		release2, err := s.Lock(ctx, "wf-1", time.Second)
		if err == nil {
			close(acquired)
			release2(ctx)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first still held")
	case <-time.After(20 * time.Millisecond):
	}

	release(ctx)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired after release")
	}
}
