package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/orchestrator/internal/registry"
	"github.com/taskmesh/orchestrator/internal/types"
)

func newAgent(id string, caps ...string) *types.AgentRecord {
	capSet := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		capSet[c] = struct{}{}
	}
	return &types.AgentRecord{ID: id, Name: id, Capabilities: capSet, Status: types.AgentActive, LastHeartbeat: time.Now()}
}

func TestMemoryStore_SaveGetDelete(t *testing.T) {
	s := registry.New()
	ctx := context.Background()
	a := newAgent("a1", "summarize")
	require.NoError(t, s.Save(ctx, a))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	require.NoError(t, s.Delete(ctx, "a1"))
	_, err = s.Get(ctx, "a1")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestMemoryStore_ListFiltersByCapability(t *testing.T) {
	s := registry.New()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, newAgent("a1", "summarize", "translate")))
	require.NoError(t, s.Save(ctx, newAgent("a2", "translate")))

	matches, err := s.List(ctx, []string{"summarize"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a1", matches[0].ID)
}

func TestSweepStale_DemotesAgentsPastDeadline(t *testing.T) {
	s := registry.New()
	ctx := context.Background()
	a := newAgent("a1", "summarize")
	a.LastHeartbeat = time.Now().Add(-time.Hour)
	require.NoError(t, s.Save(ctx, a))

	demoted, err := s.SweepStale(ctx, time.Now(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, demoted)

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentInactive, got.Status)
}

func TestSweepStale_SkipsAlreadyInactiveAgents(t *testing.T) {
	s := registry.New()
	ctx := context.Background()
	a := newAgent("a1", "summarize")
	a.Status = types.AgentInactive
	a.LastHeartbeat = time.Now().Add(-time.Hour)
	require.NoError(t, s.Save(ctx, a))

	demoted, err := s.SweepStale(ctx, time.Now(), time.Minute)
	require.NoError(t, err)
	assert.Empty(t, demoted)
}
