package selector_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/orchestrator/internal/registry"
	"github.com/taskmesh/orchestrator/internal/selector"
	"github.com/taskmesh/orchestrator/internal/types"
)

func agent(id string, cost float64, max int, caps ...string) *types.AgentRecord {
	capSet := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		capSet[c] = struct{}{}
	}
	return &types.AgentRecord{ID: id, Capabilities: capSet, Status: types.AgentActive, CostPerCall: cost, MaxConcurrent: max}
}

type fakeLoad map[string]int

func (f fakeLoad) CurrentLoad(id string) int { return f[id] }

type fakeHealth map[string]float64

func (f fakeHealth) Health(id string) float64 { return f[id] }

func TestSelect_PicksCheaperLessLoadedAgent(t *testing.T) {
	store := registry.New()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, agent("cheap", 0.01, 10, "summarize")))
	require.NoError(t, store.Save(ctx, agent("expensive", 0.09, 10, "summarize")))

	sel := selector.New(store, fakeLoad{"expensive": 5}, fakeHealth{"cheap": 1, "expensive": 1}, selector.DefaultWeights())
	winner, err := sel.Select(ctx, &types.Step{ID: "s1", CapabilitiesRequired: []string{"summarize"}}, selector.Options{})
	require.NoError(t, err)
	assert.Equal(t, "cheap", winner.ID)
}

func TestSelect_NoCandidatesErrors(t *testing.T) {
	store := registry.New()
	sel := selector.New(store, nil, nil, selector.DefaultWeights())
	_, err := sel.Select(context.Background(), &types.Step{ID: "s1", CapabilitiesRequired: []string{"nonexistent"}}, selector.Options{})
	require.Error(t, err)
}

func TestSelect_InactiveAgentsExcluded(t *testing.T) {
	store := registry.New()
	ctx := context.Background()
	a := agent("a1", 1, 10, "translate")
	a.Status = types.AgentInactive
	require.NoError(t, store.Save(ctx, a))

	sel := selector.New(store, nil, nil, selector.DefaultWeights())
	_, err := sel.Select(ctx, &types.Step{ID: "s1", CapabilitiesRequired: []string{"translate"}}, selector.Options{})
	require.Error(t, err)
}

func TestSelect_TieBreaksByAgentID(t *testing.T) {
	store := registry.New()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, agent("zzz", 1, 10, "x")))
	require.NoError(t, store.Save(ctx, agent("aaa", 1, 10, "x")))

	sel := selector.New(store, nil, nil, selector.DefaultWeights())
	winner, err := sel.Select(ctx, &types.Step{ID: "s1", CapabilitiesRequired: []string{"x"}}, selector.Options{})
	require.NoError(t, err)
	assert.Equal(t, "aaa", winner.ID)
}

func TestSelect_HealthierAgentPreferredUnderEqualCostAndLoad(t *testing.T) {
	store := registry.New()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, agent("healthy", 1, 10, "x")))
	require.NoError(t, store.Save(ctx, agent("sick", 1, 10, "x")))

	sel := selector.New(store, fakeLoad{}, fakeHealth{"healthy": 1, "sick": 0.1}, selector.DefaultWeights())
	winner, err := sel.Select(ctx, &types.Step{ID: "s1", CapabilitiesRequired: []string{"x"}}, selector.Options{})
	require.NoError(t, err)
	assert.Equal(t, "healthy", winner.ID)
}
