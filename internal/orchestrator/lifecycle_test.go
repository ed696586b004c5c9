package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/orchestrator/internal/engine/inmem"
	"github.com/taskmesh/orchestrator/internal/executor"
	"github.com/taskmesh/orchestrator/internal/orchestrator"
	"github.com/taskmesh/orchestrator/internal/planner"
	"github.com/taskmesh/orchestrator/internal/registry"
	"github.com/taskmesh/orchestrator/internal/resilience/breaker"
	"github.com/taskmesh/orchestrator/internal/selector"
	"github.com/taskmesh/orchestrator/internal/state/memstore"
	"github.com/taskmesh/orchestrator/internal/telemetry"
	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

func TestStartStaleSweep_DemotesSilentAgents(t *testing.T) {
	lib := planner.NewLibrary()
	lib.Register("fetch_task", singleStepTemplate("fetch_task"))
	plan := planner.New(lib)

	agents := registry.New()
	require.NoError(t, agents.Save(context.Background(), &types.AgentRecord{
		ID: "agent-1", Status: types.AgentActive, LastHeartbeat: time.Now().Add(-time.Hour),
	}))

	sel := selector.New(agents, nil, nil, selector.DefaultWeights())
	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	exec := executor.New(sel, agents, echoInvoker(), breakers, nil, nil, nil, telemetry.Noop())

	eng, err := orchestrator.New(context.Background(), orchestrator.Options{
		Planner: plan, Executor: exec, Registry: agents,
		States: memstore.New(), Engine: inmem.New(telemetry.Noop()),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.StartStaleSweep(ctx, 5*time.Millisecond, time.Minute)

	require.Eventually(t, func() bool {
		rec, err := agents.Get(context.Background(), "agent-1")
		return err == nil && rec.Status == types.AgentInactive
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_SubmitsOnEachFiring(t *testing.T) {
	eng := newTestEngine(t, singleStepTemplate("fetch_task"), echoInvoker())
	sched := orchestrator.NewScheduler(eng)

	_, err := sched.ScheduleRecurring("@every 10ms", orchestrator.SubmitRequest{
		Type:  "fetch_task",
		Input: value.Object(map[string]any{}),
	})
	require.NoError(t, err)
	sched.Start()
	defer sched.Stop()

	require.Eventually(t, func() bool {
		list, err := eng.List(context.Background(), orchestrator.ListFilter{})
		return err == nil && len(list) >= 1
	}, time.Second, 10*time.Millisecond)

	assert.NotNil(t, eng)
}
