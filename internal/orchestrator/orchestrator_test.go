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

func seedAgent(t *testing.T, store *registry.MemoryStore, id string, caps ...string) {
	t.Helper()
	capSet := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		capSet[c] = struct{}{}
	}
	require.NoError(t, store.Save(context.Background(), &types.AgentRecord{
		ID: id, Status: types.AgentActive, Capabilities: capSet, MaxConcurrent: 10,
	}))
}

// echoInvoker returns the step's input unchanged, tagged with the agent id
// that handled it, so tests can assert on fan-out/merge without a real
// agent runtime.
func echoInvoker() executor.Invoker {
	return executor.InvokerFunc(func(_ context.Context, agent *types.AgentRecord, step *types.Step, input value.Value) (value.Value, error) {
		return value.Object(map[string]any{"agent": agent.ID, "step": step.ID}), nil
	})
}

func newTestEngine(t *testing.T, tmpl planner.Template, invoker executor.Invoker, extra ...planner.Template) *orchestrator.Engine {
	t.Helper()
	lib := planner.NewLibrary()
	lib.Register(tmpl.Name, tmpl)
	for _, e := range extra {
		lib.Register(e.Name, e)
	}
	plan := planner.New(lib)

	agents := registry.New()
	seedAgent(t, agents, "agent-1", "fetch", "summarize")

	sel := selector.New(agents, nil, nil, selector.DefaultWeights())
	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	exec := executor.New(sel, agents, invoker, breakers, nil, nil, nil, telemetry.Noop())

	eng, err := orchestrator.New(context.Background(), orchestrator.Options{
		Planner:  plan,
		Executor: exec,
		Registry: agents,
		States:   memstore.New(),
		Engine:   inmem.New(telemetry.Noop()),
	})
	require.NoError(t, err)
	return eng
}

func singleStepTemplate(taskType string) planner.Template {
	return planner.Template{
		Name: taskType,
		Steps: []types.Step{
			{ID: "fetch", AgentType: "fetch", OutputKey: "fetch"},
		},
	}
}

func waitForStatus(t *testing.T, eng *orchestrator.Engine, taskID string, status types.TaskStatus) *types.Task {
	t.Helper()
	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		task, err := eng.Get(context.Background(), taskID)
		require.NoError(t, err)
		if task.Status == status {
			return task
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for task %s to reach status %s, last seen %s", taskID, status, task.Status)
		case <-ticker.C:
		}
	}
}

func TestSubmit_RunsToCompletion(t *testing.T) {
	eng := newTestEngine(t, singleStepTemplate("fetch_task"), echoInvoker())

	task, err := eng.Submit(context.Background(), orchestrator.SubmitRequest{
		Type:  "fetch_task",
		Input: value.Object(map[string]any{"url": "https://example.com"}),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.False(t, task.EstimatedCompletion.IsZero())

	final := waitForStatus(t, eng, task.ID, types.TaskCompleted)
	assert.Equal(t, types.TaskCompleted, final.Status)

	result, err := eng.Result(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, result.IsMap() || !result.IsNil())
}

func TestSubmit_UnknownTypeFallsBackToSimpleTemplate(t *testing.T) {
	simple := planner.Template{
		Name:  planner.SimpleTemplateName,
		Steps: []types.Step{{ID: "fetch", AgentType: "fetch", OutputKey: "fetch"}},
	}
	eng := newTestEngine(t, singleStepTemplate("fetch_task"), echoInvoker(), simple)

	task, err := eng.Submit(context.Background(), orchestrator.SubmitRequest{
		Type:  "no_such_type",
		Input: value.Object(map[string]any{}),
	})
	require.NoError(t, err)

	final := waitForStatus(t, eng, task.ID, types.TaskCompleted)
	assert.Equal(t, types.TaskCompleted, final.Status)
}

func TestResult_NotAvailableUntilCompleted(t *testing.T) {
	eng := newTestEngine(t, singleStepTemplate("fetch_task"), echoInvoker())

	task, err := eng.Submit(context.Background(), orchestrator.SubmitRequest{
		Type:  "fetch_task",
		Input: value.Object(map[string]any{}),
	})
	require.NoError(t, err)

	_, err = eng.Result(context.Background(), task.ID)
	if err != nil {
		assert.ErrorIs(t, err, orchestrator.ErrNotCompleted)
	}

	waitForStatus(t, eng, task.ID, types.TaskCompleted)
	_, err = eng.Result(context.Background(), task.ID)
	assert.NoError(t, err)
}

func TestList_FiltersByStatusAndOrdersNewestFirst(t *testing.T) {
	eng := newTestEngine(t, singleStepTemplate("fetch_task"), echoInvoker())

	var ids []string
	for i := 0; i < 3; i++ {
		task, err := eng.Submit(context.Background(), orchestrator.SubmitRequest{
			Type:  "fetch_task",
			Input: value.Object(map[string]any{}),
		})
		require.NoError(t, err)
		ids = append(ids, task.ID)
		waitForStatus(t, eng, task.ID, types.TaskCompleted)
	}

	list, err := eng.List(context.Background(), orchestrator.ListFilter{Status: types.TaskCompleted})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)

	limited, err := eng.List(context.Background(), orchestrator.ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCancel_RejectsAlreadyTerminalTask(t *testing.T) {
	eng := newTestEngine(t, singleStepTemplate("fetch_task"), echoInvoker())

	task, err := eng.Submit(context.Background(), orchestrator.SubmitRequest{
		Type:  "fetch_task",
		Input: value.Object(map[string]any{}),
	})
	require.NoError(t, err)
	waitForStatus(t, eng, task.ID, types.TaskCompleted)

	err = eng.Cancel(context.Background(), task.ID)
	assert.ErrorIs(t, err, orchestrator.ErrTerminal)
}

func TestHealth_ReportsHealthyWhenComponentsRespond(t *testing.T) {
	eng := newTestEngine(t, singleStepTemplate("fetch_task"), echoInvoker())

	report := eng.Health(context.Background())
	assert.Equal(t, orchestrator.Healthy, report.Overall)
	assert.Equal(t, orchestrator.Healthy, report.Components["registry"])
	assert.Equal(t, orchestrator.Healthy, report.Components["state"])
}

func TestEstimate_SumsCriticalPathTimeAndTotalCost(t *testing.T) {
	tmpl := planner.Template{
		Name: "estimate_task",
		Steps: []types.Step{
			{ID: "fetch", AgentType: "fetch", EstimatedTime: 2 * time.Second, EstimatedCost: 0.01},
			{ID: "analyze_a", AgentType: "fetch", DependsOn: []string{"fetch"}, EstimatedTime: 3 * time.Second, EstimatedCost: 0.02},
			{ID: "analyze_b", AgentType: "fetch", DependsOn: []string{"fetch"}, EstimatedTime: 1 * time.Second, EstimatedCost: 0.05},
			{ID: "summarize", AgentType: "fetch", DependsOn: []string{"analyze_a", "analyze_b"}, EstimatedTime: 1 * time.Second, EstimatedCost: 0.01},
		},
	}
	eng := newTestEngine(t, tmpl, echoInvoker())

	est, err := eng.Estimate(context.Background(), &types.Task{Type: "estimate_task"})
	require.NoError(t, err)

	// critical path: fetch(2) -> analyze_a(3) -> summarize(1) = 6s
	assert.Equal(t, 6*time.Second, est.EstimatedTime)
	assert.InDelta(t, 0.09, est.EstimatedCost, 1e-9)
	assert.Equal(t, []string{"fetch"}, est.AgentSet)
}

func TestRunChain_PipesOutputIntoNextLinkInput(t *testing.T) {
	eng := newTestEngine(t, singleStepTemplate("fetch_task"), echoInvoker(), singleStepTemplate("link-a"), singleStepTemplate("link-b"))

	result, err := eng.RunChain(context.Background(), orchestrator.ChainRequest{
		Workflows: []string{"link-a", "link-b"},
		TaskType:  "fetch_task",
		Input:     value.Object(map[string]any{"seed": true}),
	})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ChainCompleted, result.Status)
	require.Len(t, result.Links, 2)
	assert.Equal(t, "link-a", result.Links[0].WorkflowName)
	assert.Equal(t, "link-b", result.Links[1].WorkflowName)
	for _, link := range result.Links {
		assert.NoError(t, link.Err)
	}
}

func TestRunChain_AbortsOnFirstFailedLinkUnlessContinueOnError(t *testing.T) {
	eng := newTestEngine(t, singleStepTemplate("fetch_task"), echoInvoker())

	result, err := eng.RunChain(context.Background(), orchestrator.ChainRequest{
		Workflows: []string{"ok", "no_such_type_link"},
		TaskType:  "no_such_type",
		Input:     value.Object(map[string]any{}),
	})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ChainFailed, result.Status)
	assert.Len(t, result.Links, 1)
}
