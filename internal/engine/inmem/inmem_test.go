package inmem_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/orchestrator/internal/engine"
	"github.com/taskmesh/orchestrator/internal/engine/inmem"
	"github.com/taskmesh/orchestrator/internal/telemetry"
)

func TestStartWorkflow_ExecutesActivityAndReturnsResult(t *testing.T) {
	e := inmem.New(telemetry.Noop())
	ctx := context.Background()

	require.NoError(t, e.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "double",
		Handler: func(_ context.Context, input any) (any, error) {
			return input.(int) * 2, nil
		},
	}))
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "doubler",
		Handler: func(wc engine.WorkflowContext, input any) (any, error) {
			var out int
			err := wc.ExecuteActivity(wc.Context(), engine.ActivityRequest{Name: "double", Input: input}, &out)
			return out, err
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-1", Workflow: "doubler", Input: 21})
	require.NoError(t, err)

	var result int
	require.NoError(t, h.Wait(ctx, &result))
	assert.Equal(t, 42, result)
}

func TestStartWorkflow_UnregisteredWorkflowErrors(t *testing.T) {
	e := inmem.New(telemetry.Noop())
	_, err := e.StartWorkflow(context.Background(), engine.WorkflowStartRequest{ID: "x", Workflow: "missing"})
	assert.Error(t, err)
}

func TestSignal_CancelsRunningWorkflow(t *testing.T) {
	e := inmem.New(telemetry.Noop())
	ctx := context.Background()

	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "waiter",
		Handler: func(wc engine.WorkflowContext, _ any) (any, error) {
			var payload bool
			if err := wc.SignalChannel(engine.CancelSignalName).Receive(wc.Context(), &payload); err != nil {
				return nil, err
			}
			return "cancelled", nil
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-2", Workflow: "waiter"})
	require.NoError(t, err)
	require.NoError(t, h.Cancel(ctx))

	var result string
	require.NoError(t, h.Wait(ctx, &result))
	assert.Equal(t, "cancelled", result)
}

func TestExecuteActivity_PropagatesHandlerError(t *testing.T) {
	e := inmem.New(telemetry.Noop())
	ctx := context.Background()
	boom := errors.New("boom")

	require.NoError(t, e.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "fail",
		Handler: func(context.Context, any) (any, error) { return nil, boom },
	}))
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "failer",
		Handler: func(wc engine.WorkflowContext, _ any) (any, error) {
			var out any
			return nil, wc.ExecuteActivity(wc.Context(), engine.ActivityRequest{Name: "fail"}, &out)
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-3", Workflow: "failer"})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	var out any
	assert.ErrorIs(t, h.Wait(waitCtx, &out), boom)
}
