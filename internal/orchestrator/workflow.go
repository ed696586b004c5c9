package orchestrator

import (
	"context"
	"fmt"

	"github.com/taskmesh/orchestrator/internal/engine"
	"github.com/taskmesh/orchestrator/internal/executor"
	"github.com/taskmesh/orchestrator/internal/state"
	"github.com/taskmesh/orchestrator/internal/types"
)

const (
	workflowName  = "taskmesh.dag_walk"
	dagWalkAct    = "taskmesh.run_dag"
	defaultQueue  = "taskmesh.default"
)

// runRequest is the payload handed to the engine for one task's DAG walk.
type runRequest struct {
	TaskID   string
	Workflow *types.Workflow
	Options  executor.Options
}

// registerEngine binds the DAG-walk workflow and its single activity to eng.
// The whole parallel-group walk runs inside one activity invocation rather
// than expanding into one engine.ExecuteActivityAsync per step: only the
// workflow function itself must be replay-deterministic (engine.go's
// WorkflowFunc doc), and the executor package already owns a correct,
// independently-tested concurrency and resilience model for the walk.
// Re-deriving that per-step against WorkflowContext would duplicate it
// without adding capability the engine backends need.
func (o *Engine) registerEngine(ctx context.Context) error {
	if err := o.engine.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    dagWalkAct,
		Handler: o.runDAGActivity,
		Options: engine.ActivityOptions{Queue: defaultQueue},
	}); err != nil {
		return fmt.Errorf("orchestrator: register activity: %w", err)
	}
	if err := o.engine.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:      workflowName,
		TaskQueue: defaultQueue,
		Handler:   o.dagWorkflow,
	}); err != nil {
		return fmt.Errorf("orchestrator: register workflow: %w", err)
	}
	return nil
}

// dagWorkflow is the engine.WorkflowFunc: it races the cancellation signal
// against the single DAG-walk activity, cancelling the activity's context
// the moment a cancel request arrives (spec §5, "the Executor checks at
// each step boundary and between retry attempts").
func (o *Engine) dagWorkflow(wfCtx engine.WorkflowContext, input any) (any, error) {
	req, ok := input.(*runRequest)
	if !ok {
		return executor.Result{}, fmt.Errorf("orchestrator: unexpected workflow input type %T", input)
	}

	runCtx, cancel := context.WithCancel(wfCtx.Context())
	defer cancel()
	go func() {
		var payload any
		if err := wfCtx.SignalChannel(engine.CancelSignalName).Receive(runCtx, &payload); err == nil {
			cancel()
		}
	}()

	var result executor.Result
	err := wfCtx.ExecuteActivity(runCtx, engine.ActivityRequest{Name: dagWalkAct, Input: req}, &result)
	if err != nil && runCtx.Err() != nil {
		result.Status = executor.StatusCancelled
		return result, nil
	}
	return result, err
}

// runDAGActivity is the engine.ActivityFunc: it runs the executor's DAG
// walk and persists the resulting state as the workflow's first durable
// version, so a subsequent Checkpoint/Restore (spec §4.5) has something to
// act on.
func (o *Engine) runDAGActivity(ctx context.Context, input any) (any, error) {
	req, ok := input.(*runRequest)
	if !ok {
		return executor.Result{}, fmt.Errorf("orchestrator: unexpected activity input type %T", input)
	}

	result, err := o.executor.Execute(ctx, req.Workflow, req.Options)
	if err != nil {
		return executor.Result{}, err
	}

	if saveErr := o.persistFinalState(ctx, req.Workflow.ID, result); saveErr != nil {
		o.triplet.Logger.Warn(ctx, "failed to persist workflow state", "workflow_id", req.Workflow.ID, "error", saveErr.Error())
	}

	return *result, nil
}

func (o *Engine) persistFinalState(ctx context.Context, workflowID string, result *executor.Result) error {
	expected := 0
	current, err := o.states.Load(ctx, workflowID)
	switch {
	case err == nil:
		expected = current.Version
	case err == state.ErrNotFound:
		expected = 0
	default:
		return err
	}
	return o.states.Save(ctx, workflowID, expected, types.StateVersion{
		WorkflowID: workflowID,
		State:      result.Context.State,
	})
}
