// Package engine defines the durable-execution abstractions the executor
// runs against. A workflow run is one pass of the DAG walk (spec §4.3); an
// activity is a unit of side-effecting work the workflow schedules. The
// orchestrator registers a single activity that runs the whole DAG walk
// (internal/orchestrator/workflow.go). Two backends implement
// Engine: an in-memory one for tests and single-process deployments, and a
// Temporal-backed one for durable, restart-safe execution.
package engine

import (
	"context"
	"time"

	"github.com/taskmesh/orchestrator/internal/telemetry"
)

type (
	// Engine abstracts workflow/activity registration and execution so the
	// orchestrator can run against an in-memory backend in tests and a
	// Temporal backend in production without touching executor code.
	Engine interface {
		// RegisterWorkflow registers the DAG-walk workflow. Called once during
		// composition, before the engine accepts StartWorkflow calls.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterActivity registers an activity handler. Called once
		// during composition, before the engine accepts StartWorkflow calls.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// StartWorkflow begins one workflow run (one Task's DAG walk). The ID
		// must be unique within the engine; callers typically use the task ID.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds the DAG-walk handler to a logical name and
	// default task queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is the DAG-walk entry point. It must be deterministic under
	// replay: the same inputs and activity results must produce the same
	// execution sequence, so it must not read wall-clock time, randomness, or
	// perform I/O directly — only through ExecuteActivity.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to the DAG-walk handler.
	//
	// Thread-safety: bound to a single workflow run, not shared across
	// goroutines; ExecuteActivityAsync fan-out is the supported concurrency
	// mechanism, matching each parallel group (spec §4.3.4).
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string

		// ExecuteActivity schedules one activity and blocks for its result.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error

		// ExecuteActivityAsync schedules one activity without blocking, so
		// several activities can run concurrently.
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		// SignalChannel returns the channel used to deliver external
		// cancellation requests into a running workflow.
		SignalChannel(name string) SignalChannel

		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer

		// Now returns replay-safe current time; step StartedAt/FinishedAt
		// timestamps must go through this, never time.Now() directly.
		Now() time.Time
	}

	// Future is a pending activity result. Get may be called more than once;
	// it returns the same result each time.
	Future interface {
		Get(ctx context.Context, result any) error
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler under a name.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc runs one activity and returns its raw result (the
	// orchestrator's activity runs the executor over the whole DAG). Side
	// effects (agent calls, state store writes) belong here, not in the
	// workflow function.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry/timeout defaults for an activity
	// registration, overridable per ActivityRequest.
	ActivityOptions struct {
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes one workflow run to launch.
	WorkflowStartRequest struct {
		ID               string
		Workflow         string
		TaskQueue        string
		Input            any
		Memo             map[string]any
		SearchAttributes map[string]any
		RetryPolicy      RetryPolicy
	}

	// ActivityRequest schedules one activity from within the workflow.
	ActivityRequest struct {
		Name        string
		Input       any
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle lets callers await, signal, or cancel a running
	// workflow.
	WorkflowHandle interface {
		Wait(ctx context.Context, result any) error
		Signal(ctx context.Context, name string, payload any) error
		Cancel(ctx context.Context) error
	}

	// RetryPolicy controls activity/workflow-start retries. Zero-valued
	// fields mean "use the engine default."
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel delivers out-of-band events (currently: cancellation) to
	// a running workflow.
	SignalChannel interface {
		Receive(ctx context.Context, dest any) error
		ReceiveAsync(dest any) bool
	}
)

// CancelSignalName is the signal channel used to request cooperative
// cancellation of a running workflow (spec §6, cancellation endpoint).
const CancelSignalName = "orchestrator.cancel"
