// Package orchestrator is the top-level Engine facade (spec §2, "Engine —
// Submission API, queue, per-task lifecycle"): it composes the planner,
// selector, executor, registry, state store, and snapshot manager behind a
// task-submission API modeled on spec §6's HTTP-like surface, without
// implementing the HTTP transport itself (out of scope per spec §1's
// Non-goals). Composition follows the teacher's explicit-injection runtime
// (runtime.New(...RuntimeOption)) rather than package-level singletons.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/orchestrator/internal/engine"
	"github.com/taskmesh/orchestrator/internal/errs"
	"github.com/taskmesh/orchestrator/internal/events"
	"github.com/taskmesh/orchestrator/internal/executor"
	"github.com/taskmesh/orchestrator/internal/planner"
	"github.com/taskmesh/orchestrator/internal/registry"
	"github.com/taskmesh/orchestrator/internal/snapshot"
	"github.com/taskmesh/orchestrator/internal/state"
	"github.com/taskmesh/orchestrator/internal/telemetry"
	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/validate"
	"github.com/taskmesh/orchestrator/internal/value"
)

// ErrNotCompleted is returned by Result when the task has not reached a
// terminal successful state yet (spec §6, "GET /tasks/{id}/result ... only
// when status is completed, otherwise 400").
var ErrNotCompleted = errs.New(errs.KindValidation, "", "task result not available until status is completed", nil)

// ErrTerminal is returned by Cancel when the task already reached a
// terminal state (spec §6, "rejects with 400 if status is completed/failed").
var ErrTerminal = errs.New(errs.KindValidation, "", "task is already in a terminal state", nil)

// SubmitRequest is the input to Submit, mirroring spec §6's POST /tasks
// body.
type SubmitRequest struct {
	Type           string
	Input          value.Value
	WorkflowName   string
	CallbackTarget string
	Metadata       map[string]string
	// Options overrides the Executor's default run options for this task.
	Options executor.Options
}

// Engine is the composed orchestrator facade.
type Engine struct {
	cfg       Options
	triplet   telemetry.Triplet
	planner   *planner.Planner
	executor  *executor.Executor
	agents    registry.Store
	states    state.Store
	snapshots *snapshot.Manager
	engine    engine.Engine
	validator *validate.SchemaSet
	publisher *events.Publisher

	mu    sync.RWMutex
	tasks map[string]*taskEntry
}

type taskEntry struct {
	task   *types.Task
	wf     *types.Workflow
	handle engine.WorkflowHandle
}

// Options configures New. Only Planner, Executor, Registry, States, and
// Engine are required; the rest default to permissive no-ops.
type Options struct {
	Planner   *planner.Planner
	Executor  *executor.Executor
	Registry  registry.Store
	States    state.Store
	Snapshots *snapshot.Manager
	Engine    engine.Engine
	Validator *validate.SchemaSet
	Publisher *events.Publisher
	Triplet   telemetry.Triplet
}

// New composes an Engine from opts and registers its DAG-walk workflow and
// activity with opts.Engine.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Planner == nil || opts.Executor == nil || opts.Registry == nil || opts.States == nil || opts.Engine == nil {
		return nil, fmt.Errorf("orchestrator: Planner, Executor, Registry, States, and Engine are required")
	}
	if opts.Snapshots == nil {
		opts.Snapshots = snapshot.New(opts.States, snapshot.NewMemoryStore())
	}
	if opts.Validator == nil {
		opts.Validator = validate.NewSchemaSet()
	}
	if opts.Triplet.Logger == nil {
		opts.Triplet = telemetry.Noop()
	}

	o := &Engine{
		cfg:       opts,
		triplet:   opts.Triplet,
		planner:   opts.Planner,
		executor:  opts.Executor,
		agents:    opts.Registry,
		states:    opts.States,
		snapshots: opts.Snapshots,
		engine:    opts.Engine,
		validator: opts.Validator,
		publisher: opts.Publisher,
		tasks:     make(map[string]*taskEntry),
	}
	if err := o.registerEngine(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// Submit validates, plans, and starts execution of a new task, returning
// immediately with its pending record (spec §6, "201 {task_id,
// status:"pending", created_at, estimated_completion}").
func (o *Engine) Submit(ctx context.Context, req SubmitRequest) (*types.Task, error) {
	if req.Type == "" {
		return nil, errs.New(errs.KindValidation, "", "task type is required", nil)
	}
	if err := o.validator.Validate(req.Type, req.Input); err != nil {
		return nil, err
	}

	now := time.Now()
	task := &types.Task{
		ID:             uuid.NewString(),
		Type:           req.Type,
		Input:          req.Input,
		WorkflowName:   req.WorkflowName,
		CallbackTarget: req.CallbackTarget,
		Metadata:       req.Metadata,
		Status:         types.TaskPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	o.publish(ctx, events.Event{Type: events.TaskSubmitted, TaskID: task.ID})

	task.Status = types.TaskPlanning
	wf, err := o.planner.Plan(task)
	if err != nil {
		task.Status = types.TaskFailed
		task.UpdatedAt = time.Now()
		o.storeTask(task, nil, nil)
		o.publish(ctx, events.Event{Type: events.TaskFailed, TaskID: task.ID, Payload: err.Error()})
		return task, err
	}
	task.Status = types.TaskPlanningComplete
	task.UpdatedAt = time.Now()
	task.EstimatedCompletion = now.Add(computeEstimate(wf).EstimatedTime)
	o.publish(ctx, events.Event{Type: events.TaskPlanned, TaskID: task.ID, WorkflowID: wf.ID})

	handle, err := o.engine.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       task.ID,
		Workflow: workflowName,
		Input:    &runRequest{TaskID: task.ID, Workflow: wf, Options: req.Options},
	})
	if err != nil {
		task.Status = types.TaskFailed
		task.UpdatedAt = time.Now()
		o.storeTask(task, wf, nil)
		return task, fmt.Errorf("orchestrator: start workflow: %w", err)
	}

	task.Status = types.TaskExecuting
	task.UpdatedAt = time.Now()
	o.storeTask(task, wf, handle)
	o.publish(ctx, events.Event{Type: events.TaskExecuting, TaskID: task.ID, WorkflowID: wf.ID})

	go o.awaitCompletion(task.ID, handle)

	submitted := cloneTask(task)
	submitted.Status = types.TaskPending
	return submitted, nil
}

func (o *Engine) storeTask(task *types.Task, wf *types.Workflow, handle engine.WorkflowHandle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tasks[task.ID] = &taskEntry{task: task, wf: wf, handle: handle}
}

// awaitCompletion blocks on handle.Wait and finalizes the task's terminal
// status. Runs in its own goroutine per Submit call; unbounded by
// WorkerPoolSize since the engine backend (not this goroutine) bounds true
// concurrency of in-flight activities.
func (o *Engine) awaitCompletion(taskID string, handle engine.WorkflowHandle) {
	var result executor.Result
	err := handle.Wait(context.Background(), &result)

	o.mu.Lock()
	entry, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return
	}
	task := entry.task
	switch {
	case err != nil:
		task.Status = types.TaskFailed
	case result.Status == executor.StatusCancelled:
		task.Status = types.TaskCancelled
	case result.Status == executor.StatusFailed:
		task.Status = types.TaskFailed
	default:
		task.Status = types.TaskCompleted
	}
	task.UpdatedAt = time.Now()
	if entry.wf != nil && result.Context != nil {
		result.Context.Workflow = entry.wf
	}
	o.mu.Unlock()

	evType := events.TaskCompleted
	if task.Status == types.TaskFailed {
		evType = events.TaskFailed
	} else if task.Status == types.TaskCancelled {
		evType = events.TaskCancelled
	}
	o.publish(context.Background(), events.Event{Type: evType, TaskID: taskID})
}

func (o *Engine) publish(ctx context.Context, ev events.Event) {
	if o.publisher == nil {
		return
	}
	_ = o.publisher.Publish(ctx, ev)
}

// Get returns the current task record.
func (o *Engine) Get(_ context.Context, taskID string) (*types.Task, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	entry, ok := o.tasks[taskID]
	if !ok {
		return nil, errs.New(errs.KindValidation, "", "task not found", nil)
	}
	return cloneTask(entry.task), nil
}

// Result returns the aggregated output of a completed task, or
// ErrNotCompleted otherwise.
func (o *Engine) Result(_ context.Context, taskID string) (value.Value, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	entry, ok := o.tasks[taskID]
	if !ok {
		return value.Nil, errs.New(errs.KindValidation, "", "task not found", nil)
	}
	if entry.task.Status != types.TaskCompleted {
		return value.Nil, ErrNotCompleted
	}
	return o.cachedResult(entry), nil
}

func (o *Engine) cachedResult(entry *taskEntry) value.Value {
	if entry.wf == nil {
		return value.Nil
	}
	version, err := o.states.Load(context.Background(), entry.wf.ID)
	if err != nil {
		return value.Nil
	}
	return version.State
}

// ListFilter narrows List's results.
type ListFilter struct {
	Status types.TaskStatus // empty means all statuses
	Limit  int
	Offset int
}

// List returns tasks newest-first, optionally filtered by status (spec §6,
// "GET /tasks?status=&limit=&offset= newest-first").
func (o *Engine) List(_ context.Context, filter ListFilter) ([]*types.Task, error) {
	o.mu.RLock()
	all := make([]*types.Task, 0, len(o.tasks))
	for _, entry := range o.tasks {
		if filter.Status != "" && entry.task.Status != filter.Status {
			continue
		}
		all = append(all, cloneTask(entry.task))
	}
	o.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := filter.Offset
	if start > len(all) {
		start = len(all)
	}
	end := len(all)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return all[start:end], nil
}

// Cancel requests cancellation of a non-terminal task (spec §6, "rejects
// with 400 if status is completed/failed").
func (o *Engine) Cancel(ctx context.Context, taskID string) error {
	o.mu.Lock()
	entry, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return errs.New(errs.KindValidation, "", "task not found", nil)
	}
	if isTerminal(entry.task.Status) {
		o.mu.Unlock()
		return ErrTerminal
	}
	entry.task.CancelRequested = true
	handle := entry.handle
	o.mu.Unlock()

	if handle == nil {
		return errs.New(errs.KindValidation, "", "task has no running workflow to cancel", nil)
	}
	return handle.Cancel(ctx)
}

func isTerminal(s types.TaskStatus) bool {
	switch s {
	case types.TaskCompleted, types.TaskFailed, types.TaskCancelled:
		return true
	default:
		return false
	}
}

func cloneTask(t *types.Task) *types.Task {
	cp := *t
	return &cp
}
