// Package types defines the orchestrator's core data model (spec §3):
// Task, Workflow, Step, ExecutionContext, AgentRecord, StateVersion, and
// Checkpoint.
package types

import (
	"time"

	"github.com/taskmesh/orchestrator/internal/value"
)

// TaskStatus is the Task lifecycle state.
type TaskStatus string

const (
	TaskPending            TaskStatus = "pending"
	TaskPlanning           TaskStatus = "planning"
	TaskPlanningComplete   TaskStatus = "planning_complete"
	TaskExecuting          TaskStatus = "executing"
	TaskCompleted          TaskStatus = "completed"
	TaskFailed             TaskStatus = "failed"
	TaskCancelled          TaskStatus = "cancelled"
)

// Task is an externally-submitted unit of work.
type Task struct {
	ID              string
	Type            string
	Input           value.Value
	WorkflowName    string // optional override
	CallbackTarget  string
	Metadata        map[string]string
	Status          TaskStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CancelRequested bool

	// EstimatedCompletion is CreatedAt plus the resource estimator's
	// critical-path time prediction, set once planning succeeds (spec §6,
	// "201 {task_id, status:"pending", created_at, estimated_completion}").
	EstimatedCompletion time.Time
}

// StepStatus is the per-step lifecycle state.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// Condition is the tagged AST for step conditional evaluation (spec §4.3.1).
type Condition struct {
	// Kind is one of "simple", "and", "or", "branch".
	Kind string

	// simple
	Field string
	Op    string
	Value value.Value

	// and/or
	Conditions []Condition

	// branch
	Branches []Branch
	Else     []string // step ids
}

// Branch is one clause of a branch condition.
type Branch struct {
	Condition Condition
	Steps     []string
}

// Step is one node in a workflow DAG.
type Step struct {
	ID                   string
	AgentType            string
	CapabilitiesRequired []string
	Input                value.Value
	DependsOn            []string
	OutputKey            string
	Condition            *Condition
	EstimatedTime        time.Duration
	EstimatedCost        float64
	FanOut               bool
	FanOutField          string // dotted path into Input naming the list to fan out over
	PreferredAgents      []string
	Budget               *float64

	Status StepStatus
	Result value.Value
	Error  error

	StartedAt  time.Time
	FinishedAt time.Time
}

// Clone returns a deep-enough copy of the step for per-execution mutation
// (status/result/timestamps) without aliasing the definition shared by
// concurrent workflow runs.
func (s Step) Clone() Step {
	cp := s
	cp.CapabilitiesRequired = append([]string(nil), s.CapabilitiesRequired...)
	cp.DependsOn = append([]string(nil), s.DependsOn...)
	cp.PreferredAgents = append([]string(nil), s.PreferredAgents...)
	return cp
}

// Workflow is the compiled DAG form of a Task.
type Workflow struct {
	ID             string
	Name           string
	TaskType       string
	Steps          map[string]*Step
	Order          []string   // topological order, stable tie-break by insertion order
	ParallelGroups [][]string // partition of Order into concurrency groups
}

// StepsInOrder returns the steps in topological order.
func (w *Workflow) StepsInOrder() []*Step {
	out := make([]*Step, 0, len(w.Order))
	for _, id := range w.Order {
		out = append(out, w.Steps[id])
	}
	return out
}

// ExecutionContext is the transient per-run record mutated only by the
// Executor for the duration of one workflow run.
type ExecutionContext struct {
	Workflow  *Workflow
	Results   map[string]value.Value // step id -> result
	Errors    []StepError
	State     value.Value // output-key -> last value, a map Value
	StartedAt time.Time
}

// StepError pairs a step id with the error it raised.
type StepError struct {
	StepID string
	Err    error
}

// NewExecutionContext creates an empty context bound to wf.
func NewExecutionContext(wf *Workflow) *ExecutionContext {
	return &ExecutionContext{
		Workflow:  wf,
		Results:   make(map[string]value.Value),
		State:     value.Object(map[string]any{}),
		StartedAt: time.Now(),
	}
}

// AgentStatus is the declared liveness of an Agent record.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentInactive AgentStatus = "inactive"
)

// AgentRecord is one entry in the agent registry.
type AgentRecord struct {
	ID            string
	Name          string
	Capabilities  map[string]struct{}
	Status        AgentStatus
	CostPerCall   float64
	MaxConcurrent int
	Metadata      map[string]string
	LastHeartbeat time.Time
}

// HasCapability reports whether the agent advertises cap.
func (a *AgentRecord) HasCapability(cap string) bool {
	_, ok := a.Capabilities[cap]
	return ok
}

// StateVersion is a snapshot of a workflow's state map at a monotonic
// version.
type StateVersion struct {
	WorkflowID string
	Version    int
	State      value.Value
	CreatedAt  time.Time
}

// Checkpoint is a named, immutable pointer to (workflow id, version).
type Checkpoint struct {
	Name       string
	WorkflowID string
	Version    int
	Metadata   map[string]string
	CreatedAt  time.Time
}
