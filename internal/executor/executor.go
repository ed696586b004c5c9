// Package executor walks a compiled Workflow DAG (spec §4.3): it traverses
// the planner's parallel-group partition with golang.org/x/sync/errgroup,
// resolves each step's input, evaluates its condition, asks the Selector
// for an agent, and invokes it under the resilience layer (retry, circuit
// breaker, fallback), bracketing every invocation with load-counter
// increment/decrement the way the selector's LoadTracker expects.
package executor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/orchestrator/internal/errs"
	"github.com/taskmesh/orchestrator/internal/registry"
	"github.com/taskmesh/orchestrator/internal/resilience/breaker"
	"github.com/taskmesh/orchestrator/internal/resilience/fallback"
	"github.com/taskmesh/orchestrator/internal/resilience/retry"
	"github.com/taskmesh/orchestrator/internal/selector"
	"github.com/taskmesh/orchestrator/internal/telemetry"
	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

// Invoker dispatches one step to a chosen agent. Implementations are the
// collaborator boundary to the actual agent runtimes (LLM wrappers, search
// wrappers, etc.) — out of scope for this package.
type Invoker interface {
	Invoke(ctx context.Context, agent *types.AgentRecord, step *types.Step, input value.Value) (value.Value, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, agent *types.AgentRecord, step *types.Step, input value.Value) (value.Value, error)

func (f InvokerFunc) Invoke(ctx context.Context, agent *types.AgentRecord, step *types.Step, input value.Value) (value.Value, error) {
	return f(ctx, agent, step, input)
}

// LoadCounter tracks in-flight invocation counts per agent id, implementing
// selector.LoadTracker and the Executor's own increment/decrement
// bracketing (spec §4.2: "Load is tracked via explicit increment_workload /
// decrement_workload calls by the Executor").
type LoadCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewLoadCounter returns an empty counter.
func NewLoadCounter() *LoadCounter {
	return &LoadCounter{counts: make(map[string]int)}
}

func (l *LoadCounter) CurrentLoad(agentID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[agentID]
}

func (l *LoadCounter) increment(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[agentID]++
}

func (l *LoadCounter) decrement(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[agentID] > 0 {
		l.counts[agentID]--
	}
}

// Options controls one Execute call (spec §4.3).
type Options struct {
	// EnableParallel walks the planner's parallel-group partition
	// concurrently within each group. When false, steps run strictly in
	// topological order, one at a time.
	EnableParallel bool
	// ContinueOnError lets the workflow proceed past a failed step
	// (recording the failure) instead of aborting the run.
	ContinueOnError bool
	// Aggregation selects the final-result assembly mode.
	Aggregation Aggregation
	// StepTimeout bounds each step invocation; zero means no per-step
	// deadline beyond ctx's own.
	StepTimeout time.Duration
	// MaxGroupConcurrency caps how many steps within one parallel group run
	// at once; zero means unbounded (one goroutine per step in the group).
	MaxGroupConcurrency int
}

// Status is the terminal or in-flight state of one Execute call.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPartial   Status = "partial"
	StatusCancelled Status = "cancelled"
)

// Result is what Execute returns: per-step results, an overall status, the
// accumulated error list, and elapsed wall time (spec §4.3).
type Result struct {
	Status  Status
	Output  value.Value
	Context *types.ExecutionContext
	Elapsed time.Duration
}

// Executor runs one workflow DAG to completion.
type Executor struct {
	selector  *selector.Selector
	agents    registry.Store
	invoker   Invoker
	breakers  *breaker.Registry
	loads     *LoadCounter
	retries   map[string]retry.Policy // agent type -> override; "" is the default
	fallbacks map[string]fallback.Strategy

	errRatesMu sync.Mutex
	errRates   map[string]*fallback.RollingErrorRate

	triplet telemetry.Triplet
}

// New constructs an Executor. agents is used for fallback alternates, which
// the spec addresses by literal agent id rather than by capability score;
// retries and fallbacks may be nil.
func New(sel *selector.Selector, agents registry.Store, invoker Invoker, breakers *breaker.Registry, loads *LoadCounter, retries map[string]retry.Policy, fallbacks map[string]fallback.Strategy, triplet telemetry.Triplet) *Executor {
	if loads == nil {
		loads = NewLoadCounter()
	}
	if retries == nil {
		retries = map[string]retry.Policy{}
	}
	if fallbacks == nil {
		fallbacks = map[string]fallback.Strategy{}
	}
	return &Executor{
		selector:  sel,
		agents:    agents,
		invoker:   invoker,
		breakers:  breakers,
		loads:     loads,
		retries:   retries,
		fallbacks: fallbacks,
		errRates:  map[string]*fallback.RollingErrorRate{},
		triplet:   triplet,
	}
}

// Execute runs wf to completion, honoring opts.
func (e *Executor) Execute(ctx context.Context, wf *types.Workflow, opts Options) (*Result, error) {
	ec := types.NewExecutionContext(wf)
	var ecMu sync.RWMutex
	start := time.Now()

	groups := wf.ParallelGroups
	if !opts.EnableParallel {
		groups = singleStepGroups(wf.Order)
	}

	aborted := false
	for _, group := range groups {
		if ctx.Err() != nil {
			return &Result{Status: StatusCancelled, Context: ec, Elapsed: time.Since(start)}, nil
		}
		failed := e.runGroup(ctx, ec, &ecMu, group, opts)
		if failed && !opts.ContinueOnError {
			aborted = true
			break
		}
	}

	status := StatusCompleted
	switch {
	case ctx.Err() != nil:
		status = StatusCancelled
	case aborted:
		status = StatusFailed
	case len(ec.Errors) > 0:
		status = StatusPartial
	}

	return &Result{
		Status:  status,
		Output:  aggregate(opts.Aggregation, ec),
		Context: ec,
		Elapsed: time.Since(start),
	}, nil
}

func singleStepGroups(order []string) [][]string {
	groups := make([][]string, len(order))
	for i, id := range order {
		groups[i] = []string{id}
	}
	return groups
}

// runGroup dispatches every step in group concurrently, waits for all to
// settle, and reports whether any failed — sibling failures never cancel
// still-running siblings (spec §4.3, "Group-level failure policy"). ecMu
// guards the shared execution context: the spec requires single-writer
// semantics against it, and errgroup genuinely runs siblings on separate
// goroutines, so every read or mutation of ec.Results/ec.Errors/ec.State
// takes it.
func (e *Executor) runGroup(ctx context.Context, ec *types.ExecutionContext, ecMu *sync.RWMutex, group []string, opts Options) bool {
	g, gCtx := errgroup.WithContext(ctx)
	if opts.MaxGroupConcurrency > 0 {
		g.SetLimit(opts.MaxGroupConcurrency)
	}
	var mu sync.Mutex
	anyFailed := false

	for _, stepID := range group {
		stepID := stepID
		g.Go(func() error {
			failed := e.runStep(gCtx, ec, ecMu, ec.Workflow.Steps[stepID], opts)
			if failed {
				mu.Lock()
				anyFailed = true
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return anyFailed
}

// runStep executes one step's full lifecycle: condition, input resolution,
// selection, resilient invocation, and result recording. It returns true
// if the step failed (and continue_on_error must be consulted by the
// caller).
func (e *Executor) runStep(ctx context.Context, ec *types.ExecutionContext, ecMu *sync.RWMutex, step *types.Step, opts Options) bool {
	ecMu.RLock()
	runnable := evaluateCondition(step.Condition, ec.State, step.ID)
	ecMu.RUnlock()
	if !runnable {
		step.Status = types.StepSkipped
		return false
	}

	stepCtx := ctx
	var cancel context.CancelFunc
	if opts.StepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, opts.StepTimeout)
		defer cancel()
	}

	step.Status = types.StepInProgress
	step.StartedAt = time.Now()

	ecMu.RLock()
	input := resolveInput(step, ec)
	ecMu.RUnlock()

	var result value.Value
	var err error
	if step.FanOut {
		result, err = e.runFanOut(stepCtx, step, input, opts)
	} else {
		result, err = e.invokeStep(stepCtx, step, input)
	}
	step.FinishedAt = time.Now()

	ecMu.Lock()
	defer ecMu.Unlock()
	if err != nil {
		step.Status = types.StepFailed
		step.Error = err
		ec.Errors = append(ec.Errors, types.StepError{StepID: step.ID, Err: err})
		return true
	}

	step.Status = types.StepCompleted
	step.Result = result
	ec.Results[step.ID] = result
	if step.OutputKey != "" {
		ec.State = ec.State.WithSet(step.OutputKey, result)
	}
	return false
}

// invokeStep selects an agent and runs one resilient invocation for step.
// Without a registered fallback.Strategy, the Selector's capability/load/
// cost/health score picks the single agent tried. With one, the strategy's
// primary and alternates are tried in order by literal agent id (spec
// §4.4.3), each still wrapped in the same breaker+retry invocation.
func (e *Executor) invokeStep(ctx context.Context, step *types.Step, input value.Value) (value.Value, error) {
	strategy, hasFallback := e.fallbacks[step.ID]
	if !hasFallback {
		agent, err := e.selector.Select(ctx, step, selector.Options{PreferredAgents: step.PreferredAgents, Budget: step.Budget})
		if err != nil {
			return value.Nil, err
		}
		return e.invokeAgent(ctx, step, agent, input)
	}

	targets := strategy.Targets()
	var lastErr error
	for i, id := range targets {
		agent, err := e.agents.Get(ctx, id)
		if err != nil || agent.Status != types.AgentActive {
			lastErr = errs.New(errs.KindSelection, step.ID, "fallback target unavailable", err)
			continue
		}

		result, invokeErr := e.invokeAgent(ctx, step, agent, input)
		if invokeErr == nil {
			return result, nil
		}
		lastErr = invokeErr

		if i == len(targets)-1 {
			break
		}
		if !strategy.Authorizes(invokeErr, e.errorRateFor(agent.ID)) {
			break
		}
	}
	return value.Nil, lastErr
}

// invokeAgent wraps one call in the circuit breaker and retry policy,
// bracketing the load counter on every exit path.
func (e *Executor) invokeAgent(ctx context.Context, step *types.Step, agent *types.AgentRecord, input value.Value) (value.Value, error) {
	br := e.breakers.For(agent.ID)
	if err := br.Allow(); err != nil {
		e.recordOutcome(agent.ID, true)
		return value.Nil, errs.New(errs.KindCircuitOpen, step.ID, "circuit breaker open for target agent", err)
	}

	e.loads.increment(agent.ID)
	defer e.loads.decrement(agent.ID)

	policy := e.retryPolicyFor(step.AgentType)
	var result value.Value
	err := retry.Do(ctx, policy, isRetryableInvocationError, func(ctx context.Context) error {
		r, callErr := e.invoker.Invoke(ctx, agent, step, input)
		if callErr != nil {
			return callErr
		}
		result = r
		return nil
	})

	if err != nil {
		br.Failure()
		e.recordOutcome(agent.ID, true)
		return value.Nil, errs.New(errs.KindInvocation, step.ID, "agent invocation failed", err)
	}
	br.Success()
	e.recordOutcome(agent.ID, false)
	return result, nil
}

func (e *Executor) retryPolicyFor(agentType string) retry.Policy {
	if p, ok := e.retries[agentType]; ok {
		return p
	}
	if p, ok := e.retries[""]; ok {
		return p
	}
	return retry.DefaultPolicy()
}

func (e *Executor) errorRateFor(agentID string) float64 {
	e.errRatesMu.Lock()
	defer e.errRatesMu.Unlock()
	tracker, ok := e.errRates[agentID]
	if !ok {
		return 0
	}
	return tracker.Rate()
}

func (e *Executor) recordOutcome(agentID string, failed bool) {
	e.errRatesMu.Lock()
	defer e.errRatesMu.Unlock()
	tracker, ok := e.errRates[agentID]
	if !ok {
		tracker = fallback.NewRollingErrorRate(20)
		e.errRates[agentID] = tracker
	}
	tracker.Record(failed)
}

func isRetryableInvocationError(err error) bool {
	if errs.Is(err, errs.KindCancelled) || errs.Is(err, errs.KindValidation) {
		return false
	}
	return true
}
