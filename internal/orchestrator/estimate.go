package orchestrator

import (
	"context"
	"time"

	"github.com/taskmesh/orchestrator/internal/types"
)

// Estimate is a pre-execution dry-run result (SPEC_FULL.md §C.1): predicted
// wall-clock time, predicted cost, and the set of agent types the plan will
// invoke.
type Estimate struct {
	EstimatedTime time.Duration
	EstimatedCost float64
	AgentSet      []string
}

// Estimate plans task (without executing it) and returns its resource
// estimate: EstimatedTime sums along the critical path — the longest
// dependency chain by EstimatedTime, since only that chain's duration is
// unavoidable regardless of parallelism — while EstimatedCost sums every
// step, since cost is incurred per invocation whether or not the step ran
// concurrently with a sibling.
func (o *Engine) Estimate(_ context.Context, task *types.Task) (*Estimate, error) {
	wf, err := o.planner.Plan(task)
	if err != nil {
		return nil, err
	}
	return computeEstimate(wf), nil
}

func computeEstimate(wf *types.Workflow) *Estimate {
	finish := make(map[string]time.Duration, len(wf.Steps))
	var totalCost float64
	agentSeen := make(map[string]struct{}, len(wf.Steps))
	var agentSet []string

	for _, id := range wf.Order {
		step := wf.Steps[id]
		totalCost += step.EstimatedCost
		if _, ok := agentSeen[step.AgentType]; !ok && step.AgentType != "" {
			agentSeen[step.AgentType] = struct{}{}
			agentSet = append(agentSet, step.AgentType)
		}

		var depFinish time.Duration
		for _, dep := range step.DependsOn {
			if f := finish[dep]; f > depFinish {
				depFinish = f
			}
		}
		finish[id] = depFinish + step.EstimatedTime
	}

	var critical time.Duration
	for _, f := range finish {
		if f > critical {
			critical = f
		}
	}

	return &Estimate{EstimatedTime: critical, EstimatedCost: totalCost, AgentSet: agentSet}
}
