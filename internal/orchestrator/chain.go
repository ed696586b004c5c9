package orchestrator

import (
	"context"
	"time"

	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

// ChainRequest describes one workflow chain run (SPEC_FULL.md §C.2).
type ChainRequest struct {
	// Workflows names each link's workflow, run in order.
	Workflows []string
	// TaskType is shared by every link (each link is a fresh Task of this
	// type, routed to its named workflow override).
	TaskType string
	// Input seeds the first link; later links' input is the prior link's
	// aggregated result merged in under "_previous".
	Input value.Value
	// ContinueOnError lets the chain advance past a failed link with
	// "_previous" set to nil instead of aborting (SPEC_FULL.md §C.2).
	ContinueOnError bool
	Metadata        map[string]string
}

// LinkResult is one chain link's outcome.
type LinkResult struct {
	WorkflowName string
	Task         *types.Task
	Output       value.Value
	Err          error
}

// ChainResult is the full chain's outcome.
type ChainResult struct {
	Links  []LinkResult
	Status executorTerminalStatus
}

// executorTerminalStatus mirrors executor.Status without importing it here
// to keep the chain's public surface independent of the per-step executor
// types; values are "completed" or "failed".
type executorTerminalStatus string

const (
	ChainCompleted executorTerminalStatus = "completed"
	ChainFailed    executorTerminalStatus = "failed"
)

// RunChain submits each workflow in req.Workflows in turn, piping the
// aggregated output of one into the next under a reserved "_previous" key
// (SPEC_FULL.md §C.2). It blocks until the chain completes or aborts.
func (o *Engine) RunChain(ctx context.Context, req ChainRequest) (*ChainResult, error) {
	result := &ChainResult{Status: ChainCompleted}
	previous := value.Nil

	for _, wfName := range req.Workflows {
		input := req.Input
		if !previous.IsNil() {
			input = input.WithSet("_previous", previous)
		} else if len(result.Links) > 0 {
			input = input.WithSet("_previous", value.Nil)
		}

		task, err := o.Submit(ctx, SubmitRequest{
			Type:         req.TaskType,
			Input:        input,
			WorkflowName: wfName,
			Metadata:     req.Metadata,
		})
		if err != nil {
			result.Links = append(result.Links, LinkResult{WorkflowName: wfName, Task: task, Err: err})
			result.Status = ChainFailed
			if !req.ContinueOnError {
				return result, nil
			}
			previous = value.Nil
			continue
		}

		final, waitErr := o.waitForTerminal(ctx, task.ID)
		link := LinkResult{WorkflowName: wfName, Task: final, Err: waitErr}
		if waitErr != nil || final.Status != types.TaskCompleted {
			result.Status = ChainFailed
			result.Links = append(result.Links, link)
			if !req.ContinueOnError {
				return result, nil
			}
			previous = value.Nil
			continue
		}

		output, _ := o.Result(ctx, task.ID)
		link.Output = output
		result.Links = append(result.Links, link)
		previous = output
	}

	return result, nil
}

// waitForTerminal polls Get until task reaches a terminal status or ctx is
// done. The chain runs link-by-link sequentially by design (spec's
// "pipes output of one workflow into the input of the next"), so a simple
// poll is adequate — no caller benefits from a push-based wait here.
func (o *Engine) waitForTerminal(ctx context.Context, taskID string) (*types.Task, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		task, err := o.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if isTerminal(task.Status) {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}
