package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/orchestrator/internal/errs"
	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

// runFanOut synthesizes one synthetic child step per item in
// step.FanOutField (a list nested in input), dispatches them concurrently
// sharing step's agent type, and collects their results preserving input
// order (spec §4.3.4). Failure is governed by the same continue_on_error
// policy as a parallel group (spec §4.3.4/SPEC_FULL §D): with
// continue_on_error false, any item failing fails the whole fan-out step
// with the first error by index order; with it true, failed items are
// annotated in place and the step itself succeeds with partial results.
func (e *Executor) runFanOut(ctx context.Context, step *types.Step, input value.Value, opts Options) (value.Value, error) {
	items, ok := input.Get(step.FanOutField)
	if !ok {
		return value.Nil, errs.New(errs.KindValidation, step.ID, "fan-out field not found in resolved input", nil)
	}
	list, ok := items.Slice()
	if !ok {
		return value.Nil, errs.New(errs.KindValidation, step.ID, "fan-out field is not a list", nil)
	}

	results := make([]value.Value, len(list))
	errsByIndex := make([]error, len(list))

	g, gCtx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i, item := range list {
		i, item := i, item
		g.Go(func() error {
			itemInput := input.WithSet("item", item).WithSet("item_index", value.FromAny(i))
			r, err := e.invokeStep(gCtx, step, itemInput)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errsByIndex[i] = err
				return nil
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	var firstErr error
	for i, err := range errsByIndex {
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if !opts.ContinueOnError {
				return value.Nil, firstErr
			}
			results[i] = value.Object(map[string]any{"status": "failed", "error": err.Error()})
		}
	}

	out := make([]any, len(results))
	for i, r := range results {
		out[i] = r.ToGo()
	}
	return value.FromAny(out), nil
}
