package executor

import (
	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

// Aggregation names the final-result assembly mode (spec §4.3.3).
type Aggregation string

const (
	AggregationFinal  Aggregation = "final"
	AggregationAll    Aggregation = "all"
	AggregationMerge  Aggregation = "merge"
	AggregationFanIn  Aggregation = "fan_in"
)

// aggregate builds the final result value for a completed or partial run
// per the requested mode.
func aggregate(mode Aggregation, ec *types.ExecutionContext) value.Value {
	switch mode {
	case AggregationAll:
		return resultsMap(ec)
	case AggregationMerge:
		return mergeResults(ec)
	case AggregationFanIn:
		return fanInResults(ec)
	case AggregationFinal:
		fallthrough
	default:
		return finalResult(ec)
	}
}

func resultsMap(ec *types.ExecutionContext) value.Value {
	out := make(map[string]any, len(ec.Results))
	for id, r := range ec.Results {
		out[id] = r.ToGo()
	}
	return value.Object(out)
}

func finalResult(ec *types.ExecutionContext) value.Value {
	var last value.Value
	for i := len(ec.Workflow.Order) - 1; i >= 0; i-- {
		id := ec.Workflow.Order[i]
		if r, ok := ec.Results[id]; ok {
			last = r
			break
		}
	}
	return value.Object(map[string]any{
		"result":  last.ToGo(),
		"results": resultsMap(ec).ToGo(),
		"state":   ec.State.ToGo(),
	})
}

func mergeResults(ec *types.ExecutionContext) value.Value {
	out := map[string]value.Value{}
	for id, r := range ec.Results {
		if m, ok := r.Map(); ok {
			for k, v := range m {
				out[k] = v
			}
		} else {
			out[id] = r
		}
	}
	return value.FromAny(out)
}

func fanInResults(ec *types.ExecutionContext) value.Value {
	out := make(map[string][]any)
	for _, id := range ec.Workflow.Order {
		r, ok := ec.Results[id]
		if !ok {
			continue
		}
		key := id
		if step, ok := ec.Workflow.Steps[id]; ok && step.OutputKey != "" {
			key = step.OutputKey
		}
		out[key] = append(out[key], r.ToGo())
	}
	asAny := make(map[string]any, len(out))
	for k, v := range out {
		asAny[k] = v
	}
	return value.Object(asAny)
}
