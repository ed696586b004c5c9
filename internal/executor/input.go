package executor

import (
	"regexp"

	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

// templateRef matches a whole-string "{{a.b.c}}" template reference
// (spec §4.3.2). Partial interpolation inside a larger string is not
// supported — unresolved or non-matching strings pass through unchanged.
var templateRef = regexp.MustCompile(`^\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}$`)

// resolveInput builds the effective input for step: its declared payload,
// merged with each dependency's result (map results merge their keys in,
// non-map results land under "<dep_id>_result"), then template-substituted
// against the execution context's state map.
func resolveInput(step *types.Step, ec *types.ExecutionContext) value.Value {
	input := step.Input
	if input.IsNil() {
		input = value.Object(map[string]any{})
	}

	for _, dep := range step.DependsOn {
		result, ok := ec.Results[dep]
		if !ok {
			continue
		}
		if result.IsMap() {
			input = value.Merge(input, result)
		} else {
			input = input.WithSet(dep+"_result", result)
		}
	}

	return substituteTemplates(input, ec.State)
}

// substituteTemplates walks v recursively, replacing any string matching
// templateRef with the looked-up value from state. Paths that don't
// resolve are left as the original template string.
func substituteTemplates(v value.Value, state value.Value) value.Value {
	if s, ok := v.String(); ok {
		if m := templateRef.FindStringSubmatch(s); m != nil {
			if resolved, ok := state.Get(m[1]); ok {
				return resolved
			}
		}
		return v
	}
	if m, ok := v.Map(); ok {
		out := make(map[string]value.Value, len(m))
		for k, vv := range m {
			out[k] = substituteTemplates(vv, state)
		}
		return value.FromAny(out)
	}
	if s, ok := v.Slice(); ok {
		out := make([]value.Value, len(s))
		for i, vv := range s {
			out[i] = substituteTemplates(vv, state)
		}
		return value.FromAny(out)
	}
	return v
}
