package executor

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

// evaluateCondition implements spec §4.3.1's condition AST. stepID is
// needed only for the "branch" kind, where a step runs iff it appears in
// the steps list of the first matching branch (or the else clause).
func evaluateCondition(cond *types.Condition, state value.Value, stepID string) bool {
	if cond == nil {
		return true
	}
	switch cond.Kind {
	case "simple":
		return evaluateSimple(cond, state)
	case "and":
		for _, sub := range cond.Conditions {
			if !evaluateCondition(&sub, state, stepID) {
				return false
			}
		}
		return true
	case "or":
		for _, sub := range cond.Conditions {
			if evaluateCondition(&sub, state, stepID) {
				return true
			}
		}
		return false
	case "branch":
		for _, b := range cond.Branches {
			if evaluateCondition(&b.Condition, state, stepID) {
				return containsString(b.Steps, stepID)
			}
		}
		return containsString(cond.Else, stepID)
	default:
		return true
	}
}

func containsString(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}

func evaluateSimple(cond *types.Condition, state value.Value) bool {
	field, found := state.Get(cond.Field)

	switch cond.Op {
	case "exists":
		return found
	case "not_exists":
		return !found
	}
	if !found {
		return false
	}

	switch cond.Op {
	case "equals":
		return valuesEqual(field, cond.Value)
	case "not_equals":
		return !valuesEqual(field, cond.Value)
	case "greater_than":
		return compareFloat(field, cond.Value, func(a, b float64) bool { return a > b })
	case "less_than":
		return compareFloat(field, cond.Value, func(a, b float64) bool { return a < b })
	case "greater_than_or_equal":
		return compareFloat(field, cond.Value, func(a, b float64) bool { return a >= b })
	case "less_than_or_equal":
		return compareFloat(field, cond.Value, func(a, b float64) bool { return a <= b })
	case "contains":
		return containsValue(field, cond.Value)
	case "not_contains":
		return !containsValue(field, cond.Value)
	case "in":
		return memberOf(field, cond.Value)
	case "not_in":
		return !memberOf(field, cond.Value)
	case "regex":
		return matchesRegex(field, cond.Value)
	default:
		return false
	}
}

func valuesEqual(a, b value.Value) bool {
	return reflect.DeepEqual(a.ToGo(), b.ToGo())
}

func compareFloat(a, b value.Value, cmp func(a, b float64) bool) bool {
	af, aok := a.Float()
	bf, bok := b.Float()
	if !aok || !bok {
		return false
	}
	return cmp(af, bf)
}

func containsValue(field, needle value.Value) bool {
	if s, ok := field.String(); ok {
		if n, ok := needle.String(); ok {
			return strings.Contains(s, n)
		}
	}
	if list, ok := field.Slice(); ok {
		for _, item := range list {
			if valuesEqual(item, needle) {
				return true
			}
		}
	}
	return false
}

func memberOf(field, list value.Value) bool {
	items, ok := list.Slice()
	if !ok {
		return false
	}
	for _, item := range items {
		if valuesEqual(item, field) {
			return true
		}
	}
	return false
}

func matchesRegex(field, pattern value.Value) bool {
	s, ok := field.String()
	if !ok {
		return false
	}
	p, ok := pattern.String()
	if !ok {
		return false
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
