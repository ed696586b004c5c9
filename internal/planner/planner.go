// Package planner compiles a Task into a Workflow DAG (spec §4.1): it looks
// up a template by task type, validates the dependency graph with Kahn's
// algorithm (detecting cycles and dangling references), and partitions the
// topological order into parallel execution groups.
package planner

import (
	"fmt"
	"strings"
	"sync"

	"github.com/taskmesh/orchestrator/internal/errs"
	"github.com/taskmesh/orchestrator/internal/types"
)

// SimpleTemplateName is the template every unrecognized task type falls
// back to (spec §4.1/§7): while a simple template is registered, planning
// never fails outright just because a task's type doesn't match a
// registered template.
const SimpleTemplateName = "simple"

// Template is a registered workflow blueprint: a named, reusable set of step
// definitions keyed by task type.
type Template struct {
	Name  string
	Steps []types.Step
}

// Library holds registered templates, looked up by task type or explicit
// workflow name override (spec §3, Task.WorkflowName).
type Library struct {
	mu        sync.RWMutex
	byType    map[string]Template
	byName    map[string]Template
}

// NewLibrary returns an empty template library.
func NewLibrary() *Library {
	return &Library{byType: make(map[string]Template), byName: make(map[string]Template)}
}

// Register adds tmpl, indexed by taskType and by its own name.
func (l *Library) Register(taskType string, tmpl Template) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byType[taskType] = tmpl
	l.byName[tmpl.Name] = tmpl
}

func (l *Library) lookup(taskType, workflowName string) (Template, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if workflowName != "" {
		tmpl, ok := l.byName[workflowName]
		return tmpl, ok
	}
	tmpl, ok := l.byType[taskType]
	return tmpl, ok
}

// resolveTemplate finds the best template for an unrecognized task type: an
// exact match first, then substring heuristics on the type name, then the
// simple template as a last resort (spec §4.1/§7 — unknown task type is
// not a planning failure unless no simple template is registered).
func (l *Library) resolveTemplate(taskType, workflowName string) (Template, bool) {
	if tmpl, ok := l.lookup(taskType, workflowName); ok {
		return tmpl, true
	}
	if workflowName != "" {
		return Template{}, false
	}

	lower := strings.ToLower(taskType)
	switch {
	case strings.Contains(lower, "research") && strings.Contains(lower, "analyze"):
		if tmpl, ok := l.lookup("research_and_analyze", ""); ok {
			return tmpl, true
		}
	case strings.Contains(lower, "code"):
		if tmpl, ok := l.lookup("code_generation", ""); ok {
			return tmpl, true
		}
	case strings.Contains(lower, "parallel"):
		if tmpl, ok := l.lookup("parallel_analysis", ""); ok {
			return tmpl, true
		}
	}
	return l.lookup(SimpleTemplateName, "")
}

// Planner compiles tasks into workflows.
type Planner struct {
	lib *Library
}

// New constructs a Planner backed by lib.
func New(lib *Library) *Planner {
	return &Planner{lib: lib}
}

// Plan compiles task into a Workflow: template lookup, cycle/dangling-ref
// validation, topological sort, and parallel-group partitioning.
func (p *Planner) Plan(task *types.Task) (*types.Workflow, error) {
	tmpl, ok := p.lib.resolveTemplate(task.Type, task.WorkflowName)
	if !ok {
		name := task.WorkflowName
		if name == "" {
			name = task.Type
		}
		return nil, errs.New(errs.KindPlanning, "", fmt.Sprintf("no workflow template registered for %q", name), nil)
	}

	steps := make(map[string]*types.Step, len(tmpl.Steps))
	insertionOrder := make([]string, 0, len(tmpl.Steps))
	for _, s := range tmpl.Steps {
		cp := s.Clone()
		cp.Status = types.StepPending
		if _, dup := steps[cp.ID]; !dup {
			insertionOrder = append(insertionOrder, cp.ID)
		}
		steps[cp.ID] = &cp
	}
	for id, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := steps[dep]; !ok {
				return nil, errs.New(errs.KindPlanning, id, fmt.Sprintf("step %q depends on unknown step %q", id, dep), nil)
			}
		}
	}

	order, err := topologicalOrder(steps, insertionOrder)
	if err != nil {
		return nil, err
	}

	wf := &types.Workflow{
		ID:       task.ID,
		Name:     tmpl.Name,
		TaskType: task.Type,
		Steps:    steps,
		Order:    order,
	}
	wf.ParallelGroups = partitionIntoGroups(steps, order)
	return wf, nil
}

// topologicalOrder runs Kahn's algorithm over steps, breaking ties by the
// step's original insertion order (tmpl.Steps order) so planning is
// deterministic across runs of the same template.
func topologicalOrder(steps map[string]*types.Step, insertionOrder []string) ([]string, error) {
	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))

	for _, id := range insertionOrder {
		s := steps[id]
		inDegree[id] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for _, id := range insertionOrder {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var order []string
	for len(ready) > 0 {
		// Stable: always take the lowest-insertion-order ready node.
		next := popLowestInsertion(ready, insertionOrder)
		ready = removeFromSlice(ready, next)
		order = append(order, next)

		for _, dep := range dependents[next] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(steps) {
		return nil, errs.New(errs.KindPlanning, "", "dependency cycle detected in workflow template", nil)
	}
	return order, nil
}

// partitionIntoGroups greedily buckets the topological order into parallel
// groups: a step joins the earliest group after all of its dependencies'
// groups (spec §4.3, "steps whose dependencies are already satisfied run
// concurrently").
func partitionIntoGroups(steps map[string]*types.Step, order []string) [][]string {
	groupOf := make(map[string]int, len(order))
	var groups [][]string
	for _, id := range order {
		maxDepGroup := -1
		for _, dep := range steps[id].DependsOn {
			if g := groupOf[dep]; g > maxDepGroup {
				maxDepGroup = g
			}
		}
		g := maxDepGroup + 1
		groupOf[id] = g
		for len(groups) <= g {
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], id)
	}
	return groups
}

func popLowestInsertion(ready, insertionOrder []string) string {
	rank := make(map[string]int, len(insertionOrder))
	for i, id := range insertionOrder {
		rank[id] = i
	}
	best := ready[0]
	for _, id := range ready[1:] {
		if rank[id] < rank[best] {
			best = id
		}
	}
	return best
}

func removeFromSlice(ids []string, target string) []string {
	out := make([]string, 0, len(ids)-1)
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
