// Package templates registers the exemplar workflow templates spec §4.1's
// Glossary requires every planner.Library to carry at minimum: simple,
// research_and_analyze, code_generation, data_processing, and
// parallel_analysis. Each is plain data — a name and a list of step
// descriptors — the same shape an operator-defined template would take.
package templates

import (
	"github.com/taskmesh/orchestrator/internal/planner"
	"github.com/taskmesh/orchestrator/internal/types"
)

// RegisterDefaults adds the five exemplar templates to lib, keyed by task
// type equal to their own name (SPEC_FULL §4.1's substring heuristics
// additionally route unrecognized types to these by name).
func RegisterDefaults(lib *planner.Library) {
	for _, tmpl := range []planner.Template{
		Simple(),
		ResearchAndAnalyze(),
		CodeGeneration(),
		DataProcessing(),
		ParallelAnalysis(),
	} {
		lib.Register(tmpl.Name, tmpl)
	}
}

// Simple is a single-step template: one agent runs against the task's raw
// input and its result is the workflow's result (spec §8 scenario 1).
func Simple() planner.Template {
	return planner.Template{
		Name: planner.SimpleTemplateName,
		Steps: []types.Step{
			{ID: "execute", AgentType: "task_agent", OutputKey: "result"},
		},
	}
}

// ResearchAndAnalyze runs research, then analyze, then synthesize, each
// depending on the last, producing parallel groups [[research],[analyze],
// [synthesize]] (spec §8 scenario 2).
func ResearchAndAnalyze() planner.Template {
	return planner.Template{
		Name: "research_and_analyze",
		Steps: []types.Step{
			{ID: "research", AgentType: "research_agent", OutputKey: "research"},
			{ID: "analyze", AgentType: "analysis_agent", DependsOn: []string{"research"}, OutputKey: "analysis"},
			{ID: "synthesize", AgentType: "synthesis_agent", DependsOn: []string{"analyze"}, OutputKey: "synthesis"},
		},
	}
}

// CodeGeneration drafts code, reviews it, then revises against review
// feedback — the review and revise steps both depend on draft, but revise
// additionally depends on review so it always sees the review's output.
func CodeGeneration() planner.Template {
	return planner.Template{
		Name: "code_generation",
		Steps: []types.Step{
			{ID: "draft", AgentType: "code_agent", OutputKey: "draft"},
			{ID: "review", AgentType: "review_agent", DependsOn: []string{"draft"}, OutputKey: "review"},
			{ID: "revise", AgentType: "code_agent", DependsOn: []string{"draft", "review"}, OutputKey: "result"},
		},
	}
}

// DataProcessing extracts, transforms, then validates a pipeline of
// records, one dependency chain deep.
func DataProcessing() planner.Template {
	return planner.Template{
		Name: "data_processing",
		Steps: []types.Step{
			{ID: "extract", AgentType: "extract_agent", OutputKey: "extracted"},
			{ID: "transform", AgentType: "transform_agent", DependsOn: []string{"extract"}, OutputKey: "transformed"},
			{ID: "validate", AgentType: "validation_agent", DependsOn: []string{"transform"}, OutputKey: "result"},
		},
	}
}

// ParallelAnalysis runs two independent analysis steps concurrently, then
// aggregates both, producing parallel groups [[analyze_item_1,
// analyze_item_2],[aggregate]] (spec §8 scenario 3).
func ParallelAnalysis() planner.Template {
	return planner.Template{
		Name: "parallel_analysis",
		Steps: []types.Step{
			{ID: "analyze_item_1", AgentType: "analysis_agent", OutputKey: "item_1"},
			{ID: "analyze_item_2", AgentType: "analysis_agent", OutputKey: "item_2"},
			{ID: "aggregate", AgentType: "aggregation_agent", DependsOn: []string{"analyze_item_1", "analyze_item_2"}, OutputKey: "result"},
		},
	}
}
