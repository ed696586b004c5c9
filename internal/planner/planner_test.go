package planner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/orchestrator/internal/errs"
	"github.com/taskmesh/orchestrator/internal/planner"
	"github.com/taskmesh/orchestrator/internal/types"
)

func TestPlan_ProducesTopologicalOrderAndParallelGroups(t *testing.T) {
	lib := planner.NewLibrary()
	lib.Register("report", planner.Template{
		Name: "report-workflow",
		Steps: []types.Step{
			{ID: "fetch", AgentType: "fetcher"},
			{ID: "analyze_a", AgentType: "analyzer", DependsOn: []string{"fetch"}},
			{ID: "analyze_b", AgentType: "analyzer", DependsOn: []string{"fetch"}},
			{ID: "summarize", AgentType: "summarizer", DependsOn: []string{"analyze_a", "analyze_b"}},
		},
	})
	p := planner.New(lib)

	wf, err := p.Plan(&types.Task{ID: "t1", Type: "report"})
	require.NoError(t, err)

	require.Len(t, wf.Order, 4)
	assert.Equal(t, "fetch", wf.Order[0])
	assert.Equal(t, "summarize", wf.Order[3])

	require.Len(t, wf.ParallelGroups, 3)
	assert.Equal(t, []string{"fetch"}, wf.ParallelGroups[0])
	assert.ElementsMatch(t, []string{"analyze_a", "analyze_b"}, wf.ParallelGroups[1])
	assert.Equal(t, []string{"summarize"}, wf.ParallelGroups[2])
}

func TestPlan_DetectsCycle(t *testing.T) {
	lib := planner.NewLibrary()
	lib.Register("cyclic", planner.Template{
		Name: "cyclic-workflow",
		Steps: []types.Step{
			{ID: "a", DependsOn: []string{"b"}},
			{ID: "b", DependsOn: []string{"a"}},
		},
	})
	p := planner.New(lib)

	_, err := p.Plan(&types.Task{ID: "t1", Type: "cyclic"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindPlanning))
}

func TestPlan_DetectsDanglingDependency(t *testing.T) {
	lib := planner.NewLibrary()
	lib.Register("broken", planner.Template{
		Name: "broken-workflow",
		Steps: []types.Step{
			{ID: "a", DependsOn: []string{"missing"}},
		},
	})
	p := planner.New(lib)

	_, err := p.Plan(&types.Task{ID: "t1", Type: "broken"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindPlanning))
}

func TestPlan_UnknownTaskTypeFallsBackToSimple(t *testing.T) {
	lib := planner.NewLibrary()
	lib.Register("simple", planner.Template{Name: "simple", Steps: []types.Step{{ID: "run"}}})
	p := planner.New(lib)

	wf, err := p.Plan(&types.Task{ID: "t1", Type: "nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, "simple", wf.Name)
	assert.Equal(t, []string{"run"}, wf.Order)
}

func TestPlan_UnknownTaskTypeErrorsWithoutSimpleTemplate(t *testing.T) {
	p := planner.New(planner.NewLibrary())
	_, err := p.Plan(&types.Task{ID: "t1", Type: "nonexistent"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindPlanning))
}

func TestPlan_SubstringHeuristicsPickDomainTemplates(t *testing.T) {
	lib := planner.NewLibrary()
	lib.Register("simple", planner.Template{Name: "simple", Steps: []types.Step{{ID: "run"}}})
	lib.Register("research_and_analyze", planner.Template{Name: "research_and_analyze", Steps: []types.Step{{ID: "research"}}})
	lib.Register("code_generation", planner.Template{Name: "code_generation", Steps: []types.Step{{ID: "generate"}}})
	lib.Register("parallel_analysis", planner.Template{Name: "parallel_analysis", Steps: []types.Step{{ID: "analyze_item_1"}}})
	p := planner.New(lib)

	wf, err := p.Plan(&types.Task{ID: "t1", Type: "research_and_analyze_report"})
	require.NoError(t, err)
	assert.Equal(t, "research_and_analyze", wf.Name)

	wf, err = p.Plan(&types.Task{ID: "t2", Type: "code_review"})
	require.NoError(t, err)
	assert.Equal(t, "code_generation", wf.Name)

	wf, err = p.Plan(&types.Task{ID: "t3", Type: "parallel_batch"})
	require.NoError(t, err)
	assert.Equal(t, "parallel_analysis", wf.Name)
}

func TestPlan_WorkflowNameOverridesTaskType(t *testing.T) {
	lib := planner.NewLibrary()
	lib.Register("report", planner.Template{Name: "default", Steps: []types.Step{{ID: "a"}}})
	lib.Register("", planner.Template{Name: "custom", Steps: []types.Step{{ID: "x"}}})
	p := planner.New(lib)

	wf, err := p.Plan(&types.Task{ID: "t1", Type: "report", WorkflowName: "custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom", wf.Name)
	assert.Equal(t, []string{"x"}, wf.Order)
}
