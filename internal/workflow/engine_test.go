package workflow

import (
	"path/filepath"
	"testing"

	"github.com/metalagman/jeeves/internal/facts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simpleWorkflow = `
workflow:
  name: simple
  start: design
phases:
  design:
    prompt: design.md
    transitions:
      - to: review
        auto: true
  review:
    type: evaluate
    prompt: review.md
    transitions:
      - to: implement
        when: status.approved == true
      - to: design
        when: status.needsChanges == true
      - to: design
  implement:
    prompt: implement.md
    transitions:
      - to: done
        when: status.approved == true
        priority: 1
      - to: review
        auto: true
        priority: 0
  done:
    type: terminal
    transitions:
      - to: design
        auto: true
`

func simpleEngine(t *testing.T) *Engine {
	t.Helper()
	wf, err := Parse([]byte(simpleWorkflow), "simple")
	require.NoError(t, err)
	return NewEngine(wf)
}

func TestEngineAutoTransition(t *testing.T) {
	e := simpleEngine(t)

	next, ok := e.EvaluateTransitions("design", nil)
	require.True(t, ok)
	assert.Equal(t, "review", next)
}

func TestEngineGuardedTransitions(t *testing.T) {
	e := simpleEngine(t)

	next, ok := e.EvaluateTransitions("review", facts.Facts{"status": map[string]any{"approved": true}})
	require.True(t, ok)
	assert.Equal(t, "implement", next)

	next, ok = e.EvaluateTransitions("review", facts.Facts{"status": map[string]any{"needsChanges": true}})
	require.True(t, ok)
	assert.Equal(t, "design", next)
}

func TestEngineNoMatchStalls(t *testing.T) {
	e := simpleEngine(t)

	// The unguarded, non-auto edge to design never fires.
	next, ok := e.EvaluateTransitions("review", facts.Facts{"status": map[string]any{}})
	assert.False(t, ok)
	assert.Empty(t, next)
}

func TestEngineAutoWinsByPriority(t *testing.T) {
	e := simpleEngine(t)

	next, ok := e.EvaluateTransitions("implement", facts.Facts{"status": map[string]any{"approved": true}})
	require.True(t, ok)
	assert.Equal(t, "review", next)
}

func TestEngineTerminalNeverTransitions(t *testing.T) {
	e := simpleEngine(t)

	for _, f := range []facts.Facts{nil, {"status": map[string]any{"approved": true}}} {
		next, ok := e.EvaluateTransitions("done", f)
		assert.False(t, ok)
		assert.Empty(t, next)
	}
	assert.True(t, e.IsTerminal("done"))
	assert.False(t, e.IsTerminal("design"))
	assert.False(t, e.IsTerminal("ghost"))
}

func TestEngineUnknownPhase(t *testing.T) {
	e := simpleEngine(t)

	_, ok := e.EvaluateTransitions("ghost", nil)
	assert.False(t, ok)
	assert.False(t, e.HasPhase("ghost"))

	_, ok = e.Prompt("ghost")
	assert.False(t, ok)
	_, ok = e.PhaseType("ghost")
	assert.False(t, ok)
	_, ok = e.Phase("ghost")
	assert.False(t, ok)
}

func TestEngineLookups(t *testing.T) {
	e := simpleEngine(t)

	assert.Equal(t, "design", e.StartPhase())
	assert.True(t, e.HasPhase("review"))

	prompt, ok := e.Prompt("review")
	require.True(t, ok)
	assert.Equal(t, "review.md", prompt)

	typ, ok := e.PhaseType("review")
	require.True(t, ok)
	assert.Equal(t, PhaseEvaluate, typ)

	_, ok = e.Prompt("done")
	assert.False(t, ok)
}

func TestDefaultWorkflowTaskLoop(t *testing.T) {
	wf, err := LoadFile(filepath.Join("..", "..", "workflows", "default.yaml"))
	require.NoError(t, err)
	e := NewEngine(wf)

	steps := []struct {
		from   string
		status map[string]any
		want   string
	}{
		{"design_review", map[string]any{"designApproved": true}, "task_decomposition"},
		{"task_decomposition", map[string]any{"taskDecompositionComplete": true}, "implement_task"},
		{"implement_task", map[string]any{}, "task_spec_check"},
		{"task_spec_check", map[string]any{"taskPassed": true, "hasMoreTasks": true}, "implement_task"},
		{"task_spec_check", map[string]any{"allTasksComplete": true, "taskPassed": true}, "completeness_verification"},
		{"completeness_verification", map[string]any{"missingWork": true}, "implement_task"},
		{"completeness_verification", map[string]any{"implementationComplete": true}, "prepare_pr"},
		{"prepare_pr", map[string]any{"prCreated": true}, "ci_check"},
		{"ci_check", map[string]any{"ciPassed": false}, "fix_ci"},
		{"ci_check", map[string]any{"ciPassed": true}, "code_review"},
		{"code_review", map[string]any{"reviewClean": true}, "complete"},
	}
	for _, step := range steps {
		next, ok := e.EvaluateTransitions(step.from, facts.Facts{"status": step.status})
		require.True(t, ok, "from %s", step.from)
		assert.Equal(t, step.want, next, "from %s", step.from)
	}
	assert.True(t, e.IsTerminal("complete"))
}
