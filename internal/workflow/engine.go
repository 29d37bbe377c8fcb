package workflow

import (
	"github.com/metalagman/jeeves/internal/facts"
	"github.com/metalagman/jeeves/internal/guard"
)

// Engine evaluates transitions of one loaded workflow. It holds no mutable state.
type Engine struct {
	wf *Workflow
}

// NewEngine returns an engine for wf.
func NewEngine(wf *Workflow) *Engine {
	return &Engine{wf: wf}
}

// Workflow returns the underlying workflow.
func (e *Engine) Workflow() *Workflow {
	return e.wf
}

// EvaluateTransitions returns the phase that follows current for the given facts.
// It returns false for unknown and terminal phases, and when no edge fires yet.
func (e *Engine) EvaluateTransitions(current string, f facts.Facts) (string, bool) {
	phase, ok := e.wf.Phase(current)
	if !ok || phase.Type == PhaseTerminal {
		return "", false
	}
	for _, t := range phase.Transitions {
		if t.Auto {
			return t.To, true
		}
		if t.When != "" && guard.Evaluate(t.When, f) {
			return t.To, true
		}
	}
	return "", false
}

// Phase returns the named phase.
func (e *Engine) Phase(name string) (Phase, bool) {
	return e.wf.Phase(name)
}

// HasPhase reports whether the phase exists.
func (e *Engine) HasPhase(name string) bool {
	return e.wf.HasPhase(name)
}

// IsTerminal reports whether the phase exists and is terminal.
func (e *Engine) IsTerminal(name string) bool {
	p, ok := e.wf.Phase(name)
	return ok && p.Type == PhaseTerminal
}

// Prompt returns the prompt identifier of a phase.
func (e *Engine) Prompt(name string) (string, bool) {
	p, ok := e.wf.Phase(name)
	if !ok || p.Prompt == "" {
		return "", false
	}
	return p.Prompt, true
}

// PhaseType returns the type of a phase.
func (e *Engine) PhaseType(name string) (PhaseType, bool) {
	p, ok := e.wf.Phase(name)
	if !ok {
		return "", false
	}
	return p.Type, true
}

// StartPhase returns the entry phase name.
func (e *Engine) StartPhase() string {
	return e.wf.Start
}
