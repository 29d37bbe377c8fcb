package workflow

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a named workflow definition does not exist.
var ErrNotFound = errors.New("workflow not found")

// Validation rules, in the order they are checked.
const (
	RuleDocument         = "document"
	RulePhaseType        = "phase_type"
	RuleStartPhase       = "start_phase"
	RuleTransitionTarget = "transition_target"
	RulePrompt           = "prompt_required"
	RuleCommand          = "command_required"
	RuleModel            = "model"
)

// ValidationError describes a workflow that violates a structural rule.
type ValidationError struct {
	Workflow string
	Phase    string
	Rule     string
	Msg      string
}

func (e *ValidationError) Error() string {
	if e.Phase == "" {
		return fmt.Sprintf("workflow %q: %s: %s", e.Workflow, e.Rule, e.Msg)
	}
	return fmt.Sprintf("workflow %q: phase %q: %s: %s", e.Workflow, e.Phase, e.Rule, e.Msg)
}

func invalid(wf, phase, rule, format string, args ...any) *ValidationError {
	return &ValidationError{
		Workflow: wf,
		Phase:    phase,
		Rule:     rule,
		Msg:      fmt.Sprintf(format, args...),
	}
}
