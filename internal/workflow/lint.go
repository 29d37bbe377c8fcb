package workflow

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Severity of a lint finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one lint result.
type Finding struct {
	Severity Severity
	Phase    string
	Rule     string
	Msg      string
}

func (f Finding) String() string {
	if f.Phase == "" {
		return fmt.Sprintf("%s: %s: %s", f.Severity, f.Rule, f.Msg)
	}
	return fmt.Sprintf("%s: phase %q: %s: %s", f.Severity, f.Phase, f.Rule, f.Msg)
}

// Lint rules that only produce warnings.
const (
	RuleNoTerminal  = "no_terminal"
	RuleUnreachable = "unreachable"
	RuleDeadEnd     = "dead_end"
)

// LintFile reports every problem in a workflow file instead of stopping at the first.
func (l *Loader) LintFile(path string) ([]Finding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	wf, err := decode(data, stem(path))
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return []Finding{{Severity: SeverityError, Phase: verr.Phase, Rule: verr.Rule, Msg: verr.Msg}}, nil
		}
		return nil, err
	}
	return Lint(wf, l.Models), nil
}

// Lint collects all rule violations and structural warnings for a decoded workflow.
func Lint(wf *Workflow, models []string) []Finding {
	var out []Finding
	add := func(sev Severity, phase, rule, format string, args ...any) {
		out = append(out, Finding{Severity: sev, Phase: phase, Rule: rule, Msg: fmt.Sprintf(format, args...)})
	}

	if !wf.HasPhase(wf.Start) {
		add(SeverityError, wf.Start, RuleStartPhase, "start phase %q is not defined", wf.Start)
	}
	for _, name := range wf.Order {
		for _, t := range wf.Phases[name].Transitions {
			if !wf.HasPhase(t.To) {
				add(SeverityError, name, RuleTransitionTarget, "transition to unknown phase %q", t.To)
			}
		}
	}
	for _, name := range wf.Order {
		p := wf.Phases[name]
		if p.Type.RequiresPrompt() && strings.TrimSpace(p.Prompt) == "" {
			add(SeverityError, name, RulePrompt, "%s phase requires a prompt", p.Type)
		}
		if p.Type == PhaseScript && strings.TrimSpace(p.Command) == "" {
			add(SeverityError, name, RuleCommand, "script phase requires a command")
		}
		if p.Model != "" && !knownModel(models, p.Model) {
			add(SeverityError, name, RuleModel, "model %q is not one of %s", p.Model, strings.Join(models, ", "))
		}
	}
	if wf.DefaultModel != "" && !knownModel(models, wf.DefaultModel) {
		add(SeverityError, "", RuleModel, "default_model %q is not one of %s", wf.DefaultModel, strings.Join(models, ", "))
	}

	hasTerminal := false
	for _, name := range wf.Order {
		p := wf.Phases[name]
		if p.Type == PhaseTerminal {
			hasTerminal = true
			if len(p.Transitions) > 0 {
				add(SeverityWarning, name, RuleDeadEnd, "terminal phase transitions are never evaluated")
			}
			continue
		}
		if len(p.Transitions) == 0 {
			add(SeverityWarning, name, RuleDeadEnd, "non-terminal phase has no transitions")
		}
	}
	if !hasTerminal {
		add(SeverityWarning, "", RuleNoTerminal, "workflow has no terminal phase")
	}

	if wf.HasPhase(wf.Start) {
		reached := reachable(wf)
		for _, name := range wf.Order {
			if !reached[name] {
				add(SeverityWarning, name, RuleUnreachable, "phase is not reachable from %q", wf.Start)
			}
		}
	}
	return out
}

// HasErrors reports whether any finding is an error.
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

func reachable(wf *Workflow) map[string]bool {
	seen := map[string]bool{wf.Start: true}
	queue := []string{wf.Start}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, t := range wf.Phases[name].Transitions {
			if wf.HasPhase(t.To) && !seen[t.To] {
				seen[t.To] = true
				queue = append(queue, t.To)
			}
		}
	}
	return seen
}
