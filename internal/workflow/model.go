// Package workflow defines the phase graph, its YAML loader and the transition engine.
package workflow

import (
	"fmt"
	"strings"
)

// PhaseType is the kind of work a phase performs.
type PhaseType string

const (
	// PhaseExecute runs an agent that may modify code.
	PhaseExecute PhaseType = "execute"
	// PhaseEvaluate runs an agent restricted to its allowed writes.
	PhaseEvaluate PhaseType = "evaluate"
	// PhaseScript runs a shell command without an agent.
	PhaseScript PhaseType = "script"
	// PhaseTerminal ends the workflow.
	PhaseTerminal PhaseType = "terminal"
)

// PhaseTypes lists the recognized phase types.
var PhaseTypes = []PhaseType{PhaseExecute, PhaseEvaluate, PhaseScript, PhaseTerminal}

// ParsePhaseType parses a phase type, case-insensitively. Empty means execute.
func ParsePhaseType(s string) (PhaseType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PhaseExecute, nil
	}
	for _, t := range PhaseTypes {
		if string(t) == s {
			return t, nil
		}
	}
	allowed := make([]string, 0, len(PhaseTypes))
	for _, t := range PhaseTypes {
		allowed = append(allowed, string(t))
	}
	return "", fmt.Errorf("invalid phase type %q, allowed: %s", s, strings.Join(allowed, ", "))
}

// RequiresPrompt reports whether phases of this type need a prompt.
func (t PhaseType) RequiresPrompt() bool {
	return t == PhaseExecute || t == PhaseEvaluate
}

// Transition is a directed edge between phases.
type Transition struct {
	To       string `json:"to"`
	When     string `json:"when,omitempty"`
	Auto     bool   `json:"auto,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// StatusRule maps an outcome key to fact updates.
type StatusRule struct {
	Key     string         `json:"key"`
	Updates map[string]any `json:"updates"`
}

// StatusMapping keeps the definition order of its rules.
type StatusMapping []StatusRule

// Get returns the updates for key, matched exactly.
func (m StatusMapping) Get(key string) (map[string]any, bool) {
	for _, rule := range m {
		if rule.Key == key {
			return rule.Updates, true
		}
	}
	return nil, false
}

// Phase is a node of the workflow graph.
type Phase struct {
	Name          string        `json:"name"`
	Type          PhaseType     `json:"type"`
	Description   string        `json:"description,omitempty"`
	Prompt        string        `json:"prompt,omitempty"`
	Command       string        `json:"command,omitempty"`
	Transitions   []Transition  `json:"transitions,omitempty"`
	AllowedWrites []string      `json:"allowed_writes,omitempty"`
	StatusMapping StatusMapping `json:"status_mapping,omitempty"`
	OutputFile    string        `json:"output_file,omitempty"`
	Model         string        `json:"model,omitempty"`
}

// Workflow is a loaded phase graph.
type Workflow struct {
	Name         string           `json:"name"`
	Version      int              `json:"version"`
	Description  string           `json:"description,omitempty"`
	Start        string           `json:"start"`
	DefaultModel string           `json:"default_model,omitempty"`
	Phases       map[string]Phase `json:"phases"`
	// Order holds phase names in definition order.
	Order []string `json:"-"`
}

// Phase returns the named phase.
func (w *Workflow) Phase(name string) (Phase, bool) {
	p, ok := w.Phases[name]
	return p, ok
}

// HasPhase reports whether the phase exists.
func (w *Workflow) HasPhase(name string) bool {
	_, ok := w.Phases[name]
	return ok
}

// StartPhase returns the entry phase.
func (w *Workflow) StartPhase() (Phase, bool) {
	return w.Phase(w.Start)
}

// PhaseNames returns phase names in definition order.
func (w *Workflow) PhaseNames() []string {
	return append([]string(nil), w.Order...)
}

// EffectiveModel returns the phase model, falling back to the workflow default.
func (w *Workflow) EffectiveModel(name string) string {
	if p, ok := w.Phases[name]; ok && p.Model != "" {
		return p.Model
	}
	return w.DefaultModel
}
