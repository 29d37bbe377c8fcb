package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultDir is where workflow definitions live relative to the repository root.
	DefaultDir = "workflows"
	// DefaultName is the workflow used when none is configured.
	DefaultName = "default"
	// DefaultStart is the entry phase when the document omits one.
	DefaultStart = "design"
)

// DefaultModels are the model names accepted in default_model and phase model.
var DefaultModels = []string{"sonnet", "opus", "haiku"}

// DefaultAllowedWrites applies to phases that do not declare allowed_writes.
var DefaultAllowedWrites = []string{".jeeves/*"}

var extensions = []string{".yaml", ".yml"}

type document struct {
	Workflow header    `yaml:"workflow"`
	Phases   yaml.Node `yaml:"phases"`
}

type header struct {
	Name         string `yaml:"name"`
	Version      int    `yaml:"version"`
	Description  string `yaml:"description"`
	Start        string `yaml:"start"`
	DefaultModel string `yaml:"default_model"`
}

type phaseDoc struct {
	Type          string          `yaml:"type"`
	Description   string          `yaml:"description"`
	Prompt        string          `yaml:"prompt"`
	Command       string          `yaml:"command"`
	Transitions   []transitionDoc `yaml:"transitions"`
	AllowedWrites *[]string       `yaml:"allowed_writes"`
	StatusMapping yaml.Node       `yaml:"status_mapping"`
	OutputFile    string          `yaml:"output_file"`
	Model         string          `yaml:"model"`
}

type transitionDoc struct {
	To       string `yaml:"to"`
	When     string `yaml:"when"`
	Auto     bool   `yaml:"auto"`
	Priority int    `yaml:"priority"`
}

// Loader resolves workflow definitions from a directory.
type Loader struct {
	Dir    string
	Models []string
}

// NewLoader returns a loader for dir. Empty values select the defaults.
func NewLoader(dir string, models []string) *Loader {
	if dir == "" {
		dir = DefaultDir
	}
	if len(models) == 0 {
		models = DefaultModels
	}
	return &Loader{Dir: dir, Models: models}
}

// Load loads and validates the named workflow.
func (l *Loader) Load(name string) (*Workflow, error) {
	path, err := l.Path(name)
	if err != nil {
		return nil, err
	}
	return l.LoadFile(path)
}

// Path resolves the definition file for a workflow name.
func (l *Loader) Path(name string) (string, error) {
	if name == "" {
		name = DefaultName
	}
	for _, ext := range extensions {
		path := filepath.Join(l.Dir, name+ext)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("workflow: stat %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("%w: %q in %s", ErrNotFound, name, l.Dir)
}

// LoadFile loads and validates a workflow definition file.
func (l *Loader) LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	return l.Parse(data, stem(path))
}

// Parse decodes and validates a workflow document. fallbackName is used when
// the document has no name.
func (l *Loader) Parse(data []byte, fallbackName string) (*Workflow, error) {
	wf, err := decode(data, fallbackName)
	if err != nil {
		return nil, err
	}
	if err := validate(wf, l.Models); err != nil {
		return nil, err
	}
	return wf, nil
}

// List returns the workflow names available in the loader directory.
func (l *Loader) List() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("workflow: list %s: %w", l.Dir, err)
	}
	seen := make(map[string]bool)
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ext)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadFile loads a workflow file with the default model set.
func LoadFile(path string) (*Workflow, error) {
	return NewLoader("", nil).LoadFile(path)
}

// LoadByName loads a named workflow from dir, or DefaultDir when dir is empty.
func LoadByName(dir, name string) (*Workflow, error) {
	return NewLoader(dir, nil).Load(name)
}

// Parse decodes and validates a workflow document with the default model set.
func Parse(data []byte, fallbackName string) (*Workflow, error) {
	return NewLoader("", nil).Parse(data, fallbackName)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func decode(data []byte, fallbackName string) (*Workflow, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, invalid(fallbackName, "", RuleDocument, "parse yaml: %v", err)
	}

	wf := &Workflow{
		Name:         doc.Workflow.Name,
		Version:      doc.Workflow.Version,
		Description:  doc.Workflow.Description,
		Start:        doc.Workflow.Start,
		DefaultModel: doc.Workflow.DefaultModel,
		Phases:       make(map[string]Phase),
	}
	if wf.Name == "" {
		wf.Name = fallbackName
	}
	if wf.Version == 0 {
		wf.Version = 1
	}
	if wf.Start == "" {
		wf.Start = DefaultStart
	}

	switch doc.Phases.Kind {
	case 0:
		return wf, nil
	case yaml.MappingNode:
	case yaml.ScalarNode:
		if doc.Phases.Tag == "!!null" {
			return wf, nil
		}
		return nil, invalid(wf.Name, "", RuleDocument, "phases must be a mapping")
	default:
		return nil, invalid(wf.Name, "", RuleDocument, "phases must be a mapping")
	}

	for i := 0; i+1 < len(doc.Phases.Content); i += 2 {
		name := doc.Phases.Content[i].Value
		if _, dup := wf.Phases[name]; dup {
			return nil, invalid(wf.Name, name, RuleDocument, "phase %q defined more than once (line %d)", name, doc.Phases.Content[i].Line)
		}
		phase, err := decodePhase(wf.Name, name, doc.Phases.Content[i+1])
		if err != nil {
			return nil, err
		}
		wf.Phases[name] = phase
		wf.Order = append(wf.Order, name)
	}
	return wf, nil
}

func decodePhase(wfName, name string, node *yaml.Node) (Phase, error) {
	var pd phaseDoc
	if err := node.Decode(&pd); err != nil {
		return Phase{}, invalid(wfName, name, RuleDocument, "decode phase: %v", err)
	}

	typ, err := ParsePhaseType(pd.Type)
	if err != nil {
		return Phase{}, invalid(wfName, name, RulePhaseType, "%v", err)
	}

	transitions := make([]Transition, 0, len(pd.Transitions))
	for _, td := range pd.Transitions {
		transitions = append(transitions, Transition{
			To:       td.To,
			When:     td.When,
			Auto:     td.Auto,
			Priority: td.Priority,
		})
	}
	sort.SliceStable(transitions, func(i, j int) bool {
		return transitions[i].Priority < transitions[j].Priority
	})

	allowed := append([]string(nil), DefaultAllowedWrites...)
	if pd.AllowedWrites != nil {
		allowed = *pd.AllowedWrites
	}

	mapping, err := decodeStatusMapping(&pd.StatusMapping)
	if err != nil {
		return Phase{}, invalid(wfName, name, RuleDocument, "decode status_mapping: %v", err)
	}

	return Phase{
		Name:          name,
		Type:          typ,
		Description:   pd.Description,
		Prompt:        pd.Prompt,
		Command:       pd.Command,
		Transitions:   transitions,
		AllowedWrites: allowed,
		StatusMapping: mapping,
		OutputFile:    pd.OutputFile,
		Model:         pd.Model,
	}, nil
}

func decodeStatusMapping(node *yaml.Node) (StatusMapping, error) {
	if node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.Tag == "!!null") {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping")
	}
	mapping := make(StatusMapping, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var updates map[string]any
		if err := node.Content[i+1].Decode(&updates); err != nil {
			return nil, fmt.Errorf("key %q: %w", node.Content[i].Value, err)
		}
		mapping = append(mapping, StatusRule{Key: node.Content[i].Value, Updates: updates})
	}
	return mapping, nil
}

// validate checks the graph rules in a fixed order and stops at the first violation.
func validate(wf *Workflow, models []string) error {
	if !wf.HasPhase(wf.Start) {
		return invalid(wf.Name, wf.Start, RuleStartPhase, "start phase %q is not defined", wf.Start)
	}
	for _, name := range wf.Order {
		for _, t := range wf.Phases[name].Transitions {
			if !wf.HasPhase(t.To) {
				return invalid(wf.Name, name, RuleTransitionTarget, "transition to unknown phase %q", t.To)
			}
		}
	}
	for _, name := range wf.Order {
		p := wf.Phases[name]
		if p.Type.RequiresPrompt() && strings.TrimSpace(p.Prompt) == "" {
			return invalid(wf.Name, name, RulePrompt, "%s phase requires a prompt", p.Type)
		}
	}
	for _, name := range wf.Order {
		p := wf.Phases[name]
		if p.Type == PhaseScript && strings.TrimSpace(p.Command) == "" {
			return invalid(wf.Name, name, RuleCommand, "script phase requires a command")
		}
	}
	if wf.DefaultModel != "" && !knownModel(models, wf.DefaultModel) {
		return invalid(wf.Name, "", RuleModel, "default_model %q is not one of %s", wf.DefaultModel, strings.Join(models, ", "))
	}
	for _, name := range wf.Order {
		p := wf.Phases[name]
		if p.Model != "" && !knownModel(models, p.Model) {
			return invalid(wf.Name, name, RuleModel, "model %q is not one of %s", p.Model, strings.Join(models, ", "))
		}
	}
	return nil
}

func knownModel(models []string, model string) bool {
	if len(models) == 0 {
		return true
	}
	for _, m := range models {
		if strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}
