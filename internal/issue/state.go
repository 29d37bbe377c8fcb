// Package issue persists the per-issue fact mapping (issue.json).
package issue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/metalagman/jeeves/internal/atomicfile"
	"github.com/metalagman/jeeves/internal/facts"
)

const (
	// FileName is the issue state file inside the state directory.
	FileName = "issue.json"
	// SchemaVersion is written to new issue files.
	SchemaVersion = 1
)

// Known top-level keys.
const (
	KeySchemaVersion = "schemaVersion"
	KeyRepo          = "repo"
	KeyIssue         = "issue"
	KeyBranch        = "branch"
	KeyPhase         = "phase"
	KeyWorkflow      = "workflow"
	KeyDesignDoc     = "designDocPath"
	KeyNotes         = "notes"
)

// Ref identifies the tracked GitHub issue.
type Ref struct {
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
	Repo   string `json:"repo,omitempty"`
}

// Params describe a new issue state.
type Params struct {
	Repo          string
	Issue         Ref
	Branch        string
	Workflow      string
	Phase         string
	DesignDocPath string
	Notes         string
}

// New builds the initial fact mapping for an issue.
func New(p Params) (facts.Facts, error) {
	if p.Repo == "" || !strings.Contains(p.Repo, "/") {
		return nil, fmt.Errorf("repo must be owner/name, got %q", p.Repo)
	}
	if p.Issue.Number <= 0 {
		return nil, fmt.Errorf("issue number must be positive")
	}
	ref := map[string]any{"number": p.Issue.Number, "repo": p.Repo}
	if p.Issue.Repo != "" {
		ref["repo"] = p.Issue.Repo
	}
	if p.Issue.Title != "" {
		ref["title"] = p.Issue.Title
	}
	if p.Issue.URL != "" {
		ref["url"] = p.Issue.URL
	}
	branch := p.Branch
	if branch == "" {
		branch = fmt.Sprintf("issue/%d", p.Issue.Number)
	}
	f := facts.Facts{
		KeySchemaVersion: SchemaVersion,
		KeyRepo:          p.Repo,
		KeyIssue:         ref,
		KeyBranch:        branch,
		KeyPhase:         p.Phase,
		KeyWorkflow:      p.Workflow,
		KeyNotes:         p.Notes,
		facts.StatusKey:  map[string]any{},
	}
	if p.DesignDocPath != "" {
		f[KeyDesignDoc] = p.DesignDocPath
	}
	return f, nil
}

// Load reads an issue file.
func Load(path string) (facts.Facts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read issue state: %w", err)
	}
	var f facts.Facts
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode issue state %s: %w", path, err)
	}
	if f == nil {
		return nil, fmt.Errorf("decode issue state %s: not an object", path)
	}
	return f, nil
}

// Save atomically replaces the issue file.
func Save(path string, f facts.Facts) error {
	if err := atomicfile.WriteJSON(path, f); err != nil {
		return fmt.Errorf("save issue state: %w", err)
	}
	return nil
}

// Phase returns the current phase name.
func Phase(f facts.Facts) string {
	s, _ := f[KeyPhase].(string)
	return s
}

// SetPhase records the current phase name.
func SetPhase(f facts.Facts, phase string) {
	f[KeyPhase] = phase
}

// Workflow returns the workflow name recorded for the issue.
func Workflow(f facts.Facts) string {
	s, _ := f[KeyWorkflow].(string)
	return s
}

// Label renders "owner/name#N" for logs.
func Label(f facts.Facts) string {
	repo, _ := f[KeyRepo].(string)
	return fmt.Sprintf("%s#%s", repo, facts.Stringify(f.Lookup(KeyIssue+".number")))
}
