// Package task tracks the implementation tasks a design document is decomposed into.
package task

import (
	"errors"
	"fmt"
	"strings"

	"github.com/metalagman/jeeves/internal/sandbox"
)

// SchemaVersion is the only supported task file version.
const SchemaVersion = 1

// Status is a task state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPassed     Status = "passed"
	StatusFailed     Status = "failed"
)

// Open reports whether the task still needs work.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusInProgress
}

// Task is one unit of implementation work.
type Task struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Summary            string   `json:"summary"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	FilesAllowed       []string `json:"filesAllowed"`
	// DependsOn is informational; scheduling follows list order.
	DependsOn []string `json:"dependsOn"`
	Status    Status   `json:"status"`
}

// TaskList is the decomposed task file.
type TaskList struct {
	SchemaVersion  int    `json:"schemaVersion"`
	DecomposedFrom string `json:"decomposedFrom"`
	Tasks          []Task `json:"tasks"`
}

// ErrSchemaVersion marks a task file with an unsupported schema version.
var ErrSchemaVersion = errors.New("unsupported task schema version")

// Decompose builds a fresh task list from source. All tasks start pending.
func Decompose(source string, tasks []Task) (TaskList, error) {
	seen := make(map[string]bool, len(tasks))
	out := make([]Task, 0, len(tasks))
	for i, t := range tasks {
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			return TaskList{}, fmt.Errorf("task %d: id is required", i+1)
		}
		if seen[t.ID] {
			return TaskList{}, fmt.Errorf("task %q: duplicate id", t.ID)
		}
		seen[t.ID] = true
		t.Status = StatusPending
		out = append(out, t)
	}
	list := TaskList{SchemaVersion: SchemaVersion, DecomposedFrom: source, Tasks: out}
	list.normalize()
	return list, nil
}

// Current returns the first task that is pending or in progress.
func (l *TaskList) Current() (Task, bool) {
	for _, t := range l.Tasks {
		if t.Status.Open() {
			return t, true
		}
	}
	return Task{}, false
}

// Find returns the task with the given id.
func (l *TaskList) Find(id string) (Task, bool) {
	if i := l.index(id); i >= 0 {
		return l.Tasks[i], true
	}
	return Task{}, false
}

// Start moves a pending task to in_progress. It reports whether the task changed.
func (l *TaskList) Start(id string) bool {
	i := l.index(id)
	if i < 0 || l.Tasks[i].Status != StatusPending {
		return false
	}
	l.Tasks[i].Status = StatusInProgress
	return true
}

// Advance marks a task passed or failed and reports whether open tasks remain.
// An unknown id changes nothing and returns false.
func (l *TaskList) Advance(id string, passed bool) bool {
	i := l.index(id)
	if i < 0 {
		return false
	}
	if passed {
		l.Tasks[i].Status = StatusPassed
	} else {
		l.Tasks[i].Status = StatusFailed
	}
	_, more := l.Current()
	return more
}

// AllComplete reports whether every task passed.
func (l *TaskList) AllComplete() bool {
	for _, t := range l.Tasks {
		if t.Status != StatusPassed {
			return false
		}
	}
	return true
}

// PendingCount counts tasks that have not passed.
func (l *TaskList) PendingCount() int {
	n := 0
	for _, t := range l.Tasks {
		if t.Status != StatusPassed {
			n++
		}
	}
	return n
}

// Summary exposes list progress as facts for guards and scripts.
func (l *TaskList) Summary() map[string]any {
	out := map[string]any{
		"total":       len(l.Tasks),
		"pending":     l.PendingCount(),
		"allComplete": l.AllComplete(),
		"current":     nil,
	}
	if t, ok := l.Current(); ok {
		out["current"] = map[string]any{
			"id":     t.ID,
			"title":  t.Title,
			"status": string(t.Status),
		}
	}
	return out
}

// CheckFiles returns changed paths outside the task's filesAllowed patterns.
func CheckFiles(t Task, changed []string, reserved string) []string {
	return sandbox.NewChecker(reserved).Violations(changed, t.FilesAllowed)
}

func (l *TaskList) index(id string) int {
	for i := range l.Tasks {
		if l.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *TaskList) normalize() {
	if l.SchemaVersion == 0 {
		l.SchemaVersion = SchemaVersion
	}
	if l.Tasks == nil {
		l.Tasks = []Task{}
	}
	for i := range l.Tasks {
		t := &l.Tasks[i]
		if t.Status == "" {
			t.Status = StatusPending
		}
		if t.AcceptanceCriteria == nil {
			t.AcceptanceCriteria = []string{}
		}
		if t.FilesAllowed == nil {
			t.FilesAllowed = []string{}
		}
		if t.DependsOn == nil {
			t.DependsOn = []string{}
		}
	}
}
