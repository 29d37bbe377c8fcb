package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReservedDirAlwaysAllowed(t *testing.T) {
	changed := []string{".jeeves/issue.json", ".jeeves/runs/1/out.log", "./.jeeves/tasks.json"}

	assert.Empty(t, CheckWrites(changed, nil))
}

func TestReservedPrefixIsADirectory(t *testing.T) {
	assert.Equal(t, []string{".jeevesx/file"}, CheckWrites([]string{".jeevesx/file"}, nil))
}

func TestForbiddenWrite(t *testing.T) {
	violations := CheckWrites([]string{"src/main.go", ".jeeves/notes.md"}, []string{".jeeves/*"})

	assert.Equal(t, []string{"src/main.go"}, violations)
}

func TestMultiplePatterns(t *testing.T) {
	allowed := []string{"docs/*.md", "internal/**/*_test.go", "file?.txt", "cfg/[ab].yaml"}
	changed := []string{
		"docs/design.md",
		"docs/nested/design.md",
		"internal/run/run_test.go",
		"internal/run/run.go",
		"file1.txt",
		"cfg/a.yaml",
		"cfg/c.yaml",
	}

	assert.Equal(t, []string{"docs/nested/design.md", "internal/run/run.go", "cfg/c.yaml"}, CheckWrites(changed, allowed))
}

func TestDoubleStarCrossesDirectories(t *testing.T) {
	changed := []string{"docs/a.md", "docs/adr/1.md", "docs/adr/old/2.md"}

	assert.Empty(t, CheckWrites(changed, []string{"docs/**/*.md"}))
	assert.Equal(t, []string{"docs/adr/1.md", "docs/adr/old/2.md"}, CheckWrites(changed, []string{"docs/*.md"}))
}

func TestEmptyChangedFiles(t *testing.T) {
	assert.Empty(t, CheckWrites(nil, []string{"*"}))
}

func TestBadPatternNeverMatches(t *testing.T) {
	assert.Equal(t, []string{"a.go"}, CheckWrites([]string{"a.go"}, []string{"[a"}))
}

func TestCustomReservedDir(t *testing.T) {
	c := NewChecker("state/")

	assert.True(t, c.Allowed("state/x.json", nil))
	assert.False(t, c.Allowed(".jeeves/x.json", nil))
}
