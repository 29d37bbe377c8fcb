package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metalagman/jeeves/internal/facts"
	"github.com/metalagman/jeeves/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	r, err := NewRunner(opts...)
	require.NoError(t, err)
	return r
}

func TestRunNoCommand(t *testing.T) {
	res := newRunner(t).Run(context.Background(), workflow.Phase{Name: "ci", Type: workflow.PhaseScript}, t.TempDir(), nil)

	assert.Equal(t, ExitFailure, res.ExitCode)
	assert.Equal(t, "No command specified for script phase", res.Output)
	assert.Empty(t, res.StatusUpdates)
}

func TestRunSubstitutesFacts(t *testing.T) {
	f := facts.Facts{"status": map[string]any{"code": float64(7)}, "branch": "issue/1"}
	phase := workflow.Phase{Name: "echo", Command: "echo code=${status.code} branch=${branch} missing=${nope.x}"}

	res := newRunner(t).Run(context.Background(), phase, t.TempDir(), f)

	require.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "code=7 branch=issue/1 missing=\n", res.Output)
	assert.True(t, res.Success())
}

func TestSubstituteIsSinglePass(t *testing.T) {
	f := facts.Facts{"a": "${b}", "b": "bad"}

	assert.Equal(t, "x ${b} y", Substitute("x ${a} y", f))
	assert.Equal(t, "no placeholders", Substitute("no placeholders", f))
}

func TestRunExportsFlattenedFacts(t *testing.T) {
	f := facts.Facts{"issue": map[string]any{"number": float64(42)}, "notes": nil}
	phase := workflow.Phase{Name: "env", Command: `printf '%s|%s' "$ISSUE_NUMBER" "$NOTES"`}

	res := newRunner(t).Run(context.Background(), phase, t.TempDir(), f)

	require.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "42|", res.Output)
}

func TestRunEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("JEEVES_TOKEN=secret\n"), 0o600))

	r := newRunner(t, WithEnvFile(envFile))
	res := r.Run(context.Background(), workflow.Phase{Name: "env", Command: `printf "$JEEVES_TOKEN"`}, dir, nil)

	assert.Equal(t, "secret", res.Output)

	_, err := NewRunner(WithEnvFile(filepath.Join(dir, "absent.env")))
	assert.Error(t, err)
}

func TestRunCombinesStdoutThenStderr(t *testing.T) {
	phase := workflow.Phase{Name: "both", Command: "echo err >&2; echo out; exit 3"}

	res := newRunner(t).Run(context.Background(), phase, t.TempDir(), nil)

	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\nerr\n", res.Output)
}

func TestRunRunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("here"), 0o644))

	res := newRunner(t).Run(context.Background(), workflow.Phase{Name: "cat", Command: "cat marker"}, dir, nil)

	assert.Equal(t, "here", res.Output)
}

func TestRunTimeout(t *testing.T) {
	r := newRunner(t, WithTimeout(200*time.Millisecond))
	phase := workflow.Phase{Name: "slow", Command: "echo started; sleep 5; echo never"}

	startedAt := time.Now()
	res := r.Run(context.Background(), phase, t.TempDir(), nil)

	assert.Equal(t, ExitTimeout, res.ExitCode)
	assert.Equal(t, "Command timed out after 0.2s\nstarted\n", res.Output)
	assert.Less(t, time.Since(startedAt), 4*time.Second)
}

func TestRunCancelledSkipsStatusMapping(t *testing.T) {
	dir := t.TempDir()
	phase := workflow.Phase{
		Name:       "ci",
		Command:    "sleep 5",
		OutputFile: "ci.log",
		StatusMapping: workflow.StatusMapping{
			{Key: "failure", Updates: map[string]any{"ciPassed": false}},
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	startedAt := time.Now()
	res := newRunner(t).Run(ctx, phase, dir, nil)

	assert.True(t, res.Interrupted)
	assert.Nil(t, res.StatusUpdates)
	assert.NotEqual(t, ExitTimeout, res.ExitCode)
	assert.Less(t, time.Since(startedAt), 4*time.Second)
	assert.NoFileExists(t, filepath.Join(dir, "ci.log"))
}

func TestRunLaunchFailure(t *testing.T) {
	phase := workflow.Phase{Name: "bad", Command: "true"}

	res := newRunner(t).Run(context.Background(), phase, filepath.Join(t.TempDir(), "missing"), nil)

	assert.Equal(t, ExitFailure, res.ExitCode)
	assert.Contains(t, res.Output, "Error running command:")
}

func TestRunWritesOutputFile(t *testing.T) {
	dir := t.TempDir()
	phase := workflow.Phase{Name: "log", Command: "echo hi; exit 2", OutputFile: ".jeeves/logs/ci.log"}

	res := newRunner(t).Run(context.Background(), phase, dir, nil)
	require.Equal(t, 2, res.ExitCode)

	data, err := os.ReadFile(filepath.Join(dir, ".jeeves", "logs", "ci.log"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))
}

func TestRunStatusMapping(t *testing.T) {
	mapping := workflow.StatusMapping{
		{Key: "success", Updates: map[string]any{"ciPassed": true}},
		{Key: "failure", Updates: map[string]any{"ciPassed": false}},
		{Key: "FLAKY", Updates: map[string]any{"flaky": true}},
	}
	r := newRunner(t)

	res := r.Run(context.Background(), workflow.Phase{Name: "ok", Command: "echo all good", StatusMapping: mapping}, t.TempDir(), nil)
	assert.Equal(t, map[string]any{"ciPassed": true}, res.StatusUpdates)

	res = r.Run(context.Background(), workflow.Phase{Name: "bad", Command: "exit 1", StatusMapping: mapping}, t.TempDir(), nil)
	assert.Equal(t, map[string]any{"ciPassed": false}, res.StatusUpdates)

	res = r.Run(context.Background(), workflow.Phase{Name: "kw", Command: "echo test was flaky", StatusMapping: mapping}, t.TempDir(), nil)
	assert.Equal(t, map[string]any{"flaky": true}, res.StatusUpdates)
}

func TestMapStatusOutputBeatsExitCode(t *testing.T) {
	mapping := workflow.StatusMapping{
		{Key: "success", Updates: map[string]any{"ok": true}},
		{Key: "FAILED", Updates: map[string]any{"ok": false}},
	}

	assert.Equal(t, map[string]any{"ok": false}, MapStatus(mapping, 0, "3 tests Failed"))
	assert.Equal(t, map[string]any{"ok": true}, MapStatus(mapping, 0, "done"))
	assert.Nil(t, MapStatus(mapping, 1, "done"))
	assert.Nil(t, MapStatus(nil, 0, "success"))
}

func TestMapStatusFirstMatchWins(t *testing.T) {
	mapping := workflow.StatusMapping{
		{Key: "error", Updates: map[string]any{"kind": "error"}},
		{Key: "warning", Updates: map[string]any{"kind": "warning"}},
	}

	assert.Equal(t, map[string]any{"kind": "error"}, MapStatus(mapping, 0, "warning then error"))
}
