package agent

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/metalagman/jeeves/internal/config"
	"github.com/metalagman/jeeves/internal/facts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAgent(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "my-agent.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func writePrompt(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("# Review\nCheck the design.\n"), 0o644))
}

func request(dir string) Request {
	return Request{
		RunID:     "run-1",
		Iteration: 1,
		Phase:     "design_review",
		PhaseType: "evaluate",
		Prompt:    "review.md",
		Model:     "opus",
		WorkDir:   dir,
		RunDir:    filepath.Join(dir, "run"),
		Facts:     facts.Facts{"phase": "design_review"},
	}
}

func TestNewExec(t *testing.T) {
	_, err := NewExec(config.AgentConfig{Type: "exec", Cmd: []string{"echo"}}, "", nil, nil)
	assert.NoError(t, err)

	_, err = NewExec(config.AgentConfig{Type: "exec"}, "", nil, nil)
	assert.Error(t, err)

	_, err = NewExec(config.AgentConfig{Type: "robot"}, "", nil, nil)
	assert.Error(t, err)
}

func TestCommand(t *testing.T) {
	claude, err := NewExec(config.AgentConfig{Type: "claude"}, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"claude", "--model", "opus", "--output-format", "text", "--print", "--dangerously-skip-permissions"},
		claude.Command("opus"))

	codex, err := NewExec(config.AgentConfig{Type: "codex"}, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"codex", "exec", "--full-auto", "--skip-git-repo-check"}, codex.Command(""))

	custom, err := NewExec(config.AgentConfig{Type: "exec", Cmd: []string{"my-agent", "-v"}}, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"my-agent", "-v"}, custom.Command("opus"))
}

func TestExecInvoke(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "review.md")
	script := writeAgent(t, dir, `cat > /dev/null
RESP='{"status":"ok","summary":"looks good","status_updates":{"designApproved":true}}'
echo "$RESP" > output.json
echo "$RESP"
`)

	inv, err := NewExec(config.AgentConfig{Type: "exec", Cmd: []string{script}}, dir, nil, nil)
	require.NoError(t, err)

	req := request(dir)
	resp, err := inv.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, "looks good", resp.Summary)
	assert.Equal(t, map[string]any{"designApproved": true}, resp.StatusUpdates)

	_, err = os.Stat(filepath.Join(req.RunDir, "input.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(req.RunDir, OutputFile))
	assert.NoError(t, err)
}

func TestExecInvokeFailureWritesStderr(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "review.md")
	script := writeAgent(t, dir, `echo "boom" 1>&2
exit 1
`)

	var stderr bytes.Buffer
	inv, err := NewExec(config.AgentConfig{Type: "exec", Cmd: []string{script}}, dir, nil, &stderr)
	require.NoError(t, err)

	_, err = inv.Invoke(context.Background(), request(dir))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 1")
	assert.Contains(t, stderr.String(), "boom")
}

func TestExecInvokeMissingPrompt(t *testing.T) {
	dir := t.TempDir()
	inv, err := NewExec(config.AgentConfig{Type: "exec", Cmd: []string{"true"}}, dir, nil, nil)
	require.NoError(t, err)

	_, err = inv.Invoke(context.Background(), request(dir))
	assert.ErrorContains(t, err, `prompt "review.md" not found`)
}

func TestReadResponseDefaultsStatus(t *testing.T) {
	resp, err := readResponse(filepath.Join(t.TempDir(), OutputFile), []byte(`{"summary":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)

	_, err = readResponse(filepath.Join(t.TempDir(), OutputFile), []byte(`not json`))
	assert.Error(t, err)
}

func TestExecFactory(t *testing.T) {
	f := NewExecFactory(map[string]config.AgentConfig{
		"execute": {Type: "codex"},
	}, "prompts", nil, nil)

	inv, err := f.For("execute")
	require.NoError(t, err)
	assert.NotNil(t, inv)

	_, err = f.For("evaluate")
	assert.ErrorContains(t, err, "missing agent config")
}
