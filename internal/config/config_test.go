package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkflowsDir, cfg.WorkflowsDir)
	assert.Equal(t, DefaultWorkflow, cfg.Workflow)
	assert.Equal(t, DefaultStateDir, cfg.StateDir)
	assert.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, DefaultScriptTimeout, cfg.Script.Timeout)
	assert.Equal(t, DefaultModels, cfg.Models)
	assert.Empty(t, cfg.Agents)
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
  "workflow": "fast",
  "max_iterations": 3,
  "script": {"timeout": "30s", "env_file": ".env"},
  "agents": {
    "execute": {"cmd": ["my-agent", "--yes"]},
    "evaluate": {"type": "claude", "use_tty": true}
  },
  "models": ["sonnet"]
}`)
	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "fast", cfg.Workflow)
	assert.Equal(t, DefaultWorkflowsDir, cfg.WorkflowsDir)
	assert.Equal(t, 3, cfg.MaxIterations)
	assert.Equal(t, 30*time.Second, cfg.Script.Timeout)
	assert.Equal(t, ".env", cfg.Script.EnvFile)
	assert.Equal(t, []string{"sonnet"}, cfg.Models)

	agents := cfg.ResolvedAgents()
	assert.Equal(t, "exec", agents["execute"].Type)
	assert.Equal(t, []string{"my-agent", "--yes"}, agents["execute"].Cmd)
	assert.Equal(t, "claude", agents["evaluate"].Type)
	require.NotNil(t, agents["evaluate"].UseTTY)
	assert.True(t, *agents["evaluate"].UseTTY)
}

func TestLoad_OverridesWinOverFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"state_dir": "from-file"}`)
	v := viper.New()
	v.Set("state_dir", "from-flag")
	cfg, err := Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.StateDir)
}

func TestLoad_SchemaErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "zero iterations", body: `{"max_iterations": 0}`},
		{name: "bad timeout", body: `{"script": {"timeout": "soon"}}`},
		{name: "unknown agent slot", body: `{"agents": {"plan": {"type": "codex"}}}`},
		{name: "unknown agent type", body: `{"agents": {"execute": {"type": "robot"}}}`},
		{name: "agent without type or cmd", body: `{"agents": {"execute": {"use_tty": true}}}`},
		{name: "empty models", body: `{"models": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(viper.New(), writeConfig(t, tt.body))
			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.NotEmpty(t, schemaErr.Problems)
		})
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	t.Parallel()

	_, err := Load(viper.New(), writeConfig(t, `{`))
	assert.ErrorContains(t, err, "read config")
}

func TestValidateSettings_SortsErrors(t *testing.T) {
	t.Parallel()

	err := ValidateSettings(map[string]any{"workflow": "", "max_iterations": -1})
	require.Error(t, err)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Len(t, schemaErr.Problems, 2)
	assert.True(t, strings.HasPrefix(schemaErr.Problems[0], "max_iterations: "))
	assert.True(t, strings.HasPrefix(schemaErr.Problems[1], "workflow: "))
	assert.Contains(t, err.Error(), "invalid config")
}
