// Package config provides configuration loading and management for jeeves.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultWorkflowsDir  = "workflows"
	DefaultWorkflow      = "default"
	DefaultStateDir      = ".jeeves"
	DefaultPromptsDir    = "prompts"
	DefaultMaxIterations = 10
	DefaultScriptTimeout = 900 * time.Second
)

// DefaultModels are the model names accepted in workflow documents.
var DefaultModels = []string{"sonnet", "opus", "haiku"}

// Config is the root configuration.
type Config struct {
	WorkflowsDir  string                 `json:"workflows_dir"  mapstructure:"workflows_dir"`
	Workflow      string                 `json:"workflow"       mapstructure:"workflow"`
	StateDir      string                 `json:"state_dir"      mapstructure:"state_dir"`
	PromptsDir    string                 `json:"prompts_dir"    mapstructure:"prompts_dir"`
	MaxIterations int                    `json:"max_iterations" mapstructure:"max_iterations"`
	Script        ScriptConfig           `json:"script"         mapstructure:"script"`
	Agents        map[string]AgentConfig `json:"agents"         mapstructure:"agents"`
	Models        []string               `json:"models"         mapstructure:"models"`
	Retention     RetentionPolicy        `json:"retention"      mapstructure:"retention"`
	MetricsFile   string                 `json:"metrics_file"   mapstructure:"metrics_file"`
}

// RetentionPolicy defines how many old runs to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// ScriptConfig configures script phases.
type ScriptConfig struct {
	Timeout time.Duration `json:"timeout"            mapstructure:"timeout"`
	EnvFile string        `json:"env_file,omitempty" mapstructure:"env_file"`
}

// AgentConfig describes how to run an agent.
type AgentConfig struct {
	Type   string   `json:"type"              mapstructure:"type"`
	Cmd    []string `json:"cmd,omitempty"     mapstructure:"cmd"`
	UseTTY *bool    `json:"use_tty,omitempty" mapstructure:"use_tty"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workflows_dir", DefaultWorkflowsDir)
	v.SetDefault("workflow", DefaultWorkflow)
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("prompts_dir", DefaultPromptsDir)
	v.SetDefault("max_iterations", DefaultMaxIterations)
	v.SetDefault("script.timeout", DefaultScriptTimeout.String())
	v.SetDefault("models", DefaultModels)
}

// Load reads the config file at path into v, validates it and decodes it.
// A missing file is not an error. Environment and flag overrides bound on v
// are applied on top of the file.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			file := viper.New()
			file.SetConfigFile(path)
			file.SetConfigType("json")
			if err := file.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
			if err := ValidateSettings(file.AllSettings()); err != nil {
				return Config{}, err
			}
			if err := v.MergeConfigMap(file.AllSettings()); err != nil {
				return Config{}, fmt.Errorf("merge config: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("stat config: %w", err)
		}
	}
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks semantic constraints the schema cannot express.
func (c Config) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be > 0")
	}
	if c.Script.Timeout <= 0 {
		return fmt.Errorf("script.timeout must be > 0")
	}
	for name, a := range c.Agents {
		if a.Type == "exec" && len(a.Cmd) == 0 {
			return fmt.Errorf("agents.%s: exec agent requires cmd", name)
		}
	}
	return nil
}

// ResolvedAgents returns the agent map with exec as the type of agents
// that only configure a command.
func (c Config) ResolvedAgents() map[string]AgentConfig {
	out := make(map[string]AgentConfig, len(c.Agents))
	for name, a := range c.Agents {
		if a.Type == "" && len(a.Cmd) > 0 {
			a.Type = "exec"
		}
		out[name] = a
	}
	return out
}
