// Package agent invokes external agent CLIs for execute and evaluate phases.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/metalagman/ainvoke"
	"github.com/metalagman/jeeves/internal/config"
	"github.com/metalagman/jeeves/internal/facts"
	"github.com/rs/zerolog/log"
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// OutputFile is the file an agent writes its response to inside the run dir.
const OutputFile = "output.json"

// Request is what the orchestrator hands to an agent for one phase.
type Request struct {
	RunID         string      `json:"run_id"`
	Iteration     int         `json:"iteration"`
	Phase         string      `json:"phase"`
	PhaseType     string      `json:"phase_type"`
	Prompt        string      `json:"prompt"`
	Model         string      `json:"model,omitempty"`
	AllowedWrites []string    `json:"allowed_writes,omitempty"`
	WorkDir       string      `json:"work_dir"`
	RunDir        string      `json:"run_dir"`
	Facts         facts.Facts `json:"facts"`
}

// Response is the structured agent output.
type Response struct {
	Status        string         `json:"status"`
	Summary       string         `json:"summary,omitempty"`
	StatusUpdates map[string]any `json:"status_updates,omitempty"`
}

// Invoker performs the work of an agent phase.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Factory selects an invoker per phase type.
type Factory interface {
	For(phaseType string) (Invoker, error)
}

type agentSpec struct {
	defaultSubcommand string
	extraFlags        []string
}

var agentSpecs = map[string]agentSpec{
	"codex": {
		defaultSubcommand: "exec",
		extraFlags:        []string{"--full-auto", "--skip-git-repo-check"},
	},
	"opencode": {
		defaultSubcommand: "run",
	},
	"gemini": {
		extraFlags: []string{"--output-format", "text", "--approval-mode", "yolo"},
	},
	"claude": {
		extraFlags: []string{"--output-format", "text", "--print", "--dangerously-skip-permissions"},
	},
}

// Exec runs an agent command through ainvoke.
type Exec struct {
	cfg        config.AgentConfig
	promptsDir string
	stdout     io.Writer
	stderr     io.Writer
}

// NewExec validates the agent config and returns an invoker.
func NewExec(cfg config.AgentConfig, promptsDir string, stdout, stderr io.Writer) (*Exec, error) {
	if cfg.Type == "exec" {
		if len(cfg.Cmd) == 0 {
			return nil, fmt.Errorf("exec agent requires cmd")
		}
	} else if _, ok := agentSpecs[cfg.Type]; !ok {
		return nil, fmt.Errorf("unknown agent type %q", cfg.Type)
	}
	return &Exec{
		cfg:        cfg,
		promptsDir: promptsDir,
		stdout:     writerOrDiscard(stdout),
		stderr:     writerOrDiscard(stderr),
	}, nil
}

// Command returns the command line used for the given model.
func (e *Exec) Command(model string) []string {
	if e.cfg.Type == "exec" {
		return append([]string(nil), e.cfg.Cmd...)
	}
	return prepareCmd(e.cfg.Type, agentSpecs[e.cfg.Type], model)
}

func prepareCmd(baseCmd string, spec agentSpec, model string) []string {
	out := []string{baseCmd}
	if spec.defaultSubcommand != "" {
		out = append(out, spec.defaultSubcommand)
	}
	if model != "" {
		out = append(out, "--model", model)
	}
	return append(out, spec.extraFlags...)
}

// Invoke runs the agent in req.RunDir and reads its response.
func (e *Exec) Invoke(ctx context.Context, req Request) (Response, error) {
	if err := os.MkdirAll(req.RunDir, 0o755); err != nil {
		return Response{}, fmt.Errorf("create run dir: %w", err)
	}
	prompt, err := e.systemPrompt(req)
	if err != nil {
		return Response{}, err
	}

	useTTY := false
	if e.cfg.UseTTY != nil {
		useTTY = *e.cfg.UseTTY
	}
	cmd := e.Command(req.Model)
	runner, err := ainvoke.NewRunner(ainvoke.AgentConfig{Cmd: cmd, UseTTY: useTTY})
	if err != nil {
		return Response{}, fmt.Errorf("init agent runner: %w", err)
	}

	log.Debug().Str("phase", req.Phase).Strs("cmd", cmd).Str("run_dir", req.RunDir).Msg("invoking agent")
	inv := ainvoke.Invocation{
		RunDir:       req.RunDir,
		SystemPrompt: prompt,
		Input:        req,
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
	}
	outBytes, _, exitCode, err := runner.Run(ctx, inv, ainvoke.WithStdout(e.stdout), ainvoke.WithStderr(e.stderr))
	if err != nil {
		return Response{}, fmt.Errorf("agent %s exited with code %d: %w", req.Phase, exitCode, err)
	}
	return readResponse(filepath.Join(req.RunDir, OutputFile), outBytes)
}

func (e *Exec) systemPrompt(req Request) (string, error) {
	body, err := loadPrompt(e.promptsDir, req.Prompt)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("You are a jeeves agent working on one workflow phase.\n")
	b.WriteString("- Work inside 'work_dir'. The issue facts are in 'facts'.\n")
	if req.PhaseType == "evaluate" {
		b.WriteString("- This is a review phase: do not modify files except those matching 'allowed_writes' or under .jeeves/.\n")
	}
	b.WriteString("- Report results as JSON in output.json; put fact changes in 'status_updates'.\n")
	b.WriteString("- Use status='error' only for technical failures.\n\n")
	b.WriteString(body)
	return b.String(), nil
}

func loadPrompt(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty prompt name")
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("prompt %q not found in %s", name, dir)
		}
		return "", fmt.Errorf("read prompt %s: %w", path, err)
	}
	return string(data), nil
}

func readResponse(path string, fallback []byte) (Response, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Response{}, fmt.Errorf("read agent output: %w", err)
		}
		data = fallback
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode agent output: %w", err)
	}
	if resp.Status == "" {
		resp.Status = StatusOK
	}
	return resp, nil
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// ExecFactory builds Exec invokers from the configured agents.
type ExecFactory struct {
	agents     map[string]config.AgentConfig
	promptsDir string
	stdout     io.Writer
	stderr     io.Writer
}

// NewExecFactory returns a factory over agents keyed by phase type.
func NewExecFactory(agents map[string]config.AgentConfig, promptsDir string, stdout, stderr io.Writer) *ExecFactory {
	return &ExecFactory{agents: agents, promptsDir: promptsDir, stdout: stdout, stderr: stderr}
}

// For returns the invoker configured for a phase type.
func (f *ExecFactory) For(phaseType string) (Invoker, error) {
	cfg, ok := f.agents[phaseType]
	if !ok {
		return nil, fmt.Errorf("missing agent config for phase type %q", phaseType)
	}
	inv, err := NewExec(cfg, f.promptsDir, f.stdout, f.stderr)
	if err != nil {
		return nil, fmt.Errorf("init %s agent: %w", phaseType, err)
	}
	return inv, nil
}
