// Package script runs script-type workflow phases.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/metalagman/jeeves/internal/atomicfile"
	"github.com/metalagman/jeeves/internal/facts"
	"github.com/metalagman/jeeves/internal/workflow"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTimeout bounds a script phase.
	DefaultTimeout = 900 * time.Second
	// ExitTimeout is reported when a command exceeds its timeout.
	ExitTimeout = 124
	// ExitFailure is reported for launch failures and missing commands.
	ExitFailure = 1

	noCommandOutput = "No command specified for script phase"
	waitDelay       = 2 * time.Second
)

// Result is the outcome of a script phase.
type Result struct {
	ExitCode      int
	Output        string
	StatusUpdates map[string]any
	Duration      time.Duration
	// Interrupted is set when the caller's context ended the command.
	// Such results carry no status updates.
	Interrupted bool
}

// Success reports whether the command exited with zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes script phases under sh.
type Runner struct {
	timeout time.Duration
	env     []string
}

// Option configures a Runner.
type Option func(*Runner) error

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) error {
		if d > 0 {
			r.timeout = d
		}
		return nil
	}
}

// WithEnvFile adds variables from a dotenv file to every command.
func WithEnvFile(path string) Option {
	return func(r *Runner) error {
		if path == "" {
			return nil
		}
		vars, err := godotenv.Read(path)
		if err != nil {
			return fmt.Errorf("read env file %s: %w", path, err)
		}
		for k, v := range vars {
			r.env = append(r.env, k+"="+v)
		}
		return nil
	}
}

// NewRunner constructs a Runner.
func NewRunner(opts ...Option) (*Runner, error) {
	r := &Runner{timeout: DefaultTimeout}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Timeout returns the effective command timeout.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Run executes the phase command in workDir. Failures are reported through the
// result, never as an error.
func (r *Runner) Run(ctx context.Context, phase workflow.Phase, workDir string, f facts.Facts) Result {
	if strings.TrimSpace(phase.Command) == "" {
		return Result{ExitCode: ExitFailure, Output: noCommandOutput}
	}

	command := Substitute(phase.Command, f)
	startedAt := time.Now()
	exitCode, output := r.exec(ctx, command, workDir, f)
	duration := time.Since(startedAt)

	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Str("phase", phase.Name).Dur("duration", duration).Msg("script phase interrupted")
		return Result{
			ExitCode:    exitCode,
			Output:      output,
			Duration:    duration,
			Interrupted: true,
		}
	}

	log.Info().
		Str("phase", phase.Name).
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("script phase finished")

	if phase.OutputFile != "" {
		r.writeOutput(phase.OutputFile, workDir, output)
	}

	return Result{
		ExitCode:      exitCode,
		Output:        output,
		StatusUpdates: MapStatus(phase.StatusMapping, exitCode, output),
		Duration:      duration,
	}
}

func (r *Runner) exec(parent context.Context, command, workDir string, f facts.Facts) (int, string) {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	log.Debug().Str("dir", workDir).Str("cmd", command).Dur("timeout", r.timeout).Msg("running script command")

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workDir
	cmd.Env = append(append(os.Environ(), r.env...), f.Environ()...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Kill the whole process group so children of sh die too.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ExitTimeout, fmt.Sprintf("Command timed out after %s\n%s", formatSeconds(r.timeout), stdout.String())
	}
	output := stdout.String() + stderr.String()
	if err == nil {
		return 0, output
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode(), output
	}
	return ExitFailure, fmt.Sprintf("Error running command: %v", err)
}

func (r *Runner) writeOutput(outputFile, workDir, output string) {
	path := outputFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}
	if err := atomicfile.Write(path, []byte(output), 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("write script output")
	}
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%gs", d.Seconds())
}

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// Substitute replaces ${dotted.path} placeholders with fact values in one pass.
// Unresolved paths become empty strings.
func Substitute(command string, f facts.Facts) string {
	return placeholder.ReplaceAllStringFunc(command, func(m string) string {
		path := strings.TrimSpace(m[2 : len(m)-1])
		return facts.Stringify(f.Lookup(path))
	})
}

// MapStatus selects fact updates for a finished command. Output substrings are
// matched first, case-insensitively and in mapping order, then the success or
// failure key by exit code.
func MapStatus(mapping workflow.StatusMapping, exitCode int, output string) map[string]any {
	if len(mapping) == 0 {
		return nil
	}
	lowered := strings.ToLower(strings.TrimSpace(output))
	for _, rule := range mapping {
		key := strings.ToLower(rule.Key)
		if key != "" && strings.Contains(lowered, key) {
			return rule.Updates
		}
	}
	fallback := "failure"
	if exitCode == 0 {
		fallback = "success"
	}
	if updates, ok := mapping.Get(fallback); ok {
		return updates
	}
	return nil
}
