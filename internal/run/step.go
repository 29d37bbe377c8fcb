package run

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/metalagman/jeeves/internal/agent"
	"github.com/metalagman/jeeves/internal/issue"
	"github.com/metalagman/jeeves/internal/sandbox"
	"github.com/metalagman/jeeves/internal/workflow"
	"github.com/rs/zerolog/log"
)

const sandboxDir = sandbox.ReservedDir

const (
	stepOK          = "ok"
	stepFail        = "fail"
	stepError       = "error"
	stepViolation   = "violation"
	stepInterrupted = "interrupted"
)

type stepResult struct {
	Index      int
	Phase      string
	Type       workflow.PhaseType
	Dir        string
	StartedAt  time.Time
	EndedAt    time.Time
	Status     string
	ExitCode   *int
	Summary    string
	NextPhase  string
	Violations []string
}

func (r *Runner) executeStep(ctx context.Context, runID string, index int, wf *workflow.Workflow, phase workflow.Phase) (stepResult, error) {
	step := stepResult{
		Index:     index,
		Phase:     phase.Name,
		Type:      phase.Type,
		Dir:       filepath.Join(r.runDir(runID), "steps", fmt.Sprintf("%02d-%s", index, phase.Name)),
		StartedAt: time.Now().UTC(),
	}

	if err := os.MkdirAll(step.Dir, 0o755); err != nil {
		step.Status = stepError
		return step, fmt.Errorf("create step dir: %w", err)
	}
	log.Info().Str("run_id", runID).Int("step", index).Str("phase", phase.Name).Str("type", string(phase.Type)).Msg("executing phase")

	var err error
	switch phase.Type {
	case workflow.PhaseScript:
		err = r.runScript(ctx, phase, &step)
	case workflow.PhaseExecute, workflow.PhaseEvaluate:
		err = r.runAgent(ctx, runID, index, wf, phase, &step)
	default:
		err = fmt.Errorf("phase %s has type %s and cannot be executed", phase.Name, phase.Type)
		step.Status = stepError
	}
	step.EndedAt = time.Now().UTC()
	return step, err
}

func (r *Runner) runScript(ctx context.Context, phase workflow.Phase, step *stepResult) error {
	view, err := r.view()
	if err != nil {
		step.Status = stepError
		return err
	}
	res := r.scripts.Run(ctx, phase, r.workDir, view)
	if res.Interrupted {
		step.Status = stepInterrupted
		step.Summary = "interrupted"
		return fmt.Errorf("script %s: %w", phase.Name, context.Cause(ctx))
	}
	code := res.ExitCode
	step.ExitCode = &code
	step.Status = stepOK
	if !res.Success() {
		step.Status = stepFail
	}
	step.Summary = fmt.Sprintf("exit code %d", res.ExitCode)
	if err := os.WriteFile(filepath.Join(step.Dir, "output.log"), []byte(res.Output), 0o644); err != nil {
		log.Warn().Err(err).Str("phase", phase.Name).Msg("failed to write script log")
	}
	if err := r.mergeStatus(res.StatusUpdates); err != nil {
		step.Status = stepError
		return err
	}
	return nil
}

func (r *Runner) runAgent(ctx context.Context, runID string, index int, wf *workflow.Workflow, phase workflow.Phase, step *stepResult) error {
	invoker, err := r.agents.For(string(phase.Type))
	if err != nil {
		step.Status = stepError
		return err
	}
	view, err := r.view()
	if err != nil {
		step.Status = stepError
		return err
	}

	var before snapshot
	if phase.Type == workflow.PhaseEvaluate {
		dirty, err := r.changedFiles(ctx)
		if err != nil {
			step.Status = stepError
			return err
		}
		if before, err = takeSnapshot(r.workDir, dirty); err != nil {
			step.Status = stepError
			return err
		}
	}

	resp, err := invoker.Invoke(ctx, agent.Request{
		RunID:         runID,
		Iteration:     index,
		Phase:         phase.Name,
		PhaseType:     string(phase.Type),
		Prompt:        phase.Prompt,
		Model:         wf.EffectiveModel(phase.Name),
		AllowedWrites: phase.AllowedWrites,
		WorkDir:       r.workDir,
		RunDir:        step.Dir,
		Facts:         view,
	})
	if err != nil {
		step.Status = stepError
		return fmt.Errorf("run %s agent: %w", phase.Name, err)
	}
	step.Summary = resp.Summary
	if resp.Status == agent.StatusError {
		step.Status = stepError
		return fmt.Errorf("agent reported error in %s: %s", phase.Name, resp.Summary)
	}
	step.Status = stepOK

	if err := r.mergeStatus(resp.StatusUpdates); err != nil {
		step.Status = stepError
		return err
	}

	if phase.Type == workflow.PhaseEvaluate {
		after, err := r.changedFiles(ctx)
		if err != nil {
			step.Status = stepError
			return err
		}
		written, err := before.changes(r.workDir, after)
		if err != nil {
			step.Status = stepError
			return err
		}
		checker := sandbox.NewChecker(r.reservedPrefix())
		if violations := checker.Violations(written, phase.AllowedWrites); len(violations) > 0 {
			step.Status = stepViolation
			step.Violations = violations
			step.Summary = "disallowed writes: " + strings.Join(violations, ", ")
			return fmt.Errorf("%w in %s: %s", ErrWriteViolation, phase.Name, strings.Join(violations, ", "))
		}
	}
	return nil
}

func (r *Runner) mergeStatus(updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	// Agents may edit issue.json themselves, so merge into the on-disk state.
	f, err := issue.Load(r.IssuePath())
	if err != nil {
		return err
	}
	f.MergeStatus(updates)
	return issue.Save(r.IssuePath(), f)
}

func (r *Runner) changedFiles(ctx context.Context) ([]string, error) {
	if r.changes == nil {
		return nil, nil
	}
	files, err := r.changes(ctx, r.workDir)
	if err != nil {
		return nil, fmt.Errorf("list changed files: %w", err)
	}
	return files, nil
}

// reservedPrefix is the state dir relative to the work dir, as git reports it.
func (r *Runner) reservedPrefix() string {
	rel, err := filepath.Rel(r.workDir, r.stateDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return sandboxDir
	}
	return filepath.ToSlash(rel)
}

// snapshot maps dirty paths to a hash of their content. Paths that are
// missing or are directories hash to a fixed marker.
type snapshot map[string]string

const (
	missingSum = "-"
	dirSum     = "dir"
)

func takeSnapshot(workDir string, paths []string) (snapshot, error) {
	s := make(snapshot, len(paths))
	for _, p := range paths {
		sum, err := fileSum(filepath.Join(workDir, filepath.FromSlash(p)))
		if err != nil {
			return nil, err
		}
		s[p] = sum
	}
	return s, nil
}

// changes returns the paths written since the snapshot: new dirty paths,
// dirty paths whose content changed, and dirty paths that were reverted.
func (s snapshot) changes(workDir string, after []string) ([]string, error) {
	var out []string
	dirty := make(map[string]bool, len(after))
	for _, p := range after {
		dirty[p] = true
		prev, ok := s[p]
		if !ok {
			out = append(out, p)
			continue
		}
		sum, err := fileSum(filepath.Join(workDir, filepath.FromSlash(p)))
		if err != nil {
			return nil, err
		}
		if sum != prev {
			out = append(out, p)
		}
	}
	for p := range s {
		if !dirty[p] {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func fileSum(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return missingSum, nil
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return dirSum, nil
	}
	h := sha256.New()
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return "", fmt.Errorf("read link %s: %w", path, err)
		}
		h.Write([]byte("link:" + target))
		return hex.EncodeToString(h.Sum(nil)), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
