// Package run implements the jeeves orchestration loop.
package run

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/metalagman/jeeves/internal/agent"
	"github.com/metalagman/jeeves/internal/db"
	"github.com/metalagman/jeeves/internal/facts"
	"github.com/metalagman/jeeves/internal/issue"
	"github.com/metalagman/jeeves/internal/metrics"
	"github.com/metalagman/jeeves/internal/script"
	"github.com/metalagman/jeeves/internal/task"
	"github.com/metalagman/jeeves/internal/workflow"
	"github.com/rs/zerolog/log"
)

// ErrWriteViolation marks an evaluate phase that changed files outside its sandbox.
var ErrWriteViolation = errors.New("write sandbox violation")

// TasksKey is the fact key that exposes task progress for one tick.
const TasksKey = "tasks"

const persistTimeout = 10 * time.Second

// ScriptRunner executes script phases.
type ScriptRunner interface {
	Run(ctx context.Context, phase workflow.Phase, workDir string, f facts.Facts) script.Result
}

// ChangeFunc lists changed files in the working tree.
type ChangeFunc func(ctx context.Context, workDir string) ([]string, error)

// Options configure a Runner.
type Options struct {
	WorkDir         string
	StateDir        string
	Loader          *workflow.Loader
	DefaultWorkflow string
	MaxIterations   int
	Scripts         ScriptRunner
	Agents          agent.Factory
	Store           *db.Store
	Changes         ChangeFunc
	Watch           bool
	// Metrics is optional.
	Metrics *metrics.Recorder
}

// Runner executes workflow phases for the issue in the state dir.
type Runner struct {
	workDir         string
	stateDir        string
	loader          *workflow.Loader
	defaultWorkflow string
	maxIterations   int
	scripts         ScriptRunner
	agents          agent.Factory
	store           *db.Store
	changes         ChangeFunc
	watch           bool
	metrics         *metrics.Recorder
}

// Result summarizes a finished run.
type Result struct {
	RunID      string
	Status     string
	Phase      string
	Iterations int
}

// NewRunner validates options and constructs a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Loader == nil {
		return nil, fmt.Errorf("workflow loader is required")
	}
	if opts.Scripts == nil {
		return nil, fmt.Errorf("script runner is required")
	}
	if opts.Agents == nil {
		return nil, fmt.Errorf("agent factory is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("run store is required")
	}
	if opts.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be > 0")
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = "."
	}
	stateDir := opts.StateDir
	if stateDir == "" {
		stateDir = sandboxDir
	}
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(workDir, stateDir)
	}
	defaultWorkflow := opts.DefaultWorkflow
	if defaultWorkflow == "" {
		defaultWorkflow = workflow.DefaultName
	}
	return &Runner{
		workDir:         workDir,
		stateDir:        stateDir,
		loader:          opts.Loader,
		defaultWorkflow: defaultWorkflow,
		maxIterations:   opts.MaxIterations,
		scripts:         opts.Scripts,
		agents:          opts.Agents,
		store:           opts.Store,
		changes:         opts.Changes,
		watch:           opts.Watch,
		metrics:         opts.Metrics,
	}, nil
}

// IssuePath returns the issue state file of this runner.
func (r *Runner) IssuePath() string {
	return filepath.Join(r.stateDir, issue.FileName)
}

// TasksPath returns the task list file of this runner.
func (r *Runner) TasksPath() string {
	return filepath.Join(r.stateDir, task.FileName)
}

// Run drives the issue through its workflow until a terminal phase, a stall,
// a failure, or the iteration budget is exhausted.
func (r *Runner) Run(ctx context.Context) (res Result, err error) {
	startedAt := time.Now()
	defer func() {
		if res.RunID == "" {
			return
		}
		event := log.Info().
			Str("run_id", res.RunID).
			Str("status", res.Status).
			Str("phase", res.Phase).
			Int("iterations", res.Iterations).
			Dur("duration", time.Since(startedAt))
		if err != nil {
			event = event.Err(err)
		}
		event.Msg("run finished")
	}()

	lock, err := TryAcquireRunLock(r.stateDir)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = lock.Release() }()

	f, err := issue.Load(r.IssuePath())
	if err != nil {
		return Result{}, err
	}
	wfName := issue.Workflow(f)
	if wfName == "" {
		wfName = r.defaultWorkflow
	}
	wf, err := r.loader.Load(wfName)
	if err != nil {
		return Result{}, fmt.Errorf("load workflow %s: %w", wfName, err)
	}
	engine := workflow.NewEngine(wf)

	current := issue.Phase(f)
	if current == "" {
		current = wf.Start
		issue.SetPhase(f, current)
		if err := issue.Save(r.IssuePath(), f); err != nil {
			return Result{}, err
		}
	}

	runID := uuid.NewString()
	res = Result{RunID: runID, Phase: current}
	if err := r.store.CreateRun(ctx, db.RunRecord{
		RunID:        runID,
		Issue:        issue.Label(f),
		Workflow:     wf.Name,
		CurrentPhase: current,
		StateDir:     r.runDir(runID),
	}); err != nil {
		return Result{}, err
	}
	journal := newJournal(r.runDir(runID), issue.Label(f))

	for res.Iterations < r.maxIterations {
		if !engine.HasPhase(current) {
			err := fmt.Errorf("phase %q not found in workflow %s", current, wf.Name)
			return r.finish(ctx, res, db.RunFailed, err)
		}
		if engine.IsTerminal(current) {
			return r.finish(ctx, res, db.RunCompleted, nil)
		}
		res.Iterations++
		phase, _ := engine.Phase(current)

		step, err := r.executeStep(ctx, runID, res.Iterations, wf, phase)
		if ctx.Err() != nil {
			step.Status = stepInterrupted
		}
		journal.append(step)
		r.metrics.Step(step.Phase, string(step.Type), step.Status, step.EndedAt.Sub(step.StartedAt))
		r.metrics.Violations(len(step.Violations))
		if ctx.Err() != nil {
			return r.interrupt(ctx, step, res)
		}
		if err != nil {
			_ = r.commitStep(ctx, step, res, db.RunFailed)
			status := db.RunFailed
			if errors.Is(err, ErrWriteViolation) {
				status = db.RunViolation
			}
			return r.finish(ctx, res, status, err)
		}

		next, ok, err := r.nextPhase(ctx, engine, current)
		if ctx.Err() != nil {
			return r.interrupt(ctx, step, res)
		}
		if err != nil {
			_ = r.commitStep(ctx, step, res, db.RunFailed)
			return r.finish(ctx, res, db.RunFailed, err)
		}
		if !ok {
			if err := r.commitStep(ctx, step, res, db.RunRunning); err != nil {
				return r.finish(ctx, res, db.RunFailed, err)
			}
			log.Info().Str("phase", current).Msg("no transition fired")
			return r.finish(ctx, res, db.RunStalled, nil)
		}

		step.NextPhase = next
		if err := r.transition(current, next); err != nil {
			_ = r.commitStep(ctx, step, res, db.RunFailed)
			return r.finish(ctx, res, db.RunFailed, err)
		}
		r.metrics.Transition(current, next)
		current = next
		res.Phase = next
		if err := r.commitStep(ctx, step, res, db.RunRunning); err != nil {
			return r.finish(ctx, res, db.RunFailed, err)
		}
	}

	if engine.IsTerminal(current) {
		return r.finish(ctx, res, db.RunCompleted, nil)
	}
	return r.finish(ctx, res, db.RunBudgetExceeded, nil)
}

// nextPhase evaluates transitions against fresh facts. In watch mode it
// waits for issue state changes until an edge fires.
func (r *Runner) nextPhase(ctx context.Context, engine *workflow.Engine, current string) (string, bool, error) {
	var watcher *issue.Watcher
	if r.watch {
		w, err := issue.Watch(r.IssuePath())
		if err != nil {
			return "", false, fmt.Errorf("watch issue state: %w", err)
		}
		defer func() { _ = w.Close() }()
		watcher = w
	}
	for {
		view, err := r.view()
		if err != nil {
			return "", false, err
		}
		if next, ok := engine.EvaluateTransitions(current, view); ok {
			return next, true, nil
		}
		if watcher == nil {
			return "", false, nil
		}
		log.Info().Str("phase", current).Str("file", r.IssuePath()).Msg("waiting for issue state change")
		if err := watcher.Wait(ctx); err != nil {
			return "", false, fmt.Errorf("watch issue state: %w", err)
		}
	}
}

func (r *Runner) transition(from, to string) error {
	f, err := issue.Load(r.IssuePath())
	if err != nil {
		return err
	}
	issue.SetPhase(f, to)
	if err := issue.Save(r.IssuePath(), f); err != nil {
		return err
	}
	log.Info().Str("from", from).Str("to", to).Msg("phase transition")
	return nil
}

func (r *Runner) view() (facts.Facts, error) {
	return View(r.stateDir)
}

// View loads the issue facts in stateDir and adds derived task progress
// under TasksKey when a task list exists. The result is never persisted.
func View(stateDir string) (facts.Facts, error) {
	f, err := issue.Load(filepath.Join(stateDir, issue.FileName))
	if err != nil {
		return nil, err
	}
	list, err := task.Load(filepath.Join(stateDir, task.FileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return f, nil
		}
		return nil, err
	}
	view := f.Clone()
	view[TasksKey] = list.Summary()
	return view, nil
}

func (r *Runner) runDir(runID string) string {
	return filepath.Join(r.stateDir, "runs", runID)
}

// interrupt records a run stopped by ctx. The phase is left unchanged so the
// next run repeats the interrupted step.
func (r *Runner) interrupt(ctx context.Context, step stepResult, res Result) (Result, error) {
	cause := fmt.Errorf("run interrupted at %s: %w", res.Phase, context.Cause(ctx))
	_ = r.commitStep(ctx, step, res, db.RunInterrupted)
	return r.finish(ctx, res, db.RunInterrupted, cause)
}

func (r *Runner) commitStep(ctx context.Context, step stepResult, res Result, status string) error {
	// Bookkeeping must land even after the run context is cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	rec := db.StepRecord{
		RunID:     res.RunID,
		StepIndex: step.Index,
		Phase:     step.Phase,
		PhaseType: string(step.Type),
		Iteration: res.Iterations,
		Status:    step.Status,
		ExitCode:  step.ExitCode,
		NextPhase: step.NextPhase,
		StartedAt: step.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:   step.EndedAt.UTC().Format(time.RFC3339),
		Summary:   step.Summary,
	}
	var events []db.Event
	if step.NextPhase != "" {
		events = append(events, db.Event{Type: "transition", Message: step.Phase + " -> " + step.NextPhase})
	}
	update := db.Update{
		Iteration:    res.Iterations,
		CurrentPhase: res.Phase,
		Status:       status,
	}
	return r.store.CommitStep(ctx, rec, events, update)
}

func (r *Runner) finish(ctx context.Context, res Result, status string, cause error) (Result, error) {
	res.Status = status
	r.metrics.RunFinished(status)
	msg := "run " + status + " at " + res.Phase
	if cause != nil {
		msg += ": " + cause.Error()
	}
	verdict := status
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.store.UpdateRun(ctx, res.RunID, db.Update{
		Iteration:    res.Iterations,
		CurrentPhase: res.Phase,
		Status:       status,
		Verdict:      &verdict,
	}, &db.Event{Type: "run_finished", Message: msg}); err != nil && cause == nil {
		cause = err
	}
	return res, cause
}
