package main

import (
	"context"
	"database/sql"
	"io"

	"github.com/metalagman/jeeves/internal/agent"
	"github.com/metalagman/jeeves/internal/db"
	"github.com/metalagman/jeeves/internal/git"
	"github.com/metalagman/jeeves/internal/metrics"
	"github.com/metalagman/jeeves/internal/run"
	"github.com/metalagman/jeeves/internal/script"
	"github.com/metalagman/jeeves/internal/workflow"
	"go.uber.org/fx"
)

// runParams carries per-invocation inputs into the run graph.
type runParams struct {
	env    env
	watch  bool
	stdout io.Writer
	stderr io.Writer
}

// newRunApp wires the orchestrator and its collaborators and populates the targets.
func newRunApp(p runParams, runner **run.Runner, rec **metrics.Recorder) *fx.App {
	return fx.New(
		fx.NopLogger,
		fx.Supply(p),
		fx.Provide(
			metrics.New,
			provideDB,
			db.NewStore,
			provideLoader,
			provideScripts,
			provideAgents,
			provideRunner,
		),
		fx.Populate(runner, rec),
	)
}

func provideDB(lc fx.Lifecycle, p runParams) (*sql.DB, error) {
	conn, err := db.OpenInDir(p.env.stateDir)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return conn.Close()
		},
	})
	return conn, nil
}

func provideLoader(p runParams) *workflow.Loader {
	return p.env.loader()
}

func provideScripts(p runParams) (*script.Runner, error) {
	opts := []script.Option{script.WithTimeout(p.env.cfg.Script.Timeout)}
	if p.env.cfg.Script.EnvFile != "" {
		opts = append(opts, script.WithEnvFile(p.env.cfg.Script.EnvFile))
	}
	return script.NewRunner(opts...)
}

func provideAgents(p runParams) agent.Factory {
	return agent.NewExecFactory(p.env.cfg.ResolvedAgents(), p.env.promptsDir(), p.stdout, p.stderr)
}

func provideRunner(
	p runParams,
	loader *workflow.Loader,
	scripts *script.Runner,
	agents agent.Factory,
	store *db.Store,
	rec *metrics.Recorder,
) (*run.Runner, error) {
	return run.NewRunner(run.Options{
		WorkDir:         p.env.workDir,
		StateDir:        p.env.stateDir,
		Loader:          loader,
		DefaultWorkflow: p.env.cfg.Workflow,
		MaxIterations:   p.env.cfg.MaxIterations,
		Scripts:         scripts,
		Agents:          agents,
		Store:           store,
		Changes:         git.ChangedFiles,
		Watch:           p.watch,
		Metrics:         rec,
	})
}
