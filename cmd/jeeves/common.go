package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/jeeves/internal/config"
	"github.com/metalagman/jeeves/internal/db"
	"github.com/metalagman/jeeves/internal/facts"
	"github.com/metalagman/jeeves/internal/git"
	"github.com/metalagman/jeeves/internal/issue"
	"github.com/metalagman/jeeves/internal/workflow"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// env is the resolved configuration of one command invocation.
type env struct {
	cfg      config.Config
	workDir  string
	stateDir string
}

func loadEnv() (env, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return env{}, err
	}
	cfg, err := loadConfig(workDir)
	if err != nil {
		return env{}, err
	}
	stateDir := cfg.StateDir
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(workDir, stateDir)
	}
	return env{cfg: cfg, workDir: workDir, stateDir: stateDir}, nil
}

func loadConfig(workDir string) (config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = defaultConfigPath
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}
	return config.Load(viper.GetViper(), path)
}

func (e env) issuePath() string {
	return filepath.Join(e.stateDir, issue.FileName)
}

func (e env) loader() *workflow.Loader {
	dir := e.cfg.WorkflowsDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(e.workDir, dir)
	}
	return workflow.NewLoader(dir, e.cfg.Models)
}

func (e env) promptsDir() string {
	if filepath.IsAbs(e.cfg.PromptsDir) {
		return e.cfg.PromptsDir
	}
	return filepath.Join(e.workDir, e.cfg.PromptsDir)
}

// checkBranch warns when the work tree is not on the issue branch.
func (e env) checkBranch(ctx context.Context) {
	f, err := issue.Load(e.issuePath())
	if err != nil || !git.Available(ctx, e.workDir) {
		return
	}
	want, _ := f[issue.KeyBranch].(string)
	got, err := git.CurrentBranch(ctx, e.workDir)
	if err != nil {
		log.Warn().Err(err).Msg("cannot resolve current branch")
		return
	}
	if want != "" && got != want {
		log.Warn().Str("current", got).Str("issue_branch", want).Msg("work tree is not on the issue branch")
	}
}

func (e env) metricsFile() string {
	if e.cfg.MetricsFile == "" || filepath.IsAbs(e.cfg.MetricsFile) {
		return e.cfg.MetricsFile
	}
	return filepath.Join(e.workDir, e.cfg.MetricsFile)
}

func (e env) loadIssue() (facts.Facts, error) {
	f, err := issue.Load(e.issuePath())
	if err != nil {
		return nil, fmt.Errorf("%w (run `jeeves init` first)", err)
	}
	return f, nil
}

// workflowName picks the explicit name, then the issue's workflow, then the configured one.
func (e env) workflowName(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if f, err := issue.Load(e.issuePath()); err == nil {
		if name := issue.Workflow(f); name != "" {
			return name
		}
	}
	return e.cfg.Workflow
}

func (e env) loadWorkflow(explicit string) (*workflow.Workflow, error) {
	return e.loader().Load(e.workflowName(explicit))
}

func (e env) openDB() (*sql.DB, func(), error) {
	storeDB, err := db.OpenInDir(e.stateDir)
	if err != nil {
		return nil, func() {}, err
	}
	return storeDB, func() { _ = storeDB.Close() }, nil
}
