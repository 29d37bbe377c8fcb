// Package git wraps the git commands the orchestrator needs.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Available checks if the given directory is inside a git work tree.
func Available(ctx context.Context, repoRoot string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = repoRoot
	return cmd.Run() == nil
}

// RunCmdOutput runs a command in dir and returns its combined output.
func RunCmdOutput(ctx context.Context, dir string, name string, args ...string) (string, error) {
	log.Debug().Str("dir", dir).Str("cmd", name).Strs("args", args).Msg("running git command (output return)")
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return string(out), nil
}

// RunCmdErr runs a command in dir and reports only failure.
func RunCmdErr(ctx context.Context, dir string, name string, args ...string) error {
	log.Debug().Str("dir", dir).Str("cmd", name).Strs("args", args).Msg("running git command (err return)")
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CurrentBranch returns the checked out branch name.
func CurrentBranch(ctx context.Context, repoRoot string) (string, error) {
	if !Available(ctx, repoRoot) {
		return "", fmt.Errorf("not a git repository: %s", repoRoot)
	}
	out, err := RunCmdOutput(ctx, repoRoot, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve branch: %w", err)
	}
	branch := strings.TrimSpace(out)
	if branch == "" {
		return "", fmt.Errorf("resolve branch: empty branch name")
	}
	if branch == "HEAD" {
		return "", fmt.Errorf("resolve branch: detached HEAD")
	}
	return branch, nil
}

// ChangedFiles lists paths with uncommitted changes, untracked files included.
// For renames only the new path is reported.
func ChangedFiles(ctx context.Context, repoRoot string) ([]string, error) {
	if !Available(ctx, repoRoot) {
		return nil, fmt.Errorf("not a git repository: %s", repoRoot)
	}
	out, err := RunCmdOutput(ctx, repoRoot, "git", "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	return ParsePorcelain(out), nil
}

// ParsePorcelain parses `git status --porcelain=v1 -z` output.
func ParsePorcelain(out string) []string {
	entries := strings.Split(out, "\x00")
	seen := make(map[string]bool)
	var files []string
	for i := 0; i < len(entries); i++ {
		entry := entries[i]
		if len(entry) < 4 {
			continue
		}
		status, path := entry[:2], entry[3:]
		if status[0] == 'R' || status[0] == 'C' {
			// The source path follows as its own entry.
			i++
		}
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files
}
