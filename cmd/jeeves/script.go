package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/metalagman/jeeves/internal/issue"
	"github.com/metalagman/jeeves/internal/run"
	"github.com/metalagman/jeeves/internal/script"
	"github.com/metalagman/jeeves/internal/workflow"
	"github.com/spf13/cobra"
)

func scriptCmd() *cobra.Command {
	var (
		wfName string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:          "script <phase>",
		Short:        "Run one script phase against the current issue facts",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			wf, err := e.loadWorkflow(wfName)
			if err != nil {
				return err
			}
			phase, ok := wf.Phase(args[0])
			if !ok {
				return fmt.Errorf("phase %q not found in workflow %s", args[0], wf.Name)
			}
			if phase.Type != workflow.PhaseScript {
				return fmt.Errorf("phase %q is %s, not script", phase.Name, phase.Type)
			}
			view, err := run.View(e.stateDir)
			if err != nil {
				return err
			}

			opts := []script.Option{script.WithTimeout(e.cfg.Script.Timeout)}
			if e.cfg.Script.EnvFile != "" {
				opts = append(opts, script.WithEnvFile(e.cfg.Script.EnvFile))
			}
			runner, err := script.NewRunner(opts...)
			if err != nil {
				return err
			}
			res := runner.Run(cmd.Context(), phase, e.workDir, view)

			out := cmd.OutOrStdout()
			fmt.Fprint(out, res.Output)
			updates, err := json.Marshal(res.StatusUpdates)
			if err != nil {
				return fmt.Errorf("encode status updates: %w", err)
			}
			outcome := "ok"
			if !res.Success() {
				outcome = "fail"
			}
			fmt.Fprintf(out, "%s exit code %d in %s, status updates %s\n",
				statusStyle(outcome).Render(phase.Name), res.ExitCode, res.Duration.Round(time.Millisecond), updates)

			if dryRun || len(res.StatusUpdates) == 0 {
				return nil
			}
			f, err := e.loadIssue()
			if err != nil {
				return err
			}
			f.MergeStatus(res.StatusUpdates)
			return issue.Save(e.issuePath(), f)
		},
	}
	cmd.Flags().StringVar(&wfName, "workflow", "", "workflow name (default from issue or config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "do not merge status updates into issue.json")
	return cmd
}
