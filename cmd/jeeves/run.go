package main

import (
	"fmt"
	"strconv"

	"github.com/metalagman/jeeves/internal/db"
	"github.com/metalagman/jeeves/internal/metrics"
	"github.com/metalagman/jeeves/internal/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the issue workflow until it completes, stalls or exhausts its budget",
		Long: "Run executes the current phase of the issue in the state dir, evaluates its transitions and repeats. " +
			"With --watch a stalled run waits for issue.json to change instead of stopping.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			e.checkBranch(cmd.Context())
			var (
				runner *run.Runner
				rec    *metrics.Recorder
			)
			app := newRunApp(runParams{
				env:    e,
				watch:  watch,
				stdout: cmd.OutOrStdout(),
				stderr: cmd.ErrOrStderr(),
			}, &runner, &rec)
			if err := app.Err(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(ctx) }()

			res, runErr := runner.Run(ctx)
			if path := e.metricsFile(); path != "" {
				if err := rec.WriteTextfile(path); err != nil {
					log.Warn().Err(err).Str("file", path).Msg("failed to write metrics")
				}
			}
			if res.RunID != "" {
				renderTable(cmd.OutOrStdout(), []string{"RUN", "STATUS", "PHASE", "ITERATIONS"}, [][]string{{
					res.RunID,
					statusStyle(res.Status).Render(res.Status),
					res.Phase,
					strconv.Itoa(res.Iterations),
				}})
			}
			if runErr != nil {
				return runErr
			}
			if res.Status == db.RunBudgetExceeded {
				return fmt.Errorf("iteration budget of %d exhausted at phase %s", e.cfg.MaxIterations, res.Phase)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "wait for issue state changes when no transition fires")
	return cmd
}
