package main

import (
	"fmt"
	"strconv"

	"github.com/metalagman/jeeves/internal/db"
	"github.com/metalagman/jeeves/internal/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and prune run history",
	}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsShowCmd())
	cmd.AddCommand(runsPruneCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List recent runs",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			storeDB, closeFn, err := e.openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := db.NewStore(storeDB).ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.RunID,
					r.CreatedAt,
					r.Issue,
					r.Workflow,
					statusStyle(r.Status).Render(r.Status),
					r.CurrentPhase,
					strconv.Itoa(r.Iteration),
				})
			}
			renderTable(cmd.OutOrStdout(), []string{"RUN", "CREATED", "ISSUE", "WORKFLOW", "STATUS", "PHASE", "ITER"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show (0 for all)")
	return cmd
}

func runsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "show <run-id>",
		Short:        "Show the steps and events of a run",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			storeDB, closeFn, err := e.openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			store := db.NewStore(storeDB)
			ctx := cmd.Context()
			status, err := store.GetRunStatus(ctx, args[0])
			if err != nil {
				return err
			}
			if status == "" {
				return fmt.Errorf("run %s not found", args[0])
			}
			steps, err := store.Steps(ctx, args[0])
			if err != nil {
				return err
			}
			events, err := store.Events(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render(args[0]), statusStyle(status).Render(status))
			stepRows := make([][]string, 0, len(steps))
			for _, s := range steps {
				code := ""
				if s.ExitCode != nil {
					code = strconv.Itoa(*s.ExitCode)
				}
				stepRows = append(stepRows, []string{
					strconv.Itoa(s.StepIndex), s.Phase, s.PhaseType,
					statusStyle(s.Status).Render(s.Status), code, s.NextPhase, s.Summary,
				})
			}
			renderTable(out, []string{"#", "PHASE", "TYPE", "STATUS", "EXIT", "NEXT", "SUMMARY"}, stepRows)
			for _, ev := range events {
				fmt.Fprintf(out, "%s %s\n", mutedStyle.Render(ev.Type), ev.Message)
			}
			return nil
		},
	}
}

func runsPruneCmd() *cobra.Command {
	var keepLast int
	var keepDays int
	var dryRun bool
	cmd := &cobra.Command{
		Use:          "prune",
		Short:        "Prune old runs from disk and database",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			policy := run.RetentionPolicy{KeepLast: keepLast, KeepDays: keepDays}
			if !policy.Enabled() {
				policy = run.RetentionPolicy{
					KeepLast: e.cfg.Retention.KeepLast,
					KeepDays: e.cfg.Retention.KeepDays,
				}
			}
			if !policy.Enabled() {
				return fmt.Errorf("set --keep-last or --keep-days (or configure retention in %s)", defaultConfigPath)
			}

			lock, err := run.AcquireRunLock(e.stateDir)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			storeDB, closeFn, err := e.openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := run.PruneRuns(cmd.Context(), db.NewStore(storeDB), policy, dryRun)
			if err != nil {
				return err
			}
			mode := "deleted"
			if dryRun {
				mode = "would delete"
			}
			log.Info().Msgf("%s %d runs (kept %d, skipped %d)", mode, res.Deleted, res.Kept, res.Skipped)
			return nil
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep the newest N runs")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "keep runs newer than N days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be pruned without deleting")
	return cmd
}
