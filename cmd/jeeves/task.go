package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/metalagman/jeeves/internal/task"
	"github.com/spf13/cobra"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and advance decomposed tasks",
	}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskCurrentCmd())
	cmd.AddCommand(taskStartCmd())
	cmd.AddCommand(taskAdvanceCmd())
	return cmd
}

func (e env) tasksPath() string {
	return filepath.Join(e.stateDir, task.FileName)
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "List tasks",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			list, err := task.Load(e.tasksPath())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list.Tasks) == 0 {
				fmt.Fprintln(out, "no tasks")
				return nil
			}
			rows := make([][]string, 0, len(list.Tasks))
			for _, t := range list.Tasks {
				rows = append(rows, []string{
					t.ID,
					statusStyle(string(t.Status)).Render(string(t.Status)),
					t.Title,
					strings.Join(t.FilesAllowed, "\n"),
				})
			}
			renderTable(out, []string{"ID", "STATUS", "TITLE", "FILES"}, rows)
			fmt.Fprintf(out, "%d of %d tasks not passed\n", list.PendingCount(), len(list.Tasks))
			return nil
		},
	}
}

func taskCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "current",
		Short:        "Show the first open task",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			list, err := task.Load(e.tasksPath())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			t, ok := list.Current()
			if !ok {
				fmt.Fprintln(out, "no open task")
				return nil
			}
			fmt.Fprintf(out, "%s %s [%s]\n", headerStyle.Render(t.ID), t.Title, statusStyle(string(t.Status)).Render(string(t.Status)))
			if t.Summary != "" {
				fmt.Fprintln(out, t.Summary)
			}
			for _, ac := range t.AcceptanceCriteria {
				fmt.Fprintf(out, "- %s\n", ac)
			}
			return nil
		},
	}
}

func taskStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "start <id>",
		Short:        "Mark a pending task in progress",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			id := args[0]
			_, err = task.Update(e.tasksPath(), func(l *task.TaskList) error {
				t, ok := l.Find(id)
				if !ok {
					return fmt.Errorf("task %s not found", id)
				}
				if !l.Start(id) {
					return fmt.Errorf("task %s is %s, not pending", id, t.Status)
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s in progress\n", id)
			return nil
		},
	}
}

func taskAdvanceCmd() *cobra.Command {
	var passed, failed bool
	cmd := &cobra.Command{
		Use:          "advance <id>",
		Short:        "Mark a task passed or failed",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passed == failed {
				return fmt.Errorf("exactly one of --passed or --failed is required")
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			id := args[0]
			var more bool
			_, err = task.Update(e.tasksPath(), func(l *task.TaskList) error {
				if _, ok := l.Find(id); !ok {
					return fmt.Errorf("task %s not found", id)
				}
				more = l.Advance(id, passed)
				return nil
			})
			if err != nil {
				return err
			}
			status := task.StatusPassed
			if failed {
				status = task.StatusFailed
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s %s, open tasks remain: %t\n", id, status, more)
			return nil
		},
	}
	cmd.Flags().BoolVar(&passed, "passed", false, "mark the task passed")
	cmd.Flags().BoolVar(&failed, "failed", false, "mark the task failed")
	return cmd
}
