package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/metalagman/jeeves/internal/facts"
	"github.com/metalagman/jeeves/internal/issue"
	"github.com/metalagman/jeeves/internal/run"
	"github.com/spf13/cobra"
)

func factsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Read and edit issue facts",
	}
	cmd.AddCommand(factsGetCmd())
	cmd.AddCommand(factsSetCmd())
	return cmd
}

func factsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "get [path]",
		Short:        "Print a fact by dotted path, or all facts",
		Long:         "Print a fact by dotted path. Derived task progress is available under tasks.*.",
		SilenceUsage: true,
		Args:         cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			view, err := run.View(e.stateDir)
			if err != nil {
				return err
			}
			var value any = view
			if len(args) == 1 {
				value = view.Lookup(args[0])
			}
			if s, ok := value.(string); ok {
				fmt.Fprintln(cmd.OutOrStdout(), s)
				return nil
			}
			data, err := json.MarshalIndent(value, "", "  ")
			if err != nil {
				return fmt.Errorf("encode fact: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func factsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set a fact by dotted path",
		Long: "Set a fact by dotted path. The value is parsed as JSON when possible (true, 3, {\"a\":1}) " +
			"and stored as a string otherwise.",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == run.TasksKey || strings.HasPrefix(args[0], run.TasksKey+".") {
				return fmt.Errorf("%s.* facts are derived from the task list", run.TasksKey)
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			f, err := e.loadIssue()
			if err != nil {
				return err
			}
			f.Set(args[0], facts.ParseValue(args[1]))
			if err := issue.Save(e.issuePath(), f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], facts.Stringify(f.Lookup(args[0])))
			return nil
		},
	}
}
