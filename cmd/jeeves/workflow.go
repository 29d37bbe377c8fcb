package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/metalagman/jeeves/internal/run"
	"github.com/metalagman/jeeves/internal/workflow"
	"github.com/spf13/cobra"
)

func workflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect workflow definitions",
	}
	cmd.AddCommand(workflowListCmd())
	cmd.AddCommand(workflowValidateCmd())
	cmd.AddCommand(workflowShowCmd())
	cmd.AddCommand(workflowNextCmd())
	cmd.AddCommand(workflowPromptCmd())
	return cmd
}

func workflowListCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "List workflows in the workflows directory",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			loader := e.loader()
			names, err := loader.List()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no workflows in %s\n", loader.Dir)
				return nil
			}
			rows := make([][]string, 0, len(names))
			for _, name := range names {
				wf, err := loader.Load(name)
				if err != nil {
					rows = append(rows, []string{name, "", "", errStyle.Render("invalid: " + err.Error())})
					continue
				}
				rows = append(rows, []string{name, wf.Start, strconv.Itoa(len(wf.Order)), wf.Description})
			}
			renderTable(cmd.OutOrStdout(), []string{"NAME", "START", "PHASES", "DESCRIPTION"}, rows)
			return nil
		},
	}
}

func workflowValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "validate [name]",
		Short:        "Report every problem in a workflow definition",
		SilenceUsage: true,
		Args:         cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			loader := e.loader()
			path, err := loader.Path(e.workflowName(firstArg(args)))
			if err != nil {
				return err
			}
			findings, err := loader.LintFile(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range findings {
				style := warnStyle
				if f.Severity == workflow.SeverityError {
					style = errStyle
				}
				fmt.Fprintln(out, style.Render(f.String()))
			}
			if workflow.HasErrors(findings) {
				return fmt.Errorf("%s is invalid", path)
			}
			fmt.Fprintln(out, okStyle.Render(filepath.Base(path)+" is valid"))
			return nil
		},
	}
}

func workflowShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "show [name]",
		Short:        "Show the phases and transitions of a workflow",
		SilenceUsage: true,
		Args:         cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			wf, err := e.loadWorkflow(firstArg(args))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s v%d (start: %s)\n", headerStyle.Render(wf.Name), wf.Version, wf.Start)
			if wf.Description != "" {
				fmt.Fprintln(out, mutedStyle.Render(wf.Description))
			}
			rows := make([][]string, 0, len(wf.Order))
			for _, name := range wf.Order {
				p, _ := wf.Phase(name)
				rows = append(rows, []string{name, string(p.Type), wf.EffectiveModel(name), describeTransitions(p.Transitions)})
			}
			renderTable(out, []string{"PHASE", "TYPE", "MODEL", "TRANSITIONS"}, rows)
			return nil
		},
	}
}

func describeTransitions(ts []workflow.Transition) string {
	parts := make([]string, 0, len(ts))
	for _, t := range ts {
		switch {
		case t.Auto:
			parts = append(parts, t.To+" (auto)")
		case t.When != "":
			parts = append(parts, t.To+" if "+t.When)
		default:
			parts = append(parts, t.To+" (never)")
		}
	}
	return strings.Join(parts, "\n")
}

func workflowNextCmd() *cobra.Command {
	var wfName string
	cmd := &cobra.Command{
		Use:          "next [phase]",
		Short:        "Evaluate transitions against the current issue facts",
		Long:         "Evaluate the transitions of a phase (default: the issue's current phase) against issue.json and task progress without changing anything.",
		SilenceUsage: true,
		Args:         cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			wf, err := e.loadWorkflow(wfName)
			if err != nil {
				return err
			}
			view, err := run.View(e.stateDir)
			if err != nil {
				return err
			}
			phase := firstArg(args)
			if phase == "" {
				phase, _ = view["phase"].(string)
			}
			engine := workflow.NewEngine(wf)
			if !engine.HasPhase(phase) {
				return fmt.Errorf("phase %q not found in workflow %s", phase, wf.Name)
			}
			out := cmd.OutOrStdout()
			if engine.IsTerminal(phase) {
				fmt.Fprintf(out, "%s is terminal\n", phase)
				return nil
			}
			next, ok := engine.EvaluateTransitions(phase, view)
			if !ok {
				fmt.Fprintf(out, "%s: %s\n", phase, warnStyle.Render("no transition fires"))
				return nil
			}
			fmt.Fprintf(out, "%s -> %s\n", phase, okStyle.Render(next))
			return nil
		},
	}
	cmd.Flags().StringVar(&wfName, "workflow", "", "workflow name (default from issue or config)")
	return cmd
}

func workflowPromptCmd() *cobra.Command {
	var (
		wfName string
		raw    bool
	)
	cmd := &cobra.Command{
		Use:          "prompt <phase>",
		Short:        "Render the prompt of an agent phase",
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
			prompt, ok := workflow.NewEngine(wf).Prompt(args[0])
			if !ok {
				return fmt.Errorf("phase %q has no prompt", args[0])
			}
			path := prompt
			if !filepath.IsAbs(path) {
				path = filepath.Join(e.promptsDir(), prompt)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read prompt: %w", err)
			}
			if raw {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return renderMarkdown(cmd.OutOrStdout(), string(data))
		},
	}
	cmd.Flags().StringVar(&wfName, "workflow", "", "workflow name (default from issue or config)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the prompt without rendering")
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
