package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/metalagman/jeeves/internal/git"
	"github.com/metalagman/jeeves/internal/sandbox"
	"github.com/spf13/cobra"
)

func checkWritesCmd() *cobra.Command {
	var (
		wfName    string
		phaseName string
	)
	cmd := &cobra.Command{
		Use:          "check-writes [files...]",
		Short:        "Check changed files against a phase's allowed writes",
		Long:         "Check files against the allowed_writes patterns of a phase. Without file arguments the uncommitted git changes are checked.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			wf, err := e.loadWorkflow(wfName)
			if err != nil {
				return err
			}
			phase, ok := wf.Phase(phaseName)
			if !ok {
				return fmt.Errorf("phase %q not found in workflow %s", phaseName, wf.Name)
			}
			changed := args
			if len(changed) == 0 {
				if changed, err = git.ChangedFiles(cmd.Context(), e.workDir); err != nil {
					return err
				}
			}
			reserved := sandbox.ReservedDir
			if rel, err := filepath.Rel(e.workDir, e.stateDir); err == nil && !strings.HasPrefix(rel, "..") {
				reserved = filepath.ToSlash(rel)
			}
			violations := sandbox.NewChecker(reserved).Violations(changed, phase.AllowedWrites)
			out := cmd.OutOrStdout()
			if len(violations) == 0 {
				fmt.Fprintf(out, "%s %d file(s) allowed for %s\n", okStyle.Render("ok"), len(changed), phase.Name)
				return nil
			}
			for _, v := range violations {
				fmt.Fprintln(out, errStyle.Render("disallowed: ")+v)
			}
			return fmt.Errorf("%d file(s) outside allowed writes of %s", len(violations), phase.Name)
		},
	}
	cmd.Flags().StringVar(&wfName, "workflow", "", "workflow name (default from issue or config)")
	cmd.Flags().StringVar(&phaseName, "phase", "", "phase whose allowed writes apply")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}
