package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/metalagman/jeeves/internal/issue"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var (
		repo      string
		number    int
		title     string
		url       string
		branch    string
		wfName    string
		designDoc string
		force     bool
	)
	cmd := &cobra.Command{
		Use:          "init",
		Short:        "Create the issue state file for a new workflow run",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			if _, err := os.Stat(e.issuePath()); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", e.issuePath())
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("stat issue state: %w", err)
			}

			name := wfName
			if name == "" {
				name = e.cfg.Workflow
			}
			wf, err := e.loader().Load(name)
			if err != nil {
				return err
			}

			f, err := issue.New(issue.Params{
				Repo:          repo,
				Issue:         issue.Ref{Number: number, Title: title, URL: url},
				Branch:        branch,
				Workflow:      wf.Name,
				Phase:         wf.Start,
				DesignDocPath: designDoc,
			})
			if err != nil {
				return err
			}
			if err := issue.Save(e.issuePath(), f); err != nil {
				return err
			}
			log.Info().Str("issue", issue.Label(f)).Str("workflow", wf.Name).Str("phase", wf.Start).Msg("issue initialized")
			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s at phase %s (%s)\n", issue.Label(f), wf.Start, e.issuePath())
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "repository as owner/name")
	cmd.Flags().IntVar(&number, "issue", 0, "issue number")
	cmd.Flags().StringVar(&title, "title", "", "issue title")
	cmd.Flags().StringVar(&url, "url", "", "issue URL")
	cmd.Flags().StringVar(&branch, "branch", "", "working branch (default issue/<number>)")
	cmd.Flags().StringVar(&wfName, "workflow", "", "workflow name (default from config)")
	cmd.Flags().StringVar(&designDoc, "design-doc", "", "path of the design document")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing issue state")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("issue")
	return cmd
}
