package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/metalagman/jeeves/internal/config"
	"github.com/metalagman/jeeves/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var defaultConfigPath = filepath.Join(config.DefaultStateDir, "config.json")

func newRootCmd() *cobra.Command {
	var (
		debug     bool
		logFormat string
	)
	rootCmd := &cobra.Command{
		Use:           "jeeves",
		Short:         "jeeves drives an issue through a declarative agent workflow",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Init(logging.Options{Debug: debug, Format: logFormat, Out: cmd.ErrOrStderr()})
		},
	}
	rootCmd.PersistentFlags().String("config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatConsole, "log output format (console or json)")
	rootCmd.PersistentFlags().String("state-dir", "", "issue state directory (default .jeeves)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(scriptCmd())
	rootCmd.AddCommand(checkWritesCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(factsCmd())
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := newRootCmd()
	if err := bindFlags(rootCmd); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func bindFlags(rootCmd *cobra.Command) error {
	viper.SetEnvPrefix("JEEVES")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		return fmt.Errorf("bind config flag: %w", err)
	}
	if err := viper.BindPFlag("state_dir", rootCmd.PersistentFlags().Lookup("state-dir")); err != nil {
		return fmt.Errorf("bind state-dir flag: %w", err)
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
}
