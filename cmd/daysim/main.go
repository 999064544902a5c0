package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "daysim",
		Short: "Per-agent daily activity simulator",
		Long: `daysim plans the daily activities of a synthetic town, one agent at a
time: sleep, work, school, shopping, exercise and social outings, with
supervision of children and health-driven cancellations.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newValidateCmd(),
		newInspectCmd(),
	)
	return rootCmd
}

// setupLogging installs a text slog handler on stdout. flagLevel wins over
// cfgLevel when set.
func setupLogging(cmd *cobra.Command, cfgLevel string) error {
	level := cfgLevel
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		level = v
	}
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
			return fmt.Errorf("log level %q: %w", level, err)
		}
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return nil
}
