package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for harvester.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Prioritized crawler that discovers and downloads data files",
		Long: `harvester crawls outward from a start URL, scores every page for how likely
it is to lead to datasets, and downloads linked data files (CSV, JSON,
spreadsheets, archives and similar) into an output directory. Every download
is recorded in an acquisition database (SQLite by default, Postgres via DB_URL).

Configuration is read from defaults, an optional YAML file, an optional .env
file and the environment, in that order; command flags override all of them.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Path to YAML config file (optional)")
	cmd.PersistentFlags().String("env-file", ".env", "Path to a .env file (ignored when missing)")
	cmd.PersistentFlags().String("loglevel", "info", "Log level (trace, debug, info, warn, error)")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewRecordsCmd())
	cmd.AddCommand(NewMcpServerCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command and exits with its status.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitError carries a process exit code out of a RunE
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// exitCode turns the result of a doX function into a RunE error. The doX
// functions print their own diagnostics, so only the status travels.
func exitCode(code int) error {
	if code == 0 {
		return nil
	}
	return exitError{code: code}
}

// globalOptions are the persistent flags shared by every subcommand
type globalOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func readGlobalOptions(cmd *cobra.Command) globalOptions {
	flags := cmd.Flags()
	var g globalOptions
	g.configPath, _ = flags.GetString("config")
	g.envFile, _ = flags.GetString("env-file")
	g.logLevel, _ = flags.GetString("loglevel")
	return g
}
