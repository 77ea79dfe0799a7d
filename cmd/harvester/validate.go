package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"data-harvester/pkg/storage"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without crawling",
		Long: `Validate loads the configuration exactly as crawl would, applies defaults,
and reports every warning. It exits non-zero when the configuration cannot
be used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exitCode(doValidate(readGlobalOptions(cmd), cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}
}

// doValidate is the testable implementation of the validate command
func doValidate(g globalOptions, stdout, stderr io.Writer) int {
	log, err := newLogger(g.logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	appCfg, err := loadConfig(g.configPath, g.envFile, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "INVALID: %v\n", err)
		return 1
	}
	if _, _, err := storage.ResolveDSN(appCfg.DBURL, appCfg.StateDir); err != nil {
		fmt.Fprintf(stderr, "INVALID: %v\n", err)
		return 1
	}

	if appCfg.StartURL != "" {
		fmt.Fprintf(stdout, "OK: start URL %s\n", appCfg.StartURL)
	} else {
		fmt.Fprintln(stdout, "OK: no start URL configured (pass --url to crawl)")
	}
	fmt.Fprintln(stdout, "Configuration valid")
	return 0
}
