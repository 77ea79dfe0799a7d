package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"data-harvester/pkg/storage"
)

const (
	defaultRecordsLimit = 50
	maxRecordsLimit     = 200
)

// NewRecordsCmd creates the records command and its list/clear subcommands.
func NewRecordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect or clear the acquisition records",
		Args:  cobra.NoArgs,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent downloads, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")
			return exitCode(doRecordsList(cmd.Context(), readGlobalOptions(cmd), limit, asJSON, cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}
	list.Flags().IntP("limit", "l", defaultRecordsLimit, fmt.Sprintf("Maximum number of records (max %d)", maxRecordsLimit))
	list.Flags().BoolP("json", "j", false, "Print records as JSON")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every acquisition record (downloaded files are kept)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exitCode(doRecordsClear(cmd.Context(), readGlobalOptions(cmd), cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}

	cmd.AddCommand(list, clearCmd)
	return cmd
}

// openRecords loads the configuration and opens the acquisition database it names
func openRecords(ctx context.Context, g globalOptions, stderr io.Writer) (*storage.SQLRecordStore, bool) {
	log, err := newLogger(g.logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, false
	}
	appCfg, err := loadConfig(g.configPath, g.envFile, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return nil, false
	}
	if err := validateConfig(appCfg, log); err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return nil, false
	}
	records, err := storage.OpenRecordStore(ctx, appCfg.DBURL, appCfg.StateDir, log.WithField("component", "records"))
	if err != nil {
		fmt.Fprintf(stderr, "Error opening acquisition database: %v\n", err)
		return nil, false
	}
	return records, true
}

// doRecordsList is the testable implementation of records list
func doRecordsList(ctx context.Context, g globalOptions, limit int, asJSON bool, stdout, stderr io.Writer) int {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = defaultRecordsLimit
	}
	if limit > maxRecordsLimit {
		limit = maxRecordsLimit
	}

	records, ok := openRecords(ctx, g, stderr)
	if !ok {
		return 1
	}
	defer records.Close()

	recs, err := records.Latest(ctx, limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error listing records: %v\n", err)
		return 1
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(recs); err != nil {
			fmt.Fprintf(stderr, "Error encoding records: %v\n", err)
			return 1
		}
		return 0
	}

	if len(recs) == 0 {
		fmt.Fprintln(stdout, "No acquisition records.")
		return 0
	}
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIMESTAMP\tFILE\tSIZE_KB\tDEPTH\tAI_SCORE\tURL")
	for _, rec := range recs {
		ai := "-"
		if rec.AIScore != nil {
			ai = fmt.Sprintf("%.1f", *rec.AIScore)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%d\t%s\t%s\n",
			rec.ID, rec.Timestamp.Format(time.RFC3339), rec.FileName, rec.FileSizeKB, rec.Depth, ai, rec.URL)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(stderr, "Error writing records: %v\n", err)
		return 1
	}
	return 0
}

// doRecordsClear is the testable implementation of records clear
func doRecordsClear(ctx context.Context, g globalOptions, stdout, stderr io.Writer) int {
	if ctx == nil {
		ctx = context.Background()
	}
	records, ok := openRecords(ctx, g, stderr)
	if !ok {
		return 1
	}
	defer records.Close()

	deleted, err := records.Clear(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error clearing records: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Deleted %d acquisition record(s).\n", deleted)
	return 0
}
