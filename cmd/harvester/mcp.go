package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"data-harvester/pkg/mcp"
	"data-harvester/pkg/storage"
)

// mcpShutdownTimeout bounds how long running crawl jobs get to unwind on exit
const mcpShutdownTimeout = 10 * time.Second

// NewMcpServerCmd creates the mcp-server command.
func NewMcpServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve crawl jobs and acquisition records as MCP tools",
		Long: `Start an MCP (Model Context Protocol) server for AI tool integration.

Available MCP Tools:
  start_crawl         Start a background crawl (one per host)
  get_job_status      Status, counters and recent errors of a job
  list_jobs           Jobs started by this server, newest first
  cancel_job          Cancel a running job
  list_acquisitions   Most recent downloads, newest first
  clear_acquisitions  Delete every acquisition record

Examples:
  # Start with stdio transport (for desktop MCP clients)
  harvester mcp-server --config harvester.yaml

  # Start with SSE transport on port 8080
  harvester mcp-server --transport sse --port 8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			transport, _ := cmd.Flags().GetString("transport")
			port, _ := cmd.Flags().GetInt("port")
			return exitCode(doMcpServer(readGlobalOptions(cmd), transport, port, cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}

	cmd.Flags().StringP("transport", "t", "stdio", "Transport type (stdio, sse)")
	cmd.Flags().IntP("port", "p", 8080, "HTTP port (for sse transport)")

	return cmd
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(g globalOptions, transport string, port int, stdout, stderr io.Writer) int {
	// MCP protocol uses stdout, logs go to stderr
	log, err := newLogger(g.logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid log level: %s\n", g.logLevel)
		return 1
	}

	if transport != "stdio" && transport != "sse" {
		fmt.Fprintf(stderr, "Unknown transport: %s (supported: stdio, sse)\n", transport)
		return 1
	}

	appCfg, err := loadConfig(g.configPath, g.envFile, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	if err := validateConfig(appCfg, log); err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}

	records, err := storage.OpenRecordStore(context.Background(), appCfg.DBURL, appCfg.StateDir, log.WithField("component", "records"))
	if err != nil {
		fmt.Fprintf(stderr, "Error opening acquisition database: %v\n", err)
		return 1
	}
	defer records.Close()

	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: g.configPath,
		Transport:  transport,
		Port:       port,
		Logger:     log,
		Records:    records,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	log.Infof("Starting MCP server (transport: %s)", transport)
	runErr := server.Run()

	ctx, cancel := context.WithTimeout(context.Background(), mcpShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warnf("MCP shutdown: %v", err)
	}

	if runErr != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", runErr)
		return 1
	}
	return 0
}
