package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"data-harvester/pkg/config"
	"data-harvester/pkg/fetch"
	"data-harvester/pkg/storage"
)

const (
	serverName    = "data-harvester"
	serverVersion = "0.4.0"

	defaultListLimit = 50
	maxListLimit     = 200
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig // Defaults for every crawl job; tool arguments override
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
	Records    storage.RecordStore // Sink for jobs and source for list/clear tools
	HTTPClient *http.Client        // nil: built from AppConfig.HTTPClientSettings
}

// Server exposes crawl jobs and the acquisition records as MCP tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
	httpClient *http.Client
	jobsWG     sync.WaitGroup
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Records == nil {
		return nil, fmt.Errorf("Records store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	log := cfg.Logger.WithField("component", "mcp")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = fetch.NewClient(cfg.AppConfig.HTTPClientSettings, log)
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        log,
		jobManager: NewJobManager(),
		httpClient: httpClient,
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	startCrawlTool := mcp.NewTool("start_crawl",
		mcp.WithDescription("Start a background crawl that downloads data files found from a start URL. Returns immediately with a job ID. Only one crawl per host runs at a time."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Absolute http(s) start URL"),
		),
		mcp.WithNumber("depth",
			mcp.Description("Maximum link depth from the start page (default from config)"),
		),
		mcp.WithNumber("concurrency",
			mcp.Description("Number of crawl workers (default from config)"),
		),
		mcp.WithNumber("per_host",
			mcp.Description("Maximum concurrent requests per host (default from config)"),
		),
		mcp.WithBoolean("enable_ai",
			mcp.Description("Blend an LLM relevance rating into page priority (requires OPENAI_API_KEY)"),
		),
		mcp.WithString("ai_model",
			mcp.Description("Chat model used when enable_ai is set"),
		),
	)
	s.mcpServer.AddTool(startCrawlTool, s.handleStartCrawl)

	getJobStatusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status, counters, recent errors and settings of a crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by start_crawl"),
		),
	)
	s.mcpServer.AddTool(getJobStatusTool, s.handleGetJobStatus)

	listJobsTool := mcp.NewTool("list_jobs",
		mcp.WithDescription("List crawl jobs started by this server, newest first"),
	)
	s.mcpServer.AddTool(listJobsTool, s.handleListJobs)

	cancelJobTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a pending or running crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by start_crawl"),
		),
	)
	s.mcpServer.AddTool(cancelJobTool, s.handleCancelJob)

	listAcquisitionsTool := mcp.NewTool("list_acquisitions",
		mcp.WithDescription("List the most recently downloaded files, newest first"),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum number of records (default: %d, max: %d)", defaultListLimit, maxListLimit)),
		),
	)
	s.mcpServer.AddTool(listAcquisitionsTool, s.handleListAcquisitions)

	clearAcquisitionsTool := mcp.NewTool("clear_acquisitions",
		mcp.WithDescription("Delete every acquisition record. Downloaded files are left on disk."),
	)
	s.mcpServer.AddTool(clearAcquisitionsTool, s.handleClearAcquisitions)

	s.log.Infof("Registered %d MCP tools", 6)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs and waits for them to unwind or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()

	done := make(chan struct{})
	go func() { s.jobsWG.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(fmt.Errorf("crawl jobs still running at shutdown"), ctx.Err())
	}
}
