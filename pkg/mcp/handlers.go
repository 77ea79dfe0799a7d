package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"data-harvester/pkg/config"
	"data-harvester/pkg/crawler"
	"data-harvester/pkg/score"
)

// handleStartCrawl handles the start_crawl tool
func (s *Server) handleStartCrawl(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	startURL := strings.TrimSpace(request.GetString("url", ""))
	if startURL == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}

	settings, warnings, err := s.jobSettings(startURL, request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	host := hostKey(settings.StartURL)

	if existing, ok := s.jobManager.GetJobByHost(host); ok {
		result := map[string]interface{}{
			"status":  "already_running",
			"message": "A crawl is already in progress for this host",
			"job_id":  existing.ID,
			"host":    host,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	job, created := s.jobManager.CreateJob(host, settings)
	if !created {
		result := map[string]interface{}{
			"status":  "already_running",
			"message": "A crawl is already in progress for this host",
			"job_id":  job.ID,
			"host":    host,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	s.jobsWG.Add(1)
	go s.runCrawlJob(job.ID, host, settings)

	result := map[string]interface{}{
		"status":   "started",
		"message":  "Crawl started successfully",
		"job_id":   job.ID,
		"host":     host,
		"settings": settingsView(settings),
	}
	if len(warnings) > 0 {
		result["warnings"] = warnings
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// jobSettings resolves the settings for one job: server config, then tool arguments.
func (s *Server) jobSettings(startURL string, request mcp.CallToolRequest) (config.CrawlSettings, []string, error) {
	cfg := *s.cfg.AppConfig
	cfg.StartURL = startURL

	args := request.GetArguments()
	if _, ok := args["depth"]; ok {
		cfg.MaxDepth = request.GetInt("depth", cfg.MaxDepth)
	}
	if _, ok := args["concurrency"]; ok {
		cfg.MaxConcurrency = request.GetInt("concurrency", cfg.MaxConcurrency)
	}
	if _, ok := args["per_host"]; ok {
		cfg.PerHostConcurrency = request.GetInt("per_host", cfg.PerHostConcurrency)
	}
	if _, ok := args["enable_ai"]; ok {
		cfg.EnableAI = request.GetBool("enable_ai", cfg.EnableAI)
	}
	if model := strings.TrimSpace(request.GetString("ai_model", "")); model != "" {
		cfg.AIModel = model
	}

	warnings, err := cfg.Validate()
	if err != nil {
		return config.CrawlSettings{}, nil, err
	}
	return cfg.CrawlSettings(startURL), warnings, nil
}

// runCrawlJob runs a crawl job in the background
func (s *Server) runCrawlJob(jobID, host string, settings config.CrawlSettings) {
	defer s.jobsWG.Done()
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")

	jobCtx := s.jobManager.GetContext(jobID)
	jobLog := s.log.WithFields(logrus.Fields{"job_id": jobID, "host": host})

	judge := score.NewJudge(settings.EnableAI, score.OpenAIConfig{
		Model:   settings.AIModel,
		APIKey:  s.cfg.AppConfig.AIAPIKey,
		BaseURL: s.cfg.AppConfig.AIBaseURL,
		Timeout: settings.RequestTimeout,
	}, jobLog)

	c := crawler.New(settings, crawler.Deps{
		Client: s.httpClient,
		Judge:  judge,
		Sink:   s.cfg.Records,
	}, crawler.Options{}, jobLog)
	s.jobManager.AttachStats(jobID, c.Stats)

	stats, err := c.Run(jobCtx, settings.StartURL)
	s.jobManager.UpdateStats(jobID, stats)

	switch {
	case errors.Is(err, context.Canceled):
		s.jobManager.UpdateStatus(jobID, JobStatusCancelled, "")
	case err != nil:
		jobLog.Errorf("Crawl job failed: %v", err)
		s.jobManager.UpdateStatus(jobID, JobStatusFailed, err.Error())
	default:
		s.jobManager.UpdateStatus(jobID, JobStatusCompleted, "")
	}
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job, ok := s.jobManager.Snapshot(jobID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	return mcp.NewToolResultText(formatJSON(jobView(job))), nil
}

// handleListJobs handles the list_jobs tool
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs := s.jobManager.ListJobs()
	views := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, jobView(job))
	}
	result := map[string]interface{}{
		"jobs":  views,
		"total": len(views),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job, ok := s.jobManager.Snapshot(jobID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}
	if !s.jobManager.CancelJob(jobID) {
		result := map[string]interface{}{
			"job_id":  jobID,
			"status":  job.Status,
			"message": "Job is not running",
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	result := map[string]interface{}{
		"job_id":  jobID,
		"status":  JobStatusCancelled,
		"message": "Cancellation requested",
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListAcquisitions handles the list_acquisitions tool
func (s *Server) handleListAcquisitions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := clampLimit(request.GetInt("limit", defaultListLimit))

	records, err := s.cfg.Records.Latest(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list acquisitions: %v", err)), nil
	}

	result := map[string]interface{}{
		"records": records,
		"count":   len(records),
		"limit":   limit,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleClearAcquisitions handles the clear_acquisitions tool
func (s *Server) handleClearAcquisitions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deleted, err := s.cfg.Records.Clear(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to clear acquisitions: %v", err)), nil
	}
	s.log.Infof("Cleared %d acquisition record(s)", deleted)

	result := map[string]interface{}{
		"status":  "cleared",
		"deleted": deleted,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// clampLimit applies the list_acquisitions default and cap
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// hostKey returns the lowercased host[:port] of a validated start URL
func hostKey(startURL string) string {
	u, err := url.Parse(startURL)
	if err != nil {
		return strings.ToLower(startURL)
	}
	return strings.ToLower(u.Host)
}

func jobView(job Job) map[string]interface{} {
	view := map[string]interface{}{
		"job_id":        job.ID,
		"host":          job.Host,
		"start_url":     job.StartURL,
		"status":        job.Status,
		"started_at":    job.StartedAt.Format(time.RFC3339),
		"stats":         job.Stats,
		"recent_errors": job.Stats.RecentErrors,
		"settings":      settingsView(job.Settings),
	}
	if !job.CompletedAt.IsZero() {
		view["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		view["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		view["error_message"] = job.ErrorMessage
	}
	return view
}

// settingsView lists the effective settings of a job without secrets
func settingsView(s config.CrawlSettings) map[string]interface{} {
	return map[string]interface{}{
		"start_url":            s.StartURL,
		"max_depth":            s.MaxDepth,
		"max_concurrency":      s.MaxConcurrency,
		"per_host_concurrency": s.PerHostConcurrency,
		"output_dir":           s.OutputDir,
		"enable_ai":            s.EnableAI,
		"ai_model":             s.AIModel,
		"request_timeout_s":    s.RequestTimeout.Seconds(),
		"max_file_size_kb":     s.MaxFileSizeKB,
		"max_retries":          s.MaxRetries,
		"backoff_base_s":       s.BackoffBase.Seconds(),
	}
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
