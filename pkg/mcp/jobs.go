package mcp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"data-harvester/pkg/config"
	"data-harvester/pkg/models"
)

// JobStatus represents the current state of a crawl job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsActive reports whether a job with this status still owns its host
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Job represents a background crawl job
type Job struct {
	ID           string               `json:"id"`
	Host         string               `json:"host"`
	StartURL     string               `json:"start_url"`
	Status       JobStatus            `json:"status"`
	StartedAt    time.Time            `json:"started_at"`
	CompletedAt  time.Time            `json:"completed_at,omitempty"`
	Stats        models.CrawlStats    `json:"stats"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Settings     config.CrawlSettings `json:"-"`

	// Internal fields
	ctx    context.Context
	cancel context.CancelFunc
	live   func() models.CrawlStats // Live counters while the crawl runs
}

// JobManager manages background crawl jobs. At most one active job exists
// per start-URL host.
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	byhost map[string]string // host -> jobID for active jobs
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		byhost: make(map[string]string),
	}
}

// CreateJob creates a pending job for host, or returns the job already active for it.
func (m *JobManager) CreateJob(host string, settings config.CrawlSettings) (job *Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingJobID, exists := m.byhost[host]; exists {
		existingJob := m.jobs[existingJobID]
		if existingJob != nil && existingJob.Status.IsActive() {
			return existingJob, false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job = &Job{
		ID:        uuid.New().String(),
		Host:      host,
		StartURL:  settings.StartURL,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		Stats:     models.CrawlStats{RecentErrors: []string{}},
		Settings:  settings,
		ctx:       ctx,
		cancel:    cancel,
	}

	m.jobs[job.ID] = job
	m.byhost[host] = job.ID

	return job, true
}

// Snapshot returns a copy of a job, with live stats when it is running
func (m *JobManager) Snapshot(jobID string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return Job{}, false
	}
	snap := *job
	if job.Status.IsActive() && job.live != nil {
		snap.Stats = job.live()
	}
	return snap, true
}

// GetJobByHost returns a copy of the active job for host
func (m *JobManager) GetJobByHost(host string) (Job, bool) {
	m.mu.RLock()
	jobID, exists := m.byhost[host]
	m.mu.RUnlock()
	if !exists {
		return Job{}, false
	}
	return m.Snapshot(jobID)
}

// IsRunning checks if a job is currently active for a host
func (m *JobManager) IsRunning(host string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.byhost[host]; exists {
		job := m.jobs[jobID]
		return job != nil && job.Status.IsActive()
	}
	return false
}

// UpdateStatus updates the status of a job. A cancelled job stays cancelled.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return
	}
	if job.Status == JobStatusCancelled && status != JobStatusCancelled {
		return
	}
	job.Status = status
	if !status.IsActive() {
		if job.CompletedAt.IsZero() {
			job.CompletedAt = time.Now()
		}
		job.cancel()
		m.releaseHost(job)
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
}

// AttachStats sets the live stats source consulted while the job runs
func (m *JobManager) AttachStats(jobID string, live func() models.CrawlStats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists {
		job.live = live
	}
}

// UpdateStats stores the final counters of a job
func (m *JobManager) UpdateStats(jobID string, stats models.CrawlStats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists {
		job.Stats = stats
	}
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists && job.Status.IsActive() {
		job.cancel()
		job.Status = JobStatusCancelled
		job.CompletedAt = time.Now()
		m.releaseHost(job)
		return true
	}
	return false
}

// CancelAll cancels all active jobs
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Status.IsActive() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.byhost = make(map[string]string)
}

// ListJobs returns copies of all jobs, newest first
func (m *JobManager) ListJobs() []Job {
	m.mu.RLock()
	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := m.Snapshot(id); ok {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	return jobs
}

// GetContext returns the context for a job (for running the crawler)
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, exists := m.jobs[jobID]; exists {
		return job.ctx
	}
	return context.Background()
}

// releaseHost frees job's host slot if job still holds it. Caller holds mu.
func (m *JobManager) releaseHost(job *Job) {
	if m.byhost[job.Host] == job.ID {
		delete(m.byhost, job.Host)
	}
}
