package models

import "time"

// RecentErrorLimit bounds CrawlStats.RecentErrors.
const RecentErrorLimit = 5

// QueueItem is one unit of pending crawl work. Priority is inherited from the
// score of the page that discovered URL; higher is served first.
type QueueItem struct {
	URL      string
	Depth    int
	Priority float64
}

// CrawlStats is a snapshot of a run's counters
type CrawlStats struct {
	FetchedPages    int64    `json:"fetched_pages" yaml:"fetched_pages"`
	DownloadedFiles int64    `json:"downloaded_files" yaml:"downloaded_files"`
	Errors          int64    `json:"errors" yaml:"errors"`
	RecentErrors    []string `json:"recent_errors" yaml:"recent_errors"` // Oldest first, at most RecentErrorLimit
}

// AcquisitionRecord describes one successfully downloaded artifact.
// It is created once per download and never mutated afterwards.
type AcquisitionRecord struct {
	ID          int64     `json:"id,omitempty"` // Assigned by the record store
	URL         string    `json:"url"`
	FileName    string    `json:"file_name"`
	Depth       int       `json:"depth"`
	ContentType string    `json:"content_type,omitempty"`
	FileSizeKB  float64   `json:"file_size_kb"`
	AIScore     *float64  `json:"ai_score,omitempty"` // AI component of the discovering page's score
	Timestamp   time.Time `json:"timestamp"`
}
