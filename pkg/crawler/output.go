// FILE: pkg/crawler/output.go
package crawler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"data-harvester/pkg/config"
	"data-harvester/pkg/models"
	"data-harvester/pkg/utils"
)

// RunSummary is the YAML document written when a run finishes
type RunSummary struct {
	RunID        string            `yaml:"run_id"`
	StartURL     string            `yaml:"start_url"`
	StartTime    time.Time         `yaml:"start_time"`
	EndTime      time.Time         `yaml:"end_time"`
	Completed    bool              `yaml:"completed"` // False when the run was cancelled
	StopReason   string            `yaml:"stop_reason,omitempty"`
	Stats        models.CrawlStats `yaml:"stats"`
	ManifestFile string            `yaml:"manifest_file,omitempty"`
	RecordsInRun int               `yaml:"records_in_run"`
	Settings     summarySettings   `yaml:"settings"`
}

type summarySettings struct {
	MaxDepth           int     `yaml:"max_depth"`
	MaxConcurrency     int     `yaml:"max_concurrency"`
	PerHostConcurrency int     `yaml:"per_host_concurrency"`
	DelayPerHost       string  `yaml:"delay_per_host,omitempty"`
	EnableAI           bool    `yaml:"enable_ai"`
	AIModel            string  `yaml:"ai_model,omitempty"`
	MaxFileSizeKB      int64   `yaml:"max_file_size_kb"`
	MaxRetries         int     `yaml:"max_retries"`
	BackoffBaseSeconds float64 `yaml:"backoff_base_seconds"`
}

// manifestEntry is one JSONL line: the record plus the file's content hash
type manifestEntry struct {
	models.AcquisitionRecord
	SHA256 string `json:"sha256,omitempty"`
}

// Manifest writes one run's acquisitions as JSON lines and a YAML summary at
// the end. A nil *Manifest is valid and writes nothing.
type Manifest struct {
	log       *logrus.Entry
	runID     string
	dir       string
	startTime time.Time

	jsonlFile     *os.File
	jsonlFileMu   sync.Mutex
	jsonlFilePath string
	records       int
}

// OpenManifest creates <dir>/manifest-<runID>.jsonl. When the file cannot be
// created the error is logged and nil is returned, disabling manifest output.
func OpenManifest(dir, runID string, log *logrus.Entry) *Manifest {
	path := filepath.Join(dir, fmt.Sprintf("manifest-%s.jsonl", runID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Errorf("Failed to create manifest file '%s': %v. Manifest output will be disabled.", path, err)
		return nil
	}
	log.Infof("Manifest enabled. Output file: %s", path)
	return &Manifest{
		log:           log,
		runID:         runID,
		dir:           dir,
		startTime:     time.Now(),
		jsonlFile:     file,
		jsonlFilePath: path,
	}
}

// RecordAcquisition appends rec, with the SHA-256 of the file at localPath, as one JSON line
func (m *Manifest) RecordAcquisition(rec models.AcquisitionRecord, localPath string, taskLog *logrus.Entry) {
	if m == nil {
		return
	}
	entry := manifestEntry{AcquisitionRecord: rec}
	if sum, err := utils.CalculateFileSHA256(localPath); err != nil {
		taskLog.Warnf("Failed to hash '%s' for manifest: %v", localPath, err)
	} else {
		entry.SHA256 = sum
	}

	m.jsonlFileMu.Lock()
	defer m.jsonlFileMu.Unlock()

	if m.jsonlFile == nil {
		return
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		taskLog.WithField("manifest_file", m.jsonlFilePath).Errorf("Failed to marshal acquisition to JSON: %v", err)
		return
	}
	if _, err := m.jsonlFile.Write(append(jsonBytes, '\n')); err != nil {
		taskLog.WithField("manifest_file", m.jsonlFilePath).Errorf("Failed to write to manifest file: %v", err)
		return
	}
	m.records++
}

// Path returns the JSONL file path
func (m *Manifest) Path() string {
	if m == nil {
		return ""
	}
	return m.jsonlFilePath
}

// SummaryPath returns where Close writes the YAML summary
func (m *Manifest) SummaryPath() string {
	if m == nil {
		return ""
	}
	return filepath.Join(m.dir, fmt.Sprintf("run-%s.yaml", m.runID))
}

// Close syncs and closes the JSONL file, then writes the run summary.
func (m *Manifest) Close(stats models.CrawlStats, settings config.CrawlSettings, runErr error) error {
	if m == nil {
		return nil
	}

	m.jsonlFileMu.Lock()
	if m.jsonlFile != nil {
		if err := m.jsonlFile.Sync(); err != nil {
			m.log.Errorf("Error syncing manifest file '%s': %v", m.jsonlFilePath, err)
		}
		if err := m.jsonlFile.Close(); err != nil {
			m.log.Errorf("Error closing manifest file '%s': %v", m.jsonlFilePath, err)
		}
		m.jsonlFile = nil
	}
	records := m.records
	m.jsonlFileMu.Unlock()

	summary := RunSummary{
		RunID:        m.runID,
		StartURL:     settings.StartURL,
		StartTime:    m.startTime,
		EndTime:      time.Now(),
		Completed:    runErr == nil,
		Stats:        stats,
		ManifestFile: filepath.Base(m.jsonlFilePath),
		RecordsInRun: records,
		Settings: summarySettings{
			MaxDepth:           settings.MaxDepth,
			MaxConcurrency:     settings.MaxConcurrency,
			PerHostConcurrency: settings.PerHostConcurrency,
			EnableAI:           settings.EnableAI,
			AIModel:            settings.AIModel,
			MaxFileSizeKB:      settings.MaxFileSizeKB,
			MaxRetries:         settings.MaxRetries,
			BackoffBaseSeconds: settings.BackoffBase.Seconds(),
		},
	}
	if settings.DelayPerHost > 0 {
		summary.Settings.DelayPerHost = settings.DelayPerHost.String()
	}
	if runErr != nil {
		summary.StopReason = runErr.Error()
	}

	yamlData, err := yaml.Marshal(&summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary to YAML for run '%s': %w", m.runID, err)
	}
	path := m.SummaryPath()
	if err := os.WriteFile(path, yamlData, 0644); err != nil {
		return fmt.Errorf("failed to write run summary '%s': %w", path, err)
	}
	m.log.Infof("Wrote run summary (%d acquisitions) to %s", records, path)
	return nil
}
