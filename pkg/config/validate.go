package config

import (
	"fmt"
	"net/url"
	"time"

	"data-harvester/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.MaxDepth < 0 {
		warnings = append(warnings, "max_depth cannot be negative, setting to 0")
		c.MaxDepth = 0
	}
	if c.MaxDepth > RecommendedMaxDepth {
		warnings = append(warnings, fmt.Sprintf(
			"max_depth %d is above the recommended %d; the crawl may grow quickly",
			c.MaxDepth, RecommendedMaxDepth))
	}

	if c.MaxConcurrency <= 0 {
		warnings = append(warnings, "max_concurrency should be > 0, defaulting to 8")
		c.MaxConcurrency = 8
	}

	if c.PerHostConcurrency <= 0 {
		warnings = append(warnings, "per_host_concurrency should be > 0, defaulting to 2")
		c.PerHostConcurrency = 2
	}

	if c.DelayPerHost < 0 {
		warnings = append(warnings, "delay_per_host cannot be negative, disabling politeness delay")
		c.DelayPerHost = 0
	}

	if c.OutputDir == "" {
		warnings = append(warnings, "output_dir is empty, defaulting to 'downloads'")
		c.OutputDir = "downloads"
	}

	if c.StateDir == "" {
		c.StateDir = "."
	}

	if c.AIModel == "" {
		c.AIModel = DefaultAIModel
	}
	if c.EnableAI && c.AIAPIKey == "" {
		warnings = append(warnings, "enable_ai is true but OPENAI_API_KEY is not set; pages will be scored heuristically")
	}

	if c.RequestTimeout <= 0 {
		warnings = append(warnings, "request_timeout should be > 0, defaulting to 20s")
		c.RequestTimeout = 20 * time.Second
	}

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	if c.MaxFileSizeKB <= 0 {
		warnings = append(warnings, "max_file_size_kb should be > 0, defaulting to 51200")
		c.MaxFileSizeKB = 51200
	}

	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}

	if c.BackoffBase < 0 {
		warnings = append(warnings, "backoff_base cannot be negative, setting to 0")
		c.BackoffBase = 0
	}

	if c.MaxPageSizeBytes <= 0 {
		c.MaxPageSizeBytes = 10 << 20
	}

	c.validateHTTPClientSettings()

	// The only fatal condition: a start URL that is present but unusable
	if c.StartURL != "" {
		if err := ValidateStartURL(c.StartURL); err != nil {
			return warnings, err
		}
	}

	return warnings, nil
}

// ValidateStartURL checks that raw is an absolute http(s) URL with a host.
func ValidateStartURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: start URL '%s': %w", utils.ErrConfigValidation, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: start URL '%s' must be an absolute http(s) URL", utils.ErrConfigValidation, raw)
	}
	return nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout < 0 {
		h.Timeout = 0
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = c.PerHostConcurrency
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// DefaultHTTPClientConfig returns HTTP client settings with every default applied.
func DefaultHTTPClientConfig(perHost int) HTTPClientConfig {
	c := AppConfig{PerHostConcurrency: perHost}
	if c.PerHostConcurrency <= 0 {
		c.PerHostConcurrency = 2
	}
	c.validateHTTPClientSettings()
	return c.HTTPClientSettings
}
