package config

import "time"

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	DefaultAIModel   = "gpt-4o-mini"
	// RecommendedMaxDepth is the largest depth the CLI accepts without a warning
	RecommendedMaxDepth = 3
)

// AppConfig holds the application configuration as read from YAML and the environment.
// Secrets are never read from YAML.
type AppConfig struct {
	StartURL           string           `yaml:"start_url,omitempty"`
	MaxDepth           int              `yaml:"max_depth"`
	MaxConcurrency     int              `yaml:"max_concurrency"`
	PerHostConcurrency int              `yaml:"per_host_concurrency"`
	DelayPerHost       time.Duration    `yaml:"delay_per_host,omitempty"` // 0 = no politeness spacing
	OutputDir          string           `yaml:"output_dir"`
	StateDir           string           `yaml:"state_dir"`        // Holds acquisition.db when DBURL is empty
	DBURL              string           `yaml:"db_url,omitempty"` // sqlite://, file: or postgres://
	EnableAI           bool             `yaml:"enable_ai"`
	AIModel            string           `yaml:"ai_model"`
	AIBaseURL          string           `yaml:"ai_base_url,omitempty"` // OpenAI-compatible endpoint override
	AIAPIKey           string           `yaml:"-"`                     // OPENAI_API_KEY only
	RequestTimeout     time.Duration    `yaml:"request_timeout"`
	UserAgent          string           `yaml:"user_agent"`
	RespectRobots      bool             `yaml:"respect_robots"`
	MaxFileSizeKB      int64            `yaml:"max_file_size_kb"`
	MaxRetries         int              `yaml:"max_retries"`
	BackoffBase        time.Duration    `yaml:"backoff_base"`
	MaxPageSizeBytes   int64            `yaml:"max_page_size_bytes"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall cap; 0 leaves per-request timeouts in charge
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// Default returns the configuration used when nothing else is specified.
// YAML is decoded on top of it, so absent keys keep these values.
func Default() AppConfig {
	return AppConfig{
		MaxDepth:           2,
		MaxConcurrency:     8,
		PerHostConcurrency: 2,
		OutputDir:          "downloads",
		StateDir:           ".",
		AIModel:            DefaultAIModel,
		RequestTimeout:     20 * time.Second,
		UserAgent:          DefaultUserAgent,
		RespectRobots:      true,
		MaxFileSizeKB:      51200,
		MaxRetries:         3,
		BackoffBase:        500 * time.Millisecond,
		MaxPageSizeBytes:   10 << 20,
	}
}

// CrawlSettings is the resolved, per-run view of the configuration handed to the crawler.
// It is passed by value and never modified after construction.
type CrawlSettings struct {
	StartURL           string
	MaxDepth           int
	MaxConcurrency     int
	PerHostConcurrency int
	DelayPerHost       time.Duration
	OutputDir          string
	EnableAI           bool
	AIModel            string
	RequestTimeout     time.Duration
	UserAgent          string
	RespectRobots      bool
	MaxFileSizeKB      int64
	MaxRetries         int
	BackoffBase        time.Duration
	MaxPageSizeBytes   int64
}

// CrawlSettings resolves the settings for one run. A non-empty startURL
// overrides the configured start_url.
func (c *AppConfig) CrawlSettings(startURL string) CrawlSettings {
	if startURL == "" {
		startURL = c.StartURL
	}
	return CrawlSettings{
		StartURL:           startURL,
		MaxDepth:           c.MaxDepth,
		MaxConcurrency:     c.MaxConcurrency,
		PerHostConcurrency: c.PerHostConcurrency,
		DelayPerHost:       c.DelayPerHost,
		OutputDir:          c.OutputDir,
		EnableAI:           c.EnableAI,
		AIModel:            c.AIModel,
		RequestTimeout:     c.RequestTimeout,
		UserAgent:          c.UserAgent,
		RespectRobots:      c.RespectRobots,
		MaxFileSizeKB:      c.MaxFileSizeKB,
		MaxRetries:         c.MaxRetries,
		BackoffBase:        c.BackoffBase,
		MaxPageSizeBytes:   c.MaxPageSizeBytes,
	}
}
