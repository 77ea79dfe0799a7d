package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// Load builds an AppConfig from defaults, an optional YAML file, an optional
// .env file and the process environment, in that order of precedence (lowest first).
// Validate is not called; the caller applies flag overrides first.
func Load(configPath, dotEnvPath string) (*AppConfig, []string, error) {
	cfg, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, err
	}

	if err := LoadDotEnv(dotEnvPath); err != nil {
		return nil, nil, err
	}

	warnings := cfg.ApplyEnv(os.LookupEnv)
	return cfg, warnings, nil
}

// LoadFile decodes a YAML config on top of Default(). An empty path returns the defaults.
func LoadFile(path string) (*AppConfig, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file '%s': %w", path, err)
	}
	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file '%s': %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. Malformed values are
// reported as warnings and leave the current value in place.
func (c *AppConfig) ApplyEnv(lookup LookupFunc) (warnings []string) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("ignoring %s=%q: not an integer", key, v))
			return
		}
		*dst = n
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("ignoring %s=%q: not a boolean", key, v))
			return
		}
		*dst = b
	}
	seconds := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := parseSeconds(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("ignoring %s=%q: %v", key, v, err))
			return
		}
		*dst = d
	}

	str("START_URL", &c.StartURL)
	integer("MAX_DEPTH", &c.MaxDepth)
	integer("MAX_CONCURRENCY", &c.MaxConcurrency)
	integer("PER_HOST_CONCURRENCY", &c.PerHostConcurrency)
	seconds("DELAY_PER_HOST_SECONDS", &c.DelayPerHost)
	str("OUTPUT_DIR", &c.OutputDir)
	str("STATE_DIR", &c.StateDir)
	str("DB_URL", &c.DBURL)
	boolean("ENABLE_AI", &c.EnableAI)
	str("AI_MODEL", &c.AIModel)
	str("OPENAI_API_KEY", &c.AIAPIKey)
	str("OPENAI_BASE_URL", &c.AIBaseURL)
	seconds("REQUEST_TIMEOUT_SECONDS", &c.RequestTimeout)
	str("USER_AGENT", &c.UserAgent)
	boolean("RESPECT_ROBOTS", &c.RespectRobots)
	integer("MAX_RETRIES", &c.MaxRetries)
	seconds("BACKOFF_BASE_SECONDS", &c.BackoffBase)

	if v, ok := lookup("MAX_FILE_SIZE_KB"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("ignoring MAX_FILE_SIZE_KB=%q: not an integer", v))
		} else {
			c.MaxFileSizeKB = n
		}
	}

	return warnings
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

// parseSeconds accepts a plain number of seconds ("0.5") or a Go duration ("500ms").
func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("must be a non-negative number of seconds")
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("not a number of seconds or a duration")
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}
