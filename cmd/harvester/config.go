package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"data-harvester/pkg/config"
)

// newLogger builds the process logger. Logs go to out so stdout stays free
// for command output and the MCP protocol.
func newLogger(level string, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level '%s': %w", level, err)
	}
	log.SetLevel(lvl)
	return log, nil
}

// loadConfig reads defaults, the YAML file, the .env file and the environment.
// Environment warnings are logged; Validate is left to the caller so flag
// overrides can be applied first.
func loadConfig(configPath, envFile string, log *logrus.Logger) (*config.AppConfig, error) {
	if configPath != "" {
		log.Infof("Loading configuration from %s", configPath)
	}
	appCfg, envWarnings, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, err
	}
	for _, w := range envWarnings {
		log.Warn(w)
	}
	return appCfg, nil
}

// validateConfig applies defaults and logs the resulting warnings
func validateConfig(appCfg *config.AppConfig, log *logrus.Logger) error {
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	return err
}

// logAppConfig logs the effective configuration. The API key is never logged.
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Config: Depth:%d, Workers:%d, PerHost:%d, DelayPerHost:%v",
		appCfg.MaxDepth, appCfg.MaxConcurrency, appCfg.PerHostConcurrency, appCfg.DelayPerHost)
	log.Infof("Config: OutputDir:%s, StateDir:%s, DB:%s",
		appCfg.OutputDir, appCfg.StateDir, dbLabel(appCfg.DBURL))
	log.Infof("Config Downloads: MaxFileSize:%dKB, Retries:%d, BackoffBase:%v, RequestTimeout:%v",
		appCfg.MaxFileSizeKB, appCfg.MaxRetries, appCfg.BackoffBase, appCfg.RequestTimeout)
	log.Infof("Config AI: Enabled:%t, Model:%s, KeySet:%t",
		appCfg.EnableAI, appCfg.AIModel, appCfg.AIAPIKey != "")
	log.Debugf("Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}

// dbLabel names the record database without echoing credentials
func dbLabel(dbURL string) string {
	if dbURL == "" {
		return "sqlite (state_dir)"
	}
	if strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}
