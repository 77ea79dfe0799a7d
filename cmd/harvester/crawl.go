package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"data-harvester/pkg/config"
	"data-harvester/pkg/crawler"
	"data-harvester/pkg/fetch"
	"data-harvester/pkg/metrics"
	"data-harvester/pkg/score"
	"data-harvester/pkg/storage"
)

// gracePeriod bounds how long a signalled crawl may take to unwind
const gracePeriod = 30 * time.Second

// crawlOptions holds the crawl command's flags. Only flags the user set
// (changed reports true) override the loaded configuration.
type crawlOptions struct {
	globalOptions

	url             string
	depth           int
	concurrency     int
	perHost         int
	output          string
	enableAI        bool
	aiModel         string
	metricsAddr     string
	pprofAddr       string
	writeVisitedLog bool
	manifest        bool

	changed func(name string) bool
}

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl from a start URL and download data files",
		Long: `Crawl starts at --url (or start_url from the config), follows links up to
--depth hops, visiting the most promising pages first, and downloads every
linked data file once.

Examples:
  # Crawl two levels deep with defaults
  harvester crawl --url https://example.org/data

  # Blend an LLM rating into page priority (needs OPENAI_API_KEY)
  harvester crawl --url https://example.org/data --enable-ai --ai-model gpt-4o-mini

  # Expose Prometheus metrics while crawling
  harvester crawl --url https://example.org/data --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := crawlOptions{globalOptions: readGlobalOptions(cmd), changed: cmd.Flags().Changed}
			flags := cmd.Flags()
			opts.url, _ = flags.GetString("url")
			opts.depth, _ = flags.GetInt("depth")
			opts.concurrency, _ = flags.GetInt("concurrency")
			opts.perHost, _ = flags.GetInt("per-host")
			opts.output, _ = flags.GetString("output")
			opts.enableAI, _ = flags.GetBool("enable-ai")
			opts.aiModel, _ = flags.GetString("ai-model")
			opts.metricsAddr, _ = flags.GetString("metrics-addr")
			opts.pprofAddr, _ = flags.GetString("pprof")
			opts.writeVisitedLog, _ = flags.GetBool("write-visited-log")
			opts.manifest, _ = flags.GetBool("manifest")

			ctx, stop := signalContext(cmd.Context(), cmd.ErrOrStderr())
			defer stop()
			return exitCode(doCrawl(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}

	defaults := config.Default()
	cmd.Flags().StringP("url", "u", "", "Start URL (overrides start_url / START_URL)")
	cmd.Flags().IntP("depth", "d", defaults.MaxDepth, "Maximum link depth from the start page (0-3 recommended)")
	cmd.Flags().IntP("concurrency", "n", defaults.MaxConcurrency, "Number of crawl workers")
	cmd.Flags().Int("per-host", defaults.PerHostConcurrency, "Maximum concurrent requests per host")
	cmd.Flags().StringP("output", "o", defaults.OutputDir, "Directory for downloaded files")
	cmd.Flags().Bool("enable-ai", false, "Blend an LLM relevance rating into page priority")
	cmd.Flags().String("ai-model", defaults.AIModel, "Chat model used with --enable-ai")
	cmd.Flags().String("metrics-addr", "", "Address for the Prometheus /metrics endpoint (empty to disable)")
	cmd.Flags().String("pprof", "", "Address for the pprof HTTP server, e.g. localhost:6060 (empty to disable)")
	cmd.Flags().Bool("write-visited-log", false, "Write every URL claimed in the run to <output>/visited-<run_id>.txt")
	cmd.Flags().Bool("manifest", false, "Write <output>/manifest-<run_id>.jsonl and run-<run_id>.yaml")

	return cmd
}

// apply copies the flags the user set onto appCfg
func (o crawlOptions) apply(appCfg *config.AppConfig) {
	changed := o.changed
	if changed == nil {
		changed = func(string) bool { return false }
	}
	if o.url != "" {
		appCfg.StartURL = o.url
	}
	if changed("depth") {
		appCfg.MaxDepth = o.depth
	}
	if changed("concurrency") {
		appCfg.MaxConcurrency = o.concurrency
	}
	if changed("per-host") {
		appCfg.PerHostConcurrency = o.perHost
	}
	if changed("output") {
		appCfg.OutputDir = o.output
	}
	if changed("enable-ai") {
		appCfg.EnableAI = o.enableAI
	}
	if changed("ai-model") {
		appCfg.AIModel = o.aiModel
	}
}

// doCrawl is the testable implementation of the crawl command
func doCrawl(ctx context.Context, opts crawlOptions, stdout, stderr io.Writer) int {
	log, err := newLogger(opts.logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	appCfg, err := loadConfig(opts.configPath, opts.envFile, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	opts.apply(appCfg)
	if err := validateConfig(appCfg, log); err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	if appCfg.StartURL == "" {
		fmt.Fprintln(stderr, "Error: a start URL is required (--url, start_url or START_URL)")
		return 1
	}
	logAppConfig(appCfg, log)

	startDebugServers(opts.pprofAddr, opts.metricsAddr, log)

	records, err := storage.OpenRecordStore(context.WithoutCancel(ctx), appCfg.DBURL, appCfg.StateDir, log.WithField("component", "records"))
	if err != nil {
		fmt.Fprintf(stderr, "Error opening acquisition database: %v\n", err)
		return 1
	}
	defer func() {
		if err := records.Close(); err != nil {
			log.Errorf("Failed to close acquisition database: %v", err)
		}
	}()

	settings := appCfg.CrawlSettings("")
	crawlLog := log.WithField("component", "crawler")
	judge := score.NewJudge(settings.EnableAI, score.OpenAIConfig{
		Model:   settings.AIModel,
		APIKey:  appCfg.AIAPIKey,
		BaseURL: appCfg.AIBaseURL,
		Timeout: settings.RequestTimeout,
	}, crawlLog)

	c := crawler.New(settings, crawler.Deps{
		Client: fetch.NewClient(appCfg.HTTPClientSettings, crawlLog),
		Judge:  judge,
		Sink:   records,
	}, crawler.Options{
		WriteVisitedLog: opts.writeVisitedLog,
		WriteManifest:   opts.manifest,
	}, crawlLog)

	stats, err := c.Run(ctx, settings.StartURL)

	fmt.Fprintf(stdout, "Fetched pages: %d\nDownloaded files: %d\nErrors: %d\n",
		stats.FetchedPages, stats.DownloadedFiles, stats.Errors)

	switch {
	case err == nil:
		log.Info("Crawl completed successfully.")
		return 0
	case errors.Is(err, context.Canceled):
		log.Warn("Crawl cancelled gracefully.")
		return 0
	default:
		log.Errorf("Crawl finished with error: %v", err)
		return 1
	}
}

// signalContext cancels the returned context on SIGINT or SIGTERM. A second
// signal, or a crawl that has not unwound within gracePeriod, forces exit.
func signalContext(parent context.Context, stderr io.Writer) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigChan:
			fmt.Fprintf(stderr, "Received signal: %v. Initiating graceful shutdown...\n", sig)
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigChan:
			fmt.Fprintf(stderr, "Received second signal: %v. Forcing exit.\n", sig)
			os.Exit(1)
		case <-time.After(gracePeriod):
			fmt.Fprintln(stderr, "Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		close(done)
		cancel()
	}
}

// startDebugServers starts the optional pprof and metrics listeners. They live
// until the process exits.
func startDebugServers(pprofAddr, metricsAddr string, log *logrus.Logger) {
	if pprofAddr != "" {
		runtime.SetBlockProfileRate(1000)
		runtime.SetMutexProfileFraction(1000)
		go func() {
			log.Infof("Starting pprof HTTP server on: http://%s/debug/pprof/", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				log.Errorf("Pprof server failed on %s: %v", pprofAddr, err)
			}
		}()
	}

	if metricsAddr != "" {
		metrics.Init()
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			log.Infof("Serving metrics on: http://%s/metrics", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Errorf("Metrics server failed on %s: %v", metricsAddr, err)
			}
		}()
	}
}
