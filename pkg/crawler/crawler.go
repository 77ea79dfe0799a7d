// FILE: pkg/crawler/crawler.go
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"data-harvester/pkg/config"
	"data-harvester/pkg/fetch"
	"data-harvester/pkg/metrics"
	"data-harvester/pkg/models"
	"data-harvester/pkg/parse"
	"data-harvester/pkg/process"
	"data-harvester/pkg/queue"
	"data-harvester/pkg/score"
	"data-harvester/pkg/storage"
	"data-harvester/pkg/utils"
)

const (
	defaultProgressInterval = 30 * time.Second
	recordTimeout           = 10 * time.Second
)

// Deps are the collaborators injected into a Crawler. Every field is optional.
type Deps struct {
	Client *http.Client       // nil: a client is built from the settings
	Judge  score.Judge        // nil: pages are scored heuristically
	Sink   storage.RecordSink // nil: acquisitions are only logged
}

// Options toggle per-run side outputs
type Options struct {
	WriteVisitedLog  bool          // <output>/visited-<run_id>.txt
	WriteManifest    bool          // <output>/manifest-<run_id>.jsonl and run-<run_id>.yaml
	ProgressInterval time.Duration // 0 = 30s
}

// Crawler runs prioritized crawls with a fixed set of settings. Each call to
// Run owns its own queue, visited set and host limits, so a Crawler can be
// reused for several sequential runs.
type Crawler struct {
	log      *logrus.Entry
	settings config.CrawlSettings
	client   *http.Client
	scorer   *score.Scorer
	sink     storage.RecordSink
	opts     Options

	current atomic.Pointer[statsTracker] // Tracker of the latest run, for live status
}

// New creates a Crawler. settings is expected to be validated already; the
// few values that would break the scheduler are still clamped here.
func New(settings config.CrawlSettings, deps Deps, opts Options, log *logrus.Entry) *Crawler {
	if settings.MaxConcurrency < 1 {
		log.Warnf("max_concurrency %d is invalid, using 1", settings.MaxConcurrency)
		settings.MaxConcurrency = 1
	}
	if settings.MaxDepth < 0 {
		settings.MaxDepth = 0
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}

	client := deps.Client
	if client == nil {
		client = fetch.NewClient(config.DefaultHTTPClientConfig(settings.PerHostConcurrency), log)
	}

	metrics.Init()

	return &Crawler{
		log:      log,
		settings: settings,
		client:   client,
		scorer:   score.NewScorer(deps.Judge, settings.RequestTimeout, log),
		sink:     deps.Sink,
		opts:     opts,
	}
}

// Settings returns the settings every run of this crawler uses
func (c *Crawler) Settings() config.CrawlSettings { return c.settings }

// Stats returns a snapshot of the latest run's counters. It is safe to call
// while Run is in progress; before the first run it returns zero stats.
func (c *Crawler) Stats() models.CrawlStats {
	tracker := c.current.Load()
	if tracker == nil {
		return models.CrawlStats{RecentErrors: []string{}}
	}
	return tracker.snapshot()
}

// run is the state of one Run invocation
type run struct {
	id       string
	log      *logrus.Entry
	settings config.CrawlSettings
	opts     Options

	pq         *queue.ThreadSafePriorityQueue
	store      storage.VisitedStore
	limiter    *fetch.HostLimiter
	pages      *fetch.PageFetcher
	downloader *fetch.Downloader
	scorer     *score.Scorer
	sink       storage.RecordSink
	manifest   *Manifest

	stats     *statsTracker
	wg        sync.WaitGroup // One count per queued or in-flight item
	processed atomic.Int64
}

// Run crawls from startURL (the configured start URL when empty) until every
// reachable item within the depth bound has been processed or ctx is done.
// It returns the stats gathered so far together with ctx.Err().
func (c *Crawler) Run(ctx context.Context, startURL string) (models.CrawlStats, error) {
	if startURL == "" {
		startURL = c.settings.StartURL
	}
	if err := config.ValidateStartURL(startURL); err != nil {
		return models.CrawlStats{}, err
	}
	seed, _, err := parse.ParseAndNormalize(startURL)
	if err != nil {
		return models.CrawlStats{}, fmt.Errorf("%w: %w", utils.ErrConfigValidation, err)
	}

	if err := os.MkdirAll(c.settings.OutputDir, 0755); err != nil {
		return models.CrawlStats{}, fmt.Errorf("%w: create output dir '%s': %w", utils.ErrFilesystem, c.settings.OutputDir, err)
	}

	r, err := c.newRun(seed)
	if err != nil {
		return models.CrawlStats{}, err
	}
	c.current.Store(r.stats)

	return r.execute(ctx, seed)
}

func (c *Crawler) newRun(seed string) (*run, error) {
	id := uuid.NewString()
	runLog := c.log.WithField("run_id", id)

	store, err := storage.NewBadgerStore(runLog)
	if err != nil {
		return nil, fmt.Errorf("open visited store: %w", err)
	}

	s := c.settings
	s.StartURL = seed
	limiter := fetch.NewHostLimiter(s.PerHostConcurrency, s.DelayPerHost, runLog)

	r := &run{
		id:       id,
		log:      runLog,
		settings: s,
		opts:     c.opts,
		pq:       queue.NewThreadSafePriorityQueue(runLog),
		store:    store,
		limiter:  limiter,
		pages: fetch.NewPageFetcher(c.client, limiter, fetch.PageOptions{
			UserAgent: s.UserAgent,
			Timeout:   s.RequestTimeout,
			MaxBytes:  s.MaxPageSizeBytes,
		}, runLog),
		downloader: fetch.NewDownloader(c.client, limiter, fetch.DownloadOptions{
			Timeout:     s.RequestTimeout,
			MaxSizeKB:   s.MaxFileSizeKB,
			MaxRetries:  s.MaxRetries,
			BackoffBase: s.BackoffBase,
			UserAgent:   s.UserAgent,
		}, runLog),
		scorer: c.scorer,
		sink:   c.sink,
		stats:  &statsTracker{},
	}

	if c.opts.WriteManifest {
		r.manifest = OpenManifest(s.OutputDir, id, runLog)
	}
	return r, nil
}

// execute seeds the queue, runs the workers and blocks until the queue drains
// or ctx is cancelled.
func (r *run) execute(ctx context.Context, seed string) (models.CrawlStats, error) {
	runLogFields := logrus.Fields{"start_url": seed, "max_depth": r.settings.MaxDepth}
	r.log.WithFields(runLogFields).Infof("Crawl starting with %d worker(s)...", r.settings.MaxConcurrency)
	if r.settings.RespectRobots {
		r.log.Debug("respect_robots is set; robots.txt is not consulted by this crawler")
	}
	if r.scorer.HasJudge() {
		r.log.WithField("ai_model", r.settings.AIModel).Info("AI relevance scoring enabled")
	}
	startTime := time.Now()

	// Seed before the waiter starts so the WaitGroup never observes zero early
	r.wg.Add(1)
	r.pq.Add(models.QueueItem{URL: seed, Depth: 0, Priority: 0})

	g, workerCtx := errgroup.WithContext(ctx)
	for i := 1; i <= r.settings.MaxConcurrency; i++ {
		workerLog := r.log.WithField("worker_id", i)
		g.Go(func() error {
			r.worker(workerCtx, workerLog)
			return nil
		})
	}

	waiterDone := make(chan struct{})
	go func() {
		defer close(waiterDone)

		progTicker := time.NewTicker(r.opts.ProgressInterval)
		progDone := make(chan struct{})
		defer func() {
			progTicker.Stop()
			close(progDone)
		}()
		go func() {
			for {
				select {
				case <-progDone:
					return
				case <-progTicker.C:
					pqLen := r.pq.Len()
					metrics.SetQueueDepth(pqLen)
					stats := r.stats.snapshot()
					r.log.WithFields(logrus.Fields{
						"visited":          r.store.VisitedCount(),
						"queue_len":        pqLen,
						"processed_items":  r.processed.Load(),
						"fetched_pages":    stats.FetchedPages,
						"downloaded_files": stats.DownloadedFiles,
						"errors":           stats.Errors,
					}).Info("Crawl Progress")
				}
			}
		}()

		tasksDone := make(chan struct{})
		go func() { r.wg.Wait(); close(tasksDone) }()
		select {
		case <-tasksDone:
			r.log.Debug("Waiter: all queued items processed")
		case <-ctx.Done():
			r.log.Warnf("Waiter: context cancelled (%v), shutting down", ctx.Err())
		}

		abandoned := r.pq.Close()
		for range abandoned {
			r.wg.Done()
		}
		if abandoned > 0 {
			r.log.Infof("Waiter: abandoned %d queued item(s)", abandoned)
		}
	}()

	_ = g.Wait()
	<-waiterDone
	metrics.SetQueueDepth(0)

	stats := r.stats.snapshot()
	r.finish(stats, ctx.Err())

	summaryLog := r.log.WithFields(logrus.Fields{"start_url": seed})
	summaryLog.Info("========================================================================")
	summaryLog.Info("CRAWL FINISHED")
	summaryLog.Infof("Duration:         %v", time.Since(startTime))
	summaryLog.Infof("Final Stats: Fetched Pages: %d, Downloaded Files: %d, Errors: %d, Processed Items: %d",
		stats.FetchedPages, stats.DownloadedFiles, stats.Errors, r.processed.Load())
	summaryLog.Info("========================================================================")

	return stats, ctx.Err()
}

// finish writes the optional side outputs and releases the visited store
func (r *run) finish(stats models.CrawlStats, runErr error) {
	if r.opts.WriteVisitedLog {
		path := filepath.Join(r.settings.OutputDir, fmt.Sprintf("visited-%s.txt", r.id))
		if err := r.store.WriteVisitedLog(path); err != nil {
			r.log.Errorf("Failed to write visited log: %v", err)
		} else {
			r.log.Infof("Visited log written to %s", path)
		}
	}
	if r.manifest != nil {
		if err := r.manifest.Close(stats, r.settings, runErr); err != nil {
			r.log.Errorf("Failed to write run summary: %v", err)
		}
	}
	if err := r.store.Close(); err != nil {
		r.log.Errorf("Failed to close visited store: %v", err)
	}
}

// worker pops items until the queue is closed
func (r *run) worker(ctx context.Context, workerLog *logrus.Entry) {
	workerLog.Debug("Worker starting")
	defer workerLog.Debug("Worker finished")

	for {
		item, ok := r.pq.Pop()
		if !ok {
			return
		}
		r.processItem(ctx, item, workerLog)
	}
}

// processItem fetches one page, scores it and dispatches its links.
func (r *run) processItem(ctx context.Context, item models.QueueItem, workerLog *logrus.Entry) {
	taskLog := workerLog.WithFields(logrus.Fields{"url": item.URL, "depth": item.Depth})
	outcome := models.OutcomeUnset

	defer func() {
		if rec := recover(); rec != nil {
			outcome = models.OutcomeFailure
			taskLog.WithFields(logrus.Fields{
				"panic_info":  rec,
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in processItem")
			r.stats.addError(fmt.Sprintf("panic processing %s: %v", item.URL, rec))
			metrics.ObserveError("Internal_Panic")
		}
		if outcome != models.OutcomeUnset {
			metrics.ObservePage(outcome.String())
		}
		r.processed.Add(1)
		r.wg.Done()
	}()

	if ctx.Err() != nil {
		return
	}

	first, err := r.store.MarkPageVisited(item.URL)
	if err != nil {
		outcome = models.OutcomeFailure
		r.recordError(taskLog, err)
		return
	}
	if !first {
		outcome = models.OutcomeSkipped
		taskLog.Trace("Already visited, skipping")
		return
	}

	html, err := r.pages.FetchHTML(ctx, item.URL)
	if err != nil {
		if ctx.Err() != nil {
			taskLog.Debugf("Fetch abandoned on shutdown: %v", err)
			return
		}
		outcome = models.OutcomeFailure
		r.recordError(taskLog, err)
		return
	}
	r.stats.fetchedPages.Add(1)
	outcome = models.OutcomeSuccess

	pageScore := r.scorer.Score(ctx, html, item.URL)
	taskLog = taskLog.WithField("score", pageScore.Value)

	base, err := url.Parse(item.URL)
	if err != nil {
		r.recordError(taskLog, fmt.Errorf("%w: URL '%s': %w", utils.ErrParsing, item.URL, err))
		return
	}
	links, err := process.ExtractLinksFromHTML(html, base)
	if err != nil {
		r.recordError(taskLog, err)
		return
	}
	downloads, pages := process.SplitLinks(links)
	taskLog.Debugf("Page fetched: %d page link(s), %d artifact link(s)", len(pages), len(downloads))

	r.enqueuePages(item, pages, pageScore.Value, taskLog)
	for _, link := range downloads {
		if ctx.Err() != nil {
			return
		}
		r.handleDownload(ctx, item, link, pageScore, taskLog)
	}
}

// enqueuePages queues unvisited page links one level deeper, at the
// discovering page's score.
func (r *run) enqueuePages(item models.QueueItem, pages []string, priority float64, taskLog *logrus.Entry) {
	nextDepth := item.Depth + 1
	if nextDepth > r.settings.MaxDepth {
		if len(pages) > 0 {
			taskLog.Tracef("Max depth reached, not following %d page link(s)", len(pages))
		}
		return
	}

	for _, link := range pages {
		visited, err := r.store.IsPageVisited(link)
		if err != nil {
			taskLog.WithField("link", link).Warnf("Visited check failed, skipping link: %v", err)
			continue
		}
		if visited {
			continue
		}
		r.wg.Add(1)
		if !r.pq.Add(models.QueueItem{URL: link, Depth: nextDepth, Priority: priority}) {
			r.wg.Done() // Queue closed during shutdown
			return
		}
	}
}

// handleDownload downloads one artifact link, at most once per run.
func (r *run) handleDownload(ctx context.Context, item models.QueueItem, link string, pageScore score.Score, taskLog *logrus.Entry) {
	dlLog := taskLog.WithField("file_url", link)

	claimed, err := r.store.MarkFileClaimed(link)
	if err != nil {
		r.recordError(dlLog, err)
		return
	}
	if !claimed {
		dlLog.Trace("Artifact already claimed in this run")
		metrics.ObserveDownload(metrics.StatusSkipped, 0, 0)
		return
	}

	start := time.Now()
	res, err := r.downloader.Download(ctx, link, r.settings.OutputDir)
	if err != nil {
		if ctx.Err() != nil {
			dlLog.Debugf("Download abandoned on shutdown: %v", err)
			return
		}
		status := metrics.StatusFailure
		if errors.Is(err, utils.ErrTooLarge) {
			status = metrics.StatusTooLarge
		}
		metrics.ObserveDownload(status, 0, time.Since(start))
		r.recordError(dlLog, err)
		return
	}
	metrics.ObserveDownload(metrics.StatusSuccess, res.Bytes, time.Since(start))
	r.stats.downloadedFiles.Add(1)

	rec := models.AcquisitionRecord{
		URL:         link,
		FileName:    filepath.Base(res.Path),
		Depth:       item.Depth + 1,
		ContentType: res.ContentType,
		FileSizeKB:  res.SizeKB,
		AIScore:     pageScore.AI,
		Timestamp:   time.Now().UTC(),
	}
	dlLog.WithFields(logrus.Fields{
		"file_name": rec.FileName,
		"size_kb":   rec.FileSizeKB,
		"attempts":  res.Attempts,
	}).Info("Artifact downloaded")

	if r.manifest != nil {
		r.manifest.RecordAcquisition(rec, res.Path, dlLog)
	}
	if r.sink == nil {
		return
	}
	// The file is on disk; record it even if shutdown has begun
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.sink.Record(recordCtx, rec); err != nil {
		dlLog.WithField("error_category", utils.CategorizeError(err)).Errorf("Failed to record acquisition: %v", err)
		r.stats.noteRecent(fmt.Sprintf("record %s: %v", link, err))
	}
}

// recordError counts an item-local failure once: counter, recent errors,
// metrics and one log line.
func (r *run) recordError(log *logrus.Entry, err error) {
	category := utils.CategorizeError(err)
	r.stats.addError(err.Error())
	metrics.ObserveError(category)
	log.WithField("error_category", category).Warnf("Item failed: %v", err)
}
