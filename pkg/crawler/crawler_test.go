package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-harvester/pkg/config"
	"data-harvester/pkg/models"
	"data-harvester/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testSettings(t *testing.T, maxDepth int) config.CrawlSettings {
	t.Helper()
	return config.CrawlSettings{
		MaxDepth:           maxDepth,
		MaxConcurrency:     4,
		PerHostConcurrency: 2,
		OutputDir:          t.TempDir(),
		RequestTimeout:     5 * time.Second,
		UserAgent:          "harvester-test/1.0",
		MaxFileSizeKB:      1024,
		MaxRetries:         0,
		BackoffBase:        time.Millisecond,
		MaxPageSizeBytes:   1 << 20,
	}
}

// memorySink collects records; err, when set, is returned from every Record call
type memorySink struct {
	mu      sync.Mutex
	records []models.AcquisitionRecord
	err     error
}

func (s *memorySink) Record(_ context.Context, rec models.AcquisitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) all() []models.AcquisitionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AcquisitionRecord, len(s.records))
	copy(out, s.records)
	return out
}

// site serves HTML pages and CSV files from maps and counts GETs per path
type site struct {
	pages map[string]string // path -> HTML
	files map[string]string // path -> body

	mu   sync.Mutex
	hits map[string]int
}

func newSite(pages, files map[string]string) *site {
	return &site{pages: pages, files: files, hits: make(map[string]int)}
}

func (s *site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
	}
	if html, ok := s.pages[r.URL.Path]; ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, html)
		return
	}
	if body, ok := s.files[r.URL.Path]; ok {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, body)
		return
	}
	http.NotFound(w, r)
}

func (s *site) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func links(hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, h, h)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newTestCrawler(t *testing.T, settings config.CrawlSettings, srv *httptest.Server, deps Deps, opts Options) *Crawler {
	t.Helper()
	if deps.Client == nil {
		deps.Client = srv.Client()
	}
	return New(settings, deps, opts, testLogger())
}

func TestRun_DownloadsArtifactAndRespectsDepth(t *testing.T) {
	s := newSite(map[string]string{
		"/data":  links("/report.csv", "/about"),
		"/about": links("/deep"),
		"/deep":  links(),
	}, map[string]string{
		"/report.csv": "year,value\n2024,1\n",
	})
	srv := httptest.NewServer(s)
	defer srv.Close()

	settings := testSettings(t, 1)
	sink := &memorySink{}
	c := newTestCrawler(t, settings, srv, Deps{Sink: sink}, Options{})

	stats, err := c.Run(context.Background(), srv.URL+"/data")
	require.NoError(t, err)

	assert.EqualValues(t, 2, stats.FetchedPages, "seed and /about are fetched")
	assert.EqualValues(t, 1, stats.DownloadedFiles)
	assert.EqualValues(t, 0, stats.Errors)
	assert.Empty(t, stats.RecentErrors)

	assert.Equal(t, 1, s.hitCount("/about"))
	assert.Equal(t, 0, s.hitCount("/deep"), "links of a max-depth page are not followed")

	records := sink.all()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, srv.URL+"/report.csv", rec.URL)
	assert.Equal(t, "report.csv", rec.FileName)
	assert.Equal(t, 1, rec.Depth)
	assert.Equal(t, "text/csv", rec.ContentType)
	assert.Nil(t, rec.AIScore)
	assert.False(t, rec.Timestamp.IsZero())

	data, err := os.ReadFile(filepath.Join(settings.OutputDir, "report.csv"))
	require.NoError(t, err)
	assert.Equal(t, "year,value\n2024,1\n", string(data))

	assert.Equal(t, stats, c.Stats())
}

func TestRun_DepthZeroFetchesOnlySeed(t *testing.T) {
	s := newSite(map[string]string{
		"/":  links("/a", "/b"),
		"/a": links(),
		"/b": links(),
	}, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	c := newTestCrawler(t, testSettings(t, 0), srv, Deps{}, Options{})
	stats, err := c.Run(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	assert.EqualValues(t, 1, stats.FetchedPages)
	assert.Equal(t, 0, s.hitCount("/a"))
	assert.Equal(t, 0, s.hitCount("/b"))
}

func TestRun_EachPageFetchedOnceUnderConcurrentDiscovery(t *testing.T) {
	const n = 12
	pages := make(map[string]string)
	var all []string
	for i := 0; i < n; i++ {
		all = append(all, fmt.Sprintf("/p%d", i))
	}
	all = append(all, "/shared")
	for _, p := range all {
		pages[p] = links(all...) // Every page links to every page
	}
	pages["/"] = links(all...)

	s := newSite(pages, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	settings := testSettings(t, 3)
	settings.MaxConcurrency = 8
	settings.PerHostConcurrency = 8
	c := newTestCrawler(t, settings, srv, Deps{}, Options{})

	stats, err := c.Run(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	assert.EqualValues(t, n+2, stats.FetchedPages)
	for _, p := range append(all, "/") {
		assert.Equal(t, 1, s.hitCount(p), "page %s", p)
	}
}

func TestRun_ArtifactDownloadedOncePerRun(t *testing.T) {
	s := newSite(map[string]string{
		"/":  links("/a", "/b", "/dataset.csv"),
		"/a": links("/dataset.csv"),
		"/b": links("/dataset.csv", "/dataset.csv#part"),
	}, map[string]string{
		"/dataset.csv": "a,b\n1,2\n",
	})
	srv := httptest.NewServer(s)
	defer srv.Close()

	sink := &memorySink{}
	settings := testSettings(t, 1)
	c := newTestCrawler(t, settings, srv, Deps{Sink: sink}, Options{})

	stats, err := c.Run(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	assert.EqualValues(t, 1, stats.DownloadedFiles)
	assert.Equal(t, 1, s.hitCount("/dataset.csv"))
	assert.Len(t, sink.all(), 1)

	entries, err := os.ReadDir(settings.OutputDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dataset.csv", entries[0].Name())
}

func TestRun_FetchFailuresAreCountedNotFatal(t *testing.T) {
	s := newSite(map[string]string{
		"/":   links("/missing", "/ok", "/gone.csv"),
		"/ok": links(),
	}, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	c := newTestCrawler(t, testSettings(t, 1), srv, Deps{}, Options{})
	stats, err := c.Run(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	assert.EqualValues(t, 2, stats.FetchedPages)
	assert.EqualValues(t, 0, stats.DownloadedFiles)
	assert.EqualValues(t, 2, stats.Errors, "one failed page, one failed download")
	assert.Len(t, stats.RecentErrors, 2)
}

func TestRun_SeedFailureEndsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestCrawler(t, testSettings(t, 2), srv, Deps{}, Options{})
	stats, err := c.Run(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	assert.EqualValues(t, 0, stats.FetchedPages)
	assert.EqualValues(t, 1, stats.Errors)
	require.Len(t, stats.RecentErrors, 1)
	assert.Contains(t, stats.RecentErrors[0], "status 500")
}

func TestRun_SinkFailureDoesNotFailDownload(t *testing.T) {
	s := newSite(map[string]string{
		"/": links("/x.json"),
	}, map[string]string{
		"/x.json": `{"a":1}`,
	})
	srv := httptest.NewServer(s)
	defer srv.Close()

	sink := &memorySink{err: errors.New("database is locked")}
	c := newTestCrawler(t, testSettings(t, 1), srv, Deps{Sink: sink}, Options{})

	stats, err := c.Run(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	assert.EqualValues(t, 1, stats.DownloadedFiles)
	assert.EqualValues(t, 0, stats.Errors)
	require.Len(t, stats.RecentErrors, 1)
	assert.Contains(t, stats.RecentErrors[0], "database is locked")
}

// panicJudge panics on every page
type panicJudge struct{}

func (panicJudge) Judge(context.Context, string) (float64, bool) {
	panic("judge exploded")
}

func TestRun_PanicIsRecoveredAndCounted(t *testing.T) {
	s := newSite(map[string]string{
		"/":  links("/a"),
		"/a": links(),
	}, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	c := newTestCrawler(t, testSettings(t, 1), srv, Deps{Judge: panicJudge{}}, Options{})

	stats, err := c.Run(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	assert.EqualValues(t, 1, stats.FetchedPages, "the seed was fetched before the panic")
	assert.EqualValues(t, 1, stats.Errors)
	require.Len(t, stats.RecentErrors, 1)
	assert.Contains(t, stats.RecentErrors[0], "judge exploded")
}

type fixedJudge struct{ value float64 }

func (j fixedJudge) Judge(context.Context, string) (float64, bool) { return j.value, true }

func TestRun_RecordCarriesAIScore(t *testing.T) {
	s := newSite(map[string]string{
		"/": links("/r.csv"),
	}, map[string]string{
		"/r.csv": "x\n",
	})
	srv := httptest.NewServer(s)
	defer srv.Close()

	sink := &memorySink{}
	settings := testSettings(t, 1)
	settings.EnableAI = true
	c := newTestCrawler(t, settings, srv, Deps{Judge: fixedJudge{value: 90}, Sink: sink}, Options{})

	_, err := c.Run(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	records := sink.all()
	require.Len(t, records, 1)
	require.NotNil(t, records[0].AIScore)
	assert.InDelta(t, 90, *records[0].AIScore, 1e-9)
}

// stalledJudge holds every call until its context ends
type stalledJudge struct{}

func (stalledJudge) Judge(ctx context.Context, _ string) (float64, bool) {
	<-ctx.Done()
	return 0, false
}

func TestRun_StalledJudgeFallsBackToHeuristic(t *testing.T) {
	s := newSite(map[string]string{
		"/": links("/r.csv"),
	}, map[string]string{
		"/r.csv": "x\n",
	})
	srv := httptest.NewServer(s)
	defer srv.Close()

	sink := &memorySink{}
	settings := testSettings(t, 1)
	settings.EnableAI = true
	settings.RequestTimeout = 200 * time.Millisecond
	c := newTestCrawler(t, settings, srv, Deps{Judge: stalledJudge{}, Sink: sink}, Options{})

	type result struct {
		stats models.CrawlStats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := c.Run(context.Background(), srv.URL+"/")
		done <- result{stats, err}
	}()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.EqualValues(t, 1, res.stats.FetchedPages)
		assert.EqualValues(t, 1, res.stats.DownloadedFiles)
		assert.EqualValues(t, 0, res.stats.Errors)
	case <-time.After(5 * time.Second):
		t.Fatal("run blocked on an unresponsive judge")
	}

	records := sink.all()
	require.Len(t, records, 1)
	assert.Nil(t, records[0].AIScore)
}

func TestRun_CancellationStopsRun(t *testing.T) {
	var started atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, links("/slow1", "/slow2", "/slow3"))
			return
		}
		started.Store(true)
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	defer srv.Close()

	settings := testSettings(t, 2)
	settings.RequestTimeout = 30 * time.Second
	c := newTestCrawler(t, settings, srv, Deps{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for !started.Load() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	begin := time.Now()
	stats, err := c.Run(ctx, srv.URL+"/")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(begin), 8*time.Second)
	assert.EqualValues(t, 1, stats.FetchedPages)
	assert.EqualValues(t, 0, stats.Errors, "cancelled work is not an error")
}

func TestRun_InvalidStartURL(t *testing.T) {
	c := New(testSettings(t, 1), Deps{}, Options{}, testLogger())

	for _, raw := range []string{"", "ftp://example.org/data", "/relative/path", "https://"} {
		_, err := c.Run(context.Background(), raw)
		assert.ErrorIs(t, err, utils.ErrConfigValidation, "start URL %q", raw)
	}
}

func TestRun_OutputDirUnusable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	settings := testSettings(t, 1)
	settings.OutputDir = filepath.Join(blocker, "downloads")
	c := New(settings, Deps{}, Options{}, testLogger())

	_, err := c.Run(context.Background(), "https://example.org/data")
	assert.ErrorIs(t, err, utils.ErrFilesystem)
}

func TestRun_WritesVisitedLogAndManifest(t *testing.T) {
	s := newSite(map[string]string{
		"/":     links("/page", "/t.csv"),
		"/page": links(),
	}, map[string]string{
		"/t.csv": "1\n",
	})
	srv := httptest.NewServer(s)
	defer srv.Close()

	settings := testSettings(t, 1)
	c := newTestCrawler(t, settings, srv, Deps{}, Options{WriteVisitedLog: true, WriteManifest: true})

	_, err := c.Run(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	visited, err := filepath.Glob(filepath.Join(settings.OutputDir, "visited-*.txt"))
	require.NoError(t, err)
	require.Len(t, visited, 1)
	content, err := os.ReadFile(visited[0])
	require.NoError(t, err)
	for _, u := range []string{srv.URL + "/", srv.URL + "/page", srv.URL + "/t.csv"} {
		assert.Contains(t, string(content), u)
	}

	manifests, err := filepath.Glob(filepath.Join(settings.OutputDir, "manifest-*.jsonl"))
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	lines, err := os.ReadFile(manifests[0])
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(lines), "\n"))
	assert.Contains(t, string(lines), `"file_name":"t.csv"`)
	assert.Contains(t, string(lines), `"sha256":"4355a46b19d348dc2f57c046f8ef63d4538ebb936000f3c9ee954a27460dd865"`)

	summaries, err := filepath.Glob(filepath.Join(settings.OutputDir, "run-*.yaml"))
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	summary, err := os.ReadFile(summaries[0])
	require.NoError(t, err)
	assert.Contains(t, string(summary), "completed: true")
	assert.Contains(t, string(summary), "downloaded_files: 1")
}

func TestStats_BeforeRun(t *testing.T) {
	c := New(testSettings(t, 1), Deps{}, Options{}, testLogger())
	stats := c.Stats()
	assert.Zero(t, stats.FetchedPages)
	assert.Empty(t, stats.RecentErrors)
}

func TestNew_ClampsConcurrency(t *testing.T) {
	settings := testSettings(t, -1)
	settings.MaxConcurrency = 0
	c := New(settings, Deps{}, Options{}, testLogger())
	assert.Equal(t, 1, c.Settings().MaxConcurrency)
	assert.Equal(t, 0, c.Settings().MaxDepth)
}
