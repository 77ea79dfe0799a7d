package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-harvester/pkg/utils"
)

func newTestDownloader(maxSizeKB int64, maxRetries int) *Downloader {
	return NewDownloader(testClient(), NewHostLimiter(2, 0, testLogger()), DownloadOptions{
		Timeout:     2 * time.Second,
		MaxSizeKB:   maxSizeKB,
		MaxRetries:  maxRetries,
		BackoffBase: time.Millisecond,
		UserAgent:   "harvester-test/1.0",
	}, testLogger())
}

// listFiles returns the names of regular files in dir
func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{500 * time.Millisecond, 1, 500 * time.Millisecond},
		{500 * time.Millisecond, 2, time.Second},
		{500 * time.Millisecond, 3, 2 * time.Second},
		{500 * time.Millisecond, 5, 8 * time.Second},
		{500 * time.Millisecond, 6, MaxBackoff},
		{500 * time.Millisecond, 60, MaxBackoff},
		{0, 3, 0},
		{time.Second, 0, time.Second},
	}
	for _, tt := range tests {
		got := BackoffDelay(tt.base, tt.attempt)
		if got != tt.want {
			t.Errorf("BackoffDelay(%v, %d) = %v, want %v", tt.base, tt.attempt, got, tt.want)
		}
	}

	// Non-decreasing
	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := BackoffDelay(300*time.Millisecond, attempt)
		if d < prev {
			t.Errorf("BackoffDelay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestFilenameFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"plain file", "https://example.org/files/a.csv", "a.csv"},
		{"query ignored", "https://example.org/files/report.xlsx?v=2", "report.xlsx"},
		{"trailing slash uses segment", "https://example.org/data/", "data"},
		{"invalid chars replaced", "https://example.org/files/a%3Ab.csv", "a_b.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilenameFromURL(tt.url))
		})
	}

	fallback := "https://example.org/"
	want := "download_" + utils.CalculateStringSHA256(fallback)[:16]
	assert.Equal(t, want, FilenameFromURL(fallback))
	assert.Equal(t, "download_"+utils.CalculateStringSHA256("https://example.org")[:16], FilenameFromURL("https://example.org"))

	long := "https://example.org/" + strings.Repeat("x", 201) + ".csv"
	assert.True(t, strings.HasPrefix(FilenameFromURL(long), "download_"))
}

func TestDownload_Success(t *testing.T) {
	payload := strings.Repeat("col1,col2\n", 300)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(payload))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "nested", "out")
	res, err := newTestDownloader(1024, 0).Download(context.Background(), server.URL+"/files/a.csv", dest)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dest, "a.csv"), res.Path)
	assert.Equal(t, "text/csv", res.ContentType)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int64(len(payload)), res.Bytes)
	assert.InDelta(t, 2.93, res.SizeKB, 0.0005)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	assert.Equal(t, []string{"a.csv"}, listFiles(t, dest), "no temp files may remain")
}

func TestDownload_FilenameCollision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("new"))
	}))
	defer server.Close()

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "name.ext"), []byte("old"), 0o644))

	d := newTestDownloader(1024, 0)
	res, err := d.Download(context.Background(), server.URL+"/name.ext", dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "name_1.ext"), res.Path)

	res2, err := d.Download(context.Background(), server.URL+"/name.ext", dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "name_2.ext"), res2.Path)

	old, _ := os.ReadFile(filepath.Join(dest, "name.ext"))
	assert.Equal(t, "old", string(old), "existing file must not be overwritten")
}

func TestDownload_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	res, err := newTestDownloader(1024, 3).Download(context.Background(), server.URL+"/f.json", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), hits.Load())
}

func TestDownload_RetryCountOnPersistentFailure(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 3} {
		t.Run(strconv.Itoa(maxRetries), func(t *testing.T) {
			var gets atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodGet {
					gets.Add(1)
				}
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer server.Close()

			dest := t.TempDir()
			_, err := newTestDownloader(1024, maxRetries).Download(context.Background(), server.URL+"/f.csv", dest)
			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrRetryFailed)
			assert.ErrorIs(t, err, utils.ErrDownload)
			assert.ErrorIs(t, err, utils.ErrServerHTTPError)
			assert.Equal(t, int32(maxRetries+1), gets.Load())
			assert.Empty(t, listFiles(t, dest))
		})
	}
}

func TestDownload_DeclaredSizeOverCapRejectedByPreflight(t *testing.T) {
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.Header().Set("Content-Length", strconv.Itoa(4096))
		if r.Method == http.MethodGet {
			w.Write(make([]byte, 4096))
		}
	}))
	defer server.Close()

	dest := t.TempDir()
	_, err := newTestDownloader(1, 3).Download(context.Background(), server.URL+"/big.zip", dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrTooLarge)
	assert.False(t, errors.Is(err, utils.ErrRetryFailed))
	assert.Equal(t, int32(0), gets.Load(), "body must never be requested")
	assert.Empty(t, listFiles(t, dest))
}

func TestDownload_StreamOverCapAbortsWithoutRetry(t *testing.T) {
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		gets.Add(1)
		// Chunked response: no declared length
		flusher := w.(http.Flusher)
		for i := 0; i < 8; i++ {
			w.Write(make([]byte, 1024))
			flusher.Flush()
		}
	}))
	defer server.Close()

	dest := t.TempDir()
	_, err := newTestDownloader(2, 3).Download(context.Background(), server.URL+"/stream.csv", dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrTooLarge)
	assert.Equal(t, int32(1), gets.Load(), "size violations are not retried")
	assert.Empty(t, listFiles(t, dest), "temp file must be removed")
}

func TestDownload_ExactlyAtCapSucceeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	res, err := newTestDownloader(2, 0).Download(context.Background(), server.URL+"/exact.bin", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(2048), res.Bytes)
	assert.Equal(t, 2.0, res.SizeKB)
}

func TestDownload_ContextCancelledNotRetried(t *testing.T) {
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := NewDownloader(testClient(), nil, DownloadOptions{
		Timeout:     time.Second,
		MaxSizeKB:   1024,
		MaxRetries:  5,
		BackoffBase: time.Hour,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := d.Download(ctx, server.URL+"/f.csv", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), gets.Load())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDownload_NameExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "f.txt"), nil, 0o644))
	for i := 1; i < maxNameCandidates; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dest, "f_"+strconv.Itoa(i)+".txt"), nil, 0o644))
	}

	_, err := newTestDownloader(1024, 3).Download(context.Background(), server.URL+"/f.txt", dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrNameExhausted)
	assert.Len(t, listFiles(t, dest), maxNameCandidates)
}
