package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-harvester/pkg/utils"
)

func newTestPageFetcher(maxBytes int64, timeout time.Duration) *PageFetcher {
	return NewPageFetcher(testClient(), NewHostLimiter(2, 0, testLogger()), PageOptions{
		UserAgent: "harvester-test/1.0",
		Timeout:   timeout,
		MaxBytes:  maxBytes,
	}, testLogger())
}

func TestFetchHTML_SendsHeadersAndReturnsBody(t *testing.T) {
	var gotUA, gotAccept, gotLang string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotLang = r.Header.Get("Accept-Language")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer server.Close()

	body, err := newTestPageFetcher(0, time.Second).FetchHTML(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, body, "hello")
	assert.Equal(t, "harvester-test/1.0", gotUA)
	assert.Equal(t, pageAccept, gotAccept)
	assert.Equal(t, pageAcceptLanguage, gotLang)
}

func TestFetchHTML_DecodesDeclaredCharset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		// "café" in Latin-1
		w.Write([]byte{'<', 'p', '>', 'c', 'a', 'f', 0xE9, '<', '/', 'p', '>'})
	}))
	defer server.Close()

	body, err := newTestPageFetcher(0, time.Second).FetchHTML(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, body, "café")
}

func TestFetchHTML_StatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"404", http.StatusNotFound, utils.ErrClientHTTPError},
		{"503", http.StatusServiceUnavailable, utils.ErrServerHTTPError},
		{"304", http.StatusNotModified, utils.ErrOtherHTTPError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := newTestPageFetcher(0, time.Second).FetchHTML(context.Background(), server.URL)
			require.Error(t, err)
			assert.True(t, errors.Is(err, utils.ErrFetch), "expected ErrFetch, got %v", err)
			assert.True(t, errors.Is(err, tt.sentinel), "expected %v, got %v", tt.sentinel, err)
			assert.Equal(t, int32(1), hits.Load(), "page fetches must not be retried")
		})
	}
}

func TestFetchHTML_BodyOverLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 2048)))
	}))
	defer server.Close()

	_, err := newTestPageFetcher(1024, time.Second).FetchHTML(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrFetch)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestFetchHTML_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	start := time.Now()
	_, err := newTestPageFetcher(0, 50*time.Millisecond).FetchHTML(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrFetch)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetchHTML_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := newTestPageFetcher(0, time.Second).FetchHTML(context.Background(), addr)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrFetch)
}
