package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"data-harvester/pkg/parse"
	"data-harvester/pkg/utils"
)

const (
	pageAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	pageAcceptLanguage = "en-US,en;q=0.9"
	// DefaultMaxPageBytes caps an HTML body when no limit is configured
	DefaultMaxPageBytes int64 = 10 << 20
	drainLimit                = 64 << 10
)

// PageOptions configures a PageFetcher
type PageOptions struct {
	UserAgent string
	Timeout   time.Duration // Per-request deadline; 0 relies on the caller's context
	MaxBytes  int64         // Larger bodies are rejected; <=0 uses DefaultMaxPageBytes
}

// PageFetcher retrieves HTML pages. It makes exactly one attempt per call;
// page failures are reported to the caller, never retried.
type PageFetcher struct {
	client  *http.Client
	limiter *HostLimiter
	opts    PageOptions
	log     *logrus.Entry
}

// NewPageFetcher creates a PageFetcher. limiter may be nil, in which case no
// per-host limit is applied.
func NewPageFetcher(client *http.Client, limiter *HostLimiter, opts PageOptions, log *logrus.Entry) *PageFetcher {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxPageBytes
	}
	return &PageFetcher{client: client, limiter: limiter, opts: opts, log: log}
}

// FetchHTML GETs rawURL while holding a permit for its origin and returns the
// body decoded to UTF-8 according to the response charset.
func (f *PageFetcher) FetchHTML(ctx context.Context, rawURL string) (string, error) {
	origin, err := parse.OriginOf(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrFetch, err)
	}

	if f.limiter != nil {
		if err := f.limiter.Acquire(ctx, origin); err != nil {
			return "", err
		}
		defer f.limiter.Release(origin)
	}

	reqCtx := ctx
	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %w", utils.ErrFetch, utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", pageAccept)
	req.Header.Set("Accept-Language", pageAcceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: GET %s: %w", utils.ErrFetch, rawURL, err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %w: status %d for %s", utils.ErrFetch, utils.StatusError(resp.StatusCode), resp.StatusCode, rawURL)
	}

	// Read one byte past the limit to detect oversized bodies
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: %w: %w", utils.ErrFetch, utils.ErrResponseBodyRead, err)
	}
	if int64(len(body)) > f.opts.MaxBytes {
		return "", fmt.Errorf("%w: page %s exceeds %d bytes", utils.ErrFetch, rawURL, f.opts.MaxBytes)
	}

	text := decodeBody(body, resp.Header.Get("Content-Type"))
	f.log.WithFields(logrus.Fields{"url": rawURL, "bytes": len(body)}).Debug("Fetched page")
	return text, nil
}

// closeBody drains a bounded amount of the remaining body so the connection
// can be reused, then closes it.
func closeBody(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, drainLimit))
	body.Close()
}

// decodeBody converts body to UTF-8 using the declared or sniffed charset.
// Invalid sequences become replacement characters rather than errors.
func decodeBody(body []byte, contentType string) string {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}
