package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"data-harvester/pkg/parse"
	"data-harvester/pkg/utils"
)

const (
	downloadChunkSize = 64 << 10
	// MaxBackoff caps the delay between download attempts
	MaxBackoff        = 10 * time.Second
	maxFilenameLen    = 200
	maxNameCandidates = 1000
)

// DownloadOptions configures a Downloader
type DownloadOptions struct {
	Timeout     time.Duration // Per-attempt deadline
	MaxSizeKB   int64         // <=0 disables the size cap
	MaxRetries  int           // Attempts = MaxRetries + 1
	BackoffBase time.Duration
	UserAgent   string
}

// DownloadResult describes a file written by Download
type DownloadResult struct {
	Path        string
	ContentType string
	SizeKB      float64 // bytes/1024 rounded to 3 decimals
	Bytes       int64
	Attempts    int
}

// Downloader streams artifacts to disk with size enforcement and retries.
type Downloader struct {
	client  *http.Client
	limiter *HostLimiter
	opts    DownloadOptions
	log     *logrus.Entry
}

// NewDownloader creates a Downloader. limiter may be nil.
func NewDownloader(client *http.Client, limiter *HostLimiter, opts DownloadOptions, log *logrus.Entry) *Downloader {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Downloader{client: client, limiter: limiter, opts: opts, log: log}
}

func (d *Downloader) maxBytes() int64 {
	if d.opts.MaxSizeKB <= 0 {
		return 0
	}
	return d.opts.MaxSizeKB * 1024
}

// BackoffDelay returns the sleep after the given failed attempt (1-based):
// base * 2^(attempt-1), capped at MaxBackoff. There is no jitter.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt && delay < MaxBackoff; i++ {
		delay *= 2
	}
	if delay > MaxBackoff {
		delay = MaxBackoff
	}
	return delay
}

// Download fetches rawURL into destDir. Size violations and filename
// exhaustion are terminal; HTTP, transport and I/O failures are retried up to
// MaxRetries times. If ctx ends, ctx's error is returned without retrying.
func (d *Downloader) Download(ctx context.Context, rawURL, destDir string) (DownloadResult, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return DownloadResult{}, fmt.Errorf("%w: create download directory '%s': %w", utils.ErrFilesystem, destDir, err)
	}
	origin, err := parse.OriginOf(rawURL)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("%w: %w", utils.ErrDownload, err)
	}
	dlLog := d.log.WithField("url", rawURL)

	if err := d.preflight(ctx, rawURL, origin); err != nil {
		return DownloadResult{}, err
	}

	maxAttempts := d.opts.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := d.attempt(ctx, rawURL, origin, destDir)
		if err == nil {
			result.Attempts = attempt
			return result, nil
		}
		if ctx.Err() != nil {
			return DownloadResult{}, ctx.Err()
		}
		if errors.Is(err, utils.ErrTooLarge) || errors.Is(err, utils.ErrNameExhausted) {
			return DownloadResult{}, err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		delay := BackoffDelay(d.opts.BackoffBase, attempt)
		dlLog.WithFields(logrus.Fields{"attempt": attempt, "max_attempts": maxAttempts, "delay": delay}).Warnf("Download failed, retrying: %v", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return DownloadResult{}, ctx.Err()
		}
	}

	dlLog.Errorf("All %d download attempts failed. Last error: %v", maxAttempts, lastErr)
	return DownloadResult{}, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// preflight issues a HEAD request and rejects artifacts whose declared size is
// over the cap. Any failure of the HEAD itself lets the download proceed.
func (d *Downloader) preflight(ctx context.Context, rawURL, origin string) error {
	maxBytes := d.maxBytes()
	if maxBytes <= 0 {
		return nil
	}
	if d.limiter != nil {
		if err := d.limiter.Acquire(ctx, origin); err != nil {
			return nil
		}
		defer d.limiter.Release(origin)
	}

	reqCtx, cancel := d.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.WithField("url", rawURL).Debugf("HEAD preflight failed, proceeding: %v", err)
		return nil
	}
	closeBody(resp.Body)

	if resp.ContentLength > maxBytes {
		return fmt.Errorf("%w: %s declares %d bytes, limit %d", utils.ErrTooLarge, rawURL, resp.ContentLength, maxBytes)
	}
	return nil
}

func (d *Downloader) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.opts.Timeout > 0 {
		return context.WithTimeout(ctx, d.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// attempt performs one GET while holding a host permit. The permit is
// released when attempt returns, before any backoff sleep.
func (d *Downloader) attempt(ctx context.Context, rawURL, origin, destDir string) (DownloadResult, error) {
	if d.limiter != nil {
		if err := d.limiter.Acquire(ctx, origin); err != nil {
			return DownloadResult{}, err
		}
		defer d.limiter.Release(origin)
	}

	reqCtx, cancel := d.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("%w: %w: %w", utils.ErrDownload, utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("%w: GET %s: %w", utils.ErrDownload, rawURL, err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return DownloadResult{}, fmt.Errorf("%w: %w: status %d for %s", utils.ErrDownload, utils.StatusError(resp.StatusCode), resp.StatusCode, rawURL)
	}

	maxBytes := d.maxBytes()
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return DownloadResult{}, fmt.Errorf("%w: %s declares %d bytes, limit %d", utils.ErrTooLarge, rawURL, resp.ContentLength, maxBytes)
	}

	name := FilenameFromURL(rawURL)
	tmp, err := os.CreateTemp(destDir, "."+name+".*.part")
	if err != nil {
		return DownloadResult{}, fmt.Errorf("%w: %w: create temp file: %w", utils.ErrDownload, utils.ErrFilesystem, err)
	}
	tmpPath := tmp.Name()
	keepTemp := false
	defer func() {
		if !keepTemp {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	written, err := copyCapped(tmp, resp.Body, maxBytes)
	if err != nil {
		if errors.Is(err, utils.ErrTooLarge) {
			return DownloadResult{}, fmt.Errorf("%w: %s exceeds %d bytes", err, rawURL, maxBytes)
		}
		return DownloadResult{}, fmt.Errorf("%w: %w", utils.ErrDownload, err)
	}
	if err := tmp.Close(); err != nil {
		return DownloadResult{}, fmt.Errorf("%w: %w: close temp file: %w", utils.ErrDownload, utils.ErrFilesystem, err)
	}

	finalPath, err := placeFile(tmpPath, destDir, name)
	if err != nil {
		return DownloadResult{}, err
	}
	keepTemp = true

	return DownloadResult{
		Path:        finalPath,
		ContentType: resp.Header.Get("Content-Type"),
		SizeKB:      math.Round(float64(written)/1024*1000) / 1000,
		Bytes:       written,
	}, nil
}

// copyCapped streams src into dst in fixed-size chunks. A chunk that would take
// the total past maxBytes is not written and ErrTooLarge is returned.
func copyCapped(dst io.Writer, src io.Reader, maxBytes int64) (int64, error) {
	buf := make([]byte, downloadChunkSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if maxBytes > 0 && total+int64(n) > maxBytes {
				return total, utils.ErrTooLarge
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("%w: write: %w", utils.ErrFilesystem, err)
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, readErr)
		}
	}
}

// FilenameFromURL derives the on-disk name for an artifact: the last path
// segment when usable, otherwise download_<first 16 hex chars of sha256(url)>.
func FilenameFromURL(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		base := path.Base(u.Path)
		switch base {
		case "", ".", "..", "/":
		default:
			name := utils.ReplaceInvalidFilenameChars(base)
			if len(name) <= maxFilenameLen {
				return name
			}
		}
	}
	return "download_" + utils.CalculateStringSHA256(rawURL)[:16]
}

// placeFile reserves the first free name among name, stem_1.ext, stem_2.ext, ...
// with an exclusive create and renames tmpPath over the reservation.
func placeFile(tmpPath, destDir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameCandidates; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		target := filepath.Join(destDir, candidate)

		f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return "", fmt.Errorf("%w: %w: reserve '%s': %w", utils.ErrDownload, utils.ErrFilesystem, target, err)
		}
		f.Close()

		if err := os.Rename(tmpPath, target); err != nil {
			os.Remove(target)
			return "", fmt.Errorf("%w: %w: rename to '%s': %w", utils.ErrDownload, utils.ErrFilesystem, target, err)
		}
		return target, nil
	}
	return "", fmt.Errorf("%w: '%s' in '%s' after %d candidates", utils.ErrNameExhausted, name, destDir, maxNameCandidates)
}
