package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// defaultPerHost replaces a non-positive per-host limit
const defaultPerHost = 2

// hostEntry tracks a single origin's semaphore and optional politeness limiter.
type hostEntry struct {
	sem     *semaphore.Weighted
	pacer   *rate.Limiter // nil when no per-host delay is configured
	waiting int64         // held + waiting permits, for debugging
}

// HostLimiter bounds the number of in-flight requests per origin
// (lowercased scheme://host[:port]). Entries are created on first use and live
// as long as the limiter; one limiter is built per crawl run and shared by the
// page fetcher and the downloader so the limit is enforced across both.
type HostLimiter struct {
	entries map[string]*hostEntry
	mu      sync.Mutex
	limit   int64
	delay   time.Duration
	log     *logrus.Entry
}

// NewHostLimiter creates a limiter allowing maxPerHost concurrent requests per
// origin. When delay > 0 request starts to the same origin are also spaced
// at least delay apart.
func NewHostLimiter(maxPerHost int, delay time.Duration, log *logrus.Entry) *HostLimiter {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = defaultPerHost
		log.Warnf("per_host_concurrency invalid or zero, defaulting to %d", limit)
	}
	if delay < 0 {
		delay = 0
	}
	return &HostLimiter{
		entries: make(map[string]*hostEntry),
		limit:   limit,
		delay:   delay,
		log:     log,
	}
}

// Limit returns the effective per-origin capacity.
func (l *HostLimiter) Limit() int64 { return l.limit }

// entry returns the origin's entry, creating it lazily.
func (l *HostLimiter) entry(origin string) *hostEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[origin]
	if !ok {
		e = &hostEntry{sem: semaphore.NewWeighted(l.limit)}
		if l.delay > 0 {
			// One token per delay interval, burst of one
			e.pacer = rate.NewLimiter(rate.Every(l.delay), 1)
		}
		l.entries[origin] = e
		l.log.WithFields(logrus.Fields{"host": origin, "limit": l.limit}).Debug("Created new host limiter")
	}
	return e
}

// Acquire blocks until a permit for origin is available, then waits for the
// origin's politeness slot if one is configured. It returns ctx's error if ctx
// ends first; in that case no permit is held.
func (l *HostLimiter) Acquire(ctx context.Context, origin string) error {
	e := l.entry(origin)

	l.mu.Lock()
	e.waiting++
	l.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.mu.Lock()
		e.waiting--
		l.mu.Unlock()
		return err
	}

	if e.pacer != nil {
		if err := e.pacer.Wait(ctx); err != nil {
			l.Release(origin)
			return err
		}
	}
	return nil
}

// Release returns one permit for origin.
func (l *HostLimiter) Release(origin string) {
	l.mu.Lock()
	e, ok := l.entries[origin]
	if !ok {
		l.mu.Unlock()
		l.log.Errorf("hostlimiter: Release called for unknown host: %s", origin)
		return
	}
	e.waiting--
	l.mu.Unlock()

	e.sem.Release(1)
}

// Len returns the number of origins seen so far.
func (l *HostLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
