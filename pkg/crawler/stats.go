package crawler

import (
	"sync"
	"sync/atomic"

	"data-harvester/pkg/models"
)

// statsTracker accumulates one run's counters. Counters are atomics; the
// recent-error ring has its own lock.
type statsTracker struct {
	fetchedPages    atomic.Int64
	downloadedFiles atomic.Int64
	errors          atomic.Int64

	mu     sync.Mutex
	recent []string
}

// addError counts one error and remembers its message
func (s *statsTracker) addError(msg string) {
	s.errors.Add(1)
	s.noteRecent(msg)
}

// noteRecent remembers msg without counting it, keeping the newest RecentErrorLimit
func (s *statsTracker) noteRecent(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, msg)
	if over := len(s.recent) - models.RecentErrorLimit; over > 0 {
		s.recent = append(s.recent[:0], s.recent[over:]...)
	}
}

func (s *statsTracker) snapshot() models.CrawlStats {
	s.mu.Lock()
	recent := make([]string, len(s.recent))
	copy(recent, s.recent)
	s.mu.Unlock()

	return models.CrawlStats{
		FetchedPages:    s.fetchedPages.Load(),
		DownloadedFiles: s.downloadedFiles.Load(),
		Errors:          s.errors.Load(),
		RecentErrors:    recent,
	}
}
