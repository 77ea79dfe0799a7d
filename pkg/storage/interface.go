package storage

import (
	"context"

	"data-harvester/pkg/models"
)

// VisitedStore is the per-run claim registry for page and artifact URLs.
type VisitedStore interface {
	// MarkPageVisited claims a page URL. It returns true only for the first
	// caller; the check and the mark happen in one transaction.
	MarkPageVisited(normalizedPageURL string) (bool, error)

	// IsPageVisited reports whether a page URL has been claimed
	IsPageVisited(normalizedPageURL string) (bool, error)

	// MarkFileClaimed claims an artifact URL for download, with the same
	// first-caller-wins semantics as MarkPageVisited
	MarkFileClaimed(normalizedFileURL string) (bool, error)

	// VisitedCount returns the number of claimed keys (pages and files)
	VisitedCount() int

	// WriteVisitedLog writes every claimed URL, one per line, to filePath
	WriteVisitedLog(filePath string) error

	// Close releases the store
	Close() error
}

// RecordSink receives one record per successful download.
type RecordSink interface {
	Record(ctx context.Context, rec models.AcquisitionRecord) error
}

// RecordStore is a RecordSink that can also be queried and cleared.
type RecordStore interface {
	RecordSink

	// Latest returns up to limit records, newest first
	Latest(ctx context.Context, limit int) ([]models.AcquisitionRecord, error)

	// Clear deletes every record and returns how many were removed
	Clear(ctx context.Context) (int64, error)

	Close() error
}
