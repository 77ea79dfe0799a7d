package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"data-harvester/pkg/log"
	"data-harvester/pkg/utils"
)

const (
	pageKeyPrefix = "page:" // Prefix for page URL keys in DB
	fileKeyPrefix = "file:" // Prefix for artifact URL keys in DB

	// memTableSize keeps several concurrent per-run stores affordable
	memTableSize = 16 << 20
)

// BadgerStore implements VisitedStore on an in-memory BadgerDB instance.
// One store is opened per crawl run and discarded with it.
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64
}

// NewBadgerStore opens a fresh in-memory store
func NewBadgerStore(logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open in-memory visited store: %w", utils.ErrDatabase, err)
	}
	logger.Debug("Visited URL store initialized (in-memory)")
	return &BadgerStore{db: db, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on the same key return badger.ErrConflict to all
// but one committer; the retry then observes the winner's write.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// claim sets key if absent and reports whether this call set it.
func (s *BadgerStore) claim(key []byte) (bool, error) {
	if s.db == nil || s.db.IsClosed() {
		return false, fmt.Errorf("%w: visited store is closed", utils.ErrDatabase)
	}
	var added bool
	err := s.dbUpdate(func(txn *badger.Txn) error {
		added = false
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			if errSet := txn.SetEntry(badger.NewEntry(key, []byte{})); errSet != nil {
				return errSet
			}
			added = true
			return nil
		}
		// Key already exists (errGet == nil) or a real read error
		return errGet
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error while claiming key: %v", err)
		if errors.Is(err, utils.ErrDatabase) {
			return false, err
		}
		return false, fmt.Errorf("%w: claiming key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if added {
		s.keyCount.Add(1)
	}
	return added, nil
}

// MarkPageVisited implements VisitedStore
func (s *BadgerStore) MarkPageVisited(normalizedPageURL string) (bool, error) {
	return s.claim([]byte(pageKeyPrefix + normalizedPageURL))
}

// MarkFileClaimed implements VisitedStore
func (s *BadgerStore) MarkFileClaimed(normalizedFileURL string) (bool, error) {
	return s.claim([]byte(fileKeyPrefix + normalizedFileURL))
}

// IsPageVisited implements VisitedStore
func (s *BadgerStore) IsPageVisited(normalizedPageURL string) (bool, error) {
	if s.db == nil || s.db.IsClosed() {
		return false, fmt.Errorf("%w: visited store is closed", utils.ErrDatabase)
	}
	key := []byte(pageKeyPrefix + normalizedPageURL)
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: reading page key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return found, nil
}

// VisitedCount implements VisitedStore. The count is maintained on writes.
func (s *BadgerStore) VisitedCount() int {
	return int(s.keyCount.Load())
}

// WriteVisitedLog implements VisitedStore. Pages are written before files.
func (s *BadgerStore) WriteVisitedLog(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("%w: create visited log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	var writeErr error
	writtenCount := 0

	iterErr := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, prefix := range [][]byte{[]byte(pageKeyPrefix), []byte(fileKeyPrefix)} {
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				key := it.Item().KeyCopy(nil)
				if _, err := writer.WriteString(string(bytes.TrimPrefix(key, prefix)) + "\n"); err != nil && writeErr == nil {
					writeErr = err
				}
				writtenCount++
			}
		}
		return nil
	})
	if iterErr != nil {
		return fmt.Errorf("%w: iterating visited store: %w", utils.ErrDatabase, iterErr)
	}

	if err := writer.Flush(); err != nil && writeErr == nil {
		writeErr = err
	}
	if err := file.Sync(); err != nil && writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		return fmt.Errorf("%w: write visited log '%s': %w", utils.ErrFilesystem, filePath, writeErr)
	}

	s.log.Infof("Wrote %d URLs to visited log: %s", writtenCount, filePath)
	return nil
}

// Close implements VisitedStore. Closing twice is a no-op.
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing visited DB: %v", err)
		return fmt.Errorf("%w: close visited store: %w", utils.ErrDatabase, err)
	}
	return nil
}
