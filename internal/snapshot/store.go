package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/AlColeNS/search-expiscor-sub004/internal/common"
)

// Entry is the persisted snapshot record for one document: enough state to
// decide on the next incremental crawl whether the source changed.
type Entry struct {
	ID           string `badgerhold:"key"`
	Locator      string
	LastModified time.Time
	ContentHash  string
	CrawlID      int64
	UpdatedAt    time.Time
}

// Store is the embedded snapshot database. One store serves the whole
// connector; access is safe for concurrent readers and writers.
type Store struct {
	db     *badgerhold.Store
	logger arbor.ILogger
}

// Open opens (or creates) the snapshot database. A relative configured path
// is resolved under the install path. ResetOnStartup deletes any existing
// database first, forcing the next crawl to behave as a full crawl.
func Open(config *common.BadgerConfig, installPath string, logger arbor.ILogger) (*Store, error) {
	path := config.Path
	if path == "" {
		path = filepath.Join("data", "snapshot")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(installPath, path)
	}

	if config.ResetOnStartup {
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("failed to reset snapshot store %s: %w", path, err)
		}
		logger.Info().Str("path", path).Msg("Snapshot store reset on startup")
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory %s: %w", path, err)
	}

	options := badgerhold.DefaultOptions
	options.Options = badger.DefaultOptions(path).WithLogger(nil)

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store %s: %w", path, err)
	}

	logger.Debug().Str("path", path).Msg("Snapshot store opened")
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put upserts the snapshot entry for a document.
func (s *Store) Put(entry *Entry) error {
	entry.UpdatedAt = time.Now().UTC()
	if err := s.db.Upsert(entry.ID, entry); err != nil {
		return fmt.Errorf("failed to store snapshot entry %s: %w", entry.ID, err)
	}
	return nil
}

// Get returns the entry for a document id, or nil when none exists.
func (s *Store) Get(id string) (*Entry, error) {
	var entry Entry
	err := s.db.Get(id, &entry)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot entry %s: %w", id, err)
	}
	return &entry, nil
}

// Changed reports whether a document differs from its snapshot. Unknown
// documents always count as changed.
func (s *Store) Changed(id string, lastModified time.Time, contentHash string) bool {
	entry, err := s.Get(id)
	if err != nil {
		s.logger.Warn().Str("doc_id", id).Err(err).Msg("Snapshot lookup failed; treating document as changed")
		return true
	}
	if entry == nil {
		return true
	}
	if contentHash != "" && entry.ContentHash != "" {
		return contentHash != entry.ContentHash
	}
	return lastModified.After(entry.LastModified)
}

// Count returns the number of snapshot entries.
func (s *Store) Count() (int, error) {
	n, err := s.db.Count(&Entry{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshot entries: %w", err)
	}
	return int(n), nil
}

// DeleteAll clears the snapshot state, forcing the next crawl to treat every
// document as new.
func (s *Store) DeleteAll() error {
	if err := s.db.DeleteMatching(&Entry{}, nil); err != nil {
		return fmt.Errorf("failed to clear snapshot store: %w", err)
	}
	return nil
}
