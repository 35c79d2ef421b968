package publish

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
)

// ArchiveWriter mirrors the index update stream into numbered XML files in
// the crawl's archive sub-area. Each file holds the add operations of one
// commit window followed by the commit marker, so a window can be replayed
// against an index verbatim. Safe for concurrent use by publish workers.
type ArchiveWriter struct {
	dir    string
	logger arbor.ILogger

	mu   sync.Mutex
	seq  int
	file *os.File
}

// NewArchiveWriter creates a writer rooted at the given archive directory.
func NewArchiveWriter(dir string, logger arbor.ILogger) *ArchiveWriter {
	return &ArchiveWriter{dir: dir, logger: logger}
}

// WriteAdd appends one add operation to the current archive file, opening a
// new solr-<seq>.xml when none is open.
func (w *ArchiveWriter) WriteAdd(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureFile(); err != nil {
		return err
	}
	if _, err := w.file.Write(payload); err != nil {
		return fmt.Errorf("failed to archive add operation: %w", err)
	}
	return nil
}

// WriteCommit appends the commit marker and closes the current file; the next
// add starts a fresh archive file.
func (w *ArchiveWriter) WriteCommit() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureFile(); err != nil {
		return err
	}
	if _, err := w.file.WriteString(commitXML); err != nil {
		return fmt.Errorf("failed to archive commit operation: %w", err)
	}
	return w.rotateLocked()
}

// WriteOptimize appends the optimize marker to the current file.
func (w *ArchiveWriter) WriteOptimize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureFile(); err != nil {
		return err
	}
	if _, err := w.file.WriteString(optimizeXML); err != nil {
		return fmt.Errorf("failed to archive optimize operation: %w", err)
	}
	return nil
}

// Close flushes and closes the current archive file.
func (w *ArchiveWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateLocked()
}

func (w *ArchiveWriter) ensureFile() error {
	if w.file != nil {
		return nil
	}
	w.seq++
	path := filepath.Join(w.dir, fmt.Sprintf("solr-%d.xml", w.seq))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open archive file %s: %w", path, err)
	}
	w.file = file
	w.logger.Debug().Str("file", path).Msg("Archive file opened")
	return nil
}

func (w *ArchiveWriter) rotateLocked() error {
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		w.file = nil
		return fmt.Errorf("failed to sync archive file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		w.file = nil
		return fmt.Errorf("failed to close archive file: %w", err)
	}
	w.file = nil
	return nil
}
