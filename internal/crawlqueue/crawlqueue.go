package crawlqueue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

// CrawlType distinguishes full from incremental crawls.
type CrawlType string

const (
	CrawlTypeFull        CrawlType = "Full"
	CrawlTypeIncremental CrawlType = "Incremental"
)

// Phase sub-areas of the crawl working directory.
var phaseDirs = []models.Phase{
	models.PhaseExtract,
	models.PhaseTransform,
	models.PhasePublish,
	"archive",
}

const crawlSeqFile = "crawl.seq"

// Putter posts a queue item; satisfied by the pipeline bounded queue.
type Putter interface {
	Put(ctx context.Context, item models.QueueItem) error
}

// CrawlQueue is the disk-backed staging area for one crawl at a time. Each
// document is a serialized file named by id inside a per-phase sub-directory;
// stages hand documents off by transitioning the file between sub-areas.
type CrawlQueue struct {
	root   string // <install>/data/crawler
	logger arbor.ILogger

	mu        sync.Mutex
	active    bool
	crawlID   int64
	crawlType CrawlType
	watermark time.Time
}

// New creates a crawl queue rooted at <installPath>/data/crawler.
func New(installPath string, logger arbor.ILogger) *CrawlQueue {
	return &CrawlQueue{
		root:   filepath.Join(installPath, "data", "crawler"),
		logger: logger,
	}
}

// Start assigns a fresh monotonic crawl id, clears residue from any prior
// crawl, creates the phase sub-directories, and marks the queue active.
func (cq *CrawlQueue) Start(crawlType CrawlType, watermark time.Time) error {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if cq.active {
		return fmt.Errorf("crawl %d already active", cq.crawlID)
	}

	id, err := cq.nextCrawlID()
	if err != nil {
		return err
	}

	dir := cq.dirFor(id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear crawl directory %s: %w", dir, err)
	}
	for _, phase := range phaseDirs {
		if err := os.MkdirAll(filepath.Join(dir, string(phase)), 0755); err != nil {
			return fmt.Errorf("failed to create phase directory %s: %w", phase, err)
		}
	}

	cq.crawlID = id
	cq.crawlType = crawlType
	cq.watermark = watermark
	cq.active = true

	cq.logger.Info().
		Int64("crawl_id", id).
		Str("crawl_type", string(crawlType)).
		Str("dir", dir).
		Msg("Crawl queue started")

	return nil
}

// Resume re-attaches to the most recent crawl directory without clearing it.
// Used by single-pass runs that pick up the staged files of a prior phase.
func (cq *CrawlQueue) Resume(crawlType CrawlType) error {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if cq.active {
		return fmt.Errorf("crawl %d already active", cq.crawlID)
	}

	data, err := os.ReadFile(filepath.Join(cq.root, crawlSeqFile))
	if err != nil {
		return fmt.Errorf("no prior crawl to resume: %w", err)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || id < 1 {
		return fmt.Errorf("invalid crawl sequence: %q", strings.TrimSpace(string(data)))
	}
	dir := cq.dirFor(id)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("crawl directory %s missing: %w", dir, err)
	}

	cq.crawlID = id
	cq.crawlType = crawlType
	cq.watermark = time.Time{}
	cq.active = true

	cq.logger.Info().Int64("crawl_id", id).Str("dir", dir).Msg("Crawl queue resumed")
	return nil
}

// nextCrawlID reads, increments, and persists the crawl sequence counter.
func (cq *CrawlQueue) nextCrawlID() (int64, error) {
	if err := os.MkdirAll(cq.root, 0755); err != nil {
		return 0, fmt.Errorf("failed to create crawler root %s: %w", cq.root, err)
	}
	seqPath := filepath.Join(cq.root, crawlSeqFile)

	var last int64
	if data, err := os.ReadFile(seqPath); err == nil {
		if n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
			last = n
		}
	}
	next := last + 1

	tmp := seqPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(next, 10)), 0644); err != nil {
		return 0, fmt.Errorf("failed to write crawl sequence: %w", err)
	}
	if err := os.Rename(tmp, seqPath); err != nil {
		return 0, fmt.Errorf("failed to persist crawl sequence: %w", err)
	}
	return next, nil
}

func (cq *CrawlQueue) dirFor(id int64) string {
	return filepath.Join(cq.root, strconv.FormatInt(id, 10))
}

// Dir returns the active crawl working directory.
func (cq *CrawlQueue) Dir() string {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.dirFor(cq.crawlID)
}

// CrawlID returns the active crawl id.
func (cq *CrawlQueue) CrawlID() int64 {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.crawlID
}

// Type returns the active crawl type.
func (cq *CrawlQueue) Type() CrawlType {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.crawlType
}

// Watermark returns the last-modified watermark for incremental crawls
// (zero time for full crawls).
func (cq *CrawlQueue) Watermark() time.Time {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.watermark
}

// IsActive reports whether a crawl is in progress.
func (cq *CrawlQueue) IsActive() bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.active
}

// DocPath returns the absolute file path for a document in a phase sub-area.
func (cq *CrawlQueue) DocPath(phase models.Phase, id string) string {
	return filepath.Join(cq.Dir(), string(phase), id+".json")
}

// WriteDocument serializes a document into a phase sub-area, durably: the
// payload lands in a temp file that is renamed into place.
func (cq *CrawlQueue) WriteDocument(phase models.Phase, id string, doc *models.Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	path := cq.DocPath(phase, id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write document %s: %w", id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to place document %s in %s: %w", id, phase, err)
	}
	return nil
}

// ReadDocument loads a document from a phase sub-area.
func (cq *CrawlQueue) ReadDocument(phase models.Phase, id string) (*models.Document, error) {
	data, err := os.ReadFile(cq.DocPath(phase, id))
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s from %s: %w", id, phase, err)
	}
	return models.UnmarshalDocument(data)
}

// Transition serializes the (possibly updated) document into the target
// phase's file, then removes the source-phase file. The source file is removed
// only after the target file is durably written, so a crash between the two
// leaves the document recoverable. A missing source file is a consistency
// error for the document.
func (cq *CrawlQueue) Transition(from, to models.Phase, doc *models.Document, id string) error {
	source := cq.DocPath(from, id)
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("document %s missing from %s: %w", id, from, err)
	}
	if err := cq.WriteDocument(to, id, doc); err != nil {
		return err
	}
	if err := os.Remove(source); err != nil {
		cq.logger.Warn().
			Str("doc_id", id).
			Str("phase", string(from)).
			Err(err).
			Msg("Failed to remove source-phase file after transition")
	}
	return nil
}

// Remove deletes a document's file from a phase sub-area.
func (cq *CrawlQueue) Remove(phase models.Phase, id string) error {
	if err := os.Remove(cq.DocPath(phase, id)); err != nil {
		return fmt.Errorf("failed to remove document %s from %s: %w", id, phase, err)
	}
	return nil
}

// ListPhase returns the document ids currently staged in a phase sub-area.
func (cq *CrawlQueue) ListPhase(phase models.Phase) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(cq.Dir(), string(phase)))
	if err != nil {
		return nil, fmt.Errorf("failed to list phase %s: %w", phase, err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// PutMarker enqueues the end-of-phase marker for the given phase. Producers
// must call this as their last queue operation so the marker arrives after
// every document item of the phase.
func (cq *CrawlQueue) PutMarker(ctx context.Context, queue Putter, phase models.Phase) error {
	return queue.Put(ctx, models.NewMarkerItem(phase))
}

// IsItemDocument classifies a queue item.
func (cq *CrawlQueue) IsItemDocument(item models.QueueItem) bool {
	return item.IsDocument()
}

// IsItemMarker classifies a queue item.
func (cq *CrawlQueue) IsItemMarker(item models.QueueItem) bool {
	return item.IsMarker()
}

// IsPhaseComplete reports whether the item is the marker ending the expected
// upstream phase.
func (cq *CrawlQueue) IsPhaseComplete(expected models.Phase, item models.QueueItem) bool {
	return item.CompletesPhase(expected)
}

// Finish marks the queue inactive; unless keepFiles is set, the crawl working
// directory is purged.
func (cq *CrawlQueue) Finish(keepFiles bool) error {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if !cq.active {
		return nil
	}
	cq.active = false

	if !keepFiles {
		dir := cq.dirFor(cq.crawlID)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to purge crawl directory %s: %w", dir, err)
		}
	}

	cq.logger.Info().
		Int64("crawl_id", cq.crawlID).
		Bool("keep_files", keepFiles).
		Msg("Crawl queue finished")
	return nil
}

// Sweep removes crawl working directories other than the current sequence's.
// Aborted crawls retain their directory for inspection; the sweep at the next
// startup keeps them from accumulating.
func (cq *CrawlQueue) Sweep() error {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if cq.active {
		return fmt.Errorf("cannot sweep while crawl %d is active", cq.crawlID)
	}

	data, err := os.ReadFile(filepath.Join(cq.root, crawlSeqFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read crawl sequence: %w", err)
	}
	current, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid crawl sequence: %q", strings.TrimSpace(string(data)))
	}

	entries, err := os.ReadDir(cq.root)
	if err != nil {
		return fmt.Errorf("failed to list crawler root %s: %w", cq.root, err)
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil || id == current {
			continue
		}
		if err := os.RemoveAll(filepath.Join(cq.root, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove stale crawl directory %s: %w", entry.Name(), err)
		}
		removed++
	}
	if removed > 0 {
		cq.logger.Info().Int("removed", removed).Int64("current", current).Msg("Swept stale crawl directories")
	}
	return nil
}

// Reset forcibly clears any prior crawl state, active or not. Used at startup
// and on abort.
func (cq *CrawlQueue) Reset() error {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	cq.active = false
	if cq.crawlID == 0 {
		return nil
	}
	dir := cq.dirFor(cq.crawlID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to reset crawl directory %s: %w", dir, err)
	}
	cq.logger.Debug().Int64("crawl_id", cq.crawlID).Msg("Crawl queue reset")
	return nil
}
