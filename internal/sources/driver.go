package sources

import (
	"context"
	"time"

	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

// EmitFunc accepts one extracted document. The extract stage supplies an
// implementation that stages the document on disk and posts its queue item;
// a blocked downstream queue blocks the emit, which is the backpressure path
// into the driver.
type EmitFunc func(ctx context.Context, doc *models.Document) error

// ChangedFunc reports whether a document changed since the previous crawl.
// Supplied by the snapshot store for incremental crawls; nil means no change
// detection and every candidate is emitted.
type ChangedFunc func(id string, lastModified time.Time, contentHash string) bool

// CrawlOptions carries the per-crawl inputs a driver needs beyond its static
// configuration.
type CrawlOptions struct {
	Incremental bool
	Watermark   time.Time   // Start time of the previous successful crawl
	Changed     ChangedFunc // May be nil
	DocumentID  func(locator string) string
}

// Driver discovers documents from one source family. Implementations run
// their own traversal loop inside Crawl and emit documents as they are found;
// Crawl returns only when discovery is exhausted, the context is cancelled,
// or Stop was called.
type Driver interface {
	Name() string
	Validate() error
	Crawl(ctx context.Context, opts CrawlOptions, emit EmitFunc) error
	Stop()
}
