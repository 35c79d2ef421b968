package publish

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

// BatchPublisher accumulates documents and drives one index client with the
// configured cadence: an add operation every batchSize documents, a commit
// whenever the cumulative sent count crosses a multiple of commitEvery, and a
// final flush-and-commit at shutdown. Documents beyond maxDocs are dropped
// without error. Not safe for concurrent use; each publish worker owns its
// own instance.
type BatchPublisher struct {
	client  IndexClient
	archive *ArchiveWriter // nil when archiving is disabled; shared across workers
	logger  arbor.ILogger

	upload      bool
	batchSize   int
	commitEvery int
	maxDocs     int
	pkName      string

	pending    []*models.Document
	sent       int
	dropped    int
	commitMark int // sent/commitEvery at the last cadence commit
	commits    int
}

// NewBatchPublisher wraps an index client with batching thresholds.
func NewBatchPublisher(client IndexClient, archive *ArchiveWriter, upload bool, batchSize, commitEvery, maxDocs int, pkName string, logger arbor.ILogger) *BatchPublisher {
	if batchSize < 1 {
		batchSize = 1
	}
	if commitEvery < 1 {
		commitEvery = 1
	}
	return &BatchPublisher{
		client:      client,
		archive:     archive,
		logger:      logger,
		upload:      upload,
		batchSize:   batchSize,
		commitEvery: commitEvery,
		maxDocs:     maxDocs,
		pkName:      pkName,
		pending:     make([]*models.Document, 0, batchSize),
	}
}

// Name returns the underlying client name.
func (p *BatchPublisher) Name() string { return p.client.Name() }

// Validate delegates to the index client.
func (p *BatchPublisher) Validate() error { return p.client.Validate() }

// Send accepts one document, flushing and committing per the cadence.
func (p *BatchPublisher) Send(ctx context.Context, doc *models.Document) error {
	if p.maxDocs > 0 && p.sent+len(p.pending) >= p.maxDocs {
		p.dropped++
		return nil
	}

	p.pending = append(p.pending, doc)
	if len(p.pending) < p.batchSize {
		return nil
	}
	if err := p.flush(ctx); err != nil {
		return err
	}
	if p.sent/p.commitEvery > p.commitMark {
		return p.commit(ctx)
	}
	return nil
}

// FlushAndCommit sends any pending documents and issues a closing commit when
// anything was sent at all.
func (p *BatchPublisher) FlushAndCommit(ctx context.Context) error {
	if err := p.flush(ctx); err != nil {
		return err
	}
	if p.sent == 0 {
		return nil
	}
	// The final flush can itself cross a commit boundary; the cadence commit
	// is still owed before the closing one.
	if p.sent/p.commitEvery > p.commitMark {
		if err := p.commit(ctx); err != nil {
			return err
		}
	}
	return p.commit(ctx)
}

// Shutdown flushes, commits, optionally optimizes, and closes the client.
// The shared archive writer is closed by its owner, not here.
func (p *BatchPublisher) Shutdown(ctx context.Context, optimize bool) error {
	if err := p.FlushAndCommit(ctx); err != nil {
		p.client.Close()
		return err
	}
	if optimize && p.sent > 0 {
		if p.upload {
			if err := p.client.Optimize(ctx); err != nil {
				p.client.Close()
				return err
			}
		}
		if p.archive != nil {
			if err := p.archive.WriteOptimize(); err != nil {
				p.client.Close()
				return err
			}
		}
		p.logger.Info().Str("publisher", p.Name()).Msg("Index optimized")
	}
	return p.client.Close()
}

// Sent returns the number of documents delivered to the index.
func (p *BatchPublisher) Sent() int { return p.sent }

// Dropped returns the number of documents discarded by the maxDocs cap.
func (p *BatchPublisher) Dropped() int { return p.dropped }

// Commits returns the number of commit operations issued.
func (p *BatchPublisher) Commits() int { return p.commits }

func (p *BatchPublisher) flush(ctx context.Context) error {
	if len(p.pending) == 0 {
		return nil
	}
	batch := p.pending
	p.pending = p.pending[:0]

	if p.upload {
		if err := p.client.Add(ctx, batch); err != nil {
			return err
		}
	}
	if p.archive != nil {
		payload, err := EncodeAdd(batch, p.pkName)
		if err != nil {
			return err
		}
		if err := p.archive.WriteAdd(payload); err != nil {
			return err
		}
	}

	p.sent += len(batch)
	p.logger.Debug().
		Str("publisher", p.Name()).
		Int("batch", len(batch)).
		Int("sent", p.sent).
		Msg("Batch flushed")
	return nil
}

func (p *BatchPublisher) commit(ctx context.Context) error {
	if p.upload {
		if err := p.client.Commit(ctx); err != nil {
			return err
		}
	}
	if p.archive != nil {
		if err := p.archive.WriteCommit(); err != nil {
			return err
		}
	}
	p.commitMark = p.sent / p.commitEvery
	p.commits++
	p.logger.Debug().
		Str("publisher", p.Name()).
		Int("sent", p.sent).
		Msg("Index committed")
	return nil
}
