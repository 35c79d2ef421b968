package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/crawlqueue"
	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
	"github.com/AlColeNS/search-expiscor-sub004/internal/sources"
)

// ExtractStage runs the source driver, stages each emitted document in the
// extract sub-area, and posts its queue item. The end-of-extract marker is
// posted after the driver returns, so it is always the last item of the
// phase.
type ExtractStage struct {
	driver   sources.Driver
	crawl    *crawlqueue.CrawlQueue
	out      *Queue
	opts     sources.CrawlOptions
	counters *Counters
	notices  NoticeFunc
	logger   arbor.ILogger
}

// NewExtractStage wires the driver to the crawl queue and the transform
// queue.
func NewExtractStage(driver sources.Driver, crawl *crawlqueue.CrawlQueue, out *Queue, opts sources.CrawlOptions, counters *Counters, notices NoticeFunc, logger arbor.ILogger) *ExtractStage {
	return &ExtractStage{
		driver:   driver,
		crawl:    crawl,
		out:      out,
		opts:     opts,
		counters: counters,
		notices:  notices,
		logger:   logger,
	}
}

// Run drives discovery to completion and posts the extract marker. A driver
// failure still posts the marker so downstream stages drain and finish.
func (s *ExtractStage) Run(ctx context.Context) error {
	crawlErr := s.driver.Crawl(ctx, s.opts, s.emit)

	if err := s.crawl.PutMarker(ctx, s.out, models.PhaseExtract); err != nil {
		if crawlErr != nil {
			return crawlErr
		}
		return fmt.Errorf("failed to post extract marker: %w", err)
	}
	if crawlErr != nil {
		return fmt.Errorf("extract driver %s: %w", s.driver.Name(), crawlErr)
	}
	return nil
}

// emit stages one document and posts its item. Blocking on a full transform
// queue is the backpressure path into the driver.
func (s *ExtractStage) emit(ctx context.Context, doc *models.Document) error {
	start := time.Now()

	id := doc.PrimaryValue()
	if id == "" {
		s.counters.Failed.Add(1)
		s.logger.Warn().Str("locator", doc.Locator).Msg("Extracted document has no primary key; dropped")
		s.report(doc.Locator, "document has no primary key")
		return nil
	}

	if err := s.crawl.WriteDocument(models.PhaseExtract, id, doc); err != nil {
		s.counters.Failed.Add(1)
		s.logger.Warn().Str("doc_id", id).Err(err).Msg("Failed to stage extracted document")
		s.report(id, err.Error())
		return nil
	}

	item := models.NewDocumentItem(id).WithTiming(models.PhaseExtract, time.Since(start))
	if err := s.out.Put(ctx, item); err != nil {
		return err
	}
	s.counters.Extracted.Add(1)
	return nil
}

func (s *ExtractStage) report(id, message string) {
	if s.notices != nil {
		s.notices(Notice{DocID: id, Phase: models.PhaseExtract, Status: "error", Message: message})
	}
}
