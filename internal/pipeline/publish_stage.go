package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/crawlqueue"
	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
	"github.com/AlColeNS/search-expiscor-sub004/internal/publish"
)

// RegistryFactory builds a resolved publish registry. Called once per publish
// worker: batch publishers keep per-instance state and are not safe to share,
// so every worker owns a registry of its own.
type RegistryFactory func() (*publish.Registry, error)

// RecordFunc persists the snapshot entry of a successfully published
// document. May be nil.
type RecordFunc func(doc *models.Document, id string)

// PublishStage runs a worker pool that delivers transformed documents to the
// configured publishers and transitions their files into the publish
// sub-area. After all workers have drained and flushed, the publish marker is
// forwarded to the metrics stage.
type PublishStage struct {
	in          *Queue
	out         *Queue
	crawl       *crawlqueue.CrawlQueue
	factory     RegistryFactory
	record      RecordFunc
	threads     int
	pollTimeout time.Duration
	optimize    bool
	counters    *Counters
	notices     NoticeFunc
	logger      arbor.ILogger
}

// NewPublishStage wires the publish worker pool between the publish and
// metrics queues.
func NewPublishStage(in, out *Queue, crawl *crawlqueue.CrawlQueue, factory RegistryFactory, record RecordFunc, threads int, pollTimeout time.Duration, optimize bool, counters *Counters, notices NoticeFunc, logger arbor.ILogger) *PublishStage {
	if threads < 1 {
		threads = 1
	}
	return &PublishStage{
		in:          in,
		out:         out,
		crawl:       crawl,
		factory:     factory,
		record:      record,
		threads:     threads,
		pollTimeout: pollTimeout,
		optimize:    optimize,
		counters:    counters,
		notices:     notices,
		logger:      logger,
	}
}

// Run starts the workers, joins them, then forwards the phase marker. Worker
// registries flush and commit before the marker is posted, so by the time the
// metrics stage sees it every accepted document has reached the index.
func (s *PublishStage) Run(ctx context.Context) error {
	var upstreamDone atomic.Bool
	var wg sync.WaitGroup
	errs := make([]error, s.threads)

	for i := 0; i < s.threads; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			errs[worker] = s.workerLoop(ctx, worker, &upstreamDone)
		}(i)
	}
	wg.Wait()

	if err := s.crawl.PutMarker(ctx, s.out, models.PhasePublish); err != nil {
		return fmt.Errorf("failed to post publish marker: %w", err)
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PublishStage) workerLoop(ctx context.Context, worker int, upstreamDone *atomic.Bool) error {
	registry, err := s.factory()
	if err != nil {
		return fmt.Errorf("publish worker %d: %w", worker, err)
	}

	for {
		item, ok, err := s.in.Poll(ctx, s.pollTimeout)
		if err != nil {
			s.logger.Debug().Int("worker", worker).Msg("Publish worker cancelled")
			break
		}
		if !ok {
			if upstreamDone.Load() && s.in.Len() == 0 {
				break
			}
			continue
		}
		if item.IsMarker() {
			upstreamDone.Store(true)
			continue
		}
		s.process(ctx, registry, item)
	}

	// Only the first worker optimizes; one optimize per crawl.
	shutdownErr := registry.Shutdown(ctx, s.optimize && worker == 0)
	if shutdownErr != nil {
		return fmt.Errorf("publish worker %d shutdown: %w", worker, shutdownErr)
	}
	return nil
}

func (s *PublishStage) process(ctx context.Context, registry *publish.Registry, item models.QueueItem) {
	start := time.Now()
	id := item.DocumentID()

	if hasFailed(item) {
		s.forward(ctx, item)
		return
	}

	doc, err := s.crawl.ReadDocument(models.PhaseTransform, id)
	if err != nil {
		s.fail(ctx, item, start, err)
		return
	}

	if err := registry.Send(ctx, doc); err != nil {
		s.fail(ctx, item, start, err)
		return
	}

	if err := s.crawl.Transition(models.PhaseTransform, models.PhasePublish, doc, id); err != nil {
		s.fail(ctx, item, start, err)
		return
	}

	if s.record != nil {
		s.record(doc, id)
	}
	s.counters.Published.Add(1)
	s.forward(ctx, item.WithTiming(models.PhasePublish, time.Since(start)))
}

func (s *PublishStage) fail(ctx context.Context, item models.QueueItem, start time.Time, err error) {
	s.counters.Failed.Add(1)
	s.logger.Warn().
		Str("doc_id", item.DocumentID()).
		Err(err).
		Msg("Publish failed")
	if s.notices != nil {
		s.notices(Notice{DocID: item.DocumentID(), Phase: models.PhasePublish, Status: "error", Message: err.Error()})
	}
	s.forward(ctx, item.WithTiming(models.PhaseError, time.Since(start)))
}

func (s *PublishStage) forward(ctx context.Context, item models.QueueItem) {
	if err := s.out.Put(ctx, item); err != nil {
		s.logger.Debug().Str("doc_id", item.DocumentID()).Msg("Publish forward cancelled")
	}
}
