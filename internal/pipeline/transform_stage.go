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
)

// TransformStage runs a worker pool that loads each staged document, applies
// the transform pipeline, and transitions the file from the extract to the
// transform sub-area. The transform marker is posted exactly once, after
// every worker has drained and exited.
type TransformStage struct {
	in          *Queue
	out         *Queue
	crawl       *crawlqueue.CrawlQueue
	pipeline    *TransformPipeline
	threads     int
	pollTimeout time.Duration
	counters    *Counters
	notices     NoticeFunc
	logger      arbor.ILogger
}

// NewTransformStage wires the transform worker pool between the extract and
// publish queues.
func NewTransformStage(in, out *Queue, crawl *crawlqueue.CrawlQueue, pipeline *TransformPipeline, threads int, pollTimeout time.Duration, counters *Counters, notices NoticeFunc, logger arbor.ILogger) *TransformStage {
	if threads < 1 {
		threads = 1
	}
	return &TransformStage{
		in:          in,
		out:         out,
		crawl:       crawl,
		pipeline:    pipeline,
		threads:     threads,
		pollTimeout: pollTimeout,
		counters:    counters,
		notices:     notices,
		logger:      logger,
	}
}

// Run starts the workers, joins them, then forwards the phase marker.
func (s *TransformStage) Run(ctx context.Context) error {
	var upstreamDone atomic.Bool
	var wg sync.WaitGroup

	for i := 0; i < s.threads; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s.workerLoop(ctx, worker, &upstreamDone)
		}(i)
	}
	wg.Wait()

	if err := s.crawl.PutMarker(ctx, s.out, models.PhaseTransform); err != nil {
		return fmt.Errorf("failed to post transform marker: %w", err)
	}
	return nil
}

// workerLoop polls until the upstream marker has been observed and the input
// queue is drained. The worker that dequeues the marker records it; every
// worker exits on its next empty poll.
func (s *TransformStage) workerLoop(ctx context.Context, worker int, upstreamDone *atomic.Bool) {
	for {
		item, ok, err := s.in.Poll(ctx, s.pollTimeout)
		if err != nil {
			s.logger.Debug().Int("worker", worker).Msg("Transform worker cancelled")
			return
		}
		if !ok {
			if upstreamDone.Load() && s.in.Len() == 0 {
				return
			}
			continue
		}
		if item.IsMarker() {
			upstreamDone.Store(true)
			continue
		}
		s.process(ctx, item)
	}
}

func (s *TransformStage) process(ctx context.Context, item models.QueueItem) {
	start := time.Now()
	id := item.DocumentID()

	if hasFailed(item) {
		s.forward(ctx, item)
		return
	}

	doc, err := s.crawl.ReadDocument(models.PhaseExtract, id)
	if err != nil {
		s.fail(ctx, item, start, err)
		return
	}

	transformed, err := s.pipeline.Run(doc)
	if err != nil {
		s.fail(ctx, item, start, err)
		return
	}

	if err := s.crawl.Transition(models.PhaseExtract, models.PhaseTransform, transformed, id); err != nil {
		s.fail(ctx, item, start, err)
		return
	}

	s.counters.Transformed.Add(1)
	s.forward(ctx, item.WithTiming(models.PhaseTransform, time.Since(start)))
}

func (s *TransformStage) fail(ctx context.Context, item models.QueueItem, start time.Time, err error) {
	s.counters.Failed.Add(1)
	s.logger.Warn().
		Str("doc_id", item.DocumentID()).
		Err(err).
		Msg("Transform failed")
	if s.notices != nil {
		s.notices(Notice{DocID: item.DocumentID(), Phase: models.PhaseTransform, Status: "error", Message: err.Error()})
	}
	s.forward(ctx, item.WithTiming(models.PhaseError, time.Since(start)))
}

func (s *TransformStage) forward(ctx context.Context, item models.QueueItem) {
	if err := s.out.Put(ctx, item); err != nil {
		s.logger.Debug().Str("doc_id", item.DocumentID()).Msg("Transform forward cancelled")
	}
}
