package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/common"
	"github.com/AlColeNS/search-expiscor-sub004/internal/crawlqueue"
	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
	"github.com/AlColeNS/search-expiscor-sub004/internal/publish"
	"github.com/AlColeNS/search-expiscor-sub004/internal/snapshot"
	"github.com/AlColeNS/search-expiscor-sub004/internal/sources"
)

// State names the runner lifecycle states.
type State string

const (
	StateIdle      State = "Idle"
	StateStarting  State = "Starting"
	StateRunning   State = "Running"
	StateDraining  State = "Draining"
	StateCompleted State = "Completed"
	StateFailed    State = "Failed"
	StateAborted   State = "Aborted"
)

// TaskRunner supervises one crawl at a time: readiness checks, crawl queue
// lifecycle, stage wiring and startup order, joining, and final disposition
// of the crawl working directory.
type TaskRunner struct {
	config    *common.Config
	driver    sources.Driver
	pipeline  *TransformPipeline
	crawl     *crawlqueue.CrawlQueue
	snapshots *snapshot.Store // may be nil
	notices   NoticeFunc      // may be nil
	logger    arbor.ILogger

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	counters *Counters
	report   *Report
}

// NewTaskRunner assembles a runner from its collaborators. snapshots may be
// nil, which disables incremental change detection.
func NewTaskRunner(config *common.Config, driver sources.Driver, transform *TransformPipeline, crawl *crawlqueue.CrawlQueue, snapshots *snapshot.Store, logger arbor.ILogger) *TaskRunner {
	return &TaskRunner{
		config:    config,
		driver:    driver,
		pipeline:  transform,
		crawl:     crawl,
		snapshots: snapshots,
		logger:    logger,
		state:     StateIdle,
		counters:  &Counters{},
	}
}

// SetNoticeSink registers the per-document event sink that feeds the crawl
// summary. Must be set before a run starts; stage workers call the sink from
// their own goroutines.
func (r *TaskRunner) SetNoticeSink(fn NoticeFunc) {
	r.notices = fn
}

// State returns the current lifecycle state.
func (r *TaskRunner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *TaskRunner) setState(state State) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
	r.logger.Debug().Str("state", string(state)).Msg("Runner state changed")
}

// Counters returns a point-in-time copy of the crawl counters.
func (r *TaskRunner) Counters() CounterValues {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters.Snapshot()
}

// LastReport returns the metrics report of the most recent crawl, or nil.
func (r *TaskRunner) LastReport() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}

// Readiness verifies configuration, driver, transform pipeline, and publisher
// resolution before any crawl work begins. Any failure is fatal for the run.
func (r *TaskRunner) Readiness() error {
	if err := r.config.Validate(); err != nil {
		return err
	}
	if err := r.driver.Validate(); err != nil {
		return fmt.Errorf("driver %s: %w", r.driver.Name(), err)
	}
	if err := r.pipeline.Validate(); err != nil {
		return err
	}

	// Probe registry: resolves every configured publisher name and validates
	// each client, with no archive attached.
	registry, err := r.buildRegistryFactory(nil)()
	if err != nil {
		return err
	}
	if err := registry.Validate(); err != nil {
		return err
	}
	return registry.Shutdown(context.Background(), false)
}

// buildRegistryFactory returns the per-worker registry factory for one crawl.
// The archive writer is shared across workers; nil disables archiving.
func (r *TaskRunner) buildRegistryFactory(archive *publish.ArchiveWriter) RegistryFactory {
	connector := &r.config.Connector
	return func() (*publish.Registry, error) {
		registry := publish.NewRegistry(r.logger)
		registry.Register("solr", func() (*publish.BatchPublisher, error) {
			client := publish.NewSolrClient(&connector.Solr, r.logger)
			return publish.NewBatchPublisher(
				client,
				archive,
				connector.Publish.UploadEnabled,
				connector.Publish.FeedBatchCount,
				connector.Publish.FeedCommitCount,
				connector.Publish.FeedMaximumCount,
				connector.Solr.PrimaryKeyName,
				r.logger,
			), nil
		})
		if err := registry.Resolve(connector.Publish.PipeLine); err != nil {
			return nil, err
		}
		return registry, nil
	}
}

// RunCrawl executes one full four-stage crawl and blocks until it finishes.
// watermark is the start time of the previous successful crawl of the same
// kind (zero for full crawls).
func (r *TaskRunner) RunCrawl(ctx context.Context, crawlType crawlqueue.CrawlType, watermark time.Time) (*Report, error) {
	runCtx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer r.end()

	if err := r.Readiness(); err != nil {
		r.notice(Notice{Status: "error", Message: err.Error()})
		r.setState(StateFailed)
		return nil, err
	}
	if err := r.crawl.Start(crawlType, watermark); err != nil {
		r.setState(StateFailed)
		return nil, err
	}

	connector := &r.config.Connector
	pollTimeout := connector.QueuePollTimeout()
	transformQ := NewQueue(connector.Extract.QueueLength)
	publishQ := NewQueue(connector.Transform.QueueLength)
	metricsQ := NewQueue(connector.Publish.QueueLength)

	var archive *publish.ArchiveWriter
	if connector.Publish.ArchiveEnabled {
		archive = publish.NewArchiveWriter(filepath.Join(r.crawl.Dir(), "archive"), r.logger)
	}

	extract := NewExtractStage(r.driver, r.crawl, transformQ, r.crawlOptions(crawlType, watermark), r.counters, r.notices, r.logger)
	transform := NewTransformStage(transformQ, publishQ, r.crawl, r.pipeline, connector.Transform.ThreadCount, pollTimeout, r.counters, r.notices, r.logger)
	publishStage := NewPublishStage(publishQ, metricsQ, r.crawl, r.buildRegistryFactory(archive), r.recordFunc(), connector.Publish.ThreadCount, pollTimeout, connector.Publish.OptimizeUponCompletion, r.counters, r.notices, r.logger)
	metrics := NewMetricsStage(metricsQ, pollTimeout, models.PhasePublish, r.logger)

	r.setState(StateRunning)
	r.logger.Info().
		Str("crawl_type", string(crawlType)).
		Int64("crawl_id", r.crawl.CrawlID()).
		Msg("Crawl started")

	// Consumers start before their producers.
	stageErrs := runStages(runCtx, metrics.Run, publishStage.Run, transform.Run, extract.Run)

	if runCtx.Err() != nil {
		r.discardQueues(transformQ, publishQ, metricsQ)
	}
	if archive != nil {
		if err := archive.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to close archive writer")
		}
	}

	return r.finish(runCtx, metrics.Report(), stageErrs)
}

// RunPhases executes a single-pass run over the configured phase subset,
// seeding the first selected stage from the staged files of the most recent
// crawl when extract is not selected. Phase selections are expected to be
// contiguous (e.g. Transform+Publish); the seeding covers the boundary.
func (r *TaskRunner) RunPhases(ctx context.Context) (*Report, error) {
	connector := &r.config.Connector

	if connector.HasPhase("Snapshot") {
		if err := r.RefreshSnapshot(ctx); err != nil {
			return nil, err
		}
		if !connector.HasPhase("Extract") && !connector.HasPhase("Transform") && !connector.HasPhase("Publish") {
			return &Report{Phases: map[models.Phase]*PhaseStats{}}, nil
		}
	}

	runCtx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer r.end()

	if err := r.Readiness(); err != nil {
		r.notice(Notice{Status: "error", Message: err.Error()})
		r.setState(StateFailed)
		return nil, err
	}

	withExtract := connector.HasPhase("Extract")
	withTransform := connector.HasPhase("Transform")
	withPublish := connector.HasPhase("Publish")
	if !withExtract && !withTransform && !withPublish {
		r.setState(StateCompleted)
		return &Report{Phases: map[models.Phase]*PhaseStats{}}, nil
	}

	if withExtract {
		err = r.crawl.Start(crawlqueue.CrawlTypeFull, time.Time{})
	} else {
		err = r.crawl.Resume(crawlqueue.CrawlTypeFull)
	}
	if err != nil {
		r.setState(StateFailed)
		return nil, err
	}

	pollTimeout := connector.QueuePollTimeout()

	var archive *publish.ArchiveWriter
	if withPublish && connector.Publish.ArchiveEnabled {
		archive = publish.NewArchiveWriter(filepath.Join(r.crawl.Dir(), "archive"), r.logger)
	}

	var stages []func(context.Context) error
	var queues []*Queue
	var next *Queue
	terminal := models.PhaseExtract

	if withExtract {
		next = NewQueue(connector.Extract.QueueLength)
		queues = append(queues, next)
		stages = append(stages, NewExtractStage(r.driver, r.crawl, next, r.crawlOptions(crawlqueue.CrawlTypeFull, time.Time{}), r.counters, r.notices, r.logger).Run)
	}
	if withTransform {
		if next == nil {
			next = NewQueue(connector.Extract.QueueLength)
			queues = append(queues, next)
			stages = append(stages, r.seeder(next, models.PhaseExtract))
		}
		in := next
		next = NewQueue(connector.Transform.QueueLength)
		queues = append(queues, next)
		stages = append(stages, NewTransformStage(in, next, r.crawl, r.pipeline, connector.Transform.ThreadCount, pollTimeout, r.counters, r.notices, r.logger).Run)
		terminal = models.PhaseTransform
	}
	if withPublish {
		if next == nil {
			next = NewQueue(connector.Transform.QueueLength)
			queues = append(queues, next)
			stages = append(stages, r.seeder(next, models.PhaseTransform))
		}
		in := next
		next = NewQueue(connector.Publish.QueueLength)
		queues = append(queues, next)
		stages = append(stages, NewPublishStage(in, next, r.crawl, r.buildRegistryFactory(archive), r.recordFunc(), connector.Publish.ThreadCount, pollTimeout, connector.Publish.OptimizeUponCompletion, r.counters, r.notices, r.logger).Run)
		terminal = models.PhasePublish
	}

	metrics := NewMetricsStage(next, pollTimeout, terminal, r.logger)
	stages = append(stages, metrics.Run)

	r.setState(StateRunning)
	r.logger.Info().
		Int64("crawl_id", r.crawl.CrawlID()).
		Str("terminal_phase", string(terminal)).
		Msg("Single-pass run started")

	// Reverse so consumers start before producers.
	ordered := make([]func(context.Context) error, len(stages))
	for i, stage := range stages {
		ordered[len(stages)-1-i] = stage
	}
	stageErrs := runStages(runCtx, ordered...)

	if runCtx.Err() != nil {
		r.discardQueues(queues...)
	}
	if archive != nil {
		if err := archive.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to close archive writer")
		}
	}

	// Single-pass runs always retain staged files; a later pass may need them.
	report := metrics.Report()
	r.mu.Lock()
	r.report = report
	aborted := runCtx.Err() != nil
	r.mu.Unlock()
	if err := r.crawl.Finish(true); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to finish crawl queue")
	}
	return r.disposition(report, stageErrs, aborted)
}

// RefreshSnapshot walks the source recording snapshot entries without staging
// or publishing anything. The next incremental crawl skips everything the
// refresh saw unchanged.
func (r *TaskRunner) RefreshSnapshot(ctx context.Context) error {
	if r.snapshots == nil {
		return fmt.Errorf("snapshot store is not configured")
	}
	if err := r.driver.Validate(); err != nil {
		return fmt.Errorf("driver %s: %w", r.driver.Name(), err)
	}

	connector := &r.config.Connector
	count := 0
	opts := sources.CrawlOptions{
		DocumentID: func(locator string) string {
			return common.EncodeDocumentID(connector.Extract.IDValuePrefix, locator)
		},
	}
	err := r.driver.Crawl(ctx, opts, func(_ context.Context, doc *models.Document) error {
		id := doc.PrimaryValue()
		if id == "" {
			return nil
		}
		entry := &snapshot.Entry{
			ID:           id,
			Locator:      doc.Locator,
			LastModified: doc.LastModified,
			ContentHash:  doc.Extra["content_hash"],
		}
		if err := r.snapshots.Put(entry); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("snapshot refresh: %w", err)
	}
	r.logger.Info().Int("documents", count).Msg("Snapshot refreshed")
	return nil
}

// Abort cancels a running crawl. Stages drain and exit; the crawl working
// directory is retained for inspection.
func (r *TaskRunner) Abort() {
	r.mu.Lock()
	cancel := r.cancel
	running := r.state == StateStarting || r.state == StateRunning
	r.mu.Unlock()

	if !running || cancel == nil {
		return
	}
	r.logger.Warn().Msg("Aborting crawl")
	r.setState(StateDraining)
	r.driver.Stop()
	cancel()
}

func (r *TaskRunner) begin(ctx context.Context) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateStarting, StateRunning, StateDraining:
		return nil, fmt.Errorf("crawl already in progress")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.state = StateStarting
	r.cancel = cancel
	r.counters = &Counters{}
	return runCtx, nil
}

func (r *TaskRunner) end() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()
}

func (r *TaskRunner) crawlOptions(crawlType crawlqueue.CrawlType, watermark time.Time) sources.CrawlOptions {
	connector := &r.config.Connector
	opts := sources.CrawlOptions{
		Incremental: crawlType == crawlqueue.CrawlTypeIncremental,
		Watermark:   watermark,
		DocumentID: func(locator string) string {
			return common.EncodeDocumentID(connector.Extract.IDValuePrefix, locator)
		},
	}
	if r.snapshots != nil {
		opts.Changed = r.snapshots.Changed
	}
	return opts
}

// recordFunc persists a snapshot entry for each published document.
func (r *TaskRunner) recordFunc() RecordFunc {
	if r.snapshots == nil {
		return nil
	}
	crawlID := r.crawl.CrawlID()
	return func(doc *models.Document, id string) {
		entry := &snapshot.Entry{
			ID:           id,
			Locator:      doc.Locator,
			LastModified: doc.LastModified,
			ContentHash:  doc.Extra["content_hash"],
			CrawlID:      crawlID,
		}
		if err := r.snapshots.Put(entry); err != nil {
			r.logger.Warn().Str("doc_id", id).Err(err).Msg("Failed to record snapshot entry")
		}
	}
}

// seeder returns a producer stage that replays the staged files of a phase
// into a queue, marker last.
func (r *TaskRunner) seeder(out *Queue, phase models.Phase) func(context.Context) error {
	return func(ctx context.Context) error {
		ids, err := r.crawl.ListPhase(phase)
		if err != nil {
			r.crawl.PutMarker(ctx, out, phase)
			return err
		}
		for _, id := range ids {
			if err := out.Put(ctx, models.NewDocumentItem(id).WithTiming(phase, 0)); err != nil {
				return err
			}
		}
		r.logger.Info().Int("documents", len(ids)).Str("phase", string(phase)).Msg("Seeded staged documents")
		return r.crawl.PutMarker(ctx, out, phase)
	}
}

// finish completes a full crawl: record the report, settle the crawl
// directory, and translate stage errors into a final state.
func (r *TaskRunner) finish(runCtx context.Context, report *Report, stageErrs []error) (*Report, error) {
	r.mu.Lock()
	r.report = report
	aborted := runCtx.Err() != nil
	r.mu.Unlock()

	keepFiles := r.config.Connector.Publish.SaveFiles || aborted
	if err := r.crawl.Finish(keepFiles); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to finish crawl queue")
	}
	return r.disposition(report, stageErrs, aborted)
}

func (r *TaskRunner) disposition(report *Report, stageErrs []error, aborted bool) (*Report, error) {
	var firstErr error
	for _, err := range stageErrs {
		if err != nil {
			firstErr = err
			break
		}
	}

	switch {
	case aborted:
		r.setState(StateAborted)
		return report, fmt.Errorf("crawl aborted")
	case firstErr != nil:
		r.setState(StateFailed)
		return report, firstErr
	default:
		r.setState(StateCompleted)
		r.logger.Info().
			Int("documents", report.Documents).
			Int("failures", report.Failures).
			Msg("Crawl completed")
		return report, nil
	}
}

// notice forwards one event to the registered sink, if any.
func (r *TaskRunner) notice(n Notice) {
	if r.notices != nil {
		r.notices(n)
	}
}

// discardQueues empties whatever an aborted run left queued. The staged files
// stay on disk in the retained crawl directory; only the in-flight tokens are
// dropped.
func (r *TaskRunner) discardQueues(queues ...*Queue) {
	var discarded []models.QueueItem
	for _, q := range queues {
		q.DrainTo(&discarded)
	}
	if len(discarded) > 0 {
		r.logger.Warn().Int("discarded", len(discarded)).Msg("Discarded queued items after abort")
	}
}

// runStages starts each stage in its own goroutine, in the given order, and
// joins them all.
func runStages(ctx context.Context, stages ...func(context.Context) error) []error {
	var wg sync.WaitGroup
	errs := make([]error, len(stages))
	for i, stage := range stages {
		wg.Add(1)
		go func(idx int, run func(context.Context) error) {
			defer wg.Done()
			errs[idx] = run(ctx)
		}(i, stage)
	}
	wg.Wait()
	return errs
}
