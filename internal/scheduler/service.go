package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/common"
	"github.com/AlColeNS/search-expiscor-sub004/internal/crawlqueue"
	"github.com/AlColeNS/search-expiscor-sub004/internal/pipeline"
)

// CompletionFunc observes the outcome of each scheduled crawl (summary mail,
// status reporting). May be nil.
type CompletionFunc func(crawlType crawlqueue.CrawlType, report *pipeline.Report, err error)

// Service runs the connector in service mode: a periodic review decides
// whether a full or incremental crawl is due and runs at most one crawl at a
// time. Full crawls take priority over incremental ones.
type Service struct {
	config     *common.Config
	runner     *pipeline.TaskRunner
	timer      *ServiceTimer
	onComplete CompletionFunc
	logger     arbor.ILogger

	cron *cron.Cron

	mu       sync.Mutex
	crawling bool
}

// NewService assembles the scheduling service.
func NewService(config *common.Config, runner *pipeline.TaskRunner, timer *ServiceTimer, onComplete CompletionFunc, logger arbor.ILogger) *Service {
	return &Service{
		config:     config,
		runner:     runner,
		timer:      timer,
		onComplete: onComplete,
		logger:     logger,
	}
}

// Start begins the review loop. The first review runs after the configured
// startup delay; subsequent reviews run on the run_sleep_between cadence.
// Returns once the loop is scheduled; crawls run in the background.
func (s *Service) Start(ctx context.Context) error {
	between, err := common.ParseMinutes(s.config.Connector.RunSleepBetween)
	if err != nil {
		return fmt.Errorf("invalid review interval: %w", err)
	}
	if between < time.Minute {
		between = time.Minute
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", between), func() {
		s.review(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule review: %w", err)
	}

	delay := time.Duration(s.config.Connector.RunSleepStartupDelay) * time.Second
	go func() {
		select {
		case <-time.After(delay):
			s.review(ctx)
		case <-ctx.Done():
			return
		}
	}()

	s.cron.Start()
	s.logger.Info().
		Str("review_every", between.String()).
		Str("startup_delay", delay.String()).
		Msg("Scheduler started")
	return nil
}

// Stop halts the review loop and aborts any crawl in progress.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.runner.Abort()
	s.logger.Info().Msg("Scheduler stopped")
}

// review runs one scheduling decision. Skipped entirely when a crawl is
// already in progress.
func (s *Service) review(ctx context.Context) {
	s.mu.Lock()
	if s.crawling {
		s.mu.Unlock()
		s.logger.Debug().Msg("Review skipped; crawl in progress")
		return
	}
	s.crawling = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.crawling = false
		s.mu.Unlock()
	}()

	now := time.Now().UTC()
	switch {
	case s.timer.IsFullDue(now):
		s.runCrawl(ctx, crawlqueue.CrawlTypeFull, now, time.Time{})
	case s.timer.IsIncrementalDue(now):
		s.runCrawl(ctx, crawlqueue.CrawlTypeIncremental, now, s.timer.Watermark())
	default:
		s.logger.Debug().Msg("Review complete; no crawl due")
	}
}

func (s *Service) runCrawl(ctx context.Context, crawlType crawlqueue.CrawlType, started time.Time, watermark time.Time) {
	s.logger.Info().Str("crawl_type", string(crawlType)).Msg("Scheduled crawl starting")

	report, err := s.runner.RunCrawl(ctx, crawlType, watermark)
	if err != nil {
		s.logger.Error().Str("crawl_type", string(crawlType)).Err(err).Msg("Scheduled crawl failed")
	} else {
		// Stamp with the crawl START time so long crawls do not drift the
		// schedule by their own duration.
		var markErr error
		if crawlType == crawlqueue.CrawlTypeFull {
			markErr = s.timer.MarkFull(started)
		} else {
			markErr = s.timer.MarkIncremental(started)
		}
		if markErr != nil {
			s.logger.Error().Err(markErr).Msg("Failed to persist service timer")
		}
	}

	if s.onComplete != nil {
		s.onComplete(crawlType, report, err)
	}
}
