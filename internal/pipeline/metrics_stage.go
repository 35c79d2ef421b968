package pipeline

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

// PhaseStats aggregates the elapsed times observed for one phase.
type PhaseStats struct {
	Count int           `json:"count"`
	Total time.Duration `json:"total"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// Average returns the mean elapsed time, or zero when nothing was observed.
func (s *PhaseStats) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

func (s *PhaseStats) observe(elapsed time.Duration) {
	if s.Count == 0 || elapsed < s.Min {
		s.Min = elapsed
	}
	if elapsed > s.Max {
		s.Max = elapsed
	}
	s.Count++
	s.Total += elapsed
}

// Report is the final crawl accounting produced by the metrics stage.
type Report struct {
	Documents int                          `json:"documents"`
	Failures  int                          `json:"failures"`
	Phases    map[models.Phase]*PhaseStats `json:"phases"`
	Elapsed   time.Duration                `json:"elapsed"`
}

// MetricsStage is the terminal consumer. A single worker drains the metrics
// queue, folding each item's accumulated timings into per-phase statistics,
// and finishes when the marker of the terminal phase arrives. On a full run
// the terminal phase is publish; on a single-pass run it is the last selected
// phase.
type MetricsStage struct {
	in          *Queue
	pollTimeout time.Duration
	terminal    models.Phase
	logger      arbor.ILogger

	report *Report
}

// NewMetricsStage creates the terminal stage on the metrics queue.
func NewMetricsStage(in *Queue, pollTimeout time.Duration, terminal models.Phase, logger arbor.ILogger) *MetricsStage {
	return &MetricsStage{
		in:          in,
		pollTimeout: pollTimeout,
		terminal:    terminal,
		logger:      logger,
		report: &Report{
			Phases: make(map[models.Phase]*PhaseStats),
		},
	}
}

// Run consumes until the terminal-phase marker or cancellation, then logs the
// crawl summary.
func (s *MetricsStage) Run(ctx context.Context) error {
	start := time.Now()
	for {
		item, ok, err := s.in.Poll(ctx, s.pollTimeout)
		if err != nil {
			break
		}
		if !ok {
			continue
		}
		if item.CompletesPhase(s.terminal) {
			break
		}
		if item.IsMarker() {
			continue
		}
		s.fold(item)
	}
	s.report.Elapsed = time.Since(start)
	s.logSummary()
	return nil
}

// Report returns the aggregated crawl statistics. Valid after Run returns.
func (s *MetricsStage) Report() *Report {
	return s.report
}

func (s *MetricsStage) fold(item models.QueueItem) {
	s.report.Documents++
	for _, timing := range item.Timings() {
		if timing.Phase == models.PhaseError {
			s.report.Failures++
			continue
		}
		stats := s.report.Phases[timing.Phase]
		if stats == nil {
			stats = &PhaseStats{}
			s.report.Phases[timing.Phase] = stats
		}
		stats.observe(timing.Elapsed)
	}
}

func (s *MetricsStage) logSummary() {
	event := s.logger.Info().
		Int("documents", s.report.Documents).
		Int("failures", s.report.Failures).
		Str("elapsed", s.report.Elapsed.Round(time.Millisecond).String())
	for phase, stats := range s.report.Phases {
		event = event.
			Str(string(phase)+"_avg", stats.Average().Round(time.Microsecond).String()).
			Str(string(phase)+"_max", stats.Max.Round(time.Microsecond).String())
	}
	event.Msg("Crawl metrics")
}
