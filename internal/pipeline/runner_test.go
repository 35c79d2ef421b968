package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/common"
	"github.com/AlColeNS/search-expiscor-sub004/internal/crawlqueue"
	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
	"github.com/AlColeNS/search-expiscor-sub004/internal/sources"
)

// stubDriver emits a fixed number of synthetic documents.
type stubDriver struct {
	docs    int
	failOne int // 1-based index of a document emitted without a primary key; 0 = none
	stopped atomic.Bool
}

func (d *stubDriver) Name() string    { return "stub" }
func (d *stubDriver) Validate() error { return nil }
func (d *stubDriver) Stop()           { d.stopped.Store(true) }

func (d *stubDriver) Crawl(ctx context.Context, opts sources.CrawlOptions, emit sources.EmitFunc) error {
	for i := 1; i <= d.docs; i++ {
		if d.stopped.Load() || ctx.Err() != nil {
			return nil
		}
		doc := models.NewDocument("Document", models.DefaultSchema())
		doc.Locator = fmt.Sprintf("/stub/%d", i)
		if d.failOne != i {
			id := doc.Locator
			if opts.DocumentID != nil {
				id = opts.DocumentID(doc.Locator)
			}
			doc.SetField("id", id)
		}
		doc.SetField("title", fmt.Sprintf("Stub %d", i))
		doc.SetField("content", "body")
		if err := emit(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

func testRunnerConfig(t *testing.T) *common.Config {
	t.Helper()
	config := common.DefaultConfig()
	config.Connector.InstallPath = t.TempDir()
	config.Connector.QueueWaitTimeout = 1
	config.Connector.Publish.UploadEnabled = false
	config.Connector.Publish.ArchiveEnabled = true
	config.Connector.Publish.SaveFiles = true
	config.Connector.Publish.FeedBatchCount = 2
	config.Connector.Publish.FeedCommitCount = 3
	return config
}

func newTestRunner(t *testing.T, config *common.Config, driver sources.Driver) *TaskRunner {
	t.Helper()
	logger := arbor.NewLogger()
	transform, err := BuildPipeline([]string{"trim", "defaults", "validate"})
	require.NoError(t, err)
	crawl := crawlqueue.New(config.Connector.InstallPath, logger)
	return NewTaskRunner(config, driver, transform, crawl, nil, logger)
}

func TestRunCrawlEndToEnd(t *testing.T) {
	config := testRunnerConfig(t)
	driver := &stubDriver{docs: 5}
	runner := newTestRunner(t, config, driver)

	report, err := runner.RunCrawl(context.Background(), crawlqueue.CrawlTypeFull, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, runner.State())

	require.NotNil(t, report)
	assert.Equal(t, 5, report.Documents)
	assert.Equal(t, 0, report.Failures)
	assert.NotZero(t, report.Phases[models.PhaseExtract].Count)
	assert.Equal(t, 5, report.Phases[models.PhasePublish].Count)

	counters := runner.Counters()
	assert.Equal(t, int64(5), counters.Extracted)
	assert.Equal(t, int64(5), counters.Transformed)
	assert.Equal(t, int64(5), counters.Published)

	// SaveFiles retains the crawl directory: documents end in publish/,
	// extract/ and transform/ are drained, archive holds the XML stream.
	crawlDir := filepath.Join(config.Connector.InstallPath, "data", "crawler", "1")
	assertDirCount(t, filepath.Join(crawlDir, "extract"), 0)
	assertDirCount(t, filepath.Join(crawlDir, "transform"), 0)
	assertDirCount(t, filepath.Join(crawlDir, "publish"), 5)

	archived, err := os.ReadDir(filepath.Join(crawlDir, "archive"))
	require.NoError(t, err)
	assert.NotEmpty(t, archived)
}

func TestRunCrawlCountsFailures(t *testing.T) {
	config := testRunnerConfig(t)
	driver := &stubDriver{docs: 4, failOne: 2}
	runner := newTestRunner(t, config, driver)

	report, err := runner.RunCrawl(context.Background(), crawlqueue.CrawlTypeFull, time.Time{})
	require.NoError(t, err)

	// The document without a primary key is dropped at extract; the rest
	// flow through.
	assert.Equal(t, 3, report.Documents)
	assert.Equal(t, int64(1), runner.Counters().Failed)
	assert.Equal(t, int64(3), runner.Counters().Published)
}

func TestRunCrawlReportsFailuresToNoticeSink(t *testing.T) {
	config := testRunnerConfig(t)
	driver := &stubDriver{docs: 4, failOne: 2}
	runner := newTestRunner(t, config, driver)

	var mu sync.Mutex
	var notices []Notice
	runner.SetNoticeSink(func(n Notice) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	})

	_, err := runner.RunCrawl(context.Background(), crawlqueue.CrawlTypeFull, time.Time{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notices, 1, "each failed document yields one summary row")
	assert.Equal(t, "error", notices[0].Status)
	assert.Equal(t, models.PhaseExtract, notices[0].Phase)
	assert.Contains(t, notices[0].Message, "primary key")
}

func TestRunCrawlPurgesDirWithoutSaveFiles(t *testing.T) {
	config := testRunnerConfig(t)
	config.Connector.Publish.SaveFiles = false
	config.Connector.Publish.ArchiveEnabled = false
	runner := newTestRunner(t, config, &stubDriver{docs: 2})

	_, err := runner.RunCrawl(context.Background(), crawlqueue.CrawlTypeFull, time.Time{})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(config.Connector.InstallPath, "data", "crawler", "1"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunCrawlRejectsConcurrentRun(t *testing.T) {
	config := testRunnerConfig(t)
	runner := newTestRunner(t, config, &stubDriver{docs: 1})

	r := runner
	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()

	_, err := runner.RunCrawl(context.Background(), crawlqueue.CrawlTypeFull, time.Time{})
	assert.Error(t, err)
}

func TestRunCrawlFailsReadinessOnBadPublisher(t *testing.T) {
	config := testRunnerConfig(t)
	config.Connector.Publish.PipeLine = []string{"elasticsearch"}
	runner := newTestRunner(t, config, &stubDriver{docs: 1})

	var mu sync.Mutex
	var notices []Notice
	runner.SetNoticeSink(func(n Notice) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	})

	_, err := runner.RunCrawl(context.Background(), crawlqueue.CrawlTypeFull, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "elasticsearch")
	assert.Equal(t, StateFailed, runner.State())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notices, 1, "readiness failures surface in the summary")
	assert.Equal(t, "error", notices[0].Status)
}

func TestRunPhasesExtractOnly(t *testing.T) {
	config := testRunnerConfig(t)
	config.Connector.PhaseList = []string{"Extract"}
	runner := newTestRunner(t, config, &stubDriver{docs: 3})

	report, err := runner.RunPhases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Documents)

	// Extract-only leaves the staged files for a later pass.
	crawlDir := filepath.Join(config.Connector.InstallPath, "data", "crawler", "1")
	assertDirCount(t, filepath.Join(crawlDir, "extract"), 3)
}

func TestRunPhasesResumesForDownstreamPhases(t *testing.T) {
	config := testRunnerConfig(t)
	config.Connector.PhaseList = []string{"Extract"}
	runner := newTestRunner(t, config, &stubDriver{docs: 3})
	_, err := runner.RunPhases(context.Background())
	require.NoError(t, err)

	config.Connector.PhaseList = []string{"Transform", "Publish"}
	report, err := runner.RunPhases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Documents)

	crawlDir := filepath.Join(config.Connector.InstallPath, "data", "crawler", "1")
	assertDirCount(t, filepath.Join(crawlDir, "extract"), 0)
	assertDirCount(t, filepath.Join(crawlDir, "publish"), 3)
}

func TestAbortRetainsCrawlDirectory(t *testing.T) {
	config := testRunnerConfig(t)
	config.Connector.Publish.SaveFiles = false
	driver := &slowDriver{docs: 50}
	runner := newTestRunner(t, config, driver)

	done := make(chan struct{})
	var report *Report
	var runErr error
	go func() {
		report, runErr = runner.RunCrawl(context.Background(), crawlqueue.CrawlTypeFull, time.Time{})
		close(done)
	}()

	// Wait until the crawl is demonstrably under way, then abort.
	require.Eventually(t, func() bool {
		return runner.Counters().Extracted > 0
	}, 10*time.Second, 10*time.Millisecond)
	runner.Abort()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("aborted crawl did not wind down")
	}

	require.Error(t, runErr)
	assert.Equal(t, StateAborted, runner.State())
	_ = report

	// Aborted crawls keep their working directory for inspection.
	_, err := os.Stat(filepath.Join(config.Connector.InstallPath, "data", "crawler", "1"))
	assert.NoError(t, err)
}

// slowDriver paces emission so an abort can land mid-crawl.
type slowDriver struct {
	docs    int
	stopped atomic.Bool
}

func (d *slowDriver) Name() string    { return "slow" }
func (d *slowDriver) Validate() error { return nil }
func (d *slowDriver) Stop()           { d.stopped.Store(true) }

func (d *slowDriver) Crawl(ctx context.Context, opts sources.CrawlOptions, emit sources.EmitFunc) error {
	for i := 1; i <= d.docs; i++ {
		if d.stopped.Load() || ctx.Err() != nil {
			return nil
		}
		doc := models.NewDocument("Document", models.DefaultSchema())
		doc.Locator = fmt.Sprintf("/slow/%d", i)
		doc.SetField("id", doc.Locator)
		doc.SetField("title", "Slow")
		if err := emit(ctx, doc); err != nil {
			return err
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

func assertDirCount(t *testing.T, dir string, want int) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			count++
		}
	}
	assert.Equal(t, want, count, "unexpected file count in %s", dir)
}
