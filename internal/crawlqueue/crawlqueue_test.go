package crawlqueue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

func newTestQueue(t *testing.T) *CrawlQueue {
	t.Helper()
	return New(t.TempDir(), arbor.NewLogger())
}

func testDocument(id string) *models.Document {
	schema := models.DefaultSchema()
	doc := models.NewDocument("Document", schema)
	doc.SetField("id", id)
	doc.SetField("title", "Test")
	doc.Locator = "/srv/" + id
	return doc
}

func TestStartCreatesPhaseDirs(t *testing.T) {
	cq := newTestQueue(t)
	require.NoError(t, cq.Start(CrawlTypeFull, time.Time{}))

	assert.True(t, cq.IsActive())
	assert.Equal(t, int64(1), cq.CrawlID())
	for _, phase := range []string{"extract", "transform", "publish", "archive"} {
		info, err := os.Stat(filepath.Join(cq.Dir(), phase))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestCrawlIDMonotonic(t *testing.T) {
	cq := newTestQueue(t)
	require.NoError(t, cq.Start(CrawlTypeFull, time.Time{}))
	first := cq.CrawlID()
	require.NoError(t, cq.Finish(false))

	require.NoError(t, cq.Start(CrawlTypeIncremental, time.Time{}))
	assert.Equal(t, first+1, cq.CrawlID())
	assert.Equal(t, CrawlTypeIncremental, cq.Type())
}

func TestStartWhileActiveFails(t *testing.T) {
	cq := newTestQueue(t)
	require.NoError(t, cq.Start(CrawlTypeFull, time.Time{}))
	assert.Error(t, cq.Start(CrawlTypeFull, time.Time{}))
}

func TestDocumentRoundTrip(t *testing.T) {
	cq := newTestQueue(t)
	require.NoError(t, cq.Start(CrawlTypeFull, time.Time{}))

	doc := testDocument("doc-1")
	require.NoError(t, cq.WriteDocument(models.PhaseExtract, "doc-1", doc))

	loaded, err := cq.ReadDocument(models.PhaseExtract, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", loaded.PrimaryValue())
	assert.Equal(t, doc.Locator, loaded.Locator)
}

func TestTransitionMovesFile(t *testing.T) {
	cq := newTestQueue(t)
	require.NoError(t, cq.Start(CrawlTypeFull, time.Time{}))

	doc := testDocument("doc-1")
	require.NoError(t, cq.WriteDocument(models.PhaseExtract, "doc-1", doc))
	require.NoError(t, cq.Transition(models.PhaseExtract, models.PhaseTransform, doc, "doc-1"))

	_, err := os.Stat(cq.DocPath(models.PhaseExtract, "doc-1"))
	assert.True(t, os.IsNotExist(err), "source file must be removed after transition")

	loaded, err := cq.ReadDocument(models.PhaseTransform, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", loaded.PrimaryValue())
}

func TestTransitionMissingSourceFails(t *testing.T) {
	cq := newTestQueue(t)
	require.NoError(t, cq.Start(CrawlTypeFull, time.Time{}))

	err := cq.Transition(models.PhaseExtract, models.PhaseTransform, testDocument("ghost"), "ghost")
	assert.Error(t, err)
}

func TestListPhase(t *testing.T) {
	cq := newTestQueue(t)
	require.NoError(t, cq.Start(CrawlTypeFull, time.Time{}))

	require.NoError(t, cq.WriteDocument(models.PhaseExtract, "doc-a", testDocument("doc-a")))
	require.NoError(t, cq.WriteDocument(models.PhaseExtract, "doc-b", testDocument("doc-b")))

	ids, err := cq.ListPhase(models.PhaseExtract)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc-a", "doc-b"}, ids)
}

func TestFinishPurgesUnlessKept(t *testing.T) {
	cq := newTestQueue(t)
	require.NoError(t, cq.Start(CrawlTypeFull, time.Time{}))
	dir := cq.Dir()
	require.NoError(t, cq.Finish(false))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, cq.Start(CrawlTypeFull, time.Time{}))
	dir = cq.Dir()
	require.NoError(t, cq.WriteDocument(models.PhaseExtract, "doc-1", testDocument("doc-1")))
	require.NoError(t, cq.Finish(true))
	_, err = os.Stat(dir)
	assert.NoError(t, err, "keep_files must retain the crawl directory")
}

func TestResume(t *testing.T) {
	cq := newTestQueue(t)
	require.NoError(t, cq.Start(CrawlTypeFull, time.Time{}))
	id := cq.CrawlID()
	require.NoError(t, cq.WriteDocument(models.PhaseExtract, "doc-1", testDocument("doc-1")))
	require.NoError(t, cq.Finish(true))

	require.NoError(t, cq.Resume(CrawlTypeFull))
	assert.Equal(t, id, cq.CrawlID())
	ids, err := cq.ListPhase(models.PhaseExtract)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, ids)
}

func TestSweepRemovesStaleCrawlDirs(t *testing.T) {
	cq := newTestQueue(t)

	// Two retained crawls, as left behind by aborted runs.
	require.NoError(t, cq.Start(CrawlTypeFull, time.Time{}))
	require.NoError(t, cq.Finish(true))
	require.NoError(t, cq.Start(CrawlTypeFull, time.Time{}))
	current := cq.Dir()
	require.NoError(t, cq.Finish(true))

	require.NoError(t, cq.Sweep())

	_, err := os.Stat(filepath.Join(cq.root, "1"))
	assert.True(t, os.IsNotExist(err), "stale crawl directory survives sweep")
	_, err = os.Stat(current)
	assert.NoError(t, err, "current crawl directory survives sweep")
}

func TestSweepOnFreshInstall(t *testing.T) {
	cq := newTestQueue(t)
	assert.NoError(t, cq.Sweep())
}

func TestSweepWhileActiveFails(t *testing.T) {
	cq := newTestQueue(t)
	require.NoError(t, cq.Start(CrawlTypeFull, time.Time{}))
	assert.Error(t, cq.Sweep())
}

func TestResumeWithoutPriorCrawlFails(t *testing.T) {
	cq := newTestQueue(t)
	assert.Error(t, cq.Resume(CrawlTypeFull))
}

func TestPutMarker(t *testing.T) {
	cq := newTestQueue(t)
	sink := &captureQueue{}
	require.NoError(t, cq.PutMarker(context.Background(), sink, models.PhaseExtract))
	require.Len(t, sink.items, 1)
	assert.True(t, cq.IsPhaseComplete(models.PhaseExtract, sink.items[0]))
	assert.False(t, cq.IsPhaseComplete(models.PhaseTransform, sink.items[0]))
}

type captureQueue struct {
	items []models.QueueItem
}

func (c *captureQueue) Put(_ context.Context, item models.QueueItem) error {
	c.items = append(c.items, item)
	return nil
}
