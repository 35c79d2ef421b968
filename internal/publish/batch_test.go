package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

// fakeClient records index operations in order.
type fakeClient struct {
	ops     []string
	batches [][]string
	failAdd bool
}

func (f *fakeClient) Name() string    { return "fake" }
func (f *fakeClient) Validate() error { return nil }

func (f *fakeClient) Add(_ context.Context, docs []*models.Document) error {
	if f.failAdd {
		return fmt.Errorf("add rejected")
	}
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.PrimaryValue()
	}
	f.ops = append(f.ops, fmt.Sprintf("add:%d", len(docs)))
	f.batches = append(f.batches, ids)
	return nil
}

func (f *fakeClient) Commit(context.Context) error {
	f.ops = append(f.ops, "commit")
	return nil
}

func (f *fakeClient) Optimize(context.Context) error {
	f.ops = append(f.ops, "optimize")
	return nil
}

func (f *fakeClient) Close() error { return nil }

func publishDoc(id string) *models.Document {
	doc := models.NewDocument("Document", models.DefaultSchema())
	doc.SetField("id", id)
	doc.SetField("title", "Title "+id)
	return doc
}

func sendN(t *testing.T, p *BatchPublisher, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, p.Send(context.Background(), publishDoc(fmt.Sprintf("doc-%d", i))))
	}
}

func TestBatchCadence(t *testing.T) {
	// batch=3, commit=5, 8 documents: adds of 3+3+2, a commit when the
	// cumulative count crosses 5, and a final commit at shutdown.
	client := &fakeClient{}
	p := NewBatchPublisher(client, nil, true, 3, 5, 0, "", arbor.NewLogger())

	sendN(t, p, 8)
	require.NoError(t, p.FlushAndCommit(context.Background()))

	assert.Equal(t, []string{"add:3", "add:3", "commit", "add:2", "commit"}, client.ops)
	assert.Equal(t, 8, p.Sent())
	assert.Equal(t, 2, p.Commits())
}

func TestBatchExactMultiple(t *testing.T) {
	// batch=2, commit=4, 4 documents: the cadence commit lands on the last
	// flush and shutdown still issues its own closing commit.
	client := &fakeClient{}
	p := NewBatchPublisher(client, nil, true, 2, 4, 0, "", arbor.NewLogger())

	sendN(t, p, 4)
	require.NoError(t, p.FlushAndCommit(context.Background()))

	assert.Equal(t, []string{"add:2", "add:2", "commit", "commit"}, client.ops)
}

func TestBatchCommitBoundaryOnFinalFlush(t *testing.T) {
	// batch=3, commit=5, 10 documents: the 10-document commit boundary is
	// crossed only by the shutdown flush, which still owes the cadence commit
	// ahead of the closing one.
	client := &fakeClient{}
	p := NewBatchPublisher(client, nil, true, 3, 5, 0, "", arbor.NewLogger())

	sendN(t, p, 10)
	require.NoError(t, p.FlushAndCommit(context.Background()))

	assert.Equal(t, []string{"add:3", "add:3", "commit", "add:3", "add:1", "commit", "commit"}, client.ops)
	assert.Equal(t, 3, p.Commits())
}

func TestBatchMaxDocsSilentCap(t *testing.T) {
	client := &fakeClient{}
	p := NewBatchPublisher(client, nil, true, 2, 100, 3, "", arbor.NewLogger())

	sendN(t, p, 10)
	require.NoError(t, p.FlushAndCommit(context.Background()))

	assert.Equal(t, 3, p.Sent())
	assert.Equal(t, 7, p.Dropped())
	assert.Equal(t, []string{"add:2", "add:1", "commit"}, client.ops)
}

func TestBatchEmptyRunSkipsCommit(t *testing.T) {
	client := &fakeClient{}
	p := NewBatchPublisher(client, nil, true, 10, 100, 0, "", arbor.NewLogger())

	require.NoError(t, p.FlushAndCommit(context.Background()))
	assert.Empty(t, client.ops)
}

func TestBatchUploadDisabled(t *testing.T) {
	client := &fakeClient{}
	p := NewBatchPublisher(client, nil, false, 2, 4, 0, "", arbor.NewLogger())

	sendN(t, p, 5)
	require.NoError(t, p.FlushAndCommit(context.Background()))

	assert.Empty(t, client.ops, "disabled upload must not touch the index")
	assert.Equal(t, 5, p.Sent())
}

func TestBatchAddFailurePropagates(t *testing.T) {
	client := &fakeClient{failAdd: true}
	p := NewBatchPublisher(client, nil, true, 1, 100, 0, "", arbor.NewLogger())

	err := p.Send(context.Background(), publishDoc("doc-1"))
	assert.Error(t, err)
	assert.Equal(t, 0, p.Sent())
}

func TestBatchShutdownOptimize(t *testing.T) {
	client := &fakeClient{}
	p := NewBatchPublisher(client, nil, true, 10, 100, 0, "", arbor.NewLogger())

	sendN(t, p, 2)
	require.NoError(t, p.Shutdown(context.Background(), true))

	assert.Equal(t, []string{"add:2", "commit", "optimize"}, client.ops)
}

func TestBatchArchiveMirrorsOperations(t *testing.T) {
	dir := t.TempDir()
	archive := NewArchiveWriter(dir, arbor.NewLogger())
	client := &fakeClient{}
	p := NewBatchPublisher(client, archive, true, 2, 4, 0, "", arbor.NewLogger())

	sendN(t, p, 6)
	require.NoError(t, p.FlushAndCommit(context.Background()))
	require.NoError(t, archive.Close())

	// Commit at 4 rotates the file; the final window lands in the second.
	first, err := os.ReadFile(filepath.Join(dir, "solr-1.xml"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(first), "<add>"))
	assert.Contains(t, string(first), "<commit/>")
	assert.Contains(t, string(first), "doc-1")

	second, err := os.ReadFile(filepath.Join(dir, "solr-2.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(second), "doc-5")
	assert.Contains(t, string(second), "<commit/>")
}
