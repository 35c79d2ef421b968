package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/common"
	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func collectDocs(t *testing.T, driver Driver, opts CrawlOptions) []*models.Document {
	t.Helper()
	var docs []*models.Document
	err := driver.Crawl(context.Background(), opts, func(_ context.Context, doc *models.Document) error {
		docs = append(docs, doc)
		return nil
	})
	require.NoError(t, err)
	return docs
}

func fsDriver(t *testing.T, config *common.ExtractConfig) *FilesystemDriver {
	t.Helper()
	driver, err := NewFilesystemDriver(config, "Document", models.DefaultSchema(), arbor.NewLogger())
	require.NoError(t, err)
	return driver
}

func TestFilesystemCrawl(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.txt":        "alpha",
		"sub/b.txt":    "beta",
		"sub/c.secret": "gamma",
	})

	driver := fsDriver(t, &common.ExtractConfig{
		StartLocations: []string{dir},
		IgnorePatterns: []string{`\.secret$`},
	})
	require.NoError(t, driver.Validate())

	docs := collectDocs(t, driver, CrawlOptions{})
	require.Len(t, docs, 2)

	titles := []string{docs[0].Field("title"), docs[1].Field("title")}
	assert.ElementsMatch(t, []string{"a", "b"}, titles)
	for _, doc := range docs {
		assert.NotEmpty(t, doc.PrimaryValue())
		assert.NotEmpty(t, doc.Field("content"))
		assert.Contains(t, doc.Field("url"), "file://")
		assert.NotEmpty(t, doc.Extra["content_hash"])
	}
}

func TestFilesystemValidateMissingLocation(t *testing.T) {
	driver := fsDriver(t, &common.ExtractConfig{
		StartLocations: []string{filepath.Join(t.TempDir(), "absent")},
	})
	assert.Error(t, driver.Validate())

	empty := fsDriver(t, &common.ExtractConfig{})
	assert.Error(t, empty.Validate())
}

func TestFilesystemSkipsBinary(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plain.txt"), []byte("text"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"),
		[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}, 0644))

	driver := fsDriver(t, &common.ExtractConfig{StartLocations: []string{dir}})
	docs := collectDocs(t, driver, CrawlOptions{})
	require.Len(t, docs, 1)
	assert.Equal(t, "plain", docs[0].Field("title"))
}

func TestFilesystemMaxPages(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.txt": "a", "b.txt": "b", "c.txt": "c"})

	driver := fsDriver(t, &common.ExtractConfig{
		StartLocations: []string{dir},
		CrawlMaxPages:  2,
	})
	docs := collectDocs(t, driver, CrawlOptions{})
	assert.Len(t, docs, 2)
}

func TestFilesystemIncrementalWatermark(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.txt")
	newPath := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("old"), 0644))
	require.NoError(t, os.WriteFile(newPath, []byte("new"), 0644))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	driver := fsDriver(t, &common.ExtractConfig{StartLocations: []string{dir}})
	docs := collectDocs(t, driver, CrawlOptions{
		Incremental: true,
		Watermark:   time.Now().Add(-time.Hour),
	})
	require.Len(t, docs, 1)
	assert.Equal(t, "new", docs[0].Field("title"))
}

func TestFilesystemIncrementalChangeDetection(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.txt": "alpha", "b.txt": "beta"})

	driver := fsDriver(t, &common.ExtractConfig{StartLocations: []string{dir}})
	docs := collectDocs(t, driver, CrawlOptions{
		Incremental: true,
		Changed: func(id string, _ time.Time, _ string) bool {
			return false // Everything unchanged
		},
	})
	assert.Empty(t, docs)
}

func TestFilesystemDocumentIDDerivation(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.txt": "alpha"})

	driver := fsDriver(t, &common.ExtractConfig{StartLocations: []string{dir}})
	docs := collectDocs(t, driver, CrawlOptions{
		DocumentID: func(locator string) string {
			return common.EncodeDocumentID("fs", locator)
		},
	})
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].PrimaryValue(), "fs-")
}
