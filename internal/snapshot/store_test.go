package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/common"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(&common.BadgerConfig{Path: "snap"}, t.TempDir(), arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorePutGet(t *testing.T) {
	store := openTestStore(t)

	entry := &Entry{
		ID:           "doc-1",
		Locator:      "/srv/docs/a.txt",
		LastModified: time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC),
		ContentHash:  "abc123",
		CrawlID:      7,
	}
	require.NoError(t, store.Put(entry))

	loaded, err := store.Get("doc-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, entry.Locator, loaded.Locator)
	assert.Equal(t, entry.ContentHash, loaded.ContentHash)
	assert.Equal(t, int64(7), loaded.CrawlID)
	assert.False(t, loaded.UpdatedAt.IsZero())

	missing, err := store.Get("absent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStoreChanged(t *testing.T) {
	store := openTestStore(t)
	modified := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Put(&Entry{ID: "doc-1", LastModified: modified, ContentHash: "h1"}))

	assert.True(t, store.Changed("unknown", modified, "h1"), "unknown documents are changed")
	assert.False(t, store.Changed("doc-1", modified, "h1"), "same hash is unchanged")
	assert.True(t, store.Changed("doc-1", modified, "h2"), "hash difference wins")
	assert.False(t, store.Changed("doc-1", modified.Add(time.Hour), "h1"),
		"hash comparison takes precedence over timestamps")

	// No hashes on either side: fall back to modification time.
	require.NoError(t, store.Put(&Entry{ID: "doc-2", LastModified: modified}))
	assert.False(t, store.Changed("doc-2", modified, ""))
	assert.True(t, store.Changed("doc-2", modified.Add(time.Minute), ""))
}

func TestStoreCountAndDeleteAll(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Put(&Entry{ID: "a"}))
	require.NoError(t, store.Put(&Entry{ID: "b"}))

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.DeleteAll())
	n, err = store.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStoreResetOnStartup(t *testing.T) {
	install := t.TempDir()
	logger := arbor.NewLogger()

	store, err := Open(&common.BadgerConfig{Path: "snap"}, install, logger)
	require.NoError(t, err)
	require.NoError(t, store.Put(&Entry{ID: "doc-1"}))
	require.NoError(t, store.Close())

	store, err = Open(&common.BadgerConfig{Path: "snap", ResetOnStartup: true}, install, logger)
	require.NoError(t, err)
	defer store.Close()

	entry, err := store.Get("doc-1")
	require.NoError(t, err)
	assert.Nil(t, entry, "reset must clear prior state")
}
