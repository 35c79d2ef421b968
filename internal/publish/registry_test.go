package publish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newFakeFactory(client *fakeClient) PublisherFactory {
	return func() (*BatchPublisher, error) {
		return NewBatchPublisher(client, nil, true, 2, 100, 0, "", arbor.NewLogger()), nil
	}
}

func TestRegistryResolveUnknownNameFails(t *testing.T) {
	registry := NewRegistry(arbor.NewLogger())
	registry.Register("solr", newFakeFactory(&fakeClient{}))

	err := registry.Resolve([]string{"solr", "elasticsearch"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "elasticsearch")
}

func TestRegistryResolveEmptyPipelineFails(t *testing.T) {
	registry := NewRegistry(arbor.NewLogger())
	assert.Error(t, registry.Resolve(nil))
}

func TestRegistrySendFanOutInOrder(t *testing.T) {
	first := &fakeClient{}
	second := &fakeClient{}
	registry := NewRegistry(arbor.NewLogger())
	registry.Register("primary", newFakeFactory(first))
	registry.Register("mirror", newFakeFactory(second))
	require.NoError(t, registry.Resolve([]string{"primary", "mirror"}))

	for _, id := range []string{"a", "b"} {
		require.NoError(t, registry.Send(context.Background(), publishDoc(id)))
	}
	require.NoError(t, registry.Shutdown(context.Background(), false))

	assert.Equal(t, [][]string{{"a", "b"}}, first.batches)
	assert.Equal(t, [][]string{{"a", "b"}}, second.batches)
	assert.Equal(t, 4, registry.Sent())
}

func TestRegistryValidateWithoutResolveFails(t *testing.T) {
	registry := NewRegistry(arbor.NewLogger())
	assert.Error(t, registry.Validate())
}
