package publish

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/common"
	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

type recordedRequest struct {
	path        string
	contentType string
	body        string
	user        string
}

func startIndex(t *testing.T, status int) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		user, _, _ := r.BasicAuth()
		requests = append(requests, recordedRequest{
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
			user:        user,
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func solrConfig(url string) *common.SolrConfig {
	return &common.SolrConfig{
		URL:      url,
		Core:     "docs",
		Account:  "indexer",
		Password: "secret",
	}
}

func TestSolrClientAdd(t *testing.T) {
	server, requests := startIndex(t, http.StatusOK)
	client := NewSolrClient(solrConfig(server.URL), arbor.NewLogger())

	doc := models.NewDocument("Document", models.DefaultSchema())
	doc.SetField("id", "doc-1")
	require.NoError(t, client.Add(context.Background(), []*models.Document{doc}))

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "/docs/update", req.path)
	assert.Contains(t, req.contentType, "text/xml")
	assert.Contains(t, req.body, `<field name="id">doc-1</field>`)
	assert.Equal(t, "indexer", req.user)
}

func TestSolrClientCommitAndOptimize(t *testing.T) {
	server, requests := startIndex(t, http.StatusOK)
	client := NewSolrClient(solrConfig(server.URL), arbor.NewLogger())

	require.NoError(t, client.Commit(context.Background()))
	require.NoError(t, client.Optimize(context.Background()))

	require.Len(t, *requests, 2)
	assert.Contains(t, (*requests)[0].body, "<commit/>")
	assert.Contains(t, (*requests)[1].body, "<optimize/>")
}

func TestSolrClientErrorStatus(t *testing.T) {
	server, _ := startIndex(t, http.StatusInternalServerError)
	client := NewSolrClient(solrConfig(server.URL), arbor.NewLogger())

	err := client.Commit(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSolrClientValidate(t *testing.T) {
	tests := []struct {
		name   string
		config common.SolrConfig
		ok     bool
	}{
		{"valid", common.SolrConfig{URL: "http://localhost:8983/solr", Core: "docs"}, true},
		{"no url", common.SolrConfig{Core: "docs"}, false},
		{"bad scheme", common.SolrConfig{URL: "ldap://x", Core: "docs"}, false},
		{"no core", common.SolrConfig{URL: "http://localhost:8983/solr"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewSolrClient(&tt.config, arbor.NewLogger())
			if tt.ok {
				assert.NoError(t, client.Validate())
			} else {
				assert.Error(t, client.Validate())
			}
		})
	}
}
