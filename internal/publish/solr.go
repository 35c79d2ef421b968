package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/AlColeNS/search-expiscor-sub004/internal/common"
	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

// IndexClient is the transport behind a batch publisher: it moves already
// batched operations to one index backend.
type IndexClient interface {
	Name() string
	Validate() error
	Add(ctx context.Context, docs []*models.Document) error
	Commit(ctx context.Context) error
	Optimize(ctx context.Context) error
	Close() error
}

// SolrClient posts XML update operations to a Solr-compatible index over
// HTTP. Requests are throttled by a shared rate limiter when a rate limit is
// configured.
type SolrClient struct {
	baseURL    string
	core       string
	account    string
	password   string
	pkName     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     arbor.ILogger
}

// SolrOption customizes the client.
type SolrOption func(*SolrClient)

// WithHTTPClient overrides the underlying HTTP client (used by tests).
func WithHTTPClient(client *http.Client) SolrOption {
	return func(c *SolrClient) {
		c.httpClient = client
	}
}

// WithRateLimiter overrides the request throttle.
func WithRateLimiter(limiter *rate.Limiter) SolrOption {
	return func(c *SolrClient) {
		c.limiter = limiter
	}
}

// NewSolrClient creates a client for the configured index endpoint.
func NewSolrClient(config *common.SolrConfig, logger arbor.ILogger, opts ...SolrOption) *SolrClient {
	timeout := 30 * time.Second
	if config.RequestTimeout > 0 {
		timeout = time.Duration(config.RequestTimeout) * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit)
	}

	client := &SolrClient{
		baseURL:    strings.TrimSuffix(config.URL, "/"),
		core:       config.Core,
		account:    config.Account,
		password:   config.Password,
		pkName:     config.PrimaryKeyName,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *SolrClient) Name() string { return "solr" }

// Validate checks the endpoint configuration without touching the network.
func (c *SolrClient) Validate() error {
	if c.baseURL == "" {
		return fmt.Errorf("solr url is not configured")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid solr url: %s", c.baseURL)
	}
	if c.core == "" {
		return fmt.Errorf("solr core is not configured")
	}
	return nil
}

// Add posts one add operation for the batch.
func (c *SolrClient) Add(ctx context.Context, docs []*models.Document) error {
	payload, err := EncodeAdd(docs, c.pkName)
	if err != nil {
		return err
	}
	return c.post(ctx, payload)
}

// Commit posts a commit operation.
func (c *SolrClient) Commit(ctx context.Context) error {
	return c.post(ctx, []byte(commitXML))
}

// Optimize posts an optimize operation.
func (c *SolrClient) Optimize(ctx context.Context) error {
	return c.post(ctx, []byte(optimizeXML))
}

// Close releases idle connections.
func (c *SolrClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *SolrClient) post(ctx context.Context, payload []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/update", c.baseURL, c.core)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create index request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	if c.account != "" {
		req.SetBasicAuth(c.account, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("index request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("index returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("bytes", len(payload)).
		Msg("Index update accepted")
	return nil
}
