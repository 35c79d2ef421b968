package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/AlColeNS/search-expiscor-sub004/internal/common"
	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

const maxResponseBytes = 10 * 1024 * 1024

// WebDriver crawls web pages breadth-first from the start locations, emitting
// one document per HTML page. Politeness delay is enforced with a rate
// limiter shared across all requests.
type WebDriver struct {
	config    *common.ExtractConfig
	docType   string
	schema    *models.Schema
	rules     *Rules
	client    *http.Client
	limiter   *rate.Limiter
	converter *md.Converter
	logger    arbor.ILogger
	stopped   atomic.Bool
}

// NewWebDriver creates a web driver with an HTTP client configured from the
// extract settings (timeout, proxy, redirect policy).
func NewWebDriver(config *common.ExtractConfig, docType string, schema *models.Schema, logger arbor.ILogger) (*WebDriver, error) {
	rules, err := CompileRules(config.FollowPatterns, config.IgnorePatterns)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.ProxyHostName != "" {
		proxyURL := &url.URL{
			Scheme: "http",
			Host:   fmt.Sprintf("%s:%d", config.ProxyHostName, config.ProxyPortNumber),
		}
		if config.ProxyAccount != "" {
			proxyURL.User = url.UserPassword(config.ProxyAccount, config.ProxyPassword)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Timeout:   60 * time.Second,
		Transport: transport,
	}
	if !config.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.PolitenessDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(config.PolitenessDelay)*time.Millisecond), 1)
	}

	return &WebDriver{
		config:    config,
		docType:   docType,
		schema:    schema,
		rules:     rules,
		client:    client,
		limiter:   limiter,
		converter: md.NewConverter("", true, nil),
		logger:    logger,
	}, nil
}

func (d *WebDriver) Name() string { return "web" }

// Validate checks every start location parses as an absolute HTTP URL.
func (d *WebDriver) Validate() error {
	if len(d.config.StartLocations) == 0 {
		return fmt.Errorf("web driver has no start locations")
	}
	for _, location := range d.config.StartLocations {
		u, err := url.Parse(location)
		if err != nil {
			return fmt.Errorf("start location %s: %w", location, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("start location %s: unsupported scheme %q", location, u.Scheme)
		}
	}
	return nil
}

// Stop asks a running crawl to wind down at the next page boundary.
func (d *WebDriver) Stop() {
	d.stopped.Store(true)
}

// Crawl runs the breadth-first frontier. Fetch failures on individual pages
// are logged and skipped; the crawl continues with the rest of the frontier.
func (d *WebDriver) Crawl(ctx context.Context, opts CrawlOptions, emit EmitFunc) error {
	d.stopped.Store(false)

	frontier := make([]string, 0, len(d.config.StartLocations))
	visited := make(map[string]bool)
	for _, location := range d.config.StartLocations {
		frontier = append(frontier, location)
	}

	count := 0
	for len(frontier) > 0 {
		if d.stopped.Load() || ctx.Err() != nil {
			break
		}
		if d.config.CrawlMaxPages > 0 && count >= d.config.CrawlMaxPages {
			d.logger.Info().Int("max_pages", d.config.CrawlMaxPages).Msg("Crawl page limit reached")
			break
		}

		pageURL := frontier[0]
		frontier = frontier[1:]

		normalized := normalizeURL(pageURL)
		if visited[normalized] {
			continue
		}
		visited[normalized] = true

		if !d.rules.Allows(pageURL) {
			continue
		}

		links, emitted, err := d.visitPage(ctx, pageURL, opts, emit)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			d.logger.Warn().Str("url", pageURL).Err(err).Msg("Failed to fetch page")
			continue
		}
		if emitted {
			count++
		}
		for _, link := range links {
			if !visited[normalizeURL(link)] && d.rules.Allows(link) {
				frontier = append(frontier, link)
			}
		}
	}

	d.logger.Info().Int("documents", count).Int("visited", len(visited)).Msg("Web crawl complete")
	return nil
}

// visitPage fetches and parses one page, returning discovered links and
// whether a document was emitted.
func (d *WebDriver) visitPage(ctx context.Context, pageURL string, opts CrawlOptions, emit EmitFunc) ([]string, bool, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, false, err
	}
	if d.config.CrawlAgentString != "" {
		req.Header.Set("User-Agent", d.config.CrawlAgentString)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "html") {
		return nil, false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, false, err
	}

	page, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse page: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, false, err
	}
	links := extractLinks(page, base)

	lastModified := time.Now().UTC()
	if header := resp.Header.Get("Last-Modified"); header != "" {
		if t, err := http.ParseTime(header); err == nil {
			lastModified = t
		}
	}

	id := pageURL
	if opts.DocumentID != nil {
		id = opts.DocumentID(pageURL)
	}

	hash := sha256.Sum256(body)
	contentHash := hex.EncodeToString(hash[:])
	if opts.Incremental && opts.Changed != nil && !opts.Changed(id, lastModified, contentHash) {
		return links, false, nil
	}

	title := strings.TrimSpace(page.Find("title").First().Text())
	if title == "" {
		title = pageURL
	}
	content, err := d.converter.ConvertString(string(body))
	if err != nil {
		d.logger.Warn().Str("url", pageURL).Err(err).Msg("Markdown conversion failed; indexing page text")
		content = strings.TrimSpace(page.Find("body").Text())
	}

	doc := models.NewDocument(d.docType, d.schema)
	doc.Locator = pageURL
	doc.LastModified = lastModified
	doc.Options.IsContent = true
	if pk := d.schema.PrimaryKey(); pk != nil {
		doc.SetField(pk.Name, id)
	}
	doc.SetField("title", title)
	doc.SetField("content", content)
	doc.SetField("url", pageURL)
	doc.SetField("last_modified", lastModified.Format(time.RFC3339))
	doc.Extra = map[string]string{"content_hash": contentHash}

	if err := emit(ctx, doc); err != nil {
		return nil, false, err
	}
	return links, true, nil
}

// extractLinks resolves every anchor href against the page URL, dropping
// fragments, mailto/javascript links, and anything outside http(s).
func extractLinks(page *goquery.Document, base *url.URL) []string {
	var links []string
	seen := make(map[string]bool)
	page.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""
		link := resolved.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})
	return links
}

// normalizeURL canonicalizes a URL for visited-set membership.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	normalized := u.String()
	return strings.TrimSuffix(normalized, "/")
}
