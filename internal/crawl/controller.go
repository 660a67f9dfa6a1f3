package crawl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mdcrawl/internal/metrics"
)

// ControllerConfig tunes crawl execution.
type ControllerConfig struct {
	// Concurrency bounds how many pages are in flight at once.
	Concurrency int
	// ArtifactPrefix namespaces raw HTML snapshots in the artifact store.
	ArtifactPrefix string
}

// Controller orchestrates frontier, fetchers, extractor and normalizer for
// one job at a time. It owns no cross-job state: every Crawl/Map/ScrapePage
// call builds its own frontier, so jobs never share mutable state.
type Controller struct {
	plain      Fetcher
	browser    Fetcher
	extractor  Extractor
	normalizer Normalizer
	artifacts  ArtifactStore
	retry      *RetryPolicy
	clock      Clock
	logger     *zap.Logger
	cfg        ControllerConfig
}

// NewController wires a Controller. The browser fetcher and artifact store
// may be nil; use_browser requests then fall back to the plain fetcher.
func NewController(
	plain Fetcher,
	browser Fetcher,
	extractor Extractor,
	normalizer Normalizer,
	artifacts ArtifactStore,
	clock Clock,
	logger *zap.Logger,
	cfg ControllerConfig,
) *Controller {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	return &Controller{
		plain:      plain,
		browser:    browser,
		extractor:  extractor,
		normalizer: normalizer,
		artifacts:  artifacts,
		retry:      NewRetryPolicy(),
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
	}
}

type pageOutcome struct {
	entry  FrontierEntry
	result PageResult
	links  []string
}

// Crawl walks the site breadth-first from originURL, honoring the frontier
// filter rules and the page/depth bounds in opts. Per-page failures are
// folded into the summary, never returned; the error is non-nil only for
// an orchestration fault.
func (c *Controller) Crawl(ctx context.Context, jobID, originURL string, opts CrawlOptions) (CrawlSummary, error) {
	origin, err := NormalizeURL(originURL)
	if err != nil {
		return CrawlSummary{}, &OrchestrationFault{Op: "seed frontier", Err: err}
	}
	frontier, err := NewFrontier(origin, opts, c.clock)
	if err != nil {
		return CrawlSummary{}, &OrchestrationFault{Op: "seed frontier", Err: err}
	}

	summary := CrawlSummary{
		StartTime: c.clock.Now(),
		Options:   opts,
		Pages:     make(map[string]PageResult),
	}

	for frontier.Len() > 0 && ctx.Err() == nil {
		budget := c.cfg.Concurrency
		if opts.MaxPages > 0 {
			remaining := opts.MaxPages - summary.TotalPages
			if remaining <= 0 {
				break
			}
			if remaining < budget {
				budget = remaining
			}
		}

		batch := c.dequeueBatch(frontier, budget)
		outcomes := c.processBatch(ctx, jobID, batch, opts)

		// Fold completions keyed by URL, so completion order is irrelevant,
		// then feed discoveries back for the next iteration.
		for _, out := range outcomes {
			summary.Pages[out.entry.URL] = out.result
			summary.TotalPages++
			if out.result.FetchStatus == FetchFailed {
				summary.PagesFailed++
			}
			if out.entry.Depth > summary.DepthReached {
				summary.DepthReached = out.entry.Depth
			}
			for _, link := range out.links {
				entry := out.entry
				if normalized, reason := frontier.Propose(link, &entry); reason != RejectNone {
					metrics.FrontierRejectsTotal.WithLabelValues(string(reason)).Inc()
					c.logger.Debug("frontier rejected url",
						zap.String("job_id", jobID),
						zap.String("url", normalized),
						zap.String("reason", string(reason)),
					)
				}
			}
		}
	}

	summary.EndTime = c.clock.Now()
	c.logger.Info("crawl finished",
		zap.String("job_id", jobID),
		zap.Int("total_pages", summary.TotalPages),
		zap.Int("pages_failed", summary.PagesFailed),
		zap.Int("depth_reached", summary.DepthReached),
	)
	return summary, nil
}

// ScrapePage fetches and processes a single URL.
func (c *Controller) ScrapePage(ctx context.Context, jobID, rawURL string, opts CrawlOptions) (PageResult, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return PageResult{}, &OrchestrationFault{Op: "scrape", Err: err}
	}
	entry := FrontierEntry{URL: normalized, Depth: 0, DiscoveredAt: c.clock.Now()}
	out := c.processEntry(ctx, jobID, entry, opts)
	return out.result, nil
}

// Map performs frontier discovery only: pages are fetched and their links
// harvested through the same filter rules as a crawl, but no content is
// extracted or persisted beyond the URL list, in discovery order.
func (c *Controller) Map(ctx context.Context, jobID, originURL string, opts CrawlOptions) ([]string, error) {
	origin, err := NormalizeURL(originURL)
	if err != nil {
		return nil, &OrchestrationFault{Op: "seed frontier", Err: err}
	}
	frontier, err := NewFrontier(origin, opts, c.clock)
	if err != nil {
		return nil, &OrchestrationFault{Op: "seed frontier", Err: err}
	}

	mapOpts := opts
	mapOpts.PageOptions.ExtractMainContent = false
	mapOpts.PageOptions.StructuredJSON = false
	mapOpts.PageOptions.CleanMarkdown = false

	var discovered []string
	fetched := 0
	for frontier.Len() > 0 && ctx.Err() == nil {
		budget := c.cfg.Concurrency
		if opts.MaxPages > 0 {
			remaining := opts.MaxPages - fetched
			if remaining <= 0 {
				break
			}
			if remaining < budget {
				budget = remaining
			}
		}
		batch := c.dequeueBatch(frontier, budget)
		for _, entry := range batch {
			discovered = append(discovered, entry.URL)
		}
		outcomes := c.processBatch(ctx, jobID, batch, mapOpts)
		for _, out := range outcomes {
			fetched++
			for _, link := range out.links {
				entry := out.entry
				if _, reason := frontier.Propose(link, &entry); reason != RejectNone {
					metrics.FrontierRejectsTotal.WithLabelValues(string(reason)).Inc()
				}
			}
		}
	}
	return discovered, nil
}

func (c *Controller) dequeueBatch(frontier *Frontier, budget int) []FrontierEntry {
	batch := make([]FrontierEntry, 0, budget)
	for len(batch) < budget {
		entry, ok := frontier.Next()
		if !ok {
			break
		}
		frontier.MarkVisited(entry.URL)
		batch = append(batch, entry)
	}
	return batch
}

func (c *Controller) processBatch(ctx context.Context, jobID string, batch []FrontierEntry, opts CrawlOptions) []pageOutcome {
	outcomes := make([]pageOutcome, len(batch))
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Concurrency)
	for i, entry := range batch {
		g.Go(func() error {
			outcomes[i] = c.processEntry(ctx, jobID, entry, opts)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (c *Controller) processEntry(ctx context.Context, jobID string, entry FrontierEntry, opts CrawlOptions) pageOutcome {
	po := opts.PageOptions
	req := FetchRequest{
		URL:        entry.URL,
		UseBrowser: po.UseBrowser && c.browser != nil,
	}
	if po.WaitFor != nil {
		req.WaitFor = time.Duration(*po.WaitFor) * time.Millisecond
	}

	raw, retries, err := c.fetchWithRetry(ctx, req, po.MaxRetries)
	result := PageResult{
		URL:        entry.URL,
		RetryCount: retries,
		Metadata: PageMetadata{
			SourceURL:   entry.URL,
			RetrievedAt: c.clock.Now(),
		},
	}
	if err != nil {
		result.FetchStatus = FetchFailed
		result.Error = err.Error()
		var fe *FetchError
		if errors.As(err, &fe) {
			result.Metadata.StatusCode = fe.StatusCode
		}
		metrics.PagesFetchedTotal.WithLabelValues("failed").Inc()
		c.logger.Warn("page fetch failed",
			zap.String("job_id", jobID),
			zap.String("url", entry.URL),
			zap.Int("retries", retries),
			zap.Error(err),
		)
		return pageOutcome{entry: entry, result: result}
	}

	result.FetchStatus = FetchSuccess
	metrics.PagesFetchedTotal.WithLabelValues("success").Inc()

	if c.artifacts != nil {
		uri, putErr := c.artifacts.Put(ctx, c.artifactPath(jobID, entry.URL), "text/html; charset=utf-8", raw.Body)
		if putErr != nil {
			c.logger.Warn("artifact write failed",
				zap.String("job_id", jobID),
				zap.String("url", entry.URL),
				zap.Error(putErr),
			)
		} else {
			result.ArtifactURI = uri
		}
	}

	base := raw.FinalURL
	if base == "" {
		base = entry.URL
	}
	content, extErr := c.extractor.Extract(raw.Body, base, po)
	if extErr != nil {
		// Extraction trouble is non-fatal: the extractor already fell back
		// to raw text where possible; record what happened for this URL.
		result.Error = extErr.Error()
		c.logger.Warn("content extraction degraded",
			zap.String("job_id", jobID),
			zap.String("url", entry.URL),
			zap.Error(extErr),
		)
	}

	markdown := content.Markdown
	if po.CleanMarkdown && c.normalizer != nil {
		markdown = c.normalizer.Normalize(markdown)
	}

	result.Markdown = markdown
	result.Metadata = content.Metadata
	result.Metadata.SourceURL = entry.URL
	result.Metadata.FinalURL = raw.FinalURL
	result.Metadata.StatusCode = raw.StatusCode
	result.Metadata.RetrievedAt = c.clock.Now()
	if hasFormat(opts.Formats, FormatHTML) {
		result.HTML = content.HTML
	}
	if hasFormat(opts.Formats, FormatText) {
		result.Text = content.Text
	}
	if po.IncludeLinks {
		result.Links = content.Links
		result.LinkRecords = content.LinkRecords
	}
	if po.StructuredJSON {
		result.Blocks = content.Blocks
	}

	// Discovery always uses the full link harvest, independent of whether
	// the caller asked for links in the result payload.
	return pageOutcome{entry: entry, result: result, links: content.Links}
}

// fetchWithRetry runs the configured fetch strategy with the retry policy:
// at most maxRetries+1 attempts, exponential backoff, 4xx terminal.
func (c *Controller) fetchWithRetry(ctx context.Context, req FetchRequest, maxRetries int) (RawPage, int, error) {
	fetcher := c.plain
	if req.UseBrowser {
		fetcher = c.browser
	}
	if fetcher == nil {
		return RawPage{}, 0, fmt.Errorf("no fetcher configured")
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		raw, err := fetcher.Fetch(ctx, req)
		if err == nil {
			return raw, attempt, nil
		}
		lastErr = err
		if !c.retry.ShouldRetry(err, attempt, maxRetries) {
			return RawPage{}, attempt, lastErr
		}
		metrics.FetchRetriesTotal.Inc()
		if sleepErr := sleepContext(ctx, c.retry.Backoff(attempt)); sleepErr != nil {
			return RawPage{}, attempt, lastErr
		}
	}
}

func (c *Controller) artifactPath(jobID, url string) string {
	sum := sha256.Sum256([]byte(url))
	hash := hex.EncodeToString(sum[:])[:16]
	prefix := c.cfg.ArtifactPrefix
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}

func hasFormat(formats []Format, want Format) bool {
	for _, f := range formats {
		if f == want {
			return true
		}
	}
	return false
}
