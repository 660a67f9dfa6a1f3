package crawl

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePage struct {
	status int
	body   string
	links  []string
	// failures is how many attempts fail with a transient error before
	// the page succeeds.
	failures int
}

type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]*fakePage
	attempts map[string]int
	delay    time.Duration
}

func newFakeFetcher(pages map[string]*fakePage) *fakeFetcher {
	return &fakeFetcher{pages: pages, attempts: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req FetchRequest) (RawPage, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return RawPage{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[req.URL]++
	page, ok := f.pages[req.URL]
	if !ok {
		return RawPage{}, NewFetchError(FetchHTTP, 404, nil)
	}
	if f.attempts[req.URL] <= page.failures {
		return RawPage{}, NewFetchError(FetchConnection, 0, errors.New("connection reset"))
	}
	if page.status >= 400 {
		return RawPage{}, NewFetchError(FetchHTTP, page.status, nil)
	}
	return RawPage{
		URL:        req.URL,
		FinalURL:   req.URL,
		StatusCode: page.status,
		Body:       []byte(page.body),
	}, nil
}

func (f *fakeFetcher) attemptsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[url]
}

// fakeExtractor echoes the body as markdown and hands back the links wired
// into the fetcher's page table.
type fakeExtractor struct {
	pages map[string]*fakePage
}

func (e *fakeExtractor) Extract(rawHTML []byte, baseURL string, _ PageOptions) (ExtractedContent, error) {
	var links []string
	if page, ok := e.pages[baseURL]; ok {
		links = page.links
	}
	return ExtractedContent{
		Markdown: "# " + string(rawHTML),
		HTML:     string(rawHTML),
		Text:     string(rawHTML),
		Links:    links,
		Metadata: PageMetadata{Title: string(rawHTML)},
	}, nil
}

type upperNormalizer struct{}

func (upperNormalizer) Normalize(markdown string) string {
	return strings.ToUpper(markdown)
}

func newTestController(t *testing.T, fetcher *fakeFetcher, artifacts ArtifactStore) *Controller {
	t.Helper()
	return NewController(
		fetcher,
		nil,
		&fakeExtractor{pages: fetcher.pages},
		upperNormalizer{},
		artifacts,
		newFakeClock(),
		zap.NewNop(),
		ControllerConfig{Concurrency: 3},
	)
}

func TestCrawlSinglePage(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]*fakePage{
		"https://example.com/": {status: 200, body: "welcome"},
	})
	c := newTestController(t, fetcher, nil)

	opts := DefaultCrawlOptions()
	opts.PageOptions.MaxRetries = 3
	summary, err := c.Crawl(context.Background(), "job-1", "https://example.com/", opts)
	require.NoError(t, err)

	require.Equal(t, 1, summary.TotalPages)
	require.Equal(t, 0, summary.PagesFailed)
	require.Equal(t, 0, summary.DepthReached)

	page, ok := summary.Pages["https://example.com/"]
	require.True(t, ok)
	require.Equal(t, FetchSuccess, page.FetchStatus)
	require.NotEmpty(t, page.Markdown)
	require.Equal(t, 0, page.RetryCount)
}

func TestCrawlFollowsLinks(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]*fakePage{
		"https://example.com/": {status: 200, body: "home", links: []string{
			"https://example.com/a",
			"https://example.com/b",
		}},
		"https://example.com/a": {status: 200, body: "a", links: []string{
			"https://example.com/a/deep",
		}},
		"https://example.com/b":      {status: 200, body: "b"},
		"https://example.com/a/deep": {status: 200, body: "deep"},
	})
	c := newTestController(t, fetcher, nil)

	summary, err := c.Crawl(context.Background(), "job-2", "https://example.com/", DefaultCrawlOptions())
	require.NoError(t, err)

	require.Equal(t, 4, summary.TotalPages)
	require.Equal(t, 2, summary.DepthReached)
	require.Len(t, summary.Pages, 4)
}

func TestCrawlMaxPages(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]*fakePage{
		"https://example.com/": {status: 200, body: "home", links: []string{
			"https://example.com/a",
			"https://example.com/b",
			"https://example.com/c",
		}},
		"https://example.com/a": {status: 200, body: "a"},
		"https://example.com/b": {status: 200, body: "b"},
		"https://example.com/c": {status: 200, body: "c"},
	})
	c := newTestController(t, fetcher, nil)

	opts := DefaultCrawlOptions()
	opts.MaxPages = 2
	summary, err := c.Crawl(context.Background(), "job-3", "https://example.com/", opts)
	require.NoError(t, err)
	require.Equal(t, 2, summary.TotalPages)
}

func TestCrawlFailedPageNonFatal(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]*fakePage{
		"https://example.com/": {status: 200, body: "home", links: []string{
			"https://example.com/missing",
			"https://example.com/ok",
		}},
		"https://example.com/ok": {status: 200, body: "fine"},
	})
	c := newTestController(t, fetcher, nil)

	summary, err := c.Crawl(context.Background(), "job-4", "https://example.com/", DefaultCrawlOptions())
	require.NoError(t, err)

	require.Equal(t, 3, summary.TotalPages)
	require.Equal(t, 1, summary.PagesFailed)

	failed := summary.Pages["https://example.com/missing"]
	require.Equal(t, FetchFailed, failed.FetchStatus)
	require.NotEmpty(t, failed.Error)
	require.Equal(t, 404, failed.Metadata.StatusCode)
	// 4xx is terminal: one attempt, zero retries.
	require.Equal(t, 0, failed.RetryCount)
	require.Equal(t, 1, fetcher.attemptsFor("https://example.com/missing"))
}

func TestCrawlRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]*fakePage{
		"https://example.com/": {status: 200, body: "flaky", failures: 2},
	})
	c := newTestController(t, fetcher, nil)

	opts := DefaultCrawlOptions()
	opts.PageOptions.MaxRetries = 3
	summary, err := c.Crawl(context.Background(), "job-5", "https://example.com/", opts)
	require.NoError(t, err)

	page := summary.Pages["https://example.com/"]
	require.Equal(t, FetchSuccess, page.FetchStatus)
	require.Equal(t, 2, page.RetryCount)
	require.Equal(t, 3, fetcher.attemptsFor("https://example.com/"))
}

func TestCrawlRetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]*fakePage{
		"https://example.com/": {status: 200, body: "never", failures: 10},
	})
	c := newTestController(t, fetcher, nil)

	opts := DefaultCrawlOptions()
	opts.PageOptions.MaxRetries = 2
	summary, err := c.Crawl(context.Background(), "job-6", "https://example.com/", opts)
	require.NoError(t, err)

	page := summary.Pages["https://example.com/"]
	require.Equal(t, FetchFailed, page.FetchStatus)
	// max_retries=2 means at most 3 attempts.
	require.Equal(t, 3, fetcher.attemptsFor("https://example.com/"))
}

func TestCrawlCancellationKeepsPartialResults(t *testing.T) {
	t.Parallel()

	pages := map[string]*fakePage{
		"https://example.com/": {status: 200, body: "home", links: []string{
			"https://example.com/a",
		}},
		"https://example.com/a": {status: 200, body: "a", links: []string{
			"https://example.com/b",
		}},
		"https://example.com/b": {status: 200, body: "b"},
	}
	fetcher := newFakeFetcher(pages)
	fetcher.delay = 20 * time.Millisecond
	c := newTestController(t, fetcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	summary, err := c.Crawl(ctx, "job-7", "https://example.com/", DefaultCrawlOptions())
	require.NoError(t, err)

	// Whatever completed before the cancel is kept, the rest discarded.
	require.Less(t, summary.TotalPages, 3)
	for url, page := range summary.Pages {
		if page.FetchStatus == FetchSuccess {
			require.NotEmpty(t, page.Markdown, url)
		}
	}
}

func TestCrawlInvalidOrigin(t *testing.T) {
	t.Parallel()

	c := newTestController(t, newFakeFetcher(nil), nil)
	_, err := c.Crawl(context.Background(), "job-8", "not a url", DefaultCrawlOptions())
	require.Error(t, err)

	var fault *OrchestrationFault
	require.ErrorAs(t, err, &fault)
}

func TestScrapePage(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]*fakePage{
		"https://example.com/page": {status: 200, body: "hello", links: []string{
			"https://example.com/other",
		}},
	})
	c := newTestController(t, fetcher, nil)

	opts := DefaultCrawlOptions()
	opts.PageOptions.IncludeLinks = true
	opts.Formats = []Format{FormatMarkdown, FormatHTML, FormatText}

	result, err := c.ScrapePage(context.Background(), "job-9", "https://example.com/page", opts)
	require.NoError(t, err)
	require.Equal(t, FetchSuccess, result.FetchStatus)
	// clean_markdown is on, so the normalizer ran.
	require.Equal(t, "# HELLO", result.Markdown)
	require.Equal(t, "hello", result.HTML)
	require.Equal(t, "hello", result.Text)
	require.Equal(t, []string{"https://example.com/other"}, result.Links)
}

func TestScrapePageSkipsOptionalPayloads(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]*fakePage{
		"https://example.com/page": {status: 200, body: "hello", links: []string{
			"https://example.com/other",
		}},
	})
	c := newTestController(t, fetcher, nil)

	result, err := c.ScrapePage(context.Background(), "job-10", "https://example.com/page", DefaultCrawlOptions())
	require.NoError(t, err)
	require.Empty(t, result.Links)
	require.Empty(t, result.HTML)
	require.Empty(t, result.Text)
	require.Empty(t, result.Blocks)
}

func TestMapDiscoversURLs(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]*fakePage{
		"https://example.com/": {status: 200, body: "home", links: []string{
			"https://example.com/a",
			"https://example.com/b",
		}},
		"https://example.com/a": {status: 200, body: "a"},
		"https://example.com/b": {status: 200, body: "b"},
	})
	c := newTestController(t, fetcher, nil)

	urls, err := c.Map(context.Background(), "job-11", "https://example.com/", DefaultCrawlOptions())
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
	}, urls)
}

type recordingArtifacts struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingArtifacts) Put(_ context.Context, path, _ string, _ []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return "mem://" + path, nil
}

func TestCrawlWritesArtifacts(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]*fakePage{
		"https://example.com/": {status: 200, body: "home"},
	})
	artifacts := &recordingArtifacts{}
	c := newTestController(t, fetcher, artifacts)

	summary, err := c.Crawl(context.Background(), "job-12", "https://example.com/", DefaultCrawlOptions())
	require.NoError(t, err)

	page := summary.Pages["https://example.com/"]
	require.True(t, strings.HasPrefix(page.ArtifactURI, "mem://job-12/"))
	require.Len(t, artifacts.paths, 1)
}
