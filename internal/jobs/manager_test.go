package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mdcrawl/internal/crawl"
	"mdcrawl/internal/storage/memory"
)

type fakeEngine struct {
	mu sync.Mutex

	crawlSummary crawl.CrawlSummary
	crawlErr     error
	pageResult   crawl.PageResult
	pageErr      error
	mapURLs      []string
	mapErr       error

	// block, when set, makes Crawl wait for ctx cancellation.
	block bool

	scraped []string
}

func (e *fakeEngine) Crawl(ctx context.Context, _, _ string, _ crawl.CrawlOptions) (crawl.CrawlSummary, error) {
	if e.block {
		<-ctx.Done()
	}
	return e.crawlSummary, e.crawlErr
}

func (e *fakeEngine) ScrapePage(_ context.Context, _, rawURL string, _ crawl.CrawlOptions) (crawl.PageResult, error) {
	e.mu.Lock()
	e.scraped = append(e.scraped, rawURL)
	e.mu.Unlock()
	if e.pageErr != nil {
		return crawl.PageResult{}, e.pageErr
	}
	result := e.pageResult
	result.URL = rawURL
	return result, nil
}

func (e *fakeEngine) Map(_ context.Context, _, _ string, _ crawl.CrawlOptions) ([]string, error) {
	return e.mapURLs, e.mapErr
}

type fixedIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (g *fixedIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.ids) == 0 {
		return "", errors.New("out of ids")
	}
	id := g.ids[0]
	g.ids = g.ids[1:]
	return id, nil
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func newTestManager(t *testing.T, engine Engine) (*Manager, *memory.JobStore) {
	t.Helper()
	store := memory.NewJobStore()
	m := NewManager(
		engine,
		store,
		&fixedIDGen{ids: []string{"job-1", "job-2", "job-3"}},
		realClock{},
		zap.NewNop(),
		Config{},
	)
	return m, store
}

func waitTerminal(t *testing.T, m *Manager, jobID string) crawl.Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		job, err := m.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status.IsTerminal() {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never reached a terminal state", jobID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubmitScrapeLifecycle(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{pageResult: crawl.PageResult{
		Markdown:    "# hello",
		FetchStatus: crawl.FetchSuccess,
	}}
	m, _ := newTestManager(t, engine)

	job, err := m.Submit(context.Background(), Request{
		Operation: crawl.OperationScrape,
		URL:       "https://example.com/page",
		Options:   crawl.DefaultCrawlOptions(),
	})
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, crawl.JobStatusPending, job.Status)

	done := waitTerminal(t, m, job.ID)
	require.Equal(t, crawl.JobStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.Result)
	require.NotNil(t, done.Result.Page)
	require.Equal(t, "# hello", done.Result.Page.Markdown)
}

func TestSubmitCrawlOrchestrationFault(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{crawlErr: &crawl.OrchestrationFault{
		Op:  "seed frontier",
		Err: errors.New("bad origin"),
	}}
	m, _ := newTestManager(t, engine)

	job, err := m.Submit(context.Background(), Request{
		Operation: crawl.OperationCrawl,
		URL:       "https://example.com/",
		Options:   crawl.DefaultCrawlOptions(),
	})
	require.NoError(t, err)

	done := waitTerminal(t, m, job.ID)
	require.Equal(t, crawl.JobStatusFailed, done.Status)
	require.Contains(t, done.Error, "bad origin")
}

func TestSubmitCrawlCompleted(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{crawlSummary: crawl.CrawlSummary{
		TotalPages: 2,
		Pages: map[string]crawl.PageResult{
			"https://example.com/":  {FetchStatus: crawl.FetchSuccess},
			"https://example.com/a": {FetchStatus: crawl.FetchSuccess},
		},
	}}
	m, _ := newTestManager(t, engine)

	job, err := m.Submit(context.Background(), Request{
		Operation: crawl.OperationCrawl,
		URL:       "https://example.com/",
		Options:   crawl.DefaultCrawlOptions(),
	})
	require.NoError(t, err)

	done := waitTerminal(t, m, job.ID)
	require.Equal(t, crawl.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result.Crawl)
	require.Equal(t, 2, done.Result.Crawl.TotalPages)
}

func TestSubmitMap(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{mapURLs: []string{"https://example.com/", "https://example.com/a"}}
	m, _ := newTestManager(t, engine)

	job, err := m.Submit(context.Background(), Request{
		Operation: crawl.OperationMap,
		URL:       "https://example.com/",
		Options:   crawl.DefaultCrawlOptions(),
	})
	require.NoError(t, err)

	done := waitTerminal(t, m, job.ID)
	require.Equal(t, crawl.JobStatusCompleted, done.Status)
	require.Equal(t, []string{"https://example.com/", "https://example.com/a"}, done.Result.URLs)
}

func TestSubmitScrapeBatch(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{pageResult: crawl.PageResult{FetchStatus: crawl.FetchSuccess}}
	m, _ := newTestManager(t, engine)

	job, err := m.Submit(context.Background(), Request{
		Operation: crawl.OperationScrapeBatch,
		URLs:      []string{"https://example.com/a", "https://example.com/b"},
		Options:   crawl.DefaultCrawlOptions(),
	})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a", job.URL)

	done := waitTerminal(t, m, job.ID)
	require.Equal(t, crawl.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result.Crawl)
	require.Equal(t, 2, done.Result.Crawl.TotalPages)
	require.Equal(t, 0, done.Result.Crawl.PagesFailed)
}

func TestSubmitScrapeBatchPartialFailure(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{pageErr: errors.New("boom")}
	m, _ := newTestManager(t, engine)

	job, err := m.Submit(context.Background(), Request{
		Operation: crawl.OperationScrapeBatch,
		URLs:      []string{"https://example.com/a"},
		Options:   crawl.DefaultCrawlOptions(),
	})
	require.NoError(t, err)

	done := waitTerminal(t, m, job.ID)
	// Per-URL failures never fail the batch job itself.
	require.Equal(t, crawl.JobStatusCompleted, done.Status)
	require.Equal(t, 1, done.Result.Crawl.PagesFailed)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, &fakeEngine{})

	_, err := m.Submit(context.Background(), Request{Operation: crawl.OperationScrape})
	require.Error(t, err)

	_, err = m.Submit(context.Background(), Request{Operation: crawl.OperationScrapeBatch})
	require.Error(t, err)

	_, err = m.Submit(context.Background(), Request{Operation: "weird", URL: "https://example.com/"})
	require.Error(t, err)
}

func TestCancelRunningJob(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{block: true, crawlSummary: crawl.CrawlSummary{TotalPages: 1}}
	m, _ := newTestManager(t, engine)

	job, err := m.Submit(context.Background(), Request{
		Operation: crawl.OperationCrawl,
		URL:       "https://example.com/",
		Options:   crawl.DefaultCrawlOptions(),
	})
	require.NoError(t, err)

	// Let the runner start, then cancel.
	time.Sleep(20 * time.Millisecond)
	_, err = m.Cancel(context.Background(), job.ID)
	require.NoError(t, err)

	done := waitTerminal(t, m, job.ID)
	// Cancellation keeps partial results and completes the job.
	require.Equal(t, crawl.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result.Crawl)
	require.Equal(t, 1, done.Result.Crawl.TotalPages)
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, &fakeEngine{})
	_, err := m.Cancel(context.Background(), "missing")
	require.ErrorIs(t, err, crawl.ErrJobNotFound)
}

func TestGetUnknownJob(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, &fakeEngine{})
	_, err := m.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, crawl.ErrJobNotFound)
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{pageResult: crawl.PageResult{FetchStatus: crawl.FetchSuccess}}
	m, _ := newTestManager(t, engine)

	first, err := m.Submit(context.Background(), Request{
		Operation: crawl.OperationScrape,
		URL:       "https://example.com/1",
		Options:   crawl.DefaultCrawlOptions(),
	})
	require.NoError(t, err)
	waitTerminal(t, m, first.ID)

	second, err := m.Submit(context.Background(), Request{
		Operation: crawl.OperationScrape,
		URL:       "https://example.com/2",
		Options:   crawl.DefaultCrawlOptions(),
	})
	require.NoError(t, err)
	waitTerminal(t, m, second.ID)

	jobs, total, err := m.ListJobs(context.Background(), crawl.ListFilter{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, jobs, 2)
	// Newest first.
	require.Equal(t, second.ID, jobs[0].ID)
	require.Equal(t, first.ID, jobs[1].ID)
}

func TestShutdownWaitsForJobs(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{block: true}
	m, _ := newTestManager(t, engine)

	job, err := m.Submit(context.Background(), Request{
		Operation: crawl.OperationCrawl,
		URL:       "https://example.com/",
		Options:   crawl.DefaultCrawlOptions(),
	})
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))

	done, err := m.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, done.Status.IsTerminal())
}
