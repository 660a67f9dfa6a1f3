// Package jobs tracks the lifecycle of scrape, crawl and map jobs: submission,
// asynchronous execution, status persistence and cancellation.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mdcrawl/internal/crawl"
	"mdcrawl/internal/metrics"
)

// Engine executes the work of one job. Implemented by crawl.Controller.
type Engine interface {
	Crawl(ctx context.Context, jobID, originURL string, opts crawl.CrawlOptions) (crawl.CrawlSummary, error)
	ScrapePage(ctx context.Context, jobID, rawURL string, opts crawl.CrawlOptions) (crawl.PageResult, error)
	Map(ctx context.Context, jobID, originURL string, opts crawl.CrawlOptions) ([]string, error)
}

// Config tunes the manager.
type Config struct {
	// JobTimeout bounds the wall-clock runtime of a single job. Zero means
	// no timeout.
	JobTimeout time.Duration
}

// Request is a validated job submission.
type Request struct {
	Operation crawl.Operation
	URL       string
	URLs      []string // scrape_batch only
	Options   crawl.CrawlOptions
}

// Manager owns job records end to end. It is the single writer of every
// job's status, so transitions are serialized per job.
type Manager struct {
	engine Engine
	store  crawl.JobStore
	ids    crawl.IDGenerator
	clock  crawl.Clock
	logger *zap.Logger
	cfg    Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager wires a Manager.
func NewManager(
	engine Engine,
	store crawl.JobStore,
	ids crawl.IDGenerator,
	clock crawl.Clock,
	logger *zap.Logger,
	cfg Config,
) *Manager {
	return &Manager{
		engine:  engine,
		store:   store,
		ids:     ids,
		clock:   clock,
		logger:  logger,
		cfg:     cfg,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit validates the request, persists a pending job and starts it in the
// background. The returned job is the pending record; callers poll GetJob
// for progress.
func (m *Manager) Submit(ctx context.Context, req Request) (crawl.Job, error) {
	if err := validate(req); err != nil {
		return crawl.Job{}, err
	}

	id, err := m.ids.NewID()
	if err != nil {
		return crawl.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := crawl.Job{
		ID:        id,
		Operation: req.Operation,
		Status:    crawl.JobStatusPending,
		URL:       jobURL(req),
		CreatedAt: m.clock.Now(),
		Options:   req.Options,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return crawl.Job{}, fmt.Errorf("persist job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[job.ID] = cancel
	m.mu.Unlock()

	metrics.ActiveJobs.Inc()
	m.wg.Add(1)
	go m.run(runCtx, job, req)

	m.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("operation", string(job.Operation)),
		zap.String("url", job.URL),
	)
	return job, nil
}

// GetJob returns the current record for jobID.
func (m *Manager) GetJob(ctx context.Context, jobID string) (crawl.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// ListJobs returns job history with the filter applied.
func (m *Manager) ListJobs(ctx context.Context, filter crawl.ListFilter) ([]crawl.JobSummary, int, error) {
	return m.store.ListJobs(ctx, filter)
}

// Cancel requests cooperative cancellation of a running job. The job keeps
// whatever results completed before the cancel and finishes as completed
// with partial results. Canceling a terminal job is a no-op.
func (m *Manager) Cancel(ctx context.Context, jobID string) (crawl.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return crawl.Job{}, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}
	m.mu.Lock()
	cancel, ok := m.cancels[jobID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return job, nil
}

// Shutdown waits for in-flight jobs to finish, canceling them first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, job crawl.Job, req Request) {
	defer m.wg.Done()
	defer metrics.ActiveJobs.Dec()
	defer func() {
		m.mu.Lock()
		if cancel, ok := m.cancels[job.ID]; ok {
			cancel()
			delete(m.cancels, job.ID)
		}
		m.mu.Unlock()
	}()

	if m.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.JobTimeout)
		defer cancel()
	}

	started := m.clock.Now()
	job.Status = crawl.JobStatusRunning
	if err := m.store.UpdateJob(context.Background(), job); err != nil {
		m.logger.Error("job status update failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}

	// A canceled job still completes with the partial results folded so
	// far; only an orchestration fault marks it failed.
	result, runErr := m.execute(ctx, job.ID, req)

	completed := m.clock.Now()
	job.CompletedAt = &completed
	job.Result = result
	if runErr != nil {
		job.Status = crawl.JobStatusFailed
		job.Error = runErr.Error()
	} else {
		job.Status = crawl.JobStatusCompleted
	}

	// Status writes use a fresh context so a canceled job still records
	// its terminal state.
	if err := m.store.UpdateJob(context.Background(), job); err != nil {
		m.logger.Error("job completion update failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}

	metrics.JobsTotal.WithLabelValues(string(job.Operation), string(job.Status)).Inc()
	metrics.JobDurationSeconds.WithLabelValues(string(job.Operation)).
		Observe(completed.Sub(started).Seconds())
	m.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("operation", string(job.Operation)),
		zap.String("status", string(job.Status)),
		zap.Duration("duration", completed.Sub(started)),
	)
}

func (m *Manager) execute(ctx context.Context, jobID string, req Request) (*crawl.JobResult, error) {
	switch req.Operation {
	case crawl.OperationCrawl:
		summary, err := m.engine.Crawl(ctx, jobID, req.URL, req.Options)
		if err != nil {
			return nil, err
		}
		return &crawl.JobResult{Crawl: &summary}, nil
	case crawl.OperationScrape:
		page, err := m.engine.ScrapePage(ctx, jobID, req.URL, req.Options)
		if err != nil {
			return nil, err
		}
		return &crawl.JobResult{Page: &page}, nil
	case crawl.OperationScrapeBatch:
		summary := m.executeBatch(ctx, jobID, req)
		return &crawl.JobResult{Crawl: &summary}, nil
	case crawl.OperationMap:
		urls, err := m.engine.Map(ctx, jobID, req.URL, req.Options)
		if err != nil {
			return nil, err
		}
		return &crawl.JobResult{URLs: urls}, nil
	default:
		return nil, fmt.Errorf("unsupported operation %q", req.Operation)
	}
}

// executeBatch scrapes each URL independently. Per-URL failures are folded
// into the summary like crawl page failures.
func (m *Manager) executeBatch(ctx context.Context, jobID string, req Request) crawl.CrawlSummary {
	summary := crawl.CrawlSummary{
		StartTime: m.clock.Now(),
		Options:   req.Options,
		Pages:     make(map[string]crawl.PageResult),
	}
	for _, rawURL := range req.URLs {
		if ctx.Err() != nil {
			break
		}
		page, err := m.engine.ScrapePage(ctx, jobID, rawURL, req.Options)
		if err != nil {
			summary.TotalPages++
			summary.PagesFailed++
			summary.Pages[rawURL] = crawl.PageResult{
				URL:         rawURL,
				FetchStatus: crawl.FetchFailed,
				Error:       err.Error(),
			}
			continue
		}
		summary.TotalPages++
		if page.FetchStatus == crawl.FetchFailed {
			summary.PagesFailed++
		}
		summary.Pages[page.URL] = page
	}
	summary.EndTime = m.clock.Now()
	return summary
}

func validate(req Request) error {
	switch req.Operation {
	case crawl.OperationScrape, crawl.OperationCrawl, crawl.OperationMap:
		if strings.TrimSpace(req.URL) == "" {
			return fmt.Errorf("url is required")
		}
	case crawl.OperationScrapeBatch:
		if len(req.URLs) == 0 {
			return fmt.Errorf("urls are required")
		}
	default:
		return fmt.Errorf("unsupported operation %q", req.Operation)
	}
	return nil
}

func jobURL(req Request) string {
	if req.Operation == crawl.OperationScrapeBatch {
		return req.URLs[0]
	}
	return req.URL
}
