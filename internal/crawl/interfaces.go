package crawl

import (
	"context"
	"net/http"
	"time"
)

// FetchRequest captures everything needed to retrieve one page.
type FetchRequest struct {
	URL        string
	UseBrowser bool
	WaitFor    time.Duration // post-load settle time, browser fetches only
	Headers    http.Header
}

// RawPage is the unprocessed result of one page retrieval.
type RawPage struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher performs a single page retrieval. Implementations return a
// *FetchError so the retry policy can classify failures.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (RawPage, error)
}

// Extractor turns raw HTML into structured content.
type Extractor interface {
	Extract(rawHTML []byte, baseURL string, opts PageOptions) (ExtractedContent, error)
}

// Normalizer cleans extracted markdown. Must be pure and idempotent.
type Normalizer interface {
	Normalize(markdown string) string
}

// ListFilter narrows and pages a job history listing.
type ListFilter struct {
	Limit     int
	Offset    int
	Status    JobStatus // empty = all
	SinceDays int       // 0 = no time bound
}

// JobStore persists job records. History queries remain valid across
// restarts when backed by durable storage; the engine treats the store
// as an external collaborator keyed by job id.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]JobSummary, int, error)
}

// ArtifactStore persists raw page snapshots and returns a URI.
type ArtifactStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
