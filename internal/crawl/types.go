// Package crawl defines the core types and interfaces of the crawl/scrape engine.
package crawl

import "time"

// Operation identifies what kind of work a job performs.
type Operation string

// Operations accepted by the job manager.
const (
	OperationScrape      Operation = "scrape"
	OperationCrawl       Operation = "crawl"
	OperationMap         Operation = "map"
	OperationScrapeBatch Operation = "scrape_batch"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Format names an output kind a scrape may produce.
type Format string

// Supported output formats.
const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatText     Format = "text"
	FormatJSON     Format = "json"
)

// PageOptions captures per-page processing knobs.
type PageOptions struct {
	ExtractMainContent bool     `json:"extract_main_content"`
	CleanMarkdown      bool     `json:"clean_markdown"`
	IncludeLinks       bool     `json:"include_links"`
	StructuredJSON     bool     `json:"structured_json"`
	UseBrowser         bool     `json:"use_browser"`
	WaitFor            *int     `json:"wait_for,omitempty"` // milliseconds after load, browser only
	ExcludeTags        []string `json:"exclude_tags,omitempty"`
	MaxRetries         int      `json:"max_retries"`
}

// DefaultPageOptions returns the documented defaults applied at the API boundary.
func DefaultPageOptions() PageOptions {
	return PageOptions{
		ExtractMainContent: true,
		CleanMarkdown:      true,
		IncludeLinks:       false,
		StructuredJSON:     false,
		UseBrowser:         false,
		ExcludeTags:        []string{"script", "style", "noscript"},
		MaxRetries:         3,
	}
}

// CrawlOptions captures per-job configuration for crawl and map operations.
type CrawlOptions struct {
	Formats           []Format    `json:"formats,omitempty"`
	ExcludePaths      []string    `json:"exclude_paths,omitempty"`
	IncludeOnlyPaths  []string    `json:"include_only_paths,omitempty"`
	AllowBackwards    bool        `json:"allow_backwards"`
	IncludeSubdomains bool        `json:"include_subdomains"`
	IgnoreSubdomains  bool        `json:"ignore_subdomains"`
	MaxDepth          int         `json:"max_depth,omitempty"` // 0 = unbounded
	MaxPages          int         `json:"max_pages,omitempty"` // 0 = unbounded
	PageOptions       PageOptions `json:"page_options"`
}

// DefaultCrawlOptions returns CrawlOptions with documented defaults.
func DefaultCrawlOptions() CrawlOptions {
	return CrawlOptions{
		Formats:     []Format{FormatMarkdown},
		PageOptions: DefaultPageOptions(),
	}
}

// FrontierEntry is a discovered-but-not-yet-fetched URL.
// Parent is a weak back-reference used only to derive depth and path lineage;
// the frontier owns entry lifetime.
type FrontierEntry struct {
	URL          string
	Depth        int
	Parent       string
	DiscoveredAt time.Time
}

// FetchStatus records the terminal outcome of fetching one URL.
type FetchStatus string

// Fetch outcomes recorded on a PageResult.
const (
	FetchSuccess FetchStatus = "success"
	FetchFailed  FetchStatus = "failed"
)

// LinkRecord describes one outbound link with its anchor context.
type LinkRecord struct {
	URL      string `json:"url"`
	Text     string `json:"text,omitempty"`
	NoFollow bool   `json:"nofollow,omitempty"`
}

// PageMetadata is descriptive data harvested from a fetched document.
type PageMetadata struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Language    string            `json:"language,omitempty"`
	Canonical   string            `json:"canonical,omitempty"`
	OpenGraph   map[string]string `json:"og_data,omitempty"`
	SourceURL   string            `json:"source_url"`
	FinalURL    string            `json:"final_url,omitempty"`
	StatusCode  int               `json:"status,omitempty"`
	RetrievedAt time.Time         `json:"retrieved_at"`
}

// Block is one node of the structured JSON representation of a page.
// The tree is sufficient to reconstruct markdown without re-parsing HTML.
type Block struct {
	Type     string   `json:"type"` // heading, paragraph, list, code, blockquote, table
	Level    int      `json:"level,omitempty"`
	Text     string   `json:"text,omitempty"`
	Language string   `json:"language,omitempty"`
	Ordered  bool     `json:"ordered,omitempty"`
	Items    []string `json:"items,omitempty"`
	Rows     [][]string `json:"rows,omitempty"`
}

// ExtractedContent is the output of the content extractor for one page.
type ExtractedContent struct {
	Markdown    string
	HTML        string
	Text        string
	Links       []string
	LinkRecords []LinkRecord
	Blocks      []Block
	Metadata    PageMetadata
}

// PageResult is the outcome of fetching and extracting a single URL.
// No PageResult is ever fabricated for a URL that was not fetched.
type PageResult struct {
	URL         string       `json:"url"`
	Markdown    string       `json:"markdown,omitempty"`
	HTML        string       `json:"html,omitempty"`
	Text        string       `json:"text,omitempty"`
	Links       []string     `json:"links,omitempty"`
	LinkRecords []LinkRecord `json:"link_records,omitempty"`
	Blocks      []Block      `json:"structured_json,omitempty"`
	Metadata    PageMetadata `json:"metadata"`
	FetchStatus FetchStatus  `json:"fetch_status"`
	RetryCount  int          `json:"retry_count"`
	Error       string       `json:"error,omitempty"`
	ArtifactURI string       `json:"artifact_uri,omitempty"`
}

// CrawlSummary aggregates per-page results for a crawl job.
// Pages is keyed by normalized URL so folding is order-independent.
type CrawlSummary struct {
	TotalPages   int                   `json:"total_pages"`
	PagesFailed  int                   `json:"pages_failed"`
	DepthReached int                   `json:"depth_reached"`
	StartTime    time.Time             `json:"start_time"`
	EndTime      time.Time             `json:"end_time"`
	Options      CrawlOptions          `json:"options"`
	Pages        map[string]PageResult `json:"pages"`
}

// JobResult holds the operation-specific payload of a finished job.
// Exactly one field is populated, matching the job's operation.
type JobResult struct {
	Crawl *CrawlSummary `json:"crawl,omitempty"`
	Page  *PageResult   `json:"page,omitempty"`
	URLs  []string      `json:"urls,omitempty"`
}

// Job is a tracked unit of work with a lifecycle and a stored result.
// It is owned exclusively by the job manager; status transitions for a
// given id are serialized, never concurrent.
type Job struct {
	ID          string       `json:"id"`
	Operation   Operation    `json:"operation"`
	Status      JobStatus    `json:"status"`
	URL         string       `json:"url"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
	Options     CrawlOptions `json:"options"`
	Result      *JobResult   `json:"result,omitempty"`
}

// JobSummary is the trimmed job view returned by history listings.
type JobSummary struct {
	ID          string     `json:"id"`
	Operation   Operation  `json:"operation"`
	Status      JobStatus  `json:"status"`
	URL         string     `json:"url"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Summary returns the listing view of the job.
func (j Job) Summary() JobSummary {
	return JobSummary{
		ID:          j.ID,
		Operation:   j.Operation,
		Status:      j.Status,
		URL:         j.URL,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
}
