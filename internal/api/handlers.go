package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mdcrawl/internal/crawl"
	"mdcrawl/internal/jobs"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxBatchURLs        = 100
)

// pageOptionsRequest mirrors PageOptions with pointer fields so absent
// values take the documented defaults.
type pageOptionsRequest struct {
	ExtractMainContent *bool    `json:"extract_main_content"`
	CleanMarkdown      *bool    `json:"clean_markdown"`
	IncludeLinks       *bool    `json:"include_links"`
	StructuredJSON     *bool    `json:"structured_json"`
	UseBrowser         *bool    `json:"use_browser"`
	WaitFor            *int     `json:"wait_for"`
	ExcludeTags        []string `json:"exclude_tags"`
	MaxRetries         *int     `json:"max_retries"`
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
	pageOptionsRequest
}

type scrapeBatchRequest struct {
	URLs    []string `json:"urls"`
	Formats []string `json:"formats"`
	pageOptionsRequest
}

type crawlRequest struct {
	URL               string   `json:"url"`
	Formats           []string `json:"formats"`
	ExcludePaths      []string `json:"exclude_paths"`
	IncludeOnlyPaths  []string `json:"include_only_paths"`
	AllowBackwards    *bool    `json:"allow_backwards"`
	IncludeSubdomains *bool    `json:"include_subdomains"`
	IgnoreSubdomains  *bool    `json:"ignore_subdomains"`
	MaxDepth          *int     `json:"max_depth"`
	MaxPages          *int     `json:"max_pages"`
	pageOptionsRequest
}

type mapRequest struct {
	URL               string   `json:"url"`
	ExcludePaths      []string `json:"exclude_paths"`
	IncludeOnlyPaths  []string `json:"include_only_paths"`
	AllowBackwards    *bool    `json:"allow_backwards"`
	IncludeSubdomains *bool    `json:"include_subdomains"`
	IgnoreSubdomains  *bool    `json:"ignore_subdomains"`
	MaxDepth          *int     `json:"max_depth"`
	MaxPages          *int     `json:"max_pages"`
	UseBrowser        *bool    `json:"use_browser"`
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	opts := crawl.DefaultCrawlOptions()
	applyFormats(&opts, req.Formats)
	applyPageOptions(&opts.PageOptions, req.pageOptionsRequest)
	if err := validateOptions(opts); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, r, jobs.Request{
		Operation: crawl.OperationScrape,
		URL:       req.URL,
		Options:   opts,
	})
}

func (s *Server) submitScrapeBatch(w http.ResponseWriter, r *http.Request) {
	var req scrapeBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) > maxBatchURLs {
		writeError(s.logger, w, http.StatusBadRequest,
			fmt.Sprintf("at most %d urls per batch", maxBatchURLs))
		return
	}
	opts := crawl.DefaultCrawlOptions()
	applyFormats(&opts, req.Formats)
	applyPageOptions(&opts.PageOptions, req.pageOptionsRequest)
	if err := validateOptions(opts); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, r, jobs.Request{
		Operation: crawl.OperationScrapeBatch,
		URLs:      req.URLs,
		Options:   opts,
	})
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	opts := crawl.DefaultCrawlOptions()
	applyFormats(&opts, req.Formats)
	applyCrawlScope(&opts, req.ExcludePaths, req.IncludeOnlyPaths,
		req.AllowBackwards, req.IncludeSubdomains, req.IgnoreSubdomains,
		req.MaxDepth, req.MaxPages)
	applyPageOptions(&opts.PageOptions, req.pageOptionsRequest)
	if err := validateOptions(opts); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, r, jobs.Request{
		Operation: crawl.OperationCrawl,
		URL:       req.URL,
		Options:   opts,
	})
}

func (s *Server) submitMap(w http.ResponseWriter, r *http.Request) {
	var req mapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	opts := crawl.DefaultCrawlOptions()
	applyCrawlScope(&opts, req.ExcludePaths, req.IncludeOnlyPaths,
		req.AllowBackwards, req.IncludeSubdomains, req.IgnoreSubdomains,
		req.MaxDepth, req.MaxPages)
	if req.UseBrowser != nil {
		opts.PageOptions.UseBrowser = *req.UseBrowser
	}
	if err := validateOptions(opts); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, r, jobs.Request{
		Operation: crawl.OperationMap,
		URL:       req.URL,
		Options:   opts,
	})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, req jobs.Request) {
	job, err := s.manager.Submit(r.Context(), req)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.manager.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawl.ErrJobNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, toJobResponse(job))
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.manager.Cancel(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawl.ErrJobNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("cancel job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	summaries, total, err := s.manager.ListJobs(r.Context(), filter)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if summaries == nil {
		summaries = []crawl.JobSummary{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"jobs":   summaries,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func parseListFilter(r *http.Request) (crawl.ListFilter, error) {
	q := r.URL.Query()
	filter := crawl.ListFilter{Limit: defaultHistoryLimit}

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			return crawl.ListFilter{}, fmt.Errorf("limit must be between 1 and %d", maxHistoryLimit)
		}
		filter.Limit = n
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return crawl.ListFilter{}, fmt.Errorf("offset must be >= 0")
		}
		filter.Offset = n
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := crawl.JobStatus(raw)
		switch status {
		case crawl.JobStatusPending, crawl.JobStatusRunning,
			crawl.JobStatusCompleted, crawl.JobStatusFailed:
			filter.Status = status
		default:
			return crawl.ListFilter{}, fmt.Errorf("unknown status %q", raw)
		}
	}
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return crawl.ListFilter{}, fmt.Errorf("days must be > 0")
		}
		filter.SinceDays = n
	}
	return filter, nil
}

// jobResponse is the wire shape of GET /v1/jobs/{job_id}. For crawl jobs the
// result is split into metadata_content (the summary) and content (a map of
// url to markdown, or to block trees when structured_json was requested).
type jobResponse struct {
	ID          string            `json:"id"`
	Operation   crawl.Operation   `json:"operation"`
	Status      crawl.JobStatus   `json:"status"`
	URL         string            `json:"url"`
	CreatedAt   string            `json:"created_at"`
	CompletedAt string            `json:"completed_at,omitempty"`
	Error       string            `json:"error,omitempty"`
	Result      any               `json:"result,omitempty"`
}

func toJobResponse(job crawl.Job) jobResponse {
	resp := jobResponse{
		ID:        job.ID,
		Operation: job.Operation,
		Status:    job.Status,
		URL:       job.URL,
		CreatedAt: job.CreatedAt.Format(timeLayout),
		Error:     job.Error,
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(timeLayout)
	}
	if job.Result == nil {
		return resp
	}
	switch {
	case job.Result.Crawl != nil:
		resp.Result = toCrawlResult(*job.Result.Crawl)
	case job.Result.Page != nil:
		resp.Result = job.Result.Page
	case job.Result.URLs != nil:
		resp.Result = map[string]any{"urls": job.Result.URLs}
	}
	return resp
}

func toCrawlResult(summary crawl.CrawlSummary) map[string]any {
	content := make(map[string]any, len(summary.Pages))
	for url, page := range summary.Pages {
		if page.FetchStatus != crawl.FetchSuccess {
			continue
		}
		if summary.Options.PageOptions.StructuredJSON {
			content[url] = page.Blocks
			continue
		}
		content[url] = page.Markdown
	}
	return map[string]any{
		"metadata_content": summary,
		"content":          content,
	}
}

func applyFormats(opts *crawl.CrawlOptions, formats []string) {
	if len(formats) == 0 {
		return
	}
	parsed := make([]crawl.Format, 0, len(formats))
	for _, f := range formats {
		parsed = append(parsed, crawl.Format(strings.ToLower(strings.TrimSpace(f))))
	}
	opts.Formats = parsed
}

func applyCrawlScope(
	opts *crawl.CrawlOptions,
	excludePaths, includeOnlyPaths []string,
	allowBackwards, includeSubdomains, ignoreSubdomains *bool,
	maxDepth, maxPages *int,
) {
	opts.ExcludePaths = excludePaths
	opts.IncludeOnlyPaths = includeOnlyPaths
	if allowBackwards != nil {
		opts.AllowBackwards = *allowBackwards
	}
	if includeSubdomains != nil {
		opts.IncludeSubdomains = *includeSubdomains
	}
	if ignoreSubdomains != nil {
		opts.IgnoreSubdomains = *ignoreSubdomains
	}
	if maxDepth != nil {
		opts.MaxDepth = *maxDepth
	}
	if maxPages != nil {
		opts.MaxPages = *maxPages
	}
}

func applyPageOptions(po *crawl.PageOptions, req pageOptionsRequest) {
	if req.ExtractMainContent != nil {
		po.ExtractMainContent = *req.ExtractMainContent
	}
	if req.CleanMarkdown != nil {
		po.CleanMarkdown = *req.CleanMarkdown
	}
	if req.IncludeLinks != nil {
		po.IncludeLinks = *req.IncludeLinks
	}
	if req.StructuredJSON != nil {
		po.StructuredJSON = *req.StructuredJSON
	}
	if req.UseBrowser != nil {
		po.UseBrowser = *req.UseBrowser
	}
	if req.WaitFor != nil {
		po.WaitFor = req.WaitFor
	}
	if req.ExcludeTags != nil {
		po.ExcludeTags = req.ExcludeTags
	}
	if req.MaxRetries != nil {
		po.MaxRetries = *req.MaxRetries
	}
}

func validateOptions(opts crawl.CrawlOptions) error {
	for _, f := range opts.Formats {
		switch f {
		case crawl.FormatMarkdown, crawl.FormatHTML, crawl.FormatText, crawl.FormatJSON:
		default:
			return fmt.Errorf("unknown format %q", f)
		}
	}
	if opts.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0")
	}
	if opts.MaxPages < 0 {
		return fmt.Errorf("max_pages must be >= 0")
	}
	if opts.PageOptions.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if opts.PageOptions.WaitFor != nil && *opts.PageOptions.WaitFor < 0 {
		return fmt.Errorf("wait_for must be >= 0")
	}
	return nil
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
