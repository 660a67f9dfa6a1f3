package crawl

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned by job stores when no job exists for an id.
var ErrJobNotFound = errors.New("job not found")

// FetchErrorKind classifies fetch failures for retry decisions.
type FetchErrorKind string

// Fetch error kinds.
const (
	FetchTimeout    FetchErrorKind = "timeout"
	FetchConnection FetchErrorKind = "connection"
	FetchHTTP       FetchErrorKind = "http"
	FetchRender     FetchErrorKind = "render"
)

// FetchError wraps a failed page retrieval with its classification.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == FetchHTTP:
		return fmt.Sprintf("fetch failed: http status %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch failed (%s): %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch failed (%s)", e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Terminal reports whether the error must not be retried.
// Client errors (4xx) are permanent; everything else is transient.
func (e *FetchError) Terminal() bool {
	return e.Kind == FetchHTTP && e.StatusCode >= 400 && e.StatusCode < 500
}

// NewFetchError builds a classified fetch error.
func NewFetchError(kind FetchErrorKind, status int, err error) *FetchError {
	return &FetchError{Kind: kind, StatusCode: status, Err: err}
}

// ExtractionError marks malformed HTML that forced a raw-text fallback.
// It is recorded per page and never aborts a job.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// OrchestrationFault is the only error class that fails a whole job.
// It signals frontier or store corruption, not page-level trouble.
type OrchestrationFault struct {
	Op  string
	Err error
}

func (e *OrchestrationFault) Error() string {
	return fmt.Sprintf("orchestration fault during %s: %v", e.Op, e.Err)
}

func (e *OrchestrationFault) Unwrap() error {
	return e.Err
}

// RejectReason explains why the frontier declined a proposed URL.
// A rejection is an expected outcome, logged but never surfaced as an error.
type RejectReason string

// Reject reasons, in filter order.
const (
	RejectNone      RejectReason = ""
	RejectScheme    RejectReason = "unsupported_scheme"
	RejectDuplicate RejectReason = "duplicate"
	RejectDepth     RejectReason = "max_depth"
	RejectHost      RejectReason = "host_policy"
	RejectJunkPath  RejectReason = "junk_path"
	RejectPath      RejectReason = "path_policy"
	RejectBackwards RejectReason = "backwards"
)
