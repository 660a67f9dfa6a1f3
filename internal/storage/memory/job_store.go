// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"mdcrawl/internal/crawl"
)

// JobStore keeps job records in a map. Suitable for single-process use;
// history does not survive restarts.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawl.Job
}

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]crawl.Job)}
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, job crawl.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob replaces the stored record for job.ID.
func (s *JobStore) UpdateJob(_ context.Context, job crawl.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return crawl.ErrJobNotFound
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawl.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawl.Job{}, crawl.ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns summaries newest-first, after applying the filter.
// The second return value is the total match count before paging.
func (s *JobStore) ListJobs(_ context.Context, filter crawl.ListFilter) ([]crawl.JobSummary, int, error) {
	var cutoff time.Time
	if filter.SinceDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -filter.SinceDays)
	}

	s.mu.RLock()
	matched := make([]crawl.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if !cutoff.IsZero() && job.CreatedAt.Before(cutoff) {
			continue
		}
		matched = append(matched, job)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	summaries := make([]crawl.JobSummary, 0, len(matched))
	for _, job := range matched {
		summaries = append(summaries, job.Summary())
	}
	return summaries, total, nil
}
