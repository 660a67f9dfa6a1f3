// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mdcrawl/internal/crawl"
)

// JobStoreConfig controls the Postgres connection pool used for job records.
type JobStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbConn interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobStore persists job records in a jobs table. Options and results are
// stored as jsonb so the schema does not chase the option set.
type JobStore struct {
	pool dbConn
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool dbConn) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	operation    TEXT NOT NULL,
	status       TEXT NOT NULL,
	url          TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	error        TEXT NOT NULL DEFAULT '',
	options      JSONB,
	result       JSONB
);
CREATE INDEX IF NOT EXISTS jobs_created_at_idx ON jobs (created_at DESC);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);`

// EnsureSchema creates the jobs table and indexes if they do not exist.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawl.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	optionsJSON, resultJSON, err := marshalPayloads(job)
	if err != nil {
		return err
	}
	const query = `
INSERT INTO jobs (
	id, operation, status, url, created_at, completed_at, error, options, result
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`
	args := []any{
		job.ID,
		string(job.Operation),
		string(job.Status),
		job.URL,
		job.CreatedAt,
		job.CompletedAt,
		job.Error,
		optionsJSON,
		resultJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob replaces the mutable columns of a job row.
func (s *JobStore) UpdateJob(ctx context.Context, job crawl.Job) error {
	optionsJSON, resultJSON, err := marshalPayloads(job)
	if err != nil {
		return err
	}
	const query = `
UPDATE jobs SET
	status = $2, completed_at = $3, error = $4, options = $5, result = $6
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.CompletedAt,
		job.Error,
		optionsJSON,
		resultJSON,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawl.ErrJobNotFound
	}
	return nil
}

// GetJob fetches one job row by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawl.Job, error) {
	const query = `
SELECT id, operation, status, url, created_at, completed_at, error, options, result
FROM jobs WHERE id = $1`
	var (
		job         crawl.Job
		operation   string
		status      string
		optionsJSON []byte
		resultJSON  []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&operation,
		&status,
		&job.URL,
		&job.CreatedAt,
		&job.CompletedAt,
		&job.Error,
		&optionsJSON,
		&resultJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawl.Job{}, crawl.ErrJobNotFound
	}
	if err != nil {
		return crawl.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Operation = crawl.Operation(operation)
	job.Status = crawl.JobStatus(status)
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &job.Options); err != nil {
			return crawl.Job{}, fmt.Errorf("decode job options: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var result crawl.JobResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return crawl.Job{}, fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &result
	}
	return job, nil
}

// ListJobs returns job summaries newest-first with the filter applied.
// The second return value is the total match count before paging.
func (s *JobStore) ListJobs(ctx context.Context, filter crawl.ListFilter) ([]crawl.JobSummary, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.SinceDays > 0 {
		args = append(args, time.Now().UTC().AddDate(0, 0, -filter.SinceDays))
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM jobs" + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	query := "SELECT id, operation, status, url, created_at, completed_at FROM jobs" +
		where + " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()

	var summaries []crawl.JobSummary
	for rows.Next() {
		var (
			summary   crawl.JobSummary
			operation string
			status    string
		)
		if err := rows.Scan(
			&summary.ID,
			&operation,
			&status,
			&summary.URL,
			&summary.CreatedAt,
			&summary.CompletedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan job row: %w", err)
		}
		summary.Operation = crawl.Operation(operation)
		summary.Status = crawl.JobStatus(status)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate job rows: %w", err)
	}
	return summaries, total, nil
}

func marshalPayloads(job crawl.Job) ([]byte, []byte, error) {
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal job options: %w", err)
	}
	var resultJSON []byte
	if job.Result != nil {
		resultJSON, err = json.Marshal(job.Result)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal job result: %w", err)
		}
	}
	return optionsJSON, resultJSON, nil
}
