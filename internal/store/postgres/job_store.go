package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

// JobStore implements domain.JobStore using PostgreSQL.
type JobStore struct {
	pool *pgxpool.Pool
}

var _ domain.JobStore = (*JobStore)(nil)

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

const jobCols = `id, type, status, payload, attempts, max_attempts,
	run_at, locked_at, locked_by, last_error, created_at, updated_at`

// Enqueue inserts a new queued job.
func (s *JobStore) Enqueue(ctx context.Context, job domain.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, type, status, payload, max_attempts, run_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		job.ID, string(job.Type), string(domain.JobStatusQueued),
		job.Payload, job.MaxAttempts, job.RunAt)
	if err != nil {
		return fmt.Errorf("postgres: enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// ClaimBatch atomically claims up to n due jobs for the given worker.
// SKIP LOCKED keeps concurrent workers from claiming the same rows.
func (s *JobStore) ClaimBatch(ctx context.Context, workerID string, n int) ([]domain.Job, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE jobs SET
			status     = 'processing',
			attempts   = attempts + 1,
			locked_at  = NOW(),
			locked_by  = $1,
			updated_at = NOW()
		 WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'queued' AND run_at <= NOW() AND attempts < max_attempts
			ORDER BY run_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobCols,
		workerID, n)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan claimed job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: claim jobs rows: %w", err)
	}
	return jobs, nil
}

// MarkSucceeded transitions a job to its terminal succeeded state and clears
// the claim.
func (s *JobStore) MarkSucceeded(ctx context.Context, id string) error {
	return s.finish(ctx, id,
		`UPDATE jobs SET status = 'succeeded', locked_at = NULL, locked_by = '', last_error = '', updated_at = NOW()
		 WHERE id = $1`, id)
}

// Requeue puts a claimed job back in the queue for a later attempt.
func (s *JobStore) Requeue(ctx context.Context, id string, runAt time.Time, lastError string) error {
	return s.finish(ctx, id,
		`UPDATE jobs SET status = 'queued', run_at = $2, locked_at = NULL, locked_by = '', last_error = $3, updated_at = NOW()
		 WHERE id = $1`, id, runAt, lastError)
}

// MarkFailed transitions a job to its terminal failed state.
func (s *JobStore) MarkFailed(ctx context.Context, id string, lastError string) error {
	return s.finish(ctx, id,
		`UPDATE jobs SET status = 'failed', locked_at = NULL, locked_by = '', last_error = $2, updated_at = NOW()
		 WHERE id = $1`, id, lastError)
}

func (s *JobStore) finish(ctx context.Context, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountPending counts jobs still waiting for or undergoing processing.
func (s *JobStore) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status IN ('queued', 'processing')`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count pending jobs: %w", err)
	}
	return count, nil
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var typ, status string
	err := row.Scan(
		&j.ID, &typ, &status, &j.Payload, &j.Attempts, &j.MaxAttempts,
		&j.RunAt, &j.LockedAt, &j.LockedBy, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}
	j.Type = domain.JobType(typ)
	j.Status = domain.JobStatus(status)
	return j, nil
}
