package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

// SyncRunStore implements domain.SyncRunStore using PostgreSQL.
type SyncRunStore struct {
	pool *pgxpool.Pool
}

var _ domain.SyncRunStore = (*SyncRunStore)(nil)

func NewSyncRunStore(pool *pgxpool.Pool) *SyncRunStore {
	return &SyncRunStore{pool: pool}
}

const syncRunCols = `id, type, status, started_at, ended_at, duration_ms, results, errors`

// Create records the start of an orchestrator invocation.
func (s *SyncRunStore) Create(ctx context.Context, run domain.SyncRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, type, status, started_at)
		 VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Type), string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("postgres: create sync run %s: %w", run.ID, err)
	}
	return nil
}

// Finish records the terminal outcome of a run.
func (s *SyncRunStore) Finish(ctx context.Context, run domain.SyncRun) error {
	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("postgres: encode sync run results: %w", err)
	}
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $2, ended_at = $3, duration_ms = $4, results = $5, errors = $6
		 WHERE id = $1`,
		run.ID, string(run.Status), run.EndedAt, run.DurationMs, results, errs)
	if err != nil {
		return fmt.Errorf("postgres: finish sync run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LatestRunning returns the most recent non-terminal run.
func (s *SyncRunStore) LatestRunning(ctx context.Context) (domain.SyncRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+syncRunCols+` FROM sync_runs
		 WHERE status = 'running'
		 ORDER BY started_at DESC
		 LIMIT 1`)
	run, err := scanSyncRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SyncRun{}, domain.ErrNotFound
		}
		return domain.SyncRun{}, fmt.Errorf("postgres: latest running sync run: %w", err)
	}
	return run, nil
}

// RecoverStale marks running rows older than the cutoff as failed. Run once
// at startup so a crashed process cannot wedge the single-flight guard.
func (s *SyncRunStore) RecoverStale(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = 'failed', ended_at = NOW(),
			errors = array_append(errors, 'recovered: run abandoned by a previous process')
		 WHERE status = 'running' AND started_at < $1`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("postgres: recover stale sync runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LatestByType returns the most recent completed run of the given type.
func (s *SyncRunStore) LatestByType(ctx context.Context, t domain.SyncType) (domain.SyncRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+syncRunCols+` FROM sync_runs
		 WHERE type = $1 AND status <> 'running'
		 ORDER BY started_at DESC
		 LIMIT 1`,
		string(t))
	run, err := scanSyncRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SyncRun{}, domain.ErrNotFound
		}
		return domain.SyncRun{}, fmt.Errorf("postgres: latest %s sync run: %w", t, err)
	}
	return run, nil
}

func scanSyncRun(row pgx.Row) (domain.SyncRun, error) {
	var run domain.SyncRun
	var typ, status string
	var results []byte
	err := row.Scan(
		&run.ID, &typ, &status, &run.StartedAt, &run.EndedAt,
		&run.DurationMs, &results, &run.Errors,
	)
	if err != nil {
		return domain.SyncRun{}, err
	}
	run.Type = domain.SyncType(typ)
	run.Status = domain.SyncRunStatus(status)
	if len(results) > 0 {
		if err := json.Unmarshal(results, &run.Results); err != nil {
			return domain.SyncRun{}, fmt.Errorf("decode results: %w", err)
		}
	}
	return run, nil
}
