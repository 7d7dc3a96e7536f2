package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. Snapshot
// rows are written by MarketStore.ApplySyncBatch; this store only reads and
// prunes them.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotCols = `id, market_id, yes_price, no_price, volume, volume_24h, status, recorded_at`

// ListByMarket returns a market's price history since the given time, newest
// first.
func (s *SnapshotStore) ListByMarket(ctx context.Context, marketID string, since time.Time, limit int) ([]domain.PriceSnapshot, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotCols+` FROM price_snapshots
		 WHERE market_id = $1 AND recorded_at >= $2
		 ORDER BY recorded_at DESC
		 LIMIT $3`,
		marketID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots for %s: %w", marketID, err)
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

// ListBefore returns snapshots older than the cutoff, oldest first. The
// archiver drains these in pages before DeleteBefore prunes them.
func (s *SnapshotStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.PriceSnapshot, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotCols+` FROM price_snapshots
		 WHERE recorded_at < $1
		 ORDER BY recorded_at ASC
		 LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

// DeleteBefore prunes snapshots older than the cutoff and returns the number
// of rows removed.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM price_snapshots WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func collectSnapshots(rows pgx.Rows) ([]domain.PriceSnapshot, error) {
	var snaps []domain.PriceSnapshot
	for rows.Next() {
		var snap domain.PriceSnapshot
		var status string
		if err := rows.Scan(
			&snap.ID, &snap.MarketID, &snap.YesPrice, &snap.NoPrice,
			&snap.Volume, &snap.Volume24h, &status, &snap.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snap.Status = domain.MarketStatus(status)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: snapshot rows: %w", err)
	}
	return snaps, nil
}
