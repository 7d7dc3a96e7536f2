package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

// resolveChunk bounds the source_id array passed to a single ResolveRefs
// query.
const resolveChunk = 500

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

var _ domain.MarketStore = (*MarketStore)(nil)

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// ResolveRefs returns the stored identity projection for every known
// sourceID of the given source, chunking the lookup.
func (s *MarketStore) ResolveRefs(ctx context.Context, source domain.Source, sourceIDs []string) ([]domain.StoredRef, error) {
	refs := make([]domain.StoredRef, 0, len(sourceIDs))
	for start := 0; start < len(sourceIDs); start += resolveChunk {
		end := start + resolveChunk
		if end > len(sourceIDs) {
			end = len(sourceIDs)
		}
		rows, err := s.pool.Query(ctx,
			`SELECT id, source_id, content_hash FROM markets
			 WHERE source = $1 AND source_id = ANY($2)`,
			string(source), sourceIDs[start:end])
		if err != nil {
			return nil, fmt.Errorf("postgres: resolve refs: %w", err)
		}
		for rows.Next() {
			var r domain.StoredRef
			if err := rows.Scan(&r.ID, &r.SourceID, &r.ContentHash); err != nil {
				rows.Close()
				return nil, fmt.Errorf("postgres: scan ref: %w", err)
			}
			refs = append(refs, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("postgres: resolve refs rows: %w", err)
		}
	}
	return refs, nil
}

const insertMarketSQL = `
	INSERT INTO markets (
		id, source, source_id, title, subtitle, description, rules,
		category, tags, content_hash,
		yes_price, no_price, volume, volume_24h, liquidity,
		status, result, url, image_url,
		created_at, open_at, close_at, expires_at,
		last_synced_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8, $9, $10,
		$11, $12, $13, $14, $15,
		$16, $17, $18, $19,
		NOW(), $20, $21, $22,
		NOW(), NOW()
	)
	ON CONFLICT (source, source_id) DO UPDATE SET
		title          = EXCLUDED.title,
		subtitle       = EXCLUDED.subtitle,
		description    = EXCLUDED.description,
		rules          = EXCLUDED.rules,
		category       = EXCLUDED.category,
		tags           = EXCLUDED.tags,
		content_hash   = EXCLUDED.content_hash,
		yes_price      = EXCLUDED.yes_price,
		no_price       = EXCLUDED.no_price,
		volume         = EXCLUDED.volume,
		volume_24h     = EXCLUDED.volume_24h,
		liquidity      = EXCLUDED.liquidity,
		status         = EXCLUDED.status,
		result         = EXCLUDED.result,
		url            = EXCLUDED.url,
		image_url      = EXCLUDED.image_url,
		open_at        = EXCLUDED.open_at,
		close_at       = EXCLUDED.close_at,
		expires_at     = EXCLUDED.expires_at,
		last_synced_at = NOW(),
		updated_at     = NOW()`

const updatePricesSQL = `
	UPDATE markets SET
		yes_price      = $2,
		no_price       = $3,
		volume         = $4,
		volume_24h     = $5,
		liquidity      = $6,
		status         = $7,
		result         = $8,
		close_at       = $9,
		last_synced_at = NOW(),
		updated_at     = NOW()
	WHERE id = $1`

const updateContentSQL = `
	UPDATE markets SET
		title        = $2,
		subtitle     = $3,
		description  = $4,
		rules        = $5,
		category     = $6,
		tags         = $7,
		content_hash = $8,
		url          = $9,
		image_url    = $10,
		updated_at   = NOW()
	WHERE id = $1`

const insertSnapshotSQL = `
	INSERT INTO price_snapshots (
		market_id, yes_price, no_price, volume, volume_24h, status, recorded_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)`

// ApplySyncBatch applies every relational write of one sync pass in a single
// transaction. Either the whole pass lands or none of it does.
func (s *MarketStore) ApplySyncBatch(ctx context.Context, batch domain.SyncBatch) error {
	if batch.Empty() {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin sync batch: %w", err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, m := range batch.Inserts {
		b.Queue(insertMarketSQL,
			m.ID, string(m.Source), m.SourceID, m.Title, m.Subtitle, m.Description, m.Rules,
			m.Category, m.Tags, m.ContentHash,
			m.YesPrice, m.NoPrice, m.Volume, m.Volume24h, m.Liquidity,
			string(m.Status), m.Result, m.URL, m.ImageURL,
			m.OpenAt, m.CloseAt, m.ExpiresAt,
		)
	}
	for _, m := range batch.PriceUpdates {
		b.Queue(updatePricesSQL,
			m.ID, m.YesPrice, m.NoPrice, m.Volume, m.Volume24h, m.Liquidity,
			string(m.Status), m.Result, m.CloseAt,
		)
	}
	for _, m := range batch.ContentUpdates {
		b.Queue(updateContentSQL,
			m.ID, m.Title, m.Subtitle, m.Description, m.Rules,
			m.Category, m.Tags, m.ContentHash, m.URL, m.ImageURL,
		)
	}
	for _, snap := range batch.Snapshots {
		b.Queue(insertSnapshotSQL,
			snap.MarketID, snap.YesPrice, snap.NoPrice,
			snap.Volume, snap.Volume24h, string(snap.Status), snap.RecordedAt,
		)
	}

	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: sync batch item %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close sync batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit sync batch: %w", err)
	}
	return nil
}

const marketCols = `id, source, source_id, title, subtitle, description, rules,
	category, tags, content_hash,
	yes_price, no_price, volume, volume_24h, liquidity,
	status, result, url, image_url, embedding_model,
	created_at, open_at, close_at, expires_at, last_synced_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var source, status string
	err := row.Scan(
		&m.ID, &source, &m.SourceID, &m.Title, &m.Subtitle, &m.Description, &m.Rules,
		&m.Category, &m.Tags, &m.ContentHash,
		&m.YesPrice, &m.NoPrice, &m.Volume, &m.Volume24h, &m.Liquidity,
		&status, &m.Result, &m.URL, &m.ImageURL, &m.EmbeddingModel,
		&m.CreatedAt, &m.OpenAt, &m.CloseAt, &m.ExpiresAt, &m.LastSyncedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Source = domain.Source(source)
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// GetByIDs retrieves markets by primary key. Missing ids are silently
// omitted; callers needing presence checks compare lengths.
func (s *MarketStore) GetByIDs(ctx context.Context, ids []string) ([]domain.Market, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get markets by ids: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// sortColumns whitelists List sort fields and carries the cast applied to
// the keyset anchor value.
var sortColumns = map[string]string{
	"created_at": "timestamptz",
	"close_at":   "timestamptz",
	"volume":     "double precision",
	"volume_24h": "double precision",
}

// List returns markets ordered by (sort column, id) with keyset pagination.
func (s *MarketStore) List(ctx context.Context, q domain.MarketListQuery) ([]domain.Market, error) {
	col := q.Sort
	if col == "" {
		col = "created_at"
	}
	cast, ok := sortColumns[col]
	if !ok {
		return nil, fmt.Errorf("postgres: list markets: unsupported sort column %q", q.Sort)
	}
	dir := "DESC"
	cmp := "<"
	if q.Order == domain.OrderAsc {
		dir = "ASC"
		cmp = ">"
	}

	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Source != "" {
		conds = append(conds, "source = "+arg(string(q.Source)))
	}
	if q.Status != "" {
		conds = append(conds, "status = "+arg(string(q.Status)))
	}
	if q.Category != "" {
		conds = append(conds, "category = "+arg(q.Category))
	}
	// Rows without a close time cannot anchor a close_at keyset.
	if col == "close_at" {
		conds = append(conds, "close_at IS NOT NULL")
	}
	if q.After.LastID != "" {
		conds = append(conds, fmt.Sprintf("(%s, id) %s (%s::%s, %s::uuid)",
			col, cmp, arg(q.After.LastValue), cast, arg(q.After.LastID)))
	}

	query := `SELECT ` + marketCols + ` FROM markets`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id %s", col, dir, dir)
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT " + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// SetEmbeddingModel stamps which model produced the current vectors for the
// given markets.
func (s *MarketStore) SetEmbeddingModel(ctx context.Context, ids []string, model string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE markets SET embedding_model = $2, updated_at = NOW() WHERE id = ANY($1)`,
		ids, model)
	if err != nil {
		return fmt.Errorf("postgres: set embedding model: %w", err)
	}
	return nil
}

// Count returns the total number of mirrored markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}
