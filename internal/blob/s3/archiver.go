package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

// archivePageSize bounds how many snapshot rows one upload carries.
const archivePageSize = 5000

// Archiver moves price snapshots older than the retention window into
// S3-backed JSONL files, then prunes the archived rows. Each page is
// deleted only after its upload succeeds, so a failed run never loses
// history, it only leaves rows behind for the next run.
type Archiver struct {
	writer    domain.BlobWriter
	snapshots domain.SnapshotStore
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates an Archiver keeping retentionDays of history in the
// relational store.
func NewArchiver(writer domain.BlobWriter, snapshots domain.SnapshotStore, retentionDays int, logger *slog.Logger) *Archiver {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Archiver{
		writer:    writer,
		snapshots: snapshots,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// Run archives and prunes every snapshot past retention, returning the
// number of rows moved.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.now().Add(-a.retention)
	stamp := a.now().UTC().Format("20060102T150405Z")

	var total int64
	for part := 0; ; part++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		snaps, err := a.snapshots.ListBefore(ctx, cutoff, archivePageSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list snapshots: %w", err)
		}
		if len(snaps) == 0 {
			break
		}

		buf, err := marshalJSONL(snaps)
		if err != nil {
			return total, fmt.Errorf("s3blob: marshal snapshots: %w", err)
		}

		path := archivePath(cutoff, stamp, part)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: upload %s: %w", path, err)
		}

		// Prune exactly the uploaded page: everything at or before its last
		// recorded_at is in this or an earlier part.
		last := snaps[len(snaps)-1].RecordedAt
		deleted, err := a.snapshots.DeleteBefore(ctx, last.Add(time.Nanosecond))
		if err != nil {
			return total, fmt.Errorf("s3blob: prune snapshots: %w", err)
		}
		total += deleted

		a.logger.Info("archived snapshot page",
			slog.String("path", path),
			slog.Int("rows", len(snaps)),
			slog.Int64("pruned", deleted))
	}

	if total > 0 {
		a.logger.Info("snapshot archive complete",
			slog.Int64("rows", total),
			slog.String("cutoff", cutoff.Format(time.RFC3339)))
	}
	return total, nil
}

// archivePath builds the object key for one archive part, partitioned by
// the cutoff month:
//
//	archive/snapshots/2026-08/20260830T120000Z-0003.jsonl
func archivePath(cutoff time.Time, stamp string, part int) string {
	return fmt.Sprintf("archive/snapshots/%s/%s-%04d.jsonl", cutoff.Format("2006-01"), stamp, part)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
