package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to cold storage. The snapshot archiver is the
// only producer; archives are write-once and never read back by the indexer.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
