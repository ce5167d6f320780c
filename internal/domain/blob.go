package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to cold storage. PutMultipart splits large
// payloads into parts; partSize below the backend minimum is clamped up.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver compacts aged action-history rows into cold-storage objects and
// removes them from the hot store.
type Archiver interface {
	ArchiveBefore(ctx context.Context, retentionDays int) error
}
