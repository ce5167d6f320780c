package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

// ActionArchiveStore is the slice of the action store the archiver needs:
// time-ranged reads for serialization and a matching delete once the upload
// has succeeded.
type ActionArchiveStore interface {
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.LiquidationAction, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// multipartThreshold is the payload size above which uploads switch to the
// multipart path.
const multipartThreshold = 8 * 1024 * 1024

// Archiver implements domain.Archiver by moving aged action rows out of
// Postgres into JSONL objects in cold storage. Rows are only deleted after
// the upload has succeeded; a failed delete leaves duplicates in the next
// archive rather than losing history.
type Archiver struct {
	writer domain.BlobWriter
	store  ActionArchiveStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing through the given blob writer.
func NewArchiver(writer domain.BlobWriter, store ActionArchiveStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		store:  store,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveBefore uploads every action older than retentionDays as one JSONL
// object keyed by the cutoff month, then deletes the archived rows.
func (a *Archiver) ArchiveBefore(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return fmt.Errorf("s3blob: retention days must be positive, got %d", retentionDays)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	actions, err := a.store.ListBefore(ctx, cutoff, 0)
	if err != nil {
		return fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(actions) == 0 {
		a.logger.Debug("nothing to archive", slog.Time("cutoff", cutoff))
		return nil
	}

	buf, err := marshalJSONL(actions)
	if err != nil {
		return fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath(cutoff)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive upload: %w", err)
	}

	deleted, err := a.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("s3blob: archive delete after upload of %s: %w", path, err)
	}

	a.logger.Info("archived actions",
		slog.String("path", path),
		slog.Int("archived", len(actions)),
		slog.Int64("deleted", deleted),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// archivePath builds the S3 key for an archive object, partitioned by the
// year-month of the cutoff time:
//
//	archive/actions/2026-08.jsonl
func archivePath(cutoff time.Time) string {
	return fmt.Sprintf("archive/actions/%s.jsonl", cutoff.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// object per line.
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

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
