package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// aged rows, serializing them to JSONL, uploading the file to S3 and then
// deleting the archived rows from the primary store. The delete only runs
// after a successful upload, so a failed archive leaves the rows in place
// for the next run.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	alerts   domain.AlertStore
	triggers domain.TriggerArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, alerts domain.AlertStore, triggers domain.TriggerArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		alerts:   alerts,
		triggers: triggers,
	}
}

// ArchiveAlerts uploads all rebalance alerts older than the cutoff to
// archive/alerts/YYYY-MM.jsonl and removes them from the database. It
// returns the number of archived rows.
func (a *ArchiveImpl) ArchiveAlerts(ctx context.Context, before time.Time) (int64, error) {
	alerts, err := a.alerts.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts query: %w", err)
	}
	if len(alerts) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(alerts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts marshal: %w", err)
	}

	path := archivePath("alerts", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts upload: %w", err)
	}

	deleted, err := a.alerts.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(alerts)), fmt.Errorf("s3blob: archive alerts delete: %w", err)
	}
	return deleted, nil
}

// ArchiveTriggers uploads all converged triggers older than the cutoff to
// archive/triggers/YYYY-MM.jsonl and removes them from the database. Open
// triggers are never archived; the convergence sweep still owns them. It
// returns the number of archived rows.
func (a *ArchiveImpl) ArchiveTriggers(ctx context.Context, before time.Time) (int64, error) {
	triggers, err := a.triggers.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive triggers query: %w", err)
	}
	if len(triggers) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(triggers)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive triggers marshal: %w", err)
	}

	path := archivePath("triggers", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive triggers upload: %w", err)
	}

	deleted, err := a.triggers.DeleteClosedBefore(ctx, before)
	if err != nil {
		return int64(len(triggers)), fmt.Errorf("s3blob: archive triggers delete: %w", err)
	}
	return deleted, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/alerts/2026-01.jsonl
//	archive/triggers/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by '\n'.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
