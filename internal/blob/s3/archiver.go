package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

const (
	contentTypeJSON  = "application/json"
	contentTypeJSONL = "application/x-ndjson"
)

// Archiver implements domain.Archiver. Round records are written one JSON
// object per round; audit history is exported as JSONL and only deleted
// from the primary store once the upload is confirmed.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, reader: reader, audit: audit}
}

// ArchiveRound uploads rec and returns its object key.
func (a *Archiver) ArchiveRound(ctx context.Context, rec domain.RoundRecord) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal round %s: %w", rec.RoundID, err)
	}
	path := RoundPath(rec)
	if err := a.writer.Put(ctx, path, bytes.NewReader(body), contentTypeJSON); err != nil {
		return "", fmt.Errorf("s3blob: archive round %s: %w", rec.RoundID, err)
	}
	return path, nil
}

// ArchiveAudit exports audit entries older than before and then prunes
// them. A cutoff already archived is not uploaded twice.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	path := AuditPath(before)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit check: %w", err)
	}
	if !exists {
		buf, err := marshalJSONL(entries)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
		}
		if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize); err != nil {
			return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
		}
		if exists, err = a.reader.Exists(ctx, path); err != nil || !exists {
			return 0, fmt.Errorf("s3blob: archive audit verify %s: exists=%t: %v", path, exists, err)
		}
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit prune: %w", err)
	}
	if err := a.audit.Log(ctx, "audit_archived", "", map[string]any{
		"path":    path,
		"count":   len(entries),
		"deleted": deleted,
		"before":  before.UTC().Format(time.RFC3339),
	}); err != nil {
		return deleted, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return deleted, nil
}

// RoundPath is the object key of an archived round:
//
//	rounds/<market>/2026-05-01/<round-id>.json
func RoundPath(rec domain.RoundRecord) string {
	return fmt.Sprintf("rounds/%s/%s/%s.json", rec.MarketID, rec.ComputedAt.UTC().Format(time.DateOnly), rec.RoundID)
}

// AuditPath is the object key of the audit export for a cutoff.
func AuditPath(before time.Time) string {
	return fmt.Sprintf("archive/audit/%s.jsonl", before.UTC().Format("2006-01-02T15"))
}

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

var _ domain.Archiver = (*Archiver)(nil)
