package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// Archiver implements domain.Archiver. It exports settled history as JSONL
// and leaves the primary store untouched; pruning is a separate step.
type Archiver struct {
	writer domain.BlobWriter
	store  domain.Store
	audit  domain.AuditStore
}

var _ domain.Archiver = (*Archiver)(nil)

func NewArchiver(writer domain.BlobWriter, store domain.Store, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, store: store, audit: audit}
}

// ArchiveChallenges uploads challenges resolved before the cutoff to
// archive/challenges/YYYY-MM.jsonl.
func (a *Archiver) ArchiveChallenges(ctx context.Context, before time.Time) (int64, error) {
	var challenges []domain.Challenge
	err := a.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		challenges, err = tx.Challenges().ListResolvedBefore(ctx, before)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive challenges query: %w", err)
	}
	return archive(ctx, a, "challenges", before, challenges)
}

// ArchiveAudit uploads audit entries created before the cutoff to
// archive/audit/YYYY-MM.jsonl.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	return archive(ctx, a, "audit", before, entries)
}

func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath partitions archives by the cutoff's month, e.g.
// archive/challenges/2025-01.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
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
