package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// AuditStore implements domain.AuditStore on the audit_log table. Entries
// whose detail names a listing are indexed by it for history queries.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

type auditRow struct {
	ID        int64     `db:"id"`
	Event     string    `db:"event"`
	Detail    []byte    `db:"detail"`
	CreatedAt time.Time `db:"created_at"`
}

// Log appends an entry; detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	var listing *string
	if hex, ok := detail["listing"].(string); ok && hex != "" {
		listing = &hex
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, listing, detail) VALUES (@event, @listing, @detail)`,
		pgx.NamedArgs{"event": event, "listing": listing, "detail": detailJSON},
	)
	if err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first. Since is inclusive, Until exclusive.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var (
		where []string
		args  = pgx.NamedArgs{}
	)
	if opts.Since != nil {
		where = append(where, "created_at >= @since")
		args["since"] = *opts.Since
	}
	if opts.Until != nil {
		where = append(where, "created_at < @until")
		args["until"] = *opts.Until
	}
	if opts.Listing != nil {
		where = append(where, "listing = @listing")
		args["listing"] = opts.Listing.Hex()
	}

	query := `SELECT id, event, detail, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		query += " LIMIT @limit"
		args["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		query += " OFFSET @offset"
		args["offset"] = opts.Offset
	}

	rows, err := s.pool.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowToStructByName[auditRow])
	if err != nil {
		return nil, fmt.Errorf("postgres: collect audit entries: %w", err)
	}

	entries := make([]domain.AuditEntry, 0, len(raw))
	for _, r := range raw {
		e := domain.AuditEntry{ID: r.ID, Event: r.Event, CreatedAt: r.CreatedAt}
		if r.Detail != nil {
			if err := json.Unmarshal(r.Detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail %d: %w", r.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
