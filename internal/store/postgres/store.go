package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// querier is the subset of pgx.Tx the repositories use.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store with serializable transactions. Rows read
// inside InTx are locked FOR UPDATE.
type Store struct {
	pool *pgxpool.Pool
}

var _ domain.Store = (*Store)(nil)

// NewStore creates a Store on pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, true, fn)
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, false, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, write bool, fn func(ctx context.Context, tx domain.Tx) error) error {
	ptx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = ptx.Rollback(ctx) }()

	if err := fn(ctx, &tx{q: ptx, forUpdate: write}); err != nil {
		return err
	}
	if err := ptx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

type tx struct {
	q         querier
	forUpdate bool
}

func (t *tx) Listings() domain.ListingRepo     { return &listingRepo{t} }
func (t *tx) Challenges() domain.ChallengeRepo { return &challengeRepo{t} }
func (t *tx) Polls() domain.PollRepo           { return &pollRepo{t} }
func (t *tx) Tokens() domain.TokenRepo         { return &tokenRepo{t} }

func (t *tx) lockClause() string {
	if t.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

// toDB converts an amount to the signed BIGINT column type.
func toDB(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, domain.ErrAmountOverflow
	}
	return int64(v), nil
}

func fromDB(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
