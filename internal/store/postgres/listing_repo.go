package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

const listingColumns = `id, name, data, owner, deposit, status, challenge_id,
	exit_time, application_expiry, applied_at, updated_at`

type listingRepo struct{ t *tx }

func scanListing(row pgx.Row) (domain.Listing, error) {
	var (
		l                domain.Listing
		id, owner, state string
		deposit, cid     int64
	)
	if err := row.Scan(
		&id, &l.Name, &l.Data, &owner, &deposit, &state, &cid,
		&l.ExitTime, &l.ApplicationExpiry, &l.AppliedAt, &l.UpdatedAt,
	); err != nil {
		return domain.Listing{}, err
	}
	l.ID = common.HexToHash(id)
	l.Owner = common.HexToAddress(owner)
	l.Deposit = fromDB(deposit)
	l.Status = domain.ListingStatus(state)
	l.ChallengeID = fromDB(cid)
	return l, nil
}

func (r *listingRepo) Get(ctx context.Context, id common.Hash) (domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1` + r.t.lockClause()
	l, err := scanListing(r.t.q.QueryRow(ctx, query, id.Hex()))
	if isNoRows(err) {
		return domain.Listing{}, fmt.Errorf("postgres: listing %s: %w", id.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", id.Hex(), err)
	}
	return l, nil
}

func (r *listingRepo) Put(ctx context.Context, l domain.Listing) error {
	deposit, err := toDB(l.Deposit)
	if err != nil {
		return err
	}
	cid, err := toDB(l.ChallengeID)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO listings (` + listingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name               = EXCLUDED.name,
			data               = EXCLUDED.data,
			owner              = EXCLUDED.owner,
			deposit            = EXCLUDED.deposit,
			status             = EXCLUDED.status,
			challenge_id       = EXCLUDED.challenge_id,
			exit_time          = EXCLUDED.exit_time,
			application_expiry = EXCLUDED.application_expiry,
			updated_at         = EXCLUDED.updated_at`
	if _, err := r.t.q.Exec(ctx, query,
		l.ID.Hex(), l.Name, l.Data, l.Owner.Hex(), deposit, string(l.Status), cid,
		l.ExitTime, l.ApplicationExpiry, l.AppliedAt, l.UpdatedAt,
	); err != nil {
		return fmt.Errorf("postgres: put listing %s: %w", l.ID.Hex(), err)
	}
	return nil
}

func (r *listingRepo) Delete(ctx context.Context, id common.Hash) error {
	if _, err := r.t.q.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id.Hex()); err != nil {
		return fmt.Errorf("postgres: delete listing %s: %w", id.Hex(), err)
	}
	return nil
}

func (r *listingRepo) List(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.Challenged != nil {
		if *f.Challenged {
			query += " AND challenge_id <> 0"
		} else {
			query += " AND challenge_id = 0"
		}
	}
	if f.Owner != nil {
		query += fmt.Sprintf(" AND owner = $%d", argIdx)
		args = append(args, f.Owner.Hex())
		argIdx++
	}

	query += " ORDER BY applied_at, id"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := r.t.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list listings rows: %w", err)
	}
	return out, nil
}

func (r *listingRepo) TotalDeposits(ctx context.Context) (uint64, error) {
	var total int64
	if err := r.t.q.QueryRow(ctx, `SELECT COALESCE(SUM(deposit), 0)::BIGINT FROM listings`).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: total deposits: %w", err)
	}
	return fromDB(total), nil
}

type challengeRepo struct{ t *tx }

const challengeColumns = `id, listing_id, challenger, stake, reward_pool, fee, payout,
	passed, resolved, created_at, resolved_at`

func scanChallenge(row pgx.Row) (domain.Challenge, error) {
	var (
		c                            domain.Challenge
		id, stake, pool, fee, payout int64
		listingID, challenger        string
	)
	if err := row.Scan(
		&id, &listingID, &challenger, &stake, &pool, &fee, &payout,
		&c.Passed, &c.Resolved, &c.CreatedAt, &c.ResolvedAt,
	); err != nil {
		return domain.Challenge{}, err
	}
	c.ID = fromDB(id)
	c.ListingID = common.HexToHash(listingID)
	c.Challenger = common.HexToAddress(challenger)
	c.Stake = fromDB(stake)
	c.RewardPool = fromDB(pool)
	c.Fee = fromDB(fee)
	c.Payout = fromDB(payout)
	return c, nil
}

func (r *challengeRepo) Get(ctx context.Context, id uint64) (domain.Challenge, error) {
	c, err := scanChallenge(r.t.q.QueryRow(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE id = $1`+r.t.lockClause(), int64(id)))
	if isNoRows(err) {
		return domain.Challenge{}, fmt.Errorf("postgres: challenge %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("postgres: get challenge %d: %w", id, err)
	}
	return c, nil
}

func (r *challengeRepo) Put(ctx context.Context, c domain.Challenge) error {
	vals := make([]int64, 0, 5)
	for _, v := range []uint64{c.ID, c.Stake, c.RewardPool, c.Fee, c.Payout} {
		n, err := toDB(v)
		if err != nil {
			return err
		}
		vals = append(vals, n)
	}
	const query = `
		INSERT INTO challenges (` + challengeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			reward_pool = EXCLUDED.reward_pool,
			fee         = EXCLUDED.fee,
			payout      = EXCLUDED.payout,
			passed      = EXCLUDED.passed,
			resolved    = EXCLUDED.resolved,
			resolved_at = EXCLUDED.resolved_at`
	if _, err := r.t.q.Exec(ctx, query,
		vals[0], c.ListingID.Hex(), c.Challenger.Hex(), vals[1], vals[2], vals[3], vals[4],
		c.Passed, c.Resolved, c.CreatedAt, c.ResolvedAt,
	); err != nil {
		return fmt.Errorf("postgres: put challenge %d: %w", c.ID, err)
	}
	return nil
}

func (r *challengeRepo) list(ctx context.Context, where string, args ...any) ([]domain.Challenge, error) {
	rows, err := r.t.q.Query(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list challenges: %w", err)
	}
	defer rows.Close()

	var out []domain.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan challenge: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list challenges rows: %w", err)
	}
	return out, nil
}

func (r *challengeRepo) ListByListing(ctx context.Context, listingID common.Hash) ([]domain.Challenge, error) {
	return r.list(ctx, "listing_id = $1", listingID.Hex())
}

func (r *challengeRepo) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Challenge, error) {
	return r.list(ctx, "resolved AND resolved_at < $1", before)
}
