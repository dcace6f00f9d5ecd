package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

type pollRepo struct{ t *tx }

func (r *pollRepo) Create(ctx context.Context, p domain.Poll) (uint64, error) {
	stake, err := toDB(p.Stake)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := r.t.q.QueryRow(ctx, `
		INSERT INTO polls (stake, vote_quorum, commit_end, reveal_end, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		stake, int64(p.VoteQuorum), p.CommitEnd, p.RevealEnd, p.CreatedAt,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: create poll: %w", err)
	}
	return fromDB(id), nil
}

func (r *pollRepo) Get(ctx context.Context, id uint64) (domain.Poll, error) {
	var (
		p                                domain.Poll
		pid, stake, quorum, keep, remove int64
	)
	err := r.t.q.QueryRow(ctx, `
		SELECT id, stake, vote_quorum, commit_end, reveal_end, votes_keep, votes_remove, created_at
		FROM polls WHERE id = $1`+r.t.lockClause(), int64(id),
	).Scan(&pid, &stake, &quorum, &p.CommitEnd, &p.RevealEnd, &keep, &remove, &p.CreatedAt)
	if isNoRows(err) {
		return domain.Poll{}, fmt.Errorf("postgres: poll %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Poll{}, fmt.Errorf("postgres: get poll %d: %w", id, err)
	}
	p.ID = fromDB(pid)
	p.Stake = fromDB(stake)
	p.VoteQuorum = fromDB(quorum)
	p.VotesKeep = fromDB(keep)
	p.VotesRemove = fromDB(remove)
	return p, nil
}

func (r *pollRepo) Update(ctx context.Context, p domain.Poll) error {
	keep, err := toDB(p.VotesKeep)
	if err != nil {
		return err
	}
	remove, err := toDB(p.VotesRemove)
	if err != nil {
		return err
	}
	tag, err := r.t.q.Exec(ctx,
		`UPDATE polls SET votes_keep = $2, votes_remove = $3 WHERE id = $1`,
		int64(p.ID), keep, remove)
	if err != nil {
		return fmt.Errorf("postgres: update poll %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: poll %d: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *pollRepo) GetVote(ctx context.Context, pollID uint64, voter common.Address) (domain.Vote, error) {
	var (
		v          domain.Vote
		commitment string
		tokens     int64
		choice     int16
	)
	err := r.t.q.QueryRow(ctx, `
		SELECT commitment, num_tokens, revealed, choice, committed_at
		FROM votes WHERE poll_id = $1 AND voter = $2`+r.t.lockClause(),
		int64(pollID), voter.Hex(),
	).Scan(&commitment, &tokens, &v.Revealed, &choice, &v.CommittedAt)
	if isNoRows(err) {
		return domain.Vote{}, fmt.Errorf("postgres: vote %d/%s: %w", pollID, voter.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.Vote{}, fmt.Errorf("postgres: get vote %d/%s: %w", pollID, voter.Hex(), err)
	}
	v.PollID = pollID
	v.Voter = voter
	v.Commitment = common.HexToHash(commitment)
	v.NumTokens = fromDB(tokens)
	v.Choice = domain.VoteChoice(choice)
	return v, nil
}

func (r *pollRepo) PutVote(ctx context.Context, v domain.Vote) error {
	tokens, err := toDB(v.NumTokens)
	if err != nil {
		return err
	}
	if _, err := r.t.q.Exec(ctx, `
		INSERT INTO votes (poll_id, voter, commitment, num_tokens, revealed, choice, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (poll_id, voter) DO UPDATE SET
			commitment   = EXCLUDED.commitment,
			num_tokens   = EXCLUDED.num_tokens,
			revealed     = EXCLUDED.revealed,
			choice       = EXCLUDED.choice,
			committed_at = EXCLUDED.committed_at`,
		int64(v.PollID), v.Voter.Hex(), v.Commitment.Hex(), tokens, v.Revealed, int16(v.Choice), v.CommittedAt,
	); err != nil {
		return fmt.Errorf("postgres: put vote %d/%s: %w", v.PollID, v.Voter.Hex(), err)
	}
	return nil
}

type tokenRepo struct{ t *tx }

func (r *tokenRepo) Balance(ctx context.Context, who common.Address) (uint64, error) {
	var bal int64
	err := r.t.q.QueryRow(ctx,
		`SELECT balance FROM token_balances WHERE address = $1`+r.t.lockClause(), who.Hex(),
	).Scan(&bal)
	if isNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: balance %s: %w", who.Hex(), err)
	}
	return fromDB(bal), nil
}

func (r *tokenRepo) SetBalance(ctx context.Context, who common.Address, amount uint64) error {
	bal, err := toDB(amount)
	if err != nil {
		return err
	}
	if _, err := r.t.q.Exec(ctx, `
		INSERT INTO token_balances (address, balance) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET balance = EXCLUDED.balance`,
		who.Hex(), bal,
	); err != nil {
		return fmt.Errorf("postgres: set balance %s: %w", who.Hex(), err)
	}
	return nil
}

func (r *tokenRepo) Allowance(ctx context.Context, owner, spender common.Address) (uint64, error) {
	var amt int64
	err := r.t.q.QueryRow(ctx,
		`SELECT amount FROM token_allowances WHERE owner = $1 AND spender = $2`+r.t.lockClause(),
		owner.Hex(), spender.Hex(),
	).Scan(&amt)
	if isNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: allowance %s/%s: %w", owner.Hex(), spender.Hex(), err)
	}
	return fromDB(amt), nil
}

func (r *tokenRepo) SetAllowance(ctx context.Context, owner, spender common.Address, amount uint64) error {
	amt, err := toDB(amount)
	if err != nil {
		return err
	}
	if _, err := r.t.q.Exec(ctx, `
		INSERT INTO token_allowances (owner, spender, amount) VALUES ($1, $2, $3)
		ON CONFLICT (owner, spender) DO UPDATE SET amount = EXCLUDED.amount`,
		owner.Hex(), spender.Hex(), amt,
	); err != nil {
		return fmt.Errorf("postgres: set allowance %s/%s: %w", owner.Hex(), spender.Hex(), err)
	}
	return nil
}
