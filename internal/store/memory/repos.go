package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	safemath "github.com/luxfi/math"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

type listingRepo struct{ t *tx }

func (r listingRepo) Get(_ context.Context, id common.Hash) (domain.Listing, error) {
	l, ok := r.t.st.listings[id]
	if !ok {
		return domain.Listing{}, fmt.Errorf("memory: listing %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return l.Clone(), nil
}

func (r listingRepo) Put(_ context.Context, l domain.Listing) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	r.t.st.listings[l.ID] = l.Clone()
	return nil
}

func (r listingRepo) Delete(_ context.Context, id common.Hash) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	delete(r.t.st.listings, id)
	return nil
}

// List returns matching listings ordered by application time, then id.
func (r listingRepo) List(_ context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	out := make([]domain.Listing, 0, len(r.t.st.listings))
	for _, l := range r.t.st.listings {
		if f.Match(l) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AppliedAt.Equal(out[j].AppliedAt) {
			return out[i].AppliedAt.Before(out[j].AppliedAt)
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r listingRepo) TotalDeposits(_ context.Context) (uint64, error) {
	var total uint64
	for _, l := range r.t.st.listings {
		next, err := safemath.Add64(total, l.Deposit)
		if err != nil {
			return 0, domain.ErrAmountOverflow
		}
		total = next
	}
	return total, nil
}

type challengeRepo struct{ t *tx }

func (r challengeRepo) Get(_ context.Context, id uint64) (domain.Challenge, error) {
	c, ok := r.t.st.challenges[id]
	if !ok {
		return domain.Challenge{}, fmt.Errorf("memory: challenge %d: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

func (r challengeRepo) Put(_ context.Context, c domain.Challenge) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	r.t.st.challenges[c.ID] = c
	return nil
}

func (r challengeRepo) ListByListing(_ context.Context, listingID common.Hash) ([]domain.Challenge, error) {
	var out []domain.Challenge
	for _, c := range r.t.st.challenges {
		if c.ListingID == listingID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r challengeRepo) ListResolvedBefore(_ context.Context, before time.Time) ([]domain.Challenge, error) {
	var out []domain.Challenge
	for _, c := range r.t.st.challenges {
		if c.Resolved && c.ResolvedAt != nil && c.ResolvedAt.Before(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type pollRepo struct{ t *tx }

func (r pollRepo) Create(_ context.Context, p domain.Poll) (uint64, error) {
	if err := r.t.writable(); err != nil {
		return 0, err
	}
	p.ID = r.t.st.nextPollID
	r.t.st.nextPollID++
	r.t.st.polls[p.ID] = p
	return p.ID, nil
}

func (r pollRepo) Get(_ context.Context, id uint64) (domain.Poll, error) {
	p, ok := r.t.st.polls[id]
	if !ok {
		return domain.Poll{}, fmt.Errorf("memory: poll %d: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (r pollRepo) Update(_ context.Context, p domain.Poll) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	if _, ok := r.t.st.polls[p.ID]; !ok {
		return fmt.Errorf("memory: poll %d: %w", p.ID, domain.ErrNotFound)
	}
	r.t.st.polls[p.ID] = p
	return nil
}

func (r pollRepo) GetVote(_ context.Context, pollID uint64, voter common.Address) (domain.Vote, error) {
	v, ok := r.t.st.votes[voteKey{pollID, voter}]
	if !ok {
		return domain.Vote{}, fmt.Errorf("memory: vote %d/%s: %w", pollID, voter.Hex(), domain.ErrNotFound)
	}
	return v, nil
}

func (r pollRepo) PutVote(_ context.Context, v domain.Vote) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	r.t.st.votes[voteKey{v.PollID, v.Voter}] = v
	return nil
}

type tokenRepo struct{ t *tx }

func (r tokenRepo) Balance(_ context.Context, who common.Address) (uint64, error) {
	return r.t.st.balances[who], nil
}

func (r tokenRepo) SetBalance(_ context.Context, who common.Address, amount uint64) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	if amount == 0 {
		delete(r.t.st.balances, who)
		return nil
	}
	r.t.st.balances[who] = amount
	return nil
}

func (r tokenRepo) Allowance(_ context.Context, owner, spender common.Address) (uint64, error) {
	return r.t.st.allowances[allowanceKey{owner, spender}], nil
}

func (r tokenRepo) SetAllowance(_ context.Context, owner, spender common.Address, amount uint64) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	k := allowanceKey{owner, spender}
	if amount == 0 {
		delete(r.t.st.allowances, k)
		return nil
	}
	r.t.st.allowances[k] = amount
	return nil
}
