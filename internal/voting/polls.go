// Package voting is the reference commit-reveal poll subsystem. Voters
// commit keccak256(choice, salt) weighted by their token balance, reveal once
// the commit stage closes, and the registry reads the tally after the reveal
// stage ends.
package voting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	safemath "github.com/luxfi/math"

	"github.com/alanyoungcy/stakeregistry/internal/clock"
	"github.com/alanyoungcy/stakeregistry/internal/crypto"
	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// Polls implements domain.Voting over a transaction-bound poll repo.
type Polls struct {
	repo   domain.PollRepo
	tokens domain.TokenLedger
	clk    clock.Clock
}

var _ domain.Voting = (*Polls)(nil)

// New binds a poll subsystem to repo. tokens weighs commitments.
func New(repo domain.PollRepo, tokens domain.TokenLedger, clk clock.Clock) *Polls {
	return &Polls{repo: repo, tokens: tokens, clk: clk}
}

// StartPoll opens a poll whose commit stage starts now.
func (p *Polls) StartPoll(ctx context.Context, stake, quorum uint64, commitLen, revealLen time.Duration) (uint64, error) {
	if quorum > 100 {
		return 0, fmt.Errorf("voting: quorum %d out of range", quorum)
	}
	now := p.clk.Now()
	commitEnd := now.Add(commitLen)
	id, err := p.repo.Create(ctx, domain.Poll{
		Stake:      stake,
		VoteQuorum: quorum,
		CommitEnd:  commitEnd,
		RevealEnd:  commitEnd.Add(revealLen),
		CreatedAt:  now,
	})
	if err != nil {
		return 0, fmt.Errorf("voting: start poll: %w", err)
	}
	return id, nil
}

// Get returns a poll, or ErrPollNotFound.
func (p *Polls) Get(ctx context.Context, pollID uint64) (domain.Poll, error) {
	poll, err := p.repo.Get(ctx, pollID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Poll{}, domain.ErrPollNotFound
	}
	if err != nil {
		return domain.Poll{}, fmt.Errorf("voting: get poll %d: %w", pollID, err)
	}
	return poll, nil
}

// IsExpired reports whether the reveal stage has ended.
func (p *Polls) IsExpired(ctx context.Context, pollID uint64) (bool, error) {
	poll, err := p.Get(ctx, pollID)
	if err != nil {
		return false, err
	}
	return p.clk.Now().After(poll.RevealEnd), nil
}

// IsPassed reports whether the listing stays. It fails with ErrPollNotEnded
// until the poll has expired.
func (p *Polls) IsPassed(ctx context.Context, pollID uint64) (bool, error) {
	poll, err := p.Get(ctx, pollID)
	if err != nil {
		return false, err
	}
	if !p.clk.Now().After(poll.RevealEnd) {
		return false, domain.ErrPollNotEnded
	}
	return Passed(poll), nil
}

// Passed applies the quorum rule: the listing is removed only when the
// revealed removal weight is strictly more than VoteQuorum percent of all
// revealed weight. A poll nobody revealed in keeps the listing.
func Passed(poll domain.Poll) bool {
	remove := new(uint256.Int).Mul(uint256.NewInt(100), uint256.NewInt(poll.VotesRemove))
	total := new(uint256.Int).Add(uint256.NewInt(poll.VotesKeep), uint256.NewInt(poll.VotesRemove))
	threshold := new(uint256.Int).Mul(uint256.NewInt(poll.VoteQuorum), total)
	return !remove.Gt(threshold)
}

// Commit records a sealed vote weighted by numTokens. A voter may replace an
// unrevealed commitment while the commit stage is open. The weight is checked
// against the voter's balance at commit time but not locked: tokens moved to
// another account after committing can back a second commitment.
func (p *Polls) Commit(ctx context.Context, pollID uint64, voter common.Address, commitment common.Hash, numTokens uint64) error {
	if numTokens == 0 {
		return domain.ErrInvalidAmount
	}
	poll, err := p.Get(ctx, pollID)
	if err != nil {
		return err
	}
	now := p.clk.Now()
	if now.After(poll.CommitEnd) {
		return domain.ErrCommitEnded
	}

	bal, err := p.tokens.BalanceOf(ctx, voter)
	if err != nil {
		return fmt.Errorf("voting: balance: %w", err)
	}
	if bal < numTokens {
		return domain.ErrInsufficientBalance
	}

	if err := p.repo.PutVote(ctx, domain.Vote{
		PollID:      pollID,
		Voter:       voter,
		Commitment:  commitment,
		NumTokens:   numTokens,
		CommittedAt: now,
	}); err != nil {
		return fmt.Errorf("voting: commit: %w", err)
	}
	return nil
}

// Reveal opens a committed vote and adds its weight to the tally.
func (p *Polls) Reveal(ctx context.Context, pollID uint64, voter common.Address, choice domain.VoteChoice, salt uint64) (domain.Vote, error) {
	if choice != domain.VoteKeep && choice != domain.VoteRemove {
		return domain.Vote{}, domain.ErrCommitMismatch
	}
	poll, err := p.Get(ctx, pollID)
	if err != nil {
		return domain.Vote{}, err
	}
	now := p.clk.Now()
	if !now.After(poll.CommitEnd) || now.After(poll.RevealEnd) {
		return domain.Vote{}, domain.ErrRevealNotActive
	}

	vote, err := p.repo.GetVote(ctx, pollID, voter)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Vote{}, domain.ErrNoCommit
	}
	if err != nil {
		return domain.Vote{}, fmt.Errorf("voting: get vote: %w", err)
	}
	if vote.Revealed {
		return domain.Vote{}, domain.ErrAlreadyRevealed
	}
	if crypto.VoteCommitment(uint8(choice), salt) != vote.Commitment {
		return domain.Vote{}, domain.ErrCommitMismatch
	}

	if choice == domain.VoteKeep {
		poll.VotesKeep, err = safemath.Add64(poll.VotesKeep, vote.NumTokens)
	} else {
		poll.VotesRemove, err = safemath.Add64(poll.VotesRemove, vote.NumTokens)
	}
	if err != nil {
		return domain.Vote{}, domain.ErrAmountOverflow
	}

	vote.Revealed = true
	vote.Choice = choice
	if err := p.repo.PutVote(ctx, vote); err != nil {
		return domain.Vote{}, fmt.Errorf("voting: reveal: %w", err)
	}
	if err := p.repo.Update(ctx, poll); err != nil {
		return domain.Vote{}, fmt.Errorf("voting: tally: %w", err)
	}
	return vote, nil
}
