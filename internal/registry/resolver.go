package registry

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	safemath "github.com/luxfi/math"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// RewardSplit is how a resolved challenge's escrowed stakes are paid out.
type RewardSplit struct {
	Forfeited uint64 // the loser's stake
	Pool      uint64 // forfeited stake plus the winner's own stake when the challenger won
	Fee       uint64 // floor(Forfeited * pct / 100), paid to the treasury
	Payout    uint64 // Pool - Fee, paid to the winner
}

// SplitReward computes the payout for a challenge. forfeited is the loser's
// stake; returned is the stake handed back to the winner through the pool
// (zero when the owner wins, since the owner's stake stays as the deposit).
// Payout + Fee == Pool always holds.
func SplitReward(forfeited, returned, dispensationPct uint64) (RewardSplit, error) {
	if dispensationPct > 100 {
		return RewardSplit{}, fmt.Errorf("registry: dispensation pct %d out of range", dispensationPct)
	}
	pool, err := safemath.Add64(forfeited, returned)
	if err != nil {
		return RewardSplit{}, domain.ErrAmountOverflow
	}
	fee, overflow := new(uint256.Int).MulDivOverflow(
		uint256.NewInt(forfeited),
		uint256.NewInt(dispensationPct),
		uint256.NewInt(100),
	)
	if overflow || !fee.IsUint64() {
		return RewardSplit{}, domain.ErrAmountOverflow
	}
	return RewardSplit{
		Forfeited: forfeited,
		Pool:      pool,
		Fee:       fee.Uint64(),
		Payout:    pool - fee.Uint64(),
	}, nil
}

// resolve settles the open challenge on l according to the poll outcome.
// Applications and whitelisted listings are settled the same way.
func (e *Engine) resolve(ctx context.Context, w *work, l domain.Listing, c domain.Challenge, passed bool) error {
	if c.Stake > l.Deposit {
		return fmt.Errorf("registry: challenge %d stake %d exceeds deposit %d", c.ID, c.Stake, l.Deposit)
	}
	ownerStake := l.Deposit - c.Stake

	var (
		split  RewardSplit
		winner common.Address
		err    error
	)
	if passed {
		winner = l.Owner
		split, err = SplitReward(c.Stake, 0, e.params.DispensationPct)
	} else {
		winner = c.Challenger
		split, err = SplitReward(ownerStake, c.Stake, e.params.DispensationPct)
	}
	if err != nil {
		return err
	}

	if err := w.deposits.TransferOut(ctx, winner, split.Payout); err != nil {
		return fmt.Errorf("registry: pay winner: %w", err)
	}
	if err := w.deposits.TransferOut(ctx, e.params.Treasury, split.Fee); err != nil {
		return fmt.Errorf("registry: pay fee: %w", err)
	}

	resolvedAt := w.now
	c.Resolved = true
	c.Passed = passed
	c.RewardPool = split.Pool
	c.Fee = split.Fee
	c.Payout = split.Payout
	c.ResolvedAt = &resolvedAt
	if err := w.tx.Challenges().Put(ctx, c); err != nil {
		return fmt.Errorf("registry: save challenge %d: %w", c.ID, err)
	}

	if !passed {
		if err := w.tx.Listings().Delete(ctx, l.ID); err != nil {
			return fmt.Errorf("registry: remove listing %s: %w", l.ID.Hex(), err)
		}
		w.emit(domain.Event{Type: domain.EventChallengeFailed, ListingID: l.ID, Actor: winner, Amount: split.Payout, ChallengeID: c.ID})
		w.emit(domain.Event{Type: domain.EventListingRemoved, ListingID: l.ID, Actor: l.Owner, Status: domain.ListingUnlisted})
		return nil
	}

	wasApplied := l.Status == domain.ListingApplied
	l.Deposit = ownerStake
	l.ChallengeID = 0
	l.Status = domain.ListingWhitelisted
	l.ExitTime = nil
	l.UpdatedAt = w.now
	if err := w.tx.Listings().Put(ctx, l); err != nil {
		return fmt.Errorf("registry: save listing %s: %w", l.ID.Hex(), err)
	}
	w.emit(domain.Event{Type: domain.EventChallengePassed, ListingID: l.ID, Actor: winner, Amount: split.Payout, ChallengeID: c.ID, Status: l.Status})
	if wasApplied {
		w.emit(domain.Event{Type: domain.EventApplicationAccepted, ListingID: l.ID, Actor: l.Owner, Amount: l.Deposit, Status: l.Status})
	}
	return nil
}
