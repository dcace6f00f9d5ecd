package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// StatusOf returns the listing record. An absent listing reads as the
// unlisted zero record.
func (e *Engine) StatusOf(ctx context.Context, id common.Hash) (domain.Listing, error) {
	var out domain.Listing
	err := e.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		l, err := tx.Listings().Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			out = domain.Unlisted(id)
			return nil
		}
		if err != nil {
			return fmt.Errorf("registry: get listing %s: %w", id.Hex(), err)
		}
		out = l
		return nil
	})
	return out, err
}

// IsListed reports whether the listing is whitelisted, including while its
// exit is pending.
func (e *Engine) IsListed(ctx context.Context, id common.Hash) (bool, error) {
	l, err := e.StatusOf(ctx, id)
	if err != nil {
		return false, err
	}
	return l.Listed(), nil
}

// List returns listings matching f.
func (e *Engine) List(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	var out []domain.Listing
	err := e.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		ls, err := tx.Listings().List(ctx, f)
		if err != nil {
			return fmt.Errorf("registry: list listings: %w", err)
		}
		out = ls
		return nil
	})
	return out, err
}

// ChallengeByID returns a challenge by id. Absent challenges return
// domain.ErrNotFound.
func (e *Engine) ChallengeByID(ctx context.Context, id uint64) (domain.Challenge, error) {
	var out domain.Challenge
	err := e.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		c, err := tx.Challenges().Get(ctx, id)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// ChallengesFor returns every challenge ever filed against a listing.
func (e *Engine) ChallengesFor(ctx context.Context, id common.Hash) ([]domain.Challenge, error) {
	var out []domain.Challenge
	err := e.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		cs, err := tx.Challenges().ListByListing(ctx, id)
		out = cs
		return err
	})
	return out, err
}

// Poll returns the poll deciding a challenge.
func (e *Engine) Poll(ctx context.Context, id uint64) (domain.Poll, error) {
	var out domain.Poll
	err := e.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.Polls().Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrPollNotFound
		}
		out = p
		return err
	})
	return out, err
}

// Escrow reports the escrow account's token balance and the sum of all
// listing deposits. The two are equal whenever no operation is in flight.
func (e *Engine) Escrow(ctx context.Context) (balance, deposits uint64, err error) {
	err = e.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		if balance, err = e.ledgerFor(tx).BalanceOf(ctx, e.params.Escrow); err != nil {
			return fmt.Errorf("registry: escrow balance: %w", err)
		}
		if deposits, err = tx.Listings().TotalDeposits(ctx); err != nil {
			return fmt.Errorf("registry: total deposits: %w", err)
		}
		return nil
	})
	return balance, deposits, err
}
