// Package token is the reference fungible-token ledger the registry escrows
// deposits in. It follows ERC-20 transfer and allowance semantics over a
// domain.TokenRepo, so every movement joins the caller's store transaction.
package token

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	safemath "github.com/luxfi/math"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// Ledger implements domain.TokenLedger over a transaction-bound repo.
type Ledger struct {
	repo domain.TokenRepo
}

var _ domain.TokenLedger = (*Ledger)(nil)

// NewLedger binds a ledger to repo.
func NewLedger(repo domain.TokenRepo) *Ledger {
	return &Ledger{repo: repo}
}

// BalanceOf returns the balance of who.
func (l *Ledger) BalanceOf(ctx context.Context, who common.Address) (uint64, error) {
	return l.repo.Balance(ctx, who)
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(ctx context.Context, owner, spender common.Address) (uint64, error) {
	return l.repo.Allowance(ctx, owner, spender)
}

// Transfer moves amount from from to to.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount uint64) error {
	if amount == 0 {
		return domain.ErrInvalidAmount
	}
	return l.move(ctx, from, to, amount)
}

// TransferFrom moves amount from from to to using spender's allowance. An
// owner moving their own tokens needs no allowance.
func (l *Ledger) TransferFrom(ctx context.Context, spender, from, to common.Address, amount uint64) error {
	if amount == 0 {
		return domain.ErrInvalidAmount
	}
	if spender != from {
		allowed, err := l.repo.Allowance(ctx, from, spender)
		if err != nil {
			return fmt.Errorf("token: allowance: %w", err)
		}
		if allowed < amount {
			return domain.ErrInsufficientAllowance
		}
		if err := l.repo.SetAllowance(ctx, from, spender, allowed-amount); err != nil {
			return fmt.Errorf("token: set allowance: %w", err)
		}
	}
	return l.move(ctx, from, to, amount)
}

// Approve sets spender's allowance over owner's tokens.
func (l *Ledger) Approve(ctx context.Context, owner, spender common.Address, amount uint64) error {
	if err := l.repo.SetAllowance(ctx, owner, spender, amount); err != nil {
		return fmt.Errorf("token: approve: %w", err)
	}
	return nil
}

// Mint credits amount to to.
func (l *Ledger) Mint(ctx context.Context, to common.Address, amount uint64) error {
	if amount == 0 {
		return domain.ErrInvalidAmount
	}
	bal, err := l.repo.Balance(ctx, to)
	if err != nil {
		return fmt.Errorf("token: balance: %w", err)
	}
	next, err := safemath.Add64(bal, amount)
	if err != nil {
		return domain.ErrAmountOverflow
	}
	return l.repo.SetBalance(ctx, to, next)
}

func (l *Ledger) move(ctx context.Context, from, to common.Address, amount uint64) error {
	fromBal, err := l.repo.Balance(ctx, from)
	if err != nil {
		return fmt.Errorf("token: balance: %w", err)
	}
	debited, err := safemath.Sub(fromBal, amount)
	if err != nil {
		return domain.ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	toBal, err := l.repo.Balance(ctx, to)
	if err != nil {
		return fmt.Errorf("token: balance: %w", err)
	}
	credited, err := safemath.Add64(toBal, amount)
	if err != nil {
		return domain.ErrAmountOverflow
	}
	if err := l.repo.SetBalance(ctx, from, debited); err != nil {
		return fmt.Errorf("token: debit: %w", err)
	}
	if err := l.repo.SetBalance(ctx, to, credited); err != nil {
		return fmt.Errorf("token: credit: %w", err)
	}
	return nil
}

// Service runs ledger operations as their own store transactions. It backs
// the token endpoints of the API; the registry engine binds a Ledger to its
// own transaction instead.
type Service struct {
	store domain.Store
}

// NewService creates a token Service.
func NewService(store domain.Store) *Service {
	return &Service{store: store}
}

// BalanceOf returns the committed balance of who.
func (s *Service) BalanceOf(ctx context.Context, who common.Address) (bal uint64, err error) {
	err = s.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		bal, err = NewLedger(tx.Tokens()).BalanceOf(ctx, who)
		return err
	})
	return bal, err
}

// Allowance returns the committed allowance of spender over owner.
func (s *Service) Allowance(ctx context.Context, owner, spender common.Address) (amt uint64, err error) {
	err = s.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		amt, err = NewLedger(tx.Tokens()).Allowance(ctx, owner, spender)
		return err
	})
	return amt, err
}

// Approve sets spender's allowance over owner's tokens.
func (s *Service) Approve(ctx context.Context, owner, spender common.Address, amount uint64) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return NewLedger(tx.Tokens()).Approve(ctx, owner, spender, amount)
	})
}

// Mint credits amount to to.
func (s *Service) Mint(ctx context.Context, to common.Address, amount uint64) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return NewLedger(tx.Tokens()).Mint(ctx, to, amount)
	})
}

// Transfer moves amount between two accounts.
func (s *Service) Transfer(ctx context.Context, from, to common.Address, amount uint64) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return NewLedger(tx.Tokens()).Transfer(ctx, from, to, amount)
	})
}
