package registry

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// depositLedger moves stakes between parties and the escrow account. The
// escrow is both spender and recipient on the way in, so a party funds a
// deposit by approving the escrow address.
type depositLedger struct {
	token  domain.TokenLedger
	escrow common.Address
}

// TransferIn pulls amount from from into escrow. The escrow cannot fund
// itself.
func (d depositLedger) TransferIn(ctx context.Context, from common.Address, amount uint64) error {
	if from == d.escrow {
		return domain.ErrInvalidParty
	}
	return d.token.TransferFrom(ctx, d.escrow, from, d.escrow, amount)
}

// TransferOut pays amount from escrow to to. Zero is a no-op.
func (d depositLedger) TransferOut(ctx context.Context, to common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return d.token.Transfer(ctx, d.escrow, to, amount)
}

// BalanceOf returns the token balance of who.
func (d depositLedger) BalanceOf(ctx context.Context, who common.Address) (uint64, error) {
	return d.token.BalanceOf(ctx, who)
}
