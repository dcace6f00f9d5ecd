package token

import (
	"context"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
	"github.com/alanyoungcy/stakeregistry/internal/store/memory"
)

var (
	alice  = common.HexToAddress("0xa11ce")
	bob    = common.HexToAddress("0xb0b")
	escrow = common.HexToAddress("0xe5c")
)

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewStore())

	require.NoError(t, svc.Mint(ctx, alice, 100))
	require.NoError(t, svc.Transfer(ctx, alice, bob, 40))

	bal, err := svc.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), bal)
	bal, err = svc.BalanceOf(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), bal)

	err = svc.Transfer(ctx, bob, alice, 41)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.ErrorIs(t, err, domain.ErrFunds)

	assert.ErrorIs(t, svc.Transfer(ctx, bob, alice, 0), domain.ErrInvalidAmount)
}

func TestTransferFromUsesAllowance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewService(store)

	require.NoError(t, svc.Mint(ctx, alice, 100))
	require.NoError(t, svc.Approve(ctx, alice, escrow, 30))

	err := store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return NewLedger(tx.Tokens()).TransferFrom(ctx, escrow, alice, escrow, 31)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return NewLedger(tx.Tokens()).TransferFrom(ctx, escrow, alice, escrow, 30)
	}))

	left, err := svc.Allowance(ctx, alice, escrow)
	require.NoError(t, err)
	assert.Zero(t, left)
	bal, err := svc.BalanceOf(ctx, escrow)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), bal)
}

func TestTransferFromSelfNeedsNoAllowance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, NewService(store).Mint(ctx, escrow, 5))

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return NewLedger(tx.Tokens()).TransferFrom(ctx, escrow, escrow, bob, 5)
	}))
}

func TestMintOverflow(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewStore())

	require.NoError(t, svc.Mint(ctx, alice, math.MaxUint64))
	assert.ErrorIs(t, svc.Mint(ctx, alice, 1), domain.ErrAmountOverflow)

	bal, err := svc.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), bal)
}
