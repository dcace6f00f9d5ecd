package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeregistry/internal/clock"
	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

func TestStoreRollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := common.HexToHash("0x01")
	alice := common.HexToAddress("0xa11ce")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.Listings().Put(ctx, domain.Listing{ID: id, Status: domain.ListingApplied}))
		require.NoError(t, tx.Tokens().SetBalance(ctx, alice, 10))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Listings().Get(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		bal, err := tx.Tokens().Balance(ctx, alice)
		require.NoError(t, err)
		assert.Zero(t, bal)
		return nil
	})
	require.NoError(t, err)
}

func TestStoreCommitAndReadOnlyView(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := common.HexToHash("0x02")
	exit := time.Unix(100, 0)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Listings().Put(ctx, domain.Listing{ID: id, Status: domain.ListingExitInitiated, Deposit: 7, ExitTime: &exit})
	}))

	err := s.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		l, err := tx.Listings().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), l.Deposit)

		// Mutating the returned copy must not reach the store.
		*l.ExitTime = time.Unix(0, 0)

		total, err := tx.Listings().TotalDeposits(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), total)

		assert.ErrorIs(t, tx.Listings().Delete(ctx, id), errReadOnly)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		l, err := tx.Listings().Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, l.ExitTime.Equal(exit))
		return nil
	}))
}

func TestListingListFilterAndPaging(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Unix(1000, 0)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		for i := 0; i < 5; i++ {
			st := domain.ListingApplied
			if i%2 == 0 {
				st = domain.ListingWhitelisted
			}
			if err := tx.Listings().Put(ctx, domain.Listing{
				ID:        common.BytesToHash([]byte{byte(i + 1)}),
				Status:    st,
				AppliedAt: base.Add(time.Duration(i) * time.Second),
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		all, err := tx.Listings().List(ctx, domain.ListingFilter{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, common.BytesToHash([]byte{1}), all[0].ID)

		wl, err := tx.Listings().List(ctx, domain.ListingFilter{Status: domain.ListingWhitelisted})
		require.NoError(t, err)
		assert.Len(t, wl, 3)

		page, err := tx.Listings().List(ctx, domain.ListingFilter{Limit: 2, Offset: 3})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, common.BytesToHash([]byte{4}), page[0].ID)

		none, err := tx.Listings().List(ctx, domain.ListingFilter{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	}))
}

func TestPollIDsAreSequential(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var ids []uint64
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		for i := 0; i < 3; i++ {
			id, err := tx.Polls().Create(ctx, domain.Poll{Stake: 1})
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	}))
	assert.Equal(t, []uint64{1, 2, 3}, ids)

	// A rolled back transaction does not consume ids.
	_ = s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, _ = tx.Polls().Create(ctx, domain.Poll{})
		return errors.New("abort")
	})
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		id, err := tx.Polls().Create(ctx, domain.Poll{})
		assert.Equal(t, uint64(4), id)
		return err
	}))
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()

	unlock, err := lm.Acquire(ctx, "registry", time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "registry", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "registry", time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestAuditStoreWindow(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock(time.Unix(0, 0))
	a := NewAuditStore(clk)

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Log(ctx, "evt", map[string]any{"i": i}))
		clk.Advance(time.Hour)
	}

	all, err := a.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID)

	until := time.Unix(0, 0).Add(2 * time.Hour)
	old, err := a.List(ctx, domain.ListOpts{Until: &until})
	require.NoError(t, err)
	assert.Len(t, old, 2)
}

func TestAuditStoreListingFilter(t *testing.T) {
	ctx := context.Background()
	a := NewAuditStore(clock.NewMock(time.Unix(0, 0)))
	one, two := common.HexToHash("0x01"), common.HexToHash("0x02")

	require.NoError(t, a.Log(ctx, "application", map[string]any{"listing": one.Hex()}))
	require.NoError(t, a.Log(ctx, "application", map[string]any{"listing": two.Hex()}))
	require.NoError(t, a.Log(ctx, "archive.audit", map[string]any{"count": 3}))
	require.NoError(t, a.Log(ctx, "challenge", map[string]any{"listing": one.Hex()}))

	got, err := a.List(ctx, domain.ListOpts{Listing: &one})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "challenge", got[0].Event)
	assert.Equal(t, "application", got[1].Event)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock(time.Unix(1_700_000_000, 0))
	rl := NewRateLimiter(clk)

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "a", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "a", 2, time.Second)
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "b", 2, time.Second)
	assert.True(t, ok, "keys are independent")

	clk.Advance(time.Second)
	ok, _ = rl.Allow(ctx, "a", 2, time.Second)
	assert.True(t, ok, "window slid past earlier hits")
}
