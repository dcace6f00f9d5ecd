package voting

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeregistry/internal/clock"
	"github.com/alanyoungcy/stakeregistry/internal/crypto"
	"github.com/alanyoungcy/stakeregistry/internal/domain"
	"github.com/alanyoungcy/stakeregistry/internal/store/memory"
	"github.com/alanyoungcy/stakeregistry/internal/token"
)

var (
	voterA = common.HexToAddress("0xaaa")
	voterB = common.HexToAddress("0xbbb")
)

type fixture struct {
	store *memory.Store
	clk   *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(), clk: clock.NewMock(time.Unix(1_700_000_000, 0))}
	svc := token.NewService(f.store)
	require.NoError(t, svc.Mint(context.Background(), voterA, 100))
	require.NoError(t, svc.Mint(context.Background(), voterB, 50))
	return f
}

func (f *fixture) do(t *testing.T, fn func(ctx context.Context, p *Polls) error) error {
	t.Helper()
	return f.store.InTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return fn(ctx, New(tx.Polls(), token.NewLedger(tx.Tokens()), f.clk))
	})
}

func (f *fixture) start(t *testing.T, quorum uint64) uint64 {
	t.Helper()
	var id uint64
	require.NoError(t, f.do(t, func(ctx context.Context, p *Polls) (err error) {
		id, err = p.StartPoll(ctx, 10, quorum, time.Hour, time.Hour)
		return err
	}))
	return id
}

func TestCommitRevealTally(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, 50)

	require.NoError(t, f.do(t, func(ctx context.Context, p *Polls) error {
		if err := p.Commit(ctx, id, voterA, crypto.VoteCommitment(uint8(domain.VoteRemove), 7), 100); err != nil {
			return err
		}
		return p.Commit(ctx, id, voterB, crypto.VoteCommitment(uint8(domain.VoteKeep), 9), 50)
	}))

	// Reveal before the commit stage closes.
	err := f.do(t, func(ctx context.Context, p *Polls) error {
		_, err := p.Reveal(ctx, id, voterA, domain.VoteRemove, 7)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrRevealNotActive)

	f.clk.Advance(time.Hour + time.Second)

	err = f.do(t, func(ctx context.Context, p *Polls) error {
		_, err := p.Reveal(ctx, id, voterA, domain.VoteKeep, 7)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrCommitMismatch)

	require.NoError(t, f.do(t, func(ctx context.Context, p *Polls) error {
		if _, err := p.Reveal(ctx, id, voterA, domain.VoteRemove, 7); err != nil {
			return err
		}
		_, err := p.Reveal(ctx, id, voterB, domain.VoteKeep, 9)
		return err
	}))

	err = f.do(t, func(ctx context.Context, p *Polls) error {
		_, err := p.Reveal(ctx, id, voterA, domain.VoteRemove, 7)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyRevealed)

	err = f.do(t, func(ctx context.Context, p *Polls) error {
		_, err := p.IsPassed(ctx, id)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrPollNotEnded)

	f.clk.Advance(time.Hour)

	require.NoError(t, f.store.View(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		p := New(tx.Polls(), token.NewLedger(tx.Tokens()), f.clk)
		expired, err := p.IsExpired(ctx, id)
		require.NoError(t, err)
		assert.True(t, expired)

		passed, err := p.IsPassed(ctx, id)
		require.NoError(t, err)
		assert.False(t, passed, "100 of 150 tokens voted to remove at 50% quorum")

		poll, err := p.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(50), poll.VotesKeep)
		assert.Equal(t, uint64(100), poll.VotesRemove)
		return nil
	}))
}

func TestCommitRules(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, 50)
	c := crypto.VoteCommitment(1, 1)

	err := f.do(t, func(ctx context.Context, p *Polls) error {
		return p.Commit(ctx, id, voterB, c, 51)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	err = f.do(t, func(ctx context.Context, p *Polls) error {
		return p.Commit(ctx, 99, voterB, c, 1)
	})
	assert.ErrorIs(t, err, domain.ErrPollNotFound)

	f.clk.Advance(2 * time.Hour)
	err = f.do(t, func(ctx context.Context, p *Polls) error {
		return p.Commit(ctx, id, voterB, c, 1)
	})
	assert.ErrorIs(t, err, domain.ErrCommitEnded)

	err = f.do(t, func(ctx context.Context, p *Polls) error {
		_, err := p.Reveal(ctx, id, voterB, domain.VoteKeep, 1)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNoCommit)
}

func TestPassedQuorumRule(t *testing.T) {
	tests := []struct {
		name   string
		keep   uint64
		remove uint64
		quorum uint64
		want   bool
	}{
		{"no votes keeps", 0, 0, 50, true},
		{"tie at 50 keeps", 10, 10, 50, true},
		{"majority removes", 10, 11, 50, false},
		{"supermajority not reached", 30, 60, 70, true},
		{"supermajority reached", 20, 80, 70, false},
		{"zero quorum removes on any removal vote", 100, 1, 0, false},
		{"full quorum never removes", 0, 100, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Passed(domain.Poll{VotesKeep: tt.keep, VotesRemove: tt.remove, VoteQuorum: tt.quorum})
			assert.Equal(t, tt.want, got)
		})
	}
}
