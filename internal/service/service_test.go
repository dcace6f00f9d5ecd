package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alanyoungcy/stakeregistry/internal/clock"
	"github.com/alanyoungcy/stakeregistry/internal/domain"
	"github.com/alanyoungcy/stakeregistry/internal/registry"
	"github.com/alanyoungcy/stakeregistry/internal/store/memory"
	"github.com/alanyoungcy/stakeregistry/internal/token"
)

var (
	escrow     = common.HexToAddress("0xe5c0")
	treasury   = common.HexToAddress("0x7ea5")
	owner      = common.HexToAddress("0x0a")
	challenger = common.HexToAddress("0x0c")
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (r *recorder) RecordKeeper(result string) { r.add(result, 1) }

func (r *recorder) RecordArchived(kind string, n int64) { r.add(kind, n) }

func (r *recorder) add(k string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int64{}
	}
	r.counts[k] += n
}

func newEngine(t *testing.T) (*registry.Engine, *clock.Mock) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	clk := clock.NewMock(time.Unix(1_700_000_000, 0).UTC())
	tokens := token.NewService(store)
	for _, who := range []common.Address{owner, challenger} {
		require.NoError(t, tokens.Mint(ctx, who, 1000))
		require.NoError(t, tokens.Approve(ctx, who, escrow, 1000))
	}

	e, err := registry.New(domain.Params{
		MinDeposit:      100,
		ApplyStageLen:   time.Minute,
		ExitTimeDelay:   time.Hour,
		DispensationPct: 50,
		CommitStageLen:  time.Hour,
		RevealStageLen:  time.Hour,
		VoteQuorum:      50,
		Escrow:          escrow,
		Treasury:        treasury,
	}, store, memory.NewLockManager(), clk, discard())
	require.NoError(t, err)
	return e, clk
}

func TestKeeperFinalizesExpiredApplications(t *testing.T) {
	ctx := context.Background()
	e, clk := newEngine(t)
	rec := &recorder{}
	k := NewKeeper(e, clk, time.Second, 0, rec, discard())

	a, err := e.Apply(ctx, registry.Application{Name: "a.example", Deposit: 100, Applicant: owner})
	require.NoError(t, err)

	stats, err := k.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, KeeperStats{}, stats, "nothing is due before the apply stage ends")

	clk.Advance(time.Minute)
	stats, err = k.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Advanced)

	l, err := e.StatusOf(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingWhitelisted, l.Status)
	assert.EqualValues(t, 1, rec.counts[KeeperAdvanced])
}

func TestKeeperResolvesEndedPolls(t *testing.T) {
	ctx := context.Background()
	e, clk := newEngine(t)
	k := NewKeeper(e, clk, time.Second, 0, nil, discard())

	a, err := e.Apply(ctx, registry.Application{Name: "b.example", Deposit: 100, Applicant: owner})
	require.NoError(t, err)
	_, err = e.Challenge(ctx, a.ID, challenger)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	stats, err := k.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Advanced, "poll still in reveal")

	clk.Advance(time.Hour + time.Second)
	stats, err = k.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Advanced)

	// No votes keeps the listing; the challenger's stake is split.
	l, err := e.StatusOf(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingWhitelisted, l.Status)
	assert.False(t, l.Challenged())
}

func TestKeeperPagesPastOpenPolls(t *testing.T) {
	ctx := context.Background()
	e, clk := newEngine(t)
	k := NewKeeper(e, clk, time.Second, 1, nil, discard())

	older, err := e.Apply(ctx, registry.Application{Name: "older.example", Deposit: 100, Applicant: owner})
	require.NoError(t, err)
	clk.Advance(time.Second)
	younger, err := e.Apply(ctx, registry.Application{Name: "younger.example", Deposit: 100, Applicant: owner})
	require.NoError(t, err)

	_, err = e.Challenge(ctx, younger.ID, challenger)
	require.NoError(t, err)
	clk.Advance(30 * time.Minute)
	_, err = e.Challenge(ctx, older.ID, challenger)
	require.NoError(t, err)

	// Only the younger listing's poll has ended.
	clk.Advance(90*time.Minute + time.Second)
	stats, err := k.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Advanced)

	l, err := e.StatusOf(ctx, younger.ID)
	require.NoError(t, err)
	assert.False(t, l.Challenged())
	l, err = e.StatusOf(ctx, older.ID)
	require.NoError(t, err)
	assert.True(t, l.Challenged())
}

func TestKeeperFinalizesEveryPageOfApplications(t *testing.T) {
	ctx := context.Background()
	e, clk := newEngine(t)
	k := NewKeeper(e, clk, time.Second, 1, nil, discard())

	for _, name := range []string{"a.example", "b.example", "c.example"} {
		_, err := e.Apply(ctx, registry.Application{Name: name, Deposit: 100, Applicant: owner})
		require.NoError(t, err)
	}
	clk.Advance(time.Minute)

	stats, err := k.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Advanced)

	listings, err := e.List(ctx, domain.ListingFilter{Status: domain.ListingWhitelisted})
	require.NoError(t, err)
	assert.Len(t, listings, 3)
}

type registryMock struct {
	mock.Mock
}

func (m *registryMock) List(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	args := m.Called(ctx, f.Status)
	return args.Get(0).([]domain.Listing), args.Error(1)
}

func (m *registryMock) Poll(ctx context.Context, id uint64) (domain.Poll, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Poll), args.Error(1)
}

func (m *registryMock) UpdateStatus(ctx context.Context, id common.Hash) error {
	return m.Called(ctx, id).Error(0)
}

func TestKeeperClassifiesOutcomes(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock(time.Unix(1_700_000_000, 0).UTC())
	past := clk.Now().Add(-time.Second)

	raced := common.HexToHash("0x01")
	broken := common.HexToHash("0x02")

	reg := &registryMock{}
	reg.On("List", mock.Anything, domain.ListingApplied).Return([]domain.Listing{
		{ID: raced, Status: domain.ListingApplied, ApplicationExpiry: past},
		{ID: broken, Status: domain.ListingApplied, ApplicationExpiry: past},
	}, nil)
	reg.On("List", mock.Anything, domain.ListingStatus("")).Return([]domain.Listing{}, nil)
	reg.On("UpdateStatus", mock.Anything, raced).Return(domain.ErrNothingToUpdate)
	reg.On("UpdateStatus", mock.Anything, broken).Return(errors.New("store down"))

	rec := &recorder{}
	stats, err := NewKeeper(reg, clk, time.Second, 0, rec, discard()).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, KeeperStats{NotDue: 1, Failed: 1}, stats)
	assert.EqualValues(t, 1, rec.counts[KeeperFailed])
	reg.AssertExpectations(t)
}

func TestKeeperRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	e, clk := newEngine(t)
	k := NewKeeper(e, clk, time.Millisecond, 0, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("keeper did not stop")
	}
}

type archiverMock struct {
	mock.Mock
}

func (m *archiverMock) ArchiveChallenges(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *archiverMock) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func TestArchiveJobRunOnce(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))
	cutoff := time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC)

	arch := &archiverMock{}
	arch.On("ArchiveChallenges", mock.Anything, cutoff).Return(int64(3), nil)
	arch.On("ArchiveAudit", mock.Anything, cutoff).Return(int64(0), nil)

	rec := &recorder{}
	job := NewArchiveJob(arch, clk, 30, rec, discard())
	require.NoError(t, job.RunOnce(ctx))
	arch.AssertExpectations(t)
	assert.EqualValues(t, 3, rec.counts["challenges"])
	assert.NotContains(t, rec.counts, "audit")
}

func TestArchiveJobStopsOnChallengeFailure(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))

	arch := &archiverMock{}
	arch.On("ArchiveChallenges", mock.Anything, mock.Anything).Return(int64(0), errors.New("s3 down"))

	err := NewArchiveJob(arch, clk, 30, nil, discard()).RunOnce(ctx)
	require.Error(t, err)
	arch.AssertNotCalled(t, "ArchiveAudit", mock.Anything, mock.Anything)
}

func TestArchiveJobRejectsBadCron(t *testing.T) {
	job := NewArchiveJob(&archiverMock{}, clock.System{}, 30, nil, discard())
	err := job.Run(context.Background(), "0 3 *")
	require.Error(t, err)
}

func TestScheduleNext(t *testing.T) {
	tests := []struct {
		expr  string
		after time.Time
		want  time.Time
	}{
		{"0 3 1 * *", time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC), time.Date(2025, 2, 1, 3, 0, 0, 0, time.UTC)},
		{"* * * * *", time.Date(2025, 1, 1, 0, 0, 30, 0, time.UTC), time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)},
		{"30 0,12 * * *", time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC), time.Date(2025, 1, 1, 12, 30, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := ParseCron(tt.expr)
			require.NoError(t, err)
			got, err := s.Next(tt.after)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCronErrors(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "x * * * *", "0 24 * * *", "0 0 0 * *"} {
		_, err := ParseCron(expr)
		assert.Error(t, err, expr)
	}
}
