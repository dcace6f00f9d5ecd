// Package service holds the registry's background jobs.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakeregistry/internal/clock"
	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// Keeper outcomes, used as metric labels.
const (
	KeeperAdvanced = "advanced"
	KeeperNotDue   = "not_due"
	KeeperFailed   = "error"
)

// Registry is the slice of the registry engine the keeper drives.
type Registry interface {
	List(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error)
	Poll(ctx context.Context, id uint64) (domain.Poll, error)
	UpdateStatus(ctx context.Context, id common.Hash) error
}

// KeeperRecorder counts keeper attempts.
type KeeperRecorder interface {
	RecordKeeper(result string)
}

// KeeperStats summarises one sweep.
type KeeperStats struct {
	Advanced int
	NotDue   int
	Failed   int
}

// Keeper finalizes expired applications and resolves challenges whose poll
// has ended, so listings do not wait for someone to call UpdateStatus.
type Keeper struct {
	reg      Registry
	clk      clock.Clock
	interval time.Duration
	batch    int
	metrics  KeeperRecorder
	logger   *slog.Logger
}

// NewKeeper creates a Keeper. metrics may be nil.
func NewKeeper(reg Registry, clk clock.Clock, interval time.Duration, batch int, metrics KeeperRecorder, logger *slog.Logger) *Keeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 500
	}
	return &Keeper{
		reg:      reg,
		clk:      clk,
		interval: interval,
		batch:    batch,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run sweeps every interval until ctx ends.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stats, err := k.Sweep(ctx)
			if err != nil {
				k.logger.ErrorContext(ctx, "keeper sweep failed", slog.String("error", err.Error()))
				continue
			}
			if stats.Advanced > 0 || stats.Failed > 0 {
				k.logger.InfoContext(ctx, "keeper sweep complete",
					slog.Int("advanced", stats.Advanced),
					slog.Int("not_due", stats.NotDue),
					slog.Int("failed", stats.Failed),
				)
			}
		}
	}
}

// Sweep advances every due listing once. Listings whose deadline has not
// passed are skipped without touching the registry lock.
func (k *Keeper) Sweep(ctx context.Context) (KeeperStats, error) {
	var stats KeeperStats

	due, err := k.dueListings(ctx)
	if err != nil {
		return stats, err
	}
	for _, id := range due {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		err := k.reg.UpdateStatus(ctx, id)
		switch {
		case err == nil:
			stats.Advanced++
			k.record(KeeperAdvanced)
		case errors.Is(err, domain.ErrNothingToUpdate), errors.Is(err, domain.ErrTiming),
			errors.Is(err, domain.ErrNotListed):
			// Raced with a caller or the clock; retry next sweep.
			stats.NotDue++
			k.record(KeeperNotDue)
		default:
			stats.Failed++
			k.record(KeeperFailed)
			k.logger.WarnContext(ctx, "keeper update failed",
				slog.String("listing_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return stats, nil
}

func (k *Keeper) dueListings(ctx context.Context) ([]common.Hash, error) {
	now := k.clk.Now()
	var due []common.Hash

	unchallenged := false
	err := k.scan(ctx, domain.ListingFilter{Status: domain.ListingApplied, Challenged: &unchallenged}, func(l domain.Listing) {
		if !now.Before(l.ApplicationExpiry) {
			due = append(due, l.ID)
		}
	})
	if err != nil {
		return nil, err
	}

	challenged := true
	err = k.scan(ctx, domain.ListingFilter{Challenged: &challenged}, func(l domain.Listing) {
		p, err := k.reg.Poll(ctx, l.ChallengeID)
		if err != nil {
			k.logger.WarnContext(ctx, "keeper poll lookup failed",
				slog.String("listing_id", l.ID.Hex()),
				slog.Uint64("poll_id", l.ChallengeID),
				slog.String("error", err.Error()),
			)
			return
		}
		if now.After(p.RevealEnd) {
			due = append(due, l.ID)
		}
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

// scan pages through every listing matching f, batch rows at a time, until
// a short page comes back. Poll deadlines do not follow application order.
func (k *Keeper) scan(ctx context.Context, f domain.ListingFilter, visit func(domain.Listing)) error {
	f.Limit = k.batch
	for f.Offset = 0; ; {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := k.reg.List(ctx, f)
		if err != nil {
			return err
		}
		for _, l := range page {
			visit(l)
		}
		if len(page) < k.batch {
			return nil
		}
		f.Offset += len(page)
	}
}

func (k *Keeper) record(result string) {
	if k.metrics != nil {
		k.metrics.RecordKeeper(result)
	}
}
