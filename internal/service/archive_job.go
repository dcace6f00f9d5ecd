package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stakeregistry/internal/clock"
	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// ArchiveRecorder counts exported rows.
type ArchiveRecorder interface {
	RecordArchived(kind string, n int64)
}

// ArchiveJob exports settled history older than the retention window to
// cold storage on a cron schedule.
type ArchiveJob struct {
	archiver      domain.Archiver
	clk           clock.Clock
	retentionDays int
	metrics       ArchiveRecorder
	logger        *slog.Logger
}

// NewArchiveJob creates an ArchiveJob. metrics may be nil.
func NewArchiveJob(archiver domain.Archiver, clk clock.Clock, retentionDays int, metrics ArchiveRecorder, logger *slog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver:      archiver,
		clk:           clk,
		retentionDays: retentionDays,
		metrics:       metrics,
		logger:        logger.With(slog.String("component", "archive_job")),
	}
}

// Cutoff returns the instant before which records are archived.
func (a *ArchiveJob) Cutoff() time.Time {
	return a.clk.Now().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
}

// RunOnce archives challenges then audit entries older than the cutoff.
func (a *ArchiveJob) RunOnce(ctx context.Context) error {
	cutoff := a.Cutoff()
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	challenges, err := a.archiver.ArchiveChallenges(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving challenges before %v: %w", cutoff, err)
	}
	a.record("challenges", challenges)

	audit, err := a.archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving audit log before %v: %w", cutoff, err)
	}
	a.record("audit", audit)

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("challenges_archived", challenges),
		slog.Int64("audit_archived", audit),
	)
	return nil
}

// Run fires RunOnce at each match of the 5-field cron expression until ctx
// ends. A failed run is logged and does not stop the schedule.
func (a *ArchiveJob) Run(ctx context.Context, cronExpr string) error {
	sched, err := ParseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archive schedule started", slog.String("cron", cronExpr))

	for {
		next, err := sched.Next(a.clk.Now())
		if err != nil {
			return err
		}
		wait := next.Sub(a.clk.Now())
		a.logger.DebugContext(ctx, "archive waiting for next run",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := a.RunOnce(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *ArchiveJob) record(kind string, n int64) {
	if a.metrics != nil && n > 0 {
		a.metrics.RecordArchived(kind, n)
	}
}
