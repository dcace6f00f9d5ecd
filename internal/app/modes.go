package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/stakeregistry/internal/server"
	"github.com/alanyoungcy/stakeregistry/internal/server/handler"
	"github.com/alanyoungcy/stakeregistry/internal/server/ws"
	"github.com/alanyoungcy/stakeregistry/internal/service"
)

const shutdownTimeout = 5 * time.Second

// ServerMode runs the HTTP API and the WebSocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// KeeperMode runs only the status keeper.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs only the archive job.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchive(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs every component enabled in the configuration.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Bool("server", a.cfg.RunsServer()),
		slog.Bool("keeper", a.cfg.RunsKeeper()),
		slog.Bool("archive", a.cfg.RunsArchive()),
	)
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.RunsServer() {
		a.startHTTPServer(ctx, g, deps)
	}
	if a.cfg.RunsKeeper() {
		a.startKeeper(ctx, g, deps)
	}
	if a.cfg.RunsArchive() {
		if err := a.startArchive(ctx, g, deps); err != nil {
			return err
		}
	}
	return g.Wait()
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	keeper := service.NewKeeper(
		deps.Engine,
		deps.Clock,
		a.cfg.Keeper.Interval.Duration,
		a.cfg.Keeper.BatchSize,
		deps.Metrics,
		a.logger,
	)
	g.Go(func() error {
		return keeper.Run(ctx)
	})
}

func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive job needs s3 storage")
	}
	job := service.NewArchiveJob(deps.Archiver, deps.Clock, a.cfg.Archive.RetentionDays, deps.Metrics, a.logger)
	g.Go(func() error {
		return job.Run(ctx, a.cfg.Archive.Cron)
	})
	return nil
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sc := a.cfg.Server
	params := deps.Engine.Params()

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Pingers, a.logger),
		Registry: handler.NewRegistryHandler(deps.Engine, a.logger),
		Listings: handler.NewListingHandler(deps.Engine, a.logger),
		Polls:    handler.NewPollHandler(deps.Engine, a.logger),
		Tokens:   handler.NewTokenHandler(deps.Tokens, params.Escrow, a.logger),
		History:  handler.NewHistoryHandler(deps.Audit, a.logger),
		Metrics:  deps.Metrics.Handler(),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	hub := ws.NewHub(deps.Bus, sc.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:              sc.Port,
		CORSOrigins:       sc.CORSOrigins,
		APIKey:            sc.APIKey,
		RequireSignatures: sc.RequireSignatures,
		SignatureMaxSkew:  sc.SignatureMaxSkew.Duration,
		RateLimit:         sc.RateLimit,
		RateWindow:        sc.RateWindow.Duration,
	}, handlers, hub, server.Deps{
		Limiter:  deps.RateLimiter,
		Recorder: deps.Metrics,
		Now:      deps.Clock.Now,
	}, a.logger)

	if sc.APIKey == "" {
		a.logger.WarnContext(ctx, "server.api_key is empty; admin routes are disabled")
	}

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
