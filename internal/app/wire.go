package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/stakeregistry/internal/blob/s3"
	"github.com/alanyoungcy/stakeregistry/internal/cache/redis"
	"github.com/alanyoungcy/stakeregistry/internal/clock"
	"github.com/alanyoungcy/stakeregistry/internal/config"
	"github.com/alanyoungcy/stakeregistry/internal/domain"
	"github.com/alanyoungcy/stakeregistry/internal/messaging/nats"
	"github.com/alanyoungcy/stakeregistry/internal/metrics"
	"github.com/alanyoungcy/stakeregistry/internal/notify"
	"github.com/alanyoungcy/stakeregistry/internal/registry"
	"github.com/alanyoungcy/stakeregistry/internal/server/handler"
	"github.com/alanyoungcy/stakeregistry/internal/store/memory"
	"github.com/alanyoungcy/stakeregistry/internal/store/postgres"
	"github.com/alanyoungcy/stakeregistry/internal/token"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Clock clock.Clock

	// Persistence
	Store domain.Store
	Audit domain.AuditStore

	// Coordination
	Locks       domain.LockManager
	Bus         domain.EventBus
	RateLimiter domain.RateLimiter

	// Blob storage; nil unless s3 is enabled.
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	Engine *registry.Engine
	Tokens *token.Service

	// Pingers are reported by the health endpoint.
	Pingers map[string]handler.Pinger
}

// pingFunc adapts a health function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	clk := clock.System{}
	deps := &Dependencies{
		Clock:   clk,
		Metrics: metrics.New(),
		Pingers: make(map[string]handler.Pinger),
	}

	// --- Persistence ---
	switch cfg.Store.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Store = postgres.NewStore(pgClient.Pool())
		deps.Audit = postgres.NewAuditStore(pgClient.Pool())
		deps.Pingers["postgres"] = pgClient
	default:
		deps.Store = memory.NewStore()
		deps.Audit = memory.NewAuditStore(clk)
	}

	// --- Redis or in-process coordination ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewEventBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Pingers["redis"] = redisClient
	} else {
		if cfg.Store.Backend == "postgres" {
			logger.WarnContext(ctx, "redis disabled: registry lock is process-local, run a single replica")
		}
		deps.Locks = memory.NewLockManager()
		deps.Bus = memory.NewBus()
		deps.RateLimiter = memory.NewRateLimiter(clk)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Store, deps.Audit)
		deps.Pingers["s3"] = pingFunc(s3Client.Health)
	}

	// --- Event mirrors ---
	var mirrors []domain.Publisher
	if cfg.NATS.Enabled {
		pub, err := nats.Connect(nats.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Name:          cfg.NATS.Name,
		}, logger)
		if err != nil {
			return fail("nats", err)
		}
		closers = append(closers, func() { _ = pub.Close() })
		mirrors = append(mirrors, pub)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Registry engine ---
	dispatcher := registry.NewDispatcher(deps.Bus, deps.Audit, deps.Notifier, logger, mirrors...)
	engine, err := registry.New(cfg.Params(), deps.Store, deps.Locks, clk, logger,
		registry.WithEmitter(dispatcher),
		registry.WithObserver(deps.Metrics),
		registry.WithLockTiming(cfg.Registry.LockWait.Duration, cfg.Registry.LockTTL.Duration),
	)
	if err != nil {
		return fail("registry", err)
	}
	deps.Engine = engine
	deps.Tokens = token.NewService(deps.Store)

	if _, deposits, err := engine.Escrow(ctx); err != nil {
		logger.WarnContext(ctx, "initial escrow read failed", slog.String("error", err.Error()))
	} else {
		deps.Metrics.SetEscrow(deposits)
	}

	return deps, cleanup, nil
}
