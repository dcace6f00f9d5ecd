package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies REGISTRYD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known REGISTRYD_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "REGISTRYD_MODE")
	setStr(&cfg.LogLevel, "REGISTRYD_LOG_LEVEL")

	// ── Registry ──
	setUint64(&cfg.Registry.MinDeposit, "REGISTRYD_REGISTRY_MIN_DEPOSIT")
	setDuration(&cfg.Registry.ApplyStageLen, "REGISTRYD_REGISTRY_APPLY_STAGE_LEN")
	setDuration(&cfg.Registry.ExitTimeDelay, "REGISTRYD_REGISTRY_EXIT_TIME_DELAY")
	setUint64(&cfg.Registry.DispensationPct, "REGISTRYD_REGISTRY_DISPENSATION_PCT")
	setDuration(&cfg.Registry.CommitStageLen, "REGISTRYD_REGISTRY_COMMIT_STAGE_LEN")
	setDuration(&cfg.Registry.RevealStageLen, "REGISTRYD_REGISTRY_REVEAL_STAGE_LEN")
	setUint64(&cfg.Registry.VoteQuorum, "REGISTRYD_REGISTRY_VOTE_QUORUM")
	setStr(&cfg.Registry.EscrowAddress, "REGISTRYD_REGISTRY_ESCROW_ADDRESS")
	setStr(&cfg.Registry.TreasuryAddress, "REGISTRYD_REGISTRY_TREASURY_ADDRESS")
	setDuration(&cfg.Registry.LockWait, "REGISTRYD_REGISTRY_LOCK_WAIT")
	setDuration(&cfg.Registry.LockTTL, "REGISTRYD_REGISTRY_LOCK_TTL")

	// ── Store ──
	setStr(&cfg.Store.Backend, "REGISTRYD_STORE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "REGISTRYD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "REGISTRYD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "REGISTRYD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "REGISTRYD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "REGISTRYD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "REGISTRYD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "REGISTRYD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "REGISTRYD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "REGISTRYD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "REGISTRYD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REGISTRYD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REGISTRYD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REGISTRYD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REGISTRYD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REGISTRYD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REGISTRYD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REGISTRYD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REGISTRYD_REDIS_KEY_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "REGISTRYD_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "REGISTRYD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "REGISTRYD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "REGISTRYD_S3_REGION")
	setStr(&cfg.S3.Bucket, "REGISTRYD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "REGISTRYD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "REGISTRYD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "REGISTRYD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "REGISTRYD_S3_FORCE_PATH_STYLE")

	// ── NATS ──
	setBool(&cfg.NATS.Enabled, "REGISTRYD_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "REGISTRYD_NATS_URL")
	setStr(&cfg.NATS.SubjectPrefix, "REGISTRYD_NATS_SUBJECT_PREFIX")
	setStr(&cfg.NATS.Name, "REGISTRYD_NATS_NAME")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "REGISTRYD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "REGISTRYD_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform alias
	setStringSlice(&cfg.Server.CORSOrigins, "REGISTRYD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "REGISTRYD_SERVER_API_KEY")
	setBool(&cfg.Server.RequireSignatures, "REGISTRYD_SERVER_REQUIRE_SIGNATURES")
	setDuration(&cfg.Server.SignatureMaxSkew, "REGISTRYD_SERVER_SIGNATURE_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "REGISTRYD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "REGISTRYD_SERVER_RATE_WINDOW")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "REGISTRYD_KEEPER_ENABLED")
	setDuration(&cfg.Keeper.Interval, "REGISTRYD_KEEPER_INTERVAL")
	setInt(&cfg.Keeper.BatchSize, "REGISTRYD_KEEPER_BATCH_SIZE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "REGISTRYD_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "REGISTRYD_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "REGISTRYD_ARCHIVE_CRON")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "REGISTRYD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "REGISTRYD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "REGISTRYD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "REGISTRYD_NOTIFY_EVENTS")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
