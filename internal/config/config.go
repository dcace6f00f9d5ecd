// Package config defines the top-level configuration for registryd and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by REGISTRYD_* environment variables.
type Config struct {
	Registry RegistryConfig `toml:"registry"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	NATS     NATSConfig     `toml:"nats"`
	Server   ServerConfig   `toml:"server"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// RegistryConfig holds the registry parameters and engine tuning.
type RegistryConfig struct {
	MinDeposit      uint64   `toml:"min_deposit"`
	ApplyStageLen   duration `toml:"apply_stage_len"`
	ExitTimeDelay   duration `toml:"exit_time_delay"`
	DispensationPct uint64   `toml:"dispensation_pct"`
	CommitStageLen  duration `toml:"commit_stage_len"`
	RevealStageLen  duration `toml:"reveal_stage_len"`
	VoteQuorum      uint64   `toml:"vote_quorum"`
	EscrowAddress   string   `toml:"escrow_address"`
	TreasuryAddress string   `toml:"treasury_address"`
	// LockWait bounds how long an operation retries a held registry lock.
	LockWait duration `toml:"lock_wait"`
	LockTTL  duration `toml:"lock_ttl"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `toml:"backend"` // memory | postgres
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When enabled Redis backs
// the registry lock, the event bus and the HTTP rate limiter.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NATSConfig holds the event mirror connection.
type NATSConfig struct {
	Enabled       bool   `toml:"enabled"`
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
	Name          string `toml:"name"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	APIKey            string   `toml:"api_key"`
	RequireSignatures bool     `toml:"require_signatures"`
	SignatureMaxSkew  duration `toml:"signature_max_skew"`
	RateLimit         int      `toml:"rate_limit"`
	RateWindow        duration `toml:"rate_window"`
}

// KeeperConfig controls the background status updater.
type KeeperConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
}

// ArchiveConfig controls the S3 export of resolved challenges and audit rows.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Registry: RegistryConfig{
			MinDeposit:      100,
			ApplyStageLen:   duration{7 * 24 * time.Hour},
			ExitTimeDelay:   duration{24 * time.Hour},
			DispensationPct: 50,
			CommitStageLen:  duration{48 * time.Hour},
			RevealStageLen:  duration{24 * time.Hour},
			VoteQuorum:      50,
			LockWait:        duration{2 * time.Second},
			LockTTL:         duration{10 * time.Second},
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "registry",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "registryd",
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "registry-archive",
			ForcePathStyle: true,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "registry",
			Name:          "registryd",
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			SignatureMaxSkew: duration{5 * time.Minute},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
		},
		Keeper: KeeperConfig{
			Enabled:   true,
			Interval:  duration{30 * time.Second},
			BatchSize: 500,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Notify: NotifyConfig{
			Events: []string{
				string(domain.EventChallenge),
				string(domain.EventChallengeFailed),
				string(domain.EventListingRemoved),
			},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"keeper":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// validEvents lists the event types a notifier may subscribe to.
var validEvents = map[string]bool{
	string(domain.EventApplication):         true,
	string(domain.EventDeposit):             true,
	string(domain.EventWithdrawal):          true,
	string(domain.EventChallenge):           true,
	string(domain.EventApplicationAccepted): true,
	string(domain.EventChallengePassed):     true,
	string(domain.EventChallengeFailed):     true,
	string(domain.EventListingRemoved):      true,
	string(domain.EventExitRequested):       true,
	string(domain.EventExitFinalized):       true,
	string(domain.EventVoteCommitted):       true,
	string(domain.EventVoteRevealed):        true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, keeper, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Registry parameters
	for name, addr := range map[string]string{
		"escrow_address":   c.Registry.EscrowAddress,
		"treasury_address": c.Registry.TreasuryAddress,
	} {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("registry: %s %q is not a hex address", name, addr))
		}
	}
	if common.IsHexAddress(c.Registry.EscrowAddress) && common.IsHexAddress(c.Registry.TreasuryAddress) {
		if err := c.Params().Validate(); err != nil {
			errs = append(errs, "registry: "+err.Error())
		}
	}
	if c.Registry.LockWait.Duration < 0 {
		errs = append(errs, "registry: lock_wait must not be negative")
	}
	if c.Registry.LockTTL.Duration <= 0 {
		errs = append(errs, "registry: lock_ttl must be positive")
	}

	// Store
	if !validBackends[c.Store.Backend] {
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, postgres)", c.Store.Backend))
	}
	if c.Store.Backend == "postgres" {
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres: either dsn or host must be set")
		}
		if c.Postgres.PoolMaxConns <= 0 {
			errs = append(errs, "postgres: pool_max_conns must be positive")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize <= 0 {
			errs = append(errs, "redis: pool_size must be positive")
		}
	}

	// NATS
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats: url must not be empty")
	}

	// Server
	needsServer := c.Mode == "server" || c.Mode == "full"
	if needsServer && c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must not be negative")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
		if c.Server.RequireSignatures && c.Server.SignatureMaxSkew.Duration <= 0 {
			errs = append(errs, "server: signature_max_skew must be positive when require_signatures is set")
		}
	}

	// Keeper
	if c.Keeper.Enabled {
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper: interval must be positive")
		}
		if c.Keeper.BatchSize <= 0 {
			errs = append(errs, "keeper: batch_size must be positive")
		}
	}

	// Archive
	needsArchive := c.Archive.Enabled || c.Mode == "archive"
	if needsArchive {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if c.Archive.RetentionDays <= 0 {
			errs = append(errs, "archive: retention_days must be positive")
		}
		if _, err := cronFields(c.Archive.Cron); err != nil {
			errs = append(errs, "archive: "+err.Error())
		}
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, ev := range c.Notify.Events {
		if !validEvents[ev] {
			errs = append(errs, fmt.Sprintf("notify: unknown event type %q", ev))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Params builds the registry parameters. Addresses must already be valid hex.
func (c *Config) Params() domain.Params {
	r := c.Registry
	return domain.Params{
		MinDeposit:      r.MinDeposit,
		ApplyStageLen:   r.ApplyStageLen.Duration,
		ExitTimeDelay:   r.ExitTimeDelay.Duration,
		DispensationPct: r.DispensationPct,
		CommitStageLen:  r.CommitStageLen.Duration,
		RevealStageLen:  r.RevealStageLen.Duration,
		VoteQuorum:      r.VoteQuorum,
		Escrow:          common.HexToAddress(r.EscrowAddress),
		Treasury:        common.HexToAddress(r.TreasuryAddress),
	}
}

// RunsServer reports whether the HTTP API runs in the configured mode.
func (c *Config) RunsServer() bool {
	return (c.Mode == "server" || c.Mode == "full") && c.Server.Enabled
}

// RunsKeeper reports whether the status keeper runs in the configured mode.
func (c *Config) RunsKeeper() bool {
	return c.Mode == "keeper" || (c.Mode == "full" && c.Keeper.Enabled)
}

// RunsArchive reports whether the archive job runs in the configured mode.
func (c *Config) RunsArchive() bool {
	return c.Mode == "archive" || (c.Mode == "full" && c.Archive.Enabled)
}

// cronFields does a shallow shape check of a five-field cron expression; the
// scheduler parses it fully at startup.
func cronFields(expr string) ([]string, error) {
	f := strings.Fields(expr)
	if len(f) != 5 {
		return nil, fmt.Errorf("cron %q must have 5 fields, got %d", expr, len(f))
	}
	return f, nil
}
