// Package config defines the top-level configuration for the funding
// arbitrage bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUNDARB_* environment variables.
type Config struct {
	Venues   VenuesConfig   `toml:"venues"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Trader   TraderConfig   `toml:"trader"`
	Jobs     JobsConfig     `toml:"jobs"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VenueConfig is one venue's endpoints and credentials. Credential fields are
// venue-specific: Aster uses api_key/secret_key, Orderly uses
// account_id/private_key (Ed25519 seed), edgeX uses account_id/private_key
// (STARK scalar), Vest uses private_key (secp256k1). A missing credential
// degrades the venue to its unauthenticated operations rather than failing
// construction.
type VenueConfig struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	WsURL   string `toml:"ws_url"`

	APIKey     string `toml:"api_key"`
	SecretKey  string `toml:"secret_key"`
	PrivateKey string `toml:"private_key"`
	Passphrase string `toml:"passphrase"`
	AccountID  string `toml:"account_id"`

	// EncryptedKeyPath points at an AES-256-GCM blob produced by the
	// encrypt-key tool; KeyPassword decrypts it. Used instead of the
	// plaintext key fields above.
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`

	FundingFrequencyHours float64 `toml:"funding_frequency_hours"`
	APIKeyHeader          string  `toml:"api_key_header"`
}

// VenuesConfig holds per-venue configuration blocks.
type VenuesConfig struct {
	Aster   VenueConfig `toml:"aster"`
	Orderly VenueConfig `toml:"orderly"`
	Edgex   VenueConfig `toml:"edgex"`
	Vest    VenueConfig `toml:"vest"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for trade archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// AutoCloseConfig holds the default closure thresholds stamped onto each new
// trade. Zero thresholds disable the corresponding rule.
type AutoCloseConfig struct {
	Enabled      bool    `toml:"enabled"`
	APRThreshold float64 `toml:"apr_threshold"`
	PnLThreshold float64 `toml:"pnl_threshold"`
	TimeoutHours float64 `toml:"timeout_hours"`
}

// TraderConfig holds opportunity scanning and position sizing parameters.
type TraderConfig struct {
	Tokens        []string        `toml:"tokens"`
	MinAPR        float64         `toml:"min_apr"`
	MaxOpenTrades int             `toml:"max_open_trades"`
	NotionalUSD   float64         `toml:"notional_usd"`
	Leverage      float64         `toml:"leverage"`
	Slippage      float64         `toml:"slippage"`
	AutoClose     AutoCloseConfig `toml:"auto_close"`
}

// JobsConfig holds the intervals of the periodic background jobs.
type JobsConfig struct {
	FundingInterval   duration `toml:"funding_interval"`
	ReconcileInterval duration `toml:"reconcile_interval"`
	AutoCloseInterval duration `toml:"auto_close_interval"`
	AutoTradeInterval duration `toml:"auto_trade_interval"`
	ArchiveInterval   duration `toml:"archive_interval"`

	ArchiveRetentionDays int `toml:"archive_retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
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
		Venues: VenuesConfig{
			Aster: VenueConfig{
				BaseURL:               "https://fapi.asterdex.com",
				FundingFrequencyHours: 8,
			},
			Orderly: VenueConfig{
				BaseURL:               "https://api.orderly.org",
				FundingFrequencyHours: 8,
			},
			Edgex: VenueConfig{
				BaseURL:               "https://pro.edgex.exchange",
				FundingFrequencyHours: 4,
			},
			Vest: VenueConfig{
				BaseURL:               "https://serverprod.vest.exchange/v2",
				FundingFrequencyHours: 1,
			},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "fundarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fundarb-data",
			ForcePathStyle: true,
		},
		Trader: TraderConfig{
			Tokens:        []string{"BTC", "ETH", "SOL"},
			MinAPR:        150,
			MaxOpenTrades: 3,
			NotionalUSD:   1000,
			Leverage:      3,
			Slippage:      0.002,
			AutoClose: AutoCloseConfig{
				Enabled:      true,
				APRThreshold: 50,
				PnLThreshold: 100,
				TimeoutHours: 72,
			},
		},
		Jobs: JobsConfig{
			FundingInterval:      duration{60 * time.Second},
			ReconcileInterval:    duration{30 * time.Second},
			AutoCloseInterval:    duration{60 * time.Second},
			AutoTradeInterval:    duration{5 * time.Minute},
			ArchiveInterval:      duration{24 * time.Hour},
			ArchiveRetentionDays: 30,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"trade":   true, // scan, open, reconcile, auto-close
	"monitor": true, // reconcile and auto-close only, no new trades
	"server":  true, // HTTP surface only
	"full":    true, // everything
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// EnabledVenues returns the names of all venues with enabled = true.
func (v *VenuesConfig) EnabledVenues() []string {
	var out []string
	if v.Aster.Enabled {
		out = append(out, "aster")
	}
	if v.Orderly.Enabled {
		out = append(out, "orderly")
	}
	if v.Edgex.Enabled {
		out = append(out, "edgex")
	}
	if v.Vest.Enabled {
		out = append(out, "vest")
	}
	return out
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venues -- trading modes need at least two enabled venues to hedge.
	tradingMode := c.Mode == "trade" || c.Mode == "full"
	enabled := c.Venues.EnabledVenues()
	if tradingMode && len(enabled) < 2 {
		errs = append(errs, fmt.Sprintf("venues: at least 2 venues must be enabled for mode %s, got %d", c.Mode, len(enabled)))
	}
	for _, check := range []struct {
		name string
		cfg  *VenueConfig
	}{
		{"aster", &c.Venues.Aster},
		{"orderly", &c.Venues.Orderly},
		{"edgex", &c.Venues.Edgex},
		{"vest", &c.Venues.Vest},
	} {
		if !check.cfg.Enabled {
			continue
		}
		if check.cfg.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("venues.%s: base_url must not be empty", check.name))
		}
		if check.cfg.FundingFrequencyHours < 0 {
			errs = append(errs, fmt.Sprintf("venues.%s: funding_frequency_hours must not be negative", check.name))
		}
		if check.cfg.EncryptedKeyPath != "" && check.cfg.KeyPassword == "" {
			errs = append(errs, fmt.Sprintf("venues.%s: key_password is required when encrypted_key_path is set", check.name))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Trader
	if len(c.Trader.Tokens) == 0 {
		errs = append(errs, "trader: tokens must not be empty")
	}
	if tradingMode {
		if c.Trader.MinAPR <= 0 {
			errs = append(errs, "trader: min_apr must be > 0 for trading modes")
		}
		if c.Trader.NotionalUSD <= 0 {
			errs = append(errs, "trader: notional_usd must be > 0 for trading modes")
		}
		if c.Trader.MaxOpenTrades < 1 {
			errs = append(errs, "trader: max_open_trades must be >= 1 for trading modes")
		}
	}
	if c.Trader.Leverage < 0 {
		errs = append(errs, "trader: leverage must not be negative")
	}
	if c.Trader.AutoClose.TimeoutHours < 0 {
		errs = append(errs, "trader: auto_close.timeout_hours must not be negative")
	}

	// Jobs
	for _, check := range []struct {
		name string
		d    duration
	}{
		{"funding_interval", c.Jobs.FundingInterval},
		{"reconcile_interval", c.Jobs.ReconcileInterval},
		{"auto_close_interval", c.Jobs.AutoCloseInterval},
		{"auto_trade_interval", c.Jobs.AutoTradeInterval},
		{"archive_interval", c.Jobs.ArchiveInterval},
	} {
		if check.d.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("jobs: %s must be > 0", check.name))
		}
	}
	if c.Jobs.ArchiveRetentionDays < 1 {
		errs = append(errs, "jobs: archive_retention_days must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
