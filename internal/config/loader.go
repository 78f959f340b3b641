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
// built-in defaults, applies FUNDARB_* environment variable overrides, and
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

// applyEnvOverrides reads well-known FUNDARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venues ──
	applyVenueEnv(&cfg.Venues.Aster, "FUNDARB_VENUE_ASTER")
	applyVenueEnv(&cfg.Venues.Orderly, "FUNDARB_VENUE_ORDERLY")
	applyVenueEnv(&cfg.Venues.Edgex, "FUNDARB_VENUE_EDGEX")
	applyVenueEnv(&cfg.Venues.Vest, "FUNDARB_VENUE_VEST")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FUNDARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FUNDARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUNDARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUNDARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUNDARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUNDARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUNDARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUNDARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUNDARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FUNDARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUNDARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUNDARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUNDARB_S3_FORCE_PATH_STYLE")

	// ── Trader ──
	setStringSlice(&cfg.Trader.Tokens, "FUNDARB_TRADER_TOKENS")
	setFloat64(&cfg.Trader.MinAPR, "FUNDARB_TRADER_MIN_APR")
	setInt(&cfg.Trader.MaxOpenTrades, "FUNDARB_TRADER_MAX_OPEN_TRADES")
	setFloat64(&cfg.Trader.NotionalUSD, "FUNDARB_TRADER_NOTIONAL_USD")
	setFloat64(&cfg.Trader.Leverage, "FUNDARB_TRADER_LEVERAGE")
	setFloat64(&cfg.Trader.Slippage, "FUNDARB_TRADER_SLIPPAGE")
	setBool(&cfg.Trader.AutoClose.Enabled, "FUNDARB_TRADER_AUTO_CLOSE_ENABLED")
	setFloat64(&cfg.Trader.AutoClose.APRThreshold, "FUNDARB_TRADER_AUTO_CLOSE_APR_THRESHOLD")
	setFloat64(&cfg.Trader.AutoClose.PnLThreshold, "FUNDARB_TRADER_AUTO_CLOSE_PNL_THRESHOLD")
	setFloat64(&cfg.Trader.AutoClose.TimeoutHours, "FUNDARB_TRADER_AUTO_CLOSE_TIMEOUT_HOURS")

	// ── Jobs ──
	setDuration(&cfg.Jobs.FundingInterval, "FUNDARB_JOBS_FUNDING_INTERVAL")
	setDuration(&cfg.Jobs.ReconcileInterval, "FUNDARB_JOBS_RECONCILE_INTERVAL")
	setDuration(&cfg.Jobs.AutoCloseInterval, "FUNDARB_JOBS_AUTO_CLOSE_INTERVAL")
	setDuration(&cfg.Jobs.AutoTradeInterval, "FUNDARB_JOBS_AUTO_TRADE_INTERVAL")
	setDuration(&cfg.Jobs.ArchiveInterval, "FUNDARB_JOBS_ARCHIVE_INTERVAL")
	setInt(&cfg.Jobs.ArchiveRetentionDays, "FUNDARB_JOBS_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUNDARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUNDARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FUNDARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FUNDARB_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUNDARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUNDARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUNDARB_MODE")
	setStr(&cfg.LogLevel, "FUNDARB_LOG_LEVEL")
}

// applyVenueEnv applies the standard per-venue variable set under the given
// prefix, e.g. FUNDARB_VENUE_ASTER_API_KEY.
func applyVenueEnv(v *VenueConfig, prefix string) {
	setBool(&v.Enabled, prefix+"_ENABLED")
	setStr(&v.BaseURL, prefix+"_BASE_URL")
	setStr(&v.WsURL, prefix+"_WS_URL")
	setStr(&v.APIKey, prefix+"_API_KEY")
	setStr(&v.SecretKey, prefix+"_SECRET_KEY")
	setStr(&v.PrivateKey, prefix+"_PRIVATE_KEY")
	setStr(&v.Passphrase, prefix+"_PASSPHRASE")
	setStr(&v.AccountID, prefix+"_ACCOUNT_ID")
	setStr(&v.EncryptedKeyPath, prefix+"_ENCRYPTED_KEY_PATH")
	setStr(&v.KeyPassword, prefix+"_KEY_PASSWORD")
	setFloat64(&v.FundingFrequencyHours, prefix+"_FUNDING_FREQUENCY_HOURS")
	setStr(&v.APIKeyHeader, prefix+"_API_KEY_HEADER")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
