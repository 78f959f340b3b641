package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/perparb/fundarb/internal/blob/s3"
	"github.com/perparb/fundarb/internal/cache/redis"
	"github.com/perparb/fundarb/internal/config"
	"github.com/perparb/fundarb/internal/crypto"
	"github.com/perparb/fundarb/internal/domain"
	"github.com/perparb/fundarb/internal/execution"
	"github.com/perparb/fundarb/internal/notify"
	"github.com/perparb/fundarb/internal/scheduler"
	"github.com/perparb/fundarb/internal/service"
	"github.com/perparb/fundarb/internal/store/postgres"
	"github.com/perparb/fundarb/internal/venue"
	"github.com/perparb/fundarb/internal/venue/aster"
	"github.com/perparb/fundarb/internal/venue/edgex"
	"github.com/perparb/fundarb/internal/venue/orderly"
	"github.com/perparb/fundarb/internal/venue/vest"
)

// Dependencies bundles every dependency that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Registry *venue.Registry

	// Stores
	Legs    domain.LegStore
	Trades  domain.TradeStore
	Funding domain.FundingStore
	Audit   domain.AuditStore

	// Caches
	FundingCache domain.FundingCache
	Locks        domain.LockManager

	// Blob storage (nil in modes that never archive)
	Blob domain.BlobWriter

	// Services
	FundingSvc *service.FundingService
	Reconciler *service.Reconciler
	AutoCloser *service.AutoCloser
	Trader     *service.Trader
	Archiver   *service.Archiver
	Exec       *execution.Executor

	Scheduler *scheduler.Scheduler
	Notifier  *notify.Notifier
}

// tradingMode reports whether the mode opens new trades.
func tradingMode(mode string) bool {
	return mode == "trade" || mode == "full"
}

// needsS3 reports whether the mode runs the archival job.
func needsS3(mode string) bool {
	switch mode {
	case "trade", "monitor", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Venue connectors ---
	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: venues: %w", err)
	}
	deps.Registry = registry

	// --- PostgreSQL ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	legStore := postgres.NewLegStore(pool)
	deps.Legs = legStore
	deps.Trades = postgres.NewTradeStore(pool, legStore)
	deps.Funding = postgres.NewFundingStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.FundingCache = redis.NewFundingCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)

	// --- S3 blob storage (only for modes that run archival) ---
	if needsS3(cfg.Mode) {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Blob = s3blob.NewWriter(s3Client)
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

	// --- Services ---
	deps.Exec = execution.New(execution.Options{Logger: logger})
	deps.FundingSvc = service.NewFundingService(
		registry, deps.Funding, deps.FundingCache, cfg.Trader.Tokens, logger,
	)
	deps.Reconciler = service.NewReconciler(
		registry, deps.Legs, deps.Trades, deps.FundingSvc, deps.Notifier, logger,
	)
	deps.AutoCloser = service.NewAutoCloser(
		registry, deps.Trades, deps.Legs, deps.Exec, deps.Notifier, cfg.Trader.Slippage, logger,
	)
	if tradingMode(cfg.Mode) {
		deps.Trader = service.NewTrader(
			registry, deps.Trades, deps.Legs, deps.FundingSvc, deps.Exec, deps.Notifier,
			service.TraderConfig{
				Tokens:        cfg.Trader.Tokens,
				MinAPR:        cfg.Trader.MinAPR,
				MaxOpenTrades: cfg.Trader.MaxOpenTrades,
				NotionalUSD:   cfg.Trader.NotionalUSD,
				Leverage:      cfg.Trader.Leverage,
				Slippage:      cfg.Trader.Slippage,
				AutoClose: domain.AutoCloseConfig{
					Enabled:      cfg.Trader.AutoClose.Enabled,
					APRThreshold: cfg.Trader.AutoClose.APRThreshold,
					PnLThreshold: cfg.Trader.AutoClose.PnLThreshold,
					TimeoutHours: cfg.Trader.AutoClose.TimeoutHours,
				},
			},
			logger,
		)
	}
	if deps.Blob != nil {
		retention := time.Duration(cfg.Jobs.ArchiveRetentionDays) * 24 * time.Hour
		deps.Archiver = service.NewArchiver(
			deps.Trades, deps.FundingSvc, deps.Blob, retention, logger,
		)
	}

	// --- Scheduler ---
	deps.Scheduler = scheduler.New(deps.Locks, logger)
	if err := registerJobs(deps, cfg); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: jobs: %w", err)
	}

	return deps, cleanup, nil
}

// jobSpec pairs a job name with its interval and body.
type jobSpec struct {
	name     string
	interval time.Duration
	run      scheduler.JobFunc
}

// registerJobs attaches the periodic jobs to the scheduler. Which jobs exist
// depends on the wired services, not directly on the mode: the trader job is
// registered only when a Trader was built, archival only with blob storage.
func registerJobs(deps *Dependencies, cfg *config.Config) error {
	jobs := []jobSpec{
		{"funding", cfg.Jobs.FundingInterval.Duration, func(ctx context.Context) (any, error) {
			res, err := deps.FundingSvc.Refresh(ctx)
			return res, err
		}},
		{"reconcile", cfg.Jobs.ReconcileInterval.Duration, func(ctx context.Context) (any, error) {
			res, err := deps.Reconciler.Reconcile(ctx)
			return res, err
		}},
		{"autoclose", cfg.Jobs.AutoCloseInterval.Duration, func(ctx context.Context) (any, error) {
			res, err := deps.AutoCloser.Run(ctx)
			return res, err
		}},
	}
	if deps.Trader != nil {
		jobs = append(jobs, jobSpec{"autotrade", cfg.Jobs.AutoTradeInterval.Duration, func(ctx context.Context) (any, error) {
			res, err := deps.Trader.Run(ctx)
			return res, err
		}})
	}
	if deps.Archiver != nil {
		jobs = append(jobs, jobSpec{"archive", cfg.Jobs.ArchiveInterval.Duration, func(ctx context.Context) (any, error) {
			res, err := deps.Archiver.Run(ctx)
			return res, err
		}})
	}

	for _, j := range jobs {
		if err := deps.Scheduler.Register(j.name, j.interval, j.run); err != nil {
			return err
		}
	}
	return nil
}

// buildRegistry constructs one connector per enabled venue and registers it.
// Missing credentials are passed through as empty strings; connectors degrade
// to their unauthenticated operations rather than failing construction.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*venue.Registry, error) {
	registry := venue.NewRegistry()

	if v := cfg.Venues.Aster; v.Enabled {
		secret, err := venueSecret(v, v.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("aster: %w", err)
		}
		conn, err := aster.New(aster.Options{
			BaseURL:               v.BaseURL,
			APIKey:                v.APIKey,
			APISecret:             secret,
			APIKeyHeader:          v.APIKeyHeader,
			FundingFrequencyHours: v.FundingFrequencyHours,
			Logger:                logger,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(conn); err != nil {
			return nil, err
		}
	}

	if v := cfg.Venues.Orderly; v.Enabled {
		secret, err := venueSecret(v, v.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("orderly: %w", err)
		}
		conn, err := orderly.New(orderly.Options{
			BaseURL:               v.BaseURL,
			AccountID:             v.AccountID,
			SigningKeyHex:         secret,
			FundingFrequencyHours: v.FundingFrequencyHours,
			Logger:                logger,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(conn); err != nil {
			return nil, err
		}
	}

	if v := cfg.Venues.Edgex; v.Enabled {
		secret, err := venueSecret(v, v.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("edgex: %w", err)
		}
		conn, err := edgex.New(edgex.Options{
			BaseURL:               v.BaseURL,
			AccountID:             v.AccountID,
			StarkPrivateKeyHex:    secret,
			FundingFrequencyHours: v.FundingFrequencyHours,
			Logger:                logger,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(conn); err != nil {
			return nil, err
		}
	}

	if v := cfg.Venues.Vest; v.Enabled {
		secret, err := venueSecret(v, v.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("vest: %w", err)
		}
		conn, err := vest.New(vest.Options{
			BaseURL:               v.BaseURL,
			PrivateKeyHex:         secret,
			FundingFrequencyHours: v.FundingFrequencyHours,
			Logger:                logger,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(conn); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// venueSecret resolves one venue's signing secret: the raw config value, or
// an encrypted key file when one is configured.
func venueSecret(v config.VenueConfig, raw string) (string, error) {
	return crypto.LoadSecret(crypto.SecretConfig{
		Raw:           raw,
		EncryptedPath: v.EncryptedKeyPath,
		Password:      v.KeyPassword,
	})
}
