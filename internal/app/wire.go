package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/motunrayo-ayo/bit-oracle/internal/blob/s3"
	"github.com/motunrayo-ayo/bit-oracle/internal/cache/local"
	"github.com/motunrayo-ayo/bit-oracle/internal/cache/redis"
	"github.com/motunrayo-ayo/bit-oracle/internal/clock"
	"github.com/motunrayo-ayo/bit-oracle/internal/config"
	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
	"github.com/motunrayo-ayo/bit-oracle/internal/notify"
	"github.com/motunrayo-ayo/bit-oracle/internal/server/handler"
	"github.com/motunrayo-ayo/bit-oracle/internal/store/memory"
	"github.com/motunrayo-ayo/bit-oracle/internal/store/postgres"
	"github.com/motunrayo-ayo/bit-oracle/internal/store/sqlite"
)

// Dependencies bundles every backend the server needs. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Ledger domain.Ledger
	Clock  domain.Clock
	Audit  domain.AuditStore

	MarketCache    domain.MarketCache
	RateLimiter    domain.RateLimiter
	LockManager    domain.LockManager
	ChallengeStore domain.ChallengeStore
	SignalBus      domain.SignalBus

	// ReportArchiver and Reports are nil unless S3 is configured.
	ReportArchiver domain.ReportArchiver
	Reports        domain.ReportStore

	Notifier *notify.Notifier

	// Backend names and health checks reported by /api/status.
	StoreDriver string
	ClockSource string
	CacheDriver string
	Checks      map[string]handler.HealthCheck
}

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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		StoreDriver: strings.ToLower(cfg.Store.Driver),
		ClockSource: strings.ToLower(cfg.Clock.Source),
		Checks:      make(map[string]handler.HealthCheck),
	}

	// --- Ledger ---
	switch deps.StoreDriver {
	case "memory":
		var ledger *memory.Ledger
		if cfg.Store.WALPath != "" {
			l, err := memory.Open(cfg.Store.WALPath)
			if err != nil {
				return fail(fmt.Errorf("wire: memory ledger: %w", err))
			}
			ledger = l
		} else {
			ledger = memory.New()
		}
		closers = append(closers, func() { _ = ledger.Close() })
		deps.Ledger = ledger
		deps.Audit = memory.NewAuditStore()

	case "sqlite":
		ledger, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite ledger: %w", err))
		}
		closers = append(closers, func() { _ = ledger.Close() })
		deps.Ledger = ledger
		deps.Audit = sqlite.NewAuditStore(ledger.DB())

	case "postgres":
		pg := cfg.Store.Postgres
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      pg.DSN,
			Host:     pg.Host,
			Port:     pg.Port,
			Database: pg.Database,
			User:     pg.User,
			Password: pg.Password,
			SSLMode:  pg.SSLMode,
			MaxConns: pg.PoolMaxConns,
			MinConns: pg.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if pg.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Ledger = postgres.NewLedger(pgClient.Pool(), logger)
		deps.Audit = postgres.NewAuditStore(pgClient.Pool())

	default:
		return fail(fmt.Errorf("wire: unknown store driver %q", cfg.Store.Driver))
	}

	ledger := deps.Ledger
	deps.Checks["ledger"] = func(ctx context.Context) error {
		return ledger.View(ctx, func(ctx context.Context, tx domain.Tx) error {
			_, err := tx.Settings(ctx)
			if errors.Is(err, domain.ErrNotBootstrapped) {
				return nil
			}
			return err
		})
	}

	// --- Clock ---
	switch deps.ClockSource {
	case "interval":
		genesis, err := cfg.GenesisTime()
		if err != nil {
			return fail(fmt.Errorf("wire: clock genesis: %w", err))
		}
		deps.Clock = clock.NewInterval(genesis, cfg.Clock.Interval.Duration)
	case "chain":
		chain, err := clock.DialChain(ctx, cfg.Clock.RPCURL, cfg.Clock.CacheFor.Duration)
		if err != nil {
			return fail(fmt.Errorf("wire: chain clock: %w", err))
		}
		closers = append(closers, chain.Close)
		deps.Clock = chain
	case "manual":
		deps.Clock = clock.NewManual(cfg.Clock.StartHeight)
	default:
		return fail(fmt.Errorf("wire: unknown clock source %q", cfg.Clock.Source))
	}

	clk := deps.Clock
	deps.Checks["clock"] = func(ctx context.Context) error {
		_, err := clk.Height(ctx)
		return err
	}

	// --- Redis, or in-process fallbacks ---
	cacheTTL := time.Duration(cfg.Redis.CacheTTLMinutes) * time.Minute
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping

		deps.CacheDriver = "redis"
		deps.MarketCache = redis.NewMarketCache(redisClient, cacheTTL)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.ChallengeStore = redis.NewChallengeStore(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
	} else {
		logger.WarnContext(ctx, "redis not configured, using in-process cache and bus")
		deps.CacheDriver = "local"
		deps.MarketCache = local.NewMarketCache(cacheTTL)
		deps.RateLimiter = local.NewRateLimiter()
		deps.LockManager = local.NewLockManager()
		deps.ChallengeStore = local.NewChallengeStore()
		deps.SignalBus = local.NewSignalBus(cfg.Redis.StreamMaxLen)
	}

	// --- S3 settlement reports ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		archiver := s3blob.NewReportArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.Audit)
		deps.ReportArchiver = archiver
		deps.Reports = archiver
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, notify.Formatter{
		Decimals: int32(cfg.Notify.Decimals),
		Unit:     cfg.Notify.Unit,
	}, logger)

	return deps, cleanup, nil
}
