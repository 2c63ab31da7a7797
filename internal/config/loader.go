package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BITORACLE_* environment variable overrides, and
// returns the final Config. A missing file is not an error, so a deployment
// can be configured from the environment alone. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BITORACLE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Driver, "BITORACLE_STORE_DRIVER")
	setStr(&cfg.Store.WALPath, "BITORACLE_STORE_WAL_PATH")
	setStr(&cfg.Store.SQLitePath, "BITORACLE_STORE_SQLITE_PATH")
	setStr(&cfg.Store.Postgres.DSN, "BITORACLE_POSTGRES_DSN")
	setStr(&cfg.Store.Postgres.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Store.Postgres.Host, "BITORACLE_POSTGRES_HOST")
	setInt(&cfg.Store.Postgres.Port, "BITORACLE_POSTGRES_PORT")
	setStr(&cfg.Store.Postgres.Database, "BITORACLE_POSTGRES_DATABASE")
	setStr(&cfg.Store.Postgres.User, "BITORACLE_POSTGRES_USER")
	setStr(&cfg.Store.Postgres.Password, "BITORACLE_POSTGRES_PASSWORD")
	setStr(&cfg.Store.Postgres.SSLMode, "BITORACLE_POSTGRES_SSL_MODE")
	setInt(&cfg.Store.Postgres.PoolMaxConns, "BITORACLE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Store.Postgres.PoolMinConns, "BITORACLE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Store.Postgres.RunMigrations, "BITORACLE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "BITORACLE_REDIS_URL")
	setStr(&cfg.Redis.Addr, "BITORACLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BITORACLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BITORACLE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BITORACLE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BITORACLE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BITORACLE_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CacheTTLMinutes, "BITORACLE_REDIS_CACHE_TTL_MINUTES")
	setInt(&cfg.Redis.StreamMaxLen, "BITORACLE_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BITORACLE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BITORACLE_S3_REGION")
	setStr(&cfg.S3.Bucket, "BITORACLE_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "BITORACLE_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "BITORACLE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BITORACLE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BITORACLE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BITORACLE_S3_FORCE_PATH_STYLE")

	// ── Clock ──
	setStr(&cfg.Clock.Source, "BITORACLE_CLOCK_SOURCE")
	setStr(&cfg.Clock.Genesis, "BITORACLE_CLOCK_GENESIS")
	setDuration(&cfg.Clock.Interval, "BITORACLE_CLOCK_INTERVAL")
	setStr(&cfg.Clock.RPCURL, "BITORACLE_CLOCK_RPC_URL")
	setDuration(&cfg.Clock.CacheFor, "BITORACLE_CLOCK_CACHE_FOR")
	setUint64(&cfg.Clock.StartHeight, "BITORACLE_CLOCK_START_HEIGHT")

	// ── Bootstrap ──
	setStr(&cfg.Bootstrap.Admin, "BITORACLE_BOOTSTRAP_ADMIN")
	setStr(&cfg.Bootstrap.Reporter, "BITORACLE_BOOTSTRAP_REPORTER")
	setUint64(&cfg.Bootstrap.MinimumStake, "BITORACLE_BOOTSTRAP_MINIMUM_STAKE")
	setInt64Ptr(&cfg.Bootstrap.FeeRate, "BITORACLE_BOOTSTRAP_FEE_RATE")

	// ── Auth ──
	setStr(&cfg.Auth.JWTSecret, "BITORACLE_AUTH_JWT_SECRET")
	setDuration(&cfg.Auth.TokenTTL, "BITORACLE_AUTH_TOKEN_TTL")
	setDuration(&cfg.Auth.ChallengeTTL, "BITORACLE_AUTH_CHALLENGE_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BITORACLE_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "BITORACLE_ARCHIVE_CRON")
	setDuration(&cfg.Archive.LockTTL, "BITORACLE_ARCHIVE_LOCK_TTL")

	// ── Server ──
	setInt(&cfg.Server.Port, "BITORACLE_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform convention
	setStringSlice(&cfg.Server.CORSOrigins, "BITORACLE_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "BITORACLE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "BITORACLE_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BITORACLE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BITORACLE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BITORACLE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BITORACLE_NOTIFY_EVENTS")
	setInt(&cfg.Notify.Decimals, "BITORACLE_NOTIFY_DECIMALS")
	setStr(&cfg.Notify.Unit, "BITORACLE_NOTIFY_UNIT")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "BITORACLE_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setInt64Ptr(dst **int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = &n
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
