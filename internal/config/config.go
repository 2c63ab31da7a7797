// Package config defines the top-level configuration for the bit-oracle
// settlement server and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BITORACLE_* environment variables.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Clock     ClockConfig     `toml:"clock"`
	Bootstrap BootstrapConfig `toml:"bootstrap"`
	Auth      AuthConfig      `toml:"auth"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// StoreConfig selects and configures the ledger backend.
type StoreConfig struct {
	// Driver is one of memory, sqlite or postgres.
	Driver string `toml:"driver"`
	// WALPath is the memory driver's write-ahead log. Empty keeps state in
	// process memory only.
	WALPath    string         `toml:"wal_path"`
	SQLitePath string         `toml:"sqlite_path"`
	Postgres   PostgresConfig `toml:"postgres"`
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

// RedisConfig holds Redis connection parameters. With neither URL nor Addr
// set, in-process implementations replace the cache, bus, limiter and locks.
type RedisConfig struct {
	URL             string `toml:"url"`
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	MaxRetries      int    `toml:"max_retries"`
	TLSEnabled      bool   `toml:"tls_enabled"`
	CacheTTLMinutes int    `toml:"cache_ttl_minutes"`
	StreamMaxLen    int    `toml:"stream_max_len"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool { return r.URL != "" || r.Addr != "" }

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ClockConfig selects the source of the logical block height.
type ClockConfig struct {
	// Source is one of interval, chain or manual.
	Source string `toml:"source"`
	// Genesis is the RFC 3339 instant of height zero for the interval clock.
	Genesis  string   `toml:"genesis"`
	Interval duration `toml:"interval"`
	RPCURL   string   `toml:"rpc_url"`
	CacheFor duration `toml:"cache_for"`
	// StartHeight is the fixed height of the manual clock.
	StartHeight uint64 `toml:"start_height"`
}

// BootstrapConfig seeds the settings record on first start. It is ignored
// once the ledger has been bootstrapped.
type BootstrapConfig struct {
	Admin        string `toml:"admin"`
	Reporter     string `toml:"reporter"`
	MinimumStake uint64 `toml:"minimum_stake"`
	FeeRate      *int64 `toml:"fee_rate"`
}

// AuthConfig configures wallet login and session tokens.
type AuthConfig struct {
	JWTSecret    string   `toml:"jwt_secret"`
	TokenTTL     duration `toml:"token_ttl"`
	ChallengeTTL duration `toml:"challenge_ttl"`
}

// ArchiveConfig configures settlement report archiving to S3.
type ArchiveConfig struct {
	Enabled bool     `toml:"enabled"`
	Cron    string   `toml:"cron"`
	LockTTL duration `toml:"lock_ttl"`
}

// ServerConfig holds HTTP API server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// Decimals and Unit control how base-unit amounts are rendered.
	Decimals int    `toml:"decimals"`
	Unit     string `toml:"unit"`
}

// duration wraps time.Duration so it can be decoded from a TOML string such as
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible default values. Callers
// typically decode a TOML file on top of these defaults.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "bitoracle.db",
			Postgres: PostgresConfig{
				Host:         "localhost",
				Port:         5432,
				Database:     "bitoracle",
				User:         "bitoracle",
				SSLMode:      "disable",
				PoolMaxConns: 10,
				PoolMinConns: 1,
			},
		},
		Redis: RedisConfig{
			PoolSize:        10,
			MaxRetries:      3,
			CacheTTLMinutes: 5,
			StreamMaxLen:    10000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Prefix:         "",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Clock: ClockConfig{
			Source:   "interval",
			Genesis:  "2024-01-01T00:00:00Z",
			Interval: duration{12 * time.Second},
			CacheFor: duration{2 * time.Second},
		},
		Bootstrap: BootstrapConfig{
			MinimumStake: 1_000_000,
		},
		Auth: AuthConfig{
			TokenTTL:     duration{24 * time.Hour},
			ChallengeTTL: duration{5 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Cron:    "*/10 * * * *",
			LockTTL: duration{5 * time.Minute},
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"market_resolved", "fees_withdrawn", "settings_changed"},
			Decimals: 6,
			Unit:     "USDC",
		},
		LogLevel: "info",
	}
}

var validDrivers = map[string]bool{
	"memory":   true,
	"sqlite":   true,
	"postgres": true,
}

var validClockSources = map[string]bool{
	"interval": true,
	"chain":    true,
	"manual":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// GenesisTime parses Clock.Genesis.
func (c *Config) GenesisTime() (time.Time, error) {
	return time.Parse(time.RFC3339, c.Clock.Genesis)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	switch driver := strings.ToLower(c.Store.Driver); {
	case !validDrivers[driver]:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: memory, sqlite, postgres)", c.Store.Driver))
	case driver == "sqlite" && c.Store.SQLitePath == "":
		errs = append(errs, "store: sqlite_path must not be empty for the sqlite driver")
	case driver == "postgres":
		pg := c.Store.Postgres
		if strings.TrimSpace(pg.DSN) == "" {
			if pg.Host == "" {
				errs = append(errs, "store.postgres: host must not be empty (or set dsn)")
			}
			if pg.Port <= 0 || pg.Port > 65535 {
				errs = append(errs, fmt.Sprintf("store.postgres: port must be 1-65535, got %d", pg.Port))
			}
			if pg.Database == "" {
				errs = append(errs, "store.postgres: database must not be empty")
			}
		}
		if pg.PoolMaxConns < 1 {
			errs = append(errs, "store.postgres: pool_max_conns must be >= 1")
		}
		if pg.PoolMinConns < 0 || pg.PoolMinConns > pg.PoolMaxConns {
			errs = append(errs, "store.postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Clock
	switch src := strings.ToLower(c.Clock.Source); {
	case !validClockSources[src]:
		errs = append(errs, fmt.Sprintf("clock: unknown source %q (valid: interval, chain, manual)", c.Clock.Source))
	case src == "interval":
		if c.Clock.Interval.Duration <= 0 {
			errs = append(errs, "clock: interval must be > 0")
		}
		if _, err := c.GenesisTime(); err != nil {
			errs = append(errs, fmt.Sprintf("clock: genesis %q is not RFC 3339", c.Clock.Genesis))
		}
	case src == "chain" && c.Clock.RPCURL == "":
		errs = append(errs, "clock: rpc_url is required for the chain source")
	}

	// Bootstrap
	if c.Bootstrap.Admin != "" && c.Bootstrap.MinimumStake == 0 {
		errs = append(errs, "bootstrap: minimum_stake must be > 0")
	}
	if fr := c.Bootstrap.FeeRate; fr != nil && (*fr < 0 || *fr > 100) {
		errs = append(errs, fmt.Sprintf("bootstrap: fee_rate must be 0-100, got %d", *fr))
	}

	// Auth
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, "auth: jwt_secret must be at least 16 characters")
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		errs = append(errs, "auth: token_ttl must be > 0")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "archive: s3.bucket must be set when archiving is enabled")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
		errs = append(errs, "server: rate_limit_window must be > 0 when rate_limit is set")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.Decimals < 0 || c.Notify.Decimals > 18 {
		errs = append(errs, "notify: decimals must be 0-18")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
