// Package config defines the top-level configuration for the market maker
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by DEXMAKER_* environment
// variables.
type Config struct {
	Pair      PairConfig      `toml:"pair"`
	Accounts  []string        `toml:"accounts"`
	Sources   []SourceConfig  `toml:"sources"`
	Oracle    OracleConfig    `toml:"oracle"`
	Breaker   BreakerConfig   `toml:"breaker"`
	RugPull   RugPullConfig   `toml:"rugpull"`
	Quoting   QuotingConfig   `toml:"quoting"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Venue     VenueConfig     `toml:"venue"`
	Chain     ChainConfig     `toml:"chain"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// PairConfig identifies the traded pair.
type PairConfig struct {
	BaseAsset     string `toml:"base_asset"`
	QuoteAsset    string `toml:"quote_asset"`
	BaseDecimals  int    `toml:"base_decimals"`
	QuoteDecimals int    `toml:"quote_decimals"`
}

// SourceConfig describes one price source adapter.
type SourceConfig struct {
	Name       string   `toml:"name"`
	Kind       string   `toml:"kind"` // "quote", "index", "ws"
	URL        string   `toml:"url"`
	APIKey     string   `toml:"api_key"`
	Confidence float64  `toml:"confidence"`
	Timeout    duration `toml:"timeout"`
}

// OracleConfig holds price aggregation parameters.
type OracleConfig struct {
	MinSources          int      `toml:"min_sources"`
	MaxDeviationPct     float64  `toml:"max_deviation_pct"`
	DampeningTriggerPct float64  `toml:"dampening_trigger_pct"`
	FallbackSpreadPct   float64  `toml:"fallback_spread_pct"`
	CacheTTL            duration `toml:"cache_ttl"`
	FetchTimeout        duration `toml:"fetch_timeout"`
}

// BreakerConfig holds circuit breaker thresholds and cooldowns.
type BreakerConfig struct {
	PriceDeviationPct     float64  `toml:"price_deviation_pct"`
	VolatilityPct         float64  `toml:"volatility_pct"`
	LossPct               float64  `toml:"loss_pct"`
	FailuresThreshold     int      `toml:"failures_threshold"`
	CooldownPeriod        duration `toml:"cooldown_period"`
	GradualResumeSteps    int      `toml:"gradual_resume_steps"`
	GradualResumeInterval duration `toml:"gradual_resume_interval"`
	HistorySize           int      `toml:"history_size"`
}

// RugPullConfig holds rug-pull scorer parameters.
type RugPullConfig struct {
	Enabled         bool     `toml:"enabled"`
	CheckInterval   duration `toml:"check_interval"`
	AutoExit        bool     `toml:"auto_exit"`
	TopHoldersLimit int      `toml:"top_holders_limit"`
}

// QuotingConfig holds spread computation parameters. Percentages are
// fractions of mid-price (0.01 = 1%).
type QuotingConfig struct {
	BaseSpreadPct    float64 `toml:"base_spread_pct"`
	MinSpreadPct     float64 `toml:"min_spread_pct"`
	MaxSpreadPct     float64 `toml:"max_spread_pct"`
	VolatilityCoeff  float64 `toml:"volatility_coeff"`
	TargetRatio      float64 `toml:"target_ratio"`
	SkewTolerance    float64 `toml:"skew_tolerance"`
	SkewMultiplier   float64 `toml:"skew_multiplier"`
	MinProfitBps     float64 `toml:"min_profit_bps"`
	RoundTripFeeBps  float64 `toml:"round_trip_fee_bps"`
}

// LifecycleConfig holds per-account trading loop parameters.
type LifecycleConfig struct {
	RefreshInterval     duration `toml:"refresh_interval"`
	ErrorBackoff        duration `toml:"error_backoff"`
	MinOrderInterval    duration `toml:"min_order_interval"`
	OrderSizeBaseUnits  int64    `toml:"order_size_base_units"`
	DriftTolerancePct   float64  `toml:"drift_tolerance_pct"`
	RebalanceThreshold  float64  `toml:"rebalance_threshold"`
	RebalanceFraction   float64  `toml:"rebalance_fraction"`
	MinRebalanceValue   int64    `toml:"min_rebalance_value"` // quote units
	MaxSlippageBps      float64  `toml:"max_slippage_bps"`
}

// VenueConfig holds execution venue API parameters.
type VenueConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// ChainConfig holds chain-data API parameters.
type ChainConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
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

// ArchiveConfig holds audit-event archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds status HTTP server parameters. APIKey guards the
// manual breaker endpoints; when empty they are disabled.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Pair: PairConfig{
			BaseDecimals:  9,
			QuoteDecimals: 6,
		},
		Oracle: OracleConfig{
			MinSources:          2,
			MaxDeviationPct:     10.0,
			DampeningTriggerPct: 5.0,
			FallbackSpreadPct:   0.5,
			CacheTTL:            duration{5 * time.Second},
			FetchTimeout:        duration{3 * time.Second},
		},
		Breaker: BreakerConfig{
			PriceDeviationPct:     10.0,
			VolatilityPct:         150.0,
			LossPct:               5.0,
			FailuresThreshold:     5,
			CooldownPeriod:        duration{5 * time.Minute},
			GradualResumeSteps:    4,
			GradualResumeInterval: duration{30 * time.Second},
			HistorySize:           100,
		},
		RugPull: RugPullConfig{
			Enabled:         true,
			CheckInterval:   duration{time.Minute},
			AutoExit:        true,
			TopHoldersLimit: 10,
		},
		Quoting: QuotingConfig{
			BaseSpreadPct:   0.01,
			MinSpreadPct:    0.002,
			MaxSpreadPct:    0.05,
			VolatilityCoeff: 0.5,
			TargetRatio:     0.5,
			SkewTolerance:   0.1,
			SkewMultiplier:  1.5,
			MinProfitBps:    10,
			RoundTripFeeBps: 10,
		},
		Lifecycle: LifecycleConfig{
			RefreshInterval:    duration{10 * time.Second},
			ErrorBackoff:       duration{30 * time.Second},
			MinOrderInterval:   duration{2 * time.Second},
			OrderSizeBaseUnits: 1_000_000_000,
			DriftTolerancePct:  0.5,
			RebalanceThreshold: 0.3,
			RebalanceFraction:  0.25,
			MinRebalanceValue:  1_000_000,
			MaxSlippageBps:     50,
		},
		Venue: VenueConfig{
			Timeout: duration{5 * time.Second},
		},
		Chain: ChainConfig{
			Timeout: duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dexmaker",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dexmaker-audit",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{"breaker_trip", "rugpull_exit", "fill", "loop_halted"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Pair
	if c.Pair.BaseAsset == "" {
		errs = append(errs, "pair: base_asset must not be empty")
	}
	if c.Pair.QuoteAsset == "" {
		errs = append(errs, "pair: quote_asset must not be empty")
	}

	// Accounts
	if len(c.Accounts) == 0 {
		errs = append(errs, "accounts: at least one account must be configured")
	}

	// Sources
	if len(c.Sources) == 0 {
		errs = append(errs, "sources: at least one price source must be configured")
	}
	for i, s := range c.Sources {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("sources[%d]: name must not be empty", i))
		}
		if s.URL == "" {
			errs = append(errs, fmt.Sprintf("sources[%d]: url must not be empty", i))
		}
		switch s.Kind {
		case "quote", "index", "ws":
		default:
			errs = append(errs, fmt.Sprintf("sources[%d]: unknown kind %q (valid: quote, index, ws)", i, s.Kind))
		}
		if s.Confidence < 0 || s.Confidence > 1 {
			errs = append(errs, fmt.Sprintf("sources[%d]: confidence must be in [0,1], got %g", i, s.Confidence))
		}
	}

	// Oracle
	if c.Oracle.MinSources < 1 {
		errs = append(errs, "oracle: min_sources must be >= 1")
	}
	if c.Oracle.MaxDeviationPct <= 0 {
		errs = append(errs, "oracle: max_deviation_pct must be > 0")
	}
	if c.Oracle.CacheTTL.Duration <= 0 {
		errs = append(errs, "oracle: cache_ttl must be > 0")
	}

	// Breaker
	if c.Breaker.PriceDeviationPct <= 0 {
		errs = append(errs, "breaker: price_deviation_pct must be > 0")
	}
	if c.Breaker.FailuresThreshold < 1 {
		errs = append(errs, "breaker: failures_threshold must be >= 1")
	}
	if c.Breaker.CooldownPeriod.Duration <= 0 {
		errs = append(errs, "breaker: cooldown_period must be > 0")
	}
	if c.Breaker.GradualResumeSteps < 1 {
		errs = append(errs, "breaker: gradual_resume_steps must be >= 1")
	}
	if c.Breaker.HistorySize < 2 {
		errs = append(errs, "breaker: history_size must be >= 2")
	}

	// Quoting
	if c.Quoting.BaseSpreadPct <= 0 {
		errs = append(errs, "quoting: base_spread_pct must be > 0")
	}
	if c.Quoting.MinSpreadPct < 0 || c.Quoting.MaxSpreadPct <= c.Quoting.MinSpreadPct {
		errs = append(errs, "quoting: require 0 <= min_spread_pct < max_spread_pct")
	}
	if c.Quoting.TargetRatio <= 0 || c.Quoting.TargetRatio >= 1 {
		errs = append(errs, fmt.Sprintf("quoting: target_ratio must be in (0,1), got %g", c.Quoting.TargetRatio))
	}
	if c.Quoting.SkewMultiplier < 1 {
		errs = append(errs, "quoting: skew_multiplier must be >= 1")
	}

	// Lifecycle
	if c.Lifecycle.RefreshInterval.Duration <= 0 {
		errs = append(errs, "lifecycle: refresh_interval must be > 0")
	}
	if c.Lifecycle.ErrorBackoff.Duration <= c.Lifecycle.RefreshInterval.Duration {
		errs = append(errs, "lifecycle: error_backoff must exceed refresh_interval")
	}
	if c.Lifecycle.OrderSizeBaseUnits <= 0 {
		errs = append(errs, "lifecycle: order_size_base_units must be > 0")
	}
	if c.Lifecycle.RebalanceThreshold <= 0 || c.Lifecycle.RebalanceThreshold >= 1 {
		errs = append(errs, "lifecycle: rebalance_threshold must be in (0,1)")
	}
	if c.Lifecycle.RebalanceFraction <= 0 || c.Lifecycle.RebalanceFraction > 1 {
		errs = append(errs, "lifecycle: rebalance_fraction must be in (0,1]")
	}

	// Venue
	if c.Venue.BaseURL == "" {
		errs = append(errs, "venue: base_url must not be empty")
	}

	// Chain (required only when the rug-pull scorer is on)
	if c.RugPull.Enabled && c.Chain.BaseURL == "" {
		errs = append(errs, "chain: base_url must not be empty when rugpull is enabled")
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
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 / archive
	if c.Archive.Enabled && !c.S3.Enabled {
		errs = append(errs, "archive: requires s3.enabled = true")
	}
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
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
