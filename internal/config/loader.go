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
// built-in defaults, applies DEXMAKER_* environment variable overrides, and
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

// applyEnvOverrides reads well-known DEXMAKER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Pair ──
	setStr(&cfg.Pair.BaseAsset, "DEXMAKER_PAIR_BASE_ASSET")
	setStr(&cfg.Pair.QuoteAsset, "DEXMAKER_PAIR_QUOTE_ASSET")

	// ── Accounts ──
	setStringSlice(&cfg.Accounts, "DEXMAKER_ACCOUNTS")

	// ── Venue ──
	setStr(&cfg.Venue.BaseURL, "DEXMAKER_VENUE_BASE_URL")
	setStr(&cfg.Venue.APIKey, "DEXMAKER_VENUE_API_KEY")
	setDuration(&cfg.Venue.Timeout, "DEXMAKER_VENUE_TIMEOUT")

	// ── Chain ──
	setStr(&cfg.Chain.BaseURL, "DEXMAKER_CHAIN_BASE_URL")
	setStr(&cfg.Chain.APIKey, "DEXMAKER_CHAIN_API_KEY")
	setDuration(&cfg.Chain.Timeout, "DEXMAKER_CHAIN_TIMEOUT")

	// ── Oracle ──
	setInt(&cfg.Oracle.MinSources, "DEXMAKER_ORACLE_MIN_SOURCES")
	setFloat64(&cfg.Oracle.MaxDeviationPct, "DEXMAKER_ORACLE_MAX_DEVIATION_PCT")
	setFloat64(&cfg.Oracle.DampeningTriggerPct, "DEXMAKER_ORACLE_DAMPENING_TRIGGER_PCT")
	setDuration(&cfg.Oracle.CacheTTL, "DEXMAKER_ORACLE_CACHE_TTL")
	setDuration(&cfg.Oracle.FetchTimeout, "DEXMAKER_ORACLE_FETCH_TIMEOUT")

	// ── Breaker ──
	setFloat64(&cfg.Breaker.PriceDeviationPct, "DEXMAKER_BREAKER_PRICE_DEVIATION_PCT")
	setFloat64(&cfg.Breaker.VolatilityPct, "DEXMAKER_BREAKER_VOLATILITY_PCT")
	setFloat64(&cfg.Breaker.LossPct, "DEXMAKER_BREAKER_LOSS_PCT")
	setInt(&cfg.Breaker.FailuresThreshold, "DEXMAKER_BREAKER_FAILURES_THRESHOLD")
	setDuration(&cfg.Breaker.CooldownPeriod, "DEXMAKER_BREAKER_COOLDOWN_PERIOD")
	setInt(&cfg.Breaker.GradualResumeSteps, "DEXMAKER_BREAKER_GRADUAL_RESUME_STEPS")
	setDuration(&cfg.Breaker.GradualResumeInterval, "DEXMAKER_BREAKER_GRADUAL_RESUME_INTERVAL")

	// ── RugPull ──
	setBool(&cfg.RugPull.Enabled, "DEXMAKER_RUGPULL_ENABLED")
	setDuration(&cfg.RugPull.CheckInterval, "DEXMAKER_RUGPULL_CHECK_INTERVAL")
	setBool(&cfg.RugPull.AutoExit, "DEXMAKER_RUGPULL_AUTO_EXIT")

	// ── Quoting ──
	setFloat64(&cfg.Quoting.BaseSpreadPct, "DEXMAKER_QUOTING_BASE_SPREAD_PCT")
	setFloat64(&cfg.Quoting.MinSpreadPct, "DEXMAKER_QUOTING_MIN_SPREAD_PCT")
	setFloat64(&cfg.Quoting.MaxSpreadPct, "DEXMAKER_QUOTING_MAX_SPREAD_PCT")
	setFloat64(&cfg.Quoting.VolatilityCoeff, "DEXMAKER_QUOTING_VOLATILITY_COEFF")
	setFloat64(&cfg.Quoting.TargetRatio, "DEXMAKER_QUOTING_TARGET_RATIO")
	setFloat64(&cfg.Quoting.SkewTolerance, "DEXMAKER_QUOTING_SKEW_TOLERANCE")
	setFloat64(&cfg.Quoting.SkewMultiplier, "DEXMAKER_QUOTING_SKEW_MULTIPLIER")
	setFloat64(&cfg.Quoting.MinProfitBps, "DEXMAKER_QUOTING_MIN_PROFIT_BPS")

	// ── Lifecycle ──
	setDuration(&cfg.Lifecycle.RefreshInterval, "DEXMAKER_LIFECYCLE_REFRESH_INTERVAL")
	setDuration(&cfg.Lifecycle.ErrorBackoff, "DEXMAKER_LIFECYCLE_ERROR_BACKOFF")
	setDuration(&cfg.Lifecycle.MinOrderInterval, "DEXMAKER_LIFECYCLE_MIN_ORDER_INTERVAL")
	setInt64(&cfg.Lifecycle.OrderSizeBaseUnits, "DEXMAKER_LIFECYCLE_ORDER_SIZE_BASE_UNITS")
	setFloat64(&cfg.Lifecycle.DriftTolerancePct, "DEXMAKER_LIFECYCLE_DRIFT_TOLERANCE_PCT")
	setFloat64(&cfg.Lifecycle.MaxSlippageBps, "DEXMAKER_LIFECYCLE_MAX_SLIPPAGE_BPS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DEXMAKER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEXMAKER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEXMAKER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEXMAKER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEXMAKER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEXMAKER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEXMAKER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEXMAKER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEXMAKER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEXMAKER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DEXMAKER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DEXMAKER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXMAKER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXMAKER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEXMAKER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEXMAKER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEXMAKER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DEXMAKER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DEXMAKER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEXMAKER_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEXMAKER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEXMAKER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEXMAKER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEXMAKER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEXMAKER_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "DEXMAKER_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "DEXMAKER_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "DEXMAKER_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEXMAKER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DEXMAKER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "DEXMAKER_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEXMAKER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEXMAKER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEXMAKER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEXMAKER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "DEXMAKER_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
