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
// built-in defaults, applies KEEPER_* environment variable overrides, and
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

// applyEnvOverrides reads well-known KEEPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file. Per-pool settings have no env overrides; pools live only in
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "KEEPER_CHAIN_RPC_URL")
	setDuration(&cfg.Chain.ConfirmTimeout, "KEEPER_CHAIN_CONFIRM_TIMEOUT")
	setInt64(&cfg.Chain.GasLimitMarginBps, "KEEPER_CHAIN_GAS_LIMIT_MARGIN_BPS")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "KEEPER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "KEEPER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "KEEPER_WALLET_KEY_PASSWORD")

	// ── Subgraph ──
	setStr(&cfg.Subgraph.URL, "KEEPER_SUBGRAPH_URL")
	setStr(&cfg.Subgraph.APIKey, "KEEPER_SUBGRAPH_API_KEY")
	setDuration(&cfg.Subgraph.CacheTTL, "KEEPER_SUBGRAPH_CACHE_TTL")

	// ── Pricing ──
	setStr(&cfg.Pricing.CoinGeckoURL, "KEEPER_PRICING_COINGECKO_URL")
	setStr(&cfg.Pricing.CoinGeckoAPIKey, "KEEPER_PRICING_COINGECKO_API_KEY")
	setStr(&cfg.Pricing.CoinbaseURL, "KEEPER_PRICING_COINBASE_URL")
	setDuration(&cfg.Pricing.FeedMaxAge, "KEEPER_PRICING_FEED_MAX_AGE")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "KEEPER_FEED_ENABLED")
	setStr(&cfg.Feed.WsURL, "KEEPER_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Products, "KEEPER_FEED_PRODUCTS")

	// ── Liquidity ──
	setDuration(&cfg.Liquidity.DeadlineHorizon, "KEEPER_LIQUIDITY_DEADLINE_HORIZON")
	setStr(&cfg.Liquidity.OneInchURL, "KEEPER_LIQUIDITY_ONEINCH_URL")
	setStr(&cfg.Liquidity.OneInchAPIKey, "KEEPER_LIQUIDITY_ONEINCH_API_KEY")
	setStr(&cfg.Liquidity.UniswapV3Factory, "KEEPER_LIQUIDITY_UNISWAPV3_FACTORY")
	setStr(&cfg.Liquidity.UniswapV3Quoter, "KEEPER_LIQUIDITY_UNISWAPV3_QUOTER")
	setStr(&cfg.Liquidity.UniswapV3Router, "KEEPER_LIQUIDITY_UNISWAPV3_ROUTER")
	setStr(&cfg.Liquidity.SolidlyRouter, "KEEPER_LIQUIDITY_SOLIDLY_ROUTER")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "KEEPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KEEPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KEEPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KEEPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "KEEPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "KEEPER_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "KEEPER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "KEEPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "KEEPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KEEPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KEEPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KEEPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KEEPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KEEPER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "KEEPER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "KEEPER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "KEEPER_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "KEEPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KEEPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "KEEPER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "KEEPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KEEPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "KEEPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "KEEPER_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "KEEPER_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "KEEPER_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "KEEPER_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Cron, "KEEPER_ARCHIVE_CRON")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KEEPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KEEPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KEEPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KEEPER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "KEEPER_MODE")
	setStr(&cfg.LogLevel, "KEEPER_LOG_LEVEL")
	setBool(&cfg.DryRun, "KEEPER_DRY_RUN")
	setDuration(&cfg.CycleInterval, "KEEPER_CYCLE_INTERVAL")
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
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
