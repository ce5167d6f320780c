// Package config defines the top-level configuration for the liquidation
// keeper and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KEEPER_* environment variables.
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Wallet    WalletConfig    `toml:"wallet"`
	Subgraph  SubgraphConfig  `toml:"subgraph"`
	Pricing   PricingConfig   `toml:"pricing"`
	Feed      FeedConfig      `toml:"feed"`
	Liquidity LiquidityConfig `toml:"liquidity"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Notify    NotifyConfig    `toml:"notify"`
	Pools     []PoolConfig    `toml:"pools"`

	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	// DryRun substitutes every broadcast with a log line; no transaction
	// leaves the keeper and no nonce is consumed.
	DryRun bool `toml:"dry_run"`

	// CycleInterval is the pause between scan/decide/execute cycles in
	// "run" mode.
	CycleInterval Duration `toml:"cycle_interval"`
}

// ChainConfig holds Ethereum node connection parameters.
type ChainConfig struct {
	RPCURL            string   `toml:"rpc_url"`
	ConfirmTimeout    Duration `toml:"confirm_timeout"`
	GasLimitMarginBps int64    `toml:"gas_limit_margin_bps"`
}

// WalletConfig holds the keeper's signing key material.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SubgraphConfig holds the pool-state query service parameters.
type SubgraphConfig struct {
	URL      string   `toml:"url"`
	APIKey   string   `toml:"api_key"`
	CacheTTL Duration `toml:"cache_ttl"`
}

// PricingConfig holds external market price source parameters.
type PricingConfig struct {
	CoinGeckoURL    string   `toml:"coingecko_url"`
	CoinGeckoAPIKey string   `toml:"coingecko_api_key"`
	CoinbaseURL     string   `toml:"coinbase_url"`
	// FeedMaxAge bounds how stale a websocket-feed price may be before the
	// resolver skips the feed rung.
	FeedMaxAge Duration `toml:"feed_max_age"`
}

// FeedConfig holds the optional streaming ticker feed parameters.
type FeedConfig struct {
	Enabled  bool     `toml:"enabled"`
	WsURL    string   `toml:"ws_url"`
	Products []string `toml:"products"`
}

// LiquidityConfig holds DEX aggregator and router endpoints shared by every
// pool's take configuration.
type LiquidityConfig struct {
	DeadlineHorizon  Duration `toml:"deadline_horizon"`
	OneInchURL       string   `toml:"oneinch_url"`
	OneInchAPIKey    string   `toml:"oneinch_api_key"`
	UniswapV3Factory string   `toml:"uniswapv3_factory"`
	UniswapV3Quoter  string   `toml:"uniswapv3_quoter"`
	UniswapV3Router  string   `toml:"uniswapv3_router"`
	SolidlyRouter    string   `toml:"solidly_router"`
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

// PostgresConfig holds the action-history database connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls action-history archival to cold storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      Duration `toml:"interval"`
	// Cron is an optional 5-field schedule ("0 3 * * *"). When set it
	// replaces the fixed interval.
	Cron string `toml:"cron"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// TokenConfig identifies one side of a pool's pair.
type TokenConfig struct {
	Address  string `toml:"address"`
	Decimals uint8  `toml:"decimals"`
	// Ticker is the asset's product ID on the streaming feed, when used.
	Ticker string `toml:"ticker"`
}

// PriceSourceConfig is one rung of a price resolution chain.
type PriceSourceConfig struct {
	Kind   string `toml:"kind"`
	Ticker string `toml:"ticker"`
	// Fixed is a decimal string for kind = "fixed", e.g. "1.0".
	Fixed string `toml:"fixed"`
}

// PriceSpecConfig configures one resolution chain: sources are tried in
// order, the first success wins.
type PriceSpecConfig struct {
	Sources []PriceSourceConfig `toml:"sources"`
	Invert  bool                `toml:"invert"`
}

// PricePairConfig prices the pool pair as collateral divided by quote.
type PricePairConfig struct {
	Collateral PriceSpecConfig `toml:"collateral"`
	Quote      PriceSpecConfig `toml:"quote"`
}

// KickConfig holds per-pool kick thresholds.
type KickConfig struct {
	Enabled bool `toml:"enabled"`
	// MinDebt is a decimal string; loans with less debt are never kicked.
	MinDebt string `toml:"min_debt"`
	// PriceFactorBps scales the neutral price in the profitability filter:
	// with 9000, a loan is kicked only while NP x 0.9 >= market price.
	PriceFactorBps int64 `toml:"price_factor_bps"`
	// AllowanceMarginBps is the safety margin added on top of the sized
	// bond allowance.
	AllowanceMarginBps int64 `toml:"allowance_margin_bps"`
}

// TakeConfig holds per-pool take and arb-take thresholds.
type TakeConfig struct {
	Enabled bool `toml:"enabled"`
	// TakeFactorBps: external take is eligible once the auction price has
	// fallen to marketPrice x factor or below.
	TakeFactorBps int64 `toml:"take_factor_bps"`
	// HpbFactorBps: arb-take is eligible once the auction price has fallen
	// to HPB x factor or below.
	HpbFactorBps int64 `toml:"hpb_factor_bps"`

	LiquiditySource string `toml:"liquidity_source"`
	VariantHint     string `toml:"variant_hint"`
	SlippageBps     int64  `toml:"slippage_bps"`
}

// SettlementConfig holds the per-pool settlement budgets.
type SettlementConfig struct {
	Enabled        bool     `toml:"enabled"`
	MinAuctionAge  Duration `toml:"min_auction_age"`
	MaxIterations  int      `toml:"max_iterations"`
	MaxBucketDepth int64    `toml:"max_bucket_depth"`
	// SkipIncentiveCheck disables the default guard that only settles
	// auctions whose kick bond is claimable by this keeper.
	SkipIncentiveCheck bool `toml:"skip_incentive_check"`
}

// RewardConfig controls post-settlement bond collection per pool.
type RewardConfig struct {
	CollectBonds bool   `toml:"collect_bonds"`
	Action       string `toml:"action"` // hold | swap
	TargetToken  string `toml:"target_token"`
}

// PoolConfig is the immutable per-pool configuration. Engines consume it
// read-only; a changed pool list requires a restart.
type PoolConfig struct {
	Name       string           `toml:"name"`
	Address    string           `toml:"address"`
	Collateral TokenConfig      `toml:"collateral"`
	Quote      TokenConfig      `toml:"quote"`
	Price      PricePairConfig  `toml:"price"`
	Kick       KickConfig       `toml:"kick"`
	Take       TakeConfig       `toml:"take"`
	Settlement SettlementConfig `toml:"settlement"`
	Reward     RewardConfig     `toml:"reward"`
}

// Duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ConfirmTimeout:    Duration{2 * time.Minute},
			GasLimitMarginBps: 2_000,
		},
		Subgraph: SubgraphConfig{
			CacheTTL: Duration{5 * time.Second},
		},
		Pricing: PricingConfig{
			FeedMaxAge: Duration{30 * time.Second},
		},
		Feed: FeedConfig{
			WsURL: "wss://ws-feed.exchange.coinbase.com",
		},
		Liquidity: LiquidityConfig{
			DeadlineHorizon: Duration{2 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "poolkeeper-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      Duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"kick", "take", "arb_take", "settle", "reward", "error"},
		},
		Mode:          "run",
		LogLevel:      "info",
		CycleInterval: Duration{30 * time.Second},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":  true,
	"once": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, once)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.CycleInterval.Duration <= 0 {
		errs = append(errs, "cycle_interval must be positive")
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "chain: confirm_timeout must be positive")
	}
	if c.Chain.GasLimitMarginBps < 0 {
		errs = append(errs, "chain: gas_limit_margin_bps must be >= 0")
	}

	// Wallet: at least one credential source must be specified unless every
	// submission is a dry run.
	if !c.DryRun {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Subgraph
	if c.Subgraph.URL == "" {
		errs = append(errs, "subgraph: url must not be empty")
	}

	// Feed
	if c.Feed.Enabled {
		if c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url must not be empty when enabled")
		}
		if len(c.Feed.Products) == 0 {
			errs = append(errs, "feed: at least one product is required when enabled")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
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
	}

	// Archive requires both stores.
	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "archive: s3.endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "archive: s3.bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Pools
	if len(c.Pools) == 0 {
		errs = append(errs, "pools: at least one [[pools]] entry is required")
	}
	seen := make(map[string]bool, len(c.Pools))
	for i := range c.Pools {
		p := &c.Pools[i]
		prefix := fmt.Sprintf("pools[%d] (%s)", i, p.Name)
		if seen[strings.ToLower(p.Address)] {
			errs = append(errs, prefix+": duplicate pool address")
		}
		seen[strings.ToLower(p.Address)] = true
		errs = append(errs, p.validate(prefix)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validate checks one pool entry and returns the problems found, each
// prefixed for the combined report.
func (p *PoolConfig) validate(prefix string) []string {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, prefix+": "+fmt.Sprintf(format, args...))
	}

	if !common.IsHexAddress(p.Address) {
		add("invalid pool address %q", p.Address)
	}
	if !common.IsHexAddress(p.Collateral.Address) {
		add("invalid collateral address %q", p.Collateral.Address)
	}
	if !common.IsHexAddress(p.Quote.Address) {
		add("invalid quote address %q", p.Quote.Address)
	}
	if p.Collateral.Decimals > 18 {
		add("collateral decimals %d exceed 18", p.Collateral.Decimals)
	}
	if p.Quote.Decimals > 18 {
		add("quote decimals %d exceed 18", p.Quote.Decimals)
	}

	if p.Kick.Enabled {
		if p.Kick.PriceFactorBps <= 0 {
			add("kick: price_factor_bps must be positive")
		}
		if p.Kick.AllowanceMarginBps < 0 {
			add("kick: allowance_margin_bps must be >= 0")
		}
		if p.Kick.MinDebt != "" {
			if _, err := domain.ParseWad(p.Kick.MinDebt); err != nil {
				add("kick: min_debt: %v", err)
			}
		}
	}

	if p.Take.Enabled {
		if p.Take.TakeFactorBps < 0 || p.Take.HpbFactorBps < 0 {
			add("take: factors must be >= 0")
		}
		if p.Take.TakeFactorBps == 0 && p.Take.HpbFactorBps == 0 {
			add("take: at least one of take_factor_bps, hpb_factor_bps must be set")
		}
		if p.Take.TakeFactorBps > 0 {
			if !domain.LiquiditySource(p.Take.LiquiditySource).Valid() {
				add("take: unknown liquidity_source %q (valid: oneinch, uniswapv3, solidly)", p.Take.LiquiditySource)
			}
			if p.Take.SlippageBps < 0 || p.Take.SlippageBps >= 10_000 {
				add("take: slippage_bps must be 0-9999, got %d", p.Take.SlippageBps)
			}
		}
		switch p.Take.VariantHint {
		case "", string(domain.VariantStable), string(domain.VariantVolatile):
		default:
			add("take: unknown variant_hint %q (valid: stable, volatile)", p.Take.VariantHint)
		}
	}

	if p.Settlement.Enabled {
		if p.Settlement.MaxIterations < 1 {
			add("settlement: max_iterations must be >= 1")
		}
		if p.Settlement.MaxBucketDepth < 1 {
			add("settlement: max_bucket_depth must be >= 1")
		}
		if p.Settlement.MinAuctionAge.Duration < 0 {
			add("settlement: min_auction_age must be >= 0")
		}
	}

	if p.Reward.CollectBonds {
		switch domain.RewardAction(p.Reward.Action) {
		case domain.RewardHold, "":
		case domain.RewardSwap:
			if !common.IsHexAddress(p.Reward.TargetToken) {
				add("reward: target_token must be a valid address for action swap")
			}
		default:
			add("reward: unknown action %q (valid: hold, swap)", p.Reward.Action)
		}
	}

	for _, leg := range []struct {
		name string
		spec PriceSpecConfig
	}{{"collateral", p.Price.Collateral}, {"quote", p.Price.Quote}} {
		if len(leg.spec.Sources) == 0 {
			add("price.%s: at least one source is required", leg.name)
		}
		for j, src := range leg.spec.Sources {
			if err := validatePriceSource(src); err != nil {
				add("price.%s.sources[%d]: %v", leg.name, j, err)
			}
		}
	}
	return errs
}

func validatePriceSource(src PriceSourceConfig) error {
	switch domain.PriceKind(src.Kind) {
	case domain.PriceCoinGecko, domain.PriceCoinbase, domain.PriceFeed:
		if src.Ticker == "" {
			return fmt.Errorf("source %q requires a ticker", src.Kind)
		}
	case domain.PriceFixed:
		if _, err := domain.ParseWad(src.Fixed); err != nil {
			return fmt.Errorf("fixed: %w", err)
		}
	case domain.PricePoolLUP, domain.PricePoolHPB:
		// Resolved from the pool snapshot; no parameters.
	default:
		return fmt.Errorf("unknown source kind %q", src.Kind)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Conversions to domain types. All assume Validate has passed.
// ---------------------------------------------------------------------------

// PoolAddress returns the parsed pool contract address.
func (p *PoolConfig) PoolAddress() common.Address {
	return common.HexToAddress(p.Address)
}

// CollateralAddress returns the parsed collateral token address.
func (p *PoolConfig) CollateralAddress() common.Address {
	return common.HexToAddress(p.Collateral.Address)
}

// QuoteAddress returns the parsed quote token address.
func (p *PoolConfig) QuoteAddress() common.Address {
	return common.HexToAddress(p.Quote.Address)
}

// MinDebtWad returns the kick filter's minimum debt, WAD-scaled. An unset
// min_debt means no floor.
func (p *PoolConfig) MinDebtWad() *big.Int {
	if p.Kick.MinDebt == "" {
		return new(big.Int)
	}
	v, err := domain.ParseWad(p.Kick.MinDebt)
	if err != nil {
		return new(big.Int)
	}
	return v
}

// PairSpec converts the pool's price configuration to the domain pair spec.
func (p *PoolConfig) PairSpec() domain.PairPriceSpec {
	return domain.PairPriceSpec{
		Collateral: toPriceSpec(p.Price.Collateral),
		Quote:      toPriceSpec(p.Price.Quote),
	}
}

// VariantHint returns the configured pool-variant hint, or VariantNone.
func (p *PoolConfig) VariantHint() domain.PoolVariant {
	if p.Take.VariantHint == "" {
		return domain.VariantNone
	}
	return domain.PoolVariant(p.Take.VariantHint)
}

// RewardActionOrDefault returns the configured reward action, defaulting to
// hold.
func (p *PoolConfig) RewardActionOrDefault() domain.RewardAction {
	if p.Reward.Action == "" {
		return domain.RewardHold
	}
	return domain.RewardAction(p.Reward.Action)
}

func toPriceSpec(cfg PriceSpecConfig) domain.PriceSpec {
	spec := domain.PriceSpec{Invert: cfg.Invert}
	for _, s := range cfg.Sources {
		src := domain.PriceSource{
			Kind:   domain.PriceKind(s.Kind),
			Ticker: s.Ticker,
		}
		if src.Kind == domain.PriceFixed {
			if v, err := domain.ParseWad(s.Fixed); err == nil {
				src.Fixed = v
			}
		}
		spec.Sources = append(spec.Sources, src)
	}
	return spec
}
