package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.Chain.RPCURL = "https://rpc.example.com"
	cfg.Wallet.PrivateKey = "0x" + strings.Repeat("11", 32)
	cfg.Subgraph.URL = "https://subgraph.example.com/gn"
	cfg.Pools = []PoolConfig{validPool()}
	return &cfg
}

func validPool() PoolConfig {
	return PoolConfig{
		Name:    "WETH-USDC",
		Address: "0x000000000000000000000000000000000000dEaD",
		Collateral: TokenConfig{
			Address:  "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			Decimals: 18,
		},
		Quote: TokenConfig{
			Address:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Decimals: 6,
		},
		Price: PricePairConfig{
			Collateral: PriceSpecConfig{
				Sources: []PriceSourceConfig{{Kind: "coingecko", Ticker: "ethereum"}},
			},
			Quote: PriceSpecConfig{
				Sources: []PriceSourceConfig{{Kind: "fixed", Fixed: "1.0"}},
			},
		},
		Kick: KickConfig{
			Enabled:        true,
			MinDebt:        "50",
			PriceFactorBps: 9000,
		},
		Take: TakeConfig{
			Enabled:         true,
			TakeFactorBps:   9900,
			HpbFactorBps:    9900,
			LiquiditySource: "uniswapv3",
			SlippageBps:     50,
		},
		Settlement: SettlementConfig{
			Enabled:        true,
			MinAuctionAge:  Duration{time.Hour},
			MaxIterations:  10,
			MaxBucketDepth: 50,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_CollectsProblems(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "forever" },
			wantSub: "unknown mode",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantSub: "unknown log_level",
		},
		{
			name:    "missing rpc url",
			mutate:  func(c *Config) { c.Chain.RPCURL = "" },
			wantSub: "rpc_url",
		},
		{
			name:    "missing wallet",
			mutate:  func(c *Config) { c.Wallet.PrivateKey = "" },
			wantSub: "wallet",
		},
		{
			name: "keyfile without password",
			mutate: func(c *Config) {
				c.Wallet.PrivateKey = ""
				c.Wallet.EncryptedKeyPath = "/etc/keeper/key.json"
			},
			wantSub: "key_password",
		},
		{
			name: "feed enabled without products",
			mutate: func(c *Config) {
				c.Feed.Enabled = true
				c.Feed.Products = nil
			},
			wantSub: "at least one product",
		},
		{
			name: "archive without postgres",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.S3.Endpoint = "http://localhost:9000"
				c.S3.Bucket = "data"
			},
			wantSub: "requires postgres.enabled",
		},
		{
			name:    "no pools",
			mutate:  func(c *Config) { c.Pools = nil },
			wantSub: "at least one [[pools]] entry",
		},
		{
			name:    "duplicate pool",
			mutate:  func(c *Config) { c.Pools = append(c.Pools, validPool()) },
			wantSub: "duplicate pool address",
		},
		{
			name:    "bad pool address",
			mutate:  func(c *Config) { c.Pools[0].Address = "not-an-address" },
			wantSub: "invalid pool address",
		},
		{
			name:    "bad min debt",
			mutate:  func(c *Config) { c.Pools[0].Kick.MinDebt = "fifty" },
			wantSub: "min_debt",
		},
		{
			name: "take without any factor",
			mutate: func(c *Config) {
				c.Pools[0].Take.TakeFactorBps = 0
				c.Pools[0].Take.HpbFactorBps = 0
			},
			wantSub: "at least one of take_factor_bps",
		},
		{
			name:    "unknown liquidity source",
			mutate:  func(c *Config) { c.Pools[0].Take.LiquiditySource = "sushiswap" },
			wantSub: "unknown liquidity_source",
		},
		{
			name: "swap reward without target",
			mutate: func(c *Config) {
				c.Pools[0].Reward = RewardConfig{CollectBonds: true, Action: "swap"}
			},
			wantSub: "target_token",
		},
		{
			name: "price source without ticker",
			mutate: func(c *Config) {
				c.Pools[0].Price.Collateral.Sources = []PriceSourceConfig{{Kind: "coinbase"}}
			},
			wantSub: "requires a ticker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate: expected error containing %q", tt.wantSub)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("error %q does not contain %q", err.Error(), tt.wantSub)
			}
		})
	}
}

func TestValidate_DryRunAllowsMissingWallet(t *testing.T) {
	cfg := validConfig()
	cfg.DryRun = true
	cfg.Wallet = WalletConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("KEEPER_CHAIN_RPC_URL", "https://env.example.com")
	t.Setenv("KEEPER_DRY_RUN", "true")
	t.Setenv("KEEPER_CYCLE_INTERVAL", "45s")
	t.Setenv("KEEPER_REDIS_DB", "3")

	cfg := validConfig()
	applyEnvOverrides(cfg)

	if cfg.Chain.RPCURL != "https://env.example.com" {
		t.Fatalf("rpc url = %q, want env value", cfg.Chain.RPCURL)
	}
	if !cfg.DryRun {
		t.Fatalf("dry_run = false, want true")
	}
	if cfg.CycleInterval.Duration != 45*time.Second {
		t.Fatalf("cycle_interval = %v, want 45s", cfg.CycleInterval.Duration)
	}
	if cfg.Redis.DB != 3 {
		t.Fatalf("redis db = %d, want 3", cfg.Redis.DB)
	}
}
