package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/poolkeeper/internal/blob/s3"
	"github.com/alanyoungcy/poolkeeper/internal/cache/redis"
	"github.com/alanyoungcy/poolkeeper/internal/chain"
	"github.com/alanyoungcy/poolkeeper/internal/config"
	"github.com/alanyoungcy/poolkeeper/internal/crypto"
	"github.com/alanyoungcy/poolkeeper/internal/domain"
	"github.com/alanyoungcy/poolkeeper/internal/engine"
	"github.com/alanyoungcy/poolkeeper/internal/feed"
	"github.com/alanyoungcy/poolkeeper/internal/liquidity"
	"github.com/alanyoungcy/poolkeeper/internal/notify"
	"github.com/alanyoungcy/poolkeeper/internal/pricing"
	"github.com/alanyoungcy/poolkeeper/internal/protocol"
	"github.com/alanyoungcy/poolkeeper/internal/rewards"
	"github.com/alanyoungcy/poolkeeper/internal/store/postgres"
	"github.com/alanyoungcy/poolkeeper/internal/subgraph"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Chain     *chain.Client
	Sequencer *chain.Sequencer

	// Pools holds one configured runner per pool.
	Pools []*engine.PoolRunner

	// Optional services; nil when the backing system is not configured.
	LockManager domain.LockManager
	ActionStore domain.ActionStore
	Archiver    domain.Archiver
	Feed        *feed.CoinbaseFeed

	Notifier *notify.Notifier
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

	// --- Chain client and signer ---
	chainClient, err := chain.Dial(ctx, chain.ClientConfig{
		RPCURL:            cfg.Chain.RPCURL,
		ConfirmTimeout:    cfg.Chain.ConfirmTimeout.Duration,
		GasLimitMarginBps: cfg.Chain.GasLimitMarginBps,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient

	signer, err := buildSigner(cfg, chainClient, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}
	owner := signer.Address()

	seq := chain.NewSequencer(chainClient, signer, cfg.DryRun, logger)
	deps.Sequencer = seq

	tokens := chain.NewTokenClient(chainClient, seq, owner)
	sender := chain.NewSender(chainClient, seq, owner)

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

	priceCache := redis.NewPriceCache(redisClient)
	snapCache := redis.NewSnapshotCache(redisClient, cfg.Subgraph.CacheTTL.Duration)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- Pool state source ---
	sgClient := subgraph.NewClient(cfg.Subgraph.URL, cfg.Subgraph.APIKey)
	snapshots := subgraph.NewCoalescingSource(sgClient, snapCache, logger)

	// --- Pricing ---
	coingecko := pricing.NewCoinGecko(cfg.Pricing.CoinGeckoURL, cfg.Pricing.CoinGeckoAPIKey)
	coinbase := pricing.NewCoinbase(cfg.Pricing.CoinbaseURL)
	resolver := pricing.NewResolver(coingecko, coinbase, priceCache, cfg.Pricing.FeedMaxAge.Duration, logger)

	if cfg.Feed.Enabled {
		deps.Feed = feed.NewCoinbaseFeed(cfg.Feed.WsURL, cfg.Feed.Products, priceCache, logger)
	}

	// --- Liquidity routing ---
	router := buildRouter(cfg, chainClient, owner, logger)

	// --- PostgreSQL action history ---
	var actionStore *postgres.ActionStore
	if cfg.Postgres.Enabled {
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

		actionStore = postgres.NewActionStore(pgClient.Pool())
		deps.ActionStore = actionStore
	}

	// --- S3 cold storage ---
	if cfg.Archive.Enabled {
		if actionStore == nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: archive requires postgres to be enabled")
		}
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

		// Fail fast on unreachable buckets or bad credentials instead of at
		// the first archive run.
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), actionStore, logger)
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

	// --- Per-pool engines ---
	for i := range cfg.Pools {
		pc := &cfg.Pools[i]
		poolClient := protocol.NewPoolClient(chainClient, seq, owner, pc.PoolAddress())

		runner := &engine.PoolRunner{
			Cfg:       pc,
			Snapshots: snapshots,
			Resolver:  resolver,
			Kick:      engine.NewKickEngine(pc, poolClient, tokens, logger),
			Take:      engine.NewTakeEngine(pc, poolClient, router, owner, logger),
			State:     poolClient,
		}
		if pc.Reward.CollectBonds {
			runner.Rewards = rewards.NewCollector(pc, poolClient, tokens, router, sender, logger)
		}
		deps.Pools = append(deps.Pools, runner)
	}

	return deps, cleanup, nil
}

// buildSigner resolves the signing key from the wallet configuration. In
// dry-run mode with no key material a throwaway key is generated so the
// engines still have an owner address to reason about.
func buildSigner(cfg *config.Config, chainClient *chain.Client, logger *slog.Logger) (*chain.Signer, error) {
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		if !cfg.DryRun {
			return nil, err
		}
		logger.Warn("no wallet configured, using ephemeral dry-run signer",
			slog.String("reason", err.Error()),
		)
		return chain.NewEphemeralSigner(chainClient.ChainID())
	}
	return chain.NewSigner(keyHex, chainClient.ChainID())
}

// buildRouter assembles the liquidity router from every adapter the
// configuration enables.
func buildRouter(cfg *config.Config, chainClient *chain.Client, recipient common.Address, logger *slog.Logger) *liquidity.Router {
	var adapters []liquidity.Adapter

	if cfg.Liquidity.UniswapV3Quoter != "" && cfg.Liquidity.UniswapV3Router != "" {
		adapters = append(adapters, liquidity.NewUniswapV3(
			chainClient,
			common.HexToAddress(cfg.Liquidity.UniswapV3Factory),
			common.HexToAddress(cfg.Liquidity.UniswapV3Quoter),
			common.HexToAddress(cfg.Liquidity.UniswapV3Router),
			recipient,
		))
	}
	if cfg.Liquidity.SolidlyRouter != "" {
		adapters = append(adapters, liquidity.NewSolidly(
			chainClient,
			common.HexToAddress(cfg.Liquidity.SolidlyRouter),
			recipient,
			nil,
		))
	}
	if cfg.Liquidity.OneInchAPIKey != "" {
		adapters = append(adapters, liquidity.NewOneInch(
			cfg.Liquidity.OneInchURL,
			cfg.Liquidity.OneInchAPIKey,
			chainClient.ChainID().Uint64(),
			recipient,
		))
	}

	return liquidity.NewRouter(adapters, cfg.Liquidity.DeadlineHorizon.Duration, logger)
}
