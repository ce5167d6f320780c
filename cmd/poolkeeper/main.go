// Command poolkeeper runs the liquidation keeper: it watches configured
// lending pools, kicks undercollateralized loans, takes auction collateral
// and settles finished auctions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/poolkeeper/internal/app"
	"github.com/alanyoungcy/poolkeeper/internal/config"
	"github.com/alanyoungcy/poolkeeper/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptKey := flag.Bool("encrypt-key", false,
		"encrypt KEEPER_WALLET_PRIVATE_KEY with KEEPER_WALLET_KEY_PASSWORD, write the keyfile to stdout, and exit")
	flag.Parse()

	if *encryptKey {
		if err := writeEncryptedKeyfile(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// writeEncryptedKeyfile reads key material from the environment so neither
// value lands in shell history or process listings.
func writeEncryptedKeyfile(w io.Writer) error {
	blob, err := crypto.EncryptKey(
		os.Getenv("KEEPER_WALLET_PRIVATE_KEY"),
		os.Getenv("KEEPER_WALLET_KEY_PASSWORD"),
	)
	if err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}
	if _, err := w.Write(append(blob, '\n')); err != nil {
		return fmt.Errorf("write keyfile: %w", err)
	}
	return nil
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}

	logger.Info("poolkeeper starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// Cancellation is the normal shutdown path.
		if errors.Is(err, context.Canceled) {
			logger.Info("keeper shut down gracefully")
			return nil
		}
		logger.Error("keeper exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("poolkeeper stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
