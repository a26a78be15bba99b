package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nftescrow/config"
	"nftescrow/core"
	"nftescrow/core/events"
	"nftescrow/crypto"
	"nftescrow/indexer"
	"nftescrow/native/escrow"
	"nftescrow/observability"
	"nftescrow/observability/logging"
	telemetry "nftescrow/observability/otel"
	"nftescrow/rpc"
	"nftescrow/storage"
)

const serviceName = "escrowd"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.SetupWithOptions(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("escrowd stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("escrowd stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.LevelDBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	admin, err := cfg.AdminAddress()
	if err != nil {
		db.Close()
		return fmt.Errorf("admin address: %w", err)
	}
	commitment, err := cfg.CommitmentHash()
	if err != nil {
		db.Close()
		return fmt.Errorf("commitment: %w", err)
	}

	node, err := core.NewNode(db, core.Options{
		Admin:        admin,
		FeeBps:       cfg.PlatformFeeBps,
		Commitment:   commitment,
		Policy:       escrow.Policy{BuyerEarlyCancel: cfg.BuyerEarlyCancel},
		DurationUnit: cfg.DurationUnit,
		Paused:       cfg.Paused,
		Logger:       logger,
	})
	if err != nil {
		db.Close()
		return err
	}
	defer node.Close()

	for _, c := range cfg.Collections {
		collection := node.RegisterCollection(c.Name, c.Symbol)
		logger.Info("collection registered",
			slog.String("name", c.Name),
			slog.String("address", crypto.FormatAddress(collection.Address())))
	}
	for _, t := range cfg.Tokens {
		tok := node.RegisterToken(t.Name, t.Symbol)
		logger.Info("token registered",
			slog.String("name", t.Name),
			slog.String("address", crypto.FormatAddress(tok.Address())))
	}

	indexDB, err := indexer.Open(cfg.IndexerDriver, cfg.IndexerDSN)
	if err != nil {
		return err
	}
	idx, err := indexer.New(indexDB, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := idx.Close(); err != nil {
			logger.Warn("indexer close failed", slog.Any("error", err))
		}
	}()

	bus := events.NewBus(0)
	metrics := observability.Escrow()
	if platform, err := node.EscrowPlatform(); err == nil {
		metrics.SetFeeBps(platform.FeeBps)
	}
	node.SetEmitter(events.Multi{bus, idx, metrics})

	server, err := rpc.NewServer(node, bus, idx, rpc.ServerConfig{
		JWTSecret:          []byte(cfg.JWTSecret),
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		logger.Warn("JWTSecret not configured; state-changing RPC methods are disabled")
	}

	logger.Info("escrow RPC listening",
		slog.String("address", cfg.RPCAddress),
		slog.String("engine", crypto.FormatAddress(node.EngineAddress())))
	if err := server.Serve(ctx, cfg.RPCAddress); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
