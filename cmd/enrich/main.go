package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/deadmanoz/p2ms-analyzer/internal/config"
	"github.com/deadmanoz/p2ms-analyzer/internal/enrich"
	"github.com/deadmanoz/p2ms-analyzer/internal/logging"
	"github.com/deadmanoz/p2ms-analyzer/internal/rpcclient"
	"github.com/deadmanoz/p2ms-analyzer/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logging.SetupWithPrefix(cfg.LogLevel, cfg.LogDir, config.LogFilePattern, "enrich-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	slog.Info("stage2 enrich starting",
		"dbPath", cfg.DBPath,
		"rpcHost", cfg.RPCHost,
		"batchSize", cfg.Stage2BatchSize,
		"progressInterval", cfg.Stage2ProgressInterval,
		"concurrentRequests", cfg.RPCConcurrentRequests,
	)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	rpc, err := rpcclient.New(cfg)
	if err != nil {
		slog.Error("failed to connect to bitcoin node", "error", err)
		os.Exit(1)
	}
	defer rpc.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := enrich.Run(ctx, rpc, st, cfg); err != nil {
		slog.Error("stage2 enrich failed", "error", err)
		os.Exit(1)
	}

	slog.Info("stage2 enrich complete")
}
