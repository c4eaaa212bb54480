package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify/stage3"
	"github.com/deadmanoz/p2ms-analyzer/internal/config"
	"github.com/deadmanoz/p2ms-analyzer/internal/logging"
	"github.com/deadmanoz/p2ms-analyzer/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logging.SetupWithPrefix(cfg.LogLevel, cfg.LogDir, config.LogFilePattern, "classify-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	slog.Info("stage3 classify starting",
		"dbPath", cfg.DBPath,
		"batchSize", cfg.Stage3BatchSize,
		"progressInterval", cfg.Stage3ProgressInterval,
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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := stage3.Run(ctx, st, cfg); err != nil {
		slog.Error("stage3 classify failed", "error", err)
		os.Exit(1)
	}

	slog.Info("stage3 classify complete")
}
