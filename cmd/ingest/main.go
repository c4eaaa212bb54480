package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/deadmanoz/p2ms-analyzer/internal/config"
	"github.com/deadmanoz/p2ms-analyzer/internal/ingest"
	"github.com/deadmanoz/p2ms-analyzer/internal/logging"
	"github.com/deadmanoz/p2ms-analyzer/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logging.SetupWithPrefix(cfg.LogLevel, cfg.LogDir, config.LogFilePattern, "ingest-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if cfg.UTXOSnapshotPath == "" {
		slog.Error("P2MS_UTXO_SNAPSHOT_PATH is required for stage1")
		os.Exit(1)
	}

	slog.Info("stage1 ingest starting",
		"dbPath", cfg.DBPath,
		"snapshotPath", cfg.UTXOSnapshotPath,
		"batchSize", cfg.Stage1BatchSize,
		"progressInterval", cfg.Stage1ProgressInterval,
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

	snapshot, err := os.Open(cfg.UTXOSnapshotPath)
	if err != nil {
		slog.Error("failed to open utxo snapshot", "error", err, "path", cfg.UTXOSnapshotPath)
		os.Exit(1)
	}
	defer snapshot.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := ingest.Run(ctx, st, snapshot, cfg.Stage1BatchSize, cfg.Stage1ProgressInterval); err != nil {
		slog.Error("stage1 ingest failed", "error", err)
		os.Exit(1)
	}

	slog.Info("stage1 ingest complete")
}
