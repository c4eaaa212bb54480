package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment
// variables. One Config instance is shared by all four CLI entry points
// (cmd/ingest, cmd/enrich, cmd/classify, cmd/analyze); each reads only the
// fields relevant to its stage.
type Config struct {
	DBPath   string `envconfig:"P2MS_DB_PATH" default:"./data/p2ms.sqlite"`
	LogLevel string `envconfig:"P2MS_LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"P2MS_LOG_DIR" default:"./logs"`

	// Stage 1
	UTXOSnapshotPath string `envconfig:"P2MS_UTXO_SNAPSHOT_PATH"`
	Stage1BatchSize  int    `envconfig:"P2MS_STAGE1_BATCH_SIZE" default:"1000"`
	Stage1ProgressInterval int `envconfig:"P2MS_STAGE1_PROGRESS_INTERVAL" default:"10000"`

	// Stage 2 — Bitcoin node RPC
	RPCHost               string        `envconfig:"P2MS_RPC_HOST" default:"127.0.0.1:8332"`
	RPCUser               string        `envconfig:"P2MS_RPC_USER"`
	RPCPass               string        `envconfig:"P2MS_RPC_PASS"`
	RPCTimeout            time.Duration `envconfig:"P2MS_RPC_TIMEOUT" default:"30s"`
	RPCMaxRetries         int           `envconfig:"P2MS_RPC_MAX_RETRIES" default:"5"`
	RPCConcurrentRequests int           `envconfig:"P2MS_RPC_CONCURRENT_REQUESTS" default:"8"`
	Stage2BatchSize       int           `envconfig:"P2MS_STAGE2_BATCH_SIZE" default:"50"`
	Stage2ProgressInterval int          `envconfig:"P2MS_STAGE2_PROGRESS_INTERVAL" default:"100"`

	// Stage 3
	Stage3BatchSize        int `envconfig:"P2MS_STAGE3_BATCH_SIZE" default:"100"`
	Stage3ProgressInterval int `envconfig:"P2MS_STAGE3_PROGRESS_INTERVAL" default:"1000"`
}

// Load reads configuration from .env file (if present) then from
// environment variables. Environment variables override .env values.
func Load() (*Config, error) {
	// godotenv does NOT override already-set env vars, so real environment
	// variables take precedence over .env values.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			slog.Warn("failed to load .env file", "error", err)
		} else {
			slog.Info("loaded .env file")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness (spec §6: batch
// size > 0, progress interval > 0, timeouts > 0).
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("%w: database path must not be empty", ErrInvalidConfig)
	}
	if c.Stage1BatchSize <= 0 || c.Stage2BatchSize <= 0 || c.Stage3BatchSize <= 0 {
		return fmt.Errorf("%w: batch sizes must be > 0", ErrInvalidConfig)
	}
	if c.Stage1ProgressInterval <= 0 || c.Stage2ProgressInterval <= 0 || c.Stage3ProgressInterval <= 0 {
		return fmt.Errorf("%w: progress intervals must be > 0", ErrInvalidConfig)
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("%w: RPC timeout must be > 0", ErrInvalidConfig)
	}
	if c.RPCMaxRetries < 0 {
		return fmt.Errorf("%w: RPC max retries must be >= 0", ErrInvalidConfig)
	}
	if c.RPCConcurrentRequests <= 0 {
		return fmt.Errorf("%w: RPC concurrent requests must be > 0", ErrInvalidConfig)
	}
	return nil
}

// ValidateRPCAuth checks that RPC credentials are configured — required
// only by stages that dial the Bitcoin node (Stage 2), not Stage 1/3/analyze.
func (c *Config) ValidateRPCAuth() error {
	if c.RPCUser == "" || c.RPCPass == "" {
		return ErrMissingRPCAuth
	}
	return nil
}
