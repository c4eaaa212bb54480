// Package rpcclient wraps a Bitcoin Core JSON-RPC connection with the
// pacing and retry behaviour Stage 2 needs to fetch full transactions and
// block headers for every P2MS-bearing txid without overrunning the node.
package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"golang.org/x/time/rate"

	"github.com/deadmanoz/p2ms-analyzer/internal/config"
)

// Client wraps *rpcclient.Client with rate limiting and retry.
type Client struct {
	rpc               *rpcclient.Client
	limiter           *rate.Limiter
	maxRetries        int
	initialBackoff    time.Duration
	backoffMultiplier float64
	maxBackoff        time.Duration
}

// New dials a Bitcoin Core node using cfg's RPC settings. The connection is
// HTTP POST, TLS-less, matching a local trusted node per spec §4.2.
func New(cfg *config.Config) (*Client, error) {
	if err := cfg.ValidateRPCAuth(); err != nil {
		return nil, err
	}

	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.RPCHost,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	if _, err := rpc.GetBlockCount(); err != nil {
		rpc.Shutdown()
		return nil, fmt.Errorf("%w: verify connection: %v", ErrConnection, err)
	}

	limit := rate.Every(time.Second / time.Duration(cfg.RPCConcurrentRequests))

	slog.Info("connected to bitcoin rpc", "host", cfg.RPCHost)

	return &Client{
		rpc:               rpc,
		limiter:           rate.NewLimiter(limit, cfg.RPCConcurrentRequests),
		maxRetries:        cfg.RPCMaxRetries,
		initialBackoff:    config.RPCInitialBackoff,
		backoffMultiplier: config.RPCBackoffMultiplier,
		maxBackoff:        time.Duration(config.RPCMaxBackoffSeconds) * time.Second,
	}, nil
}

// Shutdown closes the underlying RPC connection.
func (c *Client) Shutdown() {
	c.rpc.Shutdown()
}

// withRetry runs fn, retrying transient errors up to c.maxRetries times
// with exponential backoff. Errors classified as permanent (transaction or
// block not found) are never retried.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := c.initialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if isPermanent(lastErr) {
			return fmt.Errorf("%s: %w", op, classifyRPCError(lastErr))
		}
		if attempt == c.maxRetries {
			break
		}

		slog.Warn("bitcoin rpc call failed, retrying", "op", op, "attempt", attempt+1, "error", lastErr)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		backoff = time.Duration(float64(backoff) * c.backoffMultiplier)
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}

	return fmt.Errorf("%s: %w (after %d retries)", op, classifyRPCError(lastErr), c.maxRetries)
}

func isPermanent(err error) bool {
	return strings.Contains(err.Error(), "No such mempool or blockchain transaction") ||
		strings.Contains(err.Error(), "Block not found")
}

func classifyRPCError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "No such mempool or blockchain transaction"):
		return ErrTransactionNotFound
	case strings.Contains(msg, "Block not found"):
		return ErrBlockNotFound
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return ErrTimeout
	default:
		return err
	}
}

// GetRawTransactionVerbose fetches the full verbose transaction for txidHex.
func (c *Client) GetRawTransactionVerbose(ctx context.Context, txidHex string) (*btcjson.TxRawResult, error) {
	hash, err := chainhash.NewHashFromStr(txidHex)
	if err != nil {
		return nil, fmt.Errorf("parse txid %s: %w", txidHex, err)
	}

	var result *btcjson.TxRawResult
	err = c.withRetry(ctx, "getrawtransaction", func() error {
		r, err := c.rpc.GetRawTransactionVerbose(hash)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetBlockHash fetches the block hash at height.
func (c *Client) GetBlockHash(ctx context.Context, height int64) (*chainhash.Hash, error) {
	var result *chainhash.Hash
	err := c.withRetry(ctx, "getblockhash", func() error {
		h, err := c.rpc.GetBlockHash(height)
		if err != nil {
			return err
		}
		result = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetBlockHeaderVerbose fetches the header for blockHash, giving access to
// the block's timestamp for Stage 2's backfill step.
func (c *Client) GetBlockHeaderVerbose(ctx context.Context, blockHash *chainhash.Hash) (*btcjson.GetBlockHeaderVerboseResult, error) {
	var result *btcjson.GetBlockHeaderVerboseResult
	err := c.withRetry(ctx, "getblockheader", func() error {
		r, err := c.rpc.GetBlockHeaderVerbose(blockHash)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RawRequest issues an arbitrary JSON-RPC method, for calls btcd's typed
// wrappers don't expose.
func (c *Client) RawRequest(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	var result json.RawMessage
	err := c.withRetry(ctx, method, func() error {
		r, err := c.rpc.RawRequest(method, params)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetBlockTimestamp is a convenience wrapper combining GetBlockHash and
// GetBlockHeaderVerbose for Stage 2's block backfill (spec §4.3 step 6).
func (c *Client) GetBlockTimestamp(ctx context.Context, height int64) (hash string, timestamp int64, err error) {
	blockHash, err := c.GetBlockHash(ctx, height)
	if err != nil {
		return "", 0, err
	}
	header, err := c.GetBlockHeaderVerbose(ctx, blockHash)
	if err != nil {
		return "", 0, err
	}
	return blockHash.String(), header.Time, nil
}
