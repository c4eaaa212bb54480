// Package stage3 drives Stage 3 of the pipeline: assembling each
// EnrichedTransaction's full context (outputs, P2MS outputs, inputs, burn
// patterns) into a classify.Transaction and running it through the
// protocol detector registry (spec §4.4). It depends on both
// internal/classify (shared types/primitives) and internal/classify/detectors
// (the concrete registry) — a dependency internal/classify itself cannot
// take without a cycle, since detectors depends on classify.
package stage3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/classify/detectors"
	"github.com/deadmanoz/p2ms-analyzer/internal/config"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
	"github.com/deadmanoz/p2ms-analyzer/internal/store"
)

// classifyStore is the subset of *store.Store Stage 3 depends on.
type classifyStore interface {
	GetUnclassifiedTransactionsForStage3(ctx context.Context, limit int) ([]string, error)
	GetEnrichedTransaction(ctx context.Context, txid string) (*models.EnrichedTransaction, error)
	GetAllOutputsForTransaction(ctx context.Context, txid string) ([]models.TransactionOutput, error)
	GetP2MSOutputsForTransaction(ctx context.Context, txid string) ([]models.P2MSOutput, error)
	GetTransactionInputs(ctx context.Context, txid string) ([]models.TransactionInput, error)
	GetBurnPatternsForTransaction(ctx context.Context, txid string) ([]models.BurnPattern, error)
	GetFirstInputTxid(ctx context.Context, txid string) (string, error)
	GetSenderAddressFromLargestInput(ctx context.Context, txid string) (string, error)
	InsertClassificationResultsBatch(ctx context.Context, results []store.ClassificationResult) error
	GetCheckpoint(ctx context.Context, stage string) (*models.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error
}

const stageName = "stage3"

// Run drives Stage 3 to completion: repeatedly selects a batch of
// unclassified enriched transactions, builds each one's classify.Transaction
// context, runs it through the protocol detector registry, and writes the
// batch atomically. Stops when no unclassified transactions remain. Resumes
// from any existing "stage3" checkpoint.
func Run(ctx context.Context, st classifyStore, cfg *config.Config) error {
	registry := detectors.NewRegistry()

	cp, err := st.GetCheckpoint(ctx, stageName)
	if err != nil {
		return fmt.Errorf("load stage3 checkpoint: %w", err)
	}
	var batchNumber, totalProcessed int64
	if cp != nil {
		batchNumber = cp.BatchNumber
		totalProcessed = cp.TotalProcessed
	}

	for {
		txids, err := st.GetUnclassifiedTransactionsForStage3(ctx, cfg.Stage3BatchSize)
		if err != nil {
			return fmt.Errorf("select unclassified transactions: %w", err)
		}
		if len(txids) == 0 {
			break
		}

		results := make([]store.ClassificationResult, 0, len(txids))
		for _, txid := range txids {
			tx, err := loadTransaction(ctx, st, txid)
			if err != nil {
				return fmt.Errorf("load transaction %s: %w", txid, err)
			}

			txClass, outClass := classify.ClassifyTransaction(tx, registry)
			results = append(results, store.ClassificationResult{
				Transaction: txClass,
				Outputs:     outClass,
			})
		}

		if err := st.InsertClassificationResultsBatch(ctx, results); err != nil {
			return fmt.Errorf("write batch %d: %w", batchNumber+1, err)
		}

		batchNumber++
		prevProcessed := totalProcessed
		totalProcessed += int64(len(results))
		if err := st.SaveCheckpoint(ctx, models.Checkpoint{
			Stage:              stageName,
			LastProcessedCount: int64(len(results)),
			TotalProcessed:     totalProcessed,
			BatchNumber:        batchNumber,
		}); err != nil {
			return fmt.Errorf("save stage3 checkpoint: %w", err)
		}

		interval := int64(cfg.Stage3ProgressInterval)
		if interval > 0 && totalProcessed/interval > prevProcessed/interval {
			slog.Info("stage3 progress", "total_processed", totalProcessed, "batch", batchNumber)
		}
	}

	slog.Info("stage3 complete", "total_processed", totalProcessed)
	return nil
}

// loadTransaction assembles the classify.Transaction context for txid from
// everything Stage 1/2 recorded. SenderAddress is left empty (not failed)
// when no input's source_address could be resolved, and FirstInputTxid when
// no input with index 0 is recorded —
// detectors that need them (Omni Layer, Counterparty) treat an empty value
// as "cannot determine" per spec §4.4.5/§4.4.6.
func loadTransaction(ctx context.Context, st classifyStore, txid string) (classify.Transaction, error) {
	enriched, err := st.GetEnrichedTransaction(ctx, txid)
	if err != nil {
		return classify.Transaction{}, fmt.Errorf("fetch enriched transaction: %w", err)
	}

	outputs, err := st.GetAllOutputsForTransaction(ctx, txid)
	if err != nil {
		return classify.Transaction{}, fmt.Errorf("fetch outputs: %w", err)
	}

	p2msOutputs, err := st.GetP2MSOutputsForTransaction(ctx, txid)
	if err != nil {
		return classify.Transaction{}, fmt.Errorf("fetch p2ms outputs: %w", err)
	}

	inputs, err := st.GetTransactionInputs(ctx, txid)
	if err != nil {
		return classify.Transaction{}, fmt.Errorf("fetch inputs: %w", err)
	}

	burnPatterns, err := st.GetBurnPatternsForTransaction(ctx, txid)
	if err != nil {
		return classify.Transaction{}, fmt.Errorf("fetch burn patterns: %w", err)
	}

	firstInputTxid, err := st.GetFirstInputTxid(ctx, txid)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return classify.Transaction{}, fmt.Errorf("resolve first input txid: %w", err)
	}

	senderAddress, err := st.GetSenderAddressFromLargestInput(ctx, txid)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return classify.Transaction{}, fmt.Errorf("resolve sender address: %w", err)
	}

	return classify.Transaction{
		Enriched:       *enriched,
		AllOutputs:     outputs,
		P2MSOutputs:    p2msOutputs,
		Inputs:         inputs,
		BurnPatterns:   burnPatterns,
		FirstInputTxid: firstInputTxid,
		SenderAddress:  senderAddress,
	}, nil
}
