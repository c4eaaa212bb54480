package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

// outputStore is the subset of *store.Store Stage 1 depends on.
type outputStore interface {
	InsertTransactionOutputBatch(ctx context.Context, outputs []models.TransactionOutput) error
	GetCheckpoint(ctx context.Context, stage string) (*models.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error
}

const stageName = "stage1"

// p2msMetadata mirrors the JSON shape store.parseP2MSFromMetadata expects.
type p2msMetadata struct {
	RequiredSigs uint8    `json:"required_sigs"`
	TotalPubkeys uint8    `json:"total_pubkeys"`
	Pubkeys      []string `json:"pubkeys"`
}

// Run streams snapshot, retaining only P2MS-bearing rows (script_type
// "multisig", or "nonstandard" ending in OP_CHECKMULTISIG), and writes them
// in batches of batchSize via st.InsertTransactionOutputBatch. Progress is
// logged every progressInterval rows. Resumes from any existing "stage1"
// checkpoint. A malformed row fails the run with its line number attached
// and does not advance the checkpoint past the failing batch.
func Run(ctx context.Context, st outputStore, snapshot io.Reader, batchSize, progressInterval int) error {
	reader, err := NewReader(snapshot)
	if err != nil {
		return fmt.Errorf("open utxo snapshot: %w", err)
	}

	cp, err := st.GetCheckpoint(ctx, stageName)
	if err != nil {
		return fmt.Errorf("load stage1 checkpoint: %w", err)
	}

	var totalProcessed int64
	var batchNumber int64
	if cp != nil {
		totalProcessed = cp.TotalProcessed
		batchNumber = cp.BatchNumber
		if cp.CSVLineNumber != nil {
			if err := reader.SkipTo(*cp.CSVLineNumber); err != nil {
				return fmt.Errorf("resume from checkpoint line %d: %w", *cp.CSVLineNumber, err)
			}
			slog.Info("resuming stage1 from checkpoint", "line", *cp.CSVLineNumber, "total_processed", totalProcessed)
		}
	}

	batch := make([]models.TransactionOutput, 0, batchSize)
	var lastLine int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := st.InsertTransactionOutputBatch(ctx, batch); err != nil {
			return fmt.Errorf("insert batch at line %d: %w", lastLine, err)
		}
		batchNumber++
		if err := st.SaveCheckpoint(ctx, models.Checkpoint{
			Stage:              stageName,
			LastProcessedCount: int64(len(batch)),
			TotalProcessed:     totalProcessed,
			CSVLineNumber:      &lastLine,
			BatchNumber:        batchNumber,
		}); err != nil {
			return fmt.Errorf("save checkpoint at line %d: %w", lastLine, err)
		}
		batch = batch[:0]
		return nil
	}

	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		lastLine = rec.LineNumber

		output, keep, err := recordToOutput(rec)
		if err != nil {
			return fmt.Errorf("line %d: %w", rec.LineNumber, err)
		}
		if !keep {
			totalProcessed++
			continue
		}

		batch = append(batch, output)
		totalProcessed++

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
		if progressInterval > 0 && totalProcessed%int64(progressInterval) == 0 {
			slog.Info("stage1 progress", "total_processed", totalProcessed, "line", rec.LineNumber)
		}
	}

	if err := flush(); err != nil {
		return err
	}

	slog.Info("stage1 complete", "total_processed", totalProcessed)
	return nil
}

// recordToOutput converts a UTXORecord to a TransactionOutput, retaining
// only P2MS-bearing rows. The second return value is false for rows that
// are not P2MS (dropped, not an error).
func recordToOutput(rec UTXORecord) (models.TransactionOutput, bool, error) {
	isMultisig := rec.ScriptType == "multisig"
	isNonstandardP2MS := false

	var pubkeys []string
	var required, total uint8

	if rec.ScriptType == "multisig" || rec.ScriptType == "nonstandard" {
		p, m, n, err := ParseP2MSScript(rec.ScriptHex)
		if err == nil {
			pubkeys, required, total = p, m, n
			if rec.ScriptType == "nonstandard" {
				isNonstandardP2MS = true
			}
		} else if isMultisig {
			// script_type claims multisig but the script doesn't parse: still
			// store it as multisig per spec §7 (ScriptParseError is tolerated
			// in Stage 1, yielding 0 pubkeys), but surface via logging.
			slog.Warn("multisig-tagged output failed P2MS script parse", "txid", rec.Txid, "vout", rec.Vout, "error", err)
		}
	}

	if !isMultisig && !isNonstandardP2MS {
		return models.TransactionOutput{}, false, nil
	}

	metadata, err := json.Marshal(p2msMetadata{
		RequiredSigs: required,
		TotalPubkeys: total,
		Pubkeys:      pubkeys,
	})
	if err != nil {
		return models.TransactionOutput{}, false, fmt.Errorf("marshal p2ms metadata: %w", err)
	}

	return models.TransactionOutput{
		Txid:       rec.Txid,
		Vout:       rec.Vout,
		Height:     rec.Height,
		Amount:     rec.AmountSats,
		ScriptHex:  rec.ScriptHex,
		ScriptType: models.ScriptMultisig,
		ScriptSize: rec.ScriptSize,
		IsCoinbase: rec.IsCoinbase,
		IsSpent:    false,
		Metadata:   json.RawMessage(metadata),
	}, true, nil
}
