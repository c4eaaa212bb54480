package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

// EnrichmentItem bundles everything Stage 2 writes for one transaction.
type EnrichmentItem struct {
	Tx           models.EnrichedTransaction
	Outputs      []models.TransactionOutput // ALL outputs of Tx, not just P2MS
	Inputs       []models.TransactionInput
	BurnPatterns []models.BurnPattern
}

// GetUnprocessedTransactions returns up to limit distinct txids present in
// transaction_outputs with script_type='multisig' that do not yet appear
// in enriched_transactions, ordered by (height, txid) per spec §4.3.
func (s *Store) GetUnprocessedTransactions(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT DISTINCT o.txid, o.height
		FROM transaction_outputs o
		LEFT JOIN enriched_transactions e ON e.txid = o.txid
		WHERE o.script_type = 'multisig' AND e.txid IS NULL
		ORDER BY o.height, o.txid
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed transactions: %w", err)
	}
	defer rows.Close()

	var txids []string
	for rows.Next() {
		var txid string
		var height uint32
		if err := rows.Scan(&txid, &height); err != nil {
			return nil, fmt.Errorf("scan unprocessed transaction: %w", err)
		}
		txids = append(txids, txid)
	}
	return txids, rows.Err()
}

// CountUnprocessedTransactions counts distinct P2MS-bearing txids not yet enriched.
func (s *Store) CountUnprocessedTransactions(ctx context.Context) (int64, error) {
	var count int64
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT o.txid)
		FROM transaction_outputs o
		LEFT JOIN enriched_transactions e ON e.txid = o.txid
		WHERE o.script_type = 'multisig' AND e.txid IS NULL
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unprocessed transactions: %w", err)
	}
	return count, nil
}

// EnrichedTransactionsBatch is Stage 2's atomic writer (spec §4.1/§4.3):
// inserts EnrichedTransaction rows, upserts TransactionOutputs preserving
// any is_spent=0 already recorded by Stage 1, upserts P2MSOutput rows for
// every multisig output (including spent ones), inserts TransactionInputs
// after outputs (FK-safe ordering), then inserts BurnPatterns.
func (s *Store) EnrichedTransactionsBatch(ctx context.Context, items []EnrichmentItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrichment batch: %w", err)
	}
	defer tx.Rollback()

	// Stub any block heights referenced that don't exist yet.
	heights := make(map[uint32]struct{})
	for _, item := range items {
		heights[item.Tx.Height] = struct{}{}
		for _, o := range item.Outputs {
			heights[o.Height] = struct{}{}
		}
	}
	for h := range heights {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO blocks (height) VALUES (?)`, h); err != nil {
			return fmt.Errorf("stub block %d: %w", h, classifyConstraintError(err))
		}
	}

	txStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO enriched_transactions
			(txid, height, total_input_value, total_output_value, transaction_fee,
			 fee_per_byte, transaction_size_bytes, fee_per_kb, total_p2ms_amount,
			 data_storage_fee_rate, p2ms_outputs_count, input_count, output_count, is_coinbase)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txid) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare enriched transaction insert: %w", err)
	}
	defer txStmt.Close()

	// CRITICAL: the upsert never writes is_spent — it is set explicitly per
	// output below (preserving Stage 1's 0, or defaulting to 1 for outputs
	// discovered only now via the full-transaction RPC fetch).
	outUpsertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transaction_outputs
			(txid, vout, height, amount, script_hex, script_type, script_size,
			 is_coinbase, is_spent, address, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txid, vout) DO UPDATE SET
			height = excluded.height,
			amount = excluded.amount,
			script_hex = excluded.script_hex,
			script_type = excluded.script_type,
			script_size = excluded.script_size,
			is_coinbase = excluded.is_coinbase,
			address = excluded.address,
			metadata_json = excluded.metadata_json
	`)
	if err != nil {
		return fmt.Errorf("prepare output upsert: %w", err)
	}
	defer outUpsertStmt.Close()

	p2msUpsertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO p2ms_outputs (txid, vout, required_sigs, total_pubkeys, pubkeys_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(txid, vout) DO UPDATE SET
			required_sigs = excluded.required_sigs,
			total_pubkeys = excluded.total_pubkeys,
			pubkeys_json = excluded.pubkeys_json
	`)
	if err != nil {
		return fmt.Errorf("prepare p2ms upsert: %w", err)
	}
	defer p2msUpsertStmt.Close()

	inputStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transaction_inputs
			(txid, input_index, prev_txid, prev_vout, value, script_sig, sequence, source_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txid, input_index) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare input insert: %w", err)
	}
	defer inputStmt.Close()

	burnStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO burn_patterns
			(txid, vout, pubkey_index, pattern_type, pattern_data, confidence)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare burn pattern insert: %w", err)
	}
	defer burnStmt.Close()

	for _, item := range items {
		// Determine which multisig vouts of this txid were already
		// is_spent=0 (the Stage 1 UTXO seed) BEFORE we touch the row.
		wasUnspent, err := alreadyUnspentMultisigVouts(ctx, tx, item.Tx.Txid)
		if err != nil {
			return err
		}

		if _, err := txStmt.ExecContext(ctx,
			item.Tx.Txid, item.Tx.Height, item.Tx.TotalInputValue, item.Tx.TotalOutputValue,
			item.Tx.TransactionFee, item.Tx.FeePerByte, item.Tx.TransactionSizeBytes,
			item.Tx.FeePerKB, item.Tx.TotalP2MSAmount, item.Tx.DataStorageFeeRate,
			item.Tx.P2MSOutputsCount, item.Tx.InputCount, item.Tx.OutputCount, item.Tx.IsCoinbase,
		); err != nil {
			return fmt.Errorf("insert enriched transaction %s: %w", item.Tx.Txid, classifyConstraintError(err))
		}

		for _, o := range item.Outputs {
			metadata := o.Metadata
			if metadata == nil {
				metadata = json.RawMessage("{}")
			}
			isSpent := true
			if wasUnspent[o.Vout] {
				isSpent = false
			}
			if _, err := outUpsertStmt.ExecContext(ctx,
				o.Txid, o.Vout, o.Height, o.Amount, o.ScriptHex, string(o.ScriptType),
				o.ScriptSize, o.IsCoinbase, isSpent, o.Address, string(metadata),
			); err != nil {
				return fmt.Errorf("upsert output %s:%d: %w", o.Txid, o.Vout, classifyConstraintError(err))
			}

			if o.ScriptType != models.ScriptMultisig {
				continue
			}
			p2ms, err := parseP2MSFromMetadata(metadata)
			if err != nil {
				slog.Warn("enrichment output marked multisig but metadata has no parseable pubkeys",
					"txid", o.Txid, "vout", o.Vout, "error", err)
				continue
			}
			pubkeysJSON, err := json.Marshal(p2ms.Pubkeys)
			if err != nil {
				return fmt.Errorf("marshal pubkeys for %s:%d: %w", o.Txid, o.Vout, err)
			}
			if _, err := p2msUpsertStmt.ExecContext(ctx,
				o.Txid, o.Vout, p2ms.RequiredSigs, p2ms.TotalPubkeys, string(pubkeysJSON),
			); err != nil {
				return fmt.Errorf("upsert p2ms output %s:%d: %w", o.Txid, o.Vout, classifyConstraintError(err))
			}
		}

		// Inputs after outputs: FK-safe, inputs may reference outputs in the same batch.
		for _, in := range item.Inputs {
			if _, err := inputStmt.ExecContext(ctx,
				in.Txid, in.InputIndex, in.PrevTxid, in.PrevVout, in.Value,
				in.ScriptSig, in.Sequence, in.SourceAddress,
			); err != nil {
				return fmt.Errorf("insert input %s:%d: %w", in.Txid, in.InputIndex, classifyConstraintError(err))
			}
		}

		for _, bp := range item.BurnPatterns {
			if _, err := burnStmt.ExecContext(ctx,
				bp.Txid, bp.Vout, bp.PubkeyIndex, string(bp.PatternType), bp.PatternData, string(bp.Confidence),
			); err != nil {
				return fmt.Errorf("insert burn pattern %s:%d: %w", bp.Txid, bp.Vout, classifyConstraintError(err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrichment batch: %w", err)
	}

	slog.Info("wrote enrichment batch", "transactions", len(items))
	return nil
}

// alreadyUnspentMultisigVouts returns the set of vouts of txid that are
// currently recorded as multisig, is_spent=0 — i.e. the Stage 1 UTXO seed,
// which must never be flipped back to spent by Stage 2's upsert.
func alreadyUnspentMultisigVouts(ctx context.Context, tx *sql.Tx, txid string) (map[uint32]bool, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT vout FROM transaction_outputs
		WHERE txid = ? AND script_type = 'multisig' AND is_spent = 0
	`, txid)
	if err != nil {
		return nil, fmt.Errorf("query unspent multisig vouts for %s: %w", txid, err)
	}
	defer rows.Close()

	result := make(map[uint32]bool)
	for rows.Next() {
		var vout uint32
		if err := rows.Scan(&vout); err != nil {
			return nil, fmt.Errorf("scan unspent vout: %w", err)
		}
		result[vout] = true
	}
	return result, rows.Err()
}

// UpdateBlocksBatch backfills hash/timestamp for already-stubbed blocks.
// Updates only; rows for heights not yet present are skipped (a future
// Stage 1 run will have stubbed them).
func (s *Store) UpdateBlocksBatch(ctx context.Context, blocks []models.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin block backfill: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE blocks SET block_hash = ?, timestamp = ? WHERE height = ?
	`)
	if err != nil {
		return fmt.Errorf("prepare block update: %w", err)
	}
	defer stmt.Close()

	for _, b := range blocks {
		if _, err := stmt.ExecContext(ctx, b.BlockHash, b.Timestamp, b.Height); err != nil {
			return fmt.Errorf("update block %d: %w", b.Height, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit block backfill: %w", err)
	}
	return nil
}

// GetHeightsNeedingBlockInfo returns distinct heights among txids with
// block_hash still NULL, for the backfill step of spec §4.3 step 6.
func (s *Store) GetHeightsNeedingBlockInfo(ctx context.Context, txids []string) ([]uint32, error) {
	if len(txids) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(txids)
	q := fmt.Sprintf(`
		SELECT DISTINCT o.height
		FROM transaction_outputs o
		JOIN blocks b ON b.height = o.height
		WHERE o.txid IN (%s) AND b.block_hash IS NULL
	`, placeholders)

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query heights needing block info: %w", err)
	}
	defer rows.Close()

	var heights []uint32
	for rows.Next() {
		var h uint32
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan height: %w", err)
		}
		heights = append(heights, h)
	}
	return heights, rows.Err()
}

// GetTransactionInputs returns the inputs of txid, ordered by input_index.
func (s *Store) GetTransactionInputs(ctx context.Context, txid string) ([]models.TransactionInput, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT input_index, prev_txid, prev_vout, value, script_sig, sequence, source_address
		FROM transaction_inputs WHERE txid = ? ORDER BY input_index
	`, txid)
	if err != nil {
		return nil, fmt.Errorf("query inputs for %s: %w", txid, err)
	}
	defer rows.Close()

	var result []models.TransactionInput
	for rows.Next() {
		in := models.TransactionInput{Txid: txid}
		var sourceAddr sql.NullString
		if err := rows.Scan(&in.InputIndex, &in.PrevTxid, &in.PrevVout, &in.Value,
			&in.ScriptSig, &in.Sequence, &sourceAddr); err != nil {
			return nil, fmt.Errorf("scan input: %w", err)
		}
		if sourceAddr.Valid {
			v := sourceAddr.String
			in.SourceAddress = &v
		}
		result = append(result, in)
	}
	return result, rows.Err()
}

// GetFirstInputTxid returns the prev_txid of input_index=0 for txid — the
// Counterparty ARC4 key source (spec §4.4.5).
func (s *Store) GetFirstInputTxid(ctx context.Context, txid string) (string, error) {
	var prevTxid string
	err := s.conn.QueryRowContext(ctx, `
		SELECT prev_txid FROM transaction_inputs WHERE txid = ? AND input_index = 0
	`, txid).Scan(&prevTxid)
	if isNoRows(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get first input txid for %s: %w", txid, err)
	}
	return prevTxid, nil
}

// GetSenderAddressFromLargestInput groups txid's inputs by source_address
// and returns the address with the largest summed input value — the Omni
// Layer sender-determination algorithm of spec §4.4.6. Ties are broken by
// first occurrence (stable order of appearance among inputs).
func (s *Store) GetSenderAddressFromLargestInput(ctx context.Context, txid string) (string, error) {
	inputs, err := s.GetTransactionInputs(ctx, txid)
	if err != nil {
		return "", err
	}

	sums := make(map[string]uint64)
	order := make(map[string]int)
	for i, in := range inputs {
		if in.SourceAddress == nil {
			continue
		}
		addr := *in.SourceAddress
		if _, seen := order[addr]; !seen {
			order[addr] = i
		}
		sums[addr] += in.Value
	}

	if len(sums) == 0 {
		return "", ErrNotFound
	}

	var best string
	var bestSum uint64
	bestOrder := len(inputs) + 1
	for addr, sum := range sums {
		if sum > bestSum || (sum == bestSum && order[addr] < bestOrder) {
			best, bestSum, bestOrder = addr, sum, order[addr]
		}
	}
	return best, nil
}

// HasOutputToAddress reports whether txid has any output paid to address
// (used to detect the Omni Layer Exodus marker output).
func (s *Store) HasOutputToAddress(ctx context.Context, txid, address string) (bool, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transaction_outputs WHERE txid = ? AND address = ?
	`, txid, address).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check output to address for %s: %w", txid, err)
	}
	return count > 0, nil
}

func inClause(items []string) (string, []any) {
	placeholders := ""
	args := make([]any, len(items))
	for i, it := range items {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = it
	}
	return placeholders, args
}
