package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

// InsertTransactionOutputBatch is Stage 1's atomic writer (spec §4.1):
// stub Block rows via insert-or-ignore on height, TransactionOutput rows
// with is_spent=0, and paired P2MSOutput rows for every multisig output.
// Idempotent on (txid, vout).
func (s *Store) InsertTransactionOutputBatch(ctx context.Context, outputs []models.TransactionOutput) error {
	if len(outputs) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction output batch: %w", err)
	}
	defer tx.Rollback()

	heights := make(map[uint32]struct{})
	for _, o := range outputs {
		heights[o.Height] = struct{}{}
	}
	for h := range heights {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO blocks (height) VALUES (?)`, h); err != nil {
			return fmt.Errorf("stub block %d: %w", h, classifyConstraintError(err))
		}
	}

	outStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transaction_outputs
			(txid, vout, height, amount, script_hex, script_type, script_size,
			 is_coinbase, is_spent, address, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare output insert: %w", err)
	}
	defer outStmt.Close()

	p2msStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO p2ms_outputs
			(txid, vout, required_sigs, total_pubkeys, pubkeys_json)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare p2ms insert: %w", err)
	}
	defer p2msStmt.Close()

	for _, o := range outputs {
		metadata := o.Metadata
		if metadata == nil {
			metadata = json.RawMessage("{}")
		}
		if _, err := outStmt.ExecContext(ctx,
			o.Txid, o.Vout, o.Height, o.Amount, o.ScriptHex, string(o.ScriptType),
			o.ScriptSize, o.IsCoinbase, o.Address, string(metadata),
		); err != nil {
			return fmt.Errorf("insert output %s:%d: %w", o.Txid, o.Vout, classifyConstraintError(err))
		}

		if o.ScriptType != models.ScriptMultisig {
			continue
		}
		p2ms, err := parseP2MSFromMetadata(metadata)
		if err != nil {
			slog.Warn("output marked multisig but metadata has no parseable pubkeys",
				"txid", o.Txid, "vout", o.Vout, "error", err)
			continue
		}
		pubkeysJSON, err := json.Marshal(p2ms.Pubkeys)
		if err != nil {
			return fmt.Errorf("marshal pubkeys for %s:%d: %w", o.Txid, o.Vout, err)
		}
		if _, err := p2msStmt.ExecContext(ctx,
			o.Txid, o.Vout, p2ms.RequiredSigs, p2ms.TotalPubkeys, string(pubkeysJSON),
		); err != nil {
			return fmt.Errorf("insert p2ms output %s:%d: %w", o.Txid, o.Vout, classifyConstraintError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction output batch: %w", err)
	}

	slog.Info("inserted transaction output batch", "count", len(outputs))
	return nil
}

// p2msMetadata mirrors the JSON shape stored in TransactionOutput.Metadata
// for multisig outputs (required_sigs, total_pubkeys, pubkeys).
type p2msMetadata struct {
	RequiredSigs uint8    `json:"required_sigs"`
	TotalPubkeys uint8    `json:"total_pubkeys"`
	Pubkeys      []string `json:"pubkeys"`
}

func parseP2MSFromMetadata(metadata json.RawMessage) (models.P2MSOutput, error) {
	var m p2msMetadata
	if err := json.Unmarshal(metadata, &m); err != nil {
		return models.P2MSOutput{}, fmt.Errorf("unmarshal p2ms metadata: %w", err)
	}
	if len(m.Pubkeys) == 0 {
		return models.P2MSOutput{}, fmt.Errorf("no pubkeys in metadata")
	}
	return models.P2MSOutput{
		RequiredSigs: m.RequiredSigs,
		TotalPubkeys: m.TotalPubkeys,
		Pubkeys:      m.Pubkeys,
	}, nil
}

// GetP2MSOutputsForTransaction returns all P2MS outputs of txid, ordered by vout.
func (s *Store) GetP2MSOutputsForTransaction(ctx context.Context, txid string) ([]models.P2MSOutput, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT vout, required_sigs, total_pubkeys, pubkeys_json
		FROM p2ms_outputs WHERE txid = ? ORDER BY vout
	`, txid)
	if err != nil {
		return nil, fmt.Errorf("query p2ms outputs for %s: %w", txid, err)
	}
	defer rows.Close()

	var result []models.P2MSOutput
	for rows.Next() {
		var p models.P2MSOutput
		var pubkeysJSON string
		if err := rows.Scan(&p.Vout, &p.RequiredSigs, &p.TotalPubkeys, &pubkeysJSON); err != nil {
			return nil, fmt.Errorf("scan p2ms output: %w", err)
		}
		if err := json.Unmarshal([]byte(pubkeysJSON), &p.Pubkeys); err != nil {
			return nil, fmt.Errorf("unmarshal pubkeys for %s:%d: %w", txid, p.Vout, err)
		}
		p.Txid = txid
		result = append(result, p)
	}
	return result, rows.Err()
}

// GetAllOutputsForTransaction returns every TransactionOutput row of txid,
// ordered by vout.
func (s *Store) GetAllOutputsForTransaction(ctx context.Context, txid string) ([]models.TransactionOutput, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT vout, height, amount, script_hex, script_type, script_size,
		       is_coinbase, is_spent, spent_in_txid, spent_at_height, address, metadata_json
		FROM transaction_outputs WHERE txid = ? ORDER BY vout
	`, txid)
	if err != nil {
		return nil, fmt.Errorf("query outputs for %s: %w", txid, err)
	}
	defer rows.Close()

	var result []models.TransactionOutput
	for rows.Next() {
		o := models.TransactionOutput{Txid: txid}
		var scriptType string
		var spentInTxid, address, metadataJSON sql.NullString
		var spentAtHeight sql.NullInt64
		if err := rows.Scan(&o.Vout, &o.Height, &o.Amount, &o.ScriptHex, &scriptType,
			&o.ScriptSize, &o.IsCoinbase, &o.IsSpent, &spentInTxid, &spentAtHeight,
			&address, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		o.ScriptType = models.ScriptType(scriptType)
		if spentInTxid.Valid {
			v := spentInTxid.String
			o.SpentInTxid = &v
		}
		if spentAtHeight.Valid {
			v := uint32(spentAtHeight.Int64)
			o.SpentAtHeight = &v
		}
		if address.Valid {
			v := address.String
			o.Address = &v
		}
		if metadataJSON.Valid {
			o.Metadata = json.RawMessage(metadataJSON.String)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// GetUnspentP2MSCount counts the UTXO set's multisig outputs (is_spent=0
// AND script_type='multisig') per spec §4.1's reader contract.
func (s *Store) GetUnspentP2MSCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transaction_outputs
		WHERE is_spent = 0 AND script_type = 'multisig'
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unspent p2ms outputs: %w", err)
	}
	return count, nil
}
