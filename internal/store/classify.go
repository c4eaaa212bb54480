package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

// ClassificationResult bundles Stage 3's output for one transaction: the
// transaction-level classification plus one row per P2MS output.
type ClassificationResult struct {
	Transaction models.TransactionClassification
	Outputs     []models.P2MSOutputClassification
}

// InsertClassificationResultsBatch is Stage 3's atomic writer (spec §4.4):
// transaction_classifications rows are inserted before their
// p2ms_output_classifications children, matching the FK ordering the
// schema's pre-insert trigger requires.
func (s *Store) InsertClassificationResultsBatch(ctx context.Context, results []ClassificationResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin classification batch: %w", err)
	}
	defer tx.Rollback()

	txStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transaction_classifications
			(txid, protocol, variant, protocol_signature_found, classification_method,
			 content_type, transport_protocol, additional_metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txid) DO UPDATE SET
			protocol = excluded.protocol,
			variant = excluded.variant,
			protocol_signature_found = excluded.protocol_signature_found,
			classification_method = excluded.classification_method,
			content_type = excluded.content_type,
			transport_protocol = excluded.transport_protocol,
			additional_metadata_json = excluded.additional_metadata_json
	`)
	if err != nil {
		return fmt.Errorf("prepare classification insert: %w", err)
	}
	defer txStmt.Close()

	outStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO p2ms_output_classifications
			(txid, vout, protocol, variant, protocol_signature_found, classification_method,
			 content_type, is_spendable, spendability_reason, real_pubkey_count,
			 burn_key_count, data_key_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txid, vout, protocol) DO UPDATE SET
			variant = excluded.variant,
			protocol_signature_found = excluded.protocol_signature_found,
			classification_method = excluded.classification_method,
			content_type = excluded.content_type,
			is_spendable = excluded.is_spendable,
			spendability_reason = excluded.spendability_reason,
			real_pubkey_count = excluded.real_pubkey_count,
			burn_key_count = excluded.burn_key_count,
			data_key_count = excluded.data_key_count
	`)
	if err != nil {
		return fmt.Errorf("prepare output classification insert: %w", err)
	}
	defer outStmt.Close()

	for _, r := range results {
		c := r.Transaction
		if _, err := txStmt.ExecContext(ctx,
			c.Txid, string(c.Protocol), variantOrNil(c.Variant), c.ProtocolSignatureFound,
			c.ClassificationMethod, c.ContentType, c.TransportProtocol, nullableJSON(c.AdditionalMetadata),
		); err != nil {
			return fmt.Errorf("insert classification %s: %w", c.Txid, classifyConstraintError(err))
		}

		for _, o := range r.Outputs {
			if _, err := outStmt.ExecContext(ctx,
				o.Txid, o.Vout, string(o.Protocol), variantOrNil(o.Variant), o.ProtocolSignatureFound,
				o.ClassificationMethod, o.ContentType, o.IsSpendable, string(o.SpendabilityReason),
				o.RealPubkeyCount, o.BurnKeyCount, o.DataKeyCount,
			); err != nil {
				return fmt.Errorf("insert output classification %s:%d: %w", o.Txid, o.Vout, classifyConstraintError(err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit classification batch: %w", err)
	}

	slog.Info("wrote classification batch", "transactions", len(results))
	return nil
}

func variantOrNil(v *models.ProtocolVariant) any {
	if v == nil {
		return nil
	}
	return string(*v)
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// GetUnclassifiedTransactionsForStage3 returns up to limit txids present in
// enriched_transactions not yet in transaction_classifications, ordered by
// (height, txid).
func (s *Store) GetUnclassifiedTransactionsForStage3(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT e.txid
		FROM enriched_transactions e
		LEFT JOIN transaction_classifications c ON c.txid = e.txid
		WHERE c.txid IS NULL
		ORDER BY e.height, e.txid
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unclassified transactions: %w", err)
	}
	defer rows.Close()

	var txids []string
	for rows.Next() {
		var txid string
		if err := rows.Scan(&txid); err != nil {
			return nil, fmt.Errorf("scan unclassified txid: %w", err)
		}
		txids = append(txids, txid)
	}
	return txids, rows.Err()
}

// CountUnclassifiedTransactionsForStage3 counts enriched transactions not yet classified.
func (s *Store) CountUnclassifiedTransactionsForStage3(ctx context.Context) (int64, error) {
	var count int64
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM enriched_transactions e
		LEFT JOIN transaction_classifications c ON c.txid = e.txid
		WHERE c.txid IS NULL
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unclassified transactions: %w", err)
	}
	return count, nil
}

// CountClassifiedTransactionsForStage3 counts already-classified transactions.
func (s *Store) CountClassifiedTransactionsForStage3(ctx context.Context) (int64, error) {
	var count int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transaction_classifications`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count classified transactions: %w", err)
	}
	return count, nil
}

// ProtocolBreakdown is one row of a protocol/variant distribution report.
type ProtocolBreakdown struct {
	Protocol models.ProtocolType
	Variant  *models.ProtocolVariant
	Count    int64
}

// GetClassificationBreakdown groups transaction_classifications by
// (protocol, variant), for spec §6's protocol/variant distribution report.
func (s *Store) GetClassificationBreakdown(ctx context.Context) ([]ProtocolBreakdown, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT protocol, variant, COUNT(*) AS cnt
		FROM transaction_classifications
		GROUP BY protocol, variant
		ORDER BY cnt DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query classification breakdown: %w", err)
	}
	defer rows.Close()

	var result []ProtocolBreakdown
	for rows.Next() {
		var b ProtocolBreakdown
		var protocol string
		var variant sql.NullString
		if err := rows.Scan(&protocol, &variant, &b.Count); err != nil {
			return nil, fmt.Errorf("scan breakdown row: %w", err)
		}
		b.Protocol = models.ProtocolType(protocol)
		if variant.Valid {
			v := models.ProtocolVariant(variant.String)
			b.Variant = &v
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// GetEnrichedTransaction fetches the Stage 2 product for txid.
func (s *Store) GetEnrichedTransaction(ctx context.Context, txid string) (*models.EnrichedTransaction, error) {
	var e models.EnrichedTransaction
	e.Txid = txid
	err := s.conn.QueryRowContext(ctx, `
		SELECT height, total_input_value, total_output_value, transaction_fee,
		       fee_per_byte, transaction_size_bytes, fee_per_kb, total_p2ms_amount,
		       data_storage_fee_rate, p2ms_outputs_count, input_count, output_count, is_coinbase
		FROM enriched_transactions WHERE txid = ?
	`, txid).Scan(&e.Height, &e.TotalInputValue, &e.TotalOutputValue, &e.TransactionFee,
		&e.FeePerByte, &e.TransactionSizeBytes, &e.FeePerKB, &e.TotalP2MSAmount,
		&e.DataStorageFeeRate, &e.P2MSOutputsCount, &e.InputCount, &e.OutputCount, &e.IsCoinbase)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get enriched transaction %s: %w", txid, err)
	}
	return &e, nil
}

// ContentTypeCount is one row of a content-type distribution report. A nil
// ContentType represents classifications that carry no sniffed MIME type
// (distinct from a classification that was never run, which the query
// never surfaces — only classified rows feed this report).
type ContentTypeCount struct {
	ContentType *string
	Count       int64
}

// GetContentTypeDistribution reports content_type frequency across all
// classified P2MS outputs, per spec §6.
func (s *Store) GetContentTypeDistribution(ctx context.Context) ([]ContentTypeCount, error) {
	return s.queryContentTypeCounts(ctx, `
		SELECT content_type, COUNT(*) FROM p2ms_output_classifications
		GROUP BY content_type ORDER BY COUNT(*) DESC
	`)
}

// GetContentTypeDistributionByProtocol scopes the content-type distribution
// to a single protocol.
func (s *Store) GetContentTypeDistributionByProtocol(ctx context.Context, protocol models.ProtocolType) ([]ContentTypeCount, error) {
	return s.queryContentTypeCounts(ctx, `
		SELECT content_type, COUNT(*) FROM p2ms_output_classifications
		WHERE protocol = ?
		GROUP BY content_type ORDER BY COUNT(*) DESC
	`, string(protocol))
}

func (s *Store) queryContentTypeCounts(ctx context.Context, query string, args ...any) ([]ContentTypeCount, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query content type distribution: %w", err)
	}
	defer rows.Close()

	var result []ContentTypeCount
	for rows.Next() {
		var c ContentTypeCount
		var contentType sql.NullString
		if err := rows.Scan(&contentType, &c.Count); err != nil {
			return nil, fmt.Errorf("scan content type row: %w", err)
		}
		if contentType.Valid {
			v := contentType.String
			c.ContentType = &v
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// GetTransactionsByContentType returns txids of transaction_classifications
// rows matching contentType (nil matches rows with no sniffed type).
func (s *Store) GetTransactionsByContentType(ctx context.Context, contentType *string) ([]string, error) {
	var rows *sql.Rows
	var err error
	if contentType == nil {
		rows, err = s.conn.QueryContext(ctx,
			`SELECT txid FROM transaction_classifications WHERE content_type IS NULL ORDER BY txid`)
	} else {
		rows, err = s.conn.QueryContext(ctx,
			`SELECT txid FROM transaction_classifications WHERE content_type = ? ORDER BY txid`, *contentType)
	}
	if err != nil {
		return nil, fmt.Errorf("query transactions by content type: %w", err)
	}
	defer rows.Close()

	var txids []string
	for rows.Next() {
		var txid string
		if err := rows.Scan(&txid); err != nil {
			return nil, fmt.Errorf("scan txid: %w", err)
		}
		txids = append(txids, txid)
	}
	return txids, rows.Err()
}

// GetOutputsByType returns all p2ms_output_classifications rows classified
// as (protocol, variant).
func (s *Store) GetOutputsByType(ctx context.Context, protocol models.ProtocolType, variant *models.ProtocolVariant) ([]models.P2MSOutputClassification, error) {
	var rows *sql.Rows
	var err error
	if variant == nil {
		rows, err = s.conn.QueryContext(ctx, `
			SELECT txid, vout, variant, protocol_signature_found, classification_method,
			       content_type, is_spendable, spendability_reason, real_pubkey_count,
			       burn_key_count, data_key_count
			FROM p2ms_output_classifications WHERE protocol = ? AND variant IS NULL
		`, string(protocol))
	} else {
		rows, err = s.conn.QueryContext(ctx, `
			SELECT txid, vout, variant, protocol_signature_found, classification_method,
			       content_type, is_spendable, spendability_reason, real_pubkey_count,
			       burn_key_count, data_key_count
			FROM p2ms_output_classifications WHERE protocol = ? AND variant = ?
		`, string(protocol), string(*variant))
	}
	if err != nil {
		return nil, fmt.Errorf("query outputs by type: %w", err)
	}
	defer rows.Close()

	var result []models.P2MSOutputClassification
	for rows.Next() {
		o := models.P2MSOutputClassification{Protocol: protocol}
		var variantVal sql.NullString
		var contentType sql.NullString
		var spendReason string
		if err := rows.Scan(&o.Txid, &o.Vout, &variantVal, &o.ProtocolSignatureFound,
			&o.ClassificationMethod, &contentType, &o.IsSpendable, &spendReason,
			&o.RealPubkeyCount, &o.BurnKeyCount, &o.DataKeyCount); err != nil {
			return nil, fmt.Errorf("scan output classification: %w", err)
		}
		if variantVal.Valid {
			v := models.ProtocolVariant(variantVal.String)
			o.Variant = &v
		}
		if contentType.Valid {
			v := contentType.String
			o.ContentType = &v
		}
		o.SpendabilityReason = models.SpendabilityReason(spendReason)
		result = append(result, o)
	}
	return result, rows.Err()
}

// GetBurnPatternsForTransaction returns every burn pattern recorded against
// txid, used by Stage 3 detectors to re-derive burn-key counts without
// re-running pubkey analysis.
func (s *Store) GetBurnPatternsForTransaction(ctx context.Context, txid string) ([]models.BurnPattern, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT vout, pubkey_index, pattern_type, pattern_data, confidence
		FROM burn_patterns WHERE txid = ? ORDER BY vout, pubkey_index
	`, txid)
	if err != nil {
		return nil, fmt.Errorf("query burn patterns for %s: %w", txid, err)
	}
	defer rows.Close()

	var result []models.BurnPattern
	for rows.Next() {
		bp := models.BurnPattern{Txid: txid}
		var patternType, confidence string
		if err := rows.Scan(&bp.Vout, &bp.PubkeyIndex, &patternType, &bp.PatternData, &confidence); err != nil {
			return nil, fmt.Errorf("scan burn pattern: %w", err)
		}
		bp.PatternType = models.BurnPatternType(patternType)
		bp.Confidence = models.Confidence(confidence)
		result = append(result, bp)
	}
	return result, rows.Err()
}
