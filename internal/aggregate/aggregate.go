// Package aggregate implements the read-only reporting queries of spec
// §6's "Aggregation query surface": UTXO P2MS totals, protocol/variant
// breakdowns, content-type distribution, spendability, weekly temporal
// buckets, burn-pattern summaries, multisig configuration tables, and
// dust-threshold slicing. Every query here is SELECT-only — no method in
// this package ever opens a write transaction.
package aggregate

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/deadmanoz/p2ms-analyzer/internal/config"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

// dbHandle is the subset *store.Store exposes to aggregation: a read-only
// connection, nothing else.
type dbHandle interface {
	DB() *sql.DB
}

// Aggregator runs the report queries against a store's connection.
type Aggregator struct {
	db *sql.DB
}

// New wraps st's connection for read-only aggregation queries.
func New(st dbHandle) *Aggregator {
	return &Aggregator{db: st.DB()}
}

// ProtocolTotal is one row of a per-protocol (or overall, with Protocol=="")
// count/bytes/value rollup.
type ProtocolTotal struct {
	Protocol   models.ProtocolType
	Count      int64
	TotalBytes int64
	TotalValue int64
}

// UTXOP2MSTotals reports the unspent P2MS output count/bytes/value,
// globally and broken down by protocol (spec §6 bullet 1).
func (a *Aggregator) UTXOP2MSTotals(ctx context.Context) (overall ProtocolTotal, byProtocol []ProtocolTotal, err error) {
	err = a.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(o.script_size), 0), COALESCE(SUM(o.amount), 0)
		FROM transaction_outputs o
		WHERE o.script_type = 'multisig' AND o.is_spent = 0
	`).Scan(&overall.Count, &overall.TotalBytes, &overall.TotalValue)
	if err != nil {
		return ProtocolTotal{}, nil, fmt.Errorf("query overall utxo p2ms totals: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT c.protocol, COUNT(*), COALESCE(SUM(o.script_size), 0), COALESCE(SUM(o.amount), 0)
		FROM transaction_outputs o
		JOIN transaction_classifications c ON c.txid = o.txid
		WHERE o.script_type = 'multisig' AND o.is_spent = 0
		GROUP BY c.protocol
		ORDER BY c.protocol
	`)
	if err != nil {
		return ProtocolTotal{}, nil, fmt.Errorf("query per-protocol utxo p2ms totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t ProtocolTotal
		if err := rows.Scan(&t.Protocol, &t.Count, &t.TotalBytes, &t.TotalValue); err != nil {
			return ProtocolTotal{}, nil, fmt.Errorf("scan protocol total: %w", err)
		}
		byProtocol = append(byProtocol, t)
	}
	return overall, byProtocol, rows.Err()
}

// VariantCount is one (protocol, variant) row with an optionally normalized
// percentage of the query's total.
type VariantCount struct {
	Protocol   models.ProtocolType
	Variant    sql.NullString
	Count      int64
	Percentage float64
}

// ProtocolVariantBreakdown reports transaction counts per (protocol,
// variant), with Percentage normalized against the sum of all rows (spec
// §6 bullet 2).
func (a *Aggregator) ProtocolVariantBreakdown(ctx context.Context) ([]VariantCount, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT protocol, variant, COUNT(*)
		FROM transaction_classifications
		GROUP BY protocol, variant
		ORDER BY protocol, variant
	`)
	if err != nil {
		return nil, fmt.Errorf("query protocol/variant breakdown: %w", err)
	}
	defer rows.Close()

	var result []VariantCount
	var total int64
	for rows.Next() {
		var v VariantCount
		if err := rows.Scan(&v.Protocol, &v.Variant, &v.Count); err != nil {
			return nil, fmt.Errorf("scan variant count: %w", err)
		}
		result = append(result, v)
		total += v.Count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if total > 0 {
		for i := range result {
			result[i].Percentage = float64(result[i].Count) / float64(total) * 100
		}
	}
	return result, nil
}

// validNullVariants are variants whose content_type is expected to be NULL
// — a structural property of the protocol, not a classification failure
// (spec §6 bullet 3's "valid-null" set).
var validNullVariants = map[models.ProtocolVariant]bool{
	models.VariantLegitimateMultisig:            true,
	models.VariantLegitimateMultisigDupeKeys:    true,
	models.VariantLegitimateMultisigWithNullKey: true,
	models.VariantStampsUnknown:                 true,
	models.VariantOmniFailedDeobfuscation:       true,
	models.VariantOmniUnknown:                   true,
	models.VariantCounterpartyUnknown:           true,
	models.VariantChancecoinUnknown:             true,
	models.VariantPPkUnknown:                    true,
	models.VariantUnknown:                       true,
}

// ContentTypeRow is one (protocol, content_type) count, where content_type
// is empty for NULL rows.
type ContentTypeRow struct {
	Protocol    models.ProtocolType
	ContentType string
	Count       int64
}

// ContentTypeDistribution reports content-type counts per protocol, and
// separately buckets the NULL rows into "valid-null" (expected by the
// protocol's own shape) and "invalid-null" (signature found but content
// sniff failed) per spec §6 bullet 3.
type ContentTypeDistribution struct {
	ByContentType []ContentTypeRow
	ValidNull     []ContentTypeRow
	InvalidNull   []ContentTypeRow
}

func (a *Aggregator) ContentTypeDistribution(ctx context.Context) (ContentTypeDistribution, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT protocol, variant, content_type, protocol_signature_found, COUNT(*)
		FROM transaction_classifications
		GROUP BY protocol, variant, content_type, protocol_signature_found
		ORDER BY protocol, content_type
	`)
	if err != nil {
		return ContentTypeDistribution{}, fmt.Errorf("query content type distribution: %w", err)
	}
	defer rows.Close()

	var dist ContentTypeDistribution
	for rows.Next() {
		var protocol models.ProtocolType
		var variant sql.NullString
		var contentType sql.NullString
		var signatureFound bool
		var count int64
		if err := rows.Scan(&protocol, &variant, &contentType, &signatureFound, &count); err != nil {
			return ContentTypeDistribution{}, fmt.Errorf("scan content type row: %w", err)
		}

		row := ContentTypeRow{Protocol: protocol, ContentType: contentType.String, Count: count}
		dist.ByContentType = append(dist.ByContentType, row)

		if contentType.Valid {
			continue
		}
		if validNullVariants[models.ProtocolVariant(variant.String)] {
			dist.ValidNull = append(dist.ValidNull, row)
		} else if signatureFound {
			dist.InvalidNull = append(dist.InvalidNull, row)
		}
	}
	return dist, rows.Err()
}

// SpendabilityCount is one (protocol, reason) count.
type SpendabilityCount struct {
	Protocol models.ProtocolType
	Reason   models.SpendabilityReason
	Count    int64
}

// SpendabilityByProtocolAndReason reports per-output spendability broken
// down by protocol and reason code (spec §6 bullet 4).
func (a *Aggregator) SpendabilityByProtocolAndReason(ctx context.Context) ([]SpendabilityCount, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT protocol, spendability_reason, COUNT(*)
		FROM p2ms_output_classifications
		GROUP BY protocol, spendability_reason
		ORDER BY protocol, spendability_reason
	`)
	if err != nil {
		return nil, fmt.Errorf("query spendability breakdown: %w", err)
	}
	defer rows.Close()

	var result []SpendabilityCount
	for rows.Next() {
		var s SpendabilityCount
		if err := rows.Scan(&s.Protocol, &s.Reason, &s.Count); err != nil {
			return nil, fmt.Errorf("scan spendability count: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// TransactionSpendabilitySummary is the "any output spendable" rollup of
// spec §6 bullet 4.
type TransactionSpendabilitySummary struct {
	AnySpendableCount  int64
	NoneSpendableCount int64
}

// TransactionLevelSpendability reports, per transaction, whether any one of
// its P2MS outputs is spendable.
func (a *Aggregator) TransactionLevelSpendability(ctx context.Context) (TransactionSpendabilitySummary, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT MAX(is_spendable) FROM p2ms_output_classifications GROUP BY txid
	`)
	if err != nil {
		return TransactionSpendabilitySummary{}, fmt.Errorf("query transaction-level spendability: %w", err)
	}
	defer rows.Close()

	var summary TransactionSpendabilitySummary
	for rows.Next() {
		var anySpendable bool
		if err := rows.Scan(&anySpendable); err != nil {
			return TransactionSpendabilitySummary{}, fmt.Errorf("scan transaction spendability: %w", err)
		}
		if anySpendable {
			summary.AnySpendableCount++
		} else {
			summary.NoneSpendableCount++
		}
	}
	return summary, rows.Err()
}

// WeeklyFeeBucket is one Thursday-anchored 7-day window's fee/spendability
// rollup (spec §6 bullet 5).
type WeeklyFeeBucket struct {
	Week              int64
	TransactionCount  int64
	TotalFee          int64
	AvgFeePerByte     float64
	SpendableCount    int64
	NotSpendableCount int64
}

// WeeklyFeeAndSpendability buckets enriched transactions by
// floor(block.timestamp/604800), aggregating fee and any-output-spendable
// stats per bucket.
func (a *Aggregator) WeeklyFeeAndSpendability(ctx context.Context) ([]WeeklyFeeBucket, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			CAST(b.timestamp / ? AS INTEGER) AS week,
			COUNT(DISTINCT e.txid),
			COALESCE(SUM(e.transaction_fee), 0),
			COALESCE(AVG(e.fee_per_byte), 0),
			COALESCE(SUM(CASE WHEN spend.any_spendable = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN spend.any_spendable = 0 THEN 1 ELSE 0 END), 0)
		FROM enriched_transactions e
		JOIN blocks b ON b.height = e.height
		LEFT JOIN (
			SELECT txid, MAX(is_spendable) AS any_spendable
			FROM p2ms_output_classifications
			GROUP BY txid
		) spend ON spend.txid = e.txid
		WHERE b.timestamp IS NOT NULL
		GROUP BY week
		ORDER BY week
	`, config.WeekBucketSeconds)
	if err != nil {
		return nil, fmt.Errorf("query weekly fee/spendability buckets: %w", err)
	}
	defer rows.Close()

	var result []WeeklyFeeBucket
	for rows.Next() {
		var w WeeklyFeeBucket
		if err := rows.Scan(&w.Week, &w.TransactionCount, &w.TotalFee, &w.AvgFeePerByte,
			&w.SpendableCount, &w.NotSpendableCount); err != nil {
			return nil, fmt.Errorf("scan weekly bucket: %w", err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// WeeklyVariantBucket is one (week, protocol, variant) count for the
// variant-evolution-over-time view of spec §6 bullet 5.
type WeeklyVariantBucket struct {
	Week     int64
	Protocol models.ProtocolType
	Variant  sql.NullString
	Count    int64
}

// WeeklyVariantEvolution buckets transaction classifications by
// floor(block.timestamp/604800) and (protocol, variant).
func (a *Aggregator) WeeklyVariantEvolution(ctx context.Context) ([]WeeklyVariantBucket, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT CAST(b.timestamp / ? AS INTEGER) AS week, c.protocol, c.variant, COUNT(*)
		FROM transaction_classifications c
		JOIN enriched_transactions e ON e.txid = c.txid
		JOIN blocks b ON b.height = e.height
		WHERE b.timestamp IS NOT NULL
		GROUP BY week, c.protocol, c.variant
		ORDER BY week, c.protocol, c.variant
	`, config.WeekBucketSeconds)
	if err != nil {
		return nil, fmt.Errorf("query weekly variant evolution: %w", err)
	}
	defer rows.Close()

	var result []WeeklyVariantBucket
	for rows.Next() {
		var w WeeklyVariantBucket
		if err := rows.Scan(&w.Week, &w.Protocol, &w.Variant, &w.Count); err != nil {
			return nil, fmt.Errorf("scan weekly variant bucket: %w", err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// BurnPatternCount is the total occurrences of one burn pattern type.
type BurnPatternCount struct {
	PatternType models.BurnPatternType
	Count       int64
}

// BurnPatternCounts reports total occurrences of each burn pattern type
// (spec §6 bullet 6).
func (a *Aggregator) BurnPatternCounts(ctx context.Context) ([]BurnPatternCount, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT pattern_type, COUNT(*) FROM burn_patterns GROUP BY pattern_type ORDER BY pattern_type
	`)
	if err != nil {
		return nil, fmt.Errorf("query burn pattern counts: %w", err)
	}
	defer rows.Close()

	var result []BurnPatternCount
	for rows.Next() {
		var c BurnPatternCount
		if err := rows.Scan(&c.PatternType, &c.Count); err != nil {
			return nil, fmt.Errorf("scan burn pattern count: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// BurnPatternSamples returns up to limit burn_patterns rows of patternType,
// for the "samples by type" half of spec §6 bullet 6.
func (a *Aggregator) BurnPatternSamples(ctx context.Context, patternType models.BurnPatternType, limit int) ([]models.BurnPattern, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT txid, vout, pubkey_index, pattern_type, pattern_data, confidence
		FROM burn_patterns
		WHERE pattern_type = ?
		ORDER BY txid, vout, pubkey_index
		LIMIT ?
	`, patternType, limit)
	if err != nil {
		return nil, fmt.Errorf("query burn pattern samples: %w", err)
	}
	defer rows.Close()

	var result []models.BurnPattern
	for rows.Next() {
		var bp models.BurnPattern
		if err := rows.Scan(&bp.Txid, &bp.Vout, &bp.PubkeyIndex, &bp.PatternType, &bp.PatternData, &bp.Confidence); err != nil {
			return nil, fmt.Errorf("scan burn pattern sample: %w", err)
		}
		result = append(result, bp)
	}
	return result, rows.Err()
}

// MultisigConfig is one (M,N) configuration's occurrence count and
// derived data capacity (spec §6 bullet 7).
type MultisigConfig struct {
	RequiredSigs           uint8
	TotalPubkeys           uint8
	Count                  int64
	TotalDataCapacityBytes int64
}

// MultisigConfigurationTable tallies every P2MS output's (required_sigs,
// total_pubkeys) configuration and sums each output's data capacity: 32
// bytes per non-first compressed pubkey, 64 per non-first uncompressed
// one. The first pubkey of a multisig output is conventionally the real
// signer's key and is excluded from capacity.
func (a *Aggregator) MultisigConfigurationTable(ctx context.Context) ([]MultisigConfig, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT required_sigs, total_pubkeys, pubkeys_json FROM p2ms_outputs`)
	if err != nil {
		return nil, fmt.Errorf("query multisig configurations: %w", err)
	}
	defer rows.Close()

	type key struct {
		required, total uint8
	}
	configs := make(map[key]*MultisigConfig)

	for rows.Next() {
		var required, total uint8
		var pubkeysJSON string
		if err := rows.Scan(&required, &total, &pubkeysJSON); err != nil {
			return nil, fmt.Errorf("scan p2ms output row: %w", err)
		}

		var pubkeys []string
		if err := json.Unmarshal([]byte(pubkeysJSON), &pubkeys); err != nil {
			return nil, fmt.Errorf("unmarshal pubkeys_json: %w", err)
		}

		k := key{required, total}
		cfg, ok := configs[k]
		if !ok {
			cfg = &MultisigConfig{RequiredSigs: required, TotalPubkeys: total}
			configs[k] = cfg
		}
		cfg.Count++
		cfg.TotalDataCapacityBytes += dataCapacity(pubkeys)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]MultisigConfig, 0, len(configs))
	for _, cfg := range configs {
		result = append(result, *cfg)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].RequiredSigs != result[j].RequiredSigs {
			return result[i].RequiredSigs < result[j].RequiredSigs
		}
		return result[i].TotalPubkeys < result[j].TotalPubkeys
	})
	return result, nil
}

// dataCapacity sums the data capacity of every pubkey but the first: 32
// bytes for a compressed key (33 raw bytes), 64 for uncompressed (65 raw
// bytes). Anything else (burn keys, malformed data chunks) contributes 0.
func dataCapacity(pubkeys []string) int64 {
	var capacity int64
	for i, pk := range pubkeys {
		if i == 0 {
			continue
		}
		raw, err := hex.DecodeString(pk)
		if err != nil {
			continue
		}
		switch len(raw) {
		case 33:
			capacity += 32
		case 65:
			capacity += 64
		}
	}
	return capacity
}

// DustBucket is one dust-threshold slice's count/value (spec §6 bullet 8).
type DustBucket struct {
	Label      string
	Count      int64
	TotalValue int64
}

// DustThresholdSlices buckets every P2MS output's amount against the
// Bitcoin Core default dust thresholds: 294 sats (segwit) and 546 sats
// (non-segwit).
func (a *Aggregator) DustThresholdSlices(ctx context.Context) ([]DustBucket, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			CASE
				WHEN o.amount < ? THEN 'segwit_dust'
				WHEN o.amount < ? THEN 'non_segwit_dust'
				ELSE 'above_dust_threshold'
			END AS bucket,
			COUNT(*), COALESCE(SUM(o.amount), 0)
		FROM transaction_outputs o
		JOIN p2ms_outputs p ON p.txid = o.txid AND p.vout = o.vout
		GROUP BY bucket
	`, config.DustThresholdSegwitSats, config.DustThresholdNonSegwitSats)
	if err != nil {
		return nil, fmt.Errorf("query dust threshold slices: %w", err)
	}
	defer rows.Close()

	var result []DustBucket
	for rows.Next() {
		var d DustBucket
		if err := rows.Scan(&d.Label, &d.Count, &d.TotalValue); err != nil {
			return nil, fmt.Errorf("scan dust bucket: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
