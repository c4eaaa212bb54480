package aggregate_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/deadmanoz/p2ms-analyzer/internal/aggregate"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
	"github.com/deadmanoz/p2ms-analyzer/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.RunMigrations(); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64   { return &v }

func variantPtr(v models.ProtocolVariant) *models.ProtocolVariant { return &v }

// multisigMetadata builds the JSON blob InsertTransactionOutputBatch and
// EnrichedTransactionsBatch expect on a ScriptMultisig output's Metadata.
func multisigMetadata(required, total uint8, pubkeys []string) json.RawMessage {
	b, _ := json.Marshal(struct {
		RequiredSigs uint8    `json:"required_sigs"`
		TotalPubkeys uint8    `json:"total_pubkeys"`
		Pubkeys      []string `json:"pubkeys"`
	}{required, total, pubkeys})
	return b
}

// compressedPubkey is a well-formed 33-byte (66 hex char) compressed key.
const compressedPubkey = "021111111111111111111111111111111111111111111111111111111111111111"

// uncompressedPubkey is a well-formed 65-byte (130 hex char) uncompressed key.
const uncompressedPubkey = "0422222222222222222222222222222222222222222222222222222222222222222222222222222222222222222222222222222222222222222222222222222222"

func multisigOutput(txid string, vout uint32, height uint32, amount uint64, required, total uint8, pubkeys []string) models.TransactionOutput {
	return models.TransactionOutput{
		Txid:       txid,
		Vout:       vout,
		Height:     height,
		Amount:     amount,
		ScriptHex:  "51ae",
		ScriptType: models.ScriptMultisig,
		ScriptSize: 71,
		Metadata:   multisigMetadata(required, total, pubkeys),
	}
}

func TestUTXOP2MSTotals(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// tx1:0 stays unspent (Stage 1 seed, never touched by an enrichment upsert).
	if err := st.InsertTransactionOutputBatch(ctx, []models.TransactionOutput{
		multisigOutput("tx1", 0, 100, 1000, 1, 1, []string{compressedPubkey}),
	}); err != nil {
		t.Fatalf("seed tx1: %v", err)
	}
	if err := st.InsertClassificationResultsBatch(ctx, []store.ClassificationResult{{
		Transaction: models.TransactionClassification{
			Txid: "tx1", Protocol: models.ProtocolBitcoinStamps, Variant: variantPtr(models.VariantStampsSRC20),
			ProtocolSignatureFound: true, ClassificationMethod: "signature",
		},
	}}); err != nil {
		t.Fatalf("classify tx1: %v", err)
	}

	// tx2:0 is enriched fresh (no prior Stage 1 seed) so it lands is_spent=1.
	if err := st.EnrichedTransactionsBatch(ctx, []store.EnrichmentItem{{
		Tx:      models.EnrichedTransaction{Txid: "tx2", Height: 100, TotalP2MSAmount: 2000},
		Outputs: []models.TransactionOutput{multisigOutput("tx2", 0, 100, 2000, 1, 1, []string{compressedPubkey})},
	}}); err != nil {
		t.Fatalf("seed tx2: %v", err)
	}

	agg := aggregate.New(st)
	overall, byProtocol, err := agg.UTXOP2MSTotals(ctx)
	if err != nil {
		t.Fatalf("UTXOP2MSTotals: %v", err)
	}
	if overall.Count != 1 || overall.TotalValue != 1000 {
		t.Errorf("expected 1 unspent output worth 1000, got %+v", overall)
	}
	if len(byProtocol) != 1 || byProtocol[0].Protocol != models.ProtocolBitcoinStamps || byProtocol[0].Count != 1 {
		t.Errorf("expected one BitcoinStamps row, got %+v", byProtocol)
	}
}

func TestProtocolVariantBreakdown(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	results := []store.ClassificationResult{
		{Transaction: models.TransactionClassification{Txid: "tx1", Protocol: models.ProtocolBitcoinStamps, Variant: variantPtr(models.VariantStampsSRC20), ClassificationMethod: "m"}},
		{Transaction: models.TransactionClassification{Txid: "tx2", Protocol: models.ProtocolBitcoinStamps, Variant: variantPtr(models.VariantStampsSRC20), ClassificationMethod: "m"}},
		{Transaction: models.TransactionClassification{Txid: "tx3", Protocol: models.ProtocolUnknown, Variant: variantPtr(models.VariantUnknown), ClassificationMethod: "m"}},
		{Transaction: models.TransactionClassification{Txid: "tx4", Protocol: models.ProtocolUnknown, Variant: variantPtr(models.VariantUnknown), ClassificationMethod: "m"}},
	}
	if err := st.InsertClassificationResultsBatch(ctx, results); err != nil {
		t.Fatalf("seed classifications: %v", err)
	}

	agg := aggregate.New(st)
	got, err := agg.ProtocolVariantBreakdown(ctx)
	if err != nil {
		t.Fatalf("ProtocolVariantBreakdown: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 (protocol,variant) rows, got %d: %+v", len(got), got)
	}
	for _, row := range got {
		if row.Count != 2 || row.Percentage != 50 {
			t.Errorf("expected each row at count=2/percentage=50, got %+v", row)
		}
	}
}

func TestContentTypeDistribution_SeparatesValidAndInvalidNull(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	results := []store.ClassificationResult{
		{Transaction: models.TransactionClassification{
			Txid: "tx1", Protocol: models.ProtocolBitcoinStamps, Variant: variantPtr(models.VariantStampsSRC20),
			ProtocolSignatureFound: true, ClassificationMethod: "m", ContentType: strPtr("image/png"),
		}},
		{Transaction: models.TransactionClassification{
			Txid: "tx2", Protocol: models.ProtocolLikelyLegitimateMultisig, Variant: variantPtr(models.VariantLegitimateMultisig),
			ProtocolSignatureFound: false, ClassificationMethod: "m",
		}},
		{Transaction: models.TransactionClassification{
			Txid: "tx3", Protocol: models.ProtocolBitcoinStamps, Variant: variantPtr(models.VariantStampsCompressed),
			ProtocolSignatureFound: true, ClassificationMethod: "m",
		}},
	}
	if err := st.InsertClassificationResultsBatch(ctx, results); err != nil {
		t.Fatalf("seed classifications: %v", err)
	}

	agg := aggregate.New(st)
	dist, err := agg.ContentTypeDistribution(ctx)
	if err != nil {
		t.Fatalf("ContentTypeDistribution: %v", err)
	}
	if len(dist.ValidNull) != 1 || dist.ValidNull[0].Protocol != models.ProtocolLikelyLegitimateMultisig {
		t.Errorf("expected tx2's LegitimateMultisig NULL to be valid-null, got %+v", dist.ValidNull)
	}
	if len(dist.InvalidNull) != 1 || dist.InvalidNull[0].Protocol != models.ProtocolBitcoinStamps {
		t.Errorf("expected tx3's signature-found NULL to be invalid-null, got %+v", dist.InvalidNull)
	}
	if len(dist.ByContentType) != 3 {
		t.Errorf("expected 3 total rows, got %d", len(dist.ByContentType))
	}
}

func TestSpendabilityByProtocolAndReason(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.InsertTransactionOutputBatch(ctx, []models.TransactionOutput{
		multisigOutput("tx1", 0, 100, 1000, 1, 1, []string{compressedPubkey}),
		multisigOutput("tx1", 1, 100, 2000, 1, 1, []string{compressedPubkey}),
	}); err != nil {
		t.Fatalf("seed outputs: %v", err)
	}
	if err := st.InsertClassificationResultsBatch(ctx, []store.ClassificationResult{{
		Transaction: models.TransactionClassification{Txid: "tx1", Protocol: models.ProtocolLikelyLegitimateMultisig, Variant: variantPtr(models.VariantLegitimateMultisig), ClassificationMethod: "m"},
		Outputs: []models.P2MSOutputClassification{
			{Txid: "tx1", Vout: 0, Protocol: models.ProtocolLikelyLegitimateMultisig, Variant: variantPtr(models.VariantLegitimateMultisig), IsSpendable: true, SpendabilityReason: models.ReasonAllValidECPoints, RealPubkeyCount: 1},
			{Txid: "tx1", Vout: 1, Protocol: models.ProtocolLikelyLegitimateMultisig, Variant: variantPtr(models.VariantLegitimateMultisig), IsSpendable: false, SpendabilityReason: models.ReasonAllBurnKeys, BurnKeyCount: 1},
		},
	}}); err != nil {
		t.Fatalf("seed classification: %v", err)
	}

	agg := aggregate.New(st)
	counts, err := agg.SpendabilityByProtocolAndReason(ctx)
	if err != nil {
		t.Fatalf("SpendabilityByProtocolAndReason: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 reason rows, got %+v", counts)
	}

	summary, err := agg.TransactionLevelSpendability(ctx)
	if err != nil {
		t.Fatalf("TransactionLevelSpendability: %v", err)
	}
	if summary.AnySpendableCount != 1 || summary.NoneSpendableCount != 0 {
		t.Errorf("expected tx1 counted as any-spendable (MAX across its two outputs), got %+v", summary)
	}
}

func TestWeeklyFeeAndSpendability(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.EnrichedTransactionsBatch(ctx, []store.EnrichmentItem{
		{
			Tx:      models.EnrichedTransaction{Txid: "tx1", Height: 100, TransactionFee: 1000, FeePerByte: 2.0},
			Outputs: []models.TransactionOutput{multisigOutput("tx1", 0, 100, 1000, 1, 1, []string{compressedPubkey})},
		},
		{
			Tx:      models.EnrichedTransaction{Txid: "tx2", Height: 200, TransactionFee: 3000, FeePerByte: 4.0},
			Outputs: []models.TransactionOutput{multisigOutput("tx2", 0, 200, 1000, 1, 1, []string{compressedPubkey})},
		},
	}); err != nil {
		t.Fatalf("seed enrichment: %v", err)
	}
	if err := st.UpdateBlocksBatch(ctx, []models.Block{
		{Height: 100, BlockHash: strPtr("h100"), Timestamp: i64Ptr(0)},
		{Height: 200, BlockHash: strPtr("h200"), Timestamp: i64Ptr(604800)}, // exactly one week later
	}); err != nil {
		t.Fatalf("backfill blocks: %v", err)
	}
	if err := st.InsertClassificationResultsBatch(ctx, []store.ClassificationResult{
		{
			Transaction: models.TransactionClassification{Txid: "tx1", Protocol: models.ProtocolLikelyLegitimateMultisig, Variant: variantPtr(models.VariantLegitimateMultisig), ClassificationMethod: "m"},
			Outputs:     []models.P2MSOutputClassification{{Txid: "tx1", Vout: 0, Protocol: models.ProtocolLikelyLegitimateMultisig, Variant: variantPtr(models.VariantLegitimateMultisig), IsSpendable: true, SpendabilityReason: models.ReasonAllValidECPoints}},
		},
		{
			Transaction: models.TransactionClassification{Txid: "tx2", Protocol: models.ProtocolBitcoinStamps, Variant: variantPtr(models.VariantStampsSRC20), ClassificationMethod: "m"},
			Outputs:     []models.P2MSOutputClassification{{Txid: "tx2", Vout: 0, Protocol: models.ProtocolBitcoinStamps, Variant: variantPtr(models.VariantStampsSRC20), IsSpendable: false, SpendabilityReason: models.ReasonAllDataKeys}},
		},
	}); err != nil {
		t.Fatalf("seed classifications: %v", err)
	}

	agg := aggregate.New(st)
	buckets, err := agg.WeeklyFeeAndSpendability(ctx)
	if err != nil {
		t.Fatalf("WeeklyFeeAndSpendability: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 distinct weekly buckets, got %+v", buckets)
	}
	if buckets[0].Week != 0 || buckets[0].TotalFee != 1000 || buckets[0].SpendableCount != 1 {
		t.Errorf("unexpected week 0 bucket: %+v", buckets[0])
	}
	if buckets[1].Week != 1 || buckets[1].TotalFee != 3000 || buckets[1].NotSpendableCount != 1 {
		t.Errorf("unexpected week 1 bucket: %+v", buckets[1])
	}

	variantBuckets, err := agg.WeeklyVariantEvolution(ctx)
	if err != nil {
		t.Fatalf("WeeklyVariantEvolution: %v", err)
	}
	if len(variantBuckets) != 2 {
		t.Fatalf("expected 2 weekly variant rows, got %+v", variantBuckets)
	}
}

func TestBurnPatternCountsAndSamples(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.EnrichedTransactionsBatch(ctx, []store.EnrichmentItem{{
		Tx:      models.EnrichedTransaction{Txid: "tx1", Height: 100},
		Outputs: []models.TransactionOutput{multisigOutput("tx1", 0, 100, 1000, 2, 3, []string{compressedPubkey, compressedPubkey, compressedPubkey})},
		BurnPatterns: []models.BurnPattern{
			{Txid: "tx1", Vout: 0, PubkeyIndex: 1, PatternType: models.BurnStamps22, PatternData: "22" + compressedPubkey[2:], Confidence: models.ConfidenceHigh},
			{Txid: "tx1", Vout: 0, PubkeyIndex: 2, PatternType: models.BurnStamps22, PatternData: "22" + compressedPubkey[2:], Confidence: models.ConfidenceHigh},
		},
	}}); err != nil {
		t.Fatalf("seed burn patterns: %v", err)
	}

	agg := aggregate.New(st)
	counts, err := agg.BurnPatternCounts(ctx)
	if err != nil {
		t.Fatalf("BurnPatternCounts: %v", err)
	}
	if len(counts) != 1 || counts[0].Count != 2 {
		t.Fatalf("expected 2 Stamps22 burn patterns, got %+v", counts)
	}

	samples, err := agg.BurnPatternSamples(ctx, models.BurnStamps22, 10)
	if err != nil {
		t.Fatalf("BurnPatternSamples: %v", err)
	}
	if len(samples) != 2 {
		t.Errorf("expected 2 samples, got %d", len(samples))
	}
}

func TestMultisigConfigurationTable_DataCapacity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.InsertTransactionOutputBatch(ctx, []models.TransactionOutput{
		// 1-of-2: first key excluded, second is a 33-byte compressed key -> 32 bytes.
		multisigOutput("tx1", 0, 100, 1000, 1, 2, []string{compressedPubkey, compressedPubkey}),
		// 1-of-2: first key excluded, second is a 65-byte uncompressed key -> 64 bytes.
		multisigOutput("tx2", 0, 100, 1000, 1, 2, []string{compressedPubkey, uncompressedPubkey}),
		// another 1-of-2 compressed pair, same configuration bucket as tx1.
		multisigOutput("tx3", 0, 100, 1000, 1, 2, []string{compressedPubkey, compressedPubkey}),
	}); err != nil {
		t.Fatalf("seed p2ms outputs: %v", err)
	}

	agg := aggregate.New(st)
	configs, err := agg.MultisigConfigurationTable(ctx)
	if err != nil {
		t.Fatalf("MultisigConfigurationTable: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected one (1,2) configuration bucket, got %+v", configs)
	}
	cfg := configs[0]
	if cfg.Count != 3 {
		t.Errorf("expected count=3, got %d", cfg.Count)
	}
	if cfg.TotalDataCapacityBytes != 32+64+32 {
		t.Errorf("expected data capacity 128, got %d", cfg.TotalDataCapacityBytes)
	}
}

func TestDustThresholdSlices(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.InsertTransactionOutputBatch(ctx, []models.TransactionOutput{
		multisigOutput("tx1", 0, 100, 200, 1, 1, []string{compressedPubkey}),  // segwit dust
		multisigOutput("tx2", 0, 100, 500, 1, 1, []string{compressedPubkey}),  // non-segwit dust
		multisigOutput("tx3", 0, 100, 2000, 1, 1, []string{compressedPubkey}), // above threshold
	}); err != nil {
		t.Fatalf("seed outputs: %v", err)
	}

	agg := aggregate.New(st)
	buckets, err := agg.DustThresholdSlices(ctx)
	if err != nil {
		t.Fatalf("DustThresholdSlices: %v", err)
	}
	byLabel := make(map[string]int64)
	for _, b := range buckets {
		byLabel[b.Label] = b.Count
	}
	if byLabel["segwit_dust"] != 1 || byLabel["non_segwit_dust"] != 1 || byLabel["above_dust_threshold"] != 1 {
		t.Errorf("expected one output per bucket, got %+v", byLabel)
	}
}
