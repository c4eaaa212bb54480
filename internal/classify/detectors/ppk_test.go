package detectors

import (
	"encoding/hex"
	"testing"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

func buildOpReturnScript(payload []byte) string {
	script := append([]byte{0x6a, byte(len(payload))}, payload...)
	return hex.EncodeToString(script)
}

func TestPPk_MarkerPubkeyAccepted(t *testing.T) {
	payload := []byte("123456")
	for len(payload) < 32 {
		payload = append(payload, 0x00)
	}
	dataKey := "02" + hex.EncodeToString(payload[:32])

	tx := classify.Transaction{
		Enriched: models.EnrichedTransaction{Txid: "tx"},
		P2MSOutputs: []models.P2MSOutput{
			{Txid: "tx", Vout: 0, RequiredSigs: 1, TotalPubkeys: 2, Pubkeys: []string{ppkMarkerPubkey, dataKey}},
		},
	}

	result, ok := NewPPk().Classify(tx)
	if !ok {
		t.Fatal("expected ppk detector to accept marker pubkey")
	}
	if result.Transaction.Protocol != models.ProtocolPPk {
		t.Errorf("expected PPk protocol, got %v", result.Transaction.Protocol)
	}
}

func TestPPk_OpReturnProfile(t *testing.T) {
	scriptHex := buildOpReturnScript([]byte(`RT{"name":"alice"}`))
	tx := classify.Transaction{
		Enriched: models.EnrichedTransaction{Txid: "tx"},
		AllOutputs: []models.TransactionOutput{
			{Txid: "tx", Vout: 0, ScriptType: models.ScriptOpReturn, ScriptHex: scriptHex},
		},
		P2MSOutputs: []models.P2MSOutput{
			{Txid: "tx", Vout: 1, RequiredSigs: 1, TotalPubkeys: 2, Pubkeys: []string{testValidKey1, testValidKey2}},
		},
	}

	result, ok := NewPPk().Classify(tx)
	if !ok {
		t.Fatal("expected ppk detector to accept RT-prefixed OP_RETURN payload")
	}
	if *result.Transaction.Variant != models.VariantPPkProfile {
		t.Errorf("expected PPkProfile, got %v", *result.Transaction.Variant)
	}
}

func TestPPk_RejectsUnrelatedTransaction(t *testing.T) {
	tx := classify.Transaction{
		Enriched: models.EnrichedTransaction{Txid: "tx"},
		P2MSOutputs: []models.P2MSOutput{
			{Txid: "tx", Vout: 0, RequiredSigs: 1, TotalPubkeys: 2, Pubkeys: []string{testValidKey1, testValidKey2}},
		},
	}
	if _, ok := NewPPk().Classify(tx); ok {
		t.Fatal("expected ppk detector to reject a transaction with neither signal")
	}
}
