package detectors

import (
	"testing"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

func TestOpReturnSignalled_ClipperzPrefix(t *testing.T) {
	scriptHex := buildOpReturnScript([]byte("CLIPPERZ:somepayload"))
	tx := classify.Transaction{
		Enriched: models.EnrichedTransaction{Txid: "tx"},
		AllOutputs: []models.TransactionOutput{
			{Txid: "tx", Vout: 0, ScriptType: models.ScriptOpReturn, ScriptHex: scriptHex},
		},
		P2MSOutputs: []models.P2MSOutput{
			{Txid: "tx", Vout: 1, RequiredSigs: 1, TotalPubkeys: 2, Pubkeys: []string{testValidKey1, testValidKey2}},
		},
	}

	result, ok := NewOpReturnSignalled().Classify(tx)
	if !ok {
		t.Fatal("expected op_return detector to accept CLIPPERZ marker")
	}
	if *result.Transaction.Variant != models.VariantOpReturnClipperz {
		t.Errorf("expected OpReturnClipperz, got %v", *result.Transaction.Variant)
	}
	if !result.Outputs[0].ProtocolSignatureFound {
		t.Error("expected protocol_signature_found=true on the P2MS output")
	}
}

func TestOpReturnSignalled_RejectsNoOpReturn(t *testing.T) {
	tx := classify.Transaction{
		Enriched: models.EnrichedTransaction{Txid: "tx"},
		P2MSOutputs: []models.P2MSOutput{
			{Txid: "tx", Vout: 0, RequiredSigs: 1, TotalPubkeys: 2, Pubkeys: []string{testValidKey1, testValidKey2}},
		},
	}
	if _, ok := NewOpReturnSignalled().Classify(tx); ok {
		t.Fatal("expected op_return detector to reject when no OP_RETURN output exists")
	}
}
