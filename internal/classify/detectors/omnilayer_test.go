package detectors

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

func addr(s string) *string { return &s }

func buildOmniOutput(sender string, outputIndex int, msgType uint32) models.P2MSOutput {
	payload := []byte("omni")
	typeBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(typeBytes, msgType)
	payload = append(payload, typeBytes...)
	for len(payload) < 64 {
		payload = append(payload, 0x00)
	}

	keystream := omniKeystream(sender, outputIndex, len(payload))
	encoded := make([]byte, len(payload))
	for i := range payload {
		encoded[i] = payload[i] ^ keystream[i]
	}

	pk1 := "02" + hex.EncodeToString(encoded[:32])
	pk2 := "02" + hex.EncodeToString(encoded[32:64])
	return models.P2MSOutput{Txid: "tx", Vout: uint32(outputIndex), RequiredSigs: 1, TotalPubkeys: 2, Pubkeys: []string{pk1, pk2}}
}

func TestOmniLayer_AcceptsSimpleSend(t *testing.T) {
	sender := "1SenderAddressExample00000000000"
	out := buildOmniOutput(sender, 0, 0)
	tx := classify.Transaction{
		Enriched:    models.EnrichedTransaction{Txid: "tx"},
		P2MSOutputs: []models.P2MSOutput{out},
		AllOutputs: []models.TransactionOutput{
			{Txid: "tx", Vout: 1, Address: addr("1EXoDusjGwvnjZUyKkxZ4UHEf77z6A5S4P")},
		},
		SenderAddress: sender,
	}

	result, ok := NewOmniLayer().Classify(tx)
	if !ok {
		t.Fatal("expected omni detector to accept")
	}
	if *result.Transaction.Variant != models.VariantOmniTransfer {
		t.Errorf("expected OmniTransfer, got %v", *result.Transaction.Variant)
	}
}

func TestOmniLayer_RejectsWithoutExodusOutput(t *testing.T) {
	sender := "1SenderAddressExample00000000000"
	out := buildOmniOutput(sender, 0, 0)
	tx := classify.Transaction{
		Enriched:    models.EnrichedTransaction{Txid: "tx"},
		P2MSOutputs: []models.P2MSOutput{out},
		AllOutputs:  []models.TransactionOutput{{Txid: "tx", Vout: 1, Address: addr("1SomeOtherAddress")}},
		Inputs:      []models.TransactionInput{{Txid: "tx", PrevTxid: "prev", Value: 100000, SourceAddress: addr(sender)}},
	}
	if _, ok := NewOmniLayer().Classify(tx); ok {
		t.Fatal("expected omni detector to reject without an exodus output")
	}
}

func TestOmniLayer_FailedDeobfuscationOnMissingSender(t *testing.T) {
	out := buildOmniOutput("anything", 0, 0)
	tx := classify.Transaction{
		Enriched:    models.EnrichedTransaction{Txid: "tx"},
		P2MSOutputs: []models.P2MSOutput{out},
		AllOutputs: []models.TransactionOutput{
			{Txid: "tx", Vout: 1, Address: addr("1EXoDusjGwvnjZUyKkxZ4UHEf77z6A5S4P")},
		},
	}

	result, ok := NewOmniLayer().Classify(tx)
	if !ok {
		t.Fatal("expected omni detector to accept even on failed deobfuscation")
	}
	if *result.Transaction.Variant != models.VariantOmniFailedDeobfuscation {
		t.Errorf("expected OmniFailedDeobfuscation, got %v", *result.Transaction.Variant)
	}
	if result.Transaction.ContentType != nil {
		t.Error("expected nil content type on failed deobfuscation")
	}
}
