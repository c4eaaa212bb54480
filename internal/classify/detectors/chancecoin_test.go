package detectors

import (
	"encoding/hex"
	"testing"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

func buildChancecoinOutput(msgType byte) models.P2MSOutput {
	payload := append([]byte(chancecoinMagic), msgType)
	for len(payload) < 64 {
		payload = append(payload, 0x00)
	}
	pk1 := "02" + hex.EncodeToString(payload[:32])
	pk2 := "02" + hex.EncodeToString(payload[32:64])
	return models.P2MSOutput{Txid: "tx", Vout: 0, RequiredSigs: 1, TotalPubkeys: 2, Pubkeys: []string{pk1, pk2}}
}

func TestChancecoin_TypeMapping(t *testing.T) {
	cases := map[byte]models.ProtocolVariant{
		0: models.VariantChancecoinSend,
		1: models.VariantChancecoinOrder,
		2: models.VariantChancecoinBTCPay,
		3: models.VariantChancecoinRoll,
		4: models.VariantChancecoinBet,
		5: models.VariantChancecoinCancel,
	}
	for msgType, want := range cases {
		tx := classify.Transaction{
			Enriched:    models.EnrichedTransaction{Txid: "tx"},
			P2MSOutputs: []models.P2MSOutput{buildChancecoinOutput(msgType)},
		}
		result, ok := NewChancecoin().Classify(tx)
		if !ok {
			t.Fatalf("type %d: expected chancecoin detector to accept", msgType)
		}
		if *result.Transaction.Variant != want {
			t.Errorf("type %d: got %v, want %v", msgType, *result.Transaction.Variant, want)
		}
	}
}

func TestChancecoin_RejectsWithoutMagic(t *testing.T) {
	tx := classify.Transaction{
		Enriched: models.EnrichedTransaction{Txid: "tx"},
		P2MSOutputs: []models.P2MSOutput{
			{Txid: "tx", Vout: 0, RequiredSigs: 1, TotalPubkeys: 2, Pubkeys: []string{testValidKey1, testValidKey2}},
		},
	}
	if _, ok := NewChancecoin().Classify(tx); ok {
		t.Fatal("expected chancecoin detector to reject payload without CHANCECO prefix")
	}
}
