package detectors

import (
	"encoding/hex"
	"testing"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

func TestAsciiIdentifier_MatchesAllowlistToken(t *testing.T) {
	payload := []byte("xxTB0001xx")
	for len(payload) < 32 {
		payload = append(payload, 0x00)
	}
	key := "02" + hex.EncodeToString(payload[:32])

	tx := classify.Transaction{
		Enriched: models.EnrichedTransaction{Txid: "tx"},
		P2MSOutputs: []models.P2MSOutput{
			{Txid: "tx", Vout: 0, RequiredSigs: 1, TotalPubkeys: 1, Pubkeys: []string{key}},
		},
	}

	result, ok := NewAsciiIdentifier().Classify(tx)
	if !ok {
		t.Fatal("expected ascii identifier detector to accept allowlisted token")
	}
	if *result.Transaction.Variant != models.VariantAsciiIdentifier {
		t.Errorf("expected AsciiIdentifier variant, got %v", *result.Transaction.Variant)
	}
}

func TestAsciiIdentifier_RejectsNonAllowlistedText(t *testing.T) {
	payload := []byte("RANDOM_UNLISTED_TEXT")
	for len(payload) < 32 {
		payload = append(payload, 0x00)
	}
	key := "02" + hex.EncodeToString(payload[:32])

	tx := classify.Transaction{
		Enriched: models.EnrichedTransaction{Txid: "tx"},
		P2MSOutputs: []models.P2MSOutput{
			{Txid: "tx", Vout: 0, RequiredSigs: 1, TotalPubkeys: 1, Pubkeys: []string{key}},
		},
	}

	if _, ok := NewAsciiIdentifier().Classify(tx); ok {
		t.Fatal("expected ascii identifier detector to reject non-allowlisted printable bytes")
	}
}
