package detectors

import (
	"testing"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

func TestDataStorage_BitcoinWhitepaperTxid(t *testing.T) {
	tx := classify.Transaction{
		Enriched: models.EnrichedTransaction{Txid: bitcoinWhitepaperTxid, Height: 230009},
		P2MSOutputs: []models.P2MSOutput{
			{Txid: bitcoinWhitepaperTxid, Vout: 0, RequiredSigs: 1, TotalPubkeys: 2, Pubkeys: []string{testValidKey1, testValidKey2}},
		},
	}

	result, ok := NewDataStorage().Classify(tx)
	if !ok {
		t.Fatal("expected data storage detector to accept the whitepaper txid")
	}
	if *result.Transaction.Variant != models.VariantDataStorageBitcoinWhitepaper {
		t.Errorf("expected DataStorageBitcoinWhitepaper, got %v", *result.Transaction.Variant)
	}
}

func TestDataStorage_ProofOfBurn(t *testing.T) {
	tx := classify.Transaction{
		Enriched: models.EnrichedTransaction{Txid: "tx", Height: 500000},
		P2MSOutputs: []models.P2MSOutput{
			{Txid: "tx", Vout: 0, RequiredSigs: 1, TotalPubkeys: 2, Pubkeys: []string{proofOfBurnKey, testValidKey1}},
		},
	}

	result, ok := NewDataStorage().Classify(tx)
	if !ok {
		t.Fatal("expected data storage detector to accept proof-of-burn pattern")
	}
	if *result.Transaction.Variant != models.VariantDataStorageProofOfBurn {
		t.Errorf("expected DataStorageProofOfBurn, got %v", *result.Transaction.Variant)
	}
}

func TestDataStorage_RejectsOrdinaryTransaction(t *testing.T) {
	tx := classify.Transaction{
		Enriched: models.EnrichedTransaction{Txid: "tx", Height: 500000},
		P2MSOutputs: []models.P2MSOutput{
			{Txid: "tx", Vout: 0, RequiredSigs: 1, TotalPubkeys: 2, Pubkeys: []string{testValidKey1, testValidKey2}},
		},
	}
	if _, ok := NewDataStorage().Classify(tx); ok {
		t.Fatal("expected data storage detector to reject an unremarkable transaction")
	}
}

const proofOfBurnKey = "02" + "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
