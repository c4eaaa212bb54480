package detectors

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

const stampsBurnKeyHex = "022222222222222222222222222222222222222222222222222222222222222222"

// buildStampsOutput builds a (M=1,N=3) P2MS output whose third pubkey is a
// known Stamps burn key and whose first two pubkeys' concatenated
// X-coordinate bytes, prefixed with "STAMP:" and base64-encoded, carry
// payload.
func buildStampsOutput(t *testing.T, payload string) models.P2MSOutput {
	t.Helper()
	encoded := "STAMP:" + base64.StdEncoding.EncodeToString([]byte(payload))
	data := []byte(encoded)
	for len(data) < 64 {
		data = append(data, 0x00)
	}
	pk1 := "02" + hex.EncodeToString(data[:32])
	pk2 := "02" + hex.EncodeToString(data[32:64])
	return models.P2MSOutput{
		Txid: "tx", Vout: 0, RequiredSigs: 1, TotalPubkeys: 3,
		Pubkeys: []string{pk1, pk2, stampsBurnKeyHex},
	}
}

func TestStamps_SRC20(t *testing.T) {
	out := buildStampsOutput(t, `{"p":"src-20","op":"mint","tick":"KEVI"}`)
	tx := classify.Transaction{
		Enriched:    models.EnrichedTransaction{Txid: "tx"},
		P2MSOutputs: []models.P2MSOutput{out},
	}

	result, ok := NewStamps().Classify(tx)
	if !ok {
		t.Fatal("expected stamps detector to accept")
	}
	if *result.Transaction.Variant != models.VariantStampsSRC20 {
		t.Errorf("expected StampsSRC20, got %v", *result.Transaction.Variant)
	}
	if *result.Transaction.ContentType != "application/json" {
		t.Errorf("expected application/json content type, got %v", *result.Transaction.ContentType)
	}
	if *result.Transaction.TransportProtocol != "Pure Bitcoin Stamps" {
		t.Errorf("expected Pure Bitcoin Stamps transport, got %v", *result.Transaction.TransportProtocol)
	}
	if len(result.Outputs) != 1 || result.Outputs[0].BurnKeyCount != 1 {
		t.Errorf("expected one output classification with burn_key_count=1, got %+v", result.Outputs)
	}
}

const testValidKey1 = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
const testValidKey2 = "02c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5"

func TestStamps_RejectsNonStampsShapedOutput(t *testing.T) {
	tx := classify.Transaction{
		Enriched: models.EnrichedTransaction{Txid: "tx"},
		P2MSOutputs: []models.P2MSOutput{
			{Txid: "tx", Vout: 0, RequiredSigs: 2, TotalPubkeys: 3, Pubkeys: []string{
				testValidKey1, testValidKey2, testValidKey1,
			}},
		},
	}
	if _, ok := NewStamps().Classify(tx); ok {
		t.Fatal("expected stamps detector to reject a 2-of-3 output with no burn key")
	}
}

func TestStamps_UnknownOnEmptyPayload(t *testing.T) {
	out := models.P2MSOutput{
		Txid: "tx", Vout: 0, RequiredSigs: 1, TotalPubkeys: 3,
		Pubkeys: []string{
			"02" + hex64Zeroes(), "02" + hex64Zeroes(), stampsBurnKeyHex,
		},
	}
	tx := classify.Transaction{
		Enriched:    models.EnrichedTransaction{Txid: "tx"},
		P2MSOutputs: []models.P2MSOutput{out},
	}

	result, ok := NewStamps().Classify(tx)
	if !ok {
		t.Fatal("expected stamps detector to accept a stamps-shaped output even with unrecognizable content")
	}
	if *result.Transaction.Variant != models.VariantStampsUnknown {
		t.Errorf("expected StampsUnknown, got %v", *result.Transaction.Variant)
	}
	if result.Transaction.ContentType != nil {
		t.Errorf("expected nil content type for StampsUnknown, got %v", *result.Transaction.ContentType)
	}
}

func hex64Zeroes() string {
	out := ""
	for i := 0; i < 32; i++ {
		out += "00"
	}
	return out
}
