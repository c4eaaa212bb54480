package burn

import (
	"strings"
	"testing"

	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

func TestIsStampsBurnKey(t *testing.T) {
	for _, k := range stampsBurnKeys {
		if !IsStampsBurnKey(k) {
			t.Errorf("expected %s to be recognised as a Stamps burn key", k)
		}
		if !IsStampsBurnKey(strings.ToUpper(k)) {
			t.Errorf("expected uppercase %s to be recognised", k)
		}
	}
	normal := "02b3622bf4017bdfe317c58aed5f4c753f206b7db896046fa7d774bbc4bf7f8dc2"
	if IsStampsBurnKey(normal) {
		t.Errorf("normal key %s incorrectly flagged as a burn key", normal)
	}
}

func TestIsProofOfBurnKey(t *testing.T) {
	allF64 := strings.Repeat("f", 64)
	cases := map[string]bool{
		"02" + allF64:                   true,
		"03" + allF64:                   true,
		"04" + allF64 + allF64:          true,
		"02" + strings.Repeat("f", 63) + "00": false,
	}
	for key, want := range cases {
		if got := IsProofOfBurnKey(key); got != want {
			t.Errorf("IsProofOfBurnKey(%s) = %v, want %v", key, got, want)
		}
	}
}

func TestClassifyStampsBurn(t *testing.T) {
	cases := []struct {
		key  string
		want models.BurnPatternType
		ok   bool
	}{
		{stampsBurnKeys[0], models.BurnStamps22, true},
		{stampsBurnKeys[1], models.BurnStamps33, true},
		{stampsBurnKeys[2], models.BurnStamps0202, true},
		{stampsBurnKeys[3], models.BurnStamps0303, true},
		{stampsBurnKeys[4], models.BurnStamps0303, true},
		{"02b3622bf4017bdfe317c58aed5f4c753f206b7db896046fa7d774bbc4bf7f8dc2", "", false},
	}
	for _, c := range cases {
		got, ok := ClassifyStampsBurn(c.key)
		if ok != c.ok || got != c.want {
			t.Errorf("ClassifyStampsBurn(%s) = (%v, %v), want (%v, %v)", c.key, got, ok, c.want, c.ok)
		}
	}
}

func TestClassifyBurnPattern(t *testing.T) {
	proofOfBurn := "02" + strings.Repeat("f", 64)
	suspicious := "02" + strings.Repeat("0", 64)
	normal := "02b3622bf4017bdfe317c58aed5f4c753f206b7db896046fa7d774bbc4bf7f8dc2"

	if got, ok := ClassifyBurnPattern(stampsBurnKeys[0]); !ok || got != models.BurnStamps22 {
		t.Errorf("expected Stamps22 for %s, got (%v, %v)", stampsBurnKeys[0], got, ok)
	}
	if got, ok := ClassifyBurnPattern(proofOfBurn); !ok || got != models.BurnProofOfBurn {
		t.Errorf("expected ProofOfBurn, got (%v, %v)", got, ok)
	}
	if got, ok := ClassifyBurnPattern(suspicious); !ok || got != models.BurnUnknown {
		t.Errorf("expected UnknownBurn, got (%v, %v)", got, ok)
	}
	if _, ok := ClassifyBurnPattern(normal); ok {
		t.Errorf("normal key incorrectly classified as a burn pattern")
	}
}

func TestIsSuspiciousPattern(t *testing.T) {
	if !isSuspiciousPattern("02" + strings.Repeat("0", 64)) {
		t.Error("all-zeros compressed key should be suspicious")
	}
	if !isSuspiciousPattern("02" + strings.Repeat("1", 64)) {
		t.Error("all-ones compressed key should be suspicious")
	}
	if !isSuspiciousPattern("03" + strings.Repeat("4", 64)) {
		t.Error("all-fours compressed key should be suspicious")
	}
	if isSuspiciousPattern("02" + strings.Repeat("f", 64)) {
		t.Error("proof-of-burn pattern must not double-classify as suspicious")
	}
	if isSuspiciousPattern(stampsBurnKeys[0]) {
		t.Error("known Stamps burn key must not double-classify as suspicious")
	}
	if isSuspiciousPattern(stampsBurnKeys[1]) {
		t.Error("known Stamps burn key must not double-classify as suspicious")
	}
	counterpartyLike := "1" + strings.Repeat("0", 65)
	if isSuspiciousPattern(counterpartyLike) {
		t.Error("wrong-prefix key must not be flagged suspicious")
	}
	if isSuspiciousPattern("02b3622bf4017bdfe317c58aed5f4c753f206b7db896046fa7d774bbc4bf7f8dc2") {
		t.Error("normal random-looking key must not be flagged suspicious")
	}
	if isSuspiciousPattern("short_key") {
		t.Error("short key must not be flagged suspicious")
	}
}

func TestDetectBurnPatterns(t *testing.T) {
	outputs := []models.P2MSOutput{
		{
			Txid: "tx1",
			Vout: 0,
			Pubkeys: []string{
				stampsBurnKeys[0],
				"02b3622bf4017bdfe317c58aed5f4c753f206b7db896046fa7d774bbc4bf7f8dc2",
				stampsBurnKeys[1],
			},
		},
	}
	patterns := DetectBurnPatterns(outputs)
	if len(patterns) != 2 {
		t.Fatalf("expected 2 burn patterns, got %d", len(patterns))
	}
	if patterns[0].PubkeyIndex != 0 || patterns[0].PatternType != models.BurnStamps22 {
		t.Errorf("unexpected first pattern: %+v", patterns[0])
	}
	if patterns[1].PubkeyIndex != 2 || patterns[1].PatternType != models.BurnStamps33 {
		t.Errorf("unexpected second pattern: %+v", patterns[1])
	}
	if patterns[0].Confidence != models.ConfidenceHigh {
		t.Errorf("expected High confidence for exact key match, got %s", patterns[0].Confidence)
	}
}
