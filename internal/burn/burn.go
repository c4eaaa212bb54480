// Package burn detects non-signing "burn key" pubkeys embedded in P2MS
// outputs: compressed secp256k1 points chosen deliberately rather than
// derived from a private key, which protocols use to pad a multisig
// output's pubkey count without granting anyone spending authority.
package burn

import (
	"strings"

	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

// stampsBurnKeys are the 5 known Bitcoin Stamps burn keys (4 pattern types,
// Stamps0303 covers two key variants).
var stampsBurnKeys = []string{
	"022222222222222222222222222222222222222222222222222222222222222222",
	"033333333333333333333333333333333333333333333333333333333333333333",
	"020202020202020202020202020202020202020202020202020202020202020202",
	"030303030303030303030303030303030303030303030303030303030303030302",
	"030303030303030303030303030303030303030303030303030303030303030303",
}

const proofOfBurnPattern = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

const compressedPubkeyHexLen = 66

// IsStampsBurnKey reports whether keyHex is one of the 5 known Stamps burn keys.
func IsStampsBurnKey(keyHex string) bool {
	lower := strings.ToLower(keyHex)
	for _, k := range stampsBurnKeys {
		if lower == k {
			return true
		}
	}
	return false
}

// IsProofOfBurnKey reports whether keyHex is an all-0xFF compressed or
// uncompressed pubkey — DataStorage's proof-of-burn marker.
func IsProofOfBurnKey(keyHex string) bool {
	lower := strings.ToLower(keyHex)
	compressed02 := "02" + proofOfBurnPattern
	compressed03 := "03" + proofOfBurnPattern
	uncompressed := "04" + proofOfBurnPattern + proofOfBurnPattern
	return lower == compressed02 || lower == compressed03 || lower == uncompressed || lower == proofOfBurnPattern
}

// ClassifyStampsBurn identifies exactly which of the 4 Stamps pattern types
// keyHex matches, or (0, false) if it doesn't match any.
func ClassifyStampsBurn(keyHex string) (models.BurnPatternType, bool) {
	lower := strings.ToLower(keyHex)
	switch lower {
	case stampsBurnKeys[0]:
		return models.BurnStamps22, true
	case stampsBurnKeys[1]:
		return models.BurnStamps33, true
	case stampsBurnKeys[2]:
		return models.BurnStamps0202, true
	case stampsBurnKeys[3], stampsBurnKeys[4]:
		return models.BurnStamps0303, true
	default:
		return "", false
	}
}

// isSuspiciousPattern flags compressed pubkeys that repeat the same hex
// digit for every byte after the 02/03 prefix. Conservative by design: it
// only fires on exactly 66-hex-char compressed keys not already recognised
// as a Stamps or proof-of-burn pattern, so Counterparty payloads and other
// mixed-content data never get misclassified as a burn.
func isSuspiciousPattern(keyHex string) bool {
	if len(keyHex) != compressedPubkeyHexLen {
		return false
	}
	if !strings.HasPrefix(keyHex, "02") && !strings.HasPrefix(keyHex, "03") {
		return false
	}
	if IsStampsBurnKey(keyHex) || IsProofOfBurnKey(keyHex) {
		return false
	}

	body := strings.ToLower(keyHex[2:])
	if body == "" {
		return false
	}
	first := body[0]
	for i := 0; i < len(body); i++ {
		if body[i] != first {
			return false
		}
	}
	return true
}

// ClassifyBurnPattern checks keyHex against the Stamps, proof-of-burn, and
// suspicious-repetition patterns in that order, returning the first match.
func ClassifyBurnPattern(keyHex string) (models.BurnPatternType, bool) {
	if t, ok := ClassifyStampsBurn(keyHex); ok {
		return t, true
	}
	if IsProofOfBurnKey(keyHex) {
		return models.BurnProofOfBurn, true
	}
	if isSuspiciousPattern(keyHex) {
		return models.BurnUnknown, true
	}
	return "", false
}

// confidenceFor grades a detected pattern: exact known keys are High
// confidence, the suspicious-repetition heuristic is Medium.
func confidenceFor(t models.BurnPatternType) models.Confidence {
	if t == models.BurnUnknown {
		return models.ConfidenceMedium
	}
	return models.ConfidenceHigh
}

// DetectBurnPatterns scans every pubkey of every P2MS output and returns
// one BurnPattern row per match, in (vout, pubkey index) order.
func DetectBurnPatterns(outputs []models.P2MSOutput) []models.BurnPattern {
	var result []models.BurnPattern
	for _, o := range outputs {
		for i, pubkey := range o.Pubkeys {
			patternType, ok := ClassifyBurnPattern(pubkey)
			if !ok {
				continue
			}
			result = append(result, models.BurnPattern{
				Txid:        o.Txid,
				Vout:        o.Vout,
				PubkeyIndex: uint8(i),
				PatternType: patternType,
				PatternData: pubkey,
				Confidence:  confidenceFor(patternType),
			})
		}
	}
	return result
}
