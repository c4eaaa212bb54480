// Package classify holds the shared primitives Stage 3's detectors build
// on: pubkey categorization, spendability rules, data-chunk extraction, and
// content-sniffing helpers. The detector registry and fallback rules live
// here too; concrete protocol detectors live in internal/classify/detectors
// to keep this package free of any single protocol's specifics.
package classify

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/deadmanoz/p2ms-analyzer/internal/burn"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

// KeyCategory is the per-pubkey classification of spec §4.4.3.
type KeyCategory int

const (
	CategoryValidEC KeyCategory = iota
	CategoryBurnKey
	CategoryDataKey
)

// CategorizePubkey classifies keyHex as BurnKey (one of the five exact
// Stamps burn patterns or all-0xFF proof-of-burn), ValidEC (decodes as a
// compressed or uncompressed point on secp256k1), or DataKey (everything
// else — including right-shaped-but-off-curve keys and arbitrary data
// chunks of any length pushed in a nonstandard script).
func CategorizePubkey(keyHex string) KeyCategory {
	if burn.IsStampsBurnKey(keyHex) || burn.IsProofOfBurnKey(keyHex) {
		return CategoryBurnKey
	}
	if IsValidECPoint(keyHex) {
		return CategoryValidEC
	}
	return CategoryDataKey
}

// IsValidECPoint reports whether keyHex decodes as a compressed (33 bytes,
// 0x02/0x03 prefix) or uncompressed (65 bytes, 0x04 prefix) point lying on
// secp256k1.
func IsValidECPoint(keyHex string) bool {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return false
	}
	switch len(raw) {
	case 33:
		if raw[0] != 0x02 && raw[0] != 0x03 {
			return false
		}
	case 65:
		if raw[0] != 0x04 {
			return false
		}
	default:
		return false
	}
	_, err = btcec.ParsePubKey(raw)
	return err == nil
}

// KeyCounts tallies the three key categories across a P2MS output's pubkeys.
type KeyCounts struct {
	Real uint8 // ValidEC
	Burn uint8
	Data uint8
}

// CountKeys categorizes every pubkey in pubkeys and tallies the result.
// Invariant (spec §8): Real + Burn + Data == len(pubkeys).
func CountKeys(pubkeys []string) KeyCounts {
	var c KeyCounts
	for _, pk := range pubkeys {
		switch CategorizePubkey(pk) {
		case CategoryValidEC:
			c.Real++
		case CategoryBurnKey:
			c.Burn++
		case CategoryDataKey:
			c.Data++
		}
	}
	return c
}

// DetermineSpendability applies spec §4.4.3's spendability rule:
// is_spendable iff real_pubkey_count >= requiredSigs. The reason code
// describes the key-type composition that produced the count.
func DetermineSpendability(counts KeyCounts, requiredSigs uint8) (bool, models.SpendabilityReason) {
	spendable := counts.Real >= requiredSigs

	var reason models.SpendabilityReason
	switch {
	case counts.Burn == 0 && counts.Data == 0:
		reason = models.ReasonAllValidECPoints
	case counts.Burn > 0 && counts.Data > 0:
		reason = models.ReasonMixedBurnAndData
	case counts.Burn > 0 && counts.Real == 0:
		reason = models.ReasonAllBurnKeys
	case counts.Burn > 0:
		reason = models.ReasonSomeBurnKeys
	case counts.Data > 0 && counts.Real == 0:
		reason = models.ReasonAllDataKeys
	default: // counts.Data > 0 && counts.Real > 0
		reason = models.ReasonDataEmbedded
	}
	return spendable, reason
}

// ExtractDataChunk concatenates the 32-byte X-coordinate (the byte after
// the 0x02/0x03/0x04 prefix, up to 33 bytes total) of every non-burn
// pubkey in pubkeys, in order (spec §4.4.3). For a 1-of-3 Stamps output
// with one burn key this yields 2×32 = 64 bytes.
func ExtractDataChunk(pubkeys []string) []byte {
	var buf bytes.Buffer
	for _, pk := range pubkeys {
		if CategorizePubkey(pk) == CategoryBurnKey {
			continue
		}
		raw, err := hex.DecodeString(pk)
		if err != nil || len(raw) < 2 {
			continue
		}
		end := len(raw)
		if end > 33 {
			end = 33
		}
		buf.Write(raw[1:end])
	}
	return buf.Bytes()
}
