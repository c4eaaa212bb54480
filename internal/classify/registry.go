package classify

import (
	"fmt"

	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

// ClassifyTransaction runs registry's detectors in order (spec §4.4.1) and
// returns the first accepted Result. If none accept, it falls back to
// LikelyDataStorage, then LikelyLegitimateMultisig, then finally Unknown.
// The state machine is exactly "Unprocessed -> Detecting -> Accepted |
// Fallback -> Written": no retries, decisions are final (spec §4.4.8).
func ClassifyTransaction(tx Transaction, registry []Detector) (models.TransactionClassification, []models.P2MSOutputClassification) {
	for _, d := range registry {
		if result, ok := d.Classify(tx); ok {
			return result.Transaction, result.Outputs
		}
	}

	if result, ok := likelyDataStorage(tx); ok {
		return result.Transaction, result.Outputs
	}
	if result, ok := likelyLegitimateMultisig(tx); ok {
		return result.Transaction, result.Outputs
	}
	return unknownFallback(tx)
}

const likelyDataStorageDustThresholdSats = 1000
const likelyDataStorageHighOutputCount = 5

// likelyDataStorage implements the structural fallback of spec §4.4.7,
// checked in order: invalid EC points first, then excessive output count,
// then the dust-minimization pattern.
func likelyDataStorage(tx Transaction) (*Result, bool) {
	if len(tx.P2MSOutputs) == 0 {
		return nil, false
	}

	anyInvalidEC := false
	allValidEC := true
	allDust := true
	for _, o := range tx.P2MSOutputs {
		counts := CountKeys(o.Pubkeys)
		if counts.Data > 0 {
			anyInvalidEC = true
			allValidEC = false
		}
		if outputAmount(tx, o) > likelyDataStorageDustThresholdSats {
			allDust = false
		}
	}

	var variant models.ProtocolVariant
	var method string
	switch {
	case anyInvalidEC:
		variant = models.VariantInvalidECPoint
		method = "p2ms output contains at least one pubkey that fails EC-point validation"
	case allValidEC && len(tx.P2MSOutputs) >= likelyDataStorageHighOutputCount:
		variant = models.VariantHighOutputCount
		method = fmt.Sprintf("%d P2MS outputs, all valid EC points, exceeds structural threshold", len(tx.P2MSOutputs))
	case allValidEC && allDust:
		variant = models.VariantDustAmount
		method = "all P2MS outputs have dust-level amounts and valid EC points"
	default:
		return nil, false
	}

	outputs := make([]models.P2MSOutputClassification, 0, len(tx.P2MSOutputs))
	for _, o := range tx.P2MSOutputs {
		outputs = append(outputs, BaseOutputClassification(o, models.ProtocolLikelyDataStorage, variant, method))
	}

	return &Result{
		Transaction: models.TransactionClassification{
			Txid:                   tx.Enriched.Txid,
			Protocol:               models.ProtocolLikelyDataStorage,
			Variant:                &variant,
			ProtocolSignatureFound: false,
			ClassificationMethod:   method,
		},
		Outputs: outputs,
	}, true
}

func outputAmount(tx Transaction, p models.P2MSOutput) uint64 {
	for _, o := range tx.AllOutputs {
		if o.Vout == p.Vout {
			return o.Amount
		}
	}
	return 0
}

// likelyLegitimateMultisig accepts when every non-null pubkey of every
// P2MS output is a valid EC point and no data-carrying protocol matched —
// the final structural fallback of spec §4.4.7. It further distinguishes
// two supplemental variants: duplicate pubkeys within an output, and the
// well-known null (all-zero) pubkey pattern, which is routed here rather
// than rejected as a data key since an all-zero placeholder carries no
// embedded data of its own.
func likelyLegitimateMultisig(tx Transaction) (*Result, bool) {
	if len(tx.P2MSOutputs) == 0 {
		return nil, false
	}

	variant := models.VariantLegitimateMultisig
	for _, o := range tx.P2MSOutputs {
		nonNull := make([]string, 0, len(o.Pubkeys))
		sawNull := false
		for _, pk := range o.Pubkeys {
			if isNullPubkey(pk) {
				sawNull = true
				continue
			}
			nonNull = append(nonNull, pk)
		}

		counts := CountKeys(nonNull)
		if counts.Burn > 0 || counts.Data > 0 {
			return nil, false
		}
		if sawNull {
			variant = models.VariantLegitimateMultisigWithNullKey
		} else if hasDuplicatePubkeys(o.Pubkeys) && variant == models.VariantLegitimateMultisig {
			variant = models.VariantLegitimateMultisigDupeKeys
		}
	}

	method := "all P2MS output pubkeys validate as on-curve secp256k1 points; no protocol signature matched"
	outputs := make([]models.P2MSOutputClassification, 0, len(tx.P2MSOutputs))
	for _, o := range tx.P2MSOutputs {
		outputs = append(outputs, BaseOutputClassification(o, models.ProtocolLikelyLegitimateMultisig, variant, method))
	}

	return &Result{
		Transaction: models.TransactionClassification{
			Txid:                   tx.Enriched.Txid,
			Protocol:               models.ProtocolLikelyLegitimateMultisig,
			Variant:                &variant,
			ProtocolSignatureFound: false,
			ClassificationMethod:   method,
		},
		Outputs: outputs,
	}, true
}

// isNullPubkey reports whether pk is the well-known all-zero placeholder
// pubkey pattern.
func isNullPubkey(pk string) bool {
	if pk == "" {
		return false
	}
	for _, c := range pk {
		if c != '0' {
			return false
		}
	}
	return true
}

func hasDuplicatePubkeys(pubkeys []string) bool {
	seen := make(map[string]struct{}, len(pubkeys))
	for _, pk := range pubkeys {
		if _, ok := seen[pk]; ok {
			return true
		}
		seen[pk] = struct{}{}
	}
	return false
}

// unknownFallback handles the rare transaction that even
// likelyLegitimateMultisig cannot assert validity for (spec §4.4.1 item
// 11) — e.g. a transaction with zero P2MS outputs reaching classification,
// which should not happen in practice but is handled rather than panicking.
func unknownFallback(tx Transaction) (models.TransactionClassification, []models.P2MSOutputClassification) {
	method := "no detector accepted this transaction"
	variant := models.VariantUnknown
	outputs := make([]models.P2MSOutputClassification, 0, len(tx.P2MSOutputs))
	for _, o := range tx.P2MSOutputs {
		outputs = append(outputs, BaseOutputClassification(o, models.ProtocolUnknown, variant, method))
	}
	return models.TransactionClassification{
		Txid:                   tx.Enriched.Txid,
		Protocol:               models.ProtocolUnknown,
		Variant:                &variant,
		ProtocolSignatureFound: false,
		ClassificationMethod:   method,
	}, outputs
}
