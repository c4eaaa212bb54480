package classify

import "github.com/deadmanoz/p2ms-analyzer/internal/models"

// Transaction is the read-only context a Detector inspects. It bundles
// everything Stage 2 recorded for one enriched transaction: every output
// (needed by OP_RETURN-inspecting detectors), the P2MS-only subset (needed
// by pubkey-payload detectors), inputs (for ARC4 key / sender derivation),
// and any burn patterns already detected by Stage 2.
type Transaction struct {
	Enriched    models.EnrichedTransaction
	AllOutputs  []models.TransactionOutput // ordered by vout
	P2MSOutputs []models.P2MSOutput        // ordered by vout, script_type=multisig only
	Inputs      []models.TransactionInput
	BurnPatterns []models.BurnPattern

	// FirstInputTxid is Inputs[0].PrevTxid, the Counterparty ARC4 key source.
	FirstInputTxid string
	// SenderAddress is the address contributing the largest summed input
	// value (spec §4.4.6's Omni Layer sender-determination algorithm), or
	// "" if no input's source_address could be resolved.
	SenderAddress string
}

// OpReturnPayloads returns the raw script bytes (as hex) of every
// OP_RETURN output, in vout order.
func (t Transaction) OpReturnPayloads() []string {
	var out []string
	for _, o := range t.AllOutputs {
		if o.ScriptType == models.ScriptOpReturn {
			out = append(out, o.ScriptHex)
		}
	}
	return out
}

// Result is what a Detector returns when it accepts a Transaction: the
// transaction-level classification plus one P2MSOutputClassification per
// P2MS output in the transaction (spec §4.4.2 — every detector that accepts
// must classify every P2MS output, not only the ones carrying payload data).
type Result struct {
	Transaction models.TransactionClassification
	Outputs     []models.P2MSOutputClassification
}

// Detector is the shape every protocol detector and structural fallback
// satisfies (spec §9: "no inheritance; tagged variants carry the
// discrimination; ordering is data, not code"). Classify returns
// (nil, false) to mean "reject, try the next detector in the registry".
type Detector interface {
	Name() string
	Classify(tx Transaction) (*Result, bool)
}

// baseOutputClassification builds the common fields of a
// P2MSOutputClassification for output o under (protocol, variant,
// method), running the shared pubkey categorization and spendability rule.
// Detectors call this once per P2MS output they accept, then override
// ProtocolSignatureFound/ContentType as their own signal dictates.
func baseOutputClassification(o models.P2MSOutput, protocol models.ProtocolType, variant models.ProtocolVariant, method string) models.P2MSOutputClassification {
	counts := CountKeys(o.Pubkeys)
	spendable, reason := DetermineSpendability(counts, o.RequiredSigs)
	v := variant
	return models.P2MSOutputClassification{
		Txid:                   o.Txid,
		Vout:                   o.Vout,
		Protocol:               protocol,
		Variant:                &v,
		ProtocolSignatureFound: false,
		ClassificationMethod:   method,
		IsSpendable:            spendable,
		SpendabilityReason:     reason,
		RealPubkeyCount:        counts.Real,
		BurnKeyCount:           counts.Burn,
		DataKeyCount:           counts.Data,
	}
}

// BaseOutputClassification is the exported form of baseOutputClassification
// for use by the internal/classify/detectors package.
func BaseOutputClassification(o models.P2MSOutput, protocol models.ProtocolType, variant models.ProtocolVariant, method string) models.P2MSOutputClassification {
	return baseOutputClassification(o, protocol, variant, method)
}
