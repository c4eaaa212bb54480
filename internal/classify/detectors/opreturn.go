package detectors

import (
	"bytes"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

// opReturnTokens are the exact prefix markers this detector recognizes in
// an OP_RETURN output's pushed data (spec §4.4.7).
var opReturnTokens = []struct {
	prefix      []byte
	variant     models.ProtocolVariant
	description string
}{
	{[]byte("CLIPPERZ"), models.VariantOpReturnClipperz, "CLIPPERZ ascii prefix"},
	{[]byte{0xbb, 0x3a}, models.VariantOpReturnProtocol47930, "0xbb3a marker bytes"},
}

type opReturnDetector struct{}

// NewOpReturnSignalled returns the OP_RETURN-signalled detector (spec §4.4.7).
func NewOpReturnSignalled() classify.Detector { return opReturnDetector{} }

func (opReturnDetector) Name() string { return "OpReturnSignalled" }

func (opReturnDetector) Classify(tx classify.Transaction) (*classify.Result, bool) {
	var variant models.ProtocolVariant
	var description string
	found := false

	for _, scriptHex := range tx.OpReturnPayloads() {
		data := opReturnPushedData(scriptHex)
		for _, tok := range opReturnTokens {
			if bytes.HasPrefix(data, tok.prefix) {
				variant = tok.variant
				description = tok.description
				found = true
				break
			}
		}
		if found {
			break
		}
		if isPromotionalASCII(bytes.TrimSpace(data)) {
			variant = models.VariantOpReturnGeneric
			description = "generic printable-ascii fingerprint"
			found = true
			break
		}
	}
	if !found {
		return nil, false
	}
	if len(tx.P2MSOutputs) == 0 {
		return nil, false
	}

	method := "OP_RETURN output carries " + description
	outputs := make([]models.P2MSOutputClassification, 0, len(tx.P2MSOutputs))
	for _, o := range tx.P2MSOutputs {
		oc := classify.BaseOutputClassification(o, models.ProtocolOpReturnSignalled, variant, method)
		oc.ProtocolSignatureFound = true
		outputs = append(outputs, oc)
	}

	return &classify.Result{
		Transaction: models.TransactionClassification{
			Txid:                   tx.Enriched.Txid,
			Protocol:               models.ProtocolOpReturnSignalled,
			Variant:                &variant,
			ProtocolSignatureFound: true,
			ClassificationMethod:   method,
		},
		Outputs: outputs,
	}, true
}
