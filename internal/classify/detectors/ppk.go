package detectors

import (
	"bytes"
	"encoding/hex"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

// ppkMarkerPubkey is the well-known marker pubkey PPk embeds in P2MS
// outputs as its first detection signal.
const ppkMarkerPubkey = "0250504b00000000000000000000000000000000000000000000000000000000"

const ppkOpReturnPrefix = "5254" // ascii "RT" as hex

type ppkDetector struct{}

// NewPPk returns the PPk detector (spec §4.4.7).
func NewPPk() classify.Detector { return ppkDetector{} }

func (ppkDetector) Name() string { return "PPk" }

func (ppkDetector) Classify(tx classify.Transaction) (*classify.Result, bool) {
	markerFound := hasPPkMarkerPubkey(tx)
	opReturnBody, opReturnFound := ppkOpReturnBody(tx)
	if !markerFound && !opReturnFound {
		return nil, false
	}

	var body []byte
	if opReturnFound {
		body = opReturnBody
	} else {
		for _, o := range tx.P2MSOutputs {
			body = append(body, classify.ExtractDataChunk(o.Pubkeys)...)
		}
	}

	variant, method := classifyPPkBody(body, markerFound, opReturnFound)

	outputs := make([]models.P2MSOutputClassification, 0, len(tx.P2MSOutputs))
	for _, o := range tx.P2MSOutputs {
		oc := classify.BaseOutputClassification(o, models.ProtocolPPk, variant, method)
		oc.ProtocolSignatureFound = markerFound
		outputs = append(outputs, oc)
	}

	return &classify.Result{
		Transaction: models.TransactionClassification{
			Txid:                   tx.Enriched.Txid,
			Protocol:               models.ProtocolPPk,
			Variant:                &variant,
			ProtocolSignatureFound: markerFound || opReturnFound,
			ClassificationMethod:   method,
		},
		Outputs: outputs,
	}, true
}

func hasPPkMarkerPubkey(tx classify.Transaction) bool {
	for _, o := range tx.P2MSOutputs {
		for _, pk := range o.Pubkeys {
			if pk == ppkMarkerPubkey {
				return true
			}
		}
	}
	return false
}

// ppkOpReturnBody returns the raw bytes of the first OP_RETURN output
// whose payload begins with the "RT" prefix, stripped of that prefix.
func ppkOpReturnBody(tx classify.Transaction) ([]byte, bool) {
	for _, scriptHex := range tx.OpReturnPayloads() {
		data := opReturnPushedData(scriptHex)
		if bytes.HasPrefix(data, []byte("RT")) {
			return data[2:], true
		}
	}
	return nil, false
}

func classifyPPkBody(body []byte, markerFound, opReturnFound bool) (models.ProtocolVariant, string) {
	trimmed := bytes.TrimSpace(body)
	switch {
	case opReturnFound && looksLikeJSONProfile(trimmed):
		return models.VariantPPkProfile, "OP_RETURN RT-prefixed payload contains a JSON profile body"
	case isAllDigits(trimmed):
		return models.VariantPPkRegistration, "ppk payload body is a numeric-string registration code"
	case isPromotionalASCII(trimmed):
		return models.VariantPPkMessage, "ppk payload body is promotional ascii text"
	case markerFound:
		return models.VariantPPkUnknown, "ppk marker pubkey present, body did not match a known content shape"
	default:
		return models.VariantPPkUnknown, "ppk OP_RETURN RT prefix present, body did not match a known content shape"
	}
}

func looksLikeJSONProfile(data []byte) bool {
	return len(data) > 0 && (data[0] == '{' || data[0] == '[')
}

func isAllDigits(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, b := range data {
		if b < '0' || b > '9' {
			return false
		}
	}
	return true
}

func isPromotionalASCII(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, b := range data {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}

// opReturnPushedData strips the OP_RETURN opcode and its push-length
// byte(s) from a raw script hex string, returning the pushed payload.
func opReturnPushedData(scriptHex string) []byte {
	raw, err := hex.DecodeString(scriptHex)
	if err != nil || len(raw) < 2 {
		return nil
	}
	// raw[0] is OP_RETURN (0x6a); raw[1] is the push opcode/length.
	pushOp := raw[1]
	switch {
	case pushOp >= 1 && pushOp <= 75:
		if len(raw) < 2+int(pushOp) {
			return nil
		}
		return raw[2 : 2+int(pushOp)]
	case pushOp == 0x4c && len(raw) >= 3: // OP_PUSHDATA1
		n := int(raw[2])
		if len(raw) < 3+n {
			return nil
		}
		return raw[3 : 3+n]
	case pushOp == 0x4d && len(raw) >= 4: // OP_PUSHDATA2
		n := int(raw[2]) | int(raw[3])<<8
		if len(raw) < 4+n {
			return nil
		}
		return raw[4 : 4+n]
	default:
		return nil
	}
}
