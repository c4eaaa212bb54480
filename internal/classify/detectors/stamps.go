package detectors

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/deadmanoz/p2ms-analyzer/internal/burn"
	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

// stampsPrefixes are the accepted case/punctuation spellings of the Stamps
// prefix (spec §4.4.4); the exact spelling encountered is recorded as
// additional_metadata for downstream signature-variant analysis.
var stampsPrefixes = []string{"STAMP:", "stamp:", "stamps:", "STAMPS:"}

type stampsDetector struct{}

// NewStamps returns the Bitcoin Stamps detector (spec §4.4.4).
func NewStamps() classify.Detector { return stampsDetector{} }

func (stampsDetector) Name() string { return "BitcoinStamps" }

func (stampsDetector) Classify(tx classify.Transaction) (*classify.Result, bool) {
	var stampOutputs []models.P2MSOutput
	for _, o := range tx.P2MSOutputs {
		if isStampsShaped(o) {
			stampOutputs = append(stampOutputs, o)
		}
	}
	if len(stampOutputs) == 0 {
		return nil, false
	}

	var payload []byte
	for _, o := range stampOutputs {
		payload = append(payload, classify.ExtractDataChunk(o.Pubkeys)...)
	}

	prefixFound := ""
	body := payload
	if asciiPrefix, rest, ok := stripStampsPrefix(payload); ok {
		prefixFound = asciiPrefix
		body = rest
	}
	// Data chunks are zero-padded to 32 bytes; the padding is not base64 text.
	body = bytes.TrimRight(body, "\x00")

	decoded, decodeErr := classify.DecodeBase64Lenient(string(body))
	if decodeErr != nil {
		decoded = body
	}

	variant, contentType := classifyStampsContent(decoded)

	transport := "Pure Bitcoin Stamps"
	if HasCounterpartyMagic(tx) {
		transport = "Counterparty"
	}

	method := "P2MS output shaped (M=1,N=3,pubkey[2] is a known Stamps burn key), data chunk decoded"
	var metadata json.RawMessage
	if prefixFound != "" {
		if raw, err := json.Marshal(struct {
			PrefixVariant string `json:"prefix_variant"`
		}{prefixFound}); err == nil {
			metadata = raw
		}
	}

	outputs := make([]models.P2MSOutputClassification, 0, len(tx.P2MSOutputs))
	for _, o := range tx.P2MSOutputs {
		oc := classify.BaseOutputClassification(o, models.ProtocolBitcoinStamps, variant, method)
		oc.ProtocolSignatureFound = isStampsShaped(o)
		if contentType != "" {
			ct := contentType
			oc.ContentType = &ct
		}
		outputs = append(outputs, oc)
	}

	var ct *string
	if contentType != "" {
		ct = &contentType
	}

	return &classify.Result{
		Transaction: models.TransactionClassification{
			Txid:                   tx.Enriched.Txid,
			Protocol:               models.ProtocolBitcoinStamps,
			Variant:                &variant,
			ProtocolSignatureFound: true,
			ClassificationMethod:   method,
			ContentType:            ct,
			TransportProtocol:      &transport,
			AdditionalMetadata:     metadata,
		},
		Outputs: outputs,
	}, true
}

// isStampsShaped reports whether o matches the Bitcoin Stamps structural
// signature: 1-of-3 multisig whose third (padding) pubkey is a known burn
// key.
func isStampsShaped(o models.P2MSOutput) bool {
	if o.RequiredSigs != 1 || len(o.Pubkeys) != 3 {
		return false
	}
	return burn.IsStampsBurnKey(o.Pubkeys[2])
}

// stripStampsPrefix checks payload for one of the accepted Stamps prefix
// spellings and, if found, returns the spelling and the remaining bytes.
func stripStampsPrefix(payload []byte) (prefix string, rest []byte, ok bool) {
	for _, p := range stampsPrefixes {
		if bytes.HasPrefix(payload, []byte(p)) {
			return p, payload[len(p):], true
		}
	}
	return "", payload, false
}

// classifyStampsContent implements the spec §4.4.4 content heuristic table.
func classifyStampsContent(decoded []byte) (models.ProtocolVariant, string) {
	if looksLikeJSONWithP(decoded, "src-20") {
		return models.VariantStampsSRC20, "application/json"
	}
	if looksLikeJSONWithP(decoded, "src-721") {
		return models.VariantStampsSRC721, "application/json"
	}
	if looksLikeJSONWithP(decoded, "src-101") {
		return models.VariantStampsSRC101, "application/json"
	}
	if mime := classify.DetectImageMIME(decoded); mime != "" {
		return models.VariantStampsClassic, mime
	}
	if classify.IsHTMLDocument(decoded) {
		return models.VariantStampsHTML, "text/html"
	}
	if classify.HasZlibMagic(decoded) {
		return models.VariantStampsCompressed, "application/zlib"
	}
	if classify.HasGzipMagic(decoded) {
		return models.VariantStampsCompressed, "application/gzip"
	}
	if looksLikeRecognizableBinary(decoded) {
		return models.VariantStampsData, classify.SniffContentType(decoded)
	}
	return models.VariantStampsUnknown, ""
}

// looksLikeJSONWithP reports whether decoded is a JSON object whose "p"
// field equals want.
func looksLikeJSONWithP(decoded []byte, want string) bool {
	var probe struct {
		P string `json:"p"`
	}
	if err := json.Unmarshal(decoded, &probe); err != nil {
		return false
	}
	return strings.EqualFold(probe.P, want)
}

// looksLikeRecognizableBinary reports whether decoded is XML or a generic
// JSON document not already matched by a specific heuristic.
func looksLikeRecognizableBinary(decoded []byte) bool {
	trimmed := bytes.TrimSpace(decoded)
	if len(trimmed) == 0 {
		return false
	}
	if bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<")) {
		return true
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		var v any
		return json.Unmarshal(trimmed, &v) == nil
	}
	return false
}
