package detectors

import (
	"bytes"
	"encoding/hex"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

// asciiAllowlist are the exact identifier tokens the ASCII-identifier
// detector accepts within a pubkey payload. Unlisted printable substrings
// are deliberately rejected — matching on arbitrary ASCII content produces
// false positives against ordinary random-looking pubkey bytes.
var asciiAllowlist = []string{
	"TB0001",
	"TEST01",
	"METROXMN",
}

type asciiDetector struct{}

// NewAsciiIdentifier returns the ASCII-identifier detector (spec §4.4.7).
func NewAsciiIdentifier() classify.Detector { return asciiDetector{} }

func (asciiDetector) Name() string { return "AsciiIdentifier" }

func (asciiDetector) Classify(tx classify.Transaction) (*classify.Result, bool) {
	if len(tx.P2MSOutputs) == 0 {
		return nil, false
	}

	var matched string
	for _, o := range tx.P2MSOutputs {
		for _, pk := range o.Pubkeys {
			raw := pubkeyRawBytes(pk)
			for _, token := range asciiAllowlist {
				if bytes.Contains(raw, []byte(token)) {
					matched = token
					break
				}
			}
			if matched != "" {
				break
			}
		}
		if matched != "" {
			break
		}
	}
	if matched == "" {
		return nil, false
	}

	variant := models.VariantAsciiIdentifier
	method := "pubkey payload bytes contain allowlisted ascii token " + matched

	outputs := make([]models.P2MSOutputClassification, 0, len(tx.P2MSOutputs))
	for _, o := range tx.P2MSOutputs {
		oc := classify.BaseOutputClassification(o, models.ProtocolAsciiIdentifier, variant, method)
		oc.ProtocolSignatureFound = true
		outputs = append(outputs, oc)
	}

	return &classify.Result{
		Transaction: models.TransactionClassification{
			Txid:                   tx.Enriched.Txid,
			Protocol:               models.ProtocolAsciiIdentifier,
			Variant:                &variant,
			ProtocolSignatureFound: true,
			ClassificationMethod:   method,
		},
		Outputs: outputs,
	}, true
}

func pubkeyRawBytes(keyHex string) []byte {
	b, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil
	}
	return b
}
