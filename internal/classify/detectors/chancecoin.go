package detectors

import (
	"bytes"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

const chancecoinMagic = "CHANCECO"

var chancecoinTypeVariant = map[byte]models.ProtocolVariant{
	0: models.VariantChancecoinSend,
	1: models.VariantChancecoinOrder,
	2: models.VariantChancecoinBTCPay,
	3: models.VariantChancecoinRoll,
	4: models.VariantChancecoinBet,
	5: models.VariantChancecoinCancel,
}

type chancecoinDetector struct{}

// NewChancecoin returns the Chancecoin detector (spec §4.4.7).
func NewChancecoin() classify.Detector { return chancecoinDetector{} }

func (chancecoinDetector) Name() string { return "Chancecoin" }

func (chancecoinDetector) Classify(tx classify.Transaction) (*classify.Result, bool) {
	if len(tx.P2MSOutputs) == 0 {
		return nil, false
	}

	var payload []byte
	for _, o := range tx.P2MSOutputs {
		payload = append(payload, classify.ExtractDataChunk(o.Pubkeys)...)
	}
	if !bytes.HasPrefix(payload, []byte(chancecoinMagic)) {
		return nil, false
	}

	variant := models.VariantChancecoinUnknown
	if len(payload) > len(chancecoinMagic) {
		if v, ok := chancecoinTypeVariant[payload[len(chancecoinMagic)]]; ok {
			variant = v
		}
	}

	method := "P2MS payload begins with CHANCECO ascii prefix"
	outputs := make([]models.P2MSOutputClassification, 0, len(tx.P2MSOutputs))
	for _, o := range tx.P2MSOutputs {
		oc := classify.BaseOutputClassification(o, models.ProtocolChancecoin, variant, method)
		oc.ProtocolSignatureFound = true
		outputs = append(outputs, oc)
	}

	return &classify.Result{
		Transaction: models.TransactionClassification{
			Txid:                   tx.Enriched.Txid,
			Protocol:               models.ProtocolChancecoin,
			Variant:                &variant,
			ProtocolSignatureFound: true,
			ClassificationMethod:   method,
		},
		Outputs: outputs,
	}, true
}
