package detectors

import (
	"bytes"
	"strings"

	"github.com/deadmanoz/p2ms-analyzer/internal/burn"
	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

// wikiLeaksCablegateHeightMin/Max bound the block-height range of the
// known WikiLeaks Cablegate embedding transactions (spec §4.4.7).
const (
	wikiLeaksCablegateHeightMin = 229991
	wikiLeaksCablegateHeightMax = 230256
)

// bitcoinWhitepaperTxid is the well-known transaction embedding the
// Bitcoin whitepaper across its P2MS outputs.
const bitcoinWhitepaperTxid = "54e48e5f5c656b26c3bca14a8c95aa583d07ebe84dde3b7dd4a78f4e4186e713"

type dataStorageDetector struct{}

// NewDataStorage returns the DataStorage catch-all detector (spec §4.4.7).
func NewDataStorage() classify.Detector { return dataStorageDetector{} }

func (dataStorageDetector) Name() string { return "DataStorage" }

func (dataStorageDetector) Classify(tx classify.Transaction) (*classify.Result, bool) {
	if len(tx.P2MSOutputs) == 0 {
		return nil, false
	}

	if strings.EqualFold(tx.Enriched.Txid, bitcoinWhitepaperTxid) {
		return dataStorageResult(tx, models.VariantDataStorageBitcoinWhitepaper, "txid matches the known Bitcoin whitepaper embedding transaction")
	}
	if tx.Enriched.Height >= wikiLeaksCablegateHeightMin && tx.Enriched.Height <= wikiLeaksCablegateHeightMax {
		if hasProofOfBurnOrRepetitiveKey(tx) || hasURLOrMessageSignature(tx) {
			return dataStorageResult(tx, models.VariantDataStorageWikiLeaksCablegate, "block height falls within the WikiLeaks Cablegate embedding range")
		}
	}

	if hasProofOfBurn(tx) {
		return dataStorageResult(tx, models.VariantDataStorageProofOfBurn, "P2MS output contains an all-0xFF proof-of-burn pubkey")
	}

	var payload []byte
	for _, o := range tx.P2MSOutputs {
		payload = append(payload, classify.ExtractDataChunk(o.Pubkeys)...)
	}
	if classify.HasZlibMagic(payload) {
		return dataStorageResult(tx, models.VariantDataStorageFileMetadata, "P2MS payload carries a ZLIB magic header")
	}
	if classify.HasGzipMagic(payload) {
		return dataStorageResult(tx, models.VariantDataStorageFileMetadata, "P2MS payload carries a GZIP magic header")
	}
	if hasURLOrMessageSignature(tx) {
		return dataStorageResult(tx, models.VariantDataStorageEmbeddedData, "pubkey payload contains a recognizable URL or ascii message signature")
	}
	if hasNullDataKey(tx) {
		return dataStorageResult(tx, models.VariantDataStorageNullData, "P2MS output contains an all-zero data key")
	}

	return nil, false
}

func dataStorageResult(tx classify.Transaction, variant models.ProtocolVariant, method string) (*classify.Result, bool) {
	outputs := make([]models.P2MSOutputClassification, 0, len(tx.P2MSOutputs))
	for _, o := range tx.P2MSOutputs {
		oc := classify.BaseOutputClassification(o, models.ProtocolDataStorage, variant, method)
		oc.ProtocolSignatureFound = true
		outputs = append(outputs, oc)
	}
	return &classify.Result{
		Transaction: models.TransactionClassification{
			Txid:                   tx.Enriched.Txid,
			Protocol:               models.ProtocolDataStorage,
			Variant:                &variant,
			ProtocolSignatureFound: true,
			ClassificationMethod:   method,
		},
		Outputs: outputs,
	}, true
}

func hasProofOfBurn(tx classify.Transaction) bool {
	for _, o := range tx.P2MSOutputs {
		for _, pk := range o.Pubkeys {
			if burn.IsProofOfBurnKey(pk) {
				return true
			}
		}
	}
	return false
}

func hasProofOfBurnOrRepetitiveKey(tx classify.Transaction) bool {
	if hasProofOfBurn(tx) {
		return true
	}
	for _, o := range tx.P2MSOutputs {
		for _, pk := range o.Pubkeys {
			if _, ok := burn.ClassifyBurnPattern(pk); ok {
				return true
			}
		}
	}
	return false
}

func hasURLOrMessageSignature(tx classify.Transaction) bool {
	for _, o := range tx.P2MSOutputs {
		for _, pk := range o.Pubkeys {
			raw := pubkeyRawBytes(pk)
			if bytes.Contains(raw, []byte("http://")) || bytes.Contains(raw, []byte("https://")) {
				return true
			}
		}
	}
	return false
}

func hasNullDataKey(tx classify.Transaction) bool {
	for _, o := range tx.P2MSOutputs {
		for _, pk := range o.Pubkeys {
			if classify.CategorizePubkey(pk) != classify.CategoryDataKey {
				continue
			}
			allZero := true
			for _, c := range pk {
				if c != '0' {
					allZero = false
					break
				}
			}
			if allZero {
				return true
			}
		}
	}
	return false
}
