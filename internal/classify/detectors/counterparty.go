package detectors

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/rc4"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

const counterpartyMagic = "CNTRPRTY"

// counterpartyTypeVariant maps Counterparty's message-type ID, read as a
// 4-byte big-endian integer after the magic (spec §4.4.5), to a
// ProtocolVariant.
var counterpartyTypeVariant = map[uint32]models.ProtocolVariant{
	0: models.VariantCounterpartyTransfer, 2: models.VariantCounterpartyTransfer,
	3: models.VariantCounterpartyTransfer, 4: models.VariantCounterpartyTransfer, 50: models.VariantCounterpartyTransfer,
	20: models.VariantCounterpartyIssuance, 21: models.VariantCounterpartyIssuance,
	22: models.VariantCounterpartyIssuance, 90: models.VariantCounterpartyIssuance, 91: models.VariantCounterpartyIssuance,
	60: models.VariantCounterpartyDestruction, 110: models.VariantCounterpartyDestruction,
	10: models.VariantCounterpartyDEX, 11: models.VariantCounterpartyDEX,
	12: models.VariantCounterpartyDEX, 70: models.VariantCounterpartyDEX,
	30: models.VariantCounterpartyOracle,
	40: models.VariantCounterpartyGaming, 80: models.VariantCounterpartyGaming, 81: models.VariantCounterpartyGaming,
	100: models.VariantCounterpartyUtility, 101: models.VariantCounterpartyUtility, 102: models.VariantCounterpartyUtility,
}

// arc4Decrypt runs RC4 over data with key, the symmetric property ARC4
// relies on (ARC4(k, ARC4(k, payload)) == payload, spec §8).
func arc4Decrypt(key, data []byte) ([]byte, error) {
	cipher, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("arc4 cipher: %w", err)
	}
	out := make([]byte, len(data))
	cipher.XORKeyStream(out, data)
	return out, nil
}

// decryptCounterpartyPayload concatenates the data chunks of every P2MS
// output in tx (spec's "modern 1-of-3 multi-output" form also covers the
// single-output legacy form) and ARC4-decrypts with the first input's
// txid bytes as key. chunkLens reports each output's contribution length,
// in tx.P2MSOutputs order, so callers can attribute a byte range in the
// decrypted payload back to the output(s) that carried it.
func decryptCounterpartyPayload(tx classify.Transaction) (decoded []byte, chunkLens []int, err error) {
	if tx.FirstInputTxid == "" {
		return nil, nil, fmt.Errorf("no first input txid available")
	}
	key, err := hex.DecodeString(tx.FirstInputTxid)
	if err != nil {
		return nil, nil, fmt.Errorf("decode first input txid: %w", err)
	}

	var payload []byte
	chunkLens = make([]int, len(tx.P2MSOutputs))
	for i, o := range tx.P2MSOutputs {
		chunk := classify.ExtractDataChunk(o.Pubkeys)
		payload = append(payload, chunk...)
		chunkLens[i] = len(chunk)
	}
	decoded, err = arc4Decrypt(key, payload)
	return decoded, chunkLens, err
}

// outputsCarryingRange returns the indices (into chunkLens/P2MSOutputs)
// whose byte range in the concatenated payload overlaps [start, end) —
// used to attribute a decrypted signal (e.g. the CNTRPRTY magic) to the
// specific output(s) that carried those bytes, per spec §4.4.2's
// requirement that real-change/dust outputs not carrying the signal keep
// protocol_signature_found=false.
func outputsCarryingRange(chunkLens []int, start, end int) []int {
	var indices []int
	offset := 0
	for i, n := range chunkLens {
		chunkStart, chunkEnd := offset, offset+n
		if chunkStart < end && chunkEnd > start {
			indices = append(indices, i)
		}
		offset = chunkEnd
	}
	return indices
}

// HasCounterpartyMagic reports whether tx's P2MS payload decrypts to the
// CNTRPRTY magic — used by the Bitcoin Stamps detector to determine
// transport_protocol (spec §4.4.4), without itself accepting the
// transaction as Counterparty.
func HasCounterpartyMagic(tx classify.Transaction) bool {
	decoded, _, err := decryptCounterpartyPayload(tx)
	if err != nil {
		return false
	}
	return len(decoded) >= len(counterpartyMagic) && string(decoded[:len(counterpartyMagic)]) == counterpartyMagic
}

type counterpartyDetector struct{}

// NewCounterparty returns the Counterparty detector (spec §4.4.5).
func NewCounterparty() classify.Detector { return counterpartyDetector{} }

func (counterpartyDetector) Name() string { return "Counterparty" }

func (counterpartyDetector) Classify(tx classify.Transaction) (*classify.Result, bool) {
	if len(tx.P2MSOutputs) == 0 {
		return nil, false
	}

	decoded, chunkLens, err := decryptCounterpartyPayload(tx)
	if err != nil || len(decoded) < len(counterpartyMagic)+4 {
		return nil, false
	}
	if string(decoded[:len(counterpartyMagic)]) != counterpartyMagic {
		return nil, false
	}

	msgType := binary.BigEndian.Uint32(decoded[len(counterpartyMagic) : len(counterpartyMagic)+4])
	variant, ok := counterpartyTypeVariant[msgType]
	if !ok {
		variant = models.VariantCounterpartyUnknown
	}

	method := fmt.Sprintf("arc4-decrypted P2MS payload with first-input-txid key contains CNTRPRTY magic, type=%d", msgType)
	contentType := "application/octet-stream"

	// Only the output(s) whose data chunk actually carries the
	// magic+type header are marked protocol_signature_found=true; any
	// dust/real-change output contributing bytes past that header is
	// not (spec §4.4.2).
	signalOutputs := make(map[int]struct{})
	for _, idx := range outputsCarryingRange(chunkLens, 0, len(counterpartyMagic)+4) {
		signalOutputs[idx] = struct{}{}
	}

	outputs := make([]models.P2MSOutputClassification, 0, len(tx.P2MSOutputs))
	for i, o := range tx.P2MSOutputs {
		oc := classify.BaseOutputClassification(o, models.ProtocolCounterparty, variant, method)
		_, oc.ProtocolSignatureFound = signalOutputs[i]
		oc.ContentType = &contentType
		outputs = append(outputs, oc)
	}

	return &classify.Result{
		Transaction: models.TransactionClassification{
			Txid:                   tx.Enriched.Txid,
			Protocol:               models.ProtocolCounterparty,
			Variant:                &variant,
			ProtocolSignatureFound: true,
			ClassificationMethod:   method,
			ContentType:            &contentType,
		},
		Outputs: outputs,
	}, true
}
