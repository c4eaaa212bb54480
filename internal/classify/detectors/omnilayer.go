package detectors

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/deadmanoz/p2ms-analyzer/internal/classify"
	"github.com/deadmanoz/p2ms-analyzer/internal/config"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

var exodusAddress = mustDecodeExodusAddress()

func mustDecodeExodusAddress() btcutil.Address {
	addr, err := btcutil.DecodeAddress(config.OmniExodusAddress, &chaincfg.MainNetParams)
	if err != nil {
		panic("omnilayer: failed to decode Exodus address: " + err.Error())
	}
	return addr
}

var omniTypeVariant = map[uint32]models.ProtocolVariant{
	0: models.VariantOmniTransfer, 2: models.VariantOmniTransfer, 4: models.VariantOmniTransfer, 5: models.VariantOmniTransfer,
	3:  models.VariantOmniDistribution,
	50: models.VariantOmniIssuance, 51: models.VariantOmniIssuance, 52: models.VariantOmniIssuance, 54: models.VariantOmniIssuance, 55: models.VariantOmniIssuance,
	56: models.VariantOmniDestruction,
	20: models.VariantOmniDEX, 22: models.VariantOmniDEX, 25: models.VariantOmniDEX, 26: models.VariantOmniDEX, 27: models.VariantOmniDEX, 28: models.VariantOmniDEX,
	53: models.VariantOmniAdministration, 70: models.VariantOmniAdministration, 71: models.VariantOmniAdministration,
	72: models.VariantOmniAdministration, 185: models.VariantOmniAdministration, 186: models.VariantOmniAdministration,
	31: models.VariantOmniUtility, 200: models.VariantOmniUtility,
}

const omniMagic = "omni"

type omniDetector struct{}

// NewOmniLayer returns the Omni Layer detector (spec §4.4.6).
func NewOmniLayer() classify.Detector { return omniDetector{} }

func (omniDetector) Name() string { return "OmniLayer" }

func (omniDetector) Classify(tx classify.Transaction) (*classify.Result, bool) {
	if !hasExodusOutput(tx) {
		return nil, false
	}
	if len(tx.P2MSOutputs) == 0 {
		return nil, false
	}

	sender := tx.SenderAddress
	if sender == "" {
		return emitOmniResult(tx, nil, models.VariantOmniFailedDeobfuscation, "exodus address present but sender address could not be resolved from inputs")
	}

	decoded, chunkLens := deobfuscateOmniPayload(tx, sender)
	if len(decoded) < len(omniMagic)+4 || string(decoded[:len(omniMagic)]) != omniMagic {
		return emitOmniResult(tx, nil, models.VariantOmniFailedDeobfuscation, "exodus address present but XOR keystream did not reveal omni magic")
	}

	msgType := binary.BigEndian.Uint32(decoded[len(omniMagic) : len(omniMagic)+4])
	variant, ok := omniTypeVariant[msgType]
	if !ok {
		variant = models.VariantOmniUnknown
	}
	method := "exodus address present; sender-derived XOR keystream revealed omni magic, type=" + strconv.FormatUint(uint64(msgType), 10)
	signalIndices := outputsCarryingRange(chunkLens, 0, len(omniMagic)+4)
	return emitOmniResult(tx, signalIndices, variant, method)
}

// emitOmniResult builds the classification result. An exodus-address
// output is always classified as Omni Layer once matched, even when
// deobfuscation fails — signalIndices names the P2MS output(s) (by index
// into tx.P2MSOutputs) whose data chunk actually carried the magic+type
// header, so every other output (and the whole transaction, when
// signalIndices is empty) is emitted with protocol_signature_found=false
// (spec §4.4.2).
func emitOmniResult(tx classify.Transaction, signalIndices []int, variant models.ProtocolVariant, method string) (*classify.Result, bool) {
	signalSet := make(map[int]struct{}, len(signalIndices))
	for _, idx := range signalIndices {
		signalSet[idx] = struct{}{}
	}

	outputs := make([]models.P2MSOutputClassification, 0, len(tx.P2MSOutputs))
	for i, o := range tx.P2MSOutputs {
		oc := classify.BaseOutputClassification(o, models.ProtocolOmniLayer, variant, method)
		_, oc.ProtocolSignatureFound = signalSet[i]
		outputs = append(outputs, oc)
	}
	return &classify.Result{
		Transaction: models.TransactionClassification{
			Txid:                   tx.Enriched.Txid,
			Protocol:               models.ProtocolOmniLayer,
			Variant:                &variant,
			ProtocolSignatureFound: len(signalSet) > 0,
			ClassificationMethod:   method,
		},
		Outputs: outputs,
	}, true
}

// hasExodusOutput reports whether tx pays any output to the Omni Exodus
// address (spec §4.4.6). Addresses are compared by decoding both sides
// with btcutil rather than raw string equality, so the check still holds
// if the store ever records an alternate valid encoding of the same
// mainnet address.
func hasExodusOutput(tx classify.Transaction) bool {
	for _, o := range tx.AllOutputs {
		if o.Address == nil {
			continue
		}
		addr, err := btcutil.DecodeAddress(*o.Address, &chaincfg.MainNetParams)
		if err != nil {
			continue
		}
		if addr.EncodeAddress() == exodusAddress.EncodeAddress() {
			return true
		}
	}
	return false
}

// deobfuscateOmniPayload XORs each P2MS output's data chunk with a
// keystream derived from the sender address and the output's position,
// the Class-B-style "protocol-defined expansion" spec §4.4.6 references:
// keystream_i starts with SHA256(SHA256(senderAddress + ":" + i)) and, past
// 32 bytes, continues with SHA256(SHA256(previous block)). chunkLens reports each
// output's contribution length, in tx.P2MSOutputs order, mirroring
// decryptCounterpartyPayload's contract so outputsCarryingRange can
// attribute a byte range back to its output(s).
func deobfuscateOmniPayload(tx classify.Transaction, sender string) (out []byte, chunkLens []int) {
	chunkLens = make([]int, len(tx.P2MSOutputs))
	for i, o := range tx.P2MSOutputs {
		chunk := classify.ExtractDataChunk(o.Pubkeys)
		keystream := omniKeystream(sender, i, len(chunk))
		for j := range chunk {
			out = append(out, chunk[j]^keystream[j])
		}
		chunkLens[i] = len(chunk)
	}
	return out, chunkLens
}

func omniKeystream(sender string, index, length int) []byte {
	seed := []byte(sender + ":" + strconv.Itoa(index))
	var stream []byte
	for len(stream) < length {
		h := sha256.Sum256(seed)
		h2 := sha256.Sum256(h[:])
		stream = append(stream, h2[:]...)
		seed = h2[:]
	}
	return stream[:length]
}
