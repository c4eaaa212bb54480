// Package models holds the shared domain types for the P2MS pipeline: the
// entities of the relational store (Block, TransactionOutput, P2MSOutput,
// EnrichedTransaction, TransactionInput, BurnPattern, TransactionClassification,
// P2MSOutputClassification, Checkpoint) and the enums that tag them.
package models

import "encoding/json"

// ScriptType classifies the pubkey script of a TransactionOutput.
type ScriptType string

const (
	ScriptMultisig ScriptType = "multisig"
	ScriptP2PKH    ScriptType = "p2pkh"
	ScriptP2SH     ScriptType = "p2sh"
	ScriptP2WPKH   ScriptType = "p2wpkh"
	ScriptP2WSH    ScriptType = "p2wsh"
	ScriptP2TR     ScriptType = "p2tr"
	ScriptP2PK     ScriptType = "p2pk"
	ScriptOpReturn ScriptType = "op_return"
	ScriptUnknown  ScriptType = "unknown"
)

// Block is a stub row (height only, inserted by Stage 1) backfilled with
// hash/timestamp by Stage 2.
type Block struct {
	Height    uint32
	BlockHash *string
	Timestamp *int64
}

// TransactionOutput is one output of a Bitcoin transaction.
type TransactionOutput struct {
	Txid          string
	Vout          uint32
	Height        uint32
	Amount        uint64
	ScriptHex     string
	ScriptType    ScriptType
	ScriptSize    int
	IsCoinbase    bool
	IsSpent       bool
	SpentInTxid   *string
	SpentAtHeight *uint32
	Address       *string
	Metadata      json.RawMessage
}

// P2MSOutput is the parsed multisig metadata of an output whose
// ScriptType is ScriptMultisig.
type P2MSOutput struct {
	Txid         string
	Vout         uint32
	RequiredSigs uint8
	TotalPubkeys uint8
	Pubkeys      []string // ordered, hex-encoded
}

// EnrichedTransaction is the Stage 2 product: one row per P2MS-bearing
// transaction with full input/output context and fee math.
type EnrichedTransaction struct {
	Txid                 string
	Height               uint32
	TotalInputValue      uint64
	TotalOutputValue     uint64
	TransactionFee       int64
	FeePerByte           float64
	TransactionSizeBytes int
	FeePerKB             float64
	TotalP2MSAmount      uint64
	DataStorageFeeRate   float64
	P2MSOutputsCount     int
	InputCount           int
	OutputCount          int
	IsCoinbase           bool
}

// HasSignificantP2MS reports whether P2MS value exceeds 10% of total output
// value — matches the original source's "significant" threshold.
func (e EnrichedTransaction) HasSignificantP2MS() bool {
	if e.TotalOutputValue == 0 {
		return false
	}
	return float64(e.TotalP2MSAmount)/float64(e.TotalOutputValue) > 0.10
}

// TransactionInput is one input of a Bitcoin transaction.
type TransactionInput struct {
	Txid          string
	InputIndex    int
	PrevTxid      string
	PrevVout      uint32
	Value         uint64
	ScriptSig     string
	Sequence      uint32
	SourceAddress *string // resolved during Stage 2 from the previous output
}

// BurnPatternType classifies a pubkey recognized as a non-signing marker.
type BurnPatternType string

const (
	BurnStamps22    BurnPatternType = "Stamps22"
	BurnStamps33    BurnPatternType = "Stamps33"
	BurnStamps0202  BurnPatternType = "Stamps0202"
	BurnStamps0303  BurnPatternType = "Stamps0303"
	BurnProofOfBurn BurnPatternType = "ProofOfBurn"
	BurnUnknown     BurnPatternType = "UnknownBurn"
)

// Confidence grades a BurnPattern detection.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// BurnPattern is one burn-key occurrence found in a P2MS output's pubkeys.
type BurnPattern struct {
	Txid        string
	Vout        uint32
	PubkeyIndex uint8
	PatternType BurnPatternType
	PatternData string // the pubkey hex
	Confidence  Confidence
}

// ProtocolType is the transaction-level classification outcome. Ordered
// from most to least specific; see internal/classify for the registry that
// enforces this order.
type ProtocolType string

const (
	ProtocolBitcoinStamps            ProtocolType = "BitcoinStamps"
	ProtocolCounterparty             ProtocolType = "Counterparty"
	ProtocolAsciiIdentifier          ProtocolType = "AsciiIdentifierProtocols"
	ProtocolOmniLayer                ProtocolType = "OmniLayer"
	ProtocolChancecoin               ProtocolType = "Chancecoin"
	ProtocolPPk                      ProtocolType = "PPk"
	ProtocolOpReturnSignalled        ProtocolType = "OpReturnSignalled"
	ProtocolDataStorage              ProtocolType = "DataStorage"
	ProtocolLikelyDataStorage        ProtocolType = "LikelyDataStorage"
	ProtocolLikelyLegitimateMultisig ProtocolType = "LikelyLegitimateMultisig"
	ProtocolUnknown                  ProtocolType = "Unknown"
)

// protocolSortOrder mirrors the detector registry order of spec §4.4.1, for
// stable display ordering in aggregation reports.
var protocolSortOrder = map[ProtocolType]uint8{
	ProtocolBitcoinStamps:            0,
	ProtocolCounterparty:             1,
	ProtocolOmniLayer:                2,
	ProtocolChancecoin:               3,
	ProtocolPPk:                      4,
	ProtocolAsciiIdentifier:          5,
	ProtocolOpReturnSignalled:        6,
	ProtocolDataStorage:              7,
	ProtocolLikelyDataStorage:        8,
	ProtocolLikelyLegitimateMultisig: 9,
	ProtocolUnknown:                  255,
}

// SortOrder returns the detector-registry rank of p, or 255 if unknown.
func (p ProtocolType) SortOrder() uint8 {
	if o, ok := protocolSortOrder[p]; ok {
		return o
	}
	return 255
}

// ProtocolVariant refines a ProtocolType. Every accepted classification
// carries a non-nil variant — a NULL variant is treated as a bug, not a
// modelled state (see DESIGN.md Open Question decisions).
type ProtocolVariant string

const (
	VariantStampsSRC20      ProtocolVariant = "StampsSRC20"
	VariantStampsSRC721     ProtocolVariant = "StampsSRC721"
	VariantStampsSRC101     ProtocolVariant = "StampsSRC101"
	VariantStampsClassic    ProtocolVariant = "StampsClassic"
	VariantStampsHTML       ProtocolVariant = "StampsHTML"
	VariantStampsCompressed ProtocolVariant = "StampsCompressed"
	VariantStampsData       ProtocolVariant = "StampsData"
	VariantStampsUnknown    ProtocolVariant = "StampsUnknown"

	VariantCounterpartyTransfer    ProtocolVariant = "CounterpartyTransfer"
	VariantCounterpartyIssuance    ProtocolVariant = "CounterpartyIssuance"
	VariantCounterpartyDestruction ProtocolVariant = "CounterpartyDestruction"
	VariantCounterpartyDEX         ProtocolVariant = "CounterpartyDEX"
	VariantCounterpartyOracle      ProtocolVariant = "CounterpartyOracle"
	VariantCounterpartyGaming      ProtocolVariant = "CounterpartyGaming"
	VariantCounterpartyUtility     ProtocolVariant = "CounterpartyUtility"
	VariantCounterpartyUnknown     ProtocolVariant = "CounterpartyUnknown"

	VariantOmniTransfer            ProtocolVariant = "OmniTransfer"
	VariantOmniDistribution        ProtocolVariant = "OmniDistribution"
	VariantOmniIssuance            ProtocolVariant = "OmniIssuance"
	VariantOmniDestruction         ProtocolVariant = "OmniDestruction"
	VariantOmniDEX                 ProtocolVariant = "OmniDEX"
	VariantOmniAdministration      ProtocolVariant = "OmniAdministration"
	VariantOmniUtility             ProtocolVariant = "OmniUtility"
	VariantOmniFailedDeobfuscation ProtocolVariant = "OmniFailedDeobfuscation"
	VariantOmniUnknown             ProtocolVariant = "OmniUnknown"

	VariantChancecoinSend   ProtocolVariant = "ChancecoinSend"
	VariantChancecoinOrder  ProtocolVariant = "ChancecoinOrder"
	VariantChancecoinBTCPay ProtocolVariant = "ChancecoinBTCPay"
	VariantChancecoinRoll   ProtocolVariant = "ChancecoinRoll"
	VariantChancecoinBet    ProtocolVariant = "ChancecoinBet"
	VariantChancecoinCancel ProtocolVariant = "ChancecoinCancel"
	VariantChancecoinUnknown ProtocolVariant = "ChancecoinUnknown"

	VariantPPkProfile      ProtocolVariant = "PPkProfile"
	VariantPPkRegistration ProtocolVariant = "PPkRegistration"
	VariantPPkMessage      ProtocolVariant = "PPkMessage"
	VariantPPkUnknown      ProtocolVariant = "PPkUnknown"

	VariantAsciiIdentifier ProtocolVariant = "AsciiIdentifier"

	VariantOpReturnClipperz      ProtocolVariant = "OpReturnClipperz"
	VariantOpReturnProtocol47930 ProtocolVariant = "OpReturnProtocol47930"
	VariantOpReturnGeneric       ProtocolVariant = "OpReturnGeneric"

	VariantDataStorageWikiLeaksCablegate  ProtocolVariant = "DataStorageWikiLeaksCablegate"
	VariantDataStorageBitcoinWhitepaper   ProtocolVariant = "DataStorageBitcoinWhitepaper"
	VariantDataStorageProofOfBurn         ProtocolVariant = "DataStorageProofOfBurn"
	VariantDataStorageNullData            ProtocolVariant = "DataStorageNullData"
	VariantDataStorageFileMetadata        ProtocolVariant = "DataStorageFileMetadata"
	VariantDataStorageEmbeddedData        ProtocolVariant = "DataStorageEmbeddedData"
	VariantDataStorageGeneric             ProtocolVariant = "DataStorageGeneric"

	VariantInvalidECPoint  ProtocolVariant = "InvalidECPoint"
	VariantHighOutputCount ProtocolVariant = "HighOutputCount"
	VariantDustAmount      ProtocolVariant = "DustAmount"

	VariantLegitimateMultisig            ProtocolVariant = "LegitimateMultisig"
	VariantLegitimateMultisigDupeKeys    ProtocolVariant = "LegitimateMultisigDupeKeys"
	VariantLegitimateMultisigWithNullKey ProtocolVariant = "LegitimateMultisigWithNullKey"

	// VariantUnknown is the last-resort variant for ProtocolUnknown, the
	// rare case where even LikelyLegitimateMultisig cannot assert validity.
	VariantUnknown ProtocolVariant = "Unknown"
)

// SpendabilityReason enumerates why a P2MS output is or isn't spendable,
// derived purely from its pubkey key-type counts (spec §4.4.3).
type SpendabilityReason string

const (
	ReasonAllValidECPoints SpendabilityReason = "AllValidECPoints"
	ReasonSomeBurnKeys     SpendabilityReason = "SomeBurnKeys"
	ReasonAllBurnKeys      SpendabilityReason = "AllBurnKeys"
	ReasonDataEmbedded     SpendabilityReason = "DataEmbedded"
	ReasonAllDataKeys      SpendabilityReason = "AllDataKeys"
	ReasonMixedBurnAndData SpendabilityReason = "MixedBurnAndData"
)

// TransactionClassification is the single transaction-level classification
// row produced by Stage 3 for an EnrichedTransaction.
type TransactionClassification struct {
	Txid                    string
	Protocol                ProtocolType
	Variant                 *ProtocolVariant
	ProtocolSignatureFound  bool
	ClassificationMethod    string
	ContentType             *string
	TransportProtocol       *string
	AdditionalMetadata      json.RawMessage
	ClassificationTimestamp int64
}

// P2MSOutputClassification is a per-output classification row: one per
// P2MS output of a classified transaction.
type P2MSOutputClassification struct {
	Txid                   string
	Vout                   uint32
	Protocol               ProtocolType
	Variant                *ProtocolVariant
	ProtocolSignatureFound bool
	ClassificationMethod   string
	ContentType            *string
	IsSpendable            bool
	SpendabilityReason     SpendabilityReason
	RealPubkeyCount        uint8
	BurnKeyCount           uint8
	DataKeyCount           uint8
}

// Checkpoint records resumable progress for a pipeline stage.
type Checkpoint struct {
	Stage              string
	LastProcessedCount int64
	TotalProcessed     int64
	CSVLineNumber      *int64
	BatchNumber        int64
	UpdatedAt          int64
}
