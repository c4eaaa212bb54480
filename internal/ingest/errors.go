package ingest

import "errors"

// Sentinel errors — the InvalidUtxoRecord / ScriptParseError kinds of spec §7.
var (
	ErrInvalidUTXORecord = errors.New("invalid utxo record")
	ErrScriptParse       = errors.New("script parse error")
)
