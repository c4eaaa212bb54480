package ingest

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// ParseP2MSScript parses scriptHex into the P2MS shape
// `OP_M <pubkey>...<pubkey> OP_N OP_CHECKMULTISIG`, per spec §4.2. It
// tolerates nonstandard-typed scripts as long as they end in
// OP_CHECKMULTISIG / OP_CHECKMULTISIGVERIFY — these are real P2MS outputs
// whose pushed "pubkeys" may include data chunks of arbitrary length.
// total_pubkeys is the number of pushes actually found between M and the
// final two opcodes, which may differ from N's nominal encoded value for
// nonstandard scripts.
func ParseP2MSScript(scriptHex string) (pubkeys []string, requiredSigs uint8, totalPubkeys uint8, err error) {
	scriptBytes, err := hex.DecodeString(scriptHex)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: decode script hex: %v", ErrScriptParse, err)
	}

	type token struct {
		opcode byte
		data   []byte
	}

	var ops []token
	tok := txscript.MakeScriptTokenizer(0, scriptBytes)
	for tok.Next() {
		ops = append(ops, token{opcode: tok.Opcode(), data: tok.Data()})
	}
	if err := tok.Err(); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: tokenize script: %v", ErrScriptParse, err)
	}

	if len(ops) < 4 {
		return nil, 0, 0, fmt.Errorf("%w: script too short for P2MS", ErrScriptParse)
	}

	last := ops[len(ops)-1]
	if last.opcode != txscript.OP_CHECKMULTISIG && last.opcode != txscript.OP_CHECKMULTISIGVERIFY {
		return nil, 0, 0, fmt.Errorf("%w: script does not end in OP_CHECKMULTISIG", ErrScriptParse)
	}

	m, ok := smallIntValue(ops[0].opcode)
	if !ok {
		return nil, 0, 0, fmt.Errorf("%w: missing required-sigs opcode", ErrScriptParse)
	}

	nToken := ops[len(ops)-2]
	if _, ok := smallIntValue(nToken.opcode); !ok {
		return nil, 0, 0, fmt.Errorf("%w: missing total-pubkeys opcode", ErrScriptParse)
	}

	pushes := ops[1 : len(ops)-2]
	result := make([]string, 0, len(pushes))
	for _, p := range pushes {
		if p.data == nil {
			return nil, 0, 0, fmt.Errorf("%w: unexpected non-push opcode %#x between M and N", ErrScriptParse, p.opcode)
		}
		result = append(result, hex.EncodeToString(p.data))
	}

	return result, uint8(m), uint8(len(result)), nil
}

// smallIntValue decodes OP_0..OP_16 to its integer value.
func smallIntValue(op byte) (int, bool) {
	if op == txscript.OP_0 {
		return 0, true
	}
	if op >= txscript.OP_1 && op <= txscript.OP_16 {
		return int(op-txscript.OP_1) + 1, true
	}
	return 0, false
}
