package enrich

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/deadmanoz/p2ms-analyzer/internal/config"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
	"github.com/deadmanoz/p2ms-analyzer/internal/rpcclient"
	"github.com/deadmanoz/p2ms-analyzer/internal/store"
)

// fakeRPC is an in-memory stand-in for *rpcclient.Client, keyed by txid and
// block hash, so Stage 2 tests never dial a real node.
type fakeRPC struct {
	txs     map[string]*btcjson.TxRawResult
	headers map[string]*btcjson.GetBlockHeaderVerboseResult
}

func (f *fakeRPC) GetRawTransactionVerbose(ctx context.Context, txidHex string) (*btcjson.TxRawResult, error) {
	tx, ok := f.txs[txidHex]
	if !ok {
		return nil, rpcclient.ErrTransactionNotFound
	}
	return tx, nil
}

func (f *fakeRPC) GetBlockHeaderVerbose(ctx context.Context, blockHash *chainhash.Hash) (*btcjson.GetBlockHeaderVerboseResult, error) {
	h, ok := f.headers[blockHash.String()]
	if !ok {
		return nil, rpcclient.ErrBlockNotFound
	}
	return h, nil
}

func (f *fakeRPC) GetBlockTimestamp(ctx context.Context, height int64) (string, int64, error) {
	for hash, h := range f.headers {
		if int64(h.Height) == height {
			return hash, h.Time, nil
		}
	}
	return "", 0, rpcclient.ErrBlockNotFound
}

const testBlockHash = "000000000000000000000000aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func p2msVout(n uint32, sats uint64) btcjson.Vout {
	return btcjson.Vout{
		Value: float64(sats) / 1e8,
		N:     n,
		ScriptPubKey: btcjson.ScriptPubKeyResult{
			Type: "multisig",
			Hex:  "51" + testPubkeyPush + "51ae", // OP_1 <pubkey> OP_1 OP_CHECKMULTISIG
		},
	}
}

// testPubkeyPush is a single compressed-pubkey push: 0x21 (33) + 33-byte key.
const testPubkeyPush = "21" + "02" + "1111111111111111111111111111111111111111111111111111111111111111"

func TestScriptTypeFromRPC_MapsKnownTypes(t *testing.T) {
	cases := []struct {
		rpcType string
		want    models.ScriptType
	}{
		{"pubkeyhash", models.ScriptP2PKH},
		{"scripthash", models.ScriptP2SH},
		{"witness_v0_keyhash", models.ScriptP2WPKH},
		{"witness_v0_scripthash", models.ScriptP2WSH},
		{"witness_v1_taproot", models.ScriptP2TR},
		{"pubkey", models.ScriptP2PK},
		{"nulldata", models.ScriptOpReturn},
		{"somethingelse", models.ScriptUnknown},
	}
	for _, c := range cases {
		got, _, _, _ := scriptTypeFromRPC("tx", 0, c.rpcType, "")
		if got != c.want {
			t.Errorf("rpcType=%q: got %v, want %v", c.rpcType, got, c.want)
		}
	}
}

func TestScriptTypeFromRPC_ParsesMultisigPubkeys(t *testing.T) {
	scriptHex := "51" + testPubkeyPush + "51ae"
	got, pubkeys, required, total := scriptTypeFromRPC("tx", 0, "multisig", scriptHex)
	if got != models.ScriptMultisig {
		t.Fatalf("expected multisig, got %v", got)
	}
	if required != 1 || total != 1 || len(pubkeys) != 1 {
		t.Errorf("expected 1-of-1 with one pubkey, got required=%d total=%d pubkeys=%v", required, total, pubkeys)
	}
}

func TestEnrichOne_ComputesFeeAndP2MSTotals(t *testing.T) {
	const txid = "abc123"
	rpc := &fakeRPC{
		txs: map[string]*btcjson.TxRawResult{
			"prev1": {
				Txid: "prev1",
				Vout: []btcjson.Vout{{
					Value: 0.0002, // 20000 sats
					N:     0,
					ScriptPubKey: btcjson.ScriptPubKeyResult{
						Type: "pubkeyhash", Address: "1SourceAddr",
					},
				}},
			},
			txid: {
				Txid:      txid,
				BlockHash: testBlockHash,
				Size:      250,
				Vsize:     200,
				Vin: []btcjson.Vin{
					{Txid: "prev1", Vout: 0},
				},
				Vout: []btcjson.Vout{p2msVout(0, 15000)},
			},
		},
		headers: map[string]*btcjson.GetBlockHeaderVerboseResult{
			testBlockHash: {Height: 700000, Time: 1_650_000_000},
		},
	}

	item, err := enrichOne(context.Background(), rpc, txid)
	if err != nil {
		t.Fatalf("enrichOne: %v", err)
	}

	if item.Tx.Height != 700000 {
		t.Errorf("expected height resolved from block header, got %d", item.Tx.Height)
	}
	if item.Tx.TotalInputValue != 20000 {
		t.Errorf("expected total input value 20000, got %d", item.Tx.TotalInputValue)
	}
	if item.Tx.TotalOutputValue != 15000 {
		t.Errorf("expected total output value 15000, got %d", item.Tx.TotalOutputValue)
	}
	if item.Tx.TransactionFee != 5000 {
		t.Errorf("expected fee 5000, got %d", item.Tx.TransactionFee)
	}
	if item.Tx.TotalP2MSAmount != 15000 {
		t.Errorf("expected p2ms amount 15000, got %d", item.Tx.TotalP2MSAmount)
	}
	if item.Tx.TransactionSizeBytes != 200 {
		t.Errorf("expected vsize preferred over size, got %d", item.Tx.TransactionSizeBytes)
	}
	if len(item.Inputs) != 1 || item.Inputs[0].Value != 20000 {
		t.Fatalf("expected resolved input value 20000, got %+v", item.Inputs)
	}
	if item.Inputs[0].SourceAddress == nil || *item.Inputs[0].SourceAddress != "1SourceAddr" {
		t.Errorf("expected resolved source_address, got %+v", item.Inputs[0].SourceAddress)
	}
}

func TestEnrichOne_CoinbaseHasNoResolvedInputValue(t *testing.T) {
	const txid = "coinbasetx"
	rpc := &fakeRPC{
		txs: map[string]*btcjson.TxRawResult{
			txid: {
				Txid:      txid,
				BlockHash: testBlockHash,
				Size:      150,
				Vin:       []btcjson.Vin{{Coinbase: "03deadbeef"}},
				Vout:      []btcjson.Vout{{Value: 0.5, N: 0, ScriptPubKey: btcjson.ScriptPubKeyResult{Type: "pubkeyhash"}}},
			},
		},
		headers: map[string]*btcjson.GetBlockHeaderVerboseResult{
			testBlockHash: {Height: 700001, Time: 1_650_000_100},
		},
	}

	item, err := enrichOne(context.Background(), rpc, txid)
	if err != nil {
		t.Fatalf("enrichOne: %v", err)
	}
	if !item.Tx.IsCoinbase {
		t.Error("expected is_coinbase=true")
	}
	if item.Tx.TotalInputValue != 0 {
		t.Errorf("expected zero input value for coinbase, got %d", item.Tx.TotalInputValue)
	}
	if item.Inputs[0].PrevTxid != "" {
		t.Errorf("expected empty prev_txid for coinbase input, got %q", item.Inputs[0].PrevTxid)
	}
}

// fakeEnrichStore is an in-memory stand-in for *store.Store's Stage 2 surface.
type fakeEnrichStore struct {
	queue      []string
	written    []store.EnrichmentItem
	checkpoint *models.Checkpoint
}

func (f *fakeEnrichStore) GetUnprocessedTransactions(ctx context.Context, limit int) ([]string, error) {
	if len(f.queue) == 0 {
		return nil, nil
	}
	n := limit
	if n > len(f.queue) {
		n = len(f.queue)
	}
	batch := f.queue[:n]
	f.queue = f.queue[n:]
	return batch, nil
}

func (f *fakeEnrichStore) EnrichedTransactionsBatch(ctx context.Context, items []store.EnrichmentItem) error {
	f.written = append(f.written, items...)
	return nil
}

func (f *fakeEnrichStore) GetHeightsNeedingBlockInfo(ctx context.Context, txids []string) ([]uint32, error) {
	return nil, nil
}

func (f *fakeEnrichStore) UpdateBlocksBatch(ctx context.Context, blocks []models.Block) error {
	return nil
}

func (f *fakeEnrichStore) GetCheckpoint(ctx context.Context, stage string) (*models.Checkpoint, error) {
	return f.checkpoint, nil
}

func (f *fakeEnrichStore) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	f.checkpoint = &cp
	return nil
}

func TestRun_ProcessesAllQueuedTransactionsAcrossBatches(t *testing.T) {
	rpc := &fakeRPC{
		txs: map[string]*btcjson.TxRawResult{
			"tx1": {Txid: "tx1", BlockHash: testBlockHash, Size: 200, Vout: []btcjson.Vout{p2msVout(0, 1000)}},
			"tx2": {Txid: "tx2", BlockHash: testBlockHash, Size: 200, Vout: []btcjson.Vout{p2msVout(0, 2000)}},
			"tx3": {Txid: "tx3", BlockHash: testBlockHash, Size: 200, Vout: []btcjson.Vout{p2msVout(0, 3000)}},
		},
		headers: map[string]*btcjson.GetBlockHeaderVerboseResult{
			testBlockHash: {Height: 800000, Time: 1_700_000_000},
		},
	}
	st := &fakeEnrichStore{queue: []string{"tx1", "tx2", "tx3"}}
	cfg := &config.Config{Stage2BatchSize: 2, RPCConcurrentRequests: 4, Stage2ProgressInterval: 100}

	if err := Run(context.Background(), rpc, st, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.written) != 3 {
		t.Fatalf("expected 3 transactions written, got %d", len(st.written))
	}
	if st.checkpoint == nil || st.checkpoint.TotalProcessed != 3 {
		t.Errorf("expected checkpoint total_processed=3, got %+v", st.checkpoint)
	}
}

func TestRun_SkipsTransactionNotFoundWithoutFailingBatch(t *testing.T) {
	rpc := &fakeRPC{
		txs: map[string]*btcjson.TxRawResult{
			"tx1": {Txid: "tx1", BlockHash: testBlockHash, Size: 200, Vout: []btcjson.Vout{p2msVout(0, 1000)}},
		},
		headers: map[string]*btcjson.GetBlockHeaderVerboseResult{
			testBlockHash: {Height: 800000, Time: 1_700_000_000},
		},
	}
	st := &fakeEnrichStore{queue: []string{"tx1", "missing-txid"}}
	cfg := &config.Config{Stage2BatchSize: 10, RPCConcurrentRequests: 4, Stage2ProgressInterval: 100}

	if err := Run(context.Background(), rpc, st, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.written) != 1 {
		t.Fatalf("expected the missing txid to be skipped, got %d written", len(st.written))
	}
}
