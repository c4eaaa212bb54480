// Package enrich implements Stage 2 of the pipeline: turning the bare
// P2MS-bearing outputs Stage 1 recorded into full EnrichedTransaction rows
// with fee math, every input/output, and burn-pattern detection, by asking
// a Bitcoin node for each transaction's full detail over RPC (spec §4.3).
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/deadmanoz/p2ms-analyzer/internal/burn"
	"github.com/deadmanoz/p2ms-analyzer/internal/config"
	"github.com/deadmanoz/p2ms-analyzer/internal/ingest"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
	"github.com/deadmanoz/p2ms-analyzer/internal/rpcclient"
	"github.com/deadmanoz/p2ms-analyzer/internal/store"
)

// rpcCollaborator is the subset of *rpcclient.Client Stage 2 depends on.
type rpcCollaborator interface {
	GetRawTransactionVerbose(ctx context.Context, txidHex string) (*btcjson.TxRawResult, error)
	GetBlockHeaderVerbose(ctx context.Context, blockHash *chainhash.Hash) (*btcjson.GetBlockHeaderVerboseResult, error)
	GetBlockTimestamp(ctx context.Context, height int64) (hash string, timestamp int64, err error)
}

// enrichStore is the subset of *store.Store Stage 2 depends on.
type enrichStore interface {
	GetUnprocessedTransactions(ctx context.Context, limit int) ([]string, error)
	EnrichedTransactionsBatch(ctx context.Context, items []store.EnrichmentItem) error
	GetHeightsNeedingBlockInfo(ctx context.Context, txids []string) ([]uint32, error)
	UpdateBlocksBatch(ctx context.Context, blocks []models.Block) error
	GetCheckpoint(ctx context.Context, stage string) (*models.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error
}

const stageName = "stage2"

// p2msMetadata mirrors the JSON shape store.parseP2MSFromMetadata expects.
type p2msMetadata struct {
	RequiredSigs uint8    `json:"required_sigs"`
	TotalPubkeys uint8    `json:"total_pubkeys"`
	Pubkeys      []string `json:"pubkeys"`
}

// Run drives Stage 2 to completion: repeatedly selects a batch of
// unprocessed P2MS-bearing txids, fetches and enriches each with bounded
// concurrency, writes the batch atomically, then backfills any block
// headers the batch newly referenced. Stops when no unprocessed
// transactions remain. Resumes from any existing "stage2" checkpoint.
func Run(ctx context.Context, rpc rpcCollaborator, st enrichStore, cfg *config.Config) error {
	cp, err := st.GetCheckpoint(ctx, stageName)
	if err != nil {
		return fmt.Errorf("load stage2 checkpoint: %w", err)
	}
	var batchNumber, totalProcessed int64
	if cp != nil {
		batchNumber = cp.BatchNumber
		totalProcessed = cp.TotalProcessed
	}

	for {
		txids, err := st.GetUnprocessedTransactions(ctx, cfg.Stage2BatchSize)
		if err != nil {
			return fmt.Errorf("select unprocessed transactions: %w", err)
		}
		if len(txids) == 0 {
			break
		}

		items, err := enrichBatch(ctx, rpc, txids, cfg.RPCConcurrentRequests)
		if err != nil {
			return fmt.Errorf("enrich batch %d: %w", batchNumber+1, err)
		}

		if err := st.EnrichedTransactionsBatch(ctx, items); err != nil {
			return fmt.Errorf("write batch %d: %w", batchNumber+1, err)
		}
		backfillBlocks(ctx, rpc, st, txids)

		batchNumber++
		prevProcessed := totalProcessed
		totalProcessed += int64(len(items))
		if err := st.SaveCheckpoint(ctx, models.Checkpoint{
			Stage:              stageName,
			LastProcessedCount: int64(len(items)),
			TotalProcessed:     totalProcessed,
			BatchNumber:        batchNumber,
		}); err != nil {
			return fmt.Errorf("save stage2 checkpoint: %w", err)
		}

		interval := int64(cfg.Stage2ProgressInterval)
		if interval > 0 && totalProcessed/interval > prevProcessed/interval {
			slog.Info("stage2 progress", "total_processed", totalProcessed, "batch", batchNumber)
		}
	}

	slog.Info("stage2 complete", "total_processed", totalProcessed)
	return nil
}

// enrichBatch fetches and enriches every txid with up to concurrency RPC
// calls in flight at once, then reassembles results in txids order before
// returning — the deterministic ordering spec §4.3 requires before the
// store transaction. A txid classified as "transaction not found" is
// dropped with a warning; any other error fails the whole batch.
func enrichBatch(ctx context.Context, rpc rpcCollaborator, txids []string, concurrency int) ([]store.EnrichmentItem, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	type outcome struct {
		item store.EnrichmentItem
		skip bool
		err  error
	}
	results := make([]outcome, len(txids))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, txid := range txids {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, txid string) {
			defer wg.Done()
			defer func() { <-sem }()

			item, err := enrichOne(ctx, rpc, txid)
			switch {
			case errors.Is(err, rpcclient.ErrTransactionNotFound):
				slog.Warn("transaction not found on node, skipping", "txid", txid)
				results[i] = outcome{skip: true}
			case err != nil:
				results[i] = outcome{err: err}
			default:
				results[i] = outcome{item: item}
			}
		}(i, txid)
	}
	wg.Wait()

	items := make([]store.EnrichmentItem, 0, len(txids))
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		if r.skip {
			continue
		}
		items = append(items, r.item)
	}
	return items, nil
}

// enrichOne fetches txid's full transaction, resolves its block height,
// resolves every input's value/source_address from its previous
// transaction, and computes the fee fields of spec §4.3 step 3.
func enrichOne(ctx context.Context, rpc rpcCollaborator, txid string) (store.EnrichmentItem, error) {
	raw, err := rpc.GetRawTransactionVerbose(ctx, txid)
	if err != nil {
		return store.EnrichmentItem{}, err
	}

	height, err := resolveHeight(ctx, rpc, raw.BlockHash)
	if err != nil {
		return store.EnrichmentItem{}, fmt.Errorf("resolve height for %s: %w", txid, err)
	}

	isCoinbase := len(raw.Vin) == 1 && raw.Vin[0].Coinbase != ""

	outputs := make([]models.TransactionOutput, 0, len(raw.Vout))
	var p2msOutputs []models.P2MSOutput
	var totalOutputValue, totalP2MSAmount uint64
	var p2msScriptSizeSum int

	for _, vout := range raw.Vout {
		scriptType, pubkeys, required, total := scriptTypeFromRPC(txid, vout.N, vout.ScriptPubKey.Type, vout.ScriptPubKey.Hex)
		amount := btcToSats(vout.Value)
		scriptSize := len(vout.ScriptPubKey.Hex) / 2

		var metadata json.RawMessage
		if scriptType == models.ScriptMultisig {
			meta, merr := json.Marshal(p2msMetadata{RequiredSigs: required, TotalPubkeys: total, Pubkeys: pubkeys})
			if merr != nil {
				return store.EnrichmentItem{}, fmt.Errorf("marshal p2ms metadata for %s:%d: %w", txid, vout.N, merr)
			}
			metadata = meta
			totalP2MSAmount += amount
			p2msScriptSizeSum += scriptSize
			p2msOutputs = append(p2msOutputs, models.P2MSOutput{
				Txid: txid, Vout: vout.N, RequiredSigs: required, TotalPubkeys: total, Pubkeys: pubkeys,
			})
		}

		outputs = append(outputs, models.TransactionOutput{
			Txid:       txid,
			Vout:       vout.N,
			Height:     height,
			Amount:     amount,
			ScriptHex:  vout.ScriptPubKey.Hex,
			ScriptType: scriptType,
			ScriptSize: scriptSize,
			IsCoinbase: isCoinbase,
			Address:    addressPtr(vout.ScriptPubKey),
			Metadata:   metadata,
		})
		totalOutputValue += amount
	}

	inputs, totalInputValue := resolveInputs(ctx, rpc, raw)

	txSize := int(raw.Vsize)
	if txSize == 0 {
		txSize = int(raw.Size)
	}
	fee := int64(totalInputValue) - int64(totalOutputValue)

	var feePerByte, feePerKB, dataStorageFeeRate float64
	if txSize > 0 {
		feePerByte = float64(fee) / float64(txSize)
		feePerKB = feePerByte * 1000
	}
	if p2msScriptSizeSum > 0 {
		dataStorageFeeRate = float64(fee) / float64(p2msScriptSizeSum)
	}

	enriched := models.EnrichedTransaction{
		Txid:                 txid,
		Height:               height,
		TotalInputValue:      totalInputValue,
		TotalOutputValue:     totalOutputValue,
		TransactionFee:       fee,
		FeePerByte:           feePerByte,
		TransactionSizeBytes: txSize,
		FeePerKB:             feePerKB,
		TotalP2MSAmount:      totalP2MSAmount,
		DataStorageFeeRate:   dataStorageFeeRate,
		P2MSOutputsCount:     len(p2msOutputs),
		InputCount:           len(raw.Vin),
		OutputCount:          len(raw.Vout),
		IsCoinbase:           isCoinbase,
	}

	return store.EnrichmentItem{
		Tx:           enriched,
		Outputs:      outputs,
		Inputs:       inputs,
		BurnPatterns: burn.DetectBurnPatterns(p2msOutputs),
	}, nil
}

// resolveInputs resolves value and source_address for every input of raw
// by fetching each distinct previous transaction once. A previous
// transaction that cannot be fetched leaves those fields at their zero
// value — best-effort per spec §4.3's failure semantics.
func resolveInputs(ctx context.Context, rpc rpcCollaborator, raw *btcjson.TxRawResult) ([]models.TransactionInput, uint64) {
	inputs := make([]models.TransactionInput, 0, len(raw.Vin))
	var totalInputValue uint64
	prevCache := make(map[string]*btcjson.TxRawResult)

	for i, vin := range raw.Vin {
		if vin.Txid == "" {
			inputs = append(inputs, models.TransactionInput{
				Txid:       raw.Txid,
				InputIndex: i,
				ScriptSig:  vin.Coinbase,
				Sequence:   vin.Sequence,
			})
			continue
		}

		prevTx, cached := prevCache[vin.Txid]
		if !cached {
			fetched, err := rpc.GetRawTransactionVerbose(ctx, vin.Txid)
			if err != nil {
				slog.Warn("failed to fetch previous transaction, source_address/value left unresolved",
					"txid", raw.Txid, "prev_txid", vin.Txid, "error", err)
			} else {
				prevTx = fetched
			}
			prevCache[vin.Txid] = prevTx
		}

		var value uint64
		var sourceAddress *string
		if prevTx != nil && int(vin.Vout) < len(prevTx.Vout) {
			pv := prevTx.Vout[vin.Vout]
			value = btcToSats(pv.Value)
			sourceAddress = addressPtr(pv.ScriptPubKey)
		}
		totalInputValue += value

		inputs = append(inputs, models.TransactionInput{
			Txid:          raw.Txid,
			InputIndex:    i,
			PrevTxid:      vin.Txid,
			PrevVout:      vin.Vout,
			Value:         value,
			ScriptSig:     scriptSigHex(vin),
			Sequence:      vin.Sequence,
			SourceAddress: sourceAddress,
		})
	}
	return inputs, totalInputValue
}

// resolveHeight fetches the block header for blockHashHex to learn its
// height — getrawtransaction's verbose result carries the containing
// block's hash but not its height.
func resolveHeight(ctx context.Context, rpc rpcCollaborator, blockHashHex string) (uint32, error) {
	hash, err := chainhash.NewHashFromStr(blockHashHex)
	if err != nil {
		return 0, fmt.Errorf("parse block hash %q: %w", blockHashHex, err)
	}
	header, err := rpc.GetBlockHeaderVerbose(ctx, hash)
	if err != nil {
		return 0, err
	}
	return uint32(header.Height), nil
}

// scriptTypeFromRPC maps a getrawtransaction scriptPubKey "type" string to
// models.ScriptType, parsing P2MS pubkeys out of multisig/nonstandard
// scripts the same way Stage 1 does for UTXO snapshot rows.
func scriptTypeFromRPC(txid string, vout uint32, rpcType, scriptHex string) (scriptType models.ScriptType, pubkeys []string, required, total uint8) {
	switch rpcType {
	case "pubkeyhash":
		return models.ScriptP2PKH, nil, 0, 0
	case "scripthash":
		return models.ScriptP2SH, nil, 0, 0
	case "witness_v0_keyhash":
		return models.ScriptP2WPKH, nil, 0, 0
	case "witness_v0_scripthash":
		return models.ScriptP2WSH, nil, 0, 0
	case "witness_v1_taproot":
		return models.ScriptP2TR, nil, 0, 0
	case "pubkey":
		return models.ScriptP2PK, nil, 0, 0
	case "nulldata":
		return models.ScriptOpReturn, nil, 0, 0
	case "multisig", "nonstandard":
		p, m, n, err := ingest.ParseP2MSScript(scriptHex)
		if err == nil {
			return models.ScriptMultisig, p, m, n
		}
		if rpcType == "multisig" {
			slog.Warn("multisig-tagged output failed P2MS script parse", "txid", txid, "vout", vout, "error", err)
			return models.ScriptMultisig, nil, 0, 0
		}
		return models.ScriptUnknown, nil, 0, 0
	default:
		return models.ScriptUnknown, nil, 0, 0
	}
}

// backfillBlocks fetches and writes the block header of every height the
// batch just referenced that still lacks one. Failures are logged and
// never fail the batch (spec §4.3 step 6).
func backfillBlocks(ctx context.Context, rpc rpcCollaborator, st enrichStore, txids []string) {
	heights, err := st.GetHeightsNeedingBlockInfo(ctx, txids)
	if err != nil {
		slog.Warn("failed to query heights needing block info", "error", err)
		return
	}
	if len(heights) == 0 {
		return
	}

	blocks := make([]models.Block, 0, len(heights))
	for _, h := range heights {
		hash, ts, err := rpc.GetBlockTimestamp(ctx, int64(h))
		if err != nil {
			slog.Warn("failed to backfill block header, skipping", "height", h, "error", err)
			continue
		}
		blocks = append(blocks, models.Block{Height: h, BlockHash: &hash, Timestamp: &ts})
	}
	if err := st.UpdateBlocksBatch(ctx, blocks); err != nil {
		slog.Warn("failed to write block backfill batch", "error", err)
	}
}

func addressPtr(spk btcjson.ScriptPubKeyResult) *string {
	if spk.Address != "" {
		a := spk.Address
		return &a
	}
	if len(spk.Addresses) > 0 {
		a := spk.Addresses[0]
		return &a
	}
	return nil
}

func scriptSigHex(vin btcjson.Vin) string {
	if vin.ScriptSig != nil {
		return vin.ScriptSig.Hex
	}
	return ""
}

func btcToSats(v float64) uint64 {
	return uint64(math.Round(v * 1e8))
}
