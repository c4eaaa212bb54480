package store_test

import (
	"context"
	"testing"

	"github.com/deadmanoz/p2ms-analyzer/internal/models"
	"github.com/deadmanoz/p2ms-analyzer/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.RunMigrations(); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func strPtr(s string) *string { return &s }

func TestGetSenderAddressFromLargestInput(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	item := store.EnrichmentItem{
		Tx: models.EnrichedTransaction{Txid: "tx1", Height: 100, InputCount: 3, OutputCount: 1},
		Outputs: []models.TransactionOutput{
			{Txid: "tx1", Vout: 0, Height: 100, Amount: 1000, ScriptHex: "51ae", ScriptType: models.ScriptMultisig},
		},
		Inputs: []models.TransactionInput{
			{Txid: "tx1", InputIndex: 0, PrevTxid: "prev0", Value: 100, SourceAddress: strPtr("addrA")},
			{Txid: "tx1", InputIndex: 1, PrevTxid: "prev1", Value: 500, SourceAddress: strPtr("addrB")},
			{Txid: "tx1", InputIndex: 2, PrevTxid: "prev2", Value: 100, SourceAddress: strPtr("addrA")},
		},
	}
	if err := st.EnrichedTransactionsBatch(ctx, []store.EnrichmentItem{item}); err != nil {
		t.Fatalf("seed tx1: %v", err)
	}

	got, err := st.GetSenderAddressFromLargestInput(ctx, "tx1")
	if err != nil {
		t.Fatalf("GetSenderAddressFromLargestInput: %v", err)
	}
	if got != "addrB" {
		t.Errorf("expected addrB (largest summed input value 500 > addrA's 200), got %v", got)
	}

	if first, err := st.GetFirstInputTxid(ctx, "tx1"); err != nil || first != "prev0" {
		t.Errorf("expected first input txid prev0, got %v, err %v", first, err)
	}
}

func TestGetSenderAddressFromLargestInput_NoSourceAddress(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	item := store.EnrichmentItem{
		Tx: models.EnrichedTransaction{Txid: "tx2", Height: 100, InputCount: 1, OutputCount: 1},
		Outputs: []models.TransactionOutput{
			{Txid: "tx2", Vout: 0, Height: 100, Amount: 1000, ScriptHex: "51ae", ScriptType: models.ScriptMultisig},
		},
		Inputs: []models.TransactionInput{
			{Txid: "tx2", InputIndex: 0, PrevTxid: "prev0", Value: 100},
		},
	}
	if err := st.EnrichedTransactionsBatch(ctx, []store.EnrichmentItem{item}); err != nil {
		t.Fatalf("seed tx2: %v", err)
	}

	if _, err := st.GetSenderAddressFromLargestInput(ctx, "tx2"); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound when no input resolves a source address, got %v", err)
	}
}
