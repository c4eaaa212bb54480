package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// UTXORecord is one row of the streamable UTXO snapshot (spec §4.2): at
// minimum {txid, vout, height, amount, script_hex, script_type, is_coinbase,
// script_size}.
type UTXORecord struct {
	Txid       string
	Vout       uint32
	Height     uint32
	AmountSats uint64
	ScriptHex  string
	ScriptType string
	IsCoinbase bool
	ScriptSize int
	LineNumber int64
}

// requiredColumns are the CSV header names ingest.Reader requires.
// script_size is optional — if absent it is derived from len(script_hex)/2.
var requiredColumns = []string{"txid", "vout", "height", "amount_sats", "script_hex", "script_type", "is_coinbase"}

// Reader streams UTXORecord rows from a CSV-formatted snapshot, tracking
// the 1-based line number of each row for checkpointing and error context.
type Reader struct {
	csv        *csv.Reader
	colIndex   map[string]int
	lineNumber int64
}

// NewReader wraps r as a UTXO snapshot reader, consuming its header row.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrInvalidUTXORecord, err)
	}

	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[name] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("%w: missing required column %q", ErrInvalidUTXORecord, col)
		}
	}

	return &Reader{csv: cr, colIndex: colIndex, lineNumber: 1}, nil
}

// SkipTo advances past lineNumber rows without parsing them, for resuming
// from a checkpoint.
func (r *Reader) SkipTo(lineNumber int64) error {
	for r.lineNumber < lineNumber {
		if _, err := r.csv.Read(); err != nil {
			return fmt.Errorf("skip to line %d: %w", lineNumber, err)
		}
		r.lineNumber++
	}
	return nil
}

// Next reads one UTXORecord, or io.EOF when the snapshot is exhausted.
func (r *Reader) Next() (UTXORecord, error) {
	row, err := r.csv.Read()
	if err == io.EOF {
		return UTXORecord{}, io.EOF
	}
	if err != nil {
		return UTXORecord{}, fmt.Errorf("%w: line %d: %v", ErrInvalidUTXORecord, r.lineNumber+1, err)
	}
	r.lineNumber++

	rec, err := r.parseRow(row)
	if err != nil {
		return UTXORecord{}, fmt.Errorf("%w: line %d: %v", ErrInvalidUTXORecord, r.lineNumber, err)
	}
	rec.LineNumber = r.lineNumber
	return rec, nil
}

func (r *Reader) parseRow(row []string) (UTXORecord, error) {
	col := func(name string) string { return row[r.colIndex[name]] }

	vout, err := strconv.ParseUint(col("vout"), 10, 32)
	if err != nil {
		return UTXORecord{}, fmt.Errorf("parse vout: %w", err)
	}
	height, err := strconv.ParseUint(col("height"), 10, 32)
	if err != nil {
		return UTXORecord{}, fmt.Errorf("parse height: %w", err)
	}
	amount, err := strconv.ParseUint(col("amount_sats"), 10, 64)
	if err != nil {
		return UTXORecord{}, fmt.Errorf("parse amount_sats: %w", err)
	}
	isCoinbase, err := strconv.ParseBool(col("is_coinbase"))
	if err != nil {
		return UTXORecord{}, fmt.Errorf("parse is_coinbase: %w", err)
	}

	scriptHex := col("script_hex")
	scriptSize := len(scriptHex) / 2
	if idx, ok := r.colIndex["script_size"]; ok && row[idx] != "" {
		if n, err := strconv.Atoi(row[idx]); err == nil {
			scriptSize = n
		}
	}

	if col("txid") == "" {
		return UTXORecord{}, fmt.Errorf("empty txid")
	}

	return UTXORecord{
		Txid:       col("txid"),
		Vout:       uint32(vout),
		Height:     uint32(height),
		AmountSats: amount,
		ScriptHex:  scriptHex,
		ScriptType: col("script_type"),
		IsCoinbase: isCoinbase,
		ScriptSize: scriptSize,
	}, nil
}
