package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/deadmanoz/p2ms-analyzer/internal/models"
)

// SaveCheckpoint records resumable progress for stage, replacing any
// previous checkpoint row for that stage.
func (s *Store) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO processing_checkpoints
			(stage, last_processed_count, total_processed, csv_line_number, batch_number, updated_at)
		VALUES (?, ?, ?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT(stage) DO UPDATE SET
			last_processed_count = excluded.last_processed_count,
			total_processed = excluded.total_processed,
			csv_line_number = excluded.csv_line_number,
			batch_number = excluded.batch_number,
			updated_at = excluded.updated_at
	`, cp.Stage, cp.LastProcessedCount, cp.TotalProcessed, cp.CSVLineNumber, cp.BatchNumber)
	if err != nil {
		return fmt.Errorf("save checkpoint for stage %q: %w", cp.Stage, err)
	}
	return nil
}

// GetCheckpoint returns the checkpoint for stage, or (nil, nil) if none
// has been recorded yet.
func (s *Store) GetCheckpoint(ctx context.Context, stage string) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	var csvLine sql.NullInt64
	err := s.conn.QueryRowContext(ctx, `
		SELECT stage, last_processed_count, total_processed, csv_line_number, batch_number, updated_at
		FROM processing_checkpoints WHERE stage = ?
	`, stage).Scan(&cp.Stage, &cp.LastProcessedCount, &cp.TotalProcessed, &csvLine, &cp.BatchNumber, &cp.UpdatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint for stage %q: %w", stage, err)
	}
	if csvLine.Valid {
		v := csvLine.Int64
		cp.CSVLineNumber = &v
	}
	return &cp, nil
}

// ClearCheckpoint removes the checkpoint for stage (used after a stage
// finishes a full pass, so the next invocation starts fresh).
func (s *Store) ClearCheckpoint(ctx context.Context, stage string) error {
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM processing_checkpoints WHERE stage = ?`, stage); err != nil {
		return fmt.Errorf("clear checkpoint for stage %q: %w", stage, err)
	}
	return nil
}
