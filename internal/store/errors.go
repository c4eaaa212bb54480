package store

import (
	"database/sql"
	"errors"
	"strings"
)

// Sentinel errors — the StoreError kind of spec §7. A failing batch
// operation rolls back its transaction and returns one of these, wrapped
// with context via fmt.Errorf("...: %w", ...).
var (
	ErrForeignKeyViolation = errors.New("foreign key constraint violated")
	ErrPreInsertAssertion  = errors.New("pre-insert assertion failed")
	ErrNotFound            = errors.New("row not found")
)

// classifyConstraintError maps an error returned by modernc.org/sqlite to
// one of the sentinels above by inspecting its message, so callers never
// match on driver-specific error types. SQLite itself does not distinguish
// error codes finely enough over database/sql to type-switch reliably; the
// RAISE(ABORT, ...) messages from the schema's triggers are matched
// verbatim since they are authored by this package's own migrations.
func classifyConstraintError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return ErrForeignKeyViolation
	case strings.Contains(msg, "P2MS output must reference multisig script_type"),
		strings.Contains(msg, "Classification violation"):
		return ErrPreInsertAssertion
	default:
		return err
	}
}

// isNoRows reports whether err is sql.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
