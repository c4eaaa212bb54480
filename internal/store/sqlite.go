// Package store is the single-file embedded relational store: schema
// migrations, FK-enforced batch writers, and the read-only query surface
// consumed by internal/aggregate. Backed by modernc.org/sqlite (pure Go,
// no cgo), the same storage engine the teacher repository embeds.
package store

import (
	"bufio"
	"bytes"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

// Store wraps the database connection and exposes the batch-write and
// read operations of spec §4.1.
type Store struct {
	conn *sql.DB
	path string
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open creates (if necessary) and opens the store at path, enabling WAL
// mode and foreign key enforcement.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	conn.SetMaxOpenConns(1) // single-writer store; see spec §5 "exclusive to one stage at a time"

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &Store{conn: conn, path: path}, nil
}

// DB exposes the underlying connection for internal/aggregate's read-only
// queries. Aggregation never writes, so it is given the raw *sql.DB rather
// than a method added to every query here.
func (s *Store) DB() *sql.DB {
	return s.conn
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// RunMigrations applies any migration file under migrations/ not yet
// recorded in schema_migrations, in filename order, each inside its own
// transaction.
func (s *Store) RunMigrations() error {
	if _, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL DEFAULT (unixepoch())
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied := make(map[int]bool)
	rows, err := s.conn.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan applied migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	for _, entry := range entries {
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d", &version); err != nil {
			return fmt.Errorf("parse migration version from filename %q: %w", entry.Name(), err)
		}
		if applied[version] {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		slog.Info("applying migration", "file", entry.Name(), "version", version)

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration transaction: %w", err)
		}
		if err := execScript(tx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %q: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %q: %w", entry.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %q: %w", entry.Name(), err)
		}
	}

	return nil
}

// execScript runs a multi-statement SQL script within tx. Statements are
// terminated by a line ending in ";", except inside a CREATE TRIGGER ...
// BEGIN ... END; body, which is terminated only by a line that is
// exactly "END;" — triggers contain their own internal semicolons.
func execScript(tx *sql.Tx, script string) error {
	scanner := bufio.NewScanner(strings.NewReader(script))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var stmt bytes.Buffer
	inTrigger := false
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		stmt.WriteString(line)
		stmt.WriteString("\n")

		upper := strings.ToUpper(trimmed)
		if strings.HasPrefix(upper, "CREATE TRIGGER") {
			inTrigger = true
		}

		terminated := (inTrigger && upper == "END;") || (!inTrigger && strings.HasSuffix(trimmed, ";"))
		if terminated {
			if _, err := tx.Exec(stmt.String()); err != nil {
				return fmt.Errorf("exec statement %q: %w", strings.TrimSpace(stmt.String()), err)
			}
			stmt.Reset()
			inTrigger = false
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan migration script: %w", err)
	}
	if strings.TrimSpace(stmt.String()) != "" {
		if _, err := tx.Exec(stmt.String()); err != nil {
			return fmt.Errorf("exec trailing statement %q: %w", strings.TrimSpace(stmt.String()), err)
		}
	}
	return nil
}
