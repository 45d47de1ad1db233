package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLite is an embedded audit store for single-host deployments and the CLI.
type SQLite struct {
	conn *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS executions (
	id            TEXT PRIMARY KEY,
	language      TEXT NOT NULL,
	code_hash     TEXT NOT NULL,
	status        TEXT NOT NULL,
	success       BOOLEAN NOT NULL,
	output        TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	tests_passed  INTEGER,
	tests_total   INTEGER,
	runtime_ms    INTEGER NOT NULL,
	warnings      INTEGER NOT NULL DEFAULT 0,
	request_ip    TEXT NOT NULL DEFAULT '',
	api_key_hash  TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	completed_at  DATETIME
);
CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions (created_at);`

// NewSQLite opens (or creates) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases
	// from splitting across pool connections.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: migrating schema: %w", err)
	}

	log.Info().Str("path", path).Msg("opened SQLite audit store")
	return &SQLite{conn: conn}, nil
}

// Close closes the database.
func (s *SQLite) Close() {
	if err := s.conn.Close(); err != nil {
		log.Warn().Err(err).Msg("sqlite: close failed")
	}
}

// Healthy checks database connectivity.
func (s *SQLite) Healthy(ctx context.Context) bool {
	return s.conn.PingContext(ctx) == nil
}

// LogExecution inserts an execution record. Re-logging an id is a no-op.
func (s *SQLite) LogExecution(ctx context.Context, exec *Execution) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO executions (id, language, code_hash, status, success, output, error,
			tests_passed, tests_total, runtime_ms, warnings,
			request_ip, api_key_hash, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.Language, exec.CodeHash, exec.Status, exec.Success,
		truncateForDB(exec.Output, maxStoredOutput),
		truncateForDB(exec.Error, maxStoredOutput),
		exec.TestsPassed, exec.TestsTotal, exec.RuntimeMS, exec.Warnings,
		exec.RequestIP, exec.APIKeyHash,
		exec.CreatedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting execution: %w", err)
	}
	return nil
}

// GetExecution retrieves a single execution by ID.
func (s *SQLite) GetExecution(ctx context.Context, id string) (*Execution, error) {
	var exec Execution
	err := s.conn.QueryRowContext(ctx, `
		SELECT id, language, code_hash, status, success, output, error,
			tests_passed, tests_total, runtime_ms, warnings,
			request_ip, api_key_hash, created_at, completed_at
		FROM executions WHERE id = ?`, id).Scan(
		&exec.ID, &exec.Language, &exec.CodeHash, &exec.Status, &exec.Success,
		&exec.Output, &exec.Error,
		&exec.TestsPassed, &exec.TestsTotal, &exec.RuntimeMS, &exec.Warnings,
		&exec.RequestIP, &exec.APIKeyHash,
		&exec.CreatedAt, &exec.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying execution %s: %w", id, err)
	}
	return &exec, nil
}

// ListExecutions queries executions with optional filters, newest first.
func (s *SQLite) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, language, code_hash, status, success,
			tests_passed, tests_total, runtime_ms, warnings, created_at, completed_at
		FROM executions
		WHERE (? = '' OR language = ?)
		  AND (? = '' OR status = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		filter.Language, filter.Language, filter.Status, filter.Status, filter.limit(), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying executions: %w", err)
	}
	defer rows.Close()

	var results []Execution
	for rows.Next() {
		var exec Execution
		if err := rows.Scan(
			&exec.ID, &exec.Language, &exec.CodeHash, &exec.Status, &exec.Success,
			&exec.TestsPassed, &exec.TestsTotal, &exec.RuntimeMS, &exec.Warnings,
			&exec.CreatedAt, &exec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning execution row: %w", err)
		}
		results = append(results, exec)
	}
	return results, rows.Err()
}
