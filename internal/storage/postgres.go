package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps a PostgreSQL connection pool for audit logging.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, opts Options) (*DB, error) {
	config, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	if opts.MaxOpenConns > 0 {
		config.MaxConns = int32(opts.MaxOpenConns)
	}
	config.MinConns = 2
	if config.MinConns > config.MaxConns {
		config.MinConns = config.MaxConns
	}
	config.MaxConnLifetime = 5 * time.Minute
	if opts.ConnMaxLifetime > 0 {
		config.MaxConnLifetime = opts.ConnMaxLifetime
	}
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

const postgresSchema = `
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
	runtime_ms    BIGINT NOT NULL,
	warnings      INTEGER NOT NULL DEFAULT 0,
	request_ip    TEXT NOT NULL DEFAULT '',
	api_key_hash  TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_executions_language_status ON executions (language, status);`

// Migrate creates the audit schema if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// LogExecution inserts an execution record into the audit log.
func (db *DB) LogExecution(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO executions (id, language, code_hash, status, success, output, error,
			tests_passed, tests_total, runtime_ms, warnings,
			request_ip, api_key_hash, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`

	_, err := db.pool.Exec(ctx, query,
		exec.ID, exec.Language, exec.CodeHash, exec.Status, exec.Success,
		truncateForDB(exec.Output, maxStoredOutput),
		truncateForDB(exec.Error, maxStoredOutput),
		exec.TestsPassed, exec.TestsTotal, exec.RuntimeMS, exec.Warnings,
		exec.RequestIP, exec.APIKeyHash,
		exec.CreatedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// GetExecution retrieves a single execution by ID.
func (db *DB) GetExecution(ctx context.Context, id string) (*Execution, error) {
	query := `
		SELECT id, language, code_hash, status, success, output, error,
			tests_passed, tests_total, runtime_ms, warnings,
			request_ip, api_key_hash, created_at, completed_at
		FROM executions WHERE id = $1`

	var exec Execution
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&exec.ID, &exec.Language, &exec.CodeHash, &exec.Status, &exec.Success,
		&exec.Output, &exec.Error,
		&exec.TestsPassed, &exec.TestsTotal, &exec.RuntimeMS, &exec.Warnings,
		&exec.RequestIP, &exec.APIKeyHash,
		&exec.CreatedAt, &exec.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying execution %s: %w", id, err)
	}
	return &exec, nil
}

// ListExecutions queries executions with optional filters, newest first.
func (db *DB) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error) {
	query := `
		SELECT id, language, code_hash, status, success,
			tests_passed, tests_total, runtime_ms, warnings, created_at, completed_at
		FROM executions
		WHERE ($1 = '' OR language = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := db.pool.Query(ctx, query,
		filter.Language, filter.Status, filter.limit(), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
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
			return nil, fmt.Errorf("scanning execution row: %w", err)
		}
		results = append(results, exec)
	}

	return results, rows.Err()
}
