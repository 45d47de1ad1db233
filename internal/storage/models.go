package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no execution has the requested id.
var ErrNotFound = errors.New("execution not found")

// Execution represents a stored execution record. Source code is never
// stored, only its hash.
type Execution struct {
	ID          string     `json:"id" db:"id"`
	Language    string     `json:"language" db:"language"`
	CodeHash    string     `json:"code_hash" db:"code_hash"`
	Status      string     `json:"status" db:"status"`
	Success     bool       `json:"success" db:"success"`
	Output      string     `json:"output,omitempty" db:"output"`
	Error       string     `json:"error,omitempty" db:"error"`
	TestsPassed *int       `json:"tests_passed,omitempty" db:"tests_passed"`
	TestsTotal  *int       `json:"tests_total,omitempty" db:"tests_total"`
	RuntimeMS   int64      `json:"runtime_ms" db:"runtime_ms"`
	Warnings    int        `json:"warnings" db:"warnings"`
	RequestIP   string     `json:"request_ip" db:"request_ip"`
	APIKeyHash  string     `json:"api_key_hash,omitempty" db:"api_key_hash"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// ExecutionFilter provides criteria for querying executions.
type ExecutionFilter struct {
	Language string
	Status   string
	Limit    int
	Offset   int
}

func (f ExecutionFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return 100
	}
	return f.Limit
}

// Store is an audit log of finished executions.
type Store interface {
	LogExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error)
	Healthy(ctx context.Context) bool
	Close()
}

// Options selects and tunes the audit store.
type Options struct {
	Driver          string // "postgres" or "sqlite"
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the store selected by opts.Driver and creates its schema.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "postgres", "":
		db, err := New(ctx, opts)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	case "sqlite":
		return NewSQLite(ctx, opts.DSN)
	default:
		return nil, errors.New("unknown database driver " + opts.Driver)
	}
}

const maxStoredOutput = 65535

func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
