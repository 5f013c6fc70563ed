// Package warehouse owns the destination database: connections, dialects and
// the tables, views and descriptors the archive pipeline writes to.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	arkerrors "github.com/loadtrail/loadtrail/internal/errors"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Options selects and tunes the warehouse connection pool.
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int

	// Description is logged instead of the DSN, which may hold secrets
	Description string
}

// Warehouse is a connection pool plus the dialect spoken over it.
type Warehouse struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the warehouse and verifies the connection.
func Open(ctx context.Context, opts Options) (*Warehouse, error) {
	dialect, err := DialectByName(opts.Driver)
	if err != nil {
		return nil, arkerrors.NewUsageError(arkerrors.CodeInvalidConfig, err.Error())
	}

	db, err := sql.Open(dialect.DriverName(), opts.DSN)
	if err != nil {
		return nil, arkerrors.NewTransactionError(arkerrors.CodeConnectFailed, "failed to open warehouse", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
		if dialect.Name() == DialectSQLite {
			maxOpen = 1 // Single writer
		}
	}
	db.SetMaxOpenConns(maxOpen)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, arkerrors.NewTransactionError(arkerrors.CodeConnectFailed,
			fmt.Sprintf("failed to connect to warehouse %s", opts.Description), err)
	}

	log.Printf("warehouse: connected to %s (%s, max_open_conns=%d)", opts.Description, dialect.Name(), maxOpen)
	return &Warehouse{db: db, dialect: dialect}, nil
}

// New wraps an existing pool.
func New(db *sql.DB, dialect Dialect) *Warehouse {
	return &Warehouse{db: db, dialect: dialect}
}

// DB returns the underlying pool.
func (w *Warehouse) DB() *sql.DB {
	return w.db
}

// Dialect returns the warehouse dialect.
func (w *Warehouse) Dialect() Dialect {
	return w.dialect
}

// Conn reserves one connection. Each pipeline execution runs on its own
// connection and must close it when done.
func (w *Warehouse) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := w.db.Conn(ctx)
	if err != nil {
		return nil, arkerrors.NewTransactionError(arkerrors.CodeConnectFailed, "failed to acquire warehouse connection", err)
	}
	return conn, nil
}

// Close closes the pool.
func (w *Warehouse) Close() error {
	return w.db.Close()
}

// SQLiteDSN builds a go-sqlite3 DSN for a database file. Transactions take the
// write lock on BEGIN so concurrent executions queue instead of deadlocking.
func SQLiteDSN(path string) string {
	return path + "?_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate"
}
