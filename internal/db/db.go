// Package db provides the durable store for waymark.
//
// A single embedded SQLite database (.waymark/waymark.db) holds workflows,
// their append-only action/commit logs, milestones with wave links and
// baselines, and task snapshots. PostgreSQL is supported behind the same
// driver abstraction.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/waymarklabs/waymark/internal/db/driver"
)

//go:embed schema/*.sql schema/postgres/*.sql
var schemaFS embed.FS

// DB wraps a database connection with driver abstraction.
type DB struct {
	driver driver.Driver
	path   string
}

// Store provides all waymark store operations. Components receive a *Store
// through their constructors; there is no package-level handle.
type Store struct {
	*DB
}

// Open opens (and migrates) the SQLite store at the given path, creating the
// parent directory if needed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	return OpenWithDialect(path, driver.DialectSQLite)
}

// OpenInMemory opens an isolated in-memory SQLite store. Each call creates a
// new database; intended for tests.
func OpenInMemory() (*Store, error) {
	return OpenWithDialect(":memory:", driver.DialectSQLite)
}

// OpenWithDialect opens a store with a specific dialect. For SQLite, dsn is
// the file path; for PostgreSQL, the connection string.
func OpenWithDialect(dsn string, dialect driver.Dialect) (*Store, error) {
	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}

	if err := drv.Open(dsn); err != nil {
		return nil, err
	}

	db := &DB{driver: drv, path: dsn}
	if err := db.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.driver.Close()
}

// Path returns the database DSN/path.
func (d *DB) Path() string {
	return d.path
}

// Dialect returns the database dialect.
func (d *DB) Dialect() driver.Dialect {
	return d.driver.Dialect()
}

// Driver returns the underlying driver for dialect-specific operations.
func (d *DB) Driver() driver.Driver {
	return d.driver
}

func (d *DB) migrate() error {
	return d.driver.Migrate(context.Background(), schemaFS)
}

// Reset drops all rows from every table. Only valid for isolated test stores.
func (d *DB) Reset() error {
	tables := []string{
		"task_snapshots", "milestone_workflows", "baselines", "commits",
		"actions", "metrics", "milestones", "workflows",
	}
	for _, table := range tables {
		if _, err := d.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// Exec executes a query without returning rows. Queries are written with ?
// placeholders and rebound for the active dialect.
func (d *DB) Exec(query string, args ...any) (sql.Result, error) {
	return d.driver.Exec(context.Background(), d.rebind(query), args...)
}

// Query executes a query that returns rows.
func (d *DB) Query(query string, args ...any) (*sql.Rows, error) {
	return d.driver.Query(context.Background(), d.rebind(query), args...)
}

// QueryRow executes a query that returns at most one row.
func (d *DB) QueryRow(query string, args ...any) *sql.Row {
	return d.driver.QueryRow(context.Background(), d.rebind(query), args...)
}

// rebind converts ? placeholders to the dialect's positional form.
func (d *DB) rebind(query string) string {
	if d.driver.Dialect() == driver.DialectSQLite {
		return query
	}
	return rebindPositional(query)
}

// rebindPositional rewrites ? placeholders as $1, $2, ... Quoted literals are
// left untouched.
func rebindPositional(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TxOps provides database operations within a transaction. The context given
// to RunInTx is used for every operation.
type TxOps struct {
	tx  driver.Tx
	db  *DB
	ctx context.Context
}

// Exec executes a query within the transaction.
func (t *TxOps) Exec(query string, args ...any) (sql.Result, error) {
	return t.tx.Exec(t.ctx, t.db.rebind(query), args...)
}

// Query executes a query that returns rows within the transaction.
func (t *TxOps) Query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.Query(t.ctx, t.db.rebind(query), args...)
}

// QueryRow executes a query that returns at most one row within the transaction.
func (t *TxOps) QueryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRow(t.ctx, t.db.rebind(query), args...)
}

// RunInTx executes fn within a transaction. If fn returns an error the
// transaction is rolled back, otherwise it is committed.
func (d *DB) RunInTx(ctx context.Context, fn func(tx *TxOps) error) error {
	tx, err := d.driver.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&TxOps{tx: tx, db: d, ctx: ctx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
