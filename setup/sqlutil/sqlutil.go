// Package sqlutil provides the small helpers every storage package in
// this tree shares: prepared-statement list helpers, a schema-version
// migrator, transaction wrapping, and the single-writer serialization
// the store's concurrency model requires: all mutations and ingress
// commits serialize through Writer.
package sqlutil

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// StatementList is a list of (destination, SQL text) pairs prepared
// together against one *sql.DB.
type StatementList []struct {
	Statement **sql.Stmt
	SQL       string
}

// Prepare prepares every statement in the list against db, stopping at
// the first failure.
func (s StatementList) Prepare(db *sql.DB) error {
	for _, entry := range s {
		stmt, err := db.Prepare(entry.SQL)
		if err != nil {
			return fmt.Errorf("prepare %q: %w", entry.SQL, err)
		}
		*entry.Statement = stmt
	}
	return nil
}

// TxStmt returns stmt bound to txn when txn is non-nil, otherwise
// stmt itself, for a statement optionally run inside a transaction.
func TxStmt(txn *sql.Tx, stmt *sql.Stmt) *sql.Stmt {
	if txn == nil {
		return stmt
	}
	return txn.Stmt(stmt)
}

// Migration is one named, idempotent schema change.
type Migration struct {
	Version string
	Up       func(ctx context.Context, tx *sql.Tx) error
	Down     func(ctx context.Context, tx *sql.Tx) error
}

// Migrator applies Migrations in registration order, recording applied
// versions in a bookkeeping table so re-running Up is a no-op.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

func (m *Migrator) AddMigrations(migrations ...Migration) {
	m.migrations = append(m.migrations, migrations...)
}

// Up applies every migration not yet recorded as applied, each inside
// its own transaction.
func (m *Migrator) Up(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS discret_migrations (version TEXT PRIMARY KEY, applied_at BIGINT NOT NULL DEFAULT (STRFTIME('%s','now')))`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	for _, mig := range m.migrations {
		var applied int
		err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM discret_migrations WHERE version = ?`, mig.Version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", mig.Version, err)
		}
		if applied > 0 {
			continue
		}
		if err := WithTransaction(m.db, func(tx *sql.Tx) error {
			if mig.Up != nil {
				if err := mig.Up(ctx, tx); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO discret_migrations (version) VALUES (?)`, mig.Version)
			return err
		}); err != nil {
			return fmt.Errorf("migration %s: %w", mig.Version, err)
		}
	}
	return nil
}

// WithTransaction runs fn inside a transaction, committing on success
// and rolling back (wrapping any rollback error into the returned
// error) otherwise.
func WithTransaction(db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer EndTransactionWithCheck(tx, &err)
	err = fn(tx)
	return err
}

// EndTransactionWithCheck commits tx if *err is nil, otherwise rolls
// back; a rollback failure is folded into *err rather than discarded.
func EndTransactionWithCheck(tx *sql.Tx, err *error) {
	if *err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			*err = errors.Wrapf(*err, "rollback also failed: %s", rbErr)
		}
		return
	}
	if commitErr := tx.Commit(); commitErr != nil {
		*err = errors.Wrap(commitErr, "commit transaction")
	}
}

// Writer serializes all write transactions behind a single mutex: a
// mutation and a sync commit never interleave. Readers bypass Writer
// entirely and use the *sql.DB connection pool directly.
type Writer struct {
	mu sync.Mutex
}

func NewWriter() *Writer {
	return &Writer{}
}

// Do runs fn exclusively with respect to every other Do call on this
// Writer.
func (w *Writer) Do(db *sql.DB, fn func(tx *sql.Tx) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WithTransaction(db, fn)
}
