package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/empi-rf/ingestd/internal/document"
)

// Policy is a pluggable write strategy. Both implementations share the same
// introspection and column projection; they differ only in how an existing
// row with the same key is treated.
type Policy interface {
	// Write stores one projected row. columns and values are parallel and
	// cover exactly the table's current column set.
	Write(ctx context.Context, db *DB, table string, columns []string, values []any, identifier string) error
}

// MergeWrite overwrites every column when a row with the same primary or
// unique key already exists. Last write wins. Used by the filesystem-sourced
// ingester.
type MergeWrite struct{}

func (MergeWrite) Write(ctx context.Context, db *DB, table string, columns []string, values []any, identifier string) error {
	query := db.dialect.mergeUpsert(table, columns)
	if _, err := db.conn.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to upsert into %q: %w", table, err)
	}
	return nil
}

// InsertIfAbsent refuses to overwrite: it probes for an existing row under a
// row lock and inserts only when none exists. Used by the remote-feed
// ingester.
//
// The lock-probe-insert transaction substitutes for a database-enforced
// uniqueness constraint the target table may not have: concurrent processes
// racing on the same identifier serialize on the row lock, so exactly one
// insert succeeds and the others report ErrDuplicateIdentifier.
type InsertIfAbsent struct{}

func (InsertIfAbsent) Write(ctx context.Context, db *DB, table string, columns []string, values []any, identifier string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	idCol, _ := identifierColumn(columns)
	probe := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ? LIMIT 1%s",
		quoteIdent(table), quoteIdent(idCol), db.dialect.lockSuffix())

	var one int
	err = tx.QueryRowContext(ctx, probe, identifier).Scan(&one)
	switch {
	case err == nil:
		// Row exists: release the read lock and report the duplicate.
		if cerr := tx.Commit(); cerr != nil {
			return fmt.Errorf("failed to commit duplicate probe: %w", cerr)
		}
		return fmt.Errorf("%w: identifier %q in table %q", ErrDuplicateIdentifier, identifier, table)
	case errors.Is(err, sql.ErrNoRows):
		// Absent: fall through to the insert while holding the lock.
	default:
		_ = tx.Rollback()
		return fmt.Errorf("failed to probe %q for identifier %q: %w", table, identifier, err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), joinIdents(columns), placeholders(len(columns)))

	if _, err := tx.ExecContext(ctx, insert, values...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to insert into %q: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insert into %q: %w", table, err)
	}
	return nil
}

// joinIdents renders a quoted, comma-separated column list.
func joinIdents(columns []string) string {
	out := ""
	for i, col := range columns {
		if i > 0 {
			out += ", "
		}
		out += quoteIdent(col)
	}
	return out
}

// Engine projects documents onto their target tables and writes them through
// a Policy.
type Engine struct {
	db     *DB
	policy Policy
	logger *log.Logger
}

// NewEngine creates an Engine writing through policy.
// If logger is nil, a default logger writing to stderr is used.
func NewEngine(db *DB, policy Policy, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &Engine{db: db, policy: policy, logger: logger}
}

// Write stores doc into table under identifier, with location as the
// default DocumentLocation value.
//
// Returns ErrTableNotFound or ErrNoColumns when the target table cannot take
// the row (skip conditions, not fatal), ErrDuplicateIdentifier under the
// insert-if-absent policy, and the raw database error otherwise. The caller
// records the outcome and continues with the next document either way.
func (e *Engine) Write(ctx context.Context, table string, doc *document.Document, identifier, location string) error {
	exists, err := e.db.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %q", ErrTableNotFound, table)
	}

	columns, err := e.db.Columns(ctx, table)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return fmt.Errorf("%w: %q", ErrNoColumns, table)
	}

	values, err := Project(columns, doc, identifier, location)
	if err != nil {
		return err
	}

	return e.policy.Write(ctx, e.db, table, columns, values, identifier)
}

// DeleteRow removes the row matching identifier from table, used by deletion
// reconciliation. A missing table or a table without an identifier column is
// silently skipped: the row cannot exist there.
func (e *Engine) DeleteRow(ctx context.Context, table, identifier string) error {
	exists, err := e.db.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	columns, err := e.db.Columns(ctx, table)
	if err != nil {
		return err
	}
	idCol, ok := identifierColumn(columns)
	if !ok {
		return nil
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(table), quoteIdent(idCol))
	if _, err := e.db.conn.ExecContext(ctx, query, identifier); err != nil {
		return fmt.Errorf("failed to delete from %q: %w", table, err)
	}
	return nil
}
