// Package store is the relational half of the ingester: connection handling,
// runtime table introspection, the persisted per-path processing state, and
// the two upsert policies.
//
// Target tables are not known at build time. A document's SchemaID names its
// table, and the table's column set is discovered at write time, so every
// write goes through introspection followed by a generic column projection.
// Two backends are supported through a small dialect seam: MySQL/MariaDB for
// production (the deployment target) and SQLite for embedded use and tests.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps a database connection with the dialect the ingester needs for
// introspection and upserts.
type DB struct {
	conn    *sql.DB
	dialect dialect
}

// Open connects to a database. driver is "mysql" or "sqlite3"; the dsn is
// passed through to the driver.
//
// The caller MUST call Close() when done.
func Open(driver, dsn string) (*DB, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Processing is sequential; one spare connection covers overlapping
	// state writes during a scan.
	conn.SetMaxOpenConns(2)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn, dialect: d}, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// TableExists reports whether table exists in the connected database.
func (db *DB) TableExists(ctx context.Context, table string) (bool, error) {
	return db.dialect.tableExists(ctx, db.conn, table)
}

// Columns returns the table's column names in the order the database reports
// them. Writes must supply exactly these columns in this order.
func (db *DB) Columns(ctx context.Context, table string) ([]string, error) {
	return db.dialect.columns(ctx, db.conn, table)
}

// dialect abstracts the few statements that differ between backends.
type dialect interface {
	// tableExists checks for a table in the current database/schema.
	tableExists(ctx context.Context, conn *sql.DB, table string) (bool, error)

	// columns lists column names in the database's reported order.
	columns(ctx context.Context, conn *sql.DB, table string) ([]string, error)

	// mergeUpsert builds the overwrite-on-conflict insert statement.
	mergeUpsert(table string, columns []string) string

	// lockSuffix is appended to the existence probe of the insert-if-absent
	// policy to take a row lock for the remainder of the transaction.
	lockSuffix() string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "mysql":
		return mysqlDialect{}, nil
	case "sqlite3":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// quoteIdent backtick-quotes an identifier. Table names come from document
// content, so they are always quoted, never interpolated bare. Backticks are
// valid identifier quotes on both MySQL and SQLite.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// placeholders returns "?, ?, ..." with n slots.
func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

type mysqlDialect struct{}

func (mysqlDialect) tableExists(ctx context.Context, conn *sql.DB, table string) (bool, error) {
	const query = `SELECT 1 FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ? LIMIT 1`
	var one int
	err := conn.QueryRowContext(ctx, query, table).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check table %q: %w", table, err)
	}
	return true, nil
}

func (mysqlDialect) columns(ctx context.Context, conn *sql.DB, table string) ([]string, error) {
	const query = `SELECT column_name FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`
	rows, err := conn.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %q: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list columns of %q: %w", table, err)
	}
	return columns, nil
}

func (mysqlDialect) mergeUpsert(table string, columns []string) string {
	quoted := make([]string, len(columns))
	updates := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
		updates[i] = fmt.Sprintf("%s = VALUES(%s)", quoted[i], quoted[i])
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		quoteIdent(table), strings.Join(quoted, ", "), placeholders(len(columns)),
		strings.Join(updates, ", "))
}

func (mysqlDialect) lockSuffix() string {
	return " FOR UPDATE"
}

type sqliteDialect struct{}

func (sqliteDialect) tableExists(ctx context.Context, conn *sql.DB, table string) (bool, error) {
	const query = `SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ? LIMIT 1`
	var one int
	err := conn.QueryRowContext(ctx, query, table).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check table %q: %w", table, err)
	}
	return true, nil
}

func (sqliteDialect) columns(ctx context.Context, conn *sql.DB, table string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %q: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &primaryKey); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list columns of %q: %w", table, err)
	}
	return columns, nil
}

func (sqliteDialect) mergeUpsert(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
	}
	return fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), placeholders(len(columns)))
}

// SQLite transactions already serialize writers, so the existence probe needs
// no explicit row lock.
func (sqliteDialect) lockSuffix() string {
	return ""
}
