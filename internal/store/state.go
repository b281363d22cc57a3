package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Processing outcomes recorded per document path.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// StateRecord is the persisted outcome of the last processing attempt for one
// document path. It is replaced wholesale on every attempt, never partially
// updated.
type StateRecord struct {
	Path         string
	ETag         string
	LastModified string
	SchemaID     string
	Identifier   string
	Status       string
	Error        string
}

// Unchanged reports whether an entry with the given change token can be
// skipped without fetching. Both token halves must match AND the previous
// attempt must have succeeded: prior errors and skips always reprocess on the
// next scan, even with no remote change, so transient failures self-heal.
func (r StateRecord) Unchanged(etag, lastModified string) bool {
	return r.Status == StatusOK && r.ETag == etag && r.LastModified == lastModified
}

// stateTable holds one StateRecord per document path.
const stateTable = "ingest_state"

// loadChunkSize caps the IN-list length of state lookups so large scans stay
// within query-size limits.
const loadChunkSize = 500

// StateStore persists per-path processing state in the target database.
type StateStore struct {
	db *DB
}

// NewStateStore creates a StateStore on db. Call Init before first use.
func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db}
}

// Init creates the state table if it does not exist. Idempotent.
func (s *StateStore) Init(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS ingest_state (
		path VARCHAR(512) PRIMARY KEY,
		etag VARCHAR(255),
		last_modified VARCHAR(255),
		schema_id VARCHAR(255),
		identifier VARCHAR(255),
		processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		status VARCHAR(32),
		error TEXT
	)`
	if _, err := s.db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create state table: %w", err)
	}
	return nil
}

// Load returns the stored records for the given paths, keyed by path. Paths
// with no record are absent from the result. Lookups are chunked to
// loadChunkSize paths per query.
func (s *StateStore) Load(ctx context.Context, paths []string) (map[string]StateRecord, error) {
	state := make(map[string]StateRecord, len(paths))
	for start := 0; start < len(paths); start += loadChunkSize {
		end := start + loadChunkSize
		if end > len(paths) {
			end = len(paths)
		}
		if err := s.loadChunk(ctx, paths[start:end], state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func (s *StateStore) loadChunk(ctx context.Context, paths []string, state map[string]StateRecord) error {
	if len(paths) == 0 {
		return nil
	}

	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}

	query := fmt.Sprintf(
		"SELECT path, etag, last_modified, schema_id, identifier, status, error FROM %s WHERE path IN (%s)",
		stateTable, placeholders(len(paths)))

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec                                            StateRecord
			etag, lastMod, schemaID, identifier, errorText sql.NullString
		)
		if err := rows.Scan(&rec.Path, &etag, &lastMod, &schemaID, &identifier, &rec.Status, &errorText); err != nil {
			return fmt.Errorf("failed to scan state record: %w", err)
		}
		rec.ETag = etag.String
		rec.LastModified = lastMod.String
		rec.SchemaID = schemaID.String
		rec.Identifier = identifier.String
		rec.Error = errorText.String
		state[rec.Path] = rec
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	return nil
}

// Save overwrites the record for rec.Path. REPLACE is valid on both backends
// and refreshes processed_at through the column default.
func (s *StateStore) Save(ctx context.Context, rec StateRecord) error {
	query := fmt.Sprintf(
		"REPLACE INTO %s (path, etag, last_modified, schema_id, identifier, status, error) VALUES (?, ?, ?, ?, ?, ?, ?)",
		stateTable)

	_, err := s.db.conn.ExecContext(ctx, query,
		rec.Path,
		rec.ETag,
		rec.LastModified,
		nullIfEmpty(rec.SchemaID),
		nullIfEmpty(rec.Identifier),
		rec.Status,
		nullIfEmpty(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to save state for %q: %w", rec.Path, err)
	}
	return nil
}

// Delete removes the record for path. Idempotent.
func (s *StateStore) Delete(ctx context.Context, path string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE path = ?", stateTable)
	if _, err := s.db.conn.ExecContext(ctx, query, path); err != nil {
		return fmt.Errorf("failed to delete state for %q: %w", path, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
