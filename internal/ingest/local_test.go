package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/empi-rf/ingestd/internal/store"
)

func newTestLocal(t *testing.T, sourceDir string, deleteMissing bool) *LocalIngester {
	t.Helper()

	connect := func() (*store.DB, error) { return nil, fmt.Errorf("connect not used in tests") }
	in, err := NewLocal(sourceDir, connect, deleteMissing, nil)
	if err != nil {
		t.Fatalf("Failed to create local ingester: %v", err)
	}
	return in
}

func writeDataFile(t *testing.T, dir, name, payload string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		t.Fatalf("Failed to write data file: %v", err)
	}
	return path
}

func readSnapshot(t *testing.T, dir string) map[string]snapshotEntry {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, SnapshotFile))
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	var state map[string]snapshotEntry
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	return state
}

func TestLocalScanInsertsAndSnapshots(t *testing.T) {
	db := setupIngestDB(t)
	createT1(t, db)
	dir := t.TempDir()

	pathA := writeDataFile(t, dir, "a.json", `{"SchemaID":"T1","Value":1}`)
	pathB := writeDataFile(t, dir, "nested/b.json", `{"SchemaID":"T1","Identifier":"custom","Value":2}`)

	in := newTestLocal(t, dir, false)
	if err := in.Scan(context.Background(), db); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	var n int
	if err := db.RawDB().QueryRow("SELECT COUNT(*) FROM T1").Scan(&n); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 rows, got %d", n)
	}

	var location string
	row := db.RawDB().QueryRow("SELECT DocumentLocation FROM T1 WHERE Identifier = ?", "a")
	if err := row.Scan(&location); err != nil {
		t.Fatalf("Expected a row for identifier 'a': %v", err)
	}
	if location != pathA {
		t.Errorf("DocumentLocation = %q, want source path %q", location, pathA)
	}

	snapshot := readSnapshot(t, dir)
	if len(snapshot) != 2 {
		t.Fatalf("Expected 2 snapshot entries, got %d", len(snapshot))
	}
	if snapshot[pathB] != (snapshotEntry{Table: "T1", Identifier: "custom"}) {
		t.Errorf("Unexpected snapshot entry for b: %+v", snapshot[pathB])
	}
}

func TestLocalRescanIsIdempotent(t *testing.T) {
	db := setupIngestDB(t)
	createT1(t, db)
	dir := t.TempDir()

	writeDataFile(t, dir, "a.json", `{"SchemaID":"T1","Value":1}`)

	in := newTestLocal(t, dir, false)
	ctx := context.Background()
	if err := in.Scan(ctx, db); err != nil {
		t.Fatalf("First scan failed: %v", err)
	}

	writeDataFile(t, dir, "a.json", `{"SchemaID":"T1","Value":2}`)
	if err := in.Scan(ctx, db); err != nil {
		t.Fatalf("Second scan failed: %v", err)
	}

	rows, err := db.RawDB().Query("SELECT Value FROM T1")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		values = append(values, v)
	}
	if len(values) != 1 || values[0] != "2" {
		t.Errorf("Expected one row holding the second write, got %v", values)
	}
}

func TestLocalReconcileDeletions(t *testing.T) {
	db := setupIngestDB(t)
	createT1(t, db)
	dir := t.TempDir()

	writeDataFile(t, dir, "a.json", `{"SchemaID":"T1","Value":1}`)
	pathB := writeDataFile(t, dir, "b.json", `{"SchemaID":"T1","Value":2}`)

	in := newTestLocal(t, dir, true)
	ctx := context.Background()
	if err := in.Scan(ctx, db); err != nil {
		t.Fatalf("First scan failed: %v", err)
	}

	if err := os.Remove(pathB); err != nil {
		t.Fatalf("Failed to remove b.json: %v", err)
	}
	if err := in.Scan(ctx, db); err != nil {
		t.Fatalf("Second scan failed: %v", err)
	}

	var n int
	if err := db.RawDB().QueryRow("SELECT COUNT(*) FROM T1 WHERE Identifier = ?", "b").Scan(&n); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected b's row deleted, found %d", n)
	}
	if err := db.RawDB().QueryRow("SELECT COUNT(*) FROM T1").Scan(&n); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected a's row to survive, total rows = %d", n)
	}

	snapshot := readSnapshot(t, dir)
	if _, exists := snapshot[pathB]; exists {
		t.Error("Expected b dropped from snapshot")
	}
	if len(snapshot) != 1 {
		t.Errorf("Expected 1 snapshot entry, got %d", len(snapshot))
	}
}

func TestLocalKeepsRowsWithoutDeleteMissing(t *testing.T) {
	db := setupIngestDB(t)
	createT1(t, db)
	dir := t.TempDir()

	pathB := writeDataFile(t, dir, "b.json", `{"SchemaID":"T1","Value":2}`)

	in := newTestLocal(t, dir, false)
	ctx := context.Background()
	if err := in.Scan(ctx, db); err != nil {
		t.Fatalf("First scan failed: %v", err)
	}

	if err := os.Remove(pathB); err != nil {
		t.Fatalf("Failed to remove b.json: %v", err)
	}
	if err := in.Scan(ctx, db); err != nil {
		t.Fatalf("Second scan failed: %v", err)
	}

	var n int
	if err := db.RawDB().QueryRow("SELECT COUNT(*) FROM T1").Scan(&n); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected the row kept without --delete-missing, got %d rows", n)
	}
}

func TestLocalSkipsBrokenFilesAndContinues(t *testing.T) {
	db := setupIngestDB(t)
	createT1(t, db)
	dir := t.TempDir()

	writeDataFile(t, dir, "broken.json", `{not json`)
	writeDataFile(t, dir, "noschema.json", `{"Value":1}`)
	writeDataFile(t, dir, "notable.json", `{"SchemaID":"Missing","Value":1}`)
	writeDataFile(t, dir, "good.json", `{"SchemaID":"T1","Value":1}`)

	events := &eventRecorder{}
	connect := func() (*store.DB, error) { return nil, fmt.Errorf("connect not used in tests") }
	in, err := NewLocal(dir, connect, false, &Config{Events: events})
	if err != nil {
		t.Fatalf("Failed to create local ingester: %v", err)
	}

	if err := in.Scan(context.Background(), db); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	var n int
	if err := db.RawDB().QueryRow("SELECT COUNT(*) FROM T1").Scan(&n); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected only the good file ingested, got %d rows", n)
	}

	if len(events.completed) != 1 {
		t.Fatalf("Expected one completion event, got %d", len(events.completed))
	}
	stats := events.completed[0]
	if stats.OK != 1 || stats.Errors != 1 || stats.Skipped != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestLocalSnapshotExcludedFromScan(t *testing.T) {
	db := setupIngestDB(t)
	createT1(t, db)
	dir := t.TempDir()

	writeDataFile(t, dir, "a.json", `{"SchemaID":"T1","Value":1}`)

	in := newTestLocal(t, dir, false)
	ctx := context.Background()
	if err := in.Scan(ctx, db); err != nil {
		t.Fatalf("First scan failed: %v", err)
	}
	// The snapshot now exists in the source dir; a rescan must not try to
	// ingest it.
	if err := in.Scan(ctx, db); err != nil {
		t.Fatalf("Second scan failed: %v", err)
	}

	snapshot := readSnapshot(t, dir)
	for path := range snapshot {
		if filepath.Base(path) == SnapshotFile {
			t.Errorf("Snapshot file leaked into state: %s", path)
		}
	}
}
