package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/empi-rf/ingestd/internal/document"
	"github.com/empi-rf/ingestd/internal/store"
)

// SnapshotFile is the full-state snapshot the local ingester keeps in its
// source directory. It maps each ingested file path to the table and
// identifier its row went to, and is diffed wholesale each cycle to detect
// deletions.
const SnapshotFile = ".db_ingest_state.json"

// snapshotEntry records where one file's row lives.
type snapshotEntry struct {
	Table      string `json:"table"`
	Identifier string `json:"identifier"`
}

// LocalIngester synchronizes a directory tree of JSON files into the
// database.
//
// It is the simpler of the two orchestrators: no change feed, no schema
// validation, no marker check. Every *.json file below the source directory
// is merge-written each cycle (the upsert makes that idempotent), and the
// snapshot diff optionally deletes rows whose source files disappeared.
type LocalIngester struct {
	sourceDir     string
	connect       ConnectFunc
	deleteMissing bool
	config        *Config
}

// NewLocal creates a local ingester for sourceDir.
func NewLocal(sourceDir string, connect ConnectFunc, deleteMissing bool, config *Config) (*LocalIngester, error) {
	if sourceDir == "" {
		return nil, fmt.Errorf("sourceDir cannot be empty")
	}
	if connect == nil {
		return nil, fmt.Errorf("connect cannot be nil")
	}
	return &LocalIngester{
		sourceDir:     sourceDir,
		connect:       connect,
		deleteMissing: deleteMissing,
		config:        config.normalized("[local] "),
	}, nil
}

// Run executes scan cycles until ctx is cancelled.
//
// In single-pass mode the first cycle's error is returned. In continuous
// mode the loop sleeps PollInterval between cycles; with watch enabled,
// filesystem events on the source tree wake the loop early (after a short
// debounce), with polling still the correctness backstop.
func (in *LocalIngester) Run(ctx context.Context, once, watch bool) error {
	if once {
		return in.cycle(ctx)
	}

	var wake chan struct{}
	if watch {
		watcher, err := in.startWatcher(ctx)
		if err != nil {
			return err
		}
		defer watcher.Close()
		wake = in.watchEvents(ctx, watcher)
	}

	for {
		if err := in.cycle(ctx); err != nil {
			in.config.Logger.Printf("Scan cycle failed: %v", err)
		}

		select {
		case <-ctx.Done():
			in.config.Logger.Println("Shutdown signal received")
			return nil
		case <-time.After(in.config.PollInterval):
		case <-wake:
			// Batch rapid changes before rescanning.
			time.Sleep(in.config.Debounce)
		}
	}
}

func (in *LocalIngester) cycle(ctx context.Context) error {
	db, err := in.connect()
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	return in.Scan(ctx, db)
}

// Scan runs one full cycle: walk the tree, merge-write every document,
// reconcile deletions against the previous snapshot, write the new snapshot.
func (in *LocalIngester) Scan(ctx context.Context, db *store.DB) error {
	start := time.Now()

	if err := os.MkdirAll(in.sourceDir, 0755); err != nil {
		return fmt.Errorf("failed to create source directory: %w", err)
	}

	prev := in.loadSnapshot()
	current := make(map[string]snapshotEntry)
	engine := store.NewEngine(db, store.MergeWrite{}, in.config.Logger)

	files, err := in.listFiles()
	if err != nil {
		return err
	}

	in.config.Logger.Printf("Scan: %d json files under %s", len(files), in.sourceDir)
	in.config.emitScanStarted("local", len(files))
	stats := ScanStats{Mode: "local", Entries: len(files), Files: len(files)}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		in.processFile(ctx, engine, path, prev, current, &stats)
	}

	if in.deleteMissing {
		stats.Deleted = in.reconcileDeletions(ctx, engine, prev, current)
	}

	if err := in.saveSnapshot(current); err != nil {
		return err
	}

	stats.Duration = time.Since(start)
	in.config.emitScanCompleted(stats)
	in.config.Logger.Printf("Scan complete: ok=%d skipped=%d errors=%d deleted=%d (%s)",
		stats.OK, stats.Skipped, stats.Errors, stats.Deleted, stats.Duration.Round(time.Millisecond))
	return nil
}

// listFiles walks the source tree collecting *.json files, skipping the
// snapshot, in deterministic order.
func (in *LocalIngester) listFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(in.sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() == SnapshotFile {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", in.sourceDir, err)
	}
	sort.Strings(files)
	return files, nil
}

// processFile ingests one file. All failures are per-document: logged,
// counted, and the scan moves on.
func (in *LocalIngester) processFile(ctx context.Context, engine *store.Engine, path string, prev, current map[string]snapshotEntry, stats *ScanStats) {
	data, err := os.ReadFile(path)
	if err != nil {
		in.config.Logger.Printf("Error reading %s: %v", path, err)
		stats.Errors++
		in.config.emitDocument(path, "", "", store.StatusError, err.Error())
		return
	}

	doc, err := document.Parse(data)
	if err != nil {
		in.config.Logger.Printf("Error parsing %s: %v", path, err)
		stats.Errors++
		in.config.emitDocument(path, "", "", store.StatusError, err.Error())
		return
	}

	schemaID, ok := doc.SchemaID()
	if !ok {
		in.config.Logger.Printf("Skipping %s: missing SchemaID", path)
		stats.Skipped++
		in.config.emitDocument(path, "", "", store.StatusSkipped, ErrMissingSchemaID.Error())
		return
	}
	if !in.config.allowed(schemaID) {
		in.config.Logger.Printf("Skipping %s: SchemaID %q not in allow-list", path, schemaID)
		stats.Skipped++
		in.config.emitDocument(path, schemaID, "", store.StatusSkipped, ErrNotAllowed.Error())
		return
	}

	identifier := doc.Identifier(stem(filepath.ToSlash(path)))
	current[path] = snapshotEntry{Table: schemaID, Identifier: identifier}

	if _, seen := prev[path]; !seen {
		in.config.Logger.Printf("Found new file: %s", path)
	}

	err = engine.Write(ctx, schemaID, doc, identifier, path)
	switch {
	case err == nil:
		stats.OK++
		in.config.emitDocument(path, schemaID, identifier, store.StatusOK, "")
	case IsSkip(err):
		in.config.Logger.Printf("Skipping %s: %v", path, err)
		stats.Skipped++
		in.config.emitDocument(path, schemaID, identifier, store.StatusSkipped, err.Error())
	default:
		in.config.Logger.Printf("Error processing %s: %v", path, err)
		stats.Errors++
		in.config.emitDocument(path, schemaID, identifier, store.StatusError, err.Error())
	}
}

// reconcileDeletions removes rows whose source files disappeared since the
// previous snapshot. Returns the number of deleted rows.
func (in *LocalIngester) reconcileDeletions(ctx context.Context, engine *store.Engine, prev, current map[string]snapshotEntry) int {
	paths := make([]string, 0, len(prev))
	for path := range prev {
		if _, exists := current[path]; !exists {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	deleted := 0
	for _, path := range paths {
		info := prev[path]
		if err := engine.DeleteRow(ctx, info.Table, info.Identifier); err != nil {
			in.config.Logger.Printf("Error deleting row for %s: %v", path, err)
			continue
		}
		in.config.Logger.Printf("Deleted row for removed file: %s (%s/%s)", path, info.Table, info.Identifier)
		deleted++
	}
	return deleted
}

// loadSnapshot reads the previous full-state snapshot. Any read or decode
// failure counts as an empty previous state, matching a first run.
func (in *LocalIngester) loadSnapshot() map[string]snapshotEntry {
	data, err := os.ReadFile(filepath.Join(in.sourceDir, SnapshotFile))
	if err != nil {
		return map[string]snapshotEntry{}
	}
	var state map[string]snapshotEntry
	if err := json.Unmarshal(data, &state); err != nil || state == nil {
		return map[string]snapshotEntry{}
	}
	return state
}

func (in *LocalIngester) saveSnapshot(state map[string]snapshotEntry) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	path := filepath.Join(in.sourceDir, SnapshotFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// startWatcher sets up fsnotify on the source tree. Directories created
// after startup are picked up by the polling backstop, not the watcher.
func (in *LocalIngester) startWatcher(ctx context.Context) (*fsnotify.Watcher, error) {
	if err := os.MkdirAll(in.sourceDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create source directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	err = filepath.WalkDir(in.sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", in.sourceDir, err)
	}

	in.config.Logger.Printf("Watching: %s", in.sourceDir)
	return watcher, nil
}

// watchEvents forwards relevant file events to a wake channel with capacity
// one, coalescing bursts into a single early rescan.
func (in *LocalIngester) watchEvents(ctx context.Context, watcher *fsnotify.Watcher) chan struct{} {
	wake := make(chan struct{}, 1)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
					continue
				}
				if filepath.Base(event.Name) == SnapshotFile {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				in.config.Logger.Printf("Watcher error: %v", err)
			}
		}
	}()

	return wake
}
