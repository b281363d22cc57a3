package ingest

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/empi-rf/ingestd/internal/document"
	"github.com/empi-rf/ingestd/internal/schema"
	"github.com/empi-rf/ingestd/internal/store"
	"github.com/empi-rf/ingestd/internal/webdav"
)

// Feed is the change feed the remote orchestrator consumes.
// *webdav.Client satisfies it.
type Feed interface {
	// List enumerates the watched directory one level deep.
	List(ctx context.Context) ([]webdav.Entry, error)

	// Fetch downloads the body of the resource at href.
	Fetch(ctx context.Context, href string) ([]byte, error)

	// URL resolves an href into the fetchable URL recorded as the
	// document's location.
	URL(href string) string
}

// RemoteIngester synchronizes a WebDAV directory into the database.
//
// Each cycle lists the feed, diffs entries against the persisted state table,
// and processes only changed entries: unchanged ones (matching change token
// AND prior status ok) are skipped before any fetch. Writes go through the
// insert-if-absent policy; every processed entry's outcome lands in the state
// table, so broken documents never block the rest of the feed.
type RemoteIngester struct {
	feed      Feed
	connect   ConnectFunc
	validator *schema.Validator
	config    *Config
}

// NewRemote creates a remote ingester.
func NewRemote(feed Feed, connect ConnectFunc, validator *schema.Validator, config *Config) (*RemoteIngester, error) {
	if feed == nil {
		return nil, fmt.Errorf("feed cannot be nil")
	}
	if connect == nil {
		return nil, fmt.Errorf("connect cannot be nil")
	}
	if validator == nil {
		return nil, fmt.Errorf("validator cannot be nil")
	}
	return &RemoteIngester{
		feed:      feed,
		connect:   connect,
		validator: validator,
		config:    config.normalized("[remote] "),
	}, nil
}

// Run executes scan cycles until ctx is cancelled.
//
// In single-pass mode (once) the first cycle's top-level error is returned.
// In continuous mode top-level errors are logged and the loop sleeps a full
// interval before retrying.
func (in *RemoteIngester) Run(ctx context.Context, once bool) error {
	for {
		err := in.cycle(ctx)
		if once {
			return err
		}
		if err != nil {
			in.config.Logger.Printf("Scan cycle failed: %v", err)
		}

		select {
		case <-ctx.Done():
			in.config.Logger.Println("Shutdown signal received")
			return nil
		case <-time.After(in.config.PollInterval):
		}
	}
}

// cycle opens a fresh connection, runs one scan, and closes the connection so
// the next cycle never inherits a broken one.
func (in *RemoteIngester) cycle(ctx context.Context) error {
	db, err := in.connect()
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	return in.Scan(ctx, db)
}

// Scan runs one full cycle against an open connection: list, diff, process
// changed entries, record outcomes.
func (in *RemoteIngester) Scan(ctx context.Context, db *store.DB) error {
	start := time.Now()

	states := store.NewStateStore(db)
	if err := states.Init(ctx); err != nil {
		return err
	}
	engine := store.NewEngine(db, store.InsertIfAbsent{}, in.config.Logger)

	entries, err := in.feed.List(ctx)
	if err != nil {
		return fmt.Errorf("directory listing failed: %w", err)
	}

	files := make([]webdav.Entry, 0, len(entries))
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsJSON() {
			files = append(files, entry)
			paths = append(paths, entry.Path)
		}
	}

	state, err := states.Load(ctx, paths)
	if err != nil {
		return err
	}

	in.config.Logger.Printf("Scan: %d entries, %d json files", len(entries), len(files))
	in.config.emitScanStarted("remote", len(files))
	stats := ScanStats{Mode: "remote", Entries: len(entries), Files: len(files)}

	for _, entry := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		if prev, ok := state[entry.Path]; ok && prev.Unchanged(entry.ETag, entry.LastModified) {
			if in.config.Debug {
				in.config.Logger.Printf("Unchanged: %s", entry.Path)
			}
			continue
		}

		rec := in.processEntry(ctx, engine, entry)
		if err := states.Save(ctx, rec); err != nil {
			return err
		}

		switch rec.Status {
		case store.StatusOK:
			stats.OK++
			in.config.Logger.Printf("Inserted: %s", entry.Path)
		case store.StatusSkipped:
			stats.Skipped++
			in.config.Logger.Printf("Skipped: %s (%s)", entry.Path, rec.Error)
		default:
			stats.Errors++
			in.config.Logger.Printf("Error: %s (%s)", entry.Path, rec.Error)
		}
		in.config.emitDocument(rec.Path, rec.SchemaID, rec.Identifier, rec.Status, rec.Error)
	}

	stats.Duration = time.Since(start)
	in.config.emitScanCompleted(stats)
	in.config.Logger.Printf("Scan complete: ok=%d skipped=%d errors=%d (%s)",
		stats.OK, stats.Skipped, stats.Errors, stats.Duration.Round(time.Millisecond))
	return nil
}

// processEntry runs one entry through fetch, type check, routing, validation
// and the write policy, returning the state record to persist. Never fails:
// every failure mode maps onto a skipped or error record.
func (in *RemoteIngester) processEntry(ctx context.Context, engine *store.Engine, entry webdav.Entry) store.StateRecord {
	rec := store.StateRecord{
		Path:         entry.Path,
		ETag:         entry.ETag,
		LastModified: entry.LastModified,
	}

	payload, err := in.feed.Fetch(ctx, entry.Path)
	if err != nil {
		rec.Status = store.StatusError
		rec.Error = fmt.Sprintf("download error: %v", err)
		return rec
	}

	doc, err := document.Parse(payload)
	if err != nil {
		rec.Status = store.StatusError
		rec.Error = fmt.Sprintf("parse error: %v", err)
		return rec
	}

	if !doc.HasFileType() {
		rec.Status = store.StatusSkipped
		rec.Error = ErrInvalidFileType.Error()
		return rec
	}

	schemaID, ok := doc.SchemaID()
	if !ok {
		rec.Status = store.StatusSkipped
		rec.Error = ErrMissingSchemaID.Error()
		return rec
	}
	rec.SchemaID = schemaID
	rec.Identifier = doc.Identifier(stem(entry.Path))

	in.config.Logger.Printf("Processing: %s (schema=%s, id=%s)", entry.Path, rec.SchemaID, rec.Identifier)

	err = in.ingest(ctx, engine, entry, doc, schemaID, rec.Identifier)
	switch {
	case err == nil:
		rec.Status = store.StatusOK
	case IsSkip(err):
		rec.Status = store.StatusSkipped
		rec.Error = err.Error()
	default:
		rec.Status = store.StatusError
		rec.Error = err.Error()
	}
	return rec
}

// ingest applies the allow-list, validates, and writes a routed document.
func (in *RemoteIngester) ingest(ctx context.Context, engine *store.Engine, entry webdav.Entry, doc *document.Document, schemaID, identifier string) error {
	if !in.config.allowed(schemaID) {
		return fmt.Errorf("%w: %q", ErrNotAllowed, schemaID)
	}
	if err := in.validator.Validate(schemaID, doc.Raw()); err != nil {
		return err
	}
	return engine.Write(ctx, schemaID, doc, identifier, in.feed.URL(entry.Path))
}

// stem returns the filename without directory or extension, the identifier
// fallback for documents that declare none.
func stem(href string) string {
	base := path.Base(href)
	ext := path.Ext(base)
	return base[:len(base)-len(ext)]
}
