// Package ingest drives the synchronization pipeline: list a document source,
// diff against persisted state, fetch and validate changed documents, project
// them into their target tables, and record every outcome.
//
// Two orchestrators exist. RemoteIngester consumes a WebDAV change feed and
// writes through the insert-if-absent policy with per-path state records in
// the database. LocalIngester walks a directory tree, writes through the
// merge policy, and reconciles deletions against a full-state snapshot file.
package ingest

import (
	"log"
	"os"
	"time"

	"github.com/empi-rf/ingestd/internal/store"
)

// ConnectFunc opens a database connection for one scan cycle. The
// orchestrators call it at the start of each cycle and close the result at
// the end, so a failed cycle never leaks a poisoned connection into the next.
type ConnectFunc func() (*store.DB, error)

// Config holds configuration shared by both orchestrators.
type Config struct {
	// PollInterval is the sleep between scan cycles in continuous mode.
	PollInterval time.Duration

	// Allowed restricts ingestion to the listed SchemaIDs. Empty means all.
	Allowed []string

	// Debounce is how long the local watcher waits after a file event
	// before rescanning, batching rapid changes together.
	Debounce time.Duration

	// Events receives scan progress notifications. May be nil.
	Events Events

	// Logger for scan activity.
	Logger *log.Logger

	// Debug enables per-entry trace logging (unchanged skips).
	Debug bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 10 * time.Second,
		Debounce:     100 * time.Millisecond,
		Logger:       log.New(os.Stderr, "[ingest] ", log.LstdFlags),
	}
}

// normalized fills zero values with defaults.
func (c *Config) normalized(prefix string) *Config {
	out := &Config{}
	if c != nil {
		*out = *c
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 10 * time.Second
	}
	if out.Debounce <= 0 {
		out.Debounce = 100 * time.Millisecond
	}
	if out.Logger == nil {
		out.Logger = log.New(os.Stderr, prefix, log.LstdFlags)
	}
	return out
}

// allowed reports whether schemaID passes the allow-list.
func (c *Config) allowed(schemaID string) bool {
	if len(c.Allowed) == 0 {
		return true
	}
	for _, id := range c.Allowed {
		if id == schemaID {
			return true
		}
	}
	return false
}
