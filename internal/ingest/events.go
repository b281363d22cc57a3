package ingest

import "time"

// ScanStats summarizes one completed scan cycle.
type ScanStats struct {
	Mode     string        `json:"mode"`
	Entries  int           `json:"entries"`
	Files    int           `json:"files"`
	OK       int           `json:"ok"`
	Skipped  int           `json:"skipped"`
	Errors   int           `json:"errors"`
	Deleted  int           `json:"deleted"`
	Duration time.Duration `json:"duration"`
}

// Events receives scan progress notifications, typically for the live
// monitor. Implementations must not block: a slow consumer may not stall
// ingestion. A nil Events sink is valid and disables notification.
type Events interface {
	// ScanStarted fires after listing, before the first document.
	ScanStarted(mode string, files int)

	// DocumentProcessed fires once per processed document with its terminal
	// outcome. Unchanged short-circuited entries do not fire.
	DocumentProcessed(path, schemaID, identifier, status, message string)

	// ScanCompleted fires at the end of a cycle.
	ScanCompleted(stats ScanStats)
}

func (c *Config) emitScanStarted(mode string, files int) {
	if c.Events != nil {
		c.Events.ScanStarted(mode, files)
	}
}

func (c *Config) emitDocument(path, schemaID, identifier, status, message string) {
	if c.Events != nil {
		c.Events.DocumentProcessed(path, schemaID, identifier, status, message)
	}
}

func (c *Config) emitScanCompleted(stats ScanStats) {
	if c.Events != nil {
		c.Events.ScanCompleted(stats)
	}
}
