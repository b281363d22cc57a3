package ingest

import (
	"errors"

	"github.com/empi-rf/ingestd/internal/schema"
	"github.com/empi-rf/ingestd/internal/store"
)

// Document-level conditions raised by the orchestrators themselves.
// Check with errors.Is().
var (
	// ErrInvalidFileType is returned when a remote payload lacks the exact
	// crawler marker value. Schema validation is bypassed entirely.
	ErrInvalidFileType = errors.New("invalid FileTypeIdentifier")

	// ErrMissingSchemaID is returned when no document key normalizes to
	// "schemaid".
	ErrMissingSchemaID = errors.New("missing SchemaID")

	// ErrNotAllowed is returned when an allow-list is configured and the
	// document's SchemaID is not in allow-list.
	ErrNotAllowed = errors.New("SchemaID not in allow-list")
)

// IsSkip reports whether err is a recoverable per-document condition recorded
// as status=skipped rather than status=error. Everything else (transport,
// parse, database failures) records as an error. Both classes reprocess on
// the next scan regardless of the change token.
func IsSkip(err error) bool {
	for _, skip := range []error{
		ErrInvalidFileType,
		ErrMissingSchemaID,
		ErrNotAllowed,
		schema.ErrSchemaNotFound,
		schema.ErrValidationFailed,
		store.ErrTableNotFound,
		store.ErrNoColumns,
		store.ErrDuplicateIdentifier,
	} {
		if errors.Is(err, skip) {
			return true
		}
	}
	return false
}
