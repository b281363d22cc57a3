package store

import "errors"

// Common errors returned by the write path.
//
// These are per-document conditions, never fatal to a scan. Check with
// errors.Is():
//
//	if errors.Is(err, store.ErrDuplicateIdentifier) {
//	    // Record a skip, move on to the next document
//	}
var (
	// ErrTableNotFound is returned when a document routes to a table that
	// does not exist in the target database.
	ErrTableNotFound = errors.New("table does not exist")

	// ErrNoColumns is returned when the target table reports an empty
	// column set.
	ErrNoColumns = errors.New("table has no columns")

	// ErrDuplicateIdentifier is returned by the insert-if-absent policy when
	// a row with the document's identifier already exists.
	ErrDuplicateIdentifier = errors.New("identifier already exists")
)
