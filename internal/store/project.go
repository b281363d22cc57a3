package store

import (
	"strings"

	"github.com/empi-rf/ingestd/internal/document"
)

// Project maps a document onto a table's actual columns, producing one value
// per column in column order.
//
// Each column is matched case-insensitively against the document's keys.
// Columns with no value (unmatched, or matched to JSON null) get the
// default-fill rule: an identifier-named column receives the row identifier,
// a documentlocation-named column the document's source path or URL, and
// everything else NULL. Objects and arrays are serialized to their JSON text.
func Project(columns []string, doc *document.Document, identifier, location string) ([]any, error) {
	values := make([]any, 0, len(columns))
	for _, col := range columns {
		v, ok := doc.GetFold(col)
		if !ok || v == nil {
			switch strings.ToLower(col) {
			case "identifier":
				v = identifier
			case "documentlocation":
				v = location
			default:
				v = nil
			}
		}
		normalized, err := document.NormalizeValue(v)
		if err != nil {
			return nil, err
		}
		values = append(values, normalized)
	}
	return values, nil
}

// identifierColumn picks the column the identifier lives in: the literal
// Identifier column when present, else identifier. The lowercase name is also
// the fallback when neither exists, in which case the caller's query fails as
// a per-document error.
func identifierColumn(columns []string) (string, bool) {
	for _, col := range columns {
		if col == "Identifier" {
			return col, true
		}
	}
	for _, col := range columns {
		if col == "identifier" {
			return col, true
		}
	}
	return "identifier", false
}
