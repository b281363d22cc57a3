// Package document models the arbitrary JSON payloads the ingester consumes.
//
// Documents are parsed with an order-preserving decoder because routing scans
// keys in document order: the first key whose normalized form is "schemaid"
// names both the validation schema and the target table. A plain map would
// make that scan nondeterministic.
package document

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/7sDream/geko"
)

// FileTypeIdentifier is the exact marker value a remote payload must carry to
// be accepted for ingestion. Crawlers use it to recognize metadata files, so
// the string is load-bearing and must never be edited.
const FileTypeIdentifier = "This is a EMPI-RF metadata File. Do not change this for crawler identification"

// FileTypeKey is the literal key the marker value is stored under.
const FileTypeKey = "FileTypeIdentifier"

// Route names the destination of a document: the target table (equal to its
// SchemaID) and the row identifier.
type Route struct {
	Table      string
	Identifier string
}

// Document is a parsed JSON object with its original key order preserved.
//
// Key lookup is available in three strengths: exact (Get), case-insensitive
// (GetFold), and case/underscore-insensitive (used internally for SchemaID
// routing). The fold index is built once at parse time.
type Document struct {
	raw    []byte
	keys   []string
	values []any
	fold   map[string]int // lowercased key -> index of first occurrence
}

// Parse decodes data into a Document.
//
// The payload must be a JSON object; arrays and scalars are rejected. Numbers
// decode as float64, nested objects keep their own key order.
func Parse(data []byte) (*Document, error) {
	result, err := geko.JSONUnmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	obj, ok := result.(geko.ObjectItems)
	if !ok {
		return nil, fmt.Errorf("document is not a JSON object")
	}

	keys := obj.Keys()
	values := obj.Values()

	fold := make(map[string]int, len(keys))
	for i, k := range keys {
		lower := strings.ToLower(k)
		if _, seen := fold[lower]; !seen {
			fold[lower] = i
		}
	}

	return &Document{
		raw:    data,
		keys:   keys,
		values: values,
		fold:   fold,
	}, nil
}

// Raw returns the original payload bytes.
func (d *Document) Raw() []byte {
	return d.raw
}

// Len returns the number of top-level keys.
func (d *Document) Len() int {
	return len(d.keys)
}

// Keys returns the top-level keys in document order.
func (d *Document) Keys() []string {
	return d.keys
}

// Get returns the value for an exact key match.
func (d *Document) Get(key string) (any, bool) {
	for i, k := range d.keys {
		if k == key {
			return d.values[i], true
		}
	}
	return nil, false
}

// GetFold returns the value for a case-insensitive key match.
// If several keys fold to the same name, the first in document order wins.
func (d *Document) GetFold(key string) (any, bool) {
	i, ok := d.fold[strings.ToLower(key)]
	if !ok {
		return nil, false
	}
	return d.values[i], true
}

// HasFileType reports whether the document carries the exact crawler marker.
func (d *Document) HasFileType() bool {
	v, ok := d.Get(FileTypeKey)
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s == FileTypeIdentifier
}

// SchemaID scans the keys in document order and returns the stringified value
// of the first key whose case/underscore-insensitive normalized form is
// "schemaid". Returns false if no key matches.
//
// If a document contains several keys that normalize to "schemaid" (say
// Schema_ID and SchemaId), the first one in the document's own key order is
// the contract; parsing preserves that order, so the result is deterministic
// for a given payload.
func (d *Document) SchemaID() (string, bool) {
	for i, k := range d.keys {
		if NormalizeKey(k) == "schemaid" {
			return Stringify(d.values[i]), true
		}
	}
	return "", false
}

// Identifier returns the document's identifier: the literal Identifier key,
// then the literal identifier key, then the fallback. Empty and null values
// fall through to the next choice.
func (d *Document) Identifier(fallback string) string {
	for _, key := range []string{"Identifier", "identifier"} {
		if v, ok := d.Get(key); ok {
			if s := Stringify(v); s != "" {
				return s
			}
		}
	}
	return fallback
}

// Route resolves the document's target table and row identifier.
// The fallback is used as identifier when the document declares none,
// conventionally the source path's filename stem.
func (d *Document) Route(fallback string) (Route, bool) {
	schemaID, ok := d.SchemaID()
	if !ok {
		return Route{}, false
	}
	return Route{Table: schemaID, Identifier: d.Identifier(fallback)}, true
}

// NormalizeKey removes underscores and lower-cases a key, the equivalence
// used for SchemaID routing.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", ""))
}

// Stringify converts a decoded JSON value to its string form for use as a
// SchemaID or identifier. Null becomes the empty string so callers can apply
// their fallback rules.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// NormalizeValue prepares a decoded JSON value for a database write. Objects
// and arrays serialize to their JSON text (key order preserved); scalars and
// null pass through unchanged.
func NormalizeValue(v any) (any, error) {
	switch v.(type) {
	case nil, string, float64, bool:
		return v, nil
	default:
		text, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize value: %w", err)
		}
		return string(text), nil
	}
}
