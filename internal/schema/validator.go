// Package schema resolves JSON schemas by SchemaID and validates documents
// against them.
//
// Schemas live as {dir}/{SchemaID}.json files. Each schema declares its
// dialect through the $schema field; draft-04 schemas are compiled with
// draft-04 rules, everything else with draft-07. Validation collects every
// violation and reports the one with the
// lexicographically smallest instance location so error messages are
// deterministic across runs.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Common errors returned by schema operations. Check with errors.Is.
var (
	// ErrSchemaNotFound is returned when no schema file exists for a SchemaID.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrValidationFailed is returned when a document violates its schema.
	// The wrapping error carries the representative violation message.
	ErrValidationFailed = errors.New("schema validation failed")
)

// Validator resolves and applies schemas from a directory.
type Validator struct {
	dir string
}

// NewValidator creates a Validator reading schemas from dir.
func NewValidator(dir string) *Validator {
	return &Validator{dir: dir}
}

// Path returns the schema file path for a SchemaID.
func (v *Validator) Path(schemaID string) string {
	return filepath.Join(v.dir, schemaID+".json")
}

// Resolve reads and compiles the schema for schemaID.
//
// Returns ErrSchemaNotFound if the schema file does not exist. Schemas are
// re-read on every call so edits take effect on the next scan without a
// restart.
func (v *Validator) Resolve(schemaID string) (*jsonschema.Schema, error) {
	raw, err := os.ReadFile(v.Path(schemaID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, v.Path(schemaID))
		}
		return nil, fmt.Errorf("failed to read schema %q: %w", schemaID, err)
	}
	return compile(schemaID+".json", raw)
}

// Validate checks payload (raw JSON bytes) against the schema for schemaID.
//
// Returns nil on success, ErrSchemaNotFound if no schema exists, and
// ErrValidationFailed wrapping the representative violation otherwise.
func (v *Validator) Validate(schemaID string, payload []byte) error {
	sch, err := v.Resolve(schemaID)
	if err != nil {
		return err
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}

	if err := sch.Validate(value); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%w: %s", ErrValidationFailed, firstViolation(verr))
		}
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return nil
}

// compile builds a schema with the rule-set its $schema field declares.
func compile(name string, raw []byte) (*jsonschema.Schema, error) {
	var head struct {
		Schema string `json:"$schema"`
	}
	// A malformed schema document still fails in AddResource below; the
	// dialect sniff only needs the $schema string if one is present.
	_ = json.Unmarshal(raw, &head)

	compiler := jsonschema.NewCompiler()
	if strings.Contains(head.Schema, "draft-04") {
		compiler.Draft = jsonschema.Draft4
	} else {
		compiler.Draft = jsonschema.Draft7
	}

	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", name, err)
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return sch, nil
}

// firstViolation flattens the validation error tree into leaf violations and
// returns the message of the one with the smallest instance location. The
// ordering is part of the contract: repeated validation of the same payload
// must report the same violation.
func firstViolation(err *jsonschema.ValidationError) string {
	leaves := collectLeaves(err, nil)
	sort.SliceStable(leaves, func(i, j int) bool {
		if leaves[i].InstanceLocation != leaves[j].InstanceLocation {
			return leaves[i].InstanceLocation < leaves[j].InstanceLocation
		}
		return leaves[i].Message < leaves[j].Message
	})
	if len(leaves) == 0 {
		return err.Message
	}
	first := leaves[0]
	if first.InstanceLocation == "" {
		return first.Message
	}
	return fmt.Sprintf("%s: %s", first.InstanceLocation, first.Message)
}

func collectLeaves(err *jsonschema.ValidationError, acc []*jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(err.Causes) == 0 {
		return append(acc, err)
	}
	for _, cause := range err.Causes {
		acc = collectLeaves(cause, acc)
	}
	return acc
}
