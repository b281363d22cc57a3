package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSchema drops a schema file into dir under {id}.json.
func writeSchema(t *testing.T, dir, id, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, id+".json"), []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write schema: %v", err)
	}
}

func TestValidateOK(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "T1", `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["Value"],
		"properties": {"Value": {"type": "number"}}
	}`)

	v := NewValidator(dir)
	err := v.Validate("T1", []byte(`{"Value": 42}`))
	assert.NoError(t, err)
}

func TestValidateFailure(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "T1", `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["Value"]
	}`)

	v := NewValidator(dir)
	err := v.Validate("T1", []byte(`{"Other": 1}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))
}

func TestValidateSchemaNotFound(t *testing.T) {
	v := NewValidator(t.TempDir())
	err := v.Validate("Nope", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaNotFound))
}

func TestDraft04Selection(t *testing.T) {
	dir := t.TempDir()
	// "exclusiveMinimum": true is draft-04 syntax; draft-07 requires a number.
	writeSchema(t, dir, "Old", `{
		"$schema": "http://json-schema.org/draft-04/schema#",
		"type": "object",
		"properties": {"n": {"type": "integer", "minimum": 0, "exclusiveMinimum": true}}
	}`)

	v := NewValidator(dir)
	require.NoError(t, v.Validate("Old", []byte(`{"n": 1}`)))

	err := v.Validate("Old", []byte(`{"n": 0}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))
}

func TestDraft07Default(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "New", `{
		"type": "object",
		"properties": {"n": {"exclusiveMinimum": 0}}
	}`)

	v := NewValidator(dir)
	require.NoError(t, v.Validate("New", []byte(`{"n": 1}`)))
	assert.Error(t, v.Validate("New", []byte(`{"n": 0}`)))
}

func TestFirstViolationIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "Multi", `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"properties": {
			"alpha": {"type": "string"},
			"zulu": {"type": "string"}
		}
	}`)

	v := NewValidator(dir)
	// Both properties violate; the representative error must name the
	// lexicographically first instance location.
	err := v.Validate("Multi", []byte(`{"zulu": 1, "alpha": 2}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/alpha")

	// Same payload, same message, every time.
	err2 := v.Validate("Multi", []byte(`{"zulu": 1, "alpha": 2}`))
	require.Error(t, err2)
	assert.Equal(t, err.Error(), err2.Error())
}
