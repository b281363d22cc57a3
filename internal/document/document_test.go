package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsNonObjects(t *testing.T) {
	cases := []string{`[1,2,3]`, `"hello"`, `42`, `true`}
	for _, payload := range cases {
		_, err := Parse([]byte(payload))
		assert.Error(t, err, "payload %s", payload)
	}

	_, err := Parse([]byte(`{not json`))
	assert.Error(t, err)
}

func TestParsePreservesKeyOrder(t *testing.T) {
	doc, err := Parse([]byte(`{"Zebra":1,"alpha":2,"Middle":3}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Zebra", "alpha", "Middle"}, doc.Keys())
}

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"SchemaID":  "schemaid",
		"Schema_ID": "schemaid",
		"schema_id": "schemaid",
		"SCHEMAID":  "schemaid",
		"schema-id": "schema-id",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeKey(in))
	}
}

func TestSchemaIDFirstMatchWins(t *testing.T) {
	doc, err := Parse([]byte(`{"other":"x","Schema_ID":"first","SchemaId":"second"}`))
	require.NoError(t, err)

	id, ok := doc.SchemaID()
	require.True(t, ok)
	assert.Equal(t, "first", id)
}

func TestSchemaIDStringifiesNumbers(t *testing.T) {
	doc, err := Parse([]byte(`{"SchemaID":42}`))
	require.NoError(t, err)

	id, ok := doc.SchemaID()
	require.True(t, ok)
	assert.Equal(t, "42", id)
}

func TestSchemaIDMissing(t *testing.T) {
	doc, err := Parse([]byte(`{"schema":"T1","id":"x"}`))
	require.NoError(t, err)

	_, ok := doc.SchemaID()
	assert.False(t, ok)
}

func TestIdentifierPrecedence(t *testing.T) {
	doc, err := Parse([]byte(`{"Identifier":"upper","identifier":"lower"}`))
	require.NoError(t, err)
	assert.Equal(t, "upper", doc.Identifier("fallback"))

	doc, err = Parse([]byte(`{"identifier":"lower"}`))
	require.NoError(t, err)
	assert.Equal(t, "lower", doc.Identifier("fallback"))

	doc, err = Parse([]byte(`{"name":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "fallback", doc.Identifier("fallback"))
}

func TestIdentifierEmptyFallsThrough(t *testing.T) {
	doc, err := Parse([]byte(`{"Identifier":"","identifier":"lower"}`))
	require.NoError(t, err)
	assert.Equal(t, "lower", doc.Identifier("fallback"))

	doc, err = Parse([]byte(`{"Identifier":null}`))
	require.NoError(t, err)
	assert.Equal(t, "fallback", doc.Identifier("fallback"))
}

func TestRoute(t *testing.T) {
	doc, err := Parse([]byte(`{"SchemaID":"T1","Value":42}`))
	require.NoError(t, err)

	route, ok := doc.Route("b")
	require.True(t, ok)
	assert.Equal(t, Route{Table: "T1", Identifier: "b"}, route)
}

func TestGetFoldFirstOccurrence(t *testing.T) {
	doc, err := Parse([]byte(`{"Value":"first","VALUE":"second"}`))
	require.NoError(t, err)

	v, ok := doc.GetFold("value")
	require.True(t, ok)
	assert.Equal(t, "first", v)

	_, ok = doc.GetFold("missing")
	assert.False(t, ok)
}

func TestHasFileType(t *testing.T) {
	doc, err := Parse([]byte(`{"FileTypeIdentifier":"` + FileTypeIdentifier + `"}`))
	require.NoError(t, err)
	assert.True(t, doc.HasFileType())

	doc, err = Parse([]byte(`{"FileTypeIdentifier":"something else"}`))
	require.NoError(t, err)
	assert.False(t, doc.HasFileType())

	doc, err = Parse([]byte(`{"Value":1}`))
	require.NoError(t, err)
	assert.False(t, doc.HasFileType())
}

func TestNormalizeValue(t *testing.T) {
	doc, err := Parse([]byte(`{"obj":{"b":1,"a":2},"arr":[1,"x"],"num":1.5,"str":"s","null":null}`))
	require.NoError(t, err)

	obj, _ := doc.Get("obj")
	got, err := NormalizeValue(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":2}`, got, "nested object keeps its key order")

	arr, _ := doc.Get("arr")
	got, err = NormalizeValue(arr)
	require.NoError(t, err)
	assert.Equal(t, `[1,"x"]`, got)

	num, _ := doc.Get("num")
	got, err = NormalizeValue(num)
	require.NoError(t, err)
	assert.Equal(t, 1.5, got)

	null, _ := doc.Get("null")
	got, err = NormalizeValue(null)
	require.NoError(t, err)
	assert.Nil(t, got)
}
