package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyNilSchemaPasses(t *testing.T) {
	v := Verify(map[string]any{"anything": 1}, nil)
	assert.True(t, v.Pass)
	assert.Equal(t, 1.0, v.Score)
}

func TestVerifyObjectSchema(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"title", "price"},
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
			"price": map[string]any{"type": "number"},
			"tags":  map[string]any{"type": "array"},
		},
	}

	ok := Verify(map[string]any{
		"title": "Widget",
		"price": 12.99,
		"tags":  []any{"a", "b"},
	}, schema)
	assert.True(t, ok.Pass)
	assert.Equal(t, 1.0, ok.Score)

	missing := Verify(map[string]any{"title": "Widget"}, schema)
	assert.False(t, missing.Pass)
	assert.Equal(t, []string{"price"}, missing.MissingFields)

	// A price scraped as text is a type mismatch, not a missing field.
	mismatch := Verify(map[string]any{
		"title": "Widget",
		"price": "12.99",
	}, schema)
	assert.False(t, mismatch.Pass)
	assert.Empty(t, mismatch.MissingFields)
	assert.Equal(t, []string{"price"}, mismatch.TypeMismatches)
	assert.NotEmpty(t, mismatch.Reason)
}

func TestVerifyScoreIsFractionOfChecks(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"a", "b"},
		"properties": map[string]any{
			"a": map[string]any{"type": "string"},
			"b": map[string]any{"type": "number"},
		},
	}
	// a present and correct (required + typed = 2 passes), b missing
	// (1 required failure). Three checks, two passed.
	v := Verify(map[string]any{"a": "yes"}, schema)
	assert.False(t, v.Pass)
	assert.InDelta(t, 2.0/3.0, v.Score, 1e-9)
}

func TestVerifyNonObjectSchemas(t *testing.T) {
	assert.True(t, Verify("hello", map[string]any{"type": "string"}).Pass)
	assert.False(t, Verify(42.0, map[string]any{"type": "string"}).Pass)
	assert.True(t, Verify([]any{1.0}, map[string]any{"type": "array"}).Pass)
	assert.True(t, Verify(true, map[string]any{"type": "boolean"}).Pass)
}

func TestVerifyNonObjectValueAgainstObjectSchema(t *testing.T) {
	v := Verify("not an object", map[string]any{"type": "object"})
	assert.False(t, v.Pass)
	assert.Equal(t, 0.0, v.Score)
}

func TestMatchesTypeIntegerMeansWholeFloat(t *testing.T) {
	assert.True(t, matchesType(3.0, "integer"))
	assert.False(t, matchesType(3.5, "integer"))
	assert.True(t, matchesType(3.5, "number"))
	assert.True(t, matchesType("x", "any"))
}
