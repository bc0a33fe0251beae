package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNounCloneIsDeep(t *testing.T) {
	n := &Noun{
		ID:       "n1",
		Type:     "document",
		Vector:   []float32{1, 2, 3},
		Metadata: map[string]any{"tags": []any{"a", "b"}, "nested": map[string]any{"x": 1}},
	}
	clone := n.Clone()
	require.Equal(t, n.Vector, clone.Vector)

	clone.Vector[0] = 99
	assert.Equal(t, float32(1), n.Vector[0], "mutating clone must not affect original")

	nested := clone.Metadata["nested"].(map[string]any)
	nested["x"] = 2
	assert.Equal(t, 1, n.Metadata["nested"].(map[string]any)["x"])
}

func TestFlattenMetadataDottedPath(t *testing.T) {
	in := map[string]any{
		"author": map[string]any{
			"name": "ada",
			"org":  map[string]any{"id": "eng"},
		},
		"views": 42,
	}
	flat := FlattenMetadata(in)
	assert.Equal(t, "ada", flat["author.name"])
	assert.Equal(t, "eng", flat["author.org.id"])
	assert.Equal(t, 42, flat["views"])
	_, hasNested := flat["author"]
	assert.False(t, hasNested)
}

func TestErrorKindRoundTrips(t *testing.T) {
	err := NewError(KindNotFound, "store.Get", nil)
	assert.True(t, errors.Is(err, ErrNotFound))
	kind, ok := ErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, kind)
}

func TestTransactionErrorUnwrapsCause(t *testing.T) {
	cause := NewError(KindConflict, "txn.Commit", nil)
	txErr := &TransactionError{Cause: cause, CompensationErrors: []error{errors.New("undo failed")}}
	assert.True(t, errors.Is(txErr, ErrConflict))
	assert.Contains(t, txErr.Error(), "compensation error")
}

func TestTypeRegistryRegistersOnUse(t *testing.T) {
	r := NewTypeRegistry()
	assert.False(t, r.HasNounType("document"))
	r.RegisterNounType("document")
	assert.True(t, r.HasNounType("document"))
	assert.ElementsMatch(t, []string{"document"}, r.KnownNounTypes())
}
