package vfskit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationSet(t *testing.T) {
	var empty OperationSet
	for _, op := range AllOperations() {
		assert.False(t, empty.Has(op), op.String())
	}

	s := NewOperationSet(OpRead, OpList, OpDelete)
	assert.True(t, s.Has(OpRead))
	assert.True(t, s.Has(OpDelete))
	assert.False(t, s.Has(OpWrite))
	assert.Equal(t, []Operation{OpRead, OpList, OpDelete}, s.Operations())
	assert.Equal(t, "{read,list,delete}", s.String())

	t.Run("with and without return new sets", func(t *testing.T) {
		w := s.With(OpWrite, OpAppend)
		assert.True(t, w.Has(OpAppend))
		assert.False(t, s.Has(OpAppend))
		assert.Equal(t, s, w.Without(OpWrite, OpAppend))
		assert.Equal(t, s, s.Without(OpMkdir))
	})

	t.Run("intersect", func(t *testing.T) {
		o := NewOperationSet(OpList, OpRename, OpDelete)
		assert.Equal(t, NewOperationSet(OpList, OpDelete), s.Intersect(o))
		assert.Equal(t, OperationSet(0), s.Intersect(0))
	})

	t.Run("read only set", func(t *testing.T) {
		assert.Equal(t, []Operation{OpRead, OpList}, ReadOnlyOperations.Operations())
	})
}

func TestOperationString(t *testing.T) {
	assert.Len(t, AllOperations(), int(numOperations))
	seen := make(map[string]bool)
	for _, op := range AllOperations() {
		name := op.String()
		assert.NotEqual(t, "unknown", name)
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}
	assert.Equal(t, "unknown", Operation(-1).String())
	assert.Equal(t, "unknown", numOperations.String())
}
