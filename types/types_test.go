package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	s := MakeSet[int]()
	assert.False(t, s.Has(3))
	s.Insert(3, 5)
	assert.True(t, s.Has(3))
	assert.True(t, s.Has(5))
	assert.False(t, s.Has(7))
	assert.Len(t, SetWith("a", "b", "a"), 2)
}

func TestOrderedMap(t *testing.T) {
	m := NewOrderedMap[int]()
	assert.Equal(t, 0, m.Len())
	m.Set("c", 1).Set("a", 2).Set("b", 3)
	assert.Equal(t, []string{"c", "a", "b"}, m.Keys(), "insertion order, not sorted order")

	// Overwriting keeps the key's original position.
	m.Set("a", 20)
	assert.Equal(t, []string{"c", "a", "b"}, m.Keys())
	value, found := m.Get("a")
	require.True(t, found)
	assert.Equal(t, 20, value)

	var gotKeys []string
	var gotValues []int
	for key, value := range m.All() {
		gotKeys = append(gotKeys, key)
		gotValues = append(gotValues, value)
	}
	assert.Equal(t, []string{"c", "a", "b"}, gotKeys)
	assert.Equal(t, []int{1, 20, 3}, gotValues)

	_, found = m.Get("missing")
	assert.False(t, found)
	assert.False(t, m.Has("missing"))
}

func TestOrderedMapNil(t *testing.T) {
	var m *OrderedMap[string]
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.Keys())
	for range m.All() {
		t.Fatal("nil OrderedMap should iterate over nothing")
	}
}
