// Package types is the top level directory for the important shared types of
// the library. See sub-packages `shapes` and `tensors`.
//
// This package also provides the container types: Set and OrderedMap.
package types

import "iter"

// Set implements a Set for the key type T.
type Set[T comparable] map[T]struct{}

// MakeSet returns an empty Set of the given type. Size is optional, and if given
// will reserve the expected size.
func MakeSet[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// SetWith creates a Set[T] with the given elements inserted.
func SetWith[T comparable](elements ...T) Set[T] {
	s := MakeSet[T](len(elements))
	for _, element := range elements {
		s.Insert(element)
	}
	return s
}

// Has returns true if Set s has the given key.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert keys into set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

// OrderedMap is a string-keyed map that preserves insertion order.
//
// Several structures in this library (features, predictions, labels, metric
// ops) have mapping semantics where iteration order is significant: entries
// are written into the exported artifact as parallel ordered lists, and the
// loader recovers the mapping by zipping those lists back together. A plain Go
// map cannot provide a stable order, so those structures use OrderedMap.
//
// Setting an existing key overwrites the value but keeps the key's original
// position. The zero OrderedMap is not usable; create one with NewOrderedMap.
type OrderedMap[V any] struct {
	keys   []string
	values map[string]V
}

// NewOrderedMap returns an empty OrderedMap.
func NewOrderedMap[V any]() *OrderedMap[V] {
	return &OrderedMap[V]{values: make(map[string]V)}
}

// Set inserts or overwrites the value for key. A new key is appended at the
// end of the iteration order; an existing key keeps its position. It returns
// the map itself, so calls can be chained.
func (m *OrderedMap[V]) Set(key string, value V) *OrderedMap[V] {
	if _, found := m.values[key]; !found {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return m
}

// Get returns the value for key, and whether the key was present.
func (m *OrderedMap[V]) Get(key string) (value V, found bool) {
	if m == nil {
		return
	}
	value, found = m.values[key]
	return
}

// Has returns whether key is present.
func (m *OrderedMap[V]) Has(key string) bool {
	_, found := m.Get(key)
	return found
}

// Len returns the number of entries.
func (m *OrderedMap[V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns a copy of the keys in insertion order.
func (m *OrderedMap[V]) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	return keys
}

// All iterates over (key, value) pairs in insertion order.
func (m *OrderedMap[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		if m == nil {
			return
		}
		for _, key := range m.keys {
			if !yield(key, m.values[key]) {
				return
			}
		}
	}
}
