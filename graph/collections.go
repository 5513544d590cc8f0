/*
 *	Copyright 2024 Nervana Systems
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package graph

import "iter"

// AssetFilePathsCollection is the collection under which graph-building code
// records paths of asset files the model depends on (e.g. vocabulary files).
// The exporter carries these paths into the serialized artifact.
const AssetFilePathsCollection = "asset_filepaths"

// Collections is a named, append-only multimap of byte-string entries: the
// graph's metadata store. Each bucket keeps its entries in the order they were
// added -- consumers rely on parallel buckets (e.g. "<prefix>/key" and
// "<prefix>/node") staying positionally aligned, so entries are never removed
// or reordered.
//
// A Collections is owned by the Graph it annotates while the graph is being
// built, and travels with the serialized graph in the exported artifact. It is
// always passed explicitly, never accessed as ambient global state.
type Collections struct {
	names   []string
	buckets map[string][][]byte
}

// NewCollections returns an empty Collections.
func NewCollections() *Collections {
	return &Collections{buckets: make(map[string][][]byte)}
}

// Add appends value at the end of the named bucket, creating the bucket if
// this is its first entry.
func (c *Collections) Add(name string, value []byte) {
	if _, found := c.buckets[name]; !found {
		c.names = append(c.names, name)
	}
	c.buckets[name] = append(c.buckets[name], value)
}

// Get returns the entries of the named bucket in insertion order, or nil if
// the bucket doesn't exist. The returned slice is owned by the Collections,
// don't change it.
func (c *Collections) Get(name string) [][]byte {
	if c == nil {
		return nil
	}
	return c.buckets[name]
}

// Names returns the bucket names in the order the buckets were created.
func (c *Collections) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.names))
	copy(names, c.names)
	return names
}

// All iterates over (name, entries) pairs in bucket-creation order.
func (c *Collections) All() iter.Seq2[string, [][]byte] {
	return func(yield func(string, [][]byte) bool) {
		if c == nil {
			return
		}
		for _, name := range c.names {
			if !yield(name, c.buckets[name]) {
				return
			}
		}
	}
}
