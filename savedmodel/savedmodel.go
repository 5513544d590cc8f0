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

// Package savedmodel reads and writes the self-describing on-disk artifact
// holding a serialized graph and its variable values.
//
// Layout of an artifact directory:
//
//	saved_model.json          meta graph: tags, node defs, metadata
//	                          collections, local-init op, asset paths
//	variables/variables.json  index of the variable snapshot
//	variables/variables.bin   raw little-endian variable data
//
// The Builder writes into a directory that must not yet exist; the exporter
// points it at a temporary directory and atomically renames the result into
// place, so a partially written artifact is never visible under its final
// name. Load is the inverse, used by the offline evaluation system (and by
// tests) to recover the graph, the collections and the variable values
// without access to the code that built them.
package savedmodel

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/NervanaSystems/model-analysis/graph"
	"github.com/NervanaSystems/model-analysis/types"
	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/NervanaSystems/model-analysis/types/tensors"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"k8s.io/klog/v2"
)

const (
	// MetaGraphFileName is the name of the meta-graph file inside an artifact
	// directory.
	MetaGraphFileName = "saved_model.json"

	// VariablesDirName is the subdirectory holding the variable snapshot.
	VariablesDirName = "variables"

	variablesIndexFileName = "variables.json"
	variablesDataFileName  = "variables.bin"

	// FormatVersion is bumped on incompatible changes of the artifact layout.
	FormatVersion = 1
)

// DirPermMode is the default directory creation permission (before umask) used.
var DirPermMode = os.FileMode(0770)

// NodeDef is the serialized form of one graph node.
type NodeDef struct {
	Name       string   `json:"name"`
	Op         string   `json:"op"`
	Inputs     []string `json:"inputs,omitempty"`
	DType      string   `json:"dtype,omitempty"`
	Dimensions []int    `json:"dims,omitempty"`
}

// collectionDef preserves one metadata bucket with its entry order. Entries
// serialize as base64 strings.
type collectionDef struct {
	Name    string   `json:"name"`
	Entries [][]byte `json:"entries"`
}

// metaGraphDef is the content of saved_model.json.
type metaGraphDef struct {
	FormatVersion int             `json:"format_version"`
	Tags          []string        `json:"tags"`
	RandomSeed    int64           `json:"random_seed,omitempty"`
	Nodes         []NodeDef       `json:"nodes"`
	Collections   []collectionDef `json:"collections"`
	LocalInitOp   string          `json:"local_init_op,omitempty"`
	AssetFiles    []string        `json:"asset_files,omitempty"`
}

// variablesIndex is the content of variables/variables.json.
type variablesIndex struct {
	Variables []indexedVar `json:"variables"`
}

type indexedVar struct {
	Name       string `json:"name"`
	DType      string `json:"dtype"`
	Dimensions []int  `json:"dims,omitempty"`
	Pos        int    `json:"pos"`
	Length     int    `json:"length"`
}

// MetaGraphOptions are the optional parts of a meta graph.
type MetaGraphOptions struct {
	// LocalInitOp is run by a loader before the first evaluation. May be nil.
	LocalInitOp *graph.Node

	// AssetFiles are paths of external files the graph depends on. Recorded
	// as given; the artifact does not copy them.
	AssetFiles []string
}

// Builder writes one artifact directory. Create with NewBuilder, fill with
// AddMetaGraphAndVariables, then call Save.
type Builder struct {
	dir       string
	def       *metaGraphDef
	variables map[string]*tensors.Tensor
}

// NewBuilder creates the artifact directory and returns a Builder writing
// into it. The directory must not exist yet; parents are created as needed.
func NewBuilder(dir string) (*Builder, error) {
	if err := os.MkdirAll(filepath.Dir(dir), DirPermMode); err != nil {
		return nil, errors.Wrapf(err, "creating parent directories of %q", dir)
	}
	if err := os.Mkdir(dir, DirPermMode); err != nil {
		return nil, errors.Wrapf(err, "creating artifact directory %q (it must not exist yet)", dir)
	}
	return &Builder{dir: dir}, nil
}

// Dir returns the directory the Builder writes into.
func (b *Builder) Dir() string { return b.dir }

// AddMetaGraphAndVariables captures the session's graph, metadata collections
// and current variable values into the builder. It fails if any graph
// variable has no value in the session (i.e. was not restored). It may be
// called only once per Builder.
func (b *Builder) AddMetaGraphAndVariables(session *graph.Session, tags []string, opts MetaGraphOptions) error {
	if b.def != nil {
		return errors.Errorf("builder for %q already holds a meta graph", b.dir)
	}
	if len(tags) == 0 {
		return errors.Errorf("at least one meta-graph tag is required")
	}
	g := session.Graph()
	def := &metaGraphDef{
		FormatVersion: FormatVersion,
		Tags:          slices.Clone(tags),
		RandomSeed:    g.RandomSeed(),
		AssetFiles:    slices.Clone(opts.AssetFiles),
	}
	for _, node := range g.Nodes() {
		nodeDef := NodeDef{
			Name: node.Name(),
			Op:   string(node.Op()),
		}
		for _, input := range node.Inputs() {
			nodeDef.Inputs = append(nodeDef.Inputs, input.Name())
		}
		if shape := node.Shape(); shape.Ok() {
			nodeDef.DType = shape.DType.String()
			nodeDef.Dimensions = shape.Dimensions
		}
		def.Nodes = append(def.Nodes, nodeDef)
	}
	for name, entries := range g.Collections().All() {
		def.Collections = append(def.Collections, collectionDef{Name: name, Entries: entries})
	}
	if opts.LocalInitOp != nil {
		def.LocalInitOp = opts.LocalInitOp.Name()
	}

	variables := make(map[string]*tensors.Tensor)
	names := g.Variables()
	slices.Sort(names)
	for _, name := range names {
		value, found := session.VariableValue(name)
		if !found {
			return errors.Errorf("variable %q has no value in the session; restore a checkpoint before saving", name)
		}
		variables[name] = value
	}
	b.def = def
	b.variables = variables
	return nil
}

// Save materializes the captured meta graph and variables into the artifact
// directory.
func (b *Builder) Save() error {
	if b.def == nil {
		return errors.Errorf("builder for %q holds no meta graph; call AddMetaGraphAndVariables first", b.dir)
	}
	variablesDir := filepath.Join(b.dir, VariablesDirName)
	if err := os.Mkdir(variablesDir, DirPermMode); err != nil {
		return errors.Wrapf(err, "creating variables directory %q", variablesDir)
	}

	dataFileName := filepath.Join(variablesDir, variablesDataFileName)
	dataFile, err := os.Create(dataFileName)
	if err != nil {
		return errors.Wrapf(err, "creating variables data file %q", dataFileName)
	}
	var index variablesIndex
	pos := 0
	names := make([]string, 0, len(b.variables))
	for name := range b.variables {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		value := b.variables[name]
		rawData, err := value.Bytes()
		if err != nil {
			_ = dataFile.Close()
			return errors.WithMessagef(err, "serializing variable %q", name)
		}
		if _, err = dataFile.Write(rawData); err != nil {
			_ = dataFile.Close()
			return errors.Wrapf(err, "writing variable %q to %q", name, dataFileName)
		}
		index.Variables = append(index.Variables, indexedVar{
			Name:       name,
			DType:      value.DType().String(),
			Dimensions: value.Shape().Dimensions,
			Pos:        pos,
			Length:     len(rawData),
		})
		pos += len(rawData)
	}
	if err = dataFile.Close(); err != nil {
		return errors.Wrapf(err, "closing variables data file %q", dataFileName)
	}
	if err = writeJSON(filepath.Join(variablesDir, variablesIndexFileName), &index); err != nil {
		return err
	}

	// The meta graph is written last: its presence marks a fully written
	// artifact.
	if err = writeJSON(filepath.Join(b.dir, MetaGraphFileName), b.def); err != nil {
		return err
	}
	klog.V(1).Infof("saved model artifact at %q: %d nodes, %d variables (%s of data)",
		b.dir, len(b.def.Nodes), len(index.Variables), humanize.Bytes(uint64(pos)))
	return nil
}

func writeJSON(fileName string, value any) error {
	file, err := os.Create(fileName)
	if err != nil {
		return errors.Wrapf(err, "creating %q", fileName)
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "\t")
	if err = enc.Encode(value); err != nil {
		_ = file.Close()
		return errors.Wrapf(err, "writing %q", fileName)
	}
	if err = file.Close(); err != nil {
		return errors.Wrapf(err, "closing %q", fileName)
	}
	return nil
}

// SavedModel is a loaded artifact.
type SavedModel struct {
	Tags        []string
	RandomSeed  int64
	Nodes       []NodeDef
	Collections *graph.Collections
	LocalInitOp string
	AssetFiles  []string
	Variables   map[string]*tensors.Tensor
}

// HasTag returns whether the artifact's meta graph carries the given tag.
func (sm *SavedModel) HasTag(tag string) bool {
	return types.SetWith(sm.Tags...).Has(tag)
}

// NodeByName returns the NodeDef with the given name, or nil.
func (sm *SavedModel) NodeByName(name string) *NodeDef {
	for ii := range sm.Nodes {
		if sm.Nodes[ii].Name == name {
			return &sm.Nodes[ii]
		}
	}
	return nil
}

// Load reads an artifact directory written by Builder: meta graph, metadata
// collections (with per-bucket entry order preserved) and variable values.
func Load(dir string) (*SavedModel, error) {
	metaFileName := filepath.Join(dir, MetaGraphFileName)
	metaData, err := os.ReadFile(metaFileName)
	if err != nil {
		return nil, errors.Wrapf(err, "reading meta graph %q", metaFileName)
	}
	var def metaGraphDef
	if err = json.Unmarshal(metaData, &def); err != nil {
		return nil, errors.Wrapf(err, "decoding meta graph %q", metaFileName)
	}
	if def.FormatVersion > FormatVersion {
		return nil, errors.Errorf("artifact %q has format version %d, this library reads up to %d",
			dir, def.FormatVersion, FormatVersion)
	}

	collections := graph.NewCollections()
	for _, bucket := range def.Collections {
		for _, entry := range bucket.Entries {
			collections.Add(bucket.Name, entry)
		}
	}

	variablesDir := filepath.Join(dir, VariablesDirName)
	indexFileName := filepath.Join(variablesDir, variablesIndexFileName)
	indexData, err := os.ReadFile(indexFileName)
	if err != nil {
		return nil, errors.Wrapf(err, "reading variables index %q", indexFileName)
	}
	var index variablesIndex
	if err = json.Unmarshal(indexData, &index); err != nil {
		return nil, errors.Wrapf(err, "decoding variables index %q", indexFileName)
	}
	dataFileName := filepath.Join(variablesDir, variablesDataFileName)
	data, err := os.ReadFile(dataFileName)
	if err != nil {
		return nil, errors.Wrapf(err, "reading variables data %q", dataFileName)
	}
	variables := make(map[string]*tensors.Tensor, len(index.Variables))
	for _, varInfo := range index.Variables {
		dtype := shapes.DTypeFromString(varInfo.DType)
		if dtype == shapes.InvalidDType {
			return nil, errors.Errorf("variable %q has unknown dtype %q", varInfo.Name, varInfo.DType)
		}
		if varInfo.Pos < 0 || varInfo.Length < 0 || varInfo.Pos+varInfo.Length > len(data) {
			return nil, errors.Errorf("variable %q points outside the data file", varInfo.Name)
		}
		value, err := tensors.FromBytes(
			shapes.Shape{DType: dtype, Dimensions: varInfo.Dimensions},
			data[varInfo.Pos:varInfo.Pos+varInfo.Length])
		if err != nil {
			return nil, errors.WithMessagef(err, "variable %q", varInfo.Name)
		}
		variables[varInfo.Name] = value
	}

	return &SavedModel{
		Tags:        def.Tags,
		RandomSeed:  def.RandomSeed,
		Nodes:       def.Nodes,
		Collections: collections,
		LocalInitOp: def.LocalInitOp,
		AssetFiles:  def.AssetFiles,
		Variables:   variables,
	}, nil
}
