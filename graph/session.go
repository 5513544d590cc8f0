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

import (
	"encoding/json"

	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/NervanaSystems/model-analysis/types/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Feeds maps placeholder nodes to the values fed for one Session.Run call.
type Feeds map[*Node]*tensors.Tensor

// Session holds the state needed to evaluate a Graph: the values of its
// variables, typically restored from a checkpoint.
//
// It is a reference interpreter covering only the op set constructed by this
// package; heavier numeric execution belongs to an external engine.
type Session struct {
	g         *Graph
	varValues map[string]*tensors.Tensor
}

// NewSession creates a Session for the given graph, with all variables
// uninitialized.
func NewSession(g *Graph) *Session {
	return &Session{g: g, varValues: make(map[string]*tensors.Tensor)}
}

// Graph the session evaluates.
func (s *Session) Graph() *Graph { return s.g }

// SetVariable sets the value of the named graph variable, e.g. when restoring
// from a checkpoint. The variable must exist in the graph and the value must
// match its shape.
func (s *Session) SetVariable(name string, value *tensors.Tensor) error {
	v := s.g.VariableByName(name)
	if v == nil {
		return errors.Errorf("graph %q has no variable %q", s.g.name, name)
	}
	if !value.Shape().Eq(v.Shape()) {
		return errors.Errorf("variable %q has shape %s, cannot set value shaped %s",
			name, v.Shape(), value.Shape())
	}
	s.varValues[name] = value
	return nil
}

// VariableValue returns the current value of the named variable, and whether
// it has been set.
func (s *Session) VariableValue(name string) (*tensors.Tensor, bool) {
	value, found := s.varValues[name]
	return value, found
}

// InitializedVariables returns the names of the variables with a value set,
// sorted.
func (s *Session) InitializedVariables() []string {
	names := maps.Keys(s.varValues)
	slices.Sort(names)
	return names
}

// Run evaluates the fetch node with the given feeds and returns its value.
// NoOp nodes evaluate to nil.
func (s *Session) Run(fetch *Node, feeds Feeds) (*tensors.Tensor, error) {
	if fetch.graph != s.g {
		return nil, errors.Errorf("node %s belongs to graph %q, session runs graph %q",
			fetch, fetch.graph.name, s.g.name)
	}
	memo := make(map[*Node]*tensors.Tensor)
	return s.eval(fetch, feeds, memo)
}

func (s *Session) eval(node *Node, feeds Feeds, memo map[*Node]*tensors.Tensor) (*tensors.Tensor, error) {
	if value, found := memo[node]; found {
		return value, nil
	}
	var value *tensors.Tensor
	var err error
	switch node.op {
	case OpPlaceholder:
		fed, found := feeds[node]
		if !found {
			return nil, errors.Errorf("placeholder %s was not fed", node)
		}
		if fed.DType() != node.DType() {
			return nil, errors.Errorf("placeholder %s fed with dtype %s", node, fed.DType())
		}
		value = fed
	case OpConst:
		value = node.value
	case OpIdentity:
		value, err = s.eval(node.inputs[0], feeds, memo)
	case OpVariable:
		var found bool
		value, found = s.varValues[node.varName]
		if !found {
			return nil, errors.Errorf("variable %q is uninitialized", node.varName)
		}
	case OpParseExample:
		var serialized *tensors.Tensor
		serialized, err = s.eval(node.inputs[0], feeds, memo)
		if err == nil {
			value, err = parseExamples(tensors.Flat[string](serialized), node.feature)
			err = errors.WithMessagef(err, "parsing feature %q", node.feature.Name)
		}
	case OpNoOp:
		value = nil
	default:
		return nil, errors.Errorf("session cannot evaluate op %s (node %s)", node.op, node)
	}
	if err != nil {
		return nil, err
	}
	memo[node] = value
	return value, nil
}

// parseExamples parses one feature out of a batch of serialized example
// records. Records are JSON objects mapping feature name to a scalar or a
// flat array of values.
func parseExamples(records []string, def *FeatureDef) (*tensors.Tensor, error) {
	if def.Kind != FixedLenFeatureKind {
		return nil, errors.Errorf("the reference session only parses fixed-length features, feature has kind %d", def.Kind)
	}
	perExample := 1
	for _, dim := range def.Dimensions {
		perExample *= dim
	}
	dims := append([]int{len(records)}, def.Dimensions...)
	result := tensors.FromShape(shapes.Make(def.DType, dims...))
	for ii, record := range records {
		var fields map[string]any
		if err := json.Unmarshal([]byte(record), &fields); err != nil {
			return nil, errors.Wrapf(err, "example #%d is not a valid record", ii)
		}
		raw, found := fields[def.Name]
		if !found {
			return nil, errors.Errorf("example #%d has no value for feature %q", ii, def.Name)
		}
		values, ok := raw.([]any)
		if !ok {
			values = []any{raw}
		}
		if len(values) != perExample {
			return nil, errors.Errorf("example #%d has %d values for feature %q, expected %d",
				ii, len(values), def.Name, perExample)
		}
		if err := fillSlot(result, ii*perExample, values); err != nil {
			return nil, errors.WithMessagef(err, "example #%d", ii)
		}
	}
	return result, nil
}

// fillSlot writes the JSON-decoded values into result starting at flat
// position pos, converting to the tensor's dtype.
func fillSlot(result *tensors.Tensor, pos int, values []any) error {
	for jj, raw := range values {
		switch result.DType() {
		case shapes.Bool:
			v, ok := raw.(bool)
			if !ok {
				return errors.Errorf("value %v is not a bool", raw)
			}
			tensors.Flat[bool](result)[pos+jj] = v
		case shapes.String:
			v, ok := raw.(string)
			if !ok {
				return errors.Errorf("value %v is not a string", raw)
			}
			tensors.Flat[string](result)[pos+jj] = v
		default:
			// All JSON numbers decode as float64.
			v, ok := raw.(float64)
			if !ok {
				return errors.Errorf("value %v is not a number", raw)
			}
			switch result.DType() {
			case shapes.Int32:
				tensors.Flat[int32](result)[pos+jj] = int32(v)
			case shapes.Int64:
				tensors.Flat[int64](result)[pos+jj] = int64(v)
			case shapes.Float16:
				tensors.Flat[float16.Float16](result)[pos+jj] = float16.Fromfloat32(float32(v))
			case shapes.Float32:
				tensors.Flat[float32](result)[pos+jj] = float32(v)
			case shapes.Float64:
				tensors.Flat[float64](result)[pos+jj] = v
			default:
				return errors.Errorf("unsupported feature dtype %s", result.DType())
			}
		}
	}
	return nil
}
