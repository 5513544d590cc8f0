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

// Package checkpoints implements saving, discovery and restoring of trained
// variable snapshots.
//
// A checkpoint is a pair of files sharing a base name: "<base>.json", the
// index with the position of each variable, and "<base>.bin", the raw
// little-endian variable data. Base names embed a monotonic count and a
// timestamp, so lexicographic order is creation order and the latest
// checkpoint is simply the last one listed.
//
// The export path consumes this package through two narrow surfaces: Latest
// (checkpoint discovery) and Saver (weight restore into a graph.Session).
// Save is the writer side, used by training code and test fixtures.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/NervanaSystems/model-analysis/graph"
	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/NervanaSystems/model-analysis/types/tensors"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"k8s.io/klog/v2"
)

// DirPermMode is the default directory creation permission (before umask) used.
var DirPermMode = os.FileMode(0770)

const (
	baseNamePrefix = "checkpoint-"
	indexSuffix    = ".json"
	dataSuffix     = ".bin"
)

// indexedVar records where one variable's raw data lives in the data file.
type indexedVar struct {
	Name       string
	DType      string
	Dimensions []int

	// Pos, Length in bytes in the data file.
	Pos, Length int
}

// checkpointIndex is the content of the "<base>.json" file.
type checkpointIndex struct {
	GlobalStep int64
	Variables  []indexedVar
}

// List returns the base names of the checkpoints in dir in creation order
// (oldest first). A missing directory lists as empty.
func List(dir string) (checkpoints []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "listing checkpoints in %q", dir)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		if !strings.HasPrefix(fileName, baseNamePrefix) || !strings.HasSuffix(fileName, indexSuffix) {
			continue
		}
		checkpoints = append(checkpoints, fileName[:len(fileName)-len(indexSuffix)])
	}
	sort.Strings(checkpoints)
	return checkpoints, nil
}

// Latest returns the path (directory + base name, without the file suffixes)
// of the most recent checkpoint in modelDir, or "" if there is none.
func Latest(modelDir string) (string, error) {
	checkpoints, err := List(modelDir)
	if err != nil {
		return "", err
	}
	if len(checkpoints) == 0 {
		return "", nil
	}
	return filepath.Join(modelDir, checkpoints[len(checkpoints)-1]), nil
}

var checkpointCountRegex = regexp.MustCompile(`^checkpoint-n(\d+)-`)

// maxCheckpointCount returns the largest count embedded in the given base
// names, -1 if there are none. The next checkpoint saved uses count+1.
func maxCheckpointCount(checkpoints []string) int {
	maxId := -1
	for _, name := range checkpoints {
		matches := checkpointCountRegex.FindAllStringSubmatch(name, 1)
		if len(matches) != 1 || len(matches[0]) != 2 {
			continue
		}
		id, err := strconv.Atoi(matches[0][1])
		if err != nil {
			continue
		}
		if id > maxId {
			maxId = id
		}
	}
	return maxId
}

// newCheckpointBaseName returns the base name for the next checkpoint files.
func newCheckpointBaseName(count int, globalStep int64) string {
	now := time.Now().Format("20060102-150405")
	baseName := fmt.Sprintf("%sn%07d-%s", baseNamePrefix, count, now)
	if globalStep > 0 {
		return fmt.Sprintf("%s-step-%08d", baseName, globalStep)
	}
	return fmt.Sprintf("%s-initial", baseName)
}

// Save writes a new checkpoint with the given variable values into dir,
// creating the directory if needed. Variables are laid out in name order.
// It returns the checkpoint path (directory + base name, without suffixes).
func Save(dir string, globalStep int64, variables map[string]*tensors.Tensor) (string, error) {
	if err := os.MkdirAll(dir, DirPermMode); err != nil {
		return "", errors.Wrapf(err, "creating checkpoint directory %q", dir)
	}
	existing, err := List(dir)
	if err != nil {
		return "", err
	}
	baseName := newCheckpointBaseName(maxCheckpointCount(existing)+1, globalStep)

	dataFileName := filepath.Join(dir, baseName+dataSuffix)
	dataFile, err := os.Create(dataFileName)
	if err != nil {
		return "", errors.Wrapf(err, "creating checkpoint data file %q", dataFileName)
	}
	index := checkpointIndex{GlobalStep: globalStep}
	pos := 0
	names := maps.Keys(variables)
	slices.Sort(names)
	for _, name := range names {
		value := variables[name]
		rawData, err := value.Bytes()
		if err != nil {
			_ = dataFile.Close()
			return "", errors.WithMessagef(err, "serializing variable %q", name)
		}
		n, err := dataFile.Write(rawData)
		if err != nil {
			_ = dataFile.Close()
			return "", errors.Wrapf(err, "writing variable %q to %q", name, dataFileName)
		}
		if n != len(rawData) {
			_ = dataFile.Close()
			return "", errors.Errorf("writing variable %q: %d bytes requested, %d written", name, len(rawData), n)
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
		return "", errors.Wrapf(err, "closing checkpoint data file %q", dataFileName)
	}

	indexFileName := filepath.Join(dir, baseName+indexSuffix)
	indexFile, err := os.Create(indexFileName)
	if err != nil {
		return "", errors.Wrapf(err, "creating checkpoint index file %q", indexFileName)
	}
	enc := json.NewEncoder(indexFile)
	enc.SetIndent("", "\t")
	if err = enc.Encode(&index); err != nil {
		_ = indexFile.Close()
		return "", errors.Wrapf(err, "writing checkpoint index file %q", indexFileName)
	}
	if err = indexFile.Close(); err != nil {
		return "", errors.Wrapf(err, "closing checkpoint index file %q", indexFileName)
	}
	klog.V(1).Infof("saved checkpoint %q: %d variables, %s",
		filepath.Join(dir, baseName), len(index.Variables), humanize.Bytes(uint64(pos)))
	return filepath.Join(dir, baseName), nil
}

// Saver restores checkpointed variable values into a graph.Session.
type Saver interface {
	// Restore loads the checkpoint at checkpointPath (directory + base name,
	// as returned by Save or Latest) and sets the session's variables from it.
	Restore(session *graph.Session, checkpointPath string) error
}

// defaultSaver restores every variable of the session's graph from the
// checkpoint's index.
type defaultSaver struct{}

// DefaultSaver returns the Saver used when a model provides no custom one. It
// requires every graph variable to be present in the checkpoint; checkpoint
// variables without a graph counterpart are ignored.
func DefaultSaver() Saver { return defaultSaver{} }

func (defaultSaver) Restore(session *graph.Session, checkpointPath string) error {
	indexFileName := checkpointPath + indexSuffix
	indexData, err := os.ReadFile(indexFileName)
	if err != nil {
		return errors.Wrapf(err, "reading checkpoint index file %q", indexFileName)
	}
	var index checkpointIndex
	if err = json.Unmarshal(indexData, &index); err != nil {
		return errors.Wrapf(err, "decoding checkpoint index file %q", indexFileName)
	}
	dataFileName := checkpointPath + dataSuffix
	data, err := os.ReadFile(dataFileName)
	if err != nil {
		return errors.Wrapf(err, "reading checkpoint data file %q", dataFileName)
	}

	indexed := make(map[string]indexedVar, len(index.Variables))
	for _, varInfo := range index.Variables {
		indexed[varInfo.Name] = varInfo
	}
	g := session.Graph()
	names := g.Variables()
	slices.Sort(names)
	for _, name := range names {
		varInfo, found := indexed[name]
		if !found {
			return errors.Errorf("checkpoint %q has no value for variable %q", checkpointPath, name)
		}
		dtype := shapes.DTypeFromString(varInfo.DType)
		if dtype == shapes.InvalidDType {
			return errors.Errorf("checkpoint %q variable %q has unknown dtype %q", checkpointPath, name, varInfo.DType)
		}
		if varInfo.Pos < 0 || varInfo.Length < 0 || varInfo.Pos+varInfo.Length > len(data) {
			return errors.Errorf("checkpoint %q variable %q points outside the data file", checkpointPath, name)
		}
		value, err := tensors.FromBytes(
			shapes.Shape{DType: dtype, Dimensions: varInfo.Dimensions},
			data[varInfo.Pos:varInfo.Pos+varInfo.Length])
		if err != nil {
			return errors.WithMessagef(err, "checkpoint %q variable %q", checkpointPath, name)
		}
		if err = session.SetVariable(name, value); err != nil {
			return errors.WithMessagef(err, "restoring from checkpoint %q", checkpointPath)
		}
	}
	klog.V(1).Infof("restored %d variables from checkpoint %q", len(names), checkpointPath)
	return nil
}
