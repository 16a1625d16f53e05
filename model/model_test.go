// Copyright 2025 The Crystalline Lattice Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystalline-lattice/engine/lattice"
	"github.com/crystalline-lattice/engine/xerr"
)

func testShapes() Shapes {
	return Shapes{VocabSize: 50, DModel: 16, NHeads: 2, DFF: 32, NLayers: 2, MaxSeqLen: 8, WeightTied: true}
}

func TestNewRejectsBadHeadDivision(t *testing.T) {
	s := testShapes()
	s.NHeads = 3
	_, err := New(s)
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.InvalidConfig))
}

func TestBlocksCoverEveryAllocatedArray(t *testing.T) {
	m, err := New(testShapes())
	require.NoError(t, err)

	total := 0
	for _, b := range m.Blocks() {
		total += len(b.Data)
	}
	assert.Equal(t, m.TotalParams(), total)
	assert.Greater(t, total, 0)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	shapes := testShapes()
	m, err := New(shapes)
	require.NoError(t, err)

	table, err := lattice.Build(shapes.VocabSize)
	require.NoError(t, err)
	m.InitFromLattice(table, 42)

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))

	loaded, err := Load(&buf, shapes)
	require.NoError(t, err)

	assert.Equal(t, m.Embedding, loaded.Embedding)
	for i := range m.Layers {
		assert.Equal(t, m.Layers[i].Attn.Wq, loaded.Layers[i].Attn.Wq)
		assert.Equal(t, m.Layers[i].FFN.W1, loaded.Layers[i].FFN.W1)
	}
}

func TestLoadRejectsShapeMismatch(t *testing.T) {
	shapes := testShapes()
	m, err := New(shapes)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))

	wrong := shapes
	wrong.DModel = 32
	_, err = Load(&buf, wrong)
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.InvalidConfig))
}

func TestInitFromLatticeDeterministic(t *testing.T) {
	shapes := testShapes()
	table, err := lattice.Build(shapes.VocabSize)
	require.NoError(t, err)

	m1, _ := New(shapes)
	m1.InitFromLattice(table, 7)
	m2, _ := New(shapes)
	m2.InitFromLattice(table, 7)

	assert.Equal(t, m1.Embedding, m2.Embedding)
	assert.Equal(t, m1.Layers[0].Attn.Wq, m2.Layers[0].Attn.Wq)
}
