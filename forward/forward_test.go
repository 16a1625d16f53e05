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

package forward

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystalline-lattice/engine/lattice"
	"github.com/crystalline-lattice/engine/model"
)

func testModel(t *testing.T) *model.Model {
	t.Helper()
	shapes := model.Shapes{VocabSize: 30, DModel: 16, NHeads: 2, DFF: 32, NLayers: 2, MaxSeqLen: 8, WeightTied: true}
	m, err := model.New(shapes)
	require.NoError(t, err)
	table, err := lattice.Build(shapes.VocabSize)
	require.NoError(t, err)
	m.InitFromLattice(table, 11)
	return m
}

func TestRunProducesFiniteLogits(t *testing.T) {
	m := testModel(t)
	b, s := 2, 4
	ids := []uint32{1, 2, 3, 4, 5, 6, 7, 8}
	mask := []uint8{1, 1, 1, 1, 1, 1, 1, 0}

	cache := NewCache(m.Shapes, b, s)
	require.NoError(t, Run(m, ids, mask, cache))

	for _, v := range cache.Logits {
		assert.False(t, isNaNOrInf(v))
	}
}

func TestRunRejectsOutOfRangeToken(t *testing.T) {
	m := testModel(t)
	cache := NewCache(m.Shapes, 1, 1)
	err := Run(m, []uint32{uint32(m.Shapes.VocabSize)}, []uint8{1}, cache)
	require.Error(t, err)
}

func TestRunDeterministic(t *testing.T) {
	m := testModel(t)
	b, s := 1, 3
	ids := []uint32{4, 5, 6}
	mask := []uint8{1, 1, 1}

	c1 := NewCache(m.Shapes, b, s)
	require.NoError(t, Run(m, ids, mask, c1))
	c2 := NewCache(m.Shapes, b, s)
	require.NoError(t, Run(m, ids, mask, c2))

	assert.Equal(t, c1.Logits, c2.Logits)
}

func TestAttentionRespectsCausalMask(t *testing.T) {
	m := testModel(t)
	b, s := 1, 3
	ids := []uint32{1, 2, 3}
	mask := []uint8{1, 1, 1}
	cache := NewCache(m.Shapes, b, s)
	require.NoError(t, Run(m, ids, mask, cache))

	h := m.Shapes.NHeads
	probs := cache.Layers[0].AttnProbs
	for hi := 0; hi < h; hi++ {
		block := probs[hi*s*s : (hi+1)*s*s]
		// row 0 may only attend to column 0.
		assert.InDelta(t, 0, block[0*s+1], 1e-6)
		assert.InDelta(t, 0, block[0*s+2], 1e-6)
		// row 1 may attend to columns 0,1 but not 2.
		assert.InDelta(t, 0, block[1*s+2], 1e-6)
	}
}

func isNaNOrInf(v float32) bool {
	return v != v || v > 3.0e38 || v < -3.0e38
}
