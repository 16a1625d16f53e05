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

package backward

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystalline-lattice/engine/forward"
	"github.com/crystalline-lattice/engine/gradaccum"
	"github.com/crystalline-lattice/engine/internal/xrand"
	"github.com/crystalline-lattice/engine/model"
)

func testModel(t *testing.T) *model.Model {
	t.Helper()
	shapes := model.Shapes{VocabSize: 12, DModel: 4, NHeads: 2, DFF: 8, NLayers: 2, MaxSeqLen: 4, WeightTied: true}
	m, err := model.New(shapes)
	require.NoError(t, err)

	rng := xrand.New(7, "backward-test")
	for _, b := range m.Blocks() {
		for i := range b.Data {
			b.Data[i] = float32(rng.Float64()*0.2 - 0.1)
		}
	}
	return m
}

func runForwardBackward(t *testing.T, m *model.Model, inputIDs []uint32, keyMask []uint8, dLogits []float32, b, s int) *gradaccum.Buffer {
	t.Helper()
	cache := forward.NewCache(m.Shapes, b, s)
	require.NoError(t, forward.Run(m, inputIDs, keyMask, cache))

	scratch := NewScratch(m.Shapes, b, s)
	layout := gradaccum.NewLayout(m)
	grad := gradaccum.NewBuffer(layout.TotalParams())
	require.NoError(t, Run(m, cache, scratch, inputIDs, dLogits, grad, layout))
	return grad
}

func TestRunProducesFiniteGradientsForEveryBlock(t *testing.T) {
	m := testModel(t)
	b, s := 2, 3
	inputIDs := []uint32{1, 2, 3, 4, 5, 6}
	keyMask := []uint8{1, 1, 1, 1, 1, 1}

	dLogits := make([]float32, b*s*m.Shapes.VocabSize)
	rng := xrand.New(11, "dlogits")
	for i := range dLogits {
		dLogits[i] = float32(rng.Float64()*0.02 - 0.01)
	}

	grad := runForwardBackward(t, m, inputIDs, keyMask, dLogits, b, s)
	for _, v := range grad.Data {
		assert.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0))
	}
}

// TestRunMatchesNumericGradient spot-checks a handful of embedding
// parameters against central-difference estimates of d(sum(dLogits *
// logits))/d(param), treating dLogits as a fixed upstream cotangent so
// the "loss" is a concrete differentiable scalar independent of package
// loss (spec §8 property 5).
func TestRunMatchesNumericGradient(t *testing.T) {
	m := testModel(t)
	b, s := 1, 2
	inputIDs := []uint32{3, 5}
	keyMask := []uint8{1, 1}

	dLogits := make([]float32, b*s*m.Shapes.VocabSize)
	rng := xrand.New(13, "dlogits-check")
	for i := range dLogits {
		dLogits[i] = float32(rng.Float64()*0.02 - 0.01)
	}

	lossFn := func() (float64, error) {
		cache := forward.NewCache(m.Shapes, b, s)
		if err := forward.Run(m, inputIDs, keyMask, cache); err != nil {
			return 0, err
		}
		var sum float64
		for i, v := range cache.Logits {
			sum += float64(v) * float64(dLogits[i])
		}
		return sum, nil
	}

	grad := runForwardBackward(t, m, inputIDs, keyMask, dLogits, b, s)
	layout := gradaccum.NewLayout(m)
	dEmbedding := layout.Slice(grad.Data, "embedding")

	const eps = float32(5e-3)
	for _, idx := range []int{int(inputIDs[0]) * m.Shapes.DModel, int(inputIDs[1])*m.Shapes.DModel + 1} {
		numeric, err := NumericGradient(m.Embedding, idx, eps, lossFn)
		require.NoError(t, err)
		assert.InDelta(t, numeric, float64(dEmbedding[idx]), 0.05)
	}
}
