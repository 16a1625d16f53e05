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

package optimizer

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystalline-lattice/engine/gradaccum"
	"github.com/crystalline-lattice/engine/model"
)

func testModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.New(model.Shapes{VocabSize: 10, DModel: 8, NHeads: 2, DFF: 16, NLayers: 1, MaxSeqLen: 4, WeightTied: true})
	require.NoError(t, err)
	return m
}

func TestLRWarmupThenCosineDecay(t *testing.T) {
	cfg := Config{BaseLR: 1.0, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, MaxNorm: 1, WarmupSteps: 10, TotalSteps: 100, MinLRRatio: 0.1}
	o, err := New(cfg, 100)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, o.LR(5), 1e-9)
	assert.InDelta(t, 1.0, o.LR(10), 1e-9)
	assert.InDelta(t, 0.1, o.LR(100), 1e-9)
}

func TestApplyUpdatesParamsAndZeroesGradient(t *testing.T) {
	m := testModel(t)
	layout := gradaccum.NewLayout(m)
	acc, err := gradaccum.New(layout.TotalParams(), 2)
	require.NoError(t, err)

	for i := range acc.Sphere(0).Data {
		acc.Sphere(0).Data[i] = 0.1
	}
	acc.Reduce()

	o, err := New(DefaultConfig(), layout.TotalParams())
	require.NoError(t, err)

	before := append([]float32(nil), m.Embedding...)
	applied, err := o.Apply(context.Background(), m, layout, acc)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NotEqual(t, before, m.Embedding)

	for _, v := range acc.Final {
		assert.Zero(t, v)
	}
}

func TestApplyRejectsNonFiniteGradient(t *testing.T) {
	m := testModel(t)
	layout := gradaccum.NewLayout(m)
	acc, err := gradaccum.New(layout.TotalParams(), 1)
	require.NoError(t, err)
	acc.Final[0] = float32(math.NaN())

	o, err := New(DefaultConfig(), layout.TotalParams())
	require.NoError(t, err)

	before := append([]float32(nil), m.Embedding...)
	applied, err := o.Apply(context.Background(), m, layout, acc)
	require.Error(t, err)
	assert.False(t, applied)
	assert.Equal(t, before, m.Embedding)
}

func TestApplyHalvesLRAfterNonFiniteRecovery(t *testing.T) {
	m := testModel(t)
	layout := gradaccum.NewLayout(m)
	acc, err := gradaccum.New(layout.TotalParams(), 1)
	require.NoError(t, err)
	acc.Final[0] = float32(math.NaN())

	cfg := DefaultConfig()
	o, err := New(cfg, layout.TotalParams())
	require.NoError(t, err)

	lrBefore := o.LR(1)
	applied, err := o.Apply(context.Background(), m, layout, acc)
	require.Error(t, err)
	assert.False(t, applied)
	assert.Equal(t, 0, o.Step(), "a recovered-from step must not advance the step counter")
	assert.InDelta(t, lrBefore/2, o.LR(1), 1e-12)

	acc.Final[0] = float32(math.NaN())
	_, err = o.Apply(context.Background(), m, layout, acc)
	require.Error(t, err)
	assert.InDelta(t, lrBefore/4, o.LR(1), 1e-12, "a second recovery compounds the decay")
}
