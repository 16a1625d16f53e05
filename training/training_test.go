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

package training

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystalline-lattice/engine/model"
)

func smallConfig() Config {
	c := DefaultConfig()
	c.VocabSize = 30
	c.DModel = 8
	c.NHeads = 2
	c.DFF = 16
	c.NLayers = 1
	c.MaxSeqLen = 8
	c.BatchSize = 2
	c.SeqLen = 8
	c.Epochs = 3
	c.WarmupSteps = 1
	c.NumThreads = 2
	return c
}

func tokenStream(n, vocab int) []uint32 {
	toks := make([]uint32, n)
	for i := range toks {
		toks[i] = uint32(i % vocab)
	}
	return toks
}

func TestTrainBuildsAndInitializesAFreshModel(t *testing.T) {
	h, err := Train(smallConfig(), tokenStream(300, 30), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, h.EpochsRun())
	assert.NotNil(t, h.Model())
}

func TestTrainRejectsMismatchedSuppliedModel(t *testing.T) {
	cfg := smallConfig()
	wrong, err := model.New(model.Shapes{VocabSize: 99, DModel: 8, NHeads: 2, DFF: 16, NLayers: 1, MaxSeqLen: 8, WeightTied: true})
	require.NoError(t, err)

	_, err = Train(cfg, tokenStream(300, 30), wrong)
	assert.Error(t, err)
}

func TestStepEpochAdvancesEpochsRunAndRefusesPastConfiguredEpochs(t *testing.T) {
	cfg := smallConfig()
	h, err := Train(cfg, tokenStream(300, 30), nil)
	require.NoError(t, err)

	for i := 0; i < cfg.Epochs; i++ {
		_, err := h.StepEpoch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i+1, h.EpochsRun())
	}

	_, err = h.StepEpoch(context.Background())
	assert.Error(t, err)
}

func TestSnapshotMetricsReflectsCompletedEpoch(t *testing.T) {
	cfg := smallConfig()
	h, err := Train(cfg, tokenStream(300, 30), nil)
	require.NoError(t, err)

	_, err = h.StepEpoch(context.Background())
	require.NoError(t, err)

	snap := h.SnapshotMetrics()
	assert.Greater(t, len(snap.PerSphere), 0)
}

func TestCancelStopsFurtherProgressOnModel(t *testing.T) {
	cfg := smallConfig()
	h, err := Train(cfg, tokenStream(300, 30), nil)
	require.NoError(t, err)

	before := append([]float32(nil), h.Model().Embedding...)
	h.Cancel()
	_, err = h.StepEpoch(context.Background())
	assert.Error(t, err)
	assert.Equal(t, before, h.Model().Embedding)
}
