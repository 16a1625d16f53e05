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

package loss

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystalline-lattice/engine/lattice"
)

func referenceCrossEntropy(logits []float32, targets []uint32, mask []uint8, vocab int) float64 {
	var total float64
	count := 0
	for i, t := range targets {
		if mask[i] == 0 {
			continue
		}
		row := logits[i*vocab : (i+1)*vocab]
		maxV := row[0]
		for _, v := range row {
			if v > maxV {
				maxV = v
			}
		}
		var sumExp float64
		for _, v := range row {
			sumExp += math.Exp(float64(v - maxV))
		}
		lse := float64(maxV) + math.Log(sumExp)
		total += lse - float64(row[t])
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func TestComputeReducesToCrossEntropyWhenLambdasZero(t *testing.T) {
	table, err := lattice.Build(20)
	require.NoError(t, err)

	n, vocab := 3, 20
	logits := make([]float32, n*vocab)
	for i := range logits {
		logits[i] = float32(i%7) * 0.1
	}
	targets := []uint32{1, 5, 19}
	mask := []uint8{1, 1, 1}

	cfg := Config{LambdaPrime: 0, LambdaDist: 0, TopK: 8}
	dLogits := make([]float32, n*vocab)
	got, err := Compute(logits, targets, mask, table, cfg, dLogits)
	require.NoError(t, err)

	want := referenceCrossEntropy(logits, targets, mask, vocab)
	assert.InDelta(t, want, got, 1e-6)
}

func TestComputeMasksPaddingPositions(t *testing.T) {
	table, err := lattice.Build(10)
	require.NoError(t, err)

	n, vocab := 2, 10
	logits := make([]float32, n*vocab)
	targets := []uint32{3, 7}
	mask := []uint8{1, 0}

	dLogits := make([]float32, n*vocab)
	_, err = Compute(logits, targets, mask, table, DefaultConfig(), dLogits)
	require.NoError(t, err)

	for _, v := range dLogits[vocab : 2*vocab] {
		assert.Zero(t, v)
	}
}

func TestComputeRegularizerIncreasesLossForDissimilarPredictions(t *testing.T) {
	table, err := lattice.Build(30)
	require.NoError(t, err)

	n, vocab := 1, 30
	logits := make([]float32, n*vocab)
	// Sharpen the distribution toward a handful of tokens so the
	// regularizer's top-k selection has teeth.
	for i := 0; i < 5; i++ {
		logits[i] = 3.0
	}
	targets := []uint32{0}
	mask := []uint8{1}

	dZero := make([]float32, n*vocab)
	zeroLoss, err := Compute(logits, targets, mask, table, Config{LambdaPrime: 0, LambdaDist: 0, TopK: 8}, dZero)
	require.NoError(t, err)

	dReg := make([]float32, n*vocab)
	regLoss, err := Compute(logits, targets, mask, table, Config{LambdaPrime: 0.3, LambdaDist: 0.2, TopK: 8}, dReg)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, regLoss, zeroLoss-1e-9)
}
