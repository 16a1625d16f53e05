// Copyright 2025 go-highway Authors
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

package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func naiveDense(x, weight, bias []float32, batchSize, inFeatures, outFeatures int) []float32 {
	out := make([]float32, batchSize*outFeatures)
	for i := 0; i < batchSize; i++ {
		for j := 0; j < outFeatures; j++ {
			var sum float32
			for p := 0; p < inFeatures; p++ {
				sum += x[i*inFeatures+p] * weight[j*inFeatures+p]
			}
			if bias != nil {
				sum += bias[j]
			}
			out[i*outFeatures+j] = sum
		}
	}
	return out
}

func TestDenseMatchesNaive(t *testing.T) {
	cases := []struct {
		name                                string
		batchSize, inFeatures, outFeatures int
		withBias                            bool
	}{
		{"singleRowNoBias", 1, 5, 3, false},
		{"singleRowWithBias", 1, 5, 3, true},
		{"fourRowsExactUnroll", 4, 8, 6, true},
		{"fiveRowsRemainder", 5, 8, 6, true},
		{"oddFeatureCounts", 3, 7, 2, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x := randSlice(tc.batchSize*tc.inFeatures, 1)
			weight := randSlice(tc.outFeatures*tc.inFeatures, 2)
			var bias []float32
			if tc.withBias {
				bias = randSlice(tc.outFeatures, 3)
			}

			got := make([]float32, tc.batchSize*tc.outFeatures)
			Dense(x, weight, bias, got, tc.batchSize, tc.inFeatures, tc.outFeatures)

			want := naiveDense(x, weight, bias, tc.batchSize, tc.inFeatures, tc.outFeatures)
			for i := range want {
				assert.InDelta(t, want[i], got[i], 1e-3)
			}
		})
	}
}

func TestLayerNormMatchesMoments(t *testing.T) {
	const normSize = 6
	input := []float32{1, 2, 3, 4, 5, 6, -3, 0, 3, 6, 9, 12}
	output := make([]float32, len(input))

	LayerNorm(input, output, normSize, nil, nil, 1e-5)

	for g := 0; g < len(input)/normSize; g++ {
		group := output[g*normSize : (g+1)*normSize]
		var mean float64
		for _, v := range group {
			mean += float64(v)
		}
		mean /= normSize
		assert.InDelta(t, 0.0, mean, 1e-4)

		var variance float64
		for _, v := range group {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= normSize
		assert.InDelta(t, 1.0, variance, 1e-3)
	}
}

func TestLayerNormAppliesAffine(t *testing.T) {
	const normSize = 4
	input := []float32{1, 2, 3, 4}
	gamma := []float32{2, 2, 2, 2}
	beta := []float32{1, 1, 1, 1}

	plain := make([]float32, normSize)
	LayerNorm(input, plain, normSize, nil, nil, 1e-5)

	affine := make([]float32, normSize)
	LayerNorm(input, affine, normSize, gamma, beta, 1e-5)

	for i := range plain {
		want := plain[i]*2 + 1
		assert.InDelta(t, float64(want), float64(affine[i]), 1e-4)
	}
}

func randSlice(n int, seed int) []float32 {
	out := make([]float32, n)
	x := uint32(seed*2654435761 + 1)
	for i := range out {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		out[i] = float32(x%1000)/500 - 1
	}
	return out
}
