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

package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystalline-lattice/engine/xerr"
)

func TestMatMulTransBMatchesNaive(t *testing.T) {
	m, n, k := 5, 7, 11
	a := randSlice(m*k, 1)
	b := randSlice(n*k, 2)
	got := make([]float32, m*n)
	require.NoError(t, MatMulTransB(a, b, got, m, n, k))

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var want float32
			for p := 0; p < k; p++ {
				want += a[i*k+p] * b[j*k+p]
			}
			assert.InDelta(t, want, got[i*n+j], 1e-3)
		}
	}
}

func TestMatMulMatchesNaive(t *testing.T) {
	m, n, k := 4, 3, 5
	a := randSlice(m*k, 3)
	b := randSlice(k*n, 4)
	got := make([]float32, m*n)
	require.NoError(t, MatMul(a, b, got, m, n, k))

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var want float32
			for p := 0; p < k; p++ {
				want += a[i*k+p] * b[p*n+j]
			}
			assert.InDelta(t, want, got[i*n+j], 1e-3)
		}
	}
}

func TestMatMulAddBiasMatchesNaive(t *testing.T) {
	m, n, k := 4, 3, 6
	a := randSlice(m*k, 5)
	w := randSlice(n*k, 6)
	bias := randSlice(n, 7)
	got := make([]float32, m*n)
	require.NoError(t, MatMulAddBias(a, w, bias, got, m, n, k))

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			want := bias[j]
			for p := 0; p < k; p++ {
				want += a[i*k+p] * w[j*k+p]
			}
			assert.InDelta(t, want, got[i*n+j], 1e-3)
		}
	}
}

func TestMatMulShapeMismatch(t *testing.T) {
	err := MatMulTransB(make([]float32, 2), make([]float32, 6), make([]float32, 6), 3, 2, 3)
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.ShapeMismatch))
}

func TestSoftmaxRowwiseSumsToOne(t *testing.T) {
	x := []float32{1, 2, 3, 4, 100, -100, 0, 1}
	require.NoError(t, SoftmaxRowwise(x, 2, 4))
	for r := 0; r < 2; r++ {
		var sum float32
		for c := 0; c < 4; c++ {
			sum += x[r*4+c]
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}
}

func TestLayerNormZeroMeanUnitVariance(t *testing.T) {
	input := []float32{1, 2, 3, 4, 5, 6}
	output := make([]float32, 6)
	_, err := LayerNorm(input, output, 1, 6, nil, nil, 1e-5)
	require.NoError(t, err)

	var mean float64
	for _, v := range output {
		mean += float64(v)
	}
	mean /= 6
	assert.InDelta(t, 0.0, mean, 1e-4)

	var variance float64
	for _, v := range output {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= 6
	assert.InDelta(t, 1.0, variance, 1e-3)
}

func TestGELUMatchesReference(t *testing.T) {
	input := []float32{-2, -1, 0, 1, 2}
	output := make([]float32, 5)
	require.NoError(t, GELU(input, output))
	for i, x := range input {
		xf := float64(x)
		want := xf * 0.5 * (1 + math.Erf(xf*invSqrt2))
		assert.InDelta(t, want, float64(output[i]), 1e-5)
	}
}

func TestTransposeRoundTrip(t *testing.T) {
	src := []float32{1, 2, 3, 4, 5, 6}
	dst := make([]float32, 6)
	require.NoError(t, Transpose(src, dst, 2, 3))
	back := make([]float32, 6)
	require.NoError(t, Transpose(dst, back, 3, 2))
	assert.Equal(t, src, back)
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
