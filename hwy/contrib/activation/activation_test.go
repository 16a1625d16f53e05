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

package activation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGELUMatchesExactFormula(t *testing.T) {
	input := []float32{-3, -2, -1, -0.5, 0, 0.5, 1, 2, 3}
	output := make([]float32, len(input))

	GELU(input, output)

	const invSqrt2 = 0.7071067811865476
	for i, x := range input {
		xf := float64(x)
		want := xf * 0.5 * (1 + math.Erf(xf*invSqrt2))
		assert.InDelta(t, want, float64(output[i]), 1e-5)
	}
}

func TestReLUClampsNegatives(t *testing.T) {
	input := []float32{-2, -0.1, 0, 0.1, 2}
	output := make([]float32, len(input))

	ReLU(input, output)

	want := []float32{0, 0, 0, 0.1, 2}
	for i := range want {
		assert.InDelta(t, want[i], output[i], 1e-6)
	}
}
