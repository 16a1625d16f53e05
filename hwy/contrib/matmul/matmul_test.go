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

package matmul

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func naiveMatMulKLast(a, b []float32, m, n, k int) []float32 {
	c := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for p := 0; p < k; p++ {
				sum += a[i*k+p] * b[j*k+p]
			}
			c[i*n+j] = sum
		}
	}
	return c
}

func TestMatMulKLastMatchesNaive(t *testing.T) {
	cases := []struct {
		name    string
		m, n, k int
	}{
		{"tiny", 1, 1, 1},
		{"fourRowsExactUnroll", 4, 3, 5},
		{"fiveRowsRemainder", 5, 7, 11},
		{"oddK", 3, 2, 9},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := randSlice(tc.m*tc.k, 11)
			b := randSlice(tc.n*tc.k, 13)
			got := make([]float32, tc.m*tc.n)

			MatMulKLast(a, b, got, tc.m, tc.n, tc.k)

			want := naiveMatMulKLast(a, b, tc.m, tc.n, tc.k)
			for i := range want {
				assert.InDelta(t, want[i], got[i], 1e-3)
			}
		})
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
