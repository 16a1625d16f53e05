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

// axpy computes dst[i] += alpha * x[i] for all i, unrolled Lanes at a
// time so the summation order is identical on every platform.
func axpy(dst []float32, alpha float32, x []float32) {
	n := len(dst)
	i := 0
	for ; i+Lanes <= n; i += Lanes {
		for l := 0; l < Lanes; l++ {
			dst[i+l] += alpha * x[i+l]
		}
	}
	for ; i < n; i++ {
		dst[i] += alpha * x[i]
	}
}

// addInto computes dst[i] = a[i] + b[i] for all i.
func addInto(dst, a, b []float32) {
	n := len(dst)
	i := 0
	for ; i+Lanes <= n; i += Lanes {
		for l := 0; l < Lanes; l++ {
			dst[i+l] = a[i+l] + b[i+l]
		}
	}
	for ; i < n; i++ {
		dst[i] = a[i] + b[i]
	}
}

// AddInto is the exported form of addInto, used by callers outside this
// package (forward/backward residual connections).
func AddInto(dst, a, b []float32) { addInto(dst, a, b) }

// AddScaled computes dst[i] += alpha*x[i] for all i — the exported form
// of axpy, used for backward's embedding-gradient scatter-add.
func AddScaled(dst []float32, alpha float32, x []float32) { axpy(dst, alpha, x) }
