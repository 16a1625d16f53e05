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
	"fmt"

	"github.com/crystalline-lattice/engine/hwy/contrib/matmul"
	"github.com/crystalline-lattice/engine/hwy/contrib/nn"
	"github.com/crystalline-lattice/engine/xerr"
)

// MatMul computes c = a @ b where a is [m, k], b is [k, n] (both
// row-major), and c is [m, n]. b is column-indexed rather than
// row-indexed like MatMulTransB's weight argument, so it is transposed
// into a [n, k] scratch buffer first and handed to MatMulKLast, which
// wants both operands row-major with k last (hwy/contrib/matmul/matmul_klast_base.go).
func MatMul(a, b, c []float32, m, n, k int) error {
	if len(a) < m*k {
		return fmt.Errorf("tensor.MatMul: a too short for %dx%d: %w", m, k, xerr.ShapeMismatch)
	}
	if len(b) < k*n {
		return fmt.Errorf("tensor.MatMul: b too short for %dx%d: %w", k, n, xerr.ShapeMismatch)
	}
	if len(c) < m*n {
		return fmt.Errorf("tensor.MatMul: c too short for %dx%d: %w", m, n, xerr.ShapeMismatch)
	}

	bT := make([]float32, n*k)
	if err := Transpose(b[:k*n], bT, k, n); err != nil {
		return err
	}
	matmul.MatMulKLast(a[:m*k], bT, c[:m*n], m, n, k)
	return nil
}

// MatMulTransB computes c = a @ b^T where a is [m, k], b is [n, k]
// (weight-style, row-major with output features first, matching the
// teacher's "PyTorch format" convention in dense_base.go), and c is
// [m, n]. This is the layout every linear projection in the forward
// pass (§4.C) uses for Wq/Wk/Wv/Wo/W1/W2. Both operands are already
// k-last, so this is a direct call into MatMulKLast.
func MatMulTransB(a, b, c []float32, m, n, k int) error {
	if len(a) < m*k {
		return fmt.Errorf("tensor.MatMulTransB: a too short for %dx%d: %w", m, k, xerr.ShapeMismatch)
	}
	if len(b) < n*k {
		return fmt.Errorf("tensor.MatMulTransB: b too short for %dx%d: %w", n, k, xerr.ShapeMismatch)
	}
	if len(c) < m*n {
		return fmt.Errorf("tensor.MatMulTransB: c too short for %dx%d: %w", m, n, xerr.ShapeMismatch)
	}

	matmul.MatMulKLast(a[:m*k], b[:n*k], c[:m*n], m, n, k)
	return nil
}

// MatMulAddBias computes c = a @ b^T + bias: output = x @ weight^T +
// bias, the exact shape of hwy/contrib/nn's BaseDense, which this calls
// directly rather than reusing MatMulTransB plus a separate bias pass.
func MatMulAddBias(a, b, bias, c []float32, m, n, k int) error {
	if len(a) < m*k {
		return fmt.Errorf("tensor.MatMulAddBias: a too short for %dx%d: %w", m, k, xerr.ShapeMismatch)
	}
	if len(b) < n*k {
		return fmt.Errorf("tensor.MatMulAddBias: b too short for %dx%d: %w", n, k, xerr.ShapeMismatch)
	}
	if len(c) < m*n {
		return fmt.Errorf("tensor.MatMulAddBias: c too short for %dx%d: %w", m, n, xerr.ShapeMismatch)
	}
	if bias != nil && len(bias) < n {
		return fmt.Errorf("tensor.MatMulAddBias: bias too short for %d: %w", n, xerr.ShapeMismatch)
	}

	nn.Dense(a[:m*k], b[:n*k], bias, c[:m*n], m, k, n)
	return nil
}

// Transpose writes the transpose of src ([rows, cols], row-major) into
// dst ([cols, rows], row-major).
func Transpose(src, dst []float32, rows, cols int) error {
	if len(src) < rows*cols {
		return fmt.Errorf("tensor.Transpose: src too short for %dx%d: %w", rows, cols, xerr.ShapeMismatch)
	}
	if len(dst) < rows*cols {
		return fmt.Errorf("tensor.Transpose: dst too short for %dx%d: %w", cols, rows, xerr.ShapeMismatch)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}
	return nil
}

// Scale multiplies every element of x by alpha, writing into out (out
// and x may alias).
func Scale(x, out []float32, alpha float32) error {
	if len(out) < len(x) {
		return fmt.Errorf("tensor.Scale: out too short: %w", xerr.ShapeMismatch)
	}
	n := len(x)
	i := 0
	for ; i+Lanes <= n; i += Lanes {
		for l := 0; l < Lanes; l++ {
			out[i+l] = x[i+l] * alpha
		}
	}
	for ; i < n; i++ {
		out[i] = x[i] * alpha
	}
	return nil
}
