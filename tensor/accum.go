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

	"github.com/crystalline-lattice/engine/xerr"
)

// MatMulAccumTransA computes c[i,j] += sum_r a[r,i] * b[r,j] for a
// [rows, aCols], b [rows, bCols], c [aCols, bCols] — i.e. c += a^T @ b.
// This is the weight-gradient shape every linear layer's backward pass
// needs (dW = dY^T @ X for Y = X@W^T+b), so package backward calls it
// once per projection instead of every caller hand-rolling a transpose.
// Accumulates rather than overwrites, since a gradient buffer sums
// contributions across every batch in an epoch before the optimizer
// reads it.
func MatMulAccumTransA(a, b, c []float32, rows, aCols, bCols int) error {
	if len(a) < rows*aCols {
		return fmt.Errorf("tensor.MatMulAccumTransA: a too short for %dx%d: %w", rows, aCols, xerr.ShapeMismatch)
	}
	if len(b) < rows*bCols {
		return fmt.Errorf("tensor.MatMulAccumTransA: b too short for %dx%d: %w", rows, bCols, xerr.ShapeMismatch)
	}
	if len(c) < aCols*bCols {
		return fmt.Errorf("tensor.MatMulAccumTransA: c too short for %dx%d: %w", aCols, bCols, xerr.ShapeMismatch)
	}

	for r := 0; r < rows; r++ {
		aRow := a[r*aCols : r*aCols+aCols]
		bRow := b[r*bCols : r*bCols+bCols]
		for i, av := range aRow {
			if av == 0 {
				continue
			}
			axpy(c[i*bCols:i*bCols+bCols], av, bRow)
		}
	}
	return nil
}

// SumRowsInto accumulates out[j] += sum_r x[r,j] for x [rows, cols] —
// the bias-gradient reduction every linear layer's backward needs.
func SumRowsInto(x, out []float32, rows, cols int) error {
	if len(x) < rows*cols {
		return fmt.Errorf("tensor.SumRowsInto: x too short for %dx%d: %w", rows, cols, xerr.ShapeMismatch)
	}
	if len(out) < cols {
		return fmt.Errorf("tensor.SumRowsInto: out too short for %d: %w", cols, xerr.ShapeMismatch)
	}
	for r := 0; r < rows; r++ {
		row := x[r*cols : r*cols+cols]
		addInto(out, out, row)
	}
	return nil
}
