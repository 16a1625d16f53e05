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
	"math"

	"github.com/crystalline-lattice/engine/xerr"
)

// SoftmaxRowwise applies softmax in place to every row of x, where x is
// [rows, cols] row-major. Each row subtracts its max before exponentiating
// for numerical stability, per spec §4.C/§4.B.
func SoftmaxRowwise(x []float32, rows, cols int) error {
	if len(x) < rows*cols {
		return fmt.Errorf("tensor.SoftmaxRowwise: x too short for %dx%d: %w", rows, cols, xerr.ShapeMismatch)
	}
	for r := 0; r < rows; r++ {
		row := x[r*cols : r*cols+cols]
		softmaxRowInPlace(row)
	}
	return nil
}

func softmaxRowInPlace(row []float32) {
	if len(row) == 0 {
		return
	}
	maxVal := row[0]
	for _, v := range row[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	var sum float64
	for i, v := range row {
		e := math.Exp(float64(v) - float64(maxVal))
		row[i] = float32(e)
		sum += e
	}
	inv := float32(1.0 / sum)
	for i := range row {
		row[i] *= inv
	}
}

// SoftmaxBackwardRowwise computes dx for a rowwise softmax given the
// forward output y (already computed by SoftmaxRowwise) and the upstream
// gradient dy, both [rows, cols]. For a softmax row, dx_i = y_i * (dy_i -
// sum_j(dy_j * y_j)).
func SoftmaxBackwardRowwise(y, dy, dx []float32, rows, cols int) error {
	if len(y) < rows*cols || len(dy) < rows*cols || len(dx) < rows*cols {
		return fmt.Errorf("tensor.SoftmaxBackwardRowwise: shape mismatch: %w", xerr.ShapeMismatch)
	}
	for r := 0; r < rows; r++ {
		off := r * cols
		yRow := y[off : off+cols]
		dyRow := dy[off : off+cols]
		dxRow := dx[off : off+cols]

		var dot float32
		for i := range yRow {
			dot += dyRow[i] * yRow[i]
		}
		for i := range yRow {
			dxRow[i] = yRow[i] * (dyRow[i] - dot)
		}
	}
	return nil
}
