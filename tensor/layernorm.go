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

	"github.com/crystalline-lattice/engine/hwy/contrib/nn"
	"github.com/crystalline-lattice/engine/xerr"
)

// LayerNormCache holds the per-row statistics the backward pass needs,
// so the forward pass never has to recompute mean/variance.
type LayerNormCache struct {
	Mean   []float32 // one per row
	InvStd []float32 // one per row
}

// LayerNorm computes, for every group of normSize contiguous elements in
// input ([rows, normSize] row-major):
//
//	output[i] = (input[i] - mean) * invStd * gamma[i%normSize] + beta[i%normSize]
//
// gamma/beta may be nil to skip the affine transform. The actual
// normalize-and-affine pass is BaseLayerNorm
// (hwy/contrib/nn/layernorm_base.go) called one row at a time; this
// wrapper additionally computes, and returns, the per-row mean/invStd
// cache the backward pass needs (BaseLayerNorm keeps those internal).
func LayerNorm(input, output []float32, rows, normSize int, gamma, beta []float32, eps float32) (LayerNormCache, error) {
	if len(input) < rows*normSize || len(output) < rows*normSize {
		return LayerNormCache{}, fmt.Errorf("tensor.LayerNorm: shape mismatch: %w", xerr.ShapeMismatch)
	}
	if gamma != nil && len(gamma) < normSize {
		return LayerNormCache{}, fmt.Errorf("tensor.LayerNorm: gamma too short: %w", xerr.ShapeMismatch)
	}
	if beta != nil && len(beta) < normSize {
		return LayerNormCache{}, fmt.Errorf("tensor.LayerNorm: beta too short: %w", xerr.ShapeMismatch)
	}

	cache := LayerNormCache{
		Mean:   make([]float32, rows),
		InvStd: make([]float32, rows),
	}

	invN := 1.0 / float64(normSize)
	for r := 0; r < rows; r++ {
		off := r * normSize
		row := input[off : off+normSize]

		var sum float64
		for _, v := range row {
			sum += float64(v)
		}
		mean := sum * invN

		var varSum float64
		for _, v := range row {
			d := float64(v) - mean
			varSum += d * d
		}
		variance := varSum * invN
		invStd := 1.0 / math.Sqrt(variance+float64(eps))

		cache.Mean[r] = float32(mean)
		cache.InvStd[r] = float32(invStd)

		outRow := output[off : off+normSize]
		nn.LayerNorm(row, outRow, normSize, gamma, beta, eps)
	}
	return cache, nil
}

// LayerNormBackward computes dInput, dGamma and dBeta given the upstream
// gradient dOutput and the forward cache. dGamma/dBeta accumulate across
// rows, so callers that call this repeatedly for different row-batches
// within the same parameter gradient must pre-zero those slices once.
//
// Standard layer-norm backward (see e.g. the LayerNorm chain-rule
// derivation that every transformer training loop reimplements):
//
//	dxhat_i   = dOutput_i * gamma_i
//	dInput_i  = invStd/N * (N*dxhat_i - sum(dxhat) - xhat_i*sum(dxhat_j*xhat_j))
func LayerNormBackward(input, gamma []float32, cache LayerNormCache, dOutput, dInput, dGamma, dBeta []float32, rows, normSize int) error {
	if len(input) < rows*normSize || len(dOutput) < rows*normSize || len(dInput) < rows*normSize {
		return fmt.Errorf("tensor.LayerNormBackward: shape mismatch: %w", xerr.ShapeMismatch)
	}

	n := float32(normSize)
	for r := 0; r < rows; r++ {
		off := r * normSize
		row := input[off : off+normSize]
		dOutRow := dOutput[off : off+normSize]
		dInRow := dInput[off : off+normSize]
		mean := cache.Mean[r]
		invStd := cache.InvStd[r]

		var sumDxhat, sumDxhatXhat float32
		xhat := make([]float32, normSize)
		for i := range row {
			xh := (row[i] - mean) * invStd
			xhat[i] = xh
			g := float32(1.0)
			if gamma != nil {
				g = gamma[i]
			}
			dxhat := dOutRow[i] * g
			sumDxhat += dxhat
			sumDxhatXhat += dxhat * xh

			if dGamma != nil {
				dGamma[i] += dOutRow[i] * xh
			}
			if dBeta != nil {
				dBeta[i] += dOutRow[i]
			}
		}

		for i := range row {
			g := float32(1.0)
			if gamma != nil {
				g = gamma[i]
			}
			dxhat := dOutRow[i] * g
			dInRow[i] = invStd / n * (n*dxhat - sumDxhat - xhat[i]*sumDxhatXhat)
		}
	}
	return nil
}
