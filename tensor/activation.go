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

	"github.com/crystalline-lattice/engine/hwy/contrib/activation"
	"github.com/crystalline-lattice/engine/xerr"
)

const invSqrt2 = 0.7071067811865476
const invSqrt2Pi = 0.3989422804014327

// GELU computes the exact Gaussian Error Linear Unit activation,
// GELU(x) = x * 0.5 * (1 + erf(x / sqrt(2))), by calling into BaseGELU
// (hwy/contrib/activation/activation_base.go).
func GELU(input, output []float32) error {
	if len(output) < len(input) {
		return fmt.Errorf("tensor.GELU: output too short: %w", xerr.ShapeMismatch)
	}
	activation.GELU(input, output[:len(input)])
	return nil
}

// GELUBackward computes dInput = dOutput * GELU'(input).
//
// GELU'(x) = 0.5*(1+erf(x/sqrt2)) + x * invSqrt2Pi * exp(-x^2/2)
func GELUBackward(input, dOutput, dInput []float32) error {
	if len(dOutput) < len(input) || len(dInput) < len(input) {
		return fmt.Errorf("tensor.GELUBackward: shape mismatch: %w", xerr.ShapeMismatch)
	}
	for i, x := range input {
		xf := float64(x)
		cdf := 0.5 * (1.0 + math.Erf(xf*invSqrt2))
		pdf := invSqrt2Pi * math.Exp(-0.5*xf*xf)
		deriv := cdf + xf*pdf
		dInput[i] = float32(float64(dOutput[i]) * deriv)
	}
	return nil
}

// ReLU computes max(0, x) elementwise.
func ReLU(input, output []float32) error {
	if len(output) < len(input) {
		return fmt.Errorf("tensor.ReLU: output too short: %w", xerr.ShapeMismatch)
	}
	for i, x := range input {
		if x > 0 {
			output[i] = x
		} else {
			output[i] = 0
		}
	}
	return nil
}

// ReLUBackward computes dInput = dOutput where input > 0, else 0.
func ReLUBackward(input, dOutput, dInput []float32) error {
	if len(dOutput) < len(input) || len(dInput) < len(input) {
		return fmt.Errorf("tensor.ReLUBackward: shape mismatch: %w", xerr.ShapeMismatch)
	}
	for i, x := range input {
		if x > 0 {
			dInput[i] = dOutput[i]
		} else {
			dInput[i] = 0
		}
	}
	return nil
}
