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

import "github.com/crystalline-lattice/engine/hwy"

// Dense forwards to BaseDense, the scalar dispatch tier (see dispatch.go in
// package activation for the same pattern applied to activations).
func Dense[T hwy.Floats](x, weight, bias, output []T, batchSize, inFeatures, outFeatures int) {
	BaseDense(x, weight, bias, output, batchSize, inFeatures, outFeatures)
}

// LayerNorm forwards to BaseLayerNorm.
func LayerNorm[T hwy.Floats](input, output []T, normSize int, gamma, beta []T, epsilon T) {
	BaseLayerNorm(input, output, normSize, gamma, beta, epsilon)
}
