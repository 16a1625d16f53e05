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

import "github.com/crystalline-lattice/engine/hwy"

// This file is the dispatch tier that ParallelApplyRows and its callers in
// parallel.go address by unqualified name (GELU, ReLU, ...). Only the Base*
// scalar implementations are available here, so every entry forwards
// directly; an arch-specific build would instead select an AVX2/NEON
// variant per name.

func GELU[T hwy.Floats](input, output []T)               { BaseGELU(input, output) }
func GELUApprox[T hwy.Floats](input, output []T)         { BaseGELUApprox(input, output) }
func ReLU[T hwy.Floats](input, output []T)               { BaseReLU(input, output) }
func SiLU[T hwy.Floats](input, output []T)               { BaseSiLU(input, output) }
func Tanh[T hwy.Floats](input, output []T)               { BaseTanh(input, output) }
func LeakyReLU[T hwy.Floats](input, output []T, alpha T) { BaseLeakyReLU(input, output, alpha) }
func ELU[T hwy.Floats](input, output []T, alpha T)       { BaseELU(input, output, alpha) }
