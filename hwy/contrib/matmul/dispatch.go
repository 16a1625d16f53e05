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

import "github.com/crystalline-lattice/engine/hwy"

// MatMulKLast forwards to BaseMatMulKLast, the scalar dispatch tier (see
// dispatch.go in package activation and package nn for the same pattern).
func MatMulKLast[T hwy.Floats](a, b, c []T, m, n, k int) {
	BaseMatMulKLast(a, b, c, m, n, k)
}
