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

// Package nn provides SIMD-accelerated neural network layer operations.
//
// # Supported Operations
//
//   - LayerNorm / ParallelLayerNorm - layer normalization with optional
//     affine transform, row-parallelized across a worker pool.
//   - Dense / BaseDense - SIMD dot-product based dense (fully-connected)
//     layer: output = x @ weight^T + bias.
//
// # Build Requirements
//
// None beyond a standard build: Dense and LayerNorm always forward to the
// portable Base* tier. This package carries no per-target SIMD kernels.
package nn
