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

package gradaccum

// ReduceParallel performs the same barrier-time reduction as Reduce, but
// fans the per-segment work out across the accumulator's worker pool
// (hwy/contrib/workerpool.Pool) since segments never overlap. Per-index
// summation order within a segment is still fixed sphere order (0..N-1),
// so the result is identical to Reduce's regardless of how goroutines
// interleave.
func (a *Accumulator) ReduceParallel() {
	if len(a.segments) <= 1 {
		a.Reduce()
		return
	}
	a.pool.ParallelForAtomic(len(a.segments), func(i int) {
		a.ReduceSegment(a.segments[i])
	})
}

// Close releases the accumulator's worker pool. Call once the
// Accumulator is no longer needed.
func (a *Accumulator) Close() {
	a.pool.Close()
}
