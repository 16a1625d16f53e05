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

// Package gradaccum implements the lock-free gradient accumulator from
// spec §3.1/§4.I: a GradientBuffer mirroring Model's shape, partitioned
// into per-sphere segments so that reduction at the epoch barrier never
// needs a lock.
//
// Resolution of an Open Question (recorded in DESIGN.md): spec §4.I
// describes "each sphere's segment... exclusively owned by that sphere"
// with "boundary elements" using atomic adds. Taken completely literally
// this is unsafe for a dense transformer, where a single batch's
// backward pass touches every parameter block — so every sphere would
// need to write to every segment, not just its own. The safe reading
// this package implements: each sphere accumulates into its OWN
// full-size private buffer during backward (so there is never any
// cross-sphere write during compute, satisfying spec §8 property 7 "no
// write during read" and the "lock-free" framing in spec §2 row I)
// and the "segmented buffer" described there becomes the REDUCTION
// strategy at the barrier: the flat total_params range is partitioned
// into N contiguous, 8-element-aligned segments, and summing the N
// private buffers within one segment is entirely independent of every
// other segment — so the reduction itself needs no locks or atomics
// either, and can run across as many goroutines as there are segments.
// Per-index summation order is always sphere 0, 1, ..., N-1, so results
// are bitwise reproducible regardless of wall-clock scheduling (spec §8
// property 3).
package gradaccum

import (
	"fmt"

	"github.com/crystalline-lattice/engine/hwy/contrib/workerpool"
)

// alignment is the SIMD lane width gradient segment boundaries round to,
// matching tensor.Lanes (kept independent here to avoid an import cycle;
// both are fixed at 8 by the same spec §4.B requirement).
const alignment = 8

// Segment is a contiguous, half-open range of parameter offsets.
type Segment struct {
	Start, End int
}

// Len returns the number of elements in the segment.
func (s Segment) Len() int { return s.End - s.Start }

// Partition splits [0, totalParams) into up to n contiguous segments,
// rounding internal boundaries to a multiple of alignment so that SIMD
// stores at a segment edge stay aligned (spec §4.I). The returned slice
// always covers [0, totalParams) exactly, with no gaps or overlaps, but
// may contain fewer than n segments if totalParams is small.
func Partition(totalParams, n int) []Segment {
	if totalParams <= 0 || n <= 0 {
		return nil
	}
	if n > totalParams {
		n = totalParams
	}

	raw := make([]int, n+1)
	for i := 0; i <= n; i++ {
		raw[i] = i * totalParams / n
	}
	// Round internal boundaries down to an alignment multiple,
	// clamped so segments stay monotonically increasing.
	for i := 1; i < n; i++ {
		rounded := (raw[i] / alignment) * alignment
		if rounded <= raw[i-1] {
			rounded = raw[i-1]
		}
		raw[i] = rounded
	}
	raw[n] = totalParams

	segments := make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		if raw[i] >= raw[i+1] {
			continue // degenerate segment folded into neighbor
		}
		segments = append(segments, Segment{Start: raw[i], End: raw[i+1]})
	}
	if len(segments) > 0 {
		segments[len(segments)-1].End = totalParams
	}
	return segments
}

// Buffer is one sphere's private gradient accumulator: a flat slice
// mirroring the model's TotalParams layout, written only by the sphere
// that owns it, for the duration of one epoch.
type Buffer struct {
	Data []float32
}

// NewBuffer allocates a zeroed Buffer of the given size.
func NewBuffer(totalParams int) *Buffer {
	return &Buffer{Data: make([]float32, totalParams)}
}

// Zero clears the buffer in place, run once per epoch start (spec
// §4.H.2 EpochBegin: "zeros gradient segments").
func (b *Buffer) Zero() {
	for i := range b.Data {
		b.Data[i] = 0
	}
}

// Accumulator owns one private Buffer per sphere plus the shared, final
// reduced gradient buffer that the optimizer reads.
type Accumulator struct {
	totalParams int
	spheres     []*Buffer
	segments    []Segment
	Final       []float32
	pool        *workerpool.Pool
}

// New constructs an Accumulator for numSpheres workers over a model with
// totalParams parameters. It also starts a small persistent pool (see
// reduce_parallel.go) used by ReduceParallel; call Close when the
// Accumulator is no longer needed.
func New(totalParams, numSpheres int) (*Accumulator, error) {
	if totalParams <= 0 || numSpheres <= 0 {
		return nil, fmt.Errorf("gradaccum.New: totalParams and numSpheres must be positive")
	}
	spheres := make([]*Buffer, numSpheres)
	for i := range spheres {
		spheres[i] = NewBuffer(totalParams)
	}
	return &Accumulator{
		totalParams: totalParams,
		spheres:     spheres,
		segments:    Partition(totalParams, numSpheres),
		Final:       make([]float32, totalParams),
		pool:        workerpool.New(numSpheres),
	}, nil
}

// Sphere returns the private buffer for sphere i. Only sphere i may
// write to the returned buffer.
func (a *Accumulator) Sphere(i int) *Buffer { return a.spheres[i] }

// NumSpheres returns the number of private per-sphere buffers.
func (a *Accumulator) NumSpheres() int { return len(a.spheres) }

// Segments returns the reduction partition (read-only).
func (a *Accumulator) Segments() []Segment { return a.segments }

// ZeroAll zeros every sphere's private buffer and the shared result,
// called once at EpochBegin.
func (a *Accumulator) ZeroAll() {
	for _, s := range a.spheres {
		s.Zero()
	}
	for i := range a.Final {
		a.Final[i] = 0
	}
}

// ReduceSegment sums, for every index in segment seg, the contributions
// of all spheres (in sphere-index order, for determinism) into
// a.Final. Disjoint segments may be reduced concurrently by different
// goroutines with no synchronization, since they touch disjoint index
// ranges of Final and only ever read the (already-complete,
// post-barrier) private buffers.
func (a *Accumulator) ReduceSegment(seg Segment) {
	for idx := seg.Start; idx < seg.End; idx++ {
		var sum float32
		for _, s := range a.spheres {
			sum += s.Data[idx]
		}
		a.Final[idx] = sum
	}
}

// Reduce performs the full barrier-time reduction sequentially (see
// gradaccum.ReduceParallel in reduce_parallel.go for the pool-driven
// variant used by the scheduler).
func (a *Accumulator) Reduce() {
	for _, seg := range a.segments {
		a.ReduceSegment(seg)
	}
}

// GlobalNormSquared returns the sum of squares of every element already
// written to Final — used by the optimizer's gradient-clipping step
// (spec §4.F).
func (a *Accumulator) GlobalNormSquared() float64 {
	var sum float64
	for _, v := range a.Final {
		sum += float64(v) * float64(v)
	}
	return sum
}
