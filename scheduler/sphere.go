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

package scheduler

import (
	"github.com/crystalline-lattice/engine/backward"
	"github.com/crystalline-lattice/engine/forward"
	"github.com/crystalline-lattice/engine/lattice"
)

// sphereContext is one worker's thread-local state: its scratch arenas
// (sized lazily, the first time a batch shape is seen, and reused across
// batches sharing that shape) and its per-epoch counters. A sphere is
// owned by exactly one worker goroutine for the scheduler's lifetime, so
// every field here is written by that single goroutine during the epoch
// loop and only read by the root after the epoch's WaitGroup.Wait() has
// returned — the barrier itself is what makes these plain fields safe to
// read without atomics (spec §4.J: "workers update... locklessly").
type sphereContext struct {
	id       int
	symGroup uint8

	cache   *forward.Cache
	scratch *backward.Scratch
	cacheB  int
	cacheS  int

	batchesProcessed int
	skippedBatches   int
	accumulatedLoss  float64
	poisoned         bool
}

func newSphereContext(id int) *sphereContext {
	return &sphereContext{id: id, symGroup: uint8(id % lattice.NumSymmetryGroups)}
}

// reset clears a sphere's per-epoch counters; scratch arenas are kept
// across epochs since they only depend on batch shape, not epoch index.
func (sc *sphereContext) reset() {
	sc.batchesProcessed = 0
	sc.skippedBatches = 0
	sc.accumulatedLoss = 0
	sc.poisoned = false
}
