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

// Package lattice builds the process-wide, read-only crystalline lattice
// table: per-token prime encodings, 12-dimensional lattice coordinates,
// and the 12-fold symmetry-group partition that the scheduler (package
// scheduler) mirrors in its sphere topology.
package lattice

import (
	"fmt"

	"github.com/crystalline-lattice/engine/xerr"
)

// NumDims is the fixed dimensionality of a lattice coordinate.
const NumDims = 12

// NumSymmetryGroups is the fixed size of the symmetry-group partition.
// token_id mod NumSymmetryGroups, never prime mod NumSymmetryGroups — see
// spec §9 ("prime-mod-12 symmetry starvation"): a prime greater than 3 is
// always congruent to 1, 5, 7 or 11 mod 12, which would leave 8 of the 12
// groups permanently empty.
const NumSymmetryGroups = 12

// clipEpsilon keeps coordinates strictly inside (-1, 1), as required by
// spec §4.A ("implementers MUST additionally clip to [-1+ε, 1-ε]").
const clipEpsilon = 1e-6

// Entry is the per-token row of the lattice table.
type Entry struct {
	Prime     uint64
	Coord     [NumDims]float32
	SymGroup  uint8
}

// Table is the immutable, process-wide lattice table. It is created once
// before the Scheduler and shared by reference (never mutated) with every
// sphere for the lifetime of training.
type Table struct {
	vocabSize int
	entries   []Entry
}

// Build constructs a Table for vocabSize tokens. It fails with
// xerr.InvalidConfig if vocabSize == 0.
func Build(vocabSize int) (*Table, error) {
	if vocabSize <= 0 {
		return nil, fmt.Errorf("lattice: vocab_size must be positive: %w", xerr.InvalidConfig)
	}

	primes := nthPrimes(vocabSize)
	if len(primes) != vocabSize {
		return nil, fmt.Errorf("lattice: sieve under-produced primes: %w", xerr.AllocationFailure)
	}

	entries := make([]Entry, vocabSize)
	for n := 0; n < vocabSize; n++ {
		entries[n] = Entry{
			Prime:    primes[n],
			Coord:    coordinate(n),
			SymGroup: uint8(n % NumSymmetryGroups),
		}
	}

	return &Table{vocabSize: vocabSize, entries: entries}, nil
}

// VocabSize returns the number of tokens the table was built for.
func (t *Table) VocabSize() int { return t.vocabSize }

// Entry returns the lattice entry for tokenID. tokenID must be in
// [0, VocabSize()); out-of-range lookups panic, since a valid tokenizer
// collaborator (§6) never produces an ID outside the vocabulary, and
// masking that bug behind a zero-value entry would reintroduce the class
// of "defaults papering over a missing field" failures spec §9 forbids.
func (t *Table) Entry(tokenID int) Entry {
	return t.entries[tokenID]
}

// Prime returns the prime assigned to tokenID.
func (t *Table) Prime(tokenID int) uint64 { return t.entries[tokenID].Prime }

// Coord returns the 12-dimensional lattice coordinate for tokenID.
func (t *Table) Coord(tokenID int) [NumDims]float32 { return t.entries[tokenID].Coord }

// SymGroup returns the symmetry group (0..11) for tokenID.
func (t *Table) SymGroup(tokenID int) uint8 { return t.entries[tokenID].SymGroup }

// GroupCounts returns, for each of the 12 symmetry groups, how many
// tokens in [0, vocabSize) belong to it. Used by tests to verify spec §8
// property 1 (distribution within ±1 across groups).
func (t *Table) GroupCounts() [NumSymmetryGroups]int {
	var counts [NumSymmetryGroups]int
	for _, e := range t.entries {
		counts[e.SymGroup]++
	}
	return counts
}
