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

// Package databatch turns a contiguous token stream into next-token
// prediction batches (spec §4.G): each sample is a non-overlapping
// window of seq_len+1 tokens, split into an input (first seq_len) and a
// target (last seq_len, shifted by one). Short trailing windows and
// short trailing batches are either dropped or padded — the same
// drop_last flag governs both, so callers see one consistent knob.
package databatch

import (
	"fmt"

	"github.com/crystalline-lattice/engine/internal/xrand"
	"github.com/crystalline-lattice/engine/xerr"
)

// Config holds the batch iterator's shape and shuffling behavior.
type Config struct {
	BatchSize int
	SeqLen    int
	Shuffle   bool
	DropLast  bool
	Seed      uint64
}

// DefaultConfig returns a conservative, shuffled, drop_last iterator.
func DefaultConfig() Config {
	return Config{BatchSize: 32, SeqLen: 128, Shuffle: true, DropLast: true, Seed: 0}
}

// Validate checks that batch/sequence sizes are usable.
func (c Config) Validate() error {
	if c.BatchSize <= 0 || c.SeqLen <= 0 {
		return fmt.Errorf("databatch.Config: batch_size and seq_len must be positive: %w", xerr.InvalidConfig)
	}
	return nil
}

// Batch is one (input, target, mask) triple, row-major [B, S].
type Batch struct {
	InputIDs  []uint32
	TargetIDs []uint32
	Mask      []uint8
	B, S      int
}

// Iterator produces Batches over a fixed token stream.
type Iterator struct {
	tokens []uint32
	cfg    Config
	rng    *xrand.Source

	order []int // nominal chunk indices, possibly shuffled
	pos   int   // index into order of the next chunk to emit
}

// New validates cfg and builds an Iterator over tokens. New itself
// leaves the iterator freshly reset, so no Reset call is needed before
// the first use; call Reset to rewind (and reshuffle) for a later pass.
func New(tokens []uint32, cfg Config) (*Iterator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	it := &Iterator{
		tokens: tokens,
		cfg:    cfg,
		rng:    xrand.New(cfg.Seed, "databatch"),
	}
	it.Reset()
	return it, nil
}

// windowStride is seq_len+1: a sample consumes seq_len input tokens
// plus one extra for the final target.
func (it *Iterator) windowStride() int { return it.cfg.SeqLen + 1 }

func (it *Iterator) numChunks() int {
	stride := it.windowStride()
	full := len(it.tokens) / stride
	rem := len(it.tokens) % stride
	if rem >= 2 && !it.cfg.DropLast {
		full++
	}
	return full
}

// chunkBounds returns the [start, end) token range nominal chunk idx
// covers; it may be shorter than windowStride for the final chunk.
func (it *Iterator) chunkBounds(idx int) (start, end int) {
	stride := it.windowStride()
	start = idx * stride
	end = start + stride
	if end > len(it.tokens) {
		end = len(it.tokens)
	}
	return start, end
}

// Reset rewinds the iterator to the first batch, reshuffling the chunk
// order (deterministically, from cfg.Seed) if Shuffle is set.
func (it *Iterator) Reset() {
	n := it.numChunks()
	it.order = make([]int, n)
	for i := range it.order {
		it.order[i] = i
	}
	if it.cfg.Shuffle {
		it.rng = xrand.New(it.cfg.Seed, "databatch")
		it.rng.Shuffle(len(it.order), func(i, j int) {
			it.order[i], it.order[j] = it.order[j], it.order[i]
		})
	}
	it.pos = 0
}

// Remaining returns the number of chunks not yet emitted.
func (it *Iterator) Remaining() int {
	return len(it.order) - it.pos
}

// Next returns the next batch and true, or a zero Batch and false once
// the stream is exhausted — callers MUST treat false as the terminating
// condition (spec §4.G).
func (it *Iterator) Next() (Batch, bool) {
	if it.Remaining() == 0 {
		return Batch{}, false
	}
	b, s := it.cfg.BatchSize, it.cfg.SeqLen
	if it.Remaining() < b && it.cfg.DropLast {
		it.pos = len(it.order) // consume the dangling partial batch too
		return Batch{}, false
	}

	batch := Batch{
		InputIDs:  make([]uint32, b*s),
		TargetIDs: make([]uint32, b*s),
		Mask:      make([]uint8, b*s),
		B:         b, S: s,
	}

	for row := 0; row < b; row++ {
		if it.pos >= len(it.order) {
			continue // padding row: already zero-valued, mask stays 0
		}
		idx := it.order[it.pos]
		it.pos++

		start, end := it.chunkBounds(idx)
		available := end - start // total tokens in this chunk, includes the +1 target token
		usable := available - 1  // number of (input,target) pairs this chunk supplies
		if usable < 0 {
			usable = 0
		}

		for t := 0; t < usable; t++ {
			batch.InputIDs[row*s+t] = it.tokens[start+t]
			batch.TargetIDs[row*s+t] = it.tokens[start+t+1]
			batch.Mask[row*s+t] = 1
		}
	}
	return batch, true
}
