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

package databatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenRange(n int) []uint32 {
	tokens := make([]uint32, n)
	for i := range tokens {
		tokens[i] = uint32(i)
	}
	return tokens
}

func TestNextYieldsExpectedBatchCount(t *testing.T) {
	// 40 tokens, batch=2, seq_len=8 -> stride 9, floor(40/9)=4 chunks,
	// remainder 4 (a short trailing window, dropped because drop_last is
	// set), 4 chunks / 2 = 2 batches.
	it, err := New(tokenRange(40), Config{BatchSize: 2, SeqLen: 8, DropLast: true})
	require.NoError(t, err)

	count := 0
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 2, count)
}

func TestNextTerminatesWithFalse(t *testing.T) {
	it, err := New(tokenRange(9), Config{BatchSize: 1, SeqLen: 8, DropLast: true})
	require.NoError(t, err)

	_, ok := it.Next()
	require.True(t, ok)
	_, ok = it.Next()
	assert.False(t, ok)
}

func TestEmptyStreamYieldsNoBatches(t *testing.T) {
	it, err := New(nil, Config{BatchSize: 2, SeqLen: 4, DropLast: true})
	require.NoError(t, err)
	_, ok := it.Next()
	assert.False(t, ok)
	assert.Equal(t, 0, it.Remaining())
}

func TestPaddedFinalBatchMarksMissingRowsMasked(t *testing.T) {
	// 9 tokens -> exactly one chunk; batch_size=2, drop_last=false pads
	// the second row fully (mask all zero).
	it, err := New(tokenRange(9), Config{BatchSize: 2, SeqLen: 8, DropLast: false})
	require.NoError(t, err)

	batch, ok := it.Next()
	require.True(t, ok)
	for _, v := range batch.Mask[8:16] {
		assert.Zero(t, v)
	}
	for _, v := range batch.Mask[:8] {
		assert.Equal(t, uint8(1), v)
	}
}

func TestResetRewindsAndReshuffles(t *testing.T) {
	it, err := New(tokenRange(100), Config{BatchSize: 2, SeqLen: 8, DropLast: true, Shuffle: true, Seed: 3})
	require.NoError(t, err)
	first, _ := it.Next()

	it.Reset()
	again, _ := it.Next()
	assert.Equal(t, first.InputIDs, again.InputIDs)
}
