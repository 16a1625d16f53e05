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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionCoversWholeRangeWithNoGapsOrOverlaps(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 12, 63} {
		segs := Partition(1000, n)
		require.NotEmpty(t, segs)
		assert.Equal(t, 0, segs[0].Start)
		assert.Equal(t, 1000, segs[len(segs)-1].End)
		for i := 1; i < len(segs); i++ {
			assert.Equal(t, segs[i-1].End, segs[i].Start)
		}
	}
}

func TestPartitionNeverExceedsRequestedCount(t *testing.T) {
	segs := Partition(3, 63)
	assert.LessOrEqual(t, len(segs), 63)
	total := 0
	for _, s := range segs {
		total += s.Len()
	}
	assert.Equal(t, 3, total)
}

func TestPartitionHandlesEmptyRange(t *testing.T) {
	assert.Nil(t, Partition(0, 4))
	assert.Nil(t, Partition(4, 0))
}

func TestReduceSumsAcrossSpheresInFixedOrder(t *testing.T) {
	acc, err := New(16, 3)
	require.NoError(t, err)

	for s := 0; s < 3; s++ {
		for i := range acc.Sphere(s).Data {
			acc.Sphere(s).Data[i] = float32(s + 1)
		}
	}
	acc.Reduce()

	for _, v := range acc.Final {
		assert.Equal(t, float32(6), v) // 1+2+3
	}
}

func TestReduceIsDeterministicAcrossRuns(t *testing.T) {
	build := func() []float32 {
		acc, err := New(64, 5)
		require.NoError(t, err)
		for s := 0; s < 5; s++ {
			for i := range acc.Sphere(s).Data {
				acc.Sphere(s).Data[i] = float32(i%7) * float32(s+1) * 0.5
			}
		}
		acc.Reduce()
		return append([]float32(nil), acc.Final...)
	}
	assert.Equal(t, build(), build())
}

func TestReduceParallelMatchesReduce(t *testing.T) {
	sequential, err := New(256, 6)
	require.NoError(t, err)
	t.Cleanup(sequential.Close)
	parallel, err := New(256, 6)
	require.NoError(t, err)
	t.Cleanup(parallel.Close)

	for s := 0; s < 6; s++ {
		for _, acc := range []*Accumulator{sequential, parallel} {
			for i := range acc.Sphere(s).Data {
				acc.Sphere(s).Data[i] = float32(i%5) * float32(s+1) * 0.25
			}
		}
	}

	sequential.Reduce()
	parallel.ReduceParallel()

	assert.Equal(t, sequential.Final, parallel.Final)
}

func TestGlobalNormSquaredMatchesSumOfSquares(t *testing.T) {
	acc, err := New(4, 1)
	require.NoError(t, err)
	copy(acc.Final, []float32{1, 2, 3, 4})
	assert.InDelta(t, 30.0, acc.GlobalNormSquared(), 1e-9)
}

func TestZeroAllClearsEverySphereAndFinal(t *testing.T) {
	acc, err := New(8, 2)
	require.NoError(t, err)
	for i := range acc.Sphere(0).Data {
		acc.Sphere(0).Data[i] = 5
	}
	acc.Final[0] = 9
	acc.ZeroAll()

	for _, v := range acc.Sphere(0).Data {
		assert.Zero(t, v)
	}
	for _, v := range acc.Final {
		assert.Zero(t, v)
	}
}
