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

package lattice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystalline-lattice/engine/xerr"
)

func TestBuildRejectsZeroVocab(t *testing.T) {
	_, err := Build(0)
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.InvalidConfig))
}

func TestSymmetryDistributionWithinOne(t *testing.T) {
	for _, vocab := range []int{12, 13, 120, 1000, 1009} {
		tbl, err := Build(vocab)
		require.NoError(t, err)

		counts := tbl.GroupCounts()
		min, max := counts[0], counts[0]
		for _, c := range counts {
			if c < min {
				min = c
			}
			if c > max {
				max = c
			}
		}
		assert.LessOrEqualf(t, max-min, 1, "vocab=%d counts=%v", vocab, counts)
	}
}

func TestCoordinatesStrictlyBounded(t *testing.T) {
	tbl, err := Build(2000)
	require.NoError(t, err)

	for n := 0; n < tbl.VocabSize(); n++ {
		c := tbl.Coord(n)
		for d, v := range c {
			assert.Greater(t, float64(v), -1.0, "token=%d dim=%d", n, d)
			assert.Less(t, float64(v), 1.0, "token=%d dim=%d", n, d)
		}
	}
}

func TestCoordinatesDeterministic(t *testing.T) {
	tbl1, err := Build(500)
	require.NoError(t, err)
	tbl2, err := Build(500)
	require.NoError(t, err)

	for n := 0; n < 500; n++ {
		assert.Equal(t, tbl1.Coord(n), tbl2.Coord(n))
		assert.Equal(t, tbl1.Prime(n), tbl2.Prime(n))
	}
}

func TestPrimesAreActuallyPrimeAndIncreasing(t *testing.T) {
	tbl, err := Build(100)
	require.NoError(t, err)

	var prev uint64
	for n := 0; n < tbl.VocabSize(); n++ {
		p := tbl.Prime(n)
		assert.Greater(t, p, prev)
		assert.True(t, isPrime(p), "prime=%d not prime", p)
		prev = p
	}
}

func TestSymGroupIsTokenIDModTwelveNotPrimeMod(t *testing.T) {
	tbl, err := Build(50)
	require.NoError(t, err)

	for n := 0; n < tbl.VocabSize(); n++ {
		assert.Equal(t, uint8(n%NumSymmetryGroups), tbl.SymGroup(n))
	}
}

func isPrime(p uint64) bool {
	if p < 2 {
		return false
	}
	for i := uint64(2); i*i <= p; i++ {
		if p%i == 0 {
			return false
		}
	}
	return true
}
