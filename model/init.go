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

package model

import (
	"math"
	"strconv"

	"github.com/crystalline-lattice/engine/internal/xrand"
	"github.com/crystalline-lattice/engine/lattice"
)

// InitFromLattice seeds the embedding table from the lattice table's
// per-token coordinates (spec §1: "the L(n,d,k,λ) position formula that
// seeds embeddings"), tiling the 12-dimensional lattice coordinate
// across d_model and adding a small deterministic random jitter so
// tokens don't start exactly collinear in the 12-periodic subspace.
// Weight matrices get a scaled uniform init (initLinear), layer-norm
// gammas are set to 1, and biases and betas keep New's zeros. The whole
// process is a pure function of (table, seed), satisfying spec §8
// property 3 (bitwise-reproducible runs for a fixed seed).
func (m *Model) InitFromLattice(table *lattice.Table, seed uint64) {
	embedRng := xrand.New(seed, "embedding")
	dModel := m.Shapes.DModel

	for n := 0; n < m.Shapes.VocabSize; n++ {
		coord := table.Coord(n)
		row := m.Embedding[n*dModel : (n+1)*dModel]
		for d := 0; d < dModel; d++ {
			base := float64(coord[d%lattice.NumDims])
			jitter := (embedRng.Float64()*2 - 1) * 0.02
			row[d] = float32(base*0.1 + jitter)
		}
	}

	for li := range m.Layers {
		l := &m.Layers[li]
		initLinear(l.Attn.Wq, dModel, dModel, xrand.New(seed, seedLabel("attn.wq", li)))
		initLinear(l.Attn.Wk, dModel, dModel, xrand.New(seed, seedLabel("attn.wk", li)))
		initLinear(l.Attn.Wv, dModel, dModel, xrand.New(seed, seedLabel("attn.wv", li)))
		initLinear(l.Attn.Wo, dModel, dModel, xrand.New(seed, seedLabel("attn.wo", li)))
		initLinear(l.FFN.W1, m.Shapes.DFF, dModel, xrand.New(seed, seedLabel("ffn.w1", li)))
		initLinear(l.FFN.W2, dModel, m.Shapes.DFF, xrand.New(seed, seedLabel("ffn.w2", li)))
		initOnes(l.LN1.Gamma)
		initOnes(l.LN2.Gamma)
	}
	initOnes(m.LNFinal.Gamma)

	if !m.Shapes.WeightTied {
		initLinear(m.OutputProjection, m.Shapes.VocabSize, dModel, xrand.New(seed, "output_projection"))
	}
}

// initLinear fills a [fanOut, fanIn] row-major weight with values drawn
// uniformly from [-1/sqrt(fanIn), 1/sqrt(fanIn)) (fanOut does not enter
// the bound), deterministic given rng's seed.
func initLinear(w []float32, fanOut, fanIn int, rng *xrand.Source) {
	limit := 1.0 / math.Sqrt(float64(fanIn))
	for i := range w {
		w[i] = float32((rng.Float64()*2 - 1) * limit)
	}
}

func initOnes(gamma []float32) {
	for i := range gamma {
		gamma[i] = 1.0
	}
}

func seedLabel(part string, layer int) string {
	return part + "#" + strconv.Itoa(layer)
}
