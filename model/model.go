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

// Package model defines the parameter-block bundle a training run reads
// and writes: Shapes (the immutable configuration), Model (the mutable
// parameter values), and GELU/FFN/attention/layer-norm sub-blocks, each
// either fully allocated or explicitly absent — never a sentinel nil
// pointer reached by accident. This directly replaces the source bugs
// spec §9 calls out ("NULL pointer dereferences everywhere").
package model

import (
	"fmt"

	"github.com/crystalline-lattice/engine/xerr"
)

// Shapes are the immutable dimension constants for a Model. They never
// change after construction; every parameter array in Model is sized
// from them.
type Shapes struct {
	VocabSize  int
	DModel     int
	NHeads     int
	DFF        int
	NLayers    int
	MaxSeqLen  int
	WeightTied bool // output projection tied to embedding (spec §9 open question, default true)
}

// HeadDim is d_model / n_heads.
func (s Shapes) HeadDim() int { return s.DModel / s.NHeads }

// Validate checks the invariants from spec §3.1: d_model must divide
// evenly among heads, and every size must be positive.
func (s Shapes) Validate() error {
	if s.VocabSize <= 0 || s.DModel <= 0 || s.NHeads <= 0 || s.DFF <= 0 || s.NLayers <= 0 || s.MaxSeqLen <= 0 {
		return fmt.Errorf("model.Shapes: all dimensions must be positive: %w", xerr.InvalidConfig)
	}
	if s.DModel%s.NHeads != 0 {
		return fmt.Errorf("model.Shapes: d_model (%d) not divisible by n_heads (%d): %w", s.DModel, s.NHeads, xerr.InvalidConfig)
	}
	return nil
}

// LayerNorm holds the affine parameters of one layer-norm. Beta is
// optional (bias-free layer norms exist); a nil Beta is the explicit
// "absent" tagged variant, not a sentinel to special-case at every call
// site — every consumer already handles nil beta as "no shift" via
// tensor.LayerNorm's contract.
type LayerNorm struct {
	Gamma []float32
	Beta  []float32
}

// Attention holds one layer's self-attention projection weights.
// Biases are optional; nil means absent.
type Attention struct {
	Wq, Wk, Wv, Wo []float32
	Bq, Bk, Bv, Bo []float32
}

// FeedForward holds one layer's position-wise feed-forward weights.
type FeedForward struct {
	W1, W2 []float32
	B1, B2 []float32
}

// Layer bundles one transformer block's parameters, matching spec §3.1's
// per-layer block list exactly (attn, ffn, ln1, ln2).
type Layer struct {
	Attn Attention
	FFN  FeedForward
	LN1  LayerNorm
	LN2  LayerNorm
}

// Model is the immutable-shape, mutable-value parameter bundle from
// spec §3.1. It is exclusively owned by the scheduler's root control
// thread during an optimizer step, and read-borrowed by worker spheres
// during forward/backward — enforced by the epoch barrier (§3.2), not by
// any lock this type itself holds.
type Model struct {
	Shapes Shapes

	Embedding []float32 // [vocab_size, d_model]
	Layers    []Layer
	LNFinal   LayerNorm

	// OutputProjection is only allocated when Shapes.WeightTied is
	// false; otherwise the output projection reuses Embedding and this
	// stays nil (the explicit "absent" variant, not a degenerate alias).
	OutputProjection []float32
}

// New allocates every parameter block for Shapes (all zero-valued); call
// InitFromLattice or another initializer before training. Returns
// xerr.InvalidConfig if shapes are inconsistent, xerr.AllocationFailure
// if allocation panics (recovered) — mirroring spec §4.A's failure modes
// for table construction, generalized to the whole parameter bundle.
func New(shapes Shapes) (m *Model, err error) {
	if verr := shapes.Validate(); verr != nil {
		return nil, verr
	}

	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("model.New: %v: %w", r, xerr.AllocationFailure)
		}
	}()

	dModel := shapes.DModel
	mdl := &Model{
		Shapes:    shapes,
		Embedding: make([]float32, shapes.VocabSize*dModel),
		Layers:    make([]Layer, shapes.NLayers),
		LNFinal:   LayerNorm{Gamma: make([]float32, dModel), Beta: make([]float32, dModel)},
	}

	for i := range mdl.Layers {
		mdl.Layers[i] = Layer{
			Attn: Attention{
				Wq: make([]float32, dModel*dModel),
				Wk: make([]float32, dModel*dModel),
				Wv: make([]float32, dModel*dModel),
				Wo: make([]float32, dModel*dModel),
				Bq: make([]float32, dModel),
				Bk: make([]float32, dModel),
				Bv: make([]float32, dModel),
				Bo: make([]float32, dModel),
			},
			FFN: FeedForward{
				W1: make([]float32, shapes.DFF*dModel),
				W2: make([]float32, dModel*shapes.DFF),
				B1: make([]float32, shapes.DFF),
				B2: make([]float32, dModel),
			},
			LN1: LayerNorm{Gamma: make([]float32, dModel), Beta: make([]float32, dModel)},
			LN2: LayerNorm{Gamma: make([]float32, dModel), Beta: make([]float32, dModel)},
		}
	}

	if !shapes.WeightTied {
		mdl.OutputProjection = make([]float32, shapes.VocabSize*dModel)
	}

	return mdl, nil
}

// OutputWeights returns the matrix used for the final logits projection:
// the tied embedding, or the dedicated OutputProjection block.
func (m *Model) OutputWeights() []float32 {
	if m.Shapes.WeightTied {
		return m.Embedding
	}
	return m.OutputProjection
}

// Blocks enumerates every parameter block in the declared §3.1 order:
// embedding, then each layer's attn/ffn/ln1/ln2, then ln_final, then the
// untied output projection if present. Used by both the optimizer (which
// must touch every block, spec §9 "wrong optimizer applied" regression)
// and the serializer (which writes blocks in this exact order).
func (m *Model) Blocks() []Block {
	blocks := make([]Block, 0, 4+len(m.Layers)*12)
	blocks = append(blocks, Block{"embedding", m.Embedding})

	for i, l := range m.Layers {
		p := fmt.Sprintf("layer%d.", i)
		blocks = append(blocks,
			Block{p + "attn.wq", l.Attn.Wq},
			Block{p + "attn.wk", l.Attn.Wk},
			Block{p + "attn.wv", l.Attn.Wv},
			Block{p + "attn.wo", l.Attn.Wo},
			Block{p + "attn.bq", l.Attn.Bq},
			Block{p + "attn.bk", l.Attn.Bk},
			Block{p + "attn.bv", l.Attn.Bv},
			Block{p + "attn.bo", l.Attn.Bo},
			Block{p + "ffn.w1", l.FFN.W1},
			Block{p + "ffn.w2", l.FFN.W2},
			Block{p + "ffn.b1", l.FFN.B1},
			Block{p + "ffn.b2", l.FFN.B2},
			Block{p + "ln1.gamma", l.LN1.Gamma},
			Block{p + "ln1.beta", l.LN1.Beta},
			Block{p + "ln2.gamma", l.LN2.Gamma},
			Block{p + "ln2.beta", l.LN2.Beta},
		)
	}

	blocks = append(blocks,
		Block{"ln_final.gamma", m.LNFinal.Gamma},
		Block{"ln_final.beta", m.LNFinal.Beta},
	)

	if !m.Shapes.WeightTied {
		blocks = append(blocks, Block{"output_projection", m.OutputProjection})
	}
	return blocks
}

// Block names one parameter array for iteration (optimizer, gradient
// buffer sizing, serialization).
type Block struct {
	Name string
	Data []float32
}

// TotalParams returns the sum of all block lengths — the size the
// gradient buffer (package gradaccum) must mirror exactly.
func (m *Model) TotalParams() int {
	total := 0
	for _, b := range m.Blocks() {
		total += len(b.Data)
	}
	return total
}
