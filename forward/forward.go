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

// Package forward computes the transformer forward pass: embedding
// lookup, L pre-norm self-attention/feed-forward blocks, a final layer
// norm, and a (possibly weight-tied) logits projection. Every
// intermediate value backward needs is retained in a Cache, one per
// in-flight batch, so a sphere can run forward and backward back to back
// with no recomputation and no shared mutable state with any other
// sphere (spec §3.2/§8 property 7).
package forward

import (
	"fmt"
	"math"

	"github.com/crystalline-lattice/engine/model"
	"github.com/crystalline-lattice/engine/tensor"
	"github.com/crystalline-lattice/engine/xerr"
)

// LayerNormEps is the epsilon used by every layer norm in the model.
// Fixed rather than configurable: no per-model override is required,
// and 1e-5 matches common layernorm defaults.
const LayerNormEps = 1e-5

// LayerCache retains every intermediate a layer's backward pass needs.
type LayerCache struct {
	H1  []float32 // [BS, D] — LN1(input)
	LN1 tensor.LayerNormCache

	Q, K, V []float32 // [BS, D] each, head-interleaved along D

	// AttnProbs holds, for each (batch, head), the [S, S] post-softmax
	// attention matrix, laid out contiguously as B*H blocks of S*S.
	AttnProbs []float32

	AttnOut  []float32 // [BS, D] — concatenated per-head context vectors, pre-Wo
	AttnProj []float32 // [BS, D] — AttnOut @ Wo + Bo

	ResidAfterAttn []float32 // [BS, D] — input + AttnProj

	H2  []float32 // [BS, D] — LN2(ResidAfterAttn)
	LN2 tensor.LayerNormCache

	FFNPre []float32 // [BS, DFF] — H2 @ W1 + B1, pre-GELU
	FFNAct []float32 // [BS, DFF] — GELU(FFNPre)
	FFNOut []float32 // [BS, D] — FFNAct @ W2 + B2

	ResidAfterFFN []float32 // [BS, D] — ResidAfterAttn + FFNOut, this layer's output
}

// Cache holds every intermediate value produced by one forward pass over
// one batch, sized for (B, S) and reused across steps with the same
// shape to avoid repeated allocation.
type Cache struct {
	B, S int

	Embedded []float32 // [BS, D] — gathered input embeddings
	Layers   []LayerCache

	FinalLN    tensor.LayerNormCache
	FinalNorm  []float32 // [BS, D] — LNFinal(last layer output)
	Logits     []float32 // [BS, Vocab]
}

// NewCache allocates a Cache for the given model shapes and batch
// dimensions. Reuse the same Cache across steps sharing (B, S); call
// NewCache again if either changes (spec §4.G allows a final short
// batch with fewer rows, which callers handle by either padding to a
// fixed S or allocating a fresh Cache).
func NewCache(shapes model.Shapes, b, s int) *Cache {
	bs := b * s
	d := shapes.DModel
	dff := shapes.DFF
	h := shapes.NHeads

	c := &Cache{
		B: b, S: s,
		Embedded:  make([]float32, bs*d),
		Layers:    make([]LayerCache, shapes.NLayers),
		FinalNorm: make([]float32, bs*d),
		Logits:    make([]float32, bs*shapes.VocabSize),
	}
	for i := range c.Layers {
		c.Layers[i] = LayerCache{
			H1:             make([]float32, bs*d),
			Q:              make([]float32, bs*d),
			K:              make([]float32, bs*d),
			V:              make([]float32, bs*d),
			AttnProbs:      make([]float32, b*h*s*s),
			AttnOut:        make([]float32, bs*d),
			AttnProj:       make([]float32, bs*d),
			ResidAfterAttn: make([]float32, bs*d),
			H2:             make([]float32, bs*d),
			FFNPre:         make([]float32, bs*dff),
			FFNAct:         make([]float32, bs*dff),
			FFNOut:         make([]float32, bs*d),
			ResidAfterFFN:  make([]float32, bs*d),
		}
	}
	return c
}

// Run executes the full forward pass for m over inputIDs (length B*S,
// row-major [B, S]) and keyMask (length B*S; zero marks a padding
// position whose key/value contributions are excluded from attention,
// one marks a real token), writing every intermediate into cache.
// Attention is always causal, matching the autoregressive next-token
// objective in spec §1.
func Run(m *model.Model, inputIDs []uint32, keyMask []uint8, cache *Cache) error {
	b, s := cache.B, cache.S
	bs := b * s
	d := m.Shapes.DModel
	h := m.Shapes.NHeads
	headDim := m.Shapes.HeadDim()
	scale := float32(1.0 / math.Sqrt(float64(headDim)))

	if len(inputIDs) != bs || len(keyMask) != bs {
		return fmt.Errorf("forward.Run: inputIDs/keyMask length must be %d: %w", bs, xerr.ShapeMismatch)
	}

	for i, tok := range inputIDs {
		if int(tok) >= m.Shapes.VocabSize {
			return fmt.Errorf("forward.Run: token id %d out of range [0,%d): %w", tok, m.Shapes.VocabSize, xerr.ShapeMismatch)
		}
		copy(cache.Embedded[i*d:(i+1)*d], m.Embedding[int(tok)*d:(int(tok)+1)*d])
	}

	hCur := cache.Embedded
	for li := range m.Layers {
		layer := &m.Layers[li]
		lc := &cache.Layers[li]

		var err error
		if lc.LN1, err = tensor.LayerNorm(hCur, lc.H1, bs, d, layer.LN1.Gamma, layer.LN1.Beta, LayerNormEps); err != nil {
			return fmt.Errorf("forward.Run: layer %d ln1: %w", li, err)
		}

		if err := tensor.MatMulAddBias(lc.H1, layer.Attn.Wq, layer.Attn.Bq, lc.Q, bs, d, d); err != nil {
			return fmt.Errorf("forward.Run: layer %d q projection: %w", li, err)
		}
		if err := tensor.MatMulAddBias(lc.H1, layer.Attn.Wk, layer.Attn.Bk, lc.K, bs, d, d); err != nil {
			return fmt.Errorf("forward.Run: layer %d k projection: %w", li, err)
		}
		if err := tensor.MatMulAddBias(lc.H1, layer.Attn.Wv, layer.Attn.Bv, lc.V, bs, d, d); err != nil {
			return fmt.Errorf("forward.Run: layer %d v projection: %w", li, err)
		}

		if err := runAttention(lc, keyMask, b, s, h, headDim, scale); err != nil {
			return fmt.Errorf("forward.Run: layer %d attention: %w", li, err)
		}

		if err := tensor.MatMulAddBias(lc.AttnOut, layer.Attn.Wo, layer.Attn.Bo, lc.AttnProj, bs, d, d); err != nil {
			return fmt.Errorf("forward.Run: layer %d output projection: %w", li, err)
		}
		tensor.AddInto(lc.ResidAfterAttn, hCur, lc.AttnProj)

		if lc.LN2, err = tensor.LayerNorm(lc.ResidAfterAttn, lc.H2, bs, d, layer.LN2.Gamma, layer.LN2.Beta, LayerNormEps); err != nil {
			return fmt.Errorf("forward.Run: layer %d ln2: %w", li, err)
		}

		if err := tensor.MatMulAddBias(lc.H2, layer.FFN.W1, layer.FFN.B1, lc.FFNPre, bs, m.Shapes.DFF, d); err != nil {
			return fmt.Errorf("forward.Run: layer %d ffn w1: %w", li, err)
		}
		if err := tensor.GELU(lc.FFNPre, lc.FFNAct); err != nil {
			return fmt.Errorf("forward.Run: layer %d gelu: %w", li, err)
		}
		if err := tensor.MatMulAddBias(lc.FFNAct, layer.FFN.W2, layer.FFN.B2, lc.FFNOut, bs, d, m.Shapes.DFF); err != nil {
			return fmt.Errorf("forward.Run: layer %d ffn w2: %w", li, err)
		}
		tensor.AddInto(lc.ResidAfterFFN, lc.ResidAfterAttn, lc.FFNOut)

		hCur = lc.ResidAfterFFN
	}

	var err error
	if cache.FinalLN, err = tensor.LayerNorm(hCur, cache.FinalNorm, bs, d, m.LNFinal.Gamma, m.LNFinal.Beta, LayerNormEps); err != nil {
		return fmt.Errorf("forward.Run: final ln: %w", err)
	}

	if err := tensor.MatMulTransB(cache.FinalNorm, m.OutputWeights(), cache.Logits, bs, m.Shapes.VocabSize, d); err != nil {
		return fmt.Errorf("forward.Run: logits projection: %w", err)
	}
	return nil
}

// runAttention fills lc.AttnProbs and lc.AttnOut for every (batch, head)
// pair, applying a causal + padding additive mask before softmax.
func runAttention(lc *LayerCache, keyMask []uint8, b, s, h, headDim int, scale float32) error {
	d := h * headDim
	qHead := make([]float32, s*headDim)
	kHead := make([]float32, s*headDim)
	vHead := make([]float32, s*headDim)
	scores := make([]float32, s*s)
	ctx := make([]float32, s*headDim)

	for bi := 0; bi < b; bi++ {
		mask := additiveMask(keyMask[bi*s:(bi+1)*s], s)
		for hi := 0; hi < h; hi++ {
			gatherHead(lc.Q, qHead, bi, hi, s, d, headDim)
			gatherHead(lc.K, kHead, bi, hi, s, d, headDim)
			gatherHead(lc.V, vHead, bi, hi, s, d, headDim)

			if err := tensor.MatMulTransB(qHead, kHead, scores, s, s, headDim); err != nil {
				return err
			}
			for i := range scores {
				scores[i] = scores[i]*scale + mask[i]
			}
			if err := tensor.SoftmaxRowwise(scores, s, s); err != nil {
				return err
			}
			copy(lc.AttnProbs[(bi*h+hi)*s*s:(bi*h+hi+1)*s*s], scores)

			if err := tensor.MatMul(scores, vHead, ctx, s, headDim, s); err != nil {
				return err
			}
			scatterHead(ctx, lc.AttnOut, bi, hi, s, d, headDim)
		}
	}
	return nil
}

// additiveMask builds an [s, s] row-major mask: row i, col j is
// -inf whenever j > i (causal) or keyMask[j] == 0 (padding key), 0
// otherwise.
func additiveMask(keyMask []uint8, s int) []float32 {
	const negInf = float32(-1e30) // finite stand-in: real -Inf would turn NonFinite checks into false positives downstream.
	m := make([]float32, s*s)
	for i := 0; i < s; i++ {
		row := m[i*s : (i+1)*s]
		for j := 0; j < s; j++ {
			if j > i || keyMask[j] == 0 {
				row[j] = negInf
			}
		}
	}
	return m
}

// gatherHead copies the [s, headDim] slice belonging to head hi, batch
// bi out of a [b*s, h*headDim] buffer into the contiguous dst.
func gatherHead(src, dst []float32, bi, hi, s, d, headDim int) {
	for t := 0; t < s; t++ {
		rowOff := (bi*s+t)*d + hi*headDim
		copy(dst[t*headDim:(t+1)*headDim], src[rowOff:rowOff+headDim])
	}
}

// scatterHead is gatherHead's inverse: it writes a contiguous [s,
// headDim] buffer back into its strided position inside a [b*s,
// h*headDim] destination.
func scatterHead(src, dst []float32, bi, hi, s, d, headDim int) {
	for t := 0; t < s; t++ {
		rowOff := (bi*s+t)*d + hi*headDim
		copy(dst[rowOff:rowOff+headDim], src[t*headDim:(t+1)*headDim])
	}
}
