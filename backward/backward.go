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

package backward

import (
	"fmt"
	"math"

	"github.com/crystalline-lattice/engine/forward"
	"github.com/crystalline-lattice/engine/gradaccum"
	"github.com/crystalline-lattice/engine/model"
	"github.com/crystalline-lattice/engine/tensor"
)

// Run computes dLoss/dParam for every block of m, given the forward
// cache it was computed from, the upstream gradient dLogits ([B*S,
// Vocab], from package loss), and the token ids that produced the
// embedding lookup. Every gradient contribution is accumulated
// (added, never overwritten) into grad via layout, so a sphere can call
// Run once per batch across an entire epoch and have the contributions
// sum correctly (spec §4.D/§4.I).
func Run(m *model.Model, cache *forward.Cache, scratch *Scratch, inputIDs []uint32, dLogits []float32, grad *gradaccum.Buffer, layout *gradaccum.Layout) error {
	b, s := cache.B, cache.S
	bs := b * s
	d := m.Shapes.DModel
	h := m.Shapes.NHeads
	headDim := m.Shapes.HeadDim()
	vocab := m.Shapes.VocabSize

	outputBlock := "embedding"
	if !m.Shapes.WeightTied {
		outputBlock = "output_projection"
	}
	dOutputWeights := layout.Slice(grad.Data, outputBlock)
	if err := tensor.MatMulAccumTransA(dLogits, cache.FinalNorm, dOutputWeights, bs, vocab, d); err != nil {
		return fmt.Errorf("backward.Run: output weight gradient: %w", err)
	}
	if err := tensor.MatMul(dLogits, m.OutputWeights(), scratch.DFinalNorm, bs, d, vocab); err != nil {
		return fmt.Errorf("backward.Run: dFinalNorm: %w", err)
	}

	lastIdx := len(m.Layers) - 1
	lastOutput := cache.Embedded
	if lastIdx >= 0 {
		lastOutput = cache.Layers[lastIdx].ResidAfterFFN
	}
	dGammaFinal := layout.Slice(grad.Data, "ln_final.gamma")
	dBetaFinal := layout.Slice(grad.Data, "ln_final.beta")
	dOut := make([]float32, bs*d) // gradient wrt current layer's output, reused down the stack
	if err := tensor.LayerNormBackward(lastOutput, m.LNFinal.Gamma, cache.FinalLN, scratch.DFinalNorm, dOut, dGammaFinal, dBetaFinal, bs, d); err != nil {
		return fmt.Errorf("backward.Run: final ln backward: %w", err)
	}

	for li := lastIdx; li >= 0; li-- {
		layer := &m.Layers[li]
		lc := &cache.Layers[li]
		ls := &scratch.Layers[li]

		layerInput := cache.Embedded
		if li > 0 {
			layerInput = cache.Layers[li-1].ResidAfterFFN
		}

		prefix := fmt.Sprintf("layer%d.", li)

		// Residual split: ResidAfterFFN = ResidAfterAttn + FFNOut.
		copy(ls.DResidAfterAttn, dOut) // direct pass-through branch
		copy(ls.DFFNOut, dOut)

		dW2 := layout.Slice(grad.Data, prefix+"ffn.w2")
		dB2 := layout.Slice(grad.Data, prefix+"ffn.b2")
		if err := tensor.MatMulAccumTransA(ls.DFFNOut, lc.FFNAct, dW2, bs, d, m.Shapes.DFF); err != nil {
			return fmt.Errorf("backward.Run: layer %d dW2: %w", li, err)
		}
		if err := tensor.SumRowsInto(ls.DFFNOut, dB2, bs, d); err != nil {
			return fmt.Errorf("backward.Run: layer %d dB2: %w", li, err)
		}
		if err := tensor.MatMul(ls.DFFNOut, layer.FFN.W2, ls.DFFNAct, bs, m.Shapes.DFF, d); err != nil {
			return fmt.Errorf("backward.Run: layer %d dFFNAct: %w", li, err)
		}

		if err := tensor.GELUBackward(lc.FFNPre, ls.DFFNAct, ls.DFFNPre); err != nil {
			return fmt.Errorf("backward.Run: layer %d gelu backward: %w", li, err)
		}

		dW1 := layout.Slice(grad.Data, prefix+"ffn.w1")
		dB1 := layout.Slice(grad.Data, prefix+"ffn.b1")
		if err := tensor.MatMulAccumTransA(ls.DFFNPre, lc.H2, dW1, bs, m.Shapes.DFF, d); err != nil {
			return fmt.Errorf("backward.Run: layer %d dW1: %w", li, err)
		}
		if err := tensor.SumRowsInto(ls.DFFNPre, dB1, bs, m.Shapes.DFF); err != nil {
			return fmt.Errorf("backward.Run: layer %d dB1: %w", li, err)
		}
		if err := tensor.MatMul(ls.DFFNPre, layer.FFN.W1, ls.DH2, bs, d, m.Shapes.DFF); err != nil {
			return fmt.Errorf("backward.Run: layer %d dH2: %w", li, err)
		}

		dGamma2 := layout.Slice(grad.Data, prefix+"ln2.gamma")
		dBeta2 := layout.Slice(grad.Data, prefix+"ln2.beta")
		dResidFromLN2 := make([]float32, bs*d)
		if err := tensor.LayerNormBackward(lc.ResidAfterAttn, layer.LN2.Gamma, lc.LN2, ls.DH2, dResidFromLN2, dGamma2, dBeta2, bs, d); err != nil {
			return fmt.Errorf("backward.Run: layer %d ln2 backward: %w", li, err)
		}
		tensor.AddInto(ls.DResidAfterAttn, ls.DResidAfterAttn, dResidFromLN2)

		// Residual split: ResidAfterAttn = layerInput + AttnProj.
		copy(ls.DAttnProj, ls.DResidAfterAttn)

		dWo := layout.Slice(grad.Data, prefix+"attn.wo")
		dBo := layout.Slice(grad.Data, prefix+"attn.bo")
		if err := tensor.MatMulAccumTransA(ls.DAttnProj, lc.AttnOut, dWo, bs, d, d); err != nil {
			return fmt.Errorf("backward.Run: layer %d dWo: %w", li, err)
		}
		if err := tensor.SumRowsInto(ls.DAttnProj, dBo, bs, d); err != nil {
			return fmt.Errorf("backward.Run: layer %d dBo: %w", li, err)
		}
		if err := tensor.MatMul(ls.DAttnProj, layer.Attn.Wo, ls.DAttnOut, bs, d, d); err != nil {
			return fmt.Errorf("backward.Run: layer %d dAttnOut: %w", li, err)
		}

		for i := range ls.DQ {
			ls.DQ[i], ls.DK[i], ls.DV[i] = 0, 0, 0
		}
		if err := attentionBackward(lc, ls, b, s, h, headDim); err != nil {
			return fmt.Errorf("backward.Run: layer %d attention backward: %w", li, err)
		}

		dWq := layout.Slice(grad.Data, prefix+"attn.wq")
		dWk := layout.Slice(grad.Data, prefix+"attn.wk")
		dWv := layout.Slice(grad.Data, prefix+"attn.wv")
		dBq := layout.Slice(grad.Data, prefix+"attn.bq")
		dBk := layout.Slice(grad.Data, prefix+"attn.bk")
		dBv := layout.Slice(grad.Data, prefix+"attn.bv")
		if err := tensor.MatMulAccumTransA(ls.DQ, lc.H1, dWq, bs, d, d); err != nil {
			return err
		}
		if err := tensor.MatMulAccumTransA(ls.DK, lc.H1, dWk, bs, d, d); err != nil {
			return err
		}
		if err := tensor.MatMulAccumTransA(ls.DV, lc.H1, dWv, bs, d, d); err != nil {
			return err
		}
		if err := tensor.SumRowsInto(ls.DQ, dBq, bs, d); err != nil {
			return err
		}
		if err := tensor.SumRowsInto(ls.DK, dBk, bs, d); err != nil {
			return err
		}
		if err := tensor.SumRowsInto(ls.DV, dBv, bs, d); err != nil {
			return err
		}

		for i := range ls.DH1 {
			ls.DH1[i] = 0
		}
		viaQ := make([]float32, bs*d)
		viaK := make([]float32, bs*d)
		viaV := make([]float32, bs*d)
		if err := tensor.MatMul(ls.DQ, layer.Attn.Wq, viaQ, bs, d, d); err != nil {
			return err
		}
		if err := tensor.MatMul(ls.DK, layer.Attn.Wk, viaK, bs, d, d); err != nil {
			return err
		}
		if err := tensor.MatMul(ls.DV, layer.Attn.Wv, viaV, bs, d, d); err != nil {
			return err
		}
		tensor.AddInto(ls.DH1, viaQ, viaK)
		tensor.AddInto(ls.DH1, ls.DH1, viaV)

		dGamma1 := layout.Slice(grad.Data, prefix+"ln1.gamma")
		dBeta1 := layout.Slice(grad.Data, prefix+"ln1.beta")
		dInputFromLN1 := make([]float32, bs*d)
		if err := tensor.LayerNormBackward(layerInput, layer.LN1.Gamma, lc.LN1, ls.DH1, dInputFromLN1, dGamma1, dBeta1, bs, d); err != nil {
			return fmt.Errorf("backward.Run: layer %d ln1 backward: %w", li, err)
		}

		nextDOut := make([]float32, bs*d)
		tensor.AddInto(nextDOut, ls.DResidAfterAttn, dInputFromLN1)
		dOut = nextDOut
	}

	dEmbedding := layout.Slice(grad.Data, "embedding")
	for i, tok := range inputIDs {
		row := dEmbedding[int(tok)*d : (int(tok)+1)*d]
		tensor.AddScaled(row, 1.0, dOut[i*d:(i+1)*d])
	}
	return nil
}

// attentionBackward fills ls.DQ/DK/DV for every (batch, head) pair given
// ls.DAttnOut (already populated by the caller) and the forward cache's
// saved Q/K/V/attention-probability values.
func attentionBackward(lc *forward.LayerCache, ls *LayerScratch, b, s, h, headDim int) error {
	d := h * headDim
	scale := float32(1.0)
	if headDim > 0 {
		scale = invSqrtHeadDim(headDim)
	}

	qHead := make([]float32, s*headDim)
	kHead := make([]float32, s*headDim)
	vHead := make([]float32, s*headDim)
	dCtx := make([]float32, s*headDim)
	dProbs := make([]float32, s*s)
	dScores := make([]float32, s*s)
	dQHead := make([]float32, s*headDim)
	dKHead := make([]float32, s*headDim)
	dVHead := make([]float32, s*headDim)

	for bi := 0; bi < b; bi++ {
		for hi := 0; hi < h; hi++ {
			gatherHead(lc.Q, qHead, bi, hi, s, d, headDim)
			gatherHead(lc.K, kHead, bi, hi, s, d, headDim)
			gatherHead(lc.V, vHead, bi, hi, s, d, headDim)
			gatherHead(ls.DAttnOut, dCtx, bi, hi, s, d, headDim)

			probs := lc.AttnProbs[(bi*h+hi)*s*s : (bi*h+hi+1)*s*s]

			for i := range dVHead {
				dVHead[i] = 0
			}
			if err := tensor.MatMulAccumTransA(probs, dCtx, dVHead, s, s, headDim); err != nil {
				return err
			}

			if err := tensor.MatMulTransB(dCtx, vHead, dProbs, s, s, headDim); err != nil {
				return err
			}
			if err := tensor.SoftmaxBackwardRowwise(probs, dProbs, dScores, s, s); err != nil {
				return err
			}
			if err := tensor.Scale(dScores, dScores, scale); err != nil {
				return err
			}

			if err := tensor.MatMul(dScores, kHead, dQHead, s, headDim, s); err != nil {
				return err
			}
			for i := range dKHead {
				dKHead[i] = 0
			}
			if err := tensor.MatMulAccumTransA(dScores, qHead, dKHead, s, s, headDim); err != nil {
				return err
			}

			scatterHead(dQHead, ls.DQ, bi, hi, s, d, headDim)
			scatterHead(dKHead, ls.DK, bi, hi, s, d, headDim)
			scatterHead(dVHead, ls.DV, bi, hi, s, d, headDim)
		}
	}
	return nil
}

func invSqrtHeadDim(headDim int) float32 {
	return float32(1.0 / math.Sqrt(float64(headDim)))
}

// gatherHead and scatterHead mirror forward's unexported helpers; kept
// local to avoid exporting forward internals purely for backward's use.
func gatherHead(src, dst []float32, bi, hi, s, d, headDim int) {
	for t := 0; t < s; t++ {
		rowOff := (bi*s+t)*d + hi*headDim
		copy(dst[t*headDim:(t+1)*headDim], src[rowOff:rowOff+headDim])
	}
}

func scatterHead(src, dst []float32, bi, hi, s, d, headDim int) {
	for t := 0; t < s; t++ {
		rowOff := (bi*s+t)*d + hi*headDim
		copy(dst[rowOff:rowOff+headDim], src[t*headDim:(t+1)*headDim])
	}
}
