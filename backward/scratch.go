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

// Package backward computes the reverse-mode gradient of the crystalline
// loss with respect to every Model parameter block, given the
// intermediates a forward.Cache already recorded. Gradients are written
// into a sphere's private gradaccum.Buffer via a gradaccum.Layout — never
// into a shared buffer — so a sphere's forward+backward pair never
// shares mutable state with any other sphere (spec §3.2, §8 property 7).
package backward

import "github.com/crystalline-lattice/engine/model"

// LayerScratch mirrors forward.LayerCache's shapes with the
// corresponding gradient buffers, reused across steps with the same
// (B, S).
type LayerScratch struct {
	DH1            []float32
	DQ, DK, DV     []float32
	DAttnOut       []float32
	DAttnProj      []float32
	DResidAfterAttn []float32
	DH2            []float32
	DFFNPre        []float32
	DFFNAct        []float32
	DFFNOut        []float32
	DResidAfterFFN []float32 // sized for this layer's output gradient; Run does not read it (it tracks that gradient in its own buffer)
}

// Scratch holds every workspace buffer one backward pass needs.
type Scratch struct {
	B, S int

	DEmbedded  []float32
	Layers     []LayerScratch
	DFinalNorm []float32
}

// NewScratch allocates a Scratch for the given model shapes and batch
// dimensions, matching forward.NewCache's sizing exactly.
func NewScratch(shapes model.Shapes, b, s int) *Scratch {
	bs := b * s
	d := shapes.DModel
	dff := shapes.DFF

	sc := &Scratch{
		B: b, S: s,
		DEmbedded:  make([]float32, bs*d),
		Layers:     make([]LayerScratch, shapes.NLayers),
		DFinalNorm: make([]float32, bs*d),
	}
	for i := range sc.Layers {
		sc.Layers[i] = LayerScratch{
			DH1:             make([]float32, bs*d),
			DQ:              make([]float32, bs*d),
			DK:              make([]float32, bs*d),
			DV:              make([]float32, bs*d),
			DAttnOut:        make([]float32, bs*d),
			DAttnProj:       make([]float32, bs*d),
			DResidAfterAttn: make([]float32, bs*d),
			DH2:             make([]float32, bs*d),
			DFFNPre:         make([]float32, bs*dff),
			DFFNAct:         make([]float32, bs*dff),
			DFFNOut:         make([]float32, bs*d),
			DResidAfterFFN:  make([]float32, bs*d),
		}
	}
	return sc
}
