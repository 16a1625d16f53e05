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

import "github.com/crystalline-lattice/engine/model"

// Layout maps a Model's named parameter blocks (in the exact order
// Model.Blocks returns them) onto offsets into a flat gradient buffer of
// size TotalParams. Backward passes use it to find where a given block's
// gradient lives inside a sphere's private Buffer or the reduced Final.
type Layout struct {
	offsets map[string]int
	lengths map[string]int
	total   int
}

// NewLayout builds a Layout from a model's current block structure.
func NewLayout(m *model.Model) *Layout {
	l := &Layout{offsets: make(map[string]int), lengths: make(map[string]int)}
	offset := 0
	for _, b := range m.Blocks() {
		l.offsets[b.Name] = offset
		l.lengths[b.Name] = len(b.Data)
		offset += len(b.Data)
	}
	l.total = offset
	return l
}

// TotalParams returns the flat buffer size this layout requires.
func (l *Layout) TotalParams() int { return l.total }

// Offset returns the starting index of the named block within the flat
// buffer layout. Panics on an unknown name, for the same reason Slice
// does.
func (l *Layout) Offset(name string) int {
	off, ok := l.offsets[name]
	if !ok {
		panic("gradaccum: unknown block " + name)
	}
	return off
}

// Slice returns the sub-slice of buf corresponding to the named block.
// It panics if the name is unknown, matching Go's own slice-bounds
// panics for an analogous out-of-range access — this is a programmer
// error (a typo'd block name), not a runtime condition callers recover
// from.
func (l *Layout) Slice(buf []float32, name string) []float32 {
	off, ok := l.offsets[name]
	if !ok {
		panic("gradaccum: unknown block " + name)
	}
	return buf[off : off+l.lengths[name]]
}
