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
	"encoding/binary"
	"fmt"
	"io"

	"github.com/crystalline-lattice/engine/xerr"
)

// fileMagic identifies the container format. Non-goals (spec §1) exclude
// backward-compatible binary formats, so a single current formatVersion
// is all this needs; Load refuses anything else outright.
const fileMagic uint32 = 0x43524c54 // "CRLT"
const formatVersion uint32 = 1

var byteOrder = binary.LittleEndian

// Save writes every parameter block in the declared §3.1 order (via
// Blocks) as a header (magic, version, shape constants) followed by
// little-endian f32 arrays, bit-exact per spec §6. Returns
// xerr.IoError on any write failure.
func (m *Model) Save(w io.Writer) error {
	header := []uint32{
		fileMagic,
		formatVersion,
		uint32(m.Shapes.VocabSize),
		uint32(m.Shapes.DModel),
		uint32(m.Shapes.NHeads),
		uint32(m.Shapes.DFF),
		uint32(m.Shapes.NLayers),
		uint32(m.Shapes.MaxSeqLen),
		boolToU32(m.Shapes.WeightTied),
	}
	for _, h := range header {
		if err := binary.Write(w, byteOrder, h); err != nil {
			return fmt.Errorf("model.Save: writing header: %v: %w", err, xerr.IoError)
		}
	}

	for _, b := range m.Blocks() {
		if err := binary.Write(w, byteOrder, uint32(len(b.Data))); err != nil {
			return fmt.Errorf("model.Save: writing block length for %s: %v: %w", b.Name, err, xerr.IoError)
		}
		if len(b.Data) == 0 {
			continue // explicit absent block — zero length, no payload.
		}
		if err := binary.Write(w, byteOrder, b.Data); err != nil {
			return fmt.Errorf("model.Save: writing block %s: %v: %w", b.Name, err, xerr.IoError)
		}
	}
	return nil
}

// Load reads a Model container previously written by Save. It refuses to
// load a model whose shape constants disagree with wantShapes (spec §6:
// "MUST refuse to load a model whose shape constants disagree with the
// config"), and never assumes an optional block is present — a block
// with on-disk length 0 becomes the explicit nil ("absent"), not a
// zero-filled stand-in (spec §9 forbids "zero-fill on save" shortcuts).
func Load(r io.Reader, wantShapes Shapes) (*Model, error) {
	var magic, version uint32
	if err := binary.Read(r, byteOrder, &magic); err != nil {
		return nil, fmt.Errorf("model.Load: reading magic: %v: %w", err, xerr.IoError)
	}
	if magic != fileMagic {
		return nil, fmt.Errorf("model.Load: bad magic %x: %w", magic, xerr.IoError)
	}
	if err := binary.Read(r, byteOrder, &version); err != nil {
		return nil, fmt.Errorf("model.Load: reading version: %v: %w", err, xerr.IoError)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("model.Load: unsupported format version %d: %w", version, xerr.IoError)
	}

	var vocab, dModel, nHeads, dFF, nLayers, maxSeq, weightTied uint32
	for _, f := range []*uint32{&vocab, &dModel, &nHeads, &dFF, &nLayers, &maxSeq, &weightTied} {
		if err := binary.Read(r, byteOrder, f); err != nil {
			return nil, fmt.Errorf("model.Load: reading shape header: %v: %w", err, xerr.IoError)
		}
	}

	onDisk := Shapes{
		VocabSize:  int(vocab),
		DModel:     int(dModel),
		NHeads:     int(nHeads),
		DFF:        int(dFF),
		NLayers:    int(nLayers),
		MaxSeqLen:  int(maxSeq),
		WeightTied: weightTied != 0,
	}
	if onDisk != wantShapes {
		return nil, fmt.Errorf("model.Load: on-disk shapes %+v disagree with requested %+v: %w", onDisk, wantShapes, xerr.InvalidConfig)
	}

	mdl, err := New(onDisk)
	if err != nil {
		return nil, err
	}

	for _, b := range mdl.Blocks() {
		var length uint32
		if err := binary.Read(r, byteOrder, &length); err != nil {
			return nil, fmt.Errorf("model.Load: reading length for %s: %v: %w", b.Name, err, xerr.IoError)
		}
		if int(length) != len(b.Data) {
			return nil, fmt.Errorf("model.Load: block %s length %d disagrees with shapes (want %d): %w", b.Name, length, len(b.Data), xerr.InvalidConfig)
		}
		if length == 0 {
			continue
		}
		if err := binary.Read(r, byteOrder, b.Data); err != nil {
			return nil, fmt.Errorf("model.Load: reading block %s: %v: %w", b.Name, err, xerr.IoError)
		}
	}

	return mdl, nil
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
