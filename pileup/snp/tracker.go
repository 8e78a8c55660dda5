// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package snp

import (
	"fmt"

	"github.com/grailbio/hts/sam"
)

// alignedBlock is a maximal run of read bases aligned to the reference
// without insertion or deletion.
type alignedBlock struct {
	refStart  PosType
	length    PosType
	readStart PosType
}

// tracker follows one read across the positions of the window.  blocks[idx:]
// are the aligned blocks not yet passed.
type tracker struct {
	rec    *sam.Record
	blocks []alignedBlock
	idx    int
}

type trackerState int

const (
	// trackerCovers means the current block contains the position.
	trackerCovers trackerState = iota
	// trackerAhead means the position lies in a deletion or skip before the
	// current block.
	trackerAhead
	// trackerDone means every block ends before the position.
	trackerDone
)

func (t *tracker) clear() {
	t.rec = nil
	t.blocks = t.blocks[:0]
	t.idx = 0
}

// init fills t.blocks from rec's CIGAR.  It returns false if rec has no
// aligned base.
func (t *tracker) init(rec *sam.Record) (bool, error) {
	t.rec = rec
	t.blocks = t.blocks[:0]
	t.idx = 0
	posInRef := PosType(rec.Pos)
	posInRead := PosType(0)
	for _, co := range rec.Cigar {
		cLen := PosType(co.Len())
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if n := len(t.blocks); n > 0 && t.blocks[n-1].refStart+t.blocks[n-1].length == posInRef &&
				t.blocks[n-1].readStart+t.blocks[n-1].length == posInRead {
				t.blocks[n-1].length += cLen
			} else {
				t.blocks = append(t.blocks, alignedBlock{refStart: posInRef, length: cLen, readStart: posInRead})
			}
			posInRef += cLen
			posInRead += cLen
		case sam.CigarInsertion, sam.CigarSoftClipped:
			posInRead += cLen
		case sam.CigarDeletion, sam.CigarSkipped:
			posInRef += cLen
		case sam.CigarHardClipped, sam.CigarPadded:
			// do nothing
		default:
			return false, fmt.Errorf("snp.tracker: unexpected CIGAR code %v in read %s", co, rec.Name)
		}
	}
	if int(posInRead) > rec.Seq.Length {
		return false, fmt.Errorf("snp.tracker: CIGAR of read %s consumes %d bases, but the read has %d", rec.Name, posInRead, rec.Seq.Length)
	}
	return len(t.blocks) != 0, nil
}

// advance moves past the blocks ending before pos.  pos must not decrease
// between calls.  When the result is trackerCovers, offset is the position in
// the read aligned to pos.
func (t *tracker) advance(pos PosType) (offset PosType, state trackerState) {
	for t.idx < len(t.blocks) {
		b := &t.blocks[t.idx]
		if pos < b.refStart {
			return 0, trackerAhead
		}
		if pos < b.refStart+b.length {
			return b.readStart + (pos - b.refStart), trackerCovers
		}
		t.idx++
	}
	return 0, trackerDone
}

// seqBase returns the .bam seq nibble at position i of seq.
func seqBase(seq sam.Seq, i int) byte {
	d := byte(seq.Seq[i>>1])
	if i&1 == 0 {
		return d >> 4
	}
	return d & 0xf
}
