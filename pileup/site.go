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
package pileup

import (
	"fmt"

	"github.com/grailbio/hts/sam"
)

const (
	strandFwd = 0
	strandRev = 1
)

// Site is the pileup at one reference position.
//
// Reads, Bases, Quals and Offsets are parallel arrays of length Depth: the
// read, its base call (BaseA..BaseX), its base quality, and the 0-based
// position of the base within the read.  Their capacities are size classes of
// the scan's Pools, which own them again once the site is released.
//
// Derived values (major/minor allele, per-strand counts) are only available
// after Finalize.  The arrays must not be modified after Finalize.
type Site struct {
	RefID   int
	RefName string
	// Pos is 1-based.
	Pos     PosType
	RefBase byte // ASCII
	Depth   int

	Reads   []*sam.Record
	Bases   []byte
	Quals   []byte
	Offsets []PosType

	finalized bool
	// counts[base][strand], with strandFwd=0 and strandRev=1.
	counts     [NBaseEnum][2]int
	major      byte
	minor      byte
	majorCount int
	minorCount int
}

// Reset clears the site for reuse.  Array backing stores are kept.
func (s *Site) Reset() {
	reads, bases, quals, offsets := s.Reads[:0], s.Bases[:0], s.Quals[:0], s.Offsets[:0]
	*s = Site{Reads: reads, Bases: bases, Quals: quals, Offsets: offsets}
}

// Finalize computes the derived values from Bases[:Depth] and Reads[:Depth].
// Major and minor alleles are the most and second-most frequent of A/C/G/T,
// ties broken in A<C<G<T order; a missing allele is reported as BaseX with
// count zero.
func (s *Site) Finalize() {
	s.counts = [NBaseEnum][2]int{}
	for i := 0; i < s.Depth; i++ {
		strand := strandFwd
		if s.Reads[i].Flags&sam.Reverse != 0 {
			strand = strandRev
		}
		s.counts[s.Bases[i]][strand]++
	}
	s.major, s.minor = BaseX, BaseX
	s.majorCount, s.minorCount = 0, 0
	for b := BaseA; b < NBase; b++ {
		c := s.counts[b][strandFwd] + s.counts[b][strandRev]
		if c == 0 {
			continue
		}
		if c > s.majorCount {
			s.minor, s.minorCount = s.major, s.majorCount
			s.major, s.majorCount = b, c
		} else if c > s.minorCount {
			s.minor, s.minorCount = b, c
		}
	}
	s.finalized = true
}

// Finalized reports whether Finalize has been called since the last Reset.
func (s *Site) Finalized() bool {
	return s.finalized
}

func (s *Site) mustBeFinalized() {
	if !s.finalized {
		panic(fmt.Sprintf("pileup.Site %s:%d used before Finalize", s.RefName, s.Pos))
	}
}

// Major returns the most frequent base and its count.
func (s *Site) Major() (base byte, count int) {
	s.mustBeFinalized()
	return s.major, s.majorCount
}

// Minor returns the second most frequent base and its count.
func (s *Site) Minor() (base byte, count int) {
	s.mustBeFinalized()
	return s.minor, s.minorCount
}

// BaseCount returns the number of reads calling base.
func (s *Site) BaseCount(base byte) int {
	s.mustBeFinalized()
	return s.counts[base][strandFwd] + s.counts[base][strandRev]
}

// StrandCounts returns the number of forward- and reverse-strand reads calling
// base.
func (s *Site) StrandCounts(base byte) (fwd, rev int) {
	s.mustBeFinalized()
	return s.counts[base][strandFwd], s.counts[base][strandRev]
}

// RefCount returns the number of reads calling the reference base.
func (s *Site) RefCount() int {
	return s.BaseCount(ASCIIToEnumTable[s.RefBase])
}

// AltCount returns the number of reads calling a non-reference A/C/G/T base.
func (s *Site) AltCount() int {
	s.mustBeFinalized()
	ref := ASCIIToEnumTable[s.RefBase]
	n := 0
	for b := BaseA; b < NBase; b++ {
		if b != ref {
			n += s.counts[b][strandFwd] + s.counts[b][strandRev]
		}
	}
	return n
}

func (s *Site) String() string {
	if !s.finalized {
		return fmt.Sprintf("%s:%d ref=%c depth=%d", s.RefName, s.Pos, s.RefBase, s.Depth)
	}
	return fmt.Sprintf("%s:%d ref=%c depth=%d major=%c:%d minor=%c:%d", s.RefName, s.Pos, s.RefBase, s.Depth,
		EnumToASCIITable[s.major], s.majorCount, EnumToASCIITable[s.minor], s.minorCount)
}
