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
	"github.com/grailbio/hts/sam"
)

// This contains scanner support functions which are peripheral enough that
// they'd probably decrease scanner.go's overall readability if placed there.

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxPosType(a, b PosType) PosType {
	if a > b {
		return a
	}
	return b
}

func minPosType(a, b PosType) PosType {
	if a < b {
		return a
	}
	return b
}

// clampInt returns x clamped to [lo, hi].
func clampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

const minQual = 2

// clipQuals sets the given number of Qual values on both ends of the read to
// minQual.
func clipQuals(samr *sam.Record, n int) {
	if n == 0 {
		return
	}
	qual := samr.Qual
	readLen := len(qual)
	if n*2 >= readLen {
		for i := 0; i < readLen; i++ {
			qual[i] = minQual
		}
	} else {
		for i := 0; i < n; i++ {
			qual[i] = minQual
		}
		for i := readLen - n; i < readLen; i++ {
			qual[i] = minQual
		}
	}
}

// baseQual returns the quality of the base at offset, or 0 if the read
// carries no qualities.
func baseQual(samr *sam.Record, offset PosType) byte {
	if int(offset) >= len(samr.Qual) {
		return 0
	}
	q := samr.Qual[offset]
	if q == 0xff {
		// Missing quality.
		return 0
	}
	return q
}
