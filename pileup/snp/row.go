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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/recordio"
	"github.com/grailbio/pilescan/pileup"
)

const (
	refNamesHeader = "RefNames"
	trailerVersion = 1
)

// SiteRow is the fixed-size summary of a finalized pileup.Site written to
// .rio output.
//
// - Pos is 1-based, like pileup.Site.Pos.
// - In Counts[][], base is the major dimension, with pileup.BaseA=0, C=1, G=2,
//   T=3, X=4.  Strand is the minor dimension, with forward=0 and reverse=1.
type SiteRow struct {
	RefID   uint32
	Pos     uint32
	Depth   uint32
	RefBase byte
	Counts  [pileup.NBaseEnum][2]uint32
}

const siteRowBytes = 13 + 8*pileup.NBaseEnum

// NewSiteRow summarizes a finalized site.
func NewSiteRow(s *pileup.Site) SiteRow {
	row := SiteRow{
		RefID:   uint32(s.RefID),
		Pos:     uint32(s.Pos),
		Depth:   uint32(s.Depth),
		RefBase: s.RefBase,
	}
	for b := range row.Counts {
		fwd, rev := s.StrandCounts(byte(b))
		row.Counts[b][0] = uint32(fwd)
		row.Counts[b][1] = uint32(rev)
	}
	return row
}

// cutAndAdvance() returns s[offset:offset+pieceLen], and increments offset by
// pieceLen.
func cutAndAdvance(offset *int, s []byte, pieceLen int) []byte {
	tmpSlice := s[(*offset):]
	*offset += pieceLen
	return tmpSlice[:pieceLen]
}

// Serialized format:
//   [0..4): refID
//   [4..8): pos
//   [8..12): depth
//   [12]: refBase
//   then 8 bytes per base enum value: forward count, reverse count.
func marshalSiteRow(scratch []byte, p interface{}) ([]byte, error) {
	row := p.(*SiteRow)
	t := scratch
	if len(t) < siteRowBytes {
		t = make([]byte, siteRowBytes)
	}
	t = t[:siteRowBytes]
	offset := 0
	tStart := cutAndAdvance(&offset, t, 13)
	binary.LittleEndian.PutUint32(tStart[0:4], row.RefID)
	binary.LittleEndian.PutUint32(tStart[4:8], row.Pos)
	binary.LittleEndian.PutUint32(tStart[8:12], row.Depth)
	tStart[12] = row.RefBase
	for b := range row.Counts {
		tCounts := cutAndAdvance(&offset, t, 8)
		binary.LittleEndian.PutUint32(tCounts[:4], row.Counts[b][0])
		binary.LittleEndian.PutUint32(tCounts[4:8], row.Counts[b][1])
	}
	return t, nil
}

// siteRowUnmarshaller allocates rows in one block when the row count is known
// from the trailer.
type siteRowUnmarshaller struct {
	rows   []SiteRow
	offset int
}

func (u *siteRowUnmarshaller) unmarshal(in []byte) (out interface{}, err error) {
	if len(in) != siteRowBytes {
		return nil, fmt.Errorf("snp.SiteRow: record has %d bytes, want %d", len(in), siteRowBytes)
	}
	if u.offset == len(u.rows) {
		u.rows = append(u.rows, SiteRow{})
	}
	row := &u.rows[u.offset]
	u.offset++
	offset := 0
	inStart := cutAndAdvance(&offset, in, 13)
	row.RefID = binary.LittleEndian.Uint32(inStart[0:4])
	row.Pos = binary.LittleEndian.Uint32(inStart[4:8])
	row.Depth = binary.LittleEndian.Uint32(inStart[8:12])
	row.RefBase = inStart[12]
	for b := range row.Counts {
		inCounts := cutAndAdvance(&offset, in, 8)
		row.Counts[b][0] = binary.LittleEndian.Uint32(inCounts[:4])
		row.Counts[b][1] = binary.LittleEndian.Uint32(inCounts[4:8])
	}
	return row, nil
}

func siteRowsTrailer(numRows int64) []byte {
	var buffer bytes.Buffer
	if err := binary.Write(&buffer, binary.LittleEndian, int64(trailerVersion)); err != nil {
		panic("couldn't write trailer version")
	}
	if err := binary.Write(&buffer, binary.LittleEndian, numRows); err != nil {
		panic("couldn't write numRows to trailer")
	}
	return buffer.Bytes()
}

func parseSiteRowsTrailer(trailer []byte) (int64, error) {
	r := bytes.NewReader(trailer)
	var version, numRows int64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return 0, err
	}
	if version != trailerVersion {
		return 0, fmt.Errorf("unrecognized trailer version: got %d, want %d", version, trailerVersion)
	}
	if err := binary.Read(r, binary.LittleEndian, &numRows); err != nil {
		return 0, err
	}
	return numRows, nil
}

// ReadSiteRowsRio reads the rows of a .rio file written by Pileup.
func ReadSiteRowsRio(rs io.ReadSeeker) (rows []SiteRow, refNames []string, err error) {
	var u siteRowUnmarshaller
	scanner := recordio.NewScanner(rs, recordio.ScannerOpts{
		Unmarshal: u.unmarshal,
	})
	if len(scanner.Trailer()) != 0 {
		var numRows int64
		if numRows, err = parseSiteRowsTrailer(scanner.Trailer()); err != nil {
			return
		}
		u.rows = make([]SiteRow, 0, numRows)
	}
	for _, kv := range scanner.Header() {
		// Cannot return an error on unrecognized key since recordio can write
		// its own.
		if kv.Key == refNamesHeader {
			refNames = strings.Split(kv.Value.(string), "\000")
		}
	}
	for scanner.Scan() {
		rows = append(rows, *scanner.Get().(*SiteRow))
	}
	if err = scanner.Err(); err != nil {
		return
	}
	err = scanner.Finish()
	return
}
