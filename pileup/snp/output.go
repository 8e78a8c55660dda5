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
	"context"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/pilescan/pileup"
)

// siteWriter is a pileup.SiteFilter which writes every site it sees to a file
// and retains none of them.  Write errors are reported by Close.
type siteWriter interface {
	pileup.SiteFilter
	Close() error
}

// outputPath returns the file name Pileup writes for the given format.
func outputPath(outPrefix string, format outputFormat) string {
	switch format {
	case formatTSVBgz:
		return outPrefix + ".tsv.gz"
	case formatRio:
		return outPrefix + ".rio"
	case formatArrow:
		return outPrefix + ".arrows"
	}
	return outPrefix + ".tsv"
}

func newSiteWriter(ctx context.Context, outPrefix string, format outputFormat, colBitset int, refNames []string) (siteWriter, error) {
	dst, err := file.Create(ctx, outputPath(outPrefix, format))
	if err != nil {
		return nil, err
	}
	switch format {
	case formatRio:
		return newRioSiteWriter(ctx, dst, refNames), nil
	case formatArrow:
		return newArrowSiteWriter(ctx, dst), nil
	}
	return newTSVSiteWriter(ctx, dst, colBitset, format == formatTSVBgz)
}

// writeChromPosRef is a convenience function which appends the CHROM/POS/REF
// columns.  pos is already 1-based.
func writeChromPosRef(tsvw *tsv.Writer, refName string, pos PosType, refChar byte) {
	tsvw.WriteString(refName)     // CHROM
	tsvw.WriteUint32(uint32(pos)) // POS
	tsvw.WriteByte(refChar)
}

type tsvSiteWriter struct {
	ctx       context.Context
	dst       file.File
	bgzfw     *bgzf.Writer
	tsvw      *tsv.Writer
	colBitset int
	err       error
}

func newTSVSiteWriter(ctx context.Context, dst file.File, colBitset int, bgzip bool) (*tsvSiteWriter, error) {
	w := &tsvSiteWriter{ctx: ctx, dst: dst, colBitset: colBitset}
	if !bgzip {
		w.tsvw = tsv.NewWriter(dst.Writer(ctx))
	} else {
		w.bgzfw = bgzf.NewWriter(dst.Writer(ctx), 1)
		w.tsvw = tsv.NewWriter(w.bgzfw)
	}
	w.tsvw.WriteString("#CHROM\tPOS\tREF")
	if (colBitset & colBitDepth) != 0 {
		w.tsvw.WriteString("DP")
	}
	if (colBitset & colBitCounts) != 0 {
		w.tsvw.WriteString("A\tC\tG\tT\tN")
	}
	if (colBitset & colBitStrands) != 0 {
		w.tsvw.WriteString("A+\tA-\tC+\tC-\tG+\tG-\tT+\tT-")
	}
	if (colBitset & colBitAlleles) != 0 {
		w.tsvw.WriteString("MAJOR\tMAJOR_COUNT\tMINOR\tMINOR_COUNT")
	}
	if (colBitset & colBitQuals) != 0 {
		w.tsvw.WriteString("QUALS")
	}
	if err := w.tsvw.EndLine(); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// alleleChar returns the ASCII form of an allele reported by pileup.Site, or
// '.' if the allele is absent.
func alleleChar(base byte, count int) byte {
	if count == 0 {
		return '.'
	}
	return pileup.EnumToASCIITable[base]
}

// Filter implements pileup.SiteFilter.
func (w *tsvSiteWriter) Filter(site *pileup.Site) bool {
	if w.err != nil {
		return false
	}
	tsvw := w.tsvw
	colBitset := w.colBitset
	writeChromPosRef(tsvw, site.RefName, site.Pos, site.RefBase)
	if (colBitset & colBitDepth) != 0 {
		tsvw.WriteUint32(uint32(site.Depth))
	}
	if (colBitset & colBitCounts) != 0 {
		for b := byte(0); b < pileup.NBaseEnum; b++ {
			tsvw.WriteUint32(uint32(site.BaseCount(b)))
		}
	}
	if (colBitset & colBitStrands) != 0 {
		for b := byte(0); b < pileup.NBase; b++ {
			fwd, rev := site.StrandCounts(b)
			tsvw.WriteUint32(uint32(fwd))
			tsvw.WriteUint32(uint32(rev))
		}
	}
	if (colBitset & colBitAlleles) != 0 {
		major, majorCount := site.Major()
		minor, minorCount := site.Minor()
		tsvw.WriteByte(alleleChar(major, majorCount))
		tsvw.WriteUint32(uint32(majorCount))
		tsvw.WriteByte(alleleChar(minor, minorCount))
		tsvw.WriteUint32(uint32(minorCount))
	}
	if (colBitset & colBitQuals) != 0 {
		for _, q := range site.Quals[:site.Depth] {
			tsvw.WriteCsvUint32(uint32(q))
		}
		tsvw.EndCsv()
	}
	w.err = tsvw.EndLine()
	return false
}

// Close implements siteWriter.
func (w *tsvSiteWriter) Close() (err error) {
	err = w.err
	if e := w.tsvw.Flush(); e != nil && err == nil {
		err = e
	}
	if w.bgzfw != nil {
		if e := w.bgzfw.Close(); e != nil && err == nil {
			err = e
		}
	}
	file.CloseAndReport(w.ctx, w.dst, &err)
	return
}

type rioSiteWriter struct {
	ctx context.Context
	dst file.File
	w   recordio.Writer
	n   int64
}

func newRioSiteWriter(ctx context.Context, dst file.File, refNames []string) *rioSiteWriter {
	// recordiozstd.Init() is called in singleton.go's init().
	w := recordio.NewWriter(dst.Writer(ctx), recordio.WriterOpts{
		Marshal:      marshalSiteRow,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(refNamesHeader, strings.Join(refNames, "\000"))
	w.AddHeader(recordio.KeyTrailer, true)
	return &rioSiteWriter{ctx: ctx, dst: dst, w: w}
}

// Filter implements pileup.SiteFilter.
func (w *rioSiteWriter) Filter(site *pileup.Site) bool {
	row := NewSiteRow(site)
	w.w.Append(&row)
	w.n++
	return false
}

// Close implements siteWriter.
func (w *rioSiteWriter) Close() (err error) {
	w.w.SetTrailer(siteRowsTrailer(w.n))
	err = w.w.Finish()
	file.CloseAndReport(w.ctx, w.dst, &err)
	return
}

// arrowChunkSize is the number of rows per Arrow record batch.
const arrowChunkSize = 4096

var arrowSiteSchema = arrow.NewSchema([]arrow.Field{
	{Name: "chrom", Type: arrow.BinaryTypes.String},
	{Name: "pos", Type: arrow.PrimitiveTypes.Int32},
	{Name: "ref", Type: arrow.BinaryTypes.String},
	{Name: "depth", Type: arrow.PrimitiveTypes.Int32},
	{Name: "a", Type: arrow.PrimitiveTypes.Int32},
	{Name: "c", Type: arrow.PrimitiveTypes.Int32},
	{Name: "g", Type: arrow.PrimitiveTypes.Int32},
	{Name: "t", Type: arrow.PrimitiveTypes.Int32},
	{Name: "n", Type: arrow.PrimitiveTypes.Int32},
	{Name: "major", Type: arrow.BinaryTypes.String},
	{Name: "minor", Type: arrow.BinaryTypes.String},
}, nil)

// Column indexes in arrowSiteSchema.
const (
	arrowColChrom = iota
	arrowColPos
	arrowColRef
	arrowColDepth
	arrowColA     // A, C, G, T and N counts follow in enum order.
	arrowColMajor = arrowColA + pileup.NBaseEnum
	arrowColMinor = arrowColMajor + 1
)

type arrowSiteWriter struct {
	ctx     context.Context
	dst     file.File
	w       *ipc.Writer
	b       *array.RecordBuilder
	numRows int
	err     error
}

// newArrowSiteWriter writes the Arrow IPC stream format; dst need not be
// seekable.
func newArrowSiteWriter(ctx context.Context, dst file.File) *arrowSiteWriter {
	mem := memory.NewGoAllocator()
	w := ipc.NewWriter(dst.Writer(ctx), ipc.WithSchema(arrowSiteSchema), ipc.WithAllocator(mem))
	return &arrowSiteWriter{
		ctx: ctx,
		dst: dst,
		w:   w,
		b:   array.NewRecordBuilder(mem, arrowSiteSchema),
	}
}

func alleleString(base byte, count int) string {
	if count == 0 {
		return ""
	}
	return string(pileup.EnumToASCIITable[base])
}

// Filter implements pileup.SiteFilter.
func (w *arrowSiteWriter) Filter(site *pileup.Site) bool {
	if w.err != nil {
		return false
	}
	b := w.b
	b.Field(arrowColChrom).(*array.StringBuilder).Append(site.RefName)
	b.Field(arrowColPos).(*array.Int32Builder).Append(int32(site.Pos))
	b.Field(arrowColRef).(*array.StringBuilder).Append(string(site.RefBase))
	b.Field(arrowColDepth).(*array.Int32Builder).Append(int32(site.Depth))
	for base := byte(0); base < pileup.NBaseEnum; base++ {
		b.Field(arrowColA + int(base)).(*array.Int32Builder).Append(int32(site.BaseCount(base)))
	}
	b.Field(arrowColMajor).(*array.StringBuilder).Append(alleleString(site.Major()))
	b.Field(arrowColMinor).(*array.StringBuilder).Append(alleleString(site.Minor()))
	w.numRows++
	if w.numRows == arrowChunkSize {
		w.err = w.writeChunk()
	}
	return false
}

func (w *arrowSiteWriter) writeChunk() error {
	// NewRecord resets the builders for the next chunk.
	record := w.b.NewRecord()
	defer record.Release()
	w.numRows = 0
	return w.w.Write(record)
}

// Close implements siteWriter.
func (w *arrowSiteWriter) Close() (err error) {
	err = w.err
	if w.numRows > 0 && err == nil {
		err = w.writeChunk()
	}
	w.b.Release()
	if e := w.w.Close(); e != nil && err == nil {
		err = e
	}
	file.CloseAndReport(w.ctx, w.dst, &err)
	return
}
