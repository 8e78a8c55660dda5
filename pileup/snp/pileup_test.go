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
package snp_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/pilescan/encoding/bamprovider"
	"github.com/grailbio/pilescan/pileup"
	"github.com/grailbio/pilescan/pileup/snp"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
)

// pileupFixture writes the five-read BAM and its poly-A reference.
type pileupFixture struct {
	tmpdir  string
	bamPath string
	faPath  string
}

func newPileupFixture(t *testing.T, tmpdir string) pileupFixture {
	ctx := vcontext.Background()
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	f := pileupFixture{
		tmpdir:  tmpdir,
		bamPath: filepath.Join(tmpdir, "test.bam"),
		faPath:  filepath.Join(tmpdir, "ref.fa"),
	}
	assert.NoError(t, bamprovider.WriteIndexedBAM(ctx, f.bamPath, g.header, fiveReads(g)))
	fa := ">chr1 test\n" + strings.Repeat("A", 60) + "\n" + strings.Repeat("A", 40) + "\n"
	assert.NoError(t, ioutil.WriteFile(f.faPath, []byte(fa), 0644))
	return f
}

func (f pileupFixture) opts(format string) *snp.Opts {
	opts := snp.DefaultOpts
	opts.MaxDepth = 10
	opts.Mapq = 0
	opts.Seed = 1
	opts.Region = "chr1:40-60"
	opts.RefCacheDir = f.tmpdir
	opts.Format = format
	return &opts
}

func readLines(t *testing.T, path string) []string {
	data, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestPileupTSV(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()
	f := newPileupFixture(t, tmpdir)

	outPrefix := filepath.Join(tmpdir, "out")
	stats, err := snp.Pileup(ctx, f.bamPath, f.faPath, outPrefix, f.opts("tsv"))
	assert.NoError(t, err)
	expect.EQ(t, stats.SitesEmitted, int64(18))
	expect.EQ(t, stats.SitesRetained, int64(0))

	lines := readLines(t, outPrefix+".tsv")
	assert.EQ(t, len(lines), 19)
	expect.EQ(t, lines[0], "#CHROM\tPOS\tREF\tDP\tA\tC\tG\tT\tN")
	expect.EQ(t, lines[1], "chr1\t41\tA\t1\t1\t0\t0\t0\t0")
	expect.EQ(t, lines[10], "chr1\t50\tA\t5\t4\t1\t0\t0\t0")
	expect.EQ(t, lines[18], "chr1\t58\tA\t1\t1\t0\t0\t0\t0")

	// The second run reads the packed reference cache written by the first.
	opts := f.opts("tsv")
	opts.Cols = "+alleles,+quals,-counts"
	_, err = snp.Pileup(ctx, f.bamPath, f.faPath, outPrefix, opts)
	assert.NoError(t, err)
	lines = readLines(t, outPrefix+".tsv")
	expect.EQ(t, lines[0], "#CHROM\tPOS\tREF\tDP\tMAJOR\tMAJOR_COUNT\tMINOR\tMINOR_COUNT\tQUALS")
	expect.EQ(t, lines[1], "chr1\t41\tA\t1\tA\t1\t.\t0\t30")
	expect.EQ(t, lines[10], "chr1\t50\tA\t5\tA\t4\tC\t1\t30,30,30,30,30")
}

func TestPileupTSVBgz(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()
	f := newPileupFixture(t, tmpdir)

	outPrefix := filepath.Join(tmpdir, "out")
	_, err := snp.Pileup(ctx, f.bamPath, f.faPath, outPrefix, f.opts("tsv-bgz"))
	assert.NoError(t, err)
	_, err = snp.Pileup(ctx, f.bamPath, f.faPath, outPrefix, f.opts("tsv"))
	assert.NoError(t, err)

	in, err := os.Open(outPrefix + ".tsv.gz")
	assert.NoError(t, err)
	defer in.Close()
	gz, err := gzip.NewReader(in)
	assert.NoError(t, err)
	got, err := ioutil.ReadAll(gz)
	assert.NoError(t, err)
	want, err := ioutil.ReadFile(outPrefix + ".tsv")
	assert.NoError(t, err)
	expect.EQ(t, string(got), string(want))
}

func TestPileupRio(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()
	f := newPileupFixture(t, tmpdir)

	outPrefix := filepath.Join(tmpdir, "out")
	_, err := snp.Pileup(ctx, f.bamPath, f.faPath, outPrefix, f.opts("rio"))
	assert.NoError(t, err)

	in, err := os.Open(outPrefix + ".rio")
	assert.NoError(t, err)
	defer in.Close()
	rows, refNames, err := snp.ReadSiteRowsRio(in)
	assert.NoError(t, err)
	expect.EQ(t, refNames, []string{"chr1"})
	assert.EQ(t, len(rows), 18)
	row := rows[9]
	expect.EQ(t, row.RefID, uint32(0))
	expect.EQ(t, row.Pos, uint32(50))
	expect.EQ(t, row.Depth, uint32(5))
	expect.EQ(t, row.RefBase, byte('A'))
	expect.EQ(t, row.Counts[pileup.BaseA], [2]uint32{4, 0})
	expect.EQ(t, row.Counts[pileup.BaseC], [2]uint32{1, 0})
	expect.EQ(t, row.Counts[pileup.BaseX], [2]uint32{0, 0})
}

func TestPileupArrow(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()
	f := newPileupFixture(t, tmpdir)

	outPrefix := filepath.Join(tmpdir, "out")
	_, err := snp.Pileup(ctx, f.bamPath, f.faPath, outPrefix, f.opts("arrow"))
	assert.NoError(t, err)

	in, err := os.Open(outPrefix + ".arrows")
	assert.NoError(t, err)
	defer in.Close()
	reader, err := ipc.NewReader(in)
	assert.NoError(t, err)
	defer reader.Release()
	assert.True(t, reader.Next())
	record := reader.Record()
	assert.EQ(t, record.NumRows(), int64(18))
	expect.EQ(t, record.ColumnName(0), "chrom")

	chrom := record.Column(0).(*array.String)
	pos := record.Column(1).(*array.Int32)
	depth := record.Column(3).(*array.Int32)
	a := record.Column(4).(*array.Int32)
	c := record.Column(5).(*array.Int32)
	major := record.Column(9).(*array.String)
	minor := record.Column(10).(*array.String)
	expect.EQ(t, chrom.Value(9), "chr1")
	expect.EQ(t, pos.Value(9), int32(50))
	expect.EQ(t, depth.Value(9), int32(5))
	expect.EQ(t, a.Value(9), int32(4))
	expect.EQ(t, c.Value(9), int32(1))
	expect.EQ(t, major.Value(9), "A")
	expect.EQ(t, minor.Value(9), "C")
	expect.EQ(t, minor.Value(0), "")

	// All 18 rows fit in one chunk.
	expect.False(t, reader.Next())
	expect.NoError(t, reader.Err())
}

func TestPileupRegionSources(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()
	f := newPileupFixture(t, tmpdir)
	outPrefix := filepath.Join(tmpdir, "out")

	// BED intervals are 0-based half-open.
	bedPath := filepath.Join(tmpdir, "test.bed")
	assert.NoError(t, ioutil.WriteFile(bedPath, []byte("chr1\t49\t50\nchr1\t55\t70\n"), 0644))
	opts := f.opts("tsv")
	opts.Region = ""
	opts.BedPath = bedPath
	stats, err := snp.Pileup(ctx, f.bamPath, f.faPath, outPrefix, opts)
	assert.NoError(t, err)
	expect.EQ(t, stats.SitesEmitted, int64(4))
	lines := readLines(t, outPrefix+".tsv")
	assert.EQ(t, len(lines), 5)
	expect.EQ(t, lines[1], "chr1\t50\tA\t5\t4\t1\t0\t0\t0")

	// The whole file.
	opts = f.opts("tsv")
	opts.Region = ""
	stats, err = snp.Pileup(ctx, f.bamPath, f.faPath, outPrefix, opts)
	assert.NoError(t, err)
	expect.EQ(t, stats.SitesEmitted, int64(18))

	// Random regions are reproducible from the seed.
	opts = f.opts("tsv")
	opts.Region = ""
	opts.RandomRegions = 5
	opts.RandomRegionLen = 20
	_, err = snp.Pileup(ctx, f.bamPath, f.faPath, outPrefix, opts)
	assert.NoError(t, err)
	first := readLines(t, outPrefix+".tsv")
	_, err = snp.Pileup(ctx, f.bamPath, f.faPath, outPrefix, opts)
	assert.NoError(t, err)
	expect.EQ(t, readLines(t, outPrefix+".tsv"), first)

	opts = f.opts("tsv")
	opts.BedPath = bedPath
	_, err = snp.Pileup(ctx, f.bamPath, f.faPath, outPrefix, opts)
	expect.NotNil(t, err)
}

func TestPileupBadOpts(t *testing.T) {
	ctx := vcontext.Background()
	opts := snp.DefaultOpts
	opts.Format = "vcf"
	_, err := snp.Pileup(ctx, "unused.bam", "unused.fa", "out", &opts)
	expect.NotNil(t, err)

	opts = snp.DefaultOpts
	opts.Format = "rio"
	opts.Cols = "dp"
	_, err = snp.Pileup(ctx, "unused.bam", "unused.fa", "out", &opts)
	expect.NotNil(t, err)

	opts = snp.DefaultOpts
	opts.MaxDepth = -1
	_, err = snp.Pileup(ctx, "unused.bam", "unused.fa", "out", &opts)
	expect.NotNil(t, err)
}
