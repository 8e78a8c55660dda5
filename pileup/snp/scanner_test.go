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
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/pilescan/encoding/bamprovider"
	"github.com/grailbio/pilescan/interval"
	"github.com/grailbio/pilescan/pileup"
	"github.com/grailbio/pilescan/pileup/snp"
	"github.com/grailbio/pilescan/reference"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

// testGenome holds a reference store and the matching BAM header.
type testGenome struct {
	store  *reference.Store
	header *sam.Header
	refs   []*sam.Reference
}

func newTestGenome(t testing.TB, names []string, seqs []string) testGenome {
	var fa strings.Builder
	var refs []*sam.Reference
	for i, name := range names {
		fmt.Fprintf(&fa, ">%s\n%s\n", name, seqs[i])
		ref, err := sam.NewReference(name, "", "", len(seqs[i]), nil, nil)
		assert.NoError(t, err)
		refs = append(refs, ref)
	}
	store, err := reference.New(strings.NewReader(fa.String()))
	assert.NoError(t, err)
	header, err := sam.NewHeader(nil, refs)
	assert.NoError(t, err)
	return testGenome{store: store, header: header, refs: refs}
}

func newRead(name string, ref *sam.Reference, pos int, seq string) *sam.Record {
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = 30
	}
	return &sam.Record{
		Name:    name,
		Ref:     ref,
		Pos:     pos,
		MapQ:    60,
		Cigar:   []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, len(seq))},
		MatePos: -1,
		Seq:     sam.NewSeq([]byte(seq)),
		Qual:    qual,
	}
}

func testOpts() snp.Opts {
	opts := snp.DefaultOpts
	opts.MaxDepth = 10
	opts.Mapq = 0
	opts.Seed = 1
	return opts
}

func region(t testing.TB, s string) []interval.Region {
	r, err := interval.ParseRegionString(s)
	assert.NoError(t, err)
	return []interval.Region{r}
}

func scan(t testing.TB, g testGenome, recs []*sam.Record, opts snp.Opts, regions []interval.Region, f pileup.SiteFilter) ([]*pileup.Site, snp.Stats) {
	p := bamprovider.NewFakeProvider(g.header, recs)
	s, err := snp.NewScanner(p, g.store, opts)
	assert.NoError(t, err)
	sites, err := s.Scan(vcontext.Background(), regions, f, nil)
	assert.NoError(t, err)
	assert.NoError(t, p.Close())
	return sites, s.Stats()
}

// fiveReads returns five 10-base reads on a poly-A chr1 of length 100, all
// covering 1-based position 50, one of them calling C there.
func fiveReads(g testGenome) []*sam.Record {
	var recs []*sam.Record
	for i, start := range []int{40, 42, 44, 46, 48} {
		seq := []byte(strings.Repeat("A", 10))
		if start == 44 {
			seq[49-start] = 'C'
		}
		recs = append(recs, newRead(fmt.Sprintf("r%d", i), g.refs[0], start, string(seq)))
	}
	return recs
}

func TestScanVariantSite(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	sites, stats := scan(t, g, fiveReads(g), testOpts(), region(t, "chr1:40-60"), pileup.AltFilter{MinAltCount: 1})
	assert.EQ(t, len(sites), 1)
	site := sites[0]
	expect.EQ(t, site.RefName, "chr1")
	expect.EQ(t, site.RefID, 0)
	expect.EQ(t, site.Pos, snp.PosType(50))
	expect.EQ(t, site.RefBase, byte('A'))
	expect.EQ(t, site.Depth, 5)
	major, majorCount := site.Major()
	expect.EQ(t, major, pileup.BaseA)
	expect.EQ(t, majorCount, 4)
	minor, minorCount := site.Minor()
	expect.EQ(t, minor, pileup.BaseC)
	expect.EQ(t, minorCount, 1)
	expect.EQ(t, stats.RecordsUsed, int64(5))
	expect.EQ(t, stats.SitesRetained, int64(1))
	// Reads cover 0-based [40, 58).
	expect.EQ(t, stats.SitesEmitted, int64(18))
}

func TestScanDepths(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	sites, _ := scan(t, g, fiveReads(g), testOpts(), region(t, "chr1:40-60"), nil)
	starts := []int{40, 42, 44, 46, 48}
	var want []string
	for pos0 := 39; pos0 < 60; pos0++ {
		depth := 0
		for _, s := range starts {
			if s <= pos0 && pos0 < s+10 {
				depth++
			}
		}
		if depth > 0 {
			want = append(want, fmt.Sprintf("%d:%d", pos0+1, depth))
		}
	}
	var got []string
	for _, site := range sites {
		got = append(got, fmt.Sprintf("%d:%d", site.Pos, site.Depth))
		expect.True(t, site.Finalized())
	}
	expect.EQ(t, got, want)
}

func TestScanRegionBounds(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	sites, _ := scan(t, g, fiveReads(g), testOpts(), region(t, "chr1:45-47"), nil)
	assert.EQ(t, len(sites), 3)
	for i, site := range sites {
		expect.EQ(t, site.Pos, snp.PosType(45+i))
	}
}

func depthCapReads(g testGenome, n int) []*sam.Record {
	recs := make([]*sam.Record, n)
	for i := range recs {
		recs[i] = newRead(fmt.Sprintf("r%04d", i), g.refs[0], 0, strings.Repeat("A", 10))
	}
	return recs
}

func sampledNames(site *pileup.Site) []string {
	var names []string
	for _, r := range site.Reads[:site.Depth] {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

func TestScanDepthCap(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	opts := testOpts()
	opts.MaxDepth = 50
	opts.DepthSampling = true
	opts.Seed = 12345

	run := func(seed int64) []string {
		opts.Seed = seed
		sites, stats := scan(t, g, depthCapReads(g, 1000), opts, region(t, "chr1:10-10"), nil)
		assert.EQ(t, len(sites), 1)
		assert.EQ(t, sites[0].Depth, 50)
		expect.EQ(t, sites[0].Pos, snp.PosType(10))
		expect.EQ(t, stats.Candidates, int64(1000))
		expect.EQ(t, stats.ReservoirReplaced+stats.ReservoirDiscarded, int64(950))
		expect.EQ(t, stats.Pool.Anomalies, int64(0))
		return sampledNames(sites[0])
	}
	first := run(12345)
	expect.EQ(t, len(first), 50)
	expect.EQ(t, run(12345), first)
	expect.True(t, fmt.Sprint(run(54321)) != fmt.Sprint(first))
}

func TestScanDepthCapWithoutSampling(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	opts := testOpts()
	opts.MaxDepth = 20
	opts.DepthSampling = false
	sites, stats := scan(t, g, depthCapReads(g, 100), opts, region(t, "chr1:1-1"), nil)
	assert.EQ(t, len(sites), 1)
	names := sampledNames(sites[0])
	assert.EQ(t, len(names), 20)
	for i, name := range names {
		expect.EQ(t, name, fmt.Sprintf("r%04d", i))
	}
	expect.EQ(t, stats.ReservoirDiscarded, int64(80))
	expect.EQ(t, stats.ReservoirReplaced, int64(0))
}

func TestScanGrowAndPresize(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	opts := testOpts()
	opts.MaxDepth = 1000
	opts.MinBufferDepth = 100
	// Size classes are {100, 200, 400, 800, 1001}.
	sites, stats := scan(t, g, depthCapReads(g, 350), opts, region(t, "chr1:1-2"), nil)
	assert.EQ(t, len(sites), 2)

	// The first position starts at the smallest class and grows twice while
	// admitting candidates.
	first := sites[0]
	assert.EQ(t, first.Depth, 350)
	expect.EQ(t, cap(first.Reads), 400)
	expect.EQ(t, cap(first.Bases), 400)
	expect.EQ(t, cap(first.Quals), 400)
	expect.EQ(t, cap(first.Offsets), 400)
	for i, r := range first.Reads[:first.Depth] {
		require.NotNil(t, r, "read %d", i)
	}
	expect.EQ(t, len(sampledNames(first)), 350)
	expect.EQ(t, first.BaseCount(pileup.BaseA), 350)

	// The second is pre-sized from the running average depth of 350.
	second := sites[1]
	assert.EQ(t, second.Depth, 350)
	expect.EQ(t, cap(second.Reads), 800)
	expect.EQ(t, cap(second.Offsets), 800)

	expect.EQ(t, stats.ReservoirDiscarded, int64(0))
	expect.EQ(t, stats.Pool.Anomalies, int64(0))
}

// TestReservoirInclusion checks that each of n candidates at one position is
// sampled with probability k/n, whatever its arrival order.
func TestReservoirInclusion(t *testing.T) {
	const (
		n      = 20
		k      = 5
		trials = 4000
	)
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	opts := testOpts()
	opts.MaxDepth = k
	opts.DepthSampling = true
	counts := map[string]int{}
	for trial := 0; trial < trials; trial++ {
		opts.Seed = int64(trial + 1)
		sites, _ := scan(t, g, depthCapReads(g, n), opts, region(t, "chr1:5-5"), nil)
		assert.EQ(t, len(sites), 1)
		assert.EQ(t, sites[0].Depth, k)
		for _, name := range sampledNames(sites[0]) {
			counts[name]++
		}
	}
	assert.EQ(t, len(counts), n)
	for name, c := range counts {
		require.InDelta(t, float64(k)/n, float64(c)/trials, 0.03, "read %s", name)
	}
}

func TestScanReadFilters(t *testing.T) {
	// chrX is in the BAM header but not the reference.
	store, err := reference.New(strings.NewReader(">chr1\n" + strings.Repeat("A", 100) + "\n"))
	assert.NoError(t, err)
	chr1, err := sam.NewReference("chr1", "", "", 100, nil, nil)
	assert.NoError(t, err)
	chrX, err := sam.NewReference("chrX", "", "", 100, nil, nil)
	assert.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1, chrX})
	assert.NoError(t, err)
	g := testGenome{store: store, header: header, refs: []*sam.Reference{chr1, chrX}}

	seq := strings.Repeat("A", 10)
	good := newRead("good", chr1, 10, seq)
	dup := newRead("dup", chr1, 10, seq)
	dup.Flags = sam.Duplicate
	lowMapq := newRead("lowmapq", chr1, 10, seq)
	lowMapq.MapQ = 5
	secondary := newRead("secondary", chr1, 10, seq)
	secondary.Flags = sam.Secondary
	unknown := newRead("unknown", chrX, 10, seq)
	unmapped := newRead("unmapped", nil, -1, seq)
	unmapped.Flags = sam.Unmapped
	unmapped.Cigar = nil

	opts := testOpts()
	opts.Mapq = 20
	sites, stats := scan(t, g, []*sam.Record{good, dup, lowMapq, secondary, unknown, unmapped}, opts, nil, nil)
	assert.EQ(t, len(sites), 10)
	for _, site := range sites {
		expect.EQ(t, sampledNames(site), []string{"good"})
	}
	expect.EQ(t, stats.RecordsRead, int64(6))
	expect.EQ(t, stats.RecordsUsed, int64(1))
	expect.EQ(t, stats.Duplicates, int64(1))
	expect.EQ(t, stats.LowMapq, int64(1))
	expect.EQ(t, stats.FlagExcluded, int64(1))
	expect.EQ(t, stats.UnknownRef, int64(1))
	expect.EQ(t, stats.Unmapped, int64(1))
}

func TestScanStrand(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	chr1 := g.refs[0]
	seq := strings.Repeat("A", 10)
	fwd := newRead("fwd", chr1, 10, seq)
	fwd.Flags = sam.Paired | sam.Read1 | sam.MateReverse
	fwd.MateRef = chr1
	rev := newRead("rev", chr1, 12, seq)
	rev.Flags = sam.Paired | sam.Read1 | sam.Reverse
	rev.MateRef = chr1
	recs := []*sam.Record{fwd, rev}

	opts := testOpts()
	opts.Strand = "+"
	sites, stats := scan(t, g, recs, opts, nil, nil)
	assert.EQ(t, len(sites), 10)
	expect.EQ(t, sampledNames(sites[0]), []string{"fwd"})
	expect.EQ(t, stats.StrandExcluded, int64(1))

	opts.Strand = "-"
	sites, stats = scan(t, g, recs, opts, nil, nil)
	assert.EQ(t, len(sites), 10)
	expect.EQ(t, sites[0].Pos, snp.PosType(13))
	expect.EQ(t, sampledNames(sites[0]), []string{"rev"})
	expect.EQ(t, stats.StrandExcluded, int64(1))

	opts.Strand = "x"
	_, err := snp.NewScanner(bamprovider.NewFakeProvider(g.header, recs), g.store, opts)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestScanBaseQuality(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	hi := newRead("hi", g.refs[0], 0, "AAAAA")
	lo := newRead("lo", g.refs[0], 0, "CCCCC")
	lo.Qual[2] = 5
	opts := testOpts()
	opts.MinBaseQual = 20
	sites, _ := scan(t, g, []*sam.Record{hi, lo}, opts, region(t, "chr1:1-5"), nil)
	assert.EQ(t, len(sites), 5)
	expect.EQ(t, sites[2].Depth, 1)
	expect.EQ(t, sampledNames(sites[2]), []string{"hi"})
	expect.EQ(t, sites[3].Depth, 2)
	expect.EQ(t, sites[3].Quals[:2], []byte{30, 30})
}

func TestScanClip(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	opts := testOpts()
	opts.MinBaseQual = 10
	opts.Clip = 2
	sites, _ := scan(t, g, []*sam.Record{newRead("r", g.refs[0], 0, "AAAAAAAA")}, opts, nil, nil)
	var got []snp.PosType
	for _, site := range sites {
		got = append(got, site.Pos)
	}
	expect.EQ(t, got, []snp.PosType{3, 4, 5, 6})
}

func TestScanCigar(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	r := newRead("r", g.refs[0], 10, "CCAAAAAAGG")
	// 2S 3M 2D 3M 2I: aligned to 0-based [10, 13) and [15, 18).
	r.Cigar = []sam.CigarOp{
		sam.NewCigarOp(sam.CigarSoftClipped, 2),
		sam.NewCigarOp(sam.CigarMatch, 3),
		sam.NewCigarOp(sam.CigarDeletion, 2),
		sam.NewCigarOp(sam.CigarMatch, 3),
		sam.NewCigarOp(sam.CigarInsertion, 2),
	}
	sites, _ := scan(t, g, []*sam.Record{r}, testOpts(), nil, nil)
	var got []string
	for _, site := range sites {
		got = append(got, fmt.Sprintf("%d@%d", site.Pos, site.Offsets[0]))
	}
	expect.EQ(t, got, []string{"11@2", "12@3", "13@4", "16@5", "17@6", "18@7"})
}

func TestScanRefN(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{"AAAANNAAAA" + strings.Repeat("A", 90)})
	sites, stats := scan(t, g, []*sam.Record{newRead("r", g.refs[0], 0, "AAAAAAAAAA")}, testOpts(), nil, nil)
	expect.EQ(t, len(sites), 8)
	expect.EQ(t, stats.RefNSkipped, int64(2))
	for _, site := range sites {
		expect.True(t, site.Pos != 5 && site.Pos != 6)
	}
}

func TestScanWholeFile(t *testing.T) {
	g := newTestGenome(t, []string{"chr1", "chr2"}, []string{strings.Repeat("A", 100), strings.Repeat("C", 50)})
	recs := []*sam.Record{
		newRead("a", g.refs[0], 95, "AAAAA"),
		newRead("b", g.refs[1], 0, "CCC"),
	}
	sites, _ := scan(t, g, recs, testOpts(), nil, nil)
	var got []string
	for _, site := range sites {
		got = append(got, fmt.Sprintf("%s:%d:%c", site.RefName, site.Pos, site.RefBase))
	}
	expect.EQ(t, got, []string{
		"chr1:96:A", "chr1:97:A", "chr1:98:A", "chr1:99:A", "chr1:100:A",
		"chr2:1:C", "chr2:2:C", "chr2:3:C",
	})
}

func TestScanWholeContig(t *testing.T) {
	g := newTestGenome(t, []string{"chr1", "chr2"}, []string{strings.Repeat("A", 100), strings.Repeat("C", 50)})
	recs := []*sam.Record{
		newRead("a", g.refs[0], 0, "AA"),
		newRead("b", g.refs[0], 90, strings.Repeat("A", 10)),
		newRead("c", g.refs[1], 0, "CCC"),
	}
	sites, _ := scan(t, g, recs, testOpts(), region(t, "chr1"), nil)
	assert.EQ(t, len(sites), 12)
	expect.EQ(t, sites[0].Pos, snp.PosType(1))
	expect.EQ(t, sites[1].Pos, snp.PosType(2))
	expect.EQ(t, sites[2].Pos, snp.PosType(91))
	last := sites[len(sites)-1]
	expect.EQ(t, last.RefName, "chr1")
	expect.EQ(t, last.Pos, snp.PosType(100))
}

func TestScanMaxSitesAndRelease(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	opts := testOpts()
	opts.MaxSites = 3
	p := bamprovider.NewFakeProvider(g.header, fiveReads(g))
	s, err := snp.NewScanner(p, g.store, opts)
	assert.NoError(t, err)
	sites, err := s.Scan(vcontext.Background(), nil, nil, nil)
	assert.NoError(t, err)
	assert.EQ(t, len(sites), 3)
	stats := s.Stats()
	expect.EQ(t, stats.SitesRetained, int64(3))
	expect.EQ(t, stats.SitesDropped, int64(15))
	for _, site := range sites {
		s.Release(site)
	}
	// Every site's arrays are back in the pool, so a second scan allocates
	// nothing new.
	before := s.Stats().Pool
	sites, err = s.Scan(vcontext.Background(), nil, nil, nil)
	assert.NoError(t, err)
	assert.EQ(t, len(sites), 3)
	after := s.Stats().Pool
	expect.EQ(t, after.Allocs, before.Allocs)
	expect.EQ(t, after.Anomalies, int64(0))
}

func TestScanBatchFilter(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	p := bamprovider.NewFakeProvider(g.header, fiveReads(g))
	s, err := snp.NewScanner(p, g.store, testOpts())
	assert.NoError(t, err)
	var batchLen int
	b := pileup.BatchFilterFunc(func(sites []*pileup.Site) []*pileup.Site {
		batchLen = len(sites)
		return sites[len(sites)-1:]
	})
	sites, err := s.Scan(vcontext.Background(), region(t, "chr1:41-50"), nil, b)
	assert.NoError(t, err)
	expect.EQ(t, batchLen, 10)
	assert.EQ(t, len(sites), 1)
	expect.EQ(t, sites[0].Pos, snp.PosType(50))
}

func TestScanRequireMate(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	r1 := newRead("pair", g.refs[0], 0, "AAAAA")
	r2 := newRead("pair", g.refs[0], 20, "AAAAA")
	r1.Flags = sam.Paired | sam.Read1
	r2.Flags = sam.Paired | sam.Read2 | sam.Reverse
	r1.MateRef, r1.MatePos = g.refs[0], 20
	r2.MateRef, r2.MatePos = g.refs[0], 0
	single := newRead("single", g.refs[0], 2, "AAAAA")
	opts := testOpts()
	opts.RequireMate = true
	sites, stats := scan(t, g, []*sam.Record{r1, single, r2}, opts, nil, nil)
	expect.EQ(t, len(sites), 10)
	expect.EQ(t, stats.MissingMate, int64(1))
	expect.EQ(t, stats.RecordsUsed, int64(2))
	expect.EQ(t, stats.Mates.CacheHits, int64(2))
	fwd, rev := sites[len(sites)-1].StrandCounts(pileup.BaseA)
	expect.EQ(t, fwd, 0)
	expect.EQ(t, rev, 1)
}

func TestScanInvalidRegion(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	p := bamprovider.NewFakeProvider(g.header, nil)
	s, err := snp.NewScanner(p, g.store, testOpts())
	assert.NoError(t, err)
	_, err = s.Scan(vcontext.Background(), region(t, "chrZ:1-10"), nil, nil)
	expect.True(t, errors.Is(errors.Invalid, err))
	_, err = s.Scan(vcontext.Background(), region(t, "chr1:200-300"), nil, nil)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestNewScannerValidates(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	p := bamprovider.NewFakeProvider(g.header, nil)
	opts := testOpts()
	opts.MaxDepth = 0
	_, err := snp.NewScanner(p, g.store, opts)
	expect.True(t, errors.Is(errors.Invalid, err))

	opts = testOpts()
	opts.ProgressInterval = -1
	_, err = snp.NewScanner(p, g.store, opts)
	expect.True(t, errors.Is(errors.Invalid, err))

	// Reference lengths must agree with the header.
	short := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 50)})
	_, err = snp.NewScanner(p, short.store, testOpts())
	expect.NotNil(t, err)
}

func TestScanCancelled(t *testing.T) {
	g := newTestGenome(t, []string{"chr1"}, []string{strings.Repeat("A", 100)})
	p := bamprovider.NewFakeProvider(g.header, fiveReads(g))
	s, err := snp.NewScanner(p, g.store, testOpts())
	assert.NoError(t, err)
	ctx, cancel := context.WithCancel(vcontext.Background())
	cancel()
	_, err = s.Scan(ctx, region(t, "chr1:1-100"), nil, nil)
	expect.NotNil(t, err)
}
