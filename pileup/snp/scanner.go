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
	"fmt"
	"math/rand"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/pilescan/encoding/bampair"
	"github.com/grailbio/pilescan/encoding/bamprovider"
	"github.com/grailbio/pilescan/interval"
	"github.com/grailbio/pilescan/pileup"
	"github.com/grailbio/pilescan/reference"
	"github.com/grailbio/pilescan/sizeclass"
)

// Problem:
// Given a coordinate-sorted BAM, we want, for every covered position of a set
// of regions, the reads covering that position together with their base calls
// and qualities, with at most MaxDepth reads per position.
//
// Implementation strategy:
// We walk the records of one region at a time.  Each usable record becomes a
// tracker, which walks the record's aligned blocks.  Before adding a record
// starting at (0-based) position 1000, we build the pileup for every position
// between the previous record start and 1000 from the active trackers, since
// no later record can cover those positions.  Trackers whose blocks all end
// before the current position are dropped.
//
// Every position's pileup arrays come from a size-class pool and go back to it
// as soon as the site is rejected.  Once a position has MaxDepth reads,
// further candidates enter by reservoir sampling (Algorithm R), restarted at
// every position.

// Stats describes one Scanner's activity.  Counters accumulate across Scan
// calls.
type Stats struct {
	// RecordsRead is the number of records pulled from the alignment source.
	RecordsRead int64
	// RecordsUsed is the number of records that passed the read filters.
	RecordsUsed int64
	// Reads skipped by each read filter.
	Duplicates     int64
	LowMapq        int64
	Unmapped       int64
	UnknownRef     int64
	FlagExcluded   int64
	StrandExcluded int64
	MissingMate    int64

	// PositionsVisited is the number of positions with at least one active
	// read.
	PositionsVisited int64
	// RefNSkipped is the number of covered positions skipped because the
	// reference base is not A/C/G/T.
	RefNSkipped int64
	// SitesEmitted is the number of sites passed to the site filter, and
	// SitesRetained the number it kept.
	SitesEmitted  int64
	SitesRetained int64
	// SitesDropped is the number of sites the filter kept after MaxSites was
	// reached.
	SitesDropped int64
	// Candidates is the number of read bases passing the base-quality test.
	// ReservoirReplaced and ReservoirDiscarded count the candidates seen at
	// full depth that replaced a sampled read or were dropped.
	Candidates         int64
	ReservoirReplaced  int64
	ReservoirDiscarded int64

	Pool      sizeclass.Stats
	Mates     bamprovider.MateStats
	MateCache bampair.CacheStats
}

func (s Stats) String() string {
	return fmt.Sprintf("records:%d used:%d dup:%d lowmapq:%d unmapped:%d unknownref:%d flagexcluded:%d strandexcluded:%d missingmate:%d "+
		"positions:%d refn:%d emitted:%d retained:%d dropped:%d candidates:%d replaced:%d discarded:%d pool:{%v} mates:{%v} matecache:{%v}",
		s.RecordsRead, s.RecordsUsed, s.Duplicates, s.LowMapq, s.Unmapped, s.UnknownRef, s.FlagExcluded, s.StrandExcluded, s.MissingMate,
		s.PositionsVisited, s.RefNSkipped, s.SitesEmitted, s.SitesRetained, s.SitesDropped,
		s.Candidates, s.ReservoirReplaced, s.ReservoirDiscarded, s.Pool, s.Mates, s.MateCache)
}

// Scanner builds per-position pileups from a coordinate-sorted alignment
// source.  Thread compatible; one Scan may run at a time.
type Scanner struct {
	p      bamprovider.Provider
	ref    *reference.Store
	refCur *reference.Cursor
	opts   Opts
	header *sam.Header
	// refIDs maps header reference IDs to ref's IDs, or -1.
	refIDs   []int
	refNames []string
	rng      *rand.Rand
	strand   pileup.StrandType

	pools    *pileup.Pools
	trackers *sizeclass.ObjectPool[tracker]
	active   []*tracker
	cache    *bampair.MateCache
	mates    *bamprovider.MateResolver

	// depthSum and depthN give the running average depth of emitted
	// positions, used to pre-size each position's arrays.
	depthSum int64
	depthN   int64

	retained []*pileup.Site
	stats    Stats
}

// NewScanner creates a Scanner reading from p, with reference bases taken from
// ref.  Every reference of p's header must have the same length in ref;
// reads on references missing from ref are skipped.
func NewScanner(p bamprovider.Provider, ref *reference.Store, opts Opts) (*Scanner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	header, err := p.GetHeader()
	if err != nil {
		return nil, err
	}
	refIDs, err := pileup.RefIDMap(ref, header.Refs())
	if err != nil {
		return nil, errors.E(errors.Invalid, err)
	}
	strand, _ := pileup.ParseStrand(opts.Strand) // checked by Validate
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
		log.Printf("snp.NewScanner: using seed %d", seed)
	}
	refNames := make([]string, len(header.Refs()))
	for i, r := range header.Refs() {
		refNames[i] = r.Name()
	}
	maxLen := opts.MaxDepth + 1
	cache := bampair.NewMateCache(opts.MateBuckets, opts.MateBucketSize)
	return &Scanner{
		p:        p,
		ref:      ref,
		refCur:   ref.NewCursor(),
		opts:     opts,
		header:   header,
		refIDs:   refIDs,
		refNames: refNames,
		rng:      rand.New(rand.NewSource(seed)),
		strand:   strand,
		pools:    pileup.NewPools(minInt(opts.MinBufferDepth, maxLen), maxLen),
		trackers: sizeclass.NewObjectPool(func() *tracker { return &tracker{} }, (*tracker).clear),
		cache:    cache,
		mates:    bamprovider.NewMateResolver(p, cache),
	}, nil
}

// Header returns the alignment source's header.
func (s *Scanner) Header() *sam.Header {
	return s.header
}

// Mates returns the resolver used to find read mates.  It shares the
// MateCache filled while scanning.
func (s *Scanner) Mates() *bamprovider.MateResolver {
	return s.mates
}

// RandomRegions draws count regions of the given length from the scanner's
// random source, so that a run is reproducible from its seed.
func (s *Scanner) RandomRegions(count, length int) ([]interval.Region, error) {
	return interval.RandomRegions(s.rng, s.header, count, length)
}

// Stats returns the activity counters.
func (s *Scanner) Stats() Stats {
	st := s.stats
	st.Pool = s.pools.Stats()
	st.Mates = s.mates.Stats()
	st.MateCache = s.cache.Stats()
	return st
}

// Release returns a site obtained from Scan to the scanner's pools.  The site
// must not be used afterwards.
func (s *Scanner) Release(site *pileup.Site) {
	s.pools.Release(site)
}

// Scan visits regions in order and returns the sites retained by f, after
// passing them through b.  A nil or empty regions means the whole file.
// Either filter may be nil; a nil f retains every site.  The caller owns the
// returned sites, and may hand them back with Release.
func (s *Scanner) Scan(ctx context.Context, regions []interval.Region, f pileup.SiteFilter, b pileup.BatchFilter) ([]*pileup.Site, error) {
	if f == nil {
		f = pileup.KeepAll
	}
	s.retained = nil
	if len(regions) == 0 {
		log.Debug.Printf("snp.Scan: scanning whole file")
		if err := s.scanRegion(ctx, nil, f); err != nil {
			return nil, err
		}
	} else {
		var err error
		if regions, err = interval.Resolve(regions, s.header); err != nil {
			return nil, err
		}
		for i := range regions {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			log.Debug.Printf("snp.Scan: scanning %v", regions[i])
			if err := s.scanRegion(ctx, &regions[i], f); err != nil {
				return nil, err
			}
		}
	}
	result := s.retained
	s.retained = nil
	if b != nil {
		result = b.FilterBatch(result)
	}
	return result, nil
}

// scanRegion scans one region, or the whole file if region is nil.
func (s *Scanner) scanRegion(ctx context.Context, region *interval.Region, f pileup.SiteFilter) (err error) {
	lo, hi := PosType(0), PosType(PosTypeMax)
	if region != nil {
		lo, hi = region.Start0(), region.End0()
	}
	buf := bamprovider.NewLookaheadBuffer(s.p.NewIterator(region), s.opts.ReadAhead, s.cache)
	defer func() {
		s.dropTrackers()
		if e := buf.Close(); e != nil && err == nil {
			err = e
		}
	}()

	refID := -1
	var cursor PosType
	for {
		var rec *sam.Record
		if rec, err = s.pull(ctx, buf); err != nil {
			return
		}
		// Everything before the next read's start can be finalized.  A read on
		// another reference, or the end of input, finalizes everything left.
		next := PosType(PosTypeMax)
		if rec != nil && rec.Ref.ID() == refID {
			next = PosType(rec.Pos)
		}
		if refID >= 0 {
			s.advance(refID, cursor, next, lo, hi, f)
		}
		if rec == nil {
			return
		}
		if rec.Ref.ID() != refID {
			s.dropTrackers()
			refID = rec.Ref.ID()
		}
		cursor = PosType(rec.Pos)

		t := s.trackers.Get()
		var ok bool
		if ok, err = t.init(rec); err != nil {
			s.trackers.Put(t)
			return
		}
		if !ok {
			s.trackers.Put(t)
			continue
		}
		s.active = append(s.active, t)
	}
}

// pull returns the next record passing the read filters, or nil at the end of
// input.
func (s *Scanner) pull(ctx context.Context, buf *bamprovider.LookaheadBuffer) (*sam.Record, error) {
	opts := &s.opts
	for buf.HasNext() {
		rec := buf.Next()
		s.stats.RecordsRead++
		if opts.ProgressInterval > 0 && s.stats.RecordsRead%int64(opts.ProgressInterval) == 0 {
			log.Printf("snp.Scan: %d records read, %d used, %d sites retained", s.stats.RecordsRead, s.stats.RecordsUsed, s.stats.SitesRetained)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		refID := rec.Ref.ID()
		switch {
		case rec.Flags&sam.Duplicate != 0:
			s.stats.Duplicates++
			continue
		case rec.Flags&sam.Unmapped != 0 || refID < 0 || rec.Pos < 0 || len(rec.Cigar) == 0:
			s.stats.Unmapped++
			continue
		case int(rec.MapQ) < opts.Mapq:
			s.stats.LowMapq++
			continue
		case refID >= len(s.refIDs) || s.refIDs[refID] < 0:
			s.stats.UnknownRef++
			continue
		case opts.FlagExclude&int(rec.Flags) != 0:
			s.stats.FlagExcluded++
			continue
		case s.strand != pileup.StrandNone && pileup.GetStrand(rec) != s.strand:
			s.stats.StrandExcluded++
			continue
		}
		if opts.RequireMate {
			mate, err := s.mates.Mate(rec)
			if err != nil {
				return nil, err
			}
			if mate == nil {
				s.stats.MissingMate++
				continue
			}
		}
		clipQuals(rec, opts.Clip)
		s.stats.RecordsUsed++
		return rec, nil
	}
	return nil, buf.Err()
}

// advance builds the pileups of refID's positions in [from, to) intersected
// with [lo, hi), stopping early once no tracker is active.  If to is
// PosTypeMax, every tracker is dropped afterwards.
func (s *Scanner) advance(refID int, from, to, lo, hi PosType, f pileup.SiteFilter) {
	end := minPosType(to, hi)
	for pos := maxPosType(from, lo); pos < end && len(s.active) > 0; pos++ {
		s.pileupAt(refID, pos, f)
	}
	if to == PosTypeMax {
		s.dropTrackers()
	}
}

func (s *Scanner) dropTrackers() {
	for i, t := range s.active {
		s.trackers.Put(t)
		s.active[i] = nil
	}
	s.active = s.active[:0]
}

// presize returns the initial array length for a position's pileup:
// twice the running average depth, clamped to [MinBufferDepth, MaxDepth+1].
func (s *Scanner) presize() int {
	avg := 0
	if s.depthN > 0 {
		avg = int(s.depthSum / s.depthN)
	}
	maxLen := s.opts.MaxDepth + 1
	return clampInt(2*avg, minInt(s.opts.MinBufferDepth, maxLen), maxLen)
}

// pileupAt builds the pileup at pos from the active trackers, and hands it to
// f.
func (s *Scanner) pileupAt(refID int, pos PosType, f pileup.SiteFilter) {
	s.stats.PositionsVisited++
	minBaseQual := byte(s.opts.MinBaseQual)
	var site *pileup.Site
	cnt := 0
	kept := s.active[:0]
	for _, t := range s.active {
		offset, state := t.advance(pos)
		if state == trackerDone {
			s.trackers.Put(t)
			continue
		}
		kept = append(kept, t)
		if state != trackerCovers {
			continue
		}
		qual := baseQual(t.rec, offset)
		if qual < minBaseQual {
			continue
		}
		if site == nil {
			if site = s.pools.NewSite(s.presize()); site == nil {
				// Unreachable while presize stays within the pool's ladder; the
				// pool has counted the anomaly.
				continue
			}
		}
		cnt++
		s.admit(site, cnt, t.rec, offset, qual)
	}
	for i := len(kept); i < len(s.active); i++ {
		s.active[i] = nil
	}
	s.active = kept
	if site == nil {
		return
	}
	if site.Depth == 0 {
		s.pools.Release(site)
		return
	}
	refBase := s.refCur.Base(s.refIDs[refID], int(pos))
	if refBase == 'N' {
		s.stats.RefNSkipped++
		s.pools.Release(site)
		return
	}
	s.depthSum += int64(site.Depth)
	s.depthN++
	site.RefID = refID
	site.RefName = s.refNames[refID]
	site.Pos = pos + 1
	site.RefBase = refBase
	site.Finalize()
	s.stats.SitesEmitted++
	if !f.Filter(site) {
		s.pools.Release(site)
		return
	}
	if s.opts.MaxSites > 0 && len(s.retained) >= s.opts.MaxSites {
		s.stats.SitesDropped++
		s.pools.Release(site)
		return
	}
	s.stats.SitesRetained++
	s.retained = append(s.retained, site)
}

// admit offers the cnt'th candidate of the current position (1-based) to
// site.  Below MaxDepth every candidate is appended.  At MaxDepth, with
// sampling enabled, the candidate replaces a uniformly chosen slot with
// probability MaxDepth/cnt, so that each of n candidates ends up in the site
// with probability MaxDepth/n.
func (s *Scanner) admit(site *pileup.Site, cnt int, rec *sam.Record, offset PosType, qual byte) {
	s.stats.Candidates++
	base := pileup.Seq8ToEnumTable[seqBase(rec.Seq, int(offset))]
	maxDepth := s.opts.MaxDepth
	if site.Depth < maxDepth {
		if site.Depth == cap(site.Reads) && !s.pools.Grow(site) {
			s.stats.ReservoirDiscarded++
			return
		}
		site.Reads = append(site.Reads, rec)
		site.Bases = append(site.Bases, base)
		site.Quals = append(site.Quals, qual)
		site.Offsets = append(site.Offsets, offset)
		site.Depth++
		return
	}
	if !s.opts.DepthSampling {
		s.stats.ReservoirDiscarded++
		return
	}
	j := s.rng.Intn(cnt)
	if j >= maxDepth {
		s.stats.ReservoirDiscarded++
		return
	}
	s.stats.ReservoirReplaced++
	site.Reads[j] = rec
	site.Bases[j] = base
	site.Quals[j] = qual
	site.Offsets[j] = offset
}
