package bamprovider

import (
	"fmt"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/pilescan/encoding/bampair"
)

// MateStats counts MateResolver activity.
type MateStats struct {
	// Lookups is the number of Mate calls for reads with a mapped mate.
	Lookups int64
	// CacheHits is the number of lookups answered by the MateCache.
	CacheHits int64
	// SourceQueries is the number of lookups that fell back to the Provider,
	// and SourceHits the number of those that found the mate.
	SourceQueries int64
	SourceHits    int64
}

func (s MateStats) String() string {
	return fmt.Sprintf("lookups:%d cachehits:%d sourcequeries:%d sourcehits:%d",
		s.Lookups, s.CacheHits, s.SourceQueries, s.SourceHits)
}

// MateResolver finds the mate of a read, first in a MateCache and then by
// querying the Provider for the one-base region at the mate position.
// Thread compatible.
type MateResolver struct {
	p     Provider
	cache *bampair.MateCache
	stats MateStats
}

// NewMateResolver creates a MateResolver.  cache must be the MateCache fed by
// the LookaheadBuffer the caller reads through.
func NewMateResolver(p Provider, cache *bampair.MateCache) *MateResolver {
	return &MateResolver{p: p, cache: cache}
}

// Cache returns the MateCache.
func (m *MateResolver) Cache() *bampair.MateCache {
	return m.cache
}

// Stats returns the activity counters.
func (m *MateResolver) Stats() MateStats {
	return m.stats
}

// hasMappedMate reports whether r's mate should exist at a known position.
func hasMappedMate(r *sam.Record) bool {
	return r.Flags&sam.Paired != 0 && r.Flags&sam.MateUnmapped == 0 &&
		r.MateRef != nil && r.MatePos >= 0
}

// sameAlignment reports whether a and b are the same alignment of one read.
func sameAlignment(a, b *sam.Record) bool {
	const readMask = sam.Read1 | sam.Read2
	return a == b || (a.Pos == b.Pos && a.Flags&readMask == b.Flags&readMask)
}

// Mate returns r's mate, or nil if r has no mapped mate or the mate cannot be
// found.  The error is non-nil only if the Provider query failed.
func (m *MateResolver) Mate(r *sam.Record) (*sam.Record, error) {
	if !hasMappedMate(r) {
		return nil, nil
	}
	m.stats.Lookups++
	if mate := m.cache.FindMate(r); mate != nil {
		m.stats.CacheHits++
		return mate, nil
	}
	m.stats.SourceQueries++
	iter := NewRefIterator(m.p, r.MateRef.Name(), r.MatePos, r.MatePos+1)
	var mate *sam.Record
	for iter.Scan() {
		rec := iter.Record()
		if rec.Name == r.Name && rec.Pos == r.MatePos && !sameAlignment(rec, r) {
			mate = rec
			break
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	if mate != nil {
		m.stats.SourceHits++
	}
	return mate, nil
}
