package bampair

import (
	"fmt"

	"github.com/grailbio/hts/sam"
)

const (
	// DefaultBuckets is the default number of MateCache buckets.
	DefaultBuckets = 1 << 16
	// DefaultBucketCap is the default number of records held per bucket.
	DefaultBucketCap = 8
)

// CacheStats counts MateCache activity.
type CacheStats struct {
	// Cached is the number of Cache calls that stored a record.
	Cached int64
	// Evicted is the number of stored records that were overwritten.
	Evicted int64
	// Hits and Misses count FindMate calls.  Calls for reads without a mate
	// position are not counted.
	Hits   int64
	Misses int64
}

func (s CacheStats) String() string {
	return fmt.Sprintf("cached:%d evicted:%d hits:%d misses:%d", s.Cached, s.Evicted, s.Hits, s.Misses)
}

// MateCache is a bounded cache of recently seen reads, used to find a read's
// mate.  Each bucket is a ring of fixed capacity; once full, a new record
// overwrites the oldest one in its bucket.  Thread compatible.
type MateCache struct {
	bucketCap int
	recs      []*sam.Record // bucket b occupies recs[b*bucketCap:(b+1)*bucketCap]
	next      []int         // per-bucket write cursor
	n         int
	stats     CacheStats
}

// NewMateCache creates a cache of buckets rings holding bucketCap records
// each.  Nonpositive arguments are replaced by the defaults.
func NewMateCache(buckets, bucketCap int) *MateCache {
	if buckets <= 0 {
		buckets = DefaultBuckets
	}
	if bucketCap <= 0 {
		bucketCap = DefaultBucketCap
	}
	return &MateCache{
		bucketCap: bucketCap,
		recs:      make([]*sam.Record, buckets*bucketCap),
		next:      make([]int, buckets),
	}
}

func (c *MateCache) bucket(pos int) []*sam.Record {
	b := pos % len(c.next)
	return c.recs[b*c.bucketCap : (b+1)*c.bucketCap]
}

// Cache stores r in the bucket for r.Pos.  Reads without a position are
// ignored.
func (c *MateCache) Cache(r *sam.Record) {
	if r.Pos < 0 {
		return
	}
	b := r.Pos % len(c.next)
	bucket := c.bucket(r.Pos)
	slot := c.next[b]
	if bucket[slot] != nil {
		c.stats.Evicted++
	} else {
		c.n++
	}
	bucket[slot] = r
	c.next[b] = (slot + 1) % c.bucketCap
	c.stats.Cached++
}

// FindMate returns the most recently cached record with r's name whose
// position differs from r's, or nil.  A mate aligned at r's own position is
// indistinguishable from r here and is left to the caller's direct query.  It
// returns nil immediately if r has no mate position.
func (c *MateCache) FindMate(r *sam.Record) *sam.Record {
	if r.MatePos < 0 {
		return nil
	}
	b := r.MatePos % len(c.next)
	bucket := c.bucket(r.MatePos)
	slot := c.next[b]
	for i := 0; i < c.bucketCap; i++ {
		slot--
		if slot < 0 {
			slot = c.bucketCap - 1
		}
		e := bucket[slot]
		if e == nil {
			// Buckets fill in order, so nothing older remains.
			break
		}
		if e.Name == r.Name && e.Pos != r.Pos {
			c.stats.Hits++
			return e
		}
	}
	c.stats.Misses++
	return nil
}

// Len returns the number of records currently cached.
func (c *MateCache) Len() int {
	return c.n
}

// Stats returns the activity counters.
func (c *MateCache) Stats() CacheStats {
	return c.stats
}

// Reset empties the cache.  Counters are kept.
func (c *MateCache) Reset() {
	for i := range c.recs {
		c.recs[i] = nil
	}
	for i := range c.next {
		c.next[i] = 0
	}
	c.n = 0
}
