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
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/pilescan/sizeclass"
)

// SitePool recycles Site structs.
type SitePool = sizeclass.ObjectPool[Site]

// NewSitePool creates a SitePool.
func NewSitePool() *SitePool {
	return sizeclass.NewObjectPool(func() *Site { return &Site{} }, (*Site).Reset)
}

// Pools holds the per-scan allocators backing Site arrays.  All four array
// pools share one size-class ladder, so a Site's arrays always have equal
// capacity.  Not safe for concurrent use.
type Pools struct {
	Reads   *sizeclass.Pool[*sam.Record]
	Bases   *sizeclass.Pool[byte]
	Quals   *sizeclass.Pool[byte]
	Offsets *sizeclass.Pool[PosType]
	Sites   *SitePool
}

// NewPools creates Pools with size classes Ladder(minLen, maxLen).
func NewPools(minLen, maxLen int) *Pools {
	return &Pools{
		Reads:   sizeclass.NewPool[*sam.Record](minLen, maxLen),
		Bases:   sizeclass.NewPool[byte](minLen, maxLen),
		Quals:   sizeclass.NewPool[byte](minLen, maxLen),
		Offsets: sizeclass.NewPool[PosType](minLen, maxLen),
		Sites:   NewSitePool(),
	}
}

// NewSite returns an empty Site whose arrays have capacity of at least n.  It
// returns nil if n exceeds the largest size class.
func (p *Pools) NewSite(n int) *Site {
	if p.Reads.ClassOf(n) < 0 {
		p.Reads.Acquire(n) // count the anomaly
		return nil
	}
	s := p.Sites.Get()
	s.Reads = p.Reads.Acquire(n)[:0]
	s.Bases = p.Bases.Acquire(n)[:0]
	s.Quals = p.Quals.Acquire(n)[:0]
	s.Offsets = p.Offsets.Acquire(n)[:0]
	return s
}

// Grow moves s's arrays to the next size class, keeping their contents.  It
// returns false if s is already at the largest class.
func (p *Pools) Grow(s *Site) bool {
	n := cap(s.Reads)
	if n >= p.Reads.MaxLen() {
		return false
	}
	l := len(s.Reads)
	s.Reads = p.Reads.Grow(s.Reads, n+1)[:l]
	s.Bases = p.Bases.Grow(s.Bases, n+1)[:l]
	s.Quals = p.Quals.Grow(s.Quals, n+1)[:l]
	s.Offsets = p.Offsets.Grow(s.Offsets, n+1)[:l]
	return true
}

// Release returns s and its arrays to the pools.  s must not be used
// afterwards.
func (p *Pools) Release(s *Site) {
	p.Reads.Release(s.Reads)
	p.Bases.Release(s.Bases)
	p.Quals.Release(s.Quals)
	p.Offsets.Release(s.Offsets)
	s.Reads, s.Bases, s.Quals, s.Offsets = nil, nil, nil, nil
	p.Sites.Put(s)
}

// Stats returns the summed counters of the array pools and the site pool.
func (p *Pools) Stats() sizeclass.Stats {
	var st sizeclass.Stats
	st.Add(p.Reads.Stats())
	st.Add(p.Bases.Stats())
	st.Add(p.Quals.Stats())
	st.Add(p.Offsets.Stats())
	st.Add(p.Sites.Stats())
	return st
}
