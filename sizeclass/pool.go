package sizeclass

import (
	"fmt"
	"sort"
)

// Ladder returns the size classes for a pool serving lengths in
// [minLen, maxLen].  The ladder starts at minLen and doubles until it would
// reach or pass maxLen; the final class is always exactly maxLen.  For
// example, Ladder(100, 1001) is {100, 200, 400, 800, 1001}.
func Ladder(minLen, maxLen int) []int {
	if minLen <= 0 {
		minLen = 1
	}
	if maxLen < minLen {
		maxLen = minLen
	}
	var classes []int
	for n := minLen; n < maxLen; n *= 2 {
		classes = append(classes, n)
	}
	return append(classes, maxLen)
}

// Stats counts pool activity.  Anomalies counts Acquire calls which could not
// be served by any class, and Release calls with a slice matching no class;
// both indicate a logic error in the caller but never interrupt processing.
type Stats struct {
	Allocs    int64
	Reuses    int64
	Releases  int64
	Anomalies int64
}

// Add accumulates s2 into s.
func (s *Stats) Add(s2 Stats) {
	s.Allocs += s2.Allocs
	s.Reuses += s2.Reuses
	s.Releases += s2.Releases
	s.Anomalies += s2.Anomalies
}

func (s Stats) String() string {
	return fmt.Sprintf("allocs=%d reuses=%d releases=%d anomalies=%d", s.Allocs, s.Reuses, s.Releases, s.Anomalies)
}

// Pool is a segregated free-list allocator for []T.  It is not safe for
// concurrent use; each scan owns its own pools.
//
// Every slice obtained from Acquire is owned by the caller until it is passed
// to Release exactly once.  The caller must not retain any reference to a
// released slice.
type Pool[T any] struct {
	classes []int
	// free[i] is a LIFO stack of released slices with capacity classes[i].
	free  [][][]T
	stats Stats
}

// NewPool creates a pool whose size classes are Ladder(minLen, maxLen).
func NewPool[T any](minLen, maxLen int) *Pool[T] {
	classes := Ladder(minLen, maxLen)
	return &Pool[T]{
		classes: classes,
		free:    make([][][]T, len(classes)),
	}
}

// Classes returns the pool's size-class ladder.  The caller must not modify
// it.
func (p *Pool[T]) Classes() []int {
	return p.classes
}

// MaxLen returns the largest length Acquire can serve.
func (p *Pool[T]) MaxLen() int {
	return p.classes[len(p.classes)-1]
}

// ClassOf returns the length Acquire(minLen) would return, or -1 if minLen
// exceeds every class.
func (p *Pool[T]) ClassOf(minLen int) int {
	i := sort.SearchInts(p.classes, minLen)
	if i == len(p.classes) {
		return -1
	}
	return p.classes[i]
}

// Acquire returns a slice whose length is the smallest size class >= minLen.
// A previously released slice is returned when one is available; otherwise a
// fresh slice of exactly the class length is allocated.  If minLen exceeds
// every class, an anomaly is counted and nil is returned.
func (p *Pool[T]) Acquire(minLen int) []T {
	i := sort.SearchInts(p.classes, minLen)
	if i == len(p.classes) {
		p.stats.Anomalies++
		return nil
	}
	fl := p.free[i]
	if last := len(fl) - 1; last >= 0 {
		buf := fl[last]
		fl[last] = nil
		p.free[i] = fl[:last]
		p.stats.Reuses++
		return buf
	}
	p.stats.Allocs++
	return make([]T, p.classes[i])
}

// Release returns buf to the free list of the class whose length equals
// cap(buf).  Slices matching no class are dropped and counted as anomalies.
// The contents are cleared so that pooled slices do not keep pointers alive.
func (p *Pool[T]) Release(buf []T) {
	n := cap(buf)
	i := sort.SearchInts(p.classes, n)
	if i == len(p.classes) || p.classes[i] != n {
		p.stats.Anomalies++
		return
	}
	buf = buf[:n]
	clear(buf)
	p.free[i] = append(p.free[i], buf)
	p.stats.Releases++
}

// Grow returns a slice one class larger than buf (or the class serving
// minLen, whichever is larger), with buf's contents copied over.  buf is
// released.  If no larger class exists, buf is returned unchanged.
func (p *Pool[T]) Grow(buf []T, minLen int) []T {
	if minLen <= cap(buf) {
		minLen = cap(buf) + 1
	}
	bigger := p.Acquire(minLen)
	if bigger == nil {
		return buf
	}
	copy(bigger, buf[:cap(buf)])
	p.Release(buf)
	return bigger
}

// FreeLen returns the number of slices currently on the free list of the
// class serving minLen.
func (p *Pool[T]) FreeLen(minLen int) int {
	i := sort.SearchInts(p.classes, minLen)
	if i == len(p.classes) {
		return 0
	}
	return len(p.free[i])
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool[T]) Stats() Stats {
	return p.stats
}
