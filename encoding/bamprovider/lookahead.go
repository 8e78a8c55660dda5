package bamprovider

import (
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/pilescan/circular"
	"github.com/grailbio/pilescan/encoding/bampair"
)

// DefaultReadAhead is the default LookaheadBuffer capacity.
const DefaultReadAhead = 1024

// LookaheadBuffer is a fixed-capacity ring of records read ahead from an
// Iterator.  Every record is added to the MateCache (if any) when it enters
// the buffer, so a read's mate can be found while the mate is still queued.
// Thread compatible.
type LookaheadBuffer struct {
	iter    Iterator
	cache   *bampair.MateCache
	buf     []*sam.Record
	mask    int
	head    int // index of the oldest buffered record
	n       int // number of buffered records
	srcDone bool
}

// NewLookaheadBuffer wraps iter.  capacity is rounded up to a power of two;
// nonpositive values mean DefaultReadAhead.  cache may be nil.  The buffer is
// filled before NewLookaheadBuffer returns.
func NewLookaheadBuffer(iter Iterator, capacity int, cache *bampair.MateCache) *LookaheadBuffer {
	if capacity <= 0 {
		capacity = DefaultReadAhead
	}
	capacity = circular.CeilExp2(capacity)
	b := &LookaheadBuffer{
		iter:  iter,
		cache: cache,
		buf:   make([]*sam.Record, capacity),
		mask:  capacity - 1,
	}
	for b.n < len(b.buf) && b.pull() {
	}
	return b
}

// pull reads one record from the source into the slot after the newest one.
func (b *LookaheadBuffer) pull() bool {
	if b.srcDone {
		return false
	}
	if !b.iter.Scan() {
		b.srcDone = true
		return false
	}
	rec := b.iter.Record()
	if b.cache != nil {
		b.cache.Cache(rec)
	}
	b.buf[(b.head+b.n)&b.mask] = rec
	b.n++
	return true
}

// HasNext reports whether a record remains, either buffered or in the source.
// Since the buffer is refilled eagerly, the source is exhausted whenever the
// buffer is empty.
func (b *LookaheadBuffer) HasNext() bool {
	return b.n > 0
}

// Peek returns the oldest buffered record without consuming it, or nil.
func (b *LookaheadBuffer) Peek() *sam.Record {
	if b.n == 0 {
		return nil
	}
	return b.buf[b.head]
}

// Next consumes and returns the oldest buffered record, then refills the
// freed slot from the source.  It returns nil if no record remains.
func (b *LookaheadBuffer) Next() *sam.Record {
	if b.n == 0 {
		return nil
	}
	rec := b.buf[b.head]
	b.buf[b.head] = nil
	b.head = (b.head + 1) & b.mask
	b.n--
	b.pull()
	return rec
}

// Len returns the number of buffered records.
func (b *LookaheadBuffer) Len() int {
	return b.n
}

// Cap returns the buffer capacity.
func (b *LookaheadBuffer) Cap() int {
	return len(b.buf)
}

// Err returns the source iterator's error.
func (b *LookaheadBuffer) Err() error {
	return b.iter.Err()
}

// Close closes the source iterator.  Buffered records are dropped.
func (b *LookaheadBuffer) Close() error {
	for i := range b.buf {
		b.buf[i] = nil
	}
	b.n = 0
	return b.iter.Close()
}
