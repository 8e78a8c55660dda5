package bamprovider

import (
	"fmt"
	"sync"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/pilescan/interval"
)

// FakeProvider is only for unittests. It yields the given records.
type FakeProvider struct {
	header *sam.Header
	recs   []*sam.Record

	mu      sync.Mutex
	queries int
}

type fakeIterator struct {
	recs []*sam.Record
	rec  *sam.Record

	// refID < 0 means no filtering.
	refID          int
	start0, limit0 int
	err            error
}

// NewFakeProvider creates a provider that returns "header" in response to a
// GetHeader() call, and recs by NewIterator calls.  recs must be sorted by
// coordinate.
func NewFakeProvider(header *sam.Header, recs []*sam.Record) *FakeProvider {
	return &FakeProvider{header: header, recs: recs}
}

// GetHeader implements the Provider interface. It returns the header passed to
// the constructor.
func (b *FakeProvider) GetHeader() (*sam.Header, error) {
	return b.header, nil
}

// Close implements the Provider interface.
func (b *FakeProvider) Close() error {
	return nil
}

// Queries returns the number of NewIterator calls so far.
func (b *FakeProvider) Queries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queries
}

// NewIterator implements the Provider interface.
func (b *FakeProvider) NewIterator(region *interval.Region) Iterator {
	b.mu.Lock()
	b.queries++
	b.mu.Unlock()
	iter := &fakeIterator{recs: b.recs, refID: -1}
	if region == nil {
		return iter
	}
	ref := RefByName(b.header, region.RefName)
	if ref == nil {
		return NewErrorIterator(fmt.Errorf("bamprovider: reference %s not found", region.RefName))
	}
	iter.refID = ref.ID()
	iter.start0, iter.limit0 = int(region.Start0()), int(region.End0())
	return iter
}

// Err implements the Iterator interface.
func (i *fakeIterator) Err() error {
	return i.err
}

// Close implements the Iterator interface.
func (i *fakeIterator) Close() error {
	return i.err
}

func (i *fakeIterator) Scan() bool {
	for {
		if len(i.recs) == 0 {
			return false
		}
		i.rec = i.recs[0]
		i.recs = i.recs[1:]
		if i.refID < 0 {
			return true
		}
		if i.rec.Ref.ID() == i.refID && overlaps(i.rec, i.start0, i.limit0) {
			return true
		}
	}
}

func (i *fakeIterator) Record() *sam.Record {
	// Return a copy so that the code under test cannot alter the
	// original test input data.
	copy := sam.GetFromFreePool()
	*copy = *i.rec
	copy.Qual = append([]byte(nil), i.rec.Qual...)
	return copy
}
