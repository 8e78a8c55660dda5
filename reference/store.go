package reference

import (
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/pilescan/encoding/fasta"
)

// Chrom is one packed chromosome.
type Chrom struct {
	Name   string
	Length int
	Seqs   []PackedSequence
}

// Store is a read-only packed reference genome.  It is safe for concurrent
// use; Cursors are not.
type Store struct {
	chroms []Chrom
	ids    map[string]int
}

// New parses FASTA data from r into a Store.  Chromosome IDs follow the order
// of appearance in r.
func New(r io.Reader) (*Store, error) {
	s := fasta.NewScanner(r)
	var (
		chroms []Chrom
		p      packer
	)
	flush := func() {
		c := &chroms[len(chroms)-1]
		c.Length = p.pos
		c.Seqs = p.finish()
	}
	for s.Scan() {
		if s.Header() {
			if len(chroms) > 0 {
				flush()
			}
			chroms = append(chroms, Chrom{Name: s.Name()})
			p = packer{}
			continue
		}
		p.add(s.Bases())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if len(chroms) == 0 {
		return nil, errors.E(errors.Invalid, "reference.New: empty FASTA file")
	}
	flush()
	return NewFromChroms(chroms)
}

// NewFromChroms creates a Store from already-packed chromosomes.  The
// sequences of each chromosome must be sorted and disjoint.
func NewFromChroms(chroms []Chrom) (*Store, error) {
	st := &Store{
		chroms: chroms,
		ids:    make(map[string]int, len(chroms)),
	}
	for i := range chroms {
		c := &chroms[i]
		if _, ok := st.ids[c.Name]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("reference: duplicate sequence name %s", c.Name))
		}
		st.ids[c.Name] = i
		prevEnd := 0
		for j := range c.Seqs {
			seq := &c.Seqs[j]
			if seq.Start < prevEnd || seq.End() > c.Length || seq.Length <= 0 ||
				len(seq.Words) != (seq.Length+BasesPerWord-1)/BasesPerWord {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("reference: bad packed sequence %d [%d, %d) on %s",
					j, seq.Start, seq.End(), c.Name))
			}
			prevEnd = seq.End()
		}
	}
	return st, nil
}

// NumRefs returns the number of chromosomes.
func (st *Store) NumRefs() int {
	return len(st.chroms)
}

// RefID returns the ID of the named chromosome.
func (st *Store) RefID(name string) (int, bool) {
	id, ok := st.ids[name]
	return id, ok
}

// RefName returns the name of chromosome refID.
func (st *Store) RefName(refID int) string {
	return st.chroms[refID].Name
}

// Len returns the length of chromosome refID, including gaps.
func (st *Store) Len(refID int) int {
	return st.chroms[refID].Length
}

// Chrom returns chromosome refID.  The result must not be modified.
func (st *Store) Chrom(refID int) *Chrom {
	return &st.chroms[refID]
}

// Base returns the uppercase base at 0-based position pos0 of chromosome
// refID, or 'N' if the position is in a gap or out of range.
func (st *Store) Base(refID, pos0 int) byte {
	if refID < 0 || refID >= len(st.chroms) {
		return 'N'
	}
	seqs := st.chroms[refID].Seqs
	// First run ending after pos0.
	i := sort.Search(len(seqs), func(i int) bool { return seqs[i].End() > pos0 })
	if i == len(seqs) || pos0 < seqs[i].Start {
		return 'N'
	}
	return seqs[i].At(pos0 - seqs[i].Start)
}

// Get returns bases [start0, end0) of chromosome refID, with gaps and
// out-of-range positions as 'N'.
func (st *Store) Get(refID, start0, end0 int) []byte {
	if end0 <= start0 {
		return nil
	}
	out := make([]byte, end0-start0)
	c := st.NewCursor()
	for pos := start0; pos < end0; pos++ {
		out[pos-start0] = c.Base(refID, pos)
	}
	return out
}

// NewCursor returns a Cursor over st.
func (st *Store) NewCursor() *Cursor {
	return &Cursor{st: st, refID: -1}
}

// Cursor answers base queries like Store.Base, but remembers the run it last
// visited.  Queries that move forward on the same chromosome cost O(1)
// amortized; other queries fall back to a binary search.
type Cursor struct {
	st      *Store
	refID   int
	seqs    []PackedSequence
	idx     int // index of the first run with End() > lastPos
	lastPos int
}

// Base returns the uppercase base at pos0 of chromosome refID, or 'N'.
func (c *Cursor) Base(refID, pos0 int) byte {
	if refID != c.refID || pos0 < c.lastPos {
		if refID < 0 || refID >= len(c.st.chroms) {
			return 'N'
		}
		c.refID = refID
		c.seqs = c.st.chroms[refID].Seqs
		c.idx = sort.Search(len(c.seqs), func(i int) bool { return c.seqs[i].End() > pos0 })
	} else {
		for c.idx < len(c.seqs) && c.seqs[c.idx].End() <= pos0 {
			c.idx++
		}
	}
	c.lastPos = pos0
	if c.idx == len(c.seqs) {
		return 'N'
	}
	seq := &c.seqs[c.idx]
	if pos0 < seq.Start {
		return 'N'
	}
	return seq.At(pos0 - seq.Start)
}
