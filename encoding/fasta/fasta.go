// Package fasta contains code for parsing FASTA files.
// See http://www.htslib.org/doc/faidx.html.  Briefly, FASTA files consist of a
// number of named sequences that may be interrupted by newlines.  For example:
//
// >chr7
// ACGTAC
// GAGGAC
// GCG
// >chr8
// ACGT
//
// Note: Sequence names are defined to be the stretch of characters excluding
// spaces immediately after '>'.  Any text appear after a space are ignored.
// For example, '>chr1 A viral sequence' becomes 'chr1'.
//
// Scanner streams a FASTA file one line at a time, so that whole-genome
// references can be converted to a compact representation without ever being
// held in memory as text.  New loads all sequences into memory and is meant
// for small inputs.
package fasta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	// maxLineLen bounds the length of a single FASTA line.  Reference FASTAs
	// are normally wrapped at 60-80 columns, but unwrapped files exist.
	maxLineLen = 1024 * 1024 * 300 // 300 MB
)

// Scanner reads FASTA data line by line.  Each successful call to Scan stops at
// either a header line (Header() returns true, Name() is the new sequence's
// name) or a nonempty sequence line (Bases() returns the line contents).
//
// Typical usage:
//
//	s := fasta.NewScanner(r)
//	for s.Scan() {
//	  if s.Header() {
//	    startSequence(s.Name())
//	    continue
//	  }
//	  appendBases(s.Bases())
//	}
//	if err := s.Err(); err != nil { ... }
type Scanner struct {
	sc     *bufio.Scanner
	name   string
	nSeq   int
	header bool
	bases  []byte
	err    error
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLen)
	return &Scanner{sc: sc}
}

// Scan advances to the next header or sequence line.  It returns false at EOF
// or on error.
func (s *Scanner) Scan() bool {
	if s.err != nil {
		return false
	}
	for s.sc.Scan() {
		line := bytes.TrimRight(s.sc.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			s.name = seqNameFromHeader(line[1:])
			s.nSeq++
			s.header = true
			s.bases = nil
			return true
		}
		if s.nSeq == 0 {
			s.err = errors.Errorf("malformed FASTA file: sequence data before first header")
			return false
		}
		s.header = false
		s.bases = line
		return true
	}
	if err := s.sc.Err(); err != nil {
		s.err = errors.Wrap(err, "couldn't read FASTA data")
	}
	return false
}

func seqNameFromHeader(header []byte) string {
	if i := bytes.IndexAny(header, " \t"); i >= 0 {
		header = header[:i]
	}
	return string(header)
}

// Header reports whether the current line is a sequence header.
func (s *Scanner) Header() bool {
	return s.header
}

// Name returns the name of the sequence the current line belongs to.
func (s *Scanner) Name() string {
	return s.name
}

// SeqIndex returns the 0-based index of the current sequence, in order of
// appearance.
func (s *Scanner) SeqIndex() int {
	return s.nSeq - 1
}

// Bases returns the contents of the current sequence line.  The slice is only
// valid until the next call to Scan.
func (s *Scanner) Bases() []byte {
	return s.bases
}

// Err returns the first error encountered by Scan.
func (s *Scanner) Err() error {
	return s.err
}

// Fasta represents FASTA-formatted data, consisting of a set of named
// sequences.
type Fasta interface {
	// Get returns a substring of the given sequence name at the given
	// coordinates, which are treated as a 0-based half-open interval
	// [start, end). Get is thread-safe.
	Get(seqName string, start, end uint64) (string, error)

	// Len returns the length of the given sequence.
	Len(seqName string) (uint64, error)

	// SeqNames returns the names of all sequences, in the order of appearance in
	// the FASTA file.
	SeqNames() []string
}

type fasta struct {
	seqs     map[string]string
	seqNames []string
}

// New creates a new Fasta that holds all the FASTA data from the given reader
// in memory.
func New(r io.Reader) (Fasta, error) {
	f := &fasta{seqs: make(map[string]string)}
	s := NewScanner(r)
	var seq strings.Builder
	flush := func() {
		name := f.seqNames[len(f.seqNames)-1]
		f.seqs[name] = seq.String()
		seq.Reset()
	}
	for s.Scan() {
		if s.Header() {
			if len(f.seqNames) != 0 {
				flush()
			}
			f.seqNames = append(f.seqNames, s.Name())
			continue
		}
		seq.Write(s.Bases())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if len(f.seqNames) != 0 {
		flush()
	}
	return f, nil
}

// Get implements Fasta.Get().
func (f *fasta) Get(seqName string, start, end uint64) (string, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("sequence not found: %s", seqName)
	}
	if end <= start {
		return "", fmt.Errorf("start must be less than end")
	}
	if end > uint64(len(s)) {
		return "", errors.Errorf("invalid query range %d - %d for sequence %s with length %d",
			start, end, seqName, len(s))
	}
	return s[start:end], nil
}

// Len implements Fasta.Len().
func (f *fasta) Len(seq string) (uint64, error) {
	s, ok := f.seqs[seq]
	if !ok {
		return 0, errors.Errorf("sequence not found: %s", seq)
	}
	return uint64(len(s)), nil
}

// SeqNames implements Fasta.SeqNames().
func (f *fasta) SeqNames() []string {
	return f.seqNames
}
