package reference

// BasesPerWord is the number of bases packed into each uint64 word.
const BasesPerWord = 32

// encodeTable maps an ASCII letter to its 2-bit code, or to invalidCode if
// the letter is not one of A/C/G/T (either case).
var encodeTable [256]byte

// decodeTable is the inverse of encodeTable, restricted to uppercase.
var decodeTable = [4]byte{'A', 'C', 'G', 'T'}

const invalidCode = 0xff

func init() {
	for i := range encodeTable {
		encodeTable[i] = invalidCode
	}
	for code, b := range decodeTable {
		encodeTable[b] = byte(code)
		encodeTable[b+'a'-'A'] = byte(code)
	}
}

// PackedSequence is a run of A/C/G/T bases starting at 0-based position
// Start of its chromosome.  Base i of the run occupies bits [2*(i%32),
// 2*(i%32)+2) of Words[i/32].  len(Words) == ceil(Length/32).
type PackedSequence struct {
	Start  int
	Length int
	Words  []uint64
}

// End returns the 0-based exclusive end of the run.
func (s *PackedSequence) End() int {
	return s.Start + s.Length
}

// Contains reports whether chromosome position pos0 lies in the run.
func (s *PackedSequence) Contains(pos0 int) bool {
	return pos0 >= s.Start && pos0 < s.Start+s.Length
}

// At returns the uppercase base at offset i within the run.  i must be in
// [0, Length).
func (s *PackedSequence) At(i int) byte {
	w := s.Words[i/BasesPerWord]
	return decodeTable[(w>>(2*uint(i%BasesPerWord)))&3]
}

// appendBase extends the run by one base, given as a 2-bit code.
func (s *PackedSequence) appendBase(code byte) {
	shift := 2 * uint(s.Length%BasesPerWord)
	if shift == 0 {
		s.Words = append(s.Words, 0)
	}
	s.Words[len(s.Words)-1] |= uint64(code) << shift
	s.Length++
}

// Pack encodes seq, whose first letter is at chromosome position start, as a
// list of PackedSequences covering its A/C/G/T runs.
func Pack(seq []byte, start int) []PackedSequence {
	var p packer
	p.pos = start
	p.add(seq)
	return p.finish()
}

// packer accumulates the runs of one chromosome from line-sized pieces.
type packer struct {
	pos  int
	cur  *PackedSequence
	seqs []PackedSequence
}

func (p *packer) add(line []byte) {
	for _, b := range line {
		code := encodeTable[b]
		if code == invalidCode {
			p.closeRun()
		} else {
			if p.cur == nil {
				p.seqs = append(p.seqs, PackedSequence{Start: p.pos})
				p.cur = &p.seqs[len(p.seqs)-1]
			}
			p.cur.appendBase(code)
		}
		p.pos++
	}
}

func (p *packer) closeRun() {
	if p.cur != nil {
		// Release excess capacity; genomes are large.
		p.cur.Words = append([]uint64(nil), p.cur.Words...)
		p.cur = nil
	}
}

// finish closes the open run and returns the runs seen so far.  pos is left
// at the chromosome length.
func (p *packer) finish() []PackedSequence {
	p.closeRun()
	seqs := p.seqs
	p.seqs = nil
	return seqs
}
