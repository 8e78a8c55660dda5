package interval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
)

// PosType is the coordinate type used for genomic positions.
type PosType int32

// PosTypeMax is the largest representable position.
const PosTypeMax = math.MaxInt32

// Region is a genomic interval.  Start and End are 1-based and inclusive.
// RefID is the reference index in the SAM header, or -1 if the region has not
// been resolved against a header yet.
type Region struct {
	RefID   int
	RefName string
	Start   PosType
	End     PosType
}

// String returns the region in samtools "chr:start-end" form.
func (r Region) String() string {
	return fmt.Sprintf("%s:%d-%d", r.RefName, r.Start, r.End)
}

// Len returns the number of positions covered by r.
func (r Region) Len() int {
	return int(r.End-r.Start) + 1
}

// Start0 returns the 0-based start of r.
func (r Region) Start0() PosType {
	return r.Start - 1
}

// End0 returns the 0-based exclusive end of r.  It equals End.
func (r Region) End0() PosType {
	return r.End
}

func regionLess(a, b Region) bool {
	if a.RefID != b.RefID {
		return a.RefID < b.RefID
	}
	if a.RefName != b.RefName {
		return a.RefName < b.RefName
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.End < b.End
}

// SortAndMerge sorts regions by (RefID, RefName, Start, End), drops regions with a
// negative start or with End < Start, and merges regions on the same reference
// that overlap.  The input slice is reordered in place; the result shares its
// backing array.
func SortAndMerge(regions []Region) []Region {
	sort.SliceStable(regions, func(i, j int) bool { return regionLess(regions[i], regions[j]) })
	out := regions[:0]
	for _, r := range regions {
		if r.Start < 0 || r.End < r.Start {
			continue
		}
		if n := len(out); n > 0 {
			cur := &out[n-1]
			if cur.RefID == r.RefID && cur.RefName == r.RefName && cur.End >= r.Start {
				if r.End > cur.End {
					cur.End = r.End
				}
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		// These simple loops are better than any of the standard library
		// string-split functions when only a few tokens are expected.
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// ReadBED reads BED intervals (0-based, half-open) from r and returns them as
// unresolved 1-based regions, in file order.  Empty intervals, comment lines
// and "track"/"browser" lines are skipped.
func ReadBED(r io.Reader) ([]Region, error) {
	scanner := bufio.NewScanner(r)
	var (
		tokens   [3][]byte
		regions  []Region
		totBases int
		prevChr  string
	)
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 || tokens[0][0] == '#' {
			continue
		}
		if chr := gunsafe.BytesToString(tokens[0]); chr == "track" || chr == "browser" {
			continue
		}
		if nToken != 3 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.ReadBED: line %d has fewer tokens than expected", lineIdx))
		}
		start0, err := strconv.Atoi(gunsafe.BytesToString(tokens[1]))
		if err != nil {
			return nil, errors.E(errors.Invalid, err, fmt.Sprintf("interval.ReadBED: line %d", lineIdx))
		}
		end, err := strconv.Atoi(gunsafe.BytesToString(tokens[2]))
		if err != nil {
			return nil, errors.E(errors.Invalid, err, fmt.Sprintf("interval.ReadBED: line %d", lineIdx))
		}
		if start0 < 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.ReadBED: negative start coordinate %s on line %d", tokens[1], lineIdx))
		}
		if end < start0 || end >= PosTypeMax {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.ReadBED: invalid coordinate pair on line %d", lineIdx))
		}
		if end == start0 {
			continue
		}
		// Chromosome names repeat on consecutive lines; avoid a string copy for
		// each of them.
		if gunsafe.BytesToString(tokens[0]) != prevChr {
			prevChr = string(tokens[0])
		}
		regions = append(regions, Region{
			RefID:   -1,
			RefName: prevChr,
			Start:   PosType(start0 + 1),
			End:     PosType(end),
		})
		totBases += end - start0
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	log.Debug.Printf("BED loaded, %d interval(s), %d base(s) before merging.", len(regions), totBases)
	return regions, nil
}

// LoadBED reads the BED file at path.  Files with a .gz suffix are
// decompressed.
func LoadBED(ctx context.Context, path string) (regions []Region, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return nil, errors.E(err, path)
	}
	defer file.CloseAndReport(ctx, infile, &err)
	reader := io.Reader(infile.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return nil, errors.E(err, path)
		}
		defer func() {
			if cerr := gz.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		reader = gz
	}
	if regions, err = ReadBED(reader); err != nil {
		return nil, errors.E(err, path)
	}
	return regions, nil
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// The region [1, PosTypeMax-1] is returned if there is no positional
// restriction; Resolve clamps it to the reference length.
func ParseRegionString(region string) (result Region, err error) {
	result.RefID = -1
	if len(region) == 0 {
		err = errors.E(errors.Invalid, "interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.RefName = region
		result.Start = 1
		result.End = PosTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = errors.E(errors.Invalid, "interval.ParseRegionString: empty contig ID")
		return
	}
	result.RefName = region[0:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int64
		if pos1, err = strconv.ParseInt(rangeStr, 10, 32); err != nil {
			err = errors.E(errors.Invalid, err, "interval.ParseRegionString")
			return
		}
		if pos1 <= 0 {
			err = errors.E(errors.Invalid, fmt.Sprintf("interval.ParseRegionString: position %v in region string out of range", rangeStr))
			return
		}
		result.Start = PosType(pos1)
		result.End = PosType(pos1)
		return
	}
	start1Str := rangeStr[:dashPos]
	endStr := rangeStr[dashPos+1:]
	var start1, end1 int
	if start1, err = strconv.Atoi(start1Str); err != nil {
		err = errors.E(errors.Invalid, err, "interval.ParseRegionString")
		return
	}
	if start1 <= 0 {
		err = errors.E(errors.Invalid, fmt.Sprintf("interval.ParseRegionString: position %v in region string out of range", start1Str))
		return
	}
	if end1, err = strconv.Atoi(endStr); err != nil {
		err = errors.E(errors.Invalid, err, "interval.ParseRegionString")
		return
	}
	if end1 < start1 || end1 >= PosTypeMax {
		err = errors.E(errors.Invalid, fmt.Sprintf("interval.ParseRegionString: invalid range string %v", rangeStr))
		return
	}
	result.Start = PosType(start1)
	result.End = PosType(end1)
	return
}

// Resolve sets RefID of each region from header, clamps End to the reference
// length, and returns the sorted and merged result.  A region naming a
// reference absent from header, or whose start exceeds its end after
// clamping, is an error.
func Resolve(regions []Region, header *sam.Header) ([]Region, error) {
	byName := make(map[string]*sam.Reference, len(header.Refs()))
	for _, ref := range header.Refs() {
		byName[ref.Name()] = ref
	}
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		ref, ok := byName[r.RefName]
		if !ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.Resolve: unrecognized reference %q", r.RefName))
		}
		r.RefID = ref.ID()
		if r.Start < 1 {
			r.Start = 1
		}
		if refLen := PosType(ref.Len()); r.End > refLen {
			r.End = refLen
		}
		if r.Start > r.End {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.Resolve: region %v is empty after clamping to reference length %d", r, ref.Len()))
		}
		out = append(out, r)
	}
	return SortAndMerge(out), nil
}

// WholeGenome returns one region per reference in header.  References of
// length zero are skipped.
func WholeGenome(header *sam.Header) []Region {
	var out []Region
	for _, ref := range header.Refs() {
		if ref.Len() <= 0 {
			continue
		}
		out = append(out, Region{RefID: ref.ID(), RefName: ref.Name(), Start: 1, End: PosType(ref.Len())})
	}
	return out
}

// RandomRegions draws count regions of the given length uniformly over the
// concatenated references in header, using rng.  A region never spans two
// references; references shorter than length are never chosen.  The result is
// sorted and merged, so it may hold fewer than count regions.
func RandomRegions(rng *rand.Rand, header *sam.Header, count, length int) ([]Region, error) {
	if count <= 0 || length <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.RandomRegions: count %d and length %d must be positive", count, length))
	}
	type span struct {
		ref    *sam.Reference
		offset int64
	}
	var (
		spans []span
		total int64
	)
	for _, ref := range header.Refs() {
		if ref.Len() < length {
			continue
		}
		spans = append(spans, span{ref, total})
		// Number of valid start positions on this reference.
		total += int64(ref.Len() - length + 1)
	}
	if total == 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.RandomRegions: no reference is at least %d bases long", length))
	}
	regions := make([]Region, 0, count)
	for i := 0; i < count; i++ {
		x := rng.Int63n(total)
		idx := sort.Search(len(spans), func(j int) bool { return spans[j].offset > x }) - 1
		s := spans[idx]
		start := PosType(x-s.offset) + 1
		regions = append(regions, Region{
			RefID:   s.ref.ID(),
			RefName: s.ref.Name(),
			Start:   start,
			End:     start + PosType(length) - 1,
		})
	}
	return SortAndMerge(regions), nil
}
