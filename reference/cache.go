package reference

import (
	"context"
	"encoding/binary"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"blainsmith.com/go/seahash"
	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/traverse"
)

const (
	cacheSuffix  = ".pref"
	cacheVersion = "pref1"

	headerVersion = "version"
	headerSource  = "source"
	headerSize    = "size"
	headerModTime = "mtime"
	headerNumRefs = "nrefs"
)

func init() {
	recordiozstd.Init()
}

// LoadOpts controls Load.
type LoadOpts struct {
	// CacheDir is the directory holding packed-reference cache files.  If
	// empty, the directory containing the FASTA file is used.
	CacheDir string
	// NoCache disables both reading and writing the cache file.
	NoCache bool
	// Parallelism is the number of goroutines serializing chromosomes when
	// writing the cache.  Zero means runtime.NumCPU().
	Parallelism int
}

// CachePath returns the cache file path used for fastaPath.  The file name
// is a fingerprint of the FASTA path.
func CachePath(fastaPath string, opts LoadOpts) string {
	dir := opts.CacheDir
	if dir == "" {
		dir = file.Dir(fastaPath)
	}
	name := fmt.Sprintf("%016x%s", farm.Fingerprint64([]byte(fastaPath)), cacheSuffix)
	// filepath.Join would mangle URL-style paths such as s3://bucket/dir.
	return strings.TrimSuffix(dir, "/") + "/" + name
}

// SourceInfo identifies the FASTA file a cache file was built from.  A cache
// whose SourceInfo differs from the current file's is stale.
type SourceInfo struct {
	Path    string
	Size    string
	ModTime string
}

// StatSource returns the SourceInfo of the FASTA file at fastaPath.
func StatSource(ctx context.Context, fastaPath string) (SourceInfo, error) {
	info, err := file.Stat(ctx, fastaPath)
	if err != nil {
		return SourceInfo{}, errors.E(err, fastaPath)
	}
	return SourceInfo{
		Path:    fastaPath,
		Size:    strconv.FormatInt(info.Size(), 10),
		ModTime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
	}, nil
}

// Load returns the packed reference for the FASTA file at fastaPath.  Unless
// opts.NoCache is set, it first tries the cache file; a missing, stale or
// corrupt cache is logged and ignored, and a fresh cache is written after
// parsing.  Failure to write the cache is not an error.
func Load(ctx context.Context, fastaPath string, opts LoadOpts) (*Store, error) {
	src, err := StatSource(ctx, fastaPath)
	if err != nil {
		return nil, err
	}
	cachePath := CachePath(fastaPath, opts)
	if !opts.NoCache {
		st, err := ReadCache(ctx, cachePath, src)
		if err == nil {
			log.Debug.Printf("reference: loaded %d sequences from cache %s", st.NumRefs(), cachePath)
			return st, nil
		}
		if errors.Is(errors.NotExist, err) {
			log.Debug.Printf("reference: no cache at %s", cachePath)
		} else {
			log.Printf("reference: ignoring cache %s: %v", cachePath, err)
		}
	}
	st, err := parseFile(ctx, fastaPath)
	if err != nil {
		return nil, err
	}
	if !opts.NoCache {
		if err := WriteCache(ctx, cachePath, src, st, opts.Parallelism); err != nil {
			log.Error.Printf("reference: failed to write cache %s: %v", cachePath, err)
			_ = file.Remove(ctx, cachePath)
		}
	}
	return st, nil
}

func parseFile(ctx context.Context, fastaPath string) (st *Store, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, fastaPath); err != nil {
		return nil, errors.E(err, fastaPath)
	}
	defer file.CloseAndReport(ctx, infile, &err)
	reader, _ := compress.NewReader(infile.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if st, err = New(reader); err != nil {
		return nil, errors.E(err, fastaPath)
	}
	return st, nil
}

// WriteCache writes st to path.  Chromosomes are marshalled in parallel.
func WriteCache(ctx context.Context, path string, src SourceInfo, st *Store, parallelism int) (err error) {
	bufs := make([][]byte, len(st.chroms))
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > len(st.chroms) {
		parallelism = len(st.chroms)
	}
	// Job j serializes chromosomes j, j+parallelism, j+2*parallelism, ...
	err = traverse.Each(parallelism, func(jobIdx int) error {
		for i := jobIdx; i < len(st.chroms); i += parallelism {
			bufs[i] = marshalChrom(nil, &st.chroms[i])
		}
		return nil
	})
	if err != nil {
		return err
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Marshal: func(scratch []byte, v interface{}) ([]byte, error) {
			return v.([]byte), nil
		},
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(headerVersion, cacheVersion)
	w.AddHeader(headerSource, src.Path)
	w.AddHeader(headerSize, src.Size)
	w.AddHeader(headerModTime, src.ModTime)
	w.AddHeader(headerNumRefs, strconv.Itoa(len(st.chroms)))
	for _, buf := range bufs {
		w.Append(buf)
	}
	return w.Finish()
}

// ReadCache reads a cache file written by WriteCache, checking that it was
// built from src.
func ReadCache(ctx context.Context, path string, src SourceInfo) (st *Store, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	scanner := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{
		Unmarshal: func(in []byte) (interface{}, error) {
			return unmarshalChrom(in)
		},
	})
	defer scanner.Finish() // nolint: errcheck
	want := map[string]string{
		headerVersion: cacheVersion,
		headerSource:  src.Path,
		headerSize:    src.Size,
		headerModTime: src.ModTime,
	}
	numRefs := -1
	for _, kv := range scanner.Header() {
		val, _ := kv.Value.(string)
		if kv.Key == headerNumRefs {
			if numRefs, err = strconv.Atoi(val); err != nil {
				return nil, errors.E(errors.Integrity, err, path)
			}
			continue
		}
		// Cannot return an error on unrecognized key since recordio can write its own.
		if w, ok := want[kv.Key]; ok {
			if val != w {
				return nil, errors.E(errors.Precondition, fmt.Sprintf("%s: stale cache, %s is %q, want %q", path, kv.Key, val, w))
			}
			delete(want, kv.Key)
		}
	}
	if len(want) != 0 || numRefs < 0 {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("%s: incomplete cache header", path))
	}
	chroms := make([]Chrom, 0, numRefs)
	for scanner.Scan() {
		chroms = append(chroms, *scanner.Get().(*Chrom))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(errors.Integrity, err, path)
	}
	if len(chroms) != numRefs {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("%s: found %d sequences, want %d", path, len(chroms), numRefs))
	}
	return NewFromChroms(chroms)
}

// Chromosome record layout, all little-endian:
//   uint32 name length, name bytes
//   uint64 chromosome length
//   uint32 number of runs
//   per run: uint64 start, uint64 length, ceil(length/32) uint64 words
//   uint64 seahash of everything above
func marshalChrom(scratch []byte, c *Chrom) []byte {
	n := 4 + len(c.Name) + 8 + 4 + 8
	for i := range c.Seqs {
		n += 16 + 8*len(c.Seqs[i].Words)
	}
	t := scratch
	if cap(t) < n {
		t = make([]byte, n)
	}
	t = t[:n]
	off := 0
	binary.LittleEndian.PutUint32(t[off:], uint32(len(c.Name)))
	off += 4
	off += copy(t[off:], c.Name)
	binary.LittleEndian.PutUint64(t[off:], uint64(c.Length))
	off += 8
	binary.LittleEndian.PutUint32(t[off:], uint32(len(c.Seqs)))
	off += 4
	for i := range c.Seqs {
		seq := &c.Seqs[i]
		binary.LittleEndian.PutUint64(t[off:], uint64(seq.Start))
		binary.LittleEndian.PutUint64(t[off+8:], uint64(seq.Length))
		off += 16
		for _, w := range seq.Words {
			binary.LittleEndian.PutUint64(t[off:], w)
			off += 8
		}
	}
	binary.LittleEndian.PutUint64(t[off:], seahash.Sum64(t[:off]))
	return t
}

// cutAndAdvance returns the first n bytes of *in and advances *in past them.
func cutAndAdvance(in *[]byte, n int) ([]byte, error) {
	if n < 0 || len(*in) < n {
		return nil, errors.E(errors.Integrity, "reference: truncated cache record")
	}
	d := (*in)[:n]
	*in = (*in)[n:]
	return d, nil
}

func unmarshalChrom(in []byte) (*Chrom, error) {
	if len(in) < 8 {
		return nil, errors.E(errors.Integrity, "reference: truncated cache record")
	}
	body := in[:len(in)-8]
	if got, want := seahash.Sum64(body), binary.LittleEndian.Uint64(in[len(in)-8:]); got != want {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("reference: cache record checksum %x, want %x", got, want))
	}
	var c Chrom
	d, err := cutAndAdvance(&body, 4)
	if err != nil {
		return nil, err
	}
	if d, err = cutAndAdvance(&body, int(binary.LittleEndian.Uint32(d))); err != nil {
		return nil, err
	}
	c.Name = string(d)
	if d, err = cutAndAdvance(&body, 12); err != nil {
		return nil, err
	}
	c.Length = int(binary.LittleEndian.Uint64(d[:8]))
	nSeq := int(binary.LittleEndian.Uint32(d[8:12]))
	c.Seqs = make([]PackedSequence, nSeq)
	for i := range c.Seqs {
		if d, err = cutAndAdvance(&body, 16); err != nil {
			return nil, err
		}
		seq := &c.Seqs[i]
		seq.Start = int(binary.LittleEndian.Uint64(d[:8]))
		seq.Length = int(binary.LittleEndian.Uint64(d[8:16]))
		nWord := (seq.Length + BasesPerWord - 1) / BasesPerWord
		if d, err = cutAndAdvance(&body, 8*nWord); err != nil {
			return nil, err
		}
		seq.Words = make([]uint64, nWord)
		for j := range seq.Words {
			seq.Words[j] = binary.LittleEndian.Uint64(d[8*j:])
		}
	}
	if len(body) != 0 {
		return nil, errors.E(errors.Integrity, "reference: trailing bytes in cache record")
	}
	return &c, nil
}
