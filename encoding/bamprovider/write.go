package bamprovider

import (
	"context"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// WriteIndexedBAM writes recs, which must be sorted by coordinate, to a BAM
// file at path and a BAI index at path + ".bai".
func WriteIndexedBAM(ctx context.Context, path string, header *sam.Header, recs []*sam.Record) error {
	if err := writeBAM(ctx, path, header, recs); err != nil {
		return errors.E(err, path)
	}
	if err := writeIndex(ctx, path, path+".bai"); err != nil {
		return errors.E(err, path+".bai")
	}
	return nil
}

func writeBAM(ctx context.Context, path string, header *sam.Header, recs []*sam.Record) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w, err := bam.NewWriter(out.Writer(ctx), header, 1)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if err = w.Write(r); err != nil {
			return err
		}
	}
	return w.Close()
}

// writeIndex builds a BAI index by reading back the BAM file and recording the
// chunk of each record.
func writeIndex(ctx context.Context, bamPath, indexPath string) (err error) {
	in, err := file.Open(ctx, bamPath)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, in, &err)
	r, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return err
	}
	defer r.Close() // nolint: errcheck
	var idx bam.Index
	for {
		rec, rerr := r.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
		if rec.Ref.ID() < 0 {
			// Unplaced reads are not indexed.
			continue
		}
		if err = idx.Add(rec, r.LastChunk()); err != nil {
			return err
		}
	}
	out, err := file.Create(ctx, indexPath)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	return bam.WriteIndex(out.Writer(ctx), &idx)
}
