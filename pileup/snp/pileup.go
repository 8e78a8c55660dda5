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
package snp

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/pilescan/encoding/bamprovider"
	"github.com/grailbio/pilescan/interval"
	"github.com/grailbio/pilescan/pileup"
	"github.com/grailbio/pilescan/reference"
)

// selectRegions returns the regions requested by opts: a single -region, the
// intervals of a -bed file, or -random-regions regions drawn from the
// scanner's random source.  No restriction yields nil, meaning the whole file.
func selectRegions(ctx context.Context, s *Scanner, opts *Opts) (regions []interval.Region, err error) {
	nSet := 0
	for _, set := range []bool{opts.Region != "", opts.BedPath != "", opts.RandomRegions > 0} {
		if set {
			nSet++
		}
	}
	if nSet > 1 {
		// TODO: intersect -region with -bed instead of rejecting the
		// combination.
		return nil, errors.E(errors.Invalid, "snp.Pileup: at most one of -region, -bed and -random-regions may be given")
	}
	switch {
	case opts.Region != "":
		var r interval.Region
		if r, err = interval.ParseRegionString(opts.Region); err != nil {
			return
		}
		regions = []interval.Region{r}
	case opts.BedPath != "":
		if regions, err = interval.LoadBED(ctx, opts.BedPath); err != nil {
			return
		}
		if len(regions) == 0 {
			return nil, errors.E(errors.Invalid, "snp.Pileup: no intervals in "+opts.BedPath)
		}
	case opts.RandomRegions > 0:
		if regions, err = s.RandomRegions(opts.RandomRegions, opts.RandomRegionLen); err != nil {
			return
		}
		log.Printf("snp.Pileup: drew %d random regions", len(regions))
	default:
		return nil, nil
	}
	return interval.Resolve(regions, s.Header())
}

// Pileup scans the BAM at xampath against the reference at fapath, and writes
// every site to outPrefix with the extension of opts.Format.
func Pileup(ctx context.Context, xampath, fapath, outPrefix string, opts *Opts) (stats Stats, err error) {
	// 1. Validate parameters.
	// 2. Open the BAM and load the (cached) packed reference.
	// 3. Select regions, and scan them with an output writer as the site
	//    filter.
	if err = opts.Validate(); err != nil {
		return
	}
	var format outputFormat
	if format, err = parseFormat(opts.Format); err != nil {
		return
	}
	var colBitset int
	if colBitset, err = parseCols(format, opts.Cols); err != nil {
		return
	}

	provider := bamprovider.NewProvider(xampath, bamprovider.ProviderOpts{
		Index: opts.BamIndexPath,
	})
	defer func() {
		if e := provider.Close(); e != nil && err == nil {
			err = e
		}
	}()
	var header *sam.Header
	if header, err = provider.GetHeader(); err != nil {
		return
	}

	var ref *reference.Store
	if ref, err = pileup.LoadReference(ctx, fapath, reference.LoadOpts{
		CacheDir: opts.RefCacheDir,
		NoCache:  opts.NoRefCache,
	}); err != nil {
		return
	}

	var s *Scanner
	if s, err = NewScanner(provider, ref, *opts); err != nil {
		return
	}
	var regions []interval.Region
	if regions, err = selectRegions(ctx, s, opts); err != nil {
		return
	}

	refNames := make([]string, len(header.Refs()))
	for i, r := range header.Refs() {
		refNames[i] = r.Name()
	}
	var w siteWriter
	if w, err = newSiteWriter(ctx, outPrefix, format, colBitset, refNames); err != nil {
		return
	}
	log.Printf("snp.Pileup: starting scan (%d regions)", len(regions))
	_, err = s.Scan(ctx, regions, w, nil)
	if e := w.Close(); e != nil && err == nil {
		err = e
	}
	stats = s.Stats()
	log.Printf("snp.Pileup: scan complete: %v", stats)
	return
}
