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
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/pilescan/encoding/bampair"
	"github.com/grailbio/pilescan/encoding/bamprovider"
	"github.com/grailbio/pilescan/pileup"
)

// Opts configures a Scanner and the Pileup driver.  Validate reports
// out-of-range values.
type Opts struct {
	// Scan options.
	MaxDepth       int
	MinBaseQual    int
	Mapq           int
	DepthSampling  bool
	Seed           int64
	MaxSites       int
	ReadAhead      int
	MateBuckets    int
	MateBucketSize int
	MinBufferDepth int
	FlagExclude    int
	Clip           int
	RequireMate    bool
	// Strand is "+" or "-" to keep only reads of read-pairs aligned to that
	// strand (see pileup.GetStrand), or "" for no restriction.
	Strand string
	// ProgressInterval logs scan progress every this many records read; 0
	// disables it.
	ProgressInterval int

	// Commandline-only options, used by Pileup.
	BedPath         string
	Region          string
	RandomRegions   int
	RandomRegionLen int
	BamIndexPath    string
	RefCacheDir     string
	NoRefCache      bool
	Format          string
	Cols            string
}

// DefaultOpts holds the bio-pileup flag defaults.
var DefaultOpts = Opts{
	MaxDepth:         1000,
	MinBaseQual:      0,
	Mapq:             60,
	DepthSampling:    true,
	Seed:             0,
	MaxSites:         0,
	ReadAhead:        bamprovider.DefaultReadAhead,
	MateBuckets:      bampair.DefaultBuckets,
	MateBucketSize:   bampair.DefaultBucketCap,
	MinBufferDepth:   100,
	FlagExclude:      0xf00,
	Clip:             0,
	RequireMate:      false,
	ProgressInterval: 1000000,
	RandomRegionLen:  1000,
	Format:           "tsv",
}

// Validate checks the scan options.  It does not look at the
// commandline-only fields.
func (o *Opts) Validate() error {
	switch {
	case o.MaxDepth <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("snp.Opts: max-depth must be positive, got %d", o.MaxDepth))
	case o.MinBufferDepth <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("snp.Opts: min-buffer-depth must be positive, got %d", o.MinBufferDepth))
	case o.MinBaseQual < 0 || o.MinBaseQual > 0xff:
		return errors.E(errors.Invalid, fmt.Sprintf("snp.Opts: invalid min-base-qual %d", o.MinBaseQual))
	case o.Mapq < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("snp.Opts: invalid mapq %d", o.Mapq))
	case o.MaxSites < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("snp.Opts: invalid max-sites %d", o.MaxSites))
	case o.Clip < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("snp.Opts: invalid clip %d", o.Clip))
	case o.ProgressInterval < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("snp.Opts: invalid progress-interval %d", o.ProgressInterval))
	case o.MateBuckets < 0 || o.MateBucketSize < 0:
		return errors.E(errors.Invalid, "snp.Opts: mate cache dimensions must be nonnegative")
	}
	if _, err := pileup.ParseStrand(o.Strand); err != nil {
		return errors.E(errors.Invalid, err)
	}
	return nil
}

// These constants refer to the optional output column-sets.
//   Depth   = DP column.
//   Counts  = A, C, G, T and N columns.
//   Strands = Per-strand counts, <base>+ and <base>- for each of A/C/G/T.
//   Alleles = MAJOR, MAJOR_COUNT, MINOR and MINOR_COUNT columns.
//   Quals   = Comma-separated base-qualities of the sampled reads.
const (
	colBitDepth = 1 << iota
	colBitCounts
	colBitStrands
	colBitAlleles
	colBitQuals
)

const colBitsetDefault = colBitDepth | colBitCounts

var colNameMap = map[string]int{
	"dp":      colBitDepth,
	"counts":  colBitCounts,
	"strands": colBitStrands,
	"alleles": colBitAlleles,
	"quals":   colBitQuals,
}

type outputFormat int

const (
	formatTSV outputFormat = iota
	formatTSVBgz
	formatRio
	formatArrow
)

var formatNameMap = map[string]outputFormat{
	"tsv":     formatTSV,
	"tsv-bgz": formatTSVBgz,
	"rio":     formatRio,
	"arrow":   formatArrow,
}

func parseFormat(s string) (outputFormat, error) {
	f, ok := formatNameMap[s]
	if !ok {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("snp.Pileup: unrecognized format %q", s))
	}
	return f, nil
}

func parseCols(f outputFormat, cols string) (int, error) {
	if cols == "" {
		return colBitsetDefault, nil
	}
	if f != formatTSV && f != formatTSVBgz {
		return 0, errors.E(errors.Invalid, "snp.Pileup: -cols can only be used with tsv output")
	}
	return pileup.ParseCols(cols, colNameMap, colBitsetDefault)
}
