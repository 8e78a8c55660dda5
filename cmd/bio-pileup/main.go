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
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/pilescan/pileup/snp"
)

var (
	configPath       = flag.String("config", "", "Optional YAML/TOML/JSON file with flag values; explicit flags take precedence")
	bedPath          = flag.String("bed", snp.DefaultOpts.BedPath, "Input BED path; at most one of -bed, -region and -random-regions")
	region           = flag.String("region", snp.DefaultOpts.Region, "Restrict pileup computation to the specified region. Format as <contig ID>:<1-based first pos>-<last pos>, <contig ID>:<1-based pos>, or just <contig ID>")
	randomRegions    = flag.Int("random-regions", snp.DefaultOpts.RandomRegions, "Scan this many randomly drawn regions instead of -region/-bed")
	randomRegionLen  = flag.Int("random-region-len", snp.DefaultOpts.RandomRegionLen, "Length of each -random-regions region")
	bamIndexPath     = flag.String("index", snp.DefaultOpts.BamIndexPath, "Input BAM index path. Defaults to bampath + .bai")
	refCacheDir      = flag.String("ref-cache-dir", snp.DefaultOpts.RefCacheDir, "Directory for the packed reference cache. Defaults to the FASTA's directory")
	noRefCache       = flag.Bool("no-ref-cache", snp.DefaultOpts.NoRefCache, "Always parse the FASTA; never read or write the packed reference cache")
	clip             = flag.Int("clip", snp.DefaultOpts.Clip, "Number of bases on end of each read to treat as minimum-quality")
	cols             = flag.String("cols", snp.DefaultOpts.Cols, "Output TSV column sets. #CHROM/POS/REF are always present. Supported optional sets are 'dp', 'counts', 'strands', 'alleles' and 'quals'; default is \"dp,counts\"")
	flagExclude      = flag.Int("flag-exclude", snp.DefaultOpts.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
	format           = flag.String("format", snp.DefaultOpts.Format, "Output format; 'tsv', 'tsv-bgz', 'rio' and 'arrow' supported")
	mapq             = flag.Int("mapq", snp.DefaultOpts.Mapq, "Reads with MAPQ below this level are skipped")
	maxDepth         = flag.Int("max-depth", snp.DefaultOpts.MaxDepth, "Maximum number of reads counted at a single position")
	depthSampling    = flag.Bool("depth-sampling", snp.DefaultOpts.DepthSampling, "Reservoir-sample reads beyond -max-depth; if false, the first -max-depth reads are kept")
	seed             = flag.Int64("seed", snp.DefaultOpts.Seed, "Random seed for depth sampling and -random-regions; 0 = seed from the clock")
	maxSites         = flag.Int("max-sites", snp.DefaultOpts.MaxSites, "Maximum number of sites retained in memory; 0 = unlimited")
	minBaseQual      = flag.Int("min-base-qual", snp.DefaultOpts.MinBaseQual, "Lower bound on base quality in a single read")
	minBufferDepth   = flag.Int("min-buffer-depth", snp.DefaultOpts.MinBufferDepth, "Smallest per-site buffer allocated before growing toward -max-depth")
	readAhead        = flag.Int("read-ahead", snp.DefaultOpts.ReadAhead, "Number of records buffered ahead of the scan position")
	mateBuckets      = flag.Int("mate-buckets", snp.DefaultOpts.MateBuckets, "Number of buckets in the mate cache")
	mateBucketSize   = flag.Int("mate-bucket-size", snp.DefaultOpts.MateBucketSize, "Records per mate cache bucket")
	requireMate      = flag.Bool("require-mate", snp.DefaultOpts.RequireMate, "Skip paired reads whose mate cannot be found")
	strand           = flag.String("strand", snp.DefaultOpts.Strand, "Keep only reads of read-pairs aligned to this strand ('+' or '-'); default is both")
	progressInterval = flag.Int("progress-interval", snp.DefaultOpts.ProgressInterval, "Log progress every this many records read; 0 disables")
	outPrefix        = flag.String("out", "bio-pileup", "Output path prefix")
)

func bioPileupUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bampath fapath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

// optsFromFlags returns snp.DefaultOpts overridden by the parsed flags.
func optsFromFlags() snp.Opts {
	opts := snp.DefaultOpts
	opts.BedPath = *bedPath
	opts.Region = *region
	opts.RandomRegions = *randomRegions
	opts.RandomRegionLen = *randomRegionLen
	opts.BamIndexPath = *bamIndexPath
	opts.RefCacheDir = *refCacheDir
	opts.NoRefCache = *noRefCache
	opts.Clip = *clip
	opts.Cols = *cols
	opts.FlagExclude = *flagExclude
	opts.Format = *format
	opts.Mapq = *mapq
	opts.MaxDepth = *maxDepth
	opts.DepthSampling = *depthSampling
	opts.Seed = *seed
	opts.MaxSites = *maxSites
	opts.MinBaseQual = *minBaseQual
	opts.MinBufferDepth = *minBufferDepth
	opts.ReadAhead = *readAhead
	opts.MateBuckets = *mateBuckets
	opts.MateBucketSize = *mateBucketSize
	opts.RequireMate = *requireMate
	opts.Strand = *strand
	opts.ProgressInterval = *progressInterval
	return opts
}

func main() {
	flag.Usage = bioPileupUsage
	shutdown := grail.Init()
	defer shutdown()

	if err := applyConfig(flag.CommandLine, *configPath); err != nil {
		log.Fatalf("%v", err)
	}
	positionalArgs := flag.Args()
	if nPositionalArgs := len(positionalArgs); nPositionalArgs != 2 {
		if nPositionalArgs < 2 {
			log.Fatalf("Missing positional arguments (bampath and fapath required); please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
		} else {
			log.Fatalf("Too many positional arguments (only bampath and fapath expected); please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
		}
	}
	ctx := vcontext.Background()
	opts := optsFromFlags()

	stats, err := snp.Pileup(ctx, positionalArgs[0], positionalArgs[1], *outPrefix, &opts)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Println(stats.String())
	log.Debug.Printf("exiting")
}
