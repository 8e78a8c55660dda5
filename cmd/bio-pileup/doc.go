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

/*
Given a coordinate-sorted BAM and its reference FASTA, bio-pileup reports the
per-position read depth and base counts over a region, a BED file, a set of
randomly drawn regions, or the whole file.

Coverage above -max-depth is reservoir-sampled (unless -depth-sampling=false),
so every overlapping read has the same chance of being counted.  The packed
reference is cached next to the FASTA (or under -ref-cache-dir) so that later
runs skip the parse.

Options may also be read from a YAML/TOML/JSON file given by -config, or from
PILESCAN_<FLAG_NAME> environment variables.  Explicit flags win over both.

Sample usage:
bio-pileup \
    -region chr1:1000000-2000000 \
    -max-depth 500 \
    -format tsv-bgz \
    -out output-prefix \
    my.bam \
    ref.fa
*/
package main
