// Package reference holds reference genomes in memory at two bits per base.
//
// Each chromosome is stored as a list of PackedSequence values, one per
// maximal run of A/C/G/T letters; every other letter (N, IUPAC ambiguity
// codes, gaps) is left out and reads back as 'N'.  A Store answers random
// base queries by binary search, and a Cursor serves the monotonically
// advancing queries of a pileup scan without searching.
//
// Load memoizes the packed form in a recordio cache file next to the FASTA
// (or in a separate cache directory), so repeated runs against a
// multi-gigabyte genome do not re-parse the text.
package reference
