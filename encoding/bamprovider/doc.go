// Package bamprovider provides utilities for streaming a coordinate-sorted
// BAM file one genomic region at a time.
//
// The Provider is an interface for reading records that overlap a region.
//
// LookaheadBuffer is a bounded read-ahead queue in front of an Iterator that
// feeds a bampair.MateCache as records pass through it, and MateResolver
// combines that cache with direct Provider queries to find a read's mate.
package bamprovider
