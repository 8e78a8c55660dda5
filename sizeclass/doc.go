// Package sizeclass implements a segregated free-list allocator for slices.
//
// The pileup scanner performs several acquire/release cycles per reference
// position, across genomes with billions of positions, so its working arrays
// are recycled through a Pool instead of being left to the garbage collector.
// A Pool maintains a fixed ladder of size classes: requests are rounded up to
// the nearest class, and released slices go back on the free list of the class
// matching their capacity exactly.
package sizeclass
