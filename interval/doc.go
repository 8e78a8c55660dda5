/*Package interval implements genomic region sets: the canonical, sorted,
  non-overlapping list of regions a pileup scan visits.
  Regions may come from a region string, a BED file, or random sampling over a
  SAM header's references.  (Note that regions are merged, not tracked
  separately; overlapping input regions collapse into one.)
  Regions are 1-based and inclusive on both ends, as in samtools region
  strings.  It assumes every position fits in a PosType, which is currently
  defined as int32 since that's what BAM files are limited to.
*/
package interval
