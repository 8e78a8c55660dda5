/*Package bampair provides a way to get the mate of a read while streaming a
  BAM file that is sorted by position, without a second query to the file.

  MateCache keeps the most recently streamed reads in a set of fixed-size
  ring buffers, bucketed by alignment position modulo the bucket count.  A
  read's mate is looked up in the bucket for its mate position.  Since the
  buckets are bounded, a lookup may miss even when the mate was streamed
  earlier; callers must fall back to querying the file directly, or treat
  the mate as unavailable.
*/
package bampair
