// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package circular provides sizing helpers for the ring buffers used when
// iterating through sorted BAM files (read-ahead and mate caches).
package circular
