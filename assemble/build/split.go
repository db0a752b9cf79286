// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package build

import "github.com/grailbio/bioasm/assemble/binmeta"

// SplitUnaligned divides the unaligned bin into n roughly equal-size
// sub-bins by byte offset (spec.md §4.12), so its compute cost can be
// spread across the full compute-thread count instead of serializing
// behind one oversized job. bin must already be tallied
// (TallyOffsets) and must be the unaligned bin; n must be >= 1.
func SplitUnaligned(bin *binmeta.Metadata, n int) []*binmeta.Metadata {
	if !bin.IsUnaligned() {
		panic("build: SplitUnaligned called on an aligned bin")
	}
	if n < 1 {
		panic("build: SplitUnaligned requires n >= 1")
	}
	if n == 1 || bin.DataSize == 0 {
		return []*binmeta.Metadata{bin}
	}

	subBinSize := bin.DataSize / int64(n)
	if subBinSize == 0 {
		subBinSize = 1
	}

	var out []*binmeta.Metadata
	for i := 0; i < n; i++ {
		lo := int64(i) * subBinSize
		hi := lo + subBinSize
		if i == n-1 {
			hi = bin.DataSize
		}
		if lo >= bin.DataSize {
			break
		}
		sub := bin.Clone()
		sub.RemoveChunksAfter(hi)
		sub.RemoveChunksBefore(lo)
		sub.DataOffset = bin.DataOffset + lo
		if sub.DataSize > 0 || i == 0 {
			out = append(out, sub)
		}
	}
	return out
}
