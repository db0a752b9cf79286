// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package fragment

import (
	"encoding/binary"

	"github.com/grailbio/bioasm/assemble/refpos"
)

// MateInfo packs the fields the duplicate key and gap realigner need about
// a record's mate without re-reading its header (spec.md §3 FragmentIndex
// variants).
type MateInfo struct {
	Anchor refpos.ReferencePosition
	Info   int64 // opaque template-level info (e.g. insert-size bucket)
}

// SeFragmentIndex indexes a single-end (unpaired) fragment.
type SeFragmentIndex struct {
	FStrandPos refpos.ReferencePosition
	DataOffset int64
}

// FStrandFragmentIndex indexes the forward-strand record of a pair.
type FStrandFragmentIndex struct {
	FStrandPos          refpos.ReferencePosition
	Mate                MateInfo
	DuplicateClusterRank uint64
	DataOffset           int64
	MateDataOffset       int64
}

// RStrandOrShadowFragmentIndex indexes the reverse-strand record of a pair,
// or a shadow (unaligned mate piggybacking on its orphan's bin).
type RStrandOrShadowFragmentIndex struct {
	FStrandPos           refpos.ReferencePosition
	Anchor               refpos.ReferencePosition
	Mate                 MateInfo
	DuplicateClusterRank uint64
	DataOffset           int64
	MateDataOffset       int64
}

// Index is PackedFragmentBuffer::Index: a working in-memory reference
// into the packed bin data, used once fragments are loaded and are being
// reordered/deduplicated/realigned.
type Index struct {
	Pos            refpos.ReferencePosition
	DataOffset     int64
	MateDataOffset int64
	CigarBegin     int
	CigarEnd       int

	// Tile and ClusterID are carried through for the BAM order comparator
	// (spec.md §4.4(d), §5 ordering guarantees) and for duplicate-rank
	// tie-breaking (spec.md §4.7).
	Tile      uint32
	ClusterID uint32
}

// Fixed on-disk widths for the three side-file record kinds, following
// header.go's fixed-width binary.LittleEndian convention so a side file
// can be memory-mapped or read in bulk and sliced by a constant stride.
const (
	SeFragmentIndexSize     = 16
	FStrandFragmentIndexSize = 48
	RStrandFragmentIndexSize = 56
)

// Marshal writes idx's fixed-width encoding to dst (len(dst) >= SeFragmentIndexSize).
func (idx SeFragmentIndex) Marshal(dst []byte) {
	le := binary.LittleEndian
	le.PutUint64(dst[0:8], uint64(idx.FStrandPos))
	le.PutUint64(dst[8:16], uint64(idx.DataOffset))
}

// UnmarshalSeFragmentIndex reads one fixed-width record from buf.
func UnmarshalSeFragmentIndex(buf []byte) SeFragmentIndex {
	le := binary.LittleEndian
	return SeFragmentIndex{
		FStrandPos: refpos.ReferencePosition(le.Uint64(buf[0:8])),
		DataOffset: int64(le.Uint64(buf[8:16])),
	}
}

// ReadSeFragmentIndex parses a whole fIdx-style side file (really only
// used for single-end bins) into a slice of records.
func ReadSeFragmentIndex(data []byte) []SeFragmentIndex {
	n := len(data) / SeFragmentIndexSize
	out := make([]SeFragmentIndex, n)
	for i := 0; i < n; i++ {
		out[i] = UnmarshalSeFragmentIndex(data[i*SeFragmentIndexSize : (i+1)*SeFragmentIndexSize])
	}
	return out
}

// Marshal writes idx's fixed-width encoding to dst (len(dst) >= FStrandFragmentIndexSize).
func (idx FStrandFragmentIndex) Marshal(dst []byte) {
	le := binary.LittleEndian
	le.PutUint64(dst[0:8], uint64(idx.FStrandPos))
	le.PutUint64(dst[8:16], uint64(idx.Mate.Anchor))
	le.PutUint64(dst[16:24], uint64(idx.Mate.Info))
	le.PutUint64(dst[24:32], idx.DuplicateClusterRank)
	le.PutUint64(dst[32:40], uint64(idx.DataOffset))
	le.PutUint64(dst[40:48], uint64(idx.MateDataOffset))
}

// UnmarshalFStrandFragmentIndex reads one fixed-width record from buf.
func UnmarshalFStrandFragmentIndex(buf []byte) FStrandFragmentIndex {
	le := binary.LittleEndian
	return FStrandFragmentIndex{
		FStrandPos: refpos.ReferencePosition(le.Uint64(buf[0:8])),
		Mate: MateInfo{
			Anchor: refpos.ReferencePosition(le.Uint64(buf[8:16])),
			Info:   int64(le.Uint64(buf[16:24])),
		},
		DuplicateClusterRank: le.Uint64(buf[24:32]),
		DataOffset:           int64(le.Uint64(buf[32:40])),
		MateDataOffset:       int64(le.Uint64(buf[40:48])),
	}
}

// ReadFStrandFragmentIndex parses a whole fIdx side file into records.
func ReadFStrandFragmentIndex(data []byte) []FStrandFragmentIndex {
	n := len(data) / FStrandFragmentIndexSize
	out := make([]FStrandFragmentIndex, n)
	for i := 0; i < n; i++ {
		out[i] = UnmarshalFStrandFragmentIndex(data[i*FStrandFragmentIndexSize : (i+1)*FStrandFragmentIndexSize])
	}
	return out
}

// Marshal writes idx's fixed-width encoding to dst (len(dst) >= RStrandFragmentIndexSize).
func (idx RStrandOrShadowFragmentIndex) Marshal(dst []byte) {
	le := binary.LittleEndian
	le.PutUint64(dst[0:8], uint64(idx.FStrandPos))
	le.PutUint64(dst[8:16], uint64(idx.Anchor))
	le.PutUint64(dst[16:24], uint64(idx.Mate.Anchor))
	le.PutUint64(dst[24:32], uint64(idx.Mate.Info))
	le.PutUint64(dst[32:40], idx.DuplicateClusterRank)
	le.PutUint64(dst[40:48], uint64(idx.DataOffset))
	le.PutUint64(dst[48:56], uint64(idx.MateDataOffset))
}

// UnmarshalRStrandFragmentIndex reads one fixed-width record from buf.
func UnmarshalRStrandFragmentIndex(buf []byte) RStrandOrShadowFragmentIndex {
	le := binary.LittleEndian
	return RStrandOrShadowFragmentIndex{
		FStrandPos: refpos.ReferencePosition(le.Uint64(buf[0:8])),
		Anchor:     refpos.ReferencePosition(le.Uint64(buf[8:16])),
		Mate: MateInfo{
			Anchor: refpos.ReferencePosition(le.Uint64(buf[16:24])),
			Info:   int64(le.Uint64(buf[24:32])),
		},
		DuplicateClusterRank: le.Uint64(buf[32:40]),
		DataOffset:           int64(le.Uint64(buf[40:48])),
		MateDataOffset:       int64(le.Uint64(buf[48:56])),
	}
}

// ReadRStrandFragmentIndex parses a whole rIdx side file into records.
func ReadRStrandFragmentIndex(data []byte) []RStrandOrShadowFragmentIndex {
	n := len(data) / RStrandFragmentIndexSize
	out := make([]RStrandOrShadowFragmentIndex, n)
	for i := 0; i < n; i++ {
		out[i] = UnmarshalRStrandFragmentIndex(data[i*RStrandFragmentIndexSize : (i+1)*RStrandFragmentIndexSize])
	}
	return out
}
