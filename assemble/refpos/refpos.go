// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package refpos implements ReferencePosition, a packed (contigId, offset)
// value with two reserved sentinel contig ids, the way biopb.Coord packs
// (RefId, Pos) but with the NoMatch/TooManyMatch sentinels the assembly
// core needs baked into the ordering.
package refpos

import "fmt"

const (
	// offsetBits is the width of the packed offset field: offsets up to
	// 2^40-1 fit, and the contig id occupies the bits above them.
	offsetBits = 40
	offsetMask = int64(1)<<offsetBits - 1

	noMatchContig      = int32(-1)
	tooManyMatchContig = int32(-2)
)

// ReferencePosition is a 64-bit packed (contigId, offset) value.  Sentinel
// contig ids NoMatch and TooManyMatch sort after every real position.
type ReferencePosition int64

// New packs a real (contigId, offset) pair.  offset must fit in 40 bits.
func New(contigID int32, offset int64) ReferencePosition {
	if offset < 0 || offset > offsetMask {
		panic(fmt.Sprintf("refpos: offset %d out of range", offset))
	}
	return ReferencePosition(int64(contigID)<<offsetBits | offset)
}

// NoMatch is the sentinel for a fragment with no placement.
var NoMatch = ReferencePosition(int64(noMatchContig) << offsetBits)

// TooManyMatch is the sentinel used as the "bin 0" marker for unaligned
// bins (fragment matches too many locations to place).
var TooManyMatch = ReferencePosition(int64(tooManyMatchContig) << offsetBits)

// ContigID returns the packed contig id.
func (p ReferencePosition) ContigID() int32 {
	return int32(int64(p) >> offsetBits)
}

// Offset returns the packed offset. Meaningless for sentinel values.
func (p ReferencePosition) Offset() int64 {
	return int64(p) & offsetMask
}

// IsNoMatch reports whether p is the NoMatch sentinel.
func (p ReferencePosition) IsNoMatch() bool {
	return p.ContigID() == noMatchContig
}

// IsTooManyMatch reports whether p is the TooManyMatch sentinel.
func (p ReferencePosition) IsTooManyMatch() bool {
	return p.ContigID() == tooManyMatchContig
}

// IsSentinel reports whether p is either sentinel (not a real position).
func (p ReferencePosition) IsSentinel() bool {
	return p.IsNoMatch() || p.IsTooManyMatch()
}

// sortRank orders sentinels after all real positions: TooManyMatch sorts
// after NoMatch, both sort after any real (contigId, offset). This
// matches the source's effective ordering where sentinel contig ids (-1,
// -2) would otherwise compare *before* real (non-negative) contig ids.
func sortRank(p ReferencePosition) (rank int, contig int32, offset int64) {
	switch {
	case p.IsNoMatch():
		return 1, 0, 0
	case p.IsTooManyMatch():
		return 2, 0, 0
	default:
		return 0, p.ContigID(), p.Offset()
	}
}

// Compare returns <0, 0, >0 if p<q, p==q, p>q under the total order
// described in spec.md §3 (lexicographic on (contigId,offset), sentinels
// greater than any real position).
func (p ReferencePosition) Compare(q ReferencePosition) int {
	rp, cp, op := sortRank(p)
	rq, cq, oq := sortRank(q)
	if rp != rq {
		return rp - rq
	}
	if cp != cq {
		return int(cp) - int(cq)
	}
	if op != oq {
		if op < oq {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether p sorts before q.
func (p ReferencePosition) Less(q ReferencePosition) bool { return p.Compare(q) < 0 }

// Add returns p shifted forward by length bases of reference. Panics if p
// is a sentinel.
func (p ReferencePosition) Add(length int64) ReferencePosition {
	if p.IsSentinel() {
		panic("refpos: Add on sentinel position")
	}
	return New(p.ContigID(), p.Offset()+length)
}

// Sub returns the signed distance p-q in reference bases. Both must be
// real (non-sentinel) positions on the same contig.
func (p ReferencePosition) Sub(q ReferencePosition) int64 {
	if p.IsSentinel() || q.IsSentinel() {
		panic("refpos: Sub on sentinel position")
	}
	if p.ContigID() != q.ContigID() {
		panic("refpos: Sub across contigs")
	}
	return p.Offset() - q.Offset()
}

func (p ReferencePosition) String() string {
	switch {
	case p.IsNoMatch():
		return "NoMatch"
	case p.IsTooManyMatch():
		return "TooManyMatch"
	default:
		return fmt.Sprintf("(%d,%d)", p.ContigID(), p.Offset())
	}
}
