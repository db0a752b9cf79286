// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package fragment implements the on-disk/in-buffer fragment record
// (spec.md §3 FragmentHeader/FragmentAccessor, §4.4 fragment collector): a
// fixed-size header followed by packed 2-bases-per-byte BCL bases and
// packed cigar words.
package fragment

import (
	"encoding/binary"

	"github.com/grailbio/bioasm/assemble/cigar"
	"github.com/grailbio/bioasm/assemble/refpos"
	"github.com/grailbio/bioasm/biosimd"
)

// HeaderSize is the fixed, on-disk size in bytes of Header, matching the
// field layout written by marshalHeader/unmarshalHeader below.
const HeaderSize = 80

// Flag bits, following the BAM flag layout so Header.Flags can be
// converted directly into a sam.Record's Flags.
const (
	FlagPaired        uint16 = 1 << 0
	FlagProperPair    uint16 = 1 << 1
	FlagUnmapped      uint16 = 1 << 2
	FlagMateUnmapped  uint16 = 1 << 3
	FlagReverse       uint16 = 1 << 4
	FlagMateReverse   uint16 = 1 << 5
	FlagRead1         uint16 = 1 << 6
	FlagRead2         uint16 = 1 << 7
	FlagSecondary     uint16 = 1 << 8
	FlagDuplicate     uint16 = 1 << 10
	FlagSupplementary uint16 = 1 << 11
)

// Header is the fixed-size, template-level and per-read metadata that
// precedes each record's packed bases and cigar in a bin.data file.
type Header struct {
	ContigID       int32
	Position       int64
	ReadIndex      uint8
	ReadLength     uint16
	CigarLen       uint16
	MismatchCount  uint16
	GapCount       uint16
	EditDistance   uint16
	AlignmentScore int32
	BamTlen        int32
	MatePosition   int64
	MateAnchor     int64
	MateStorageBin int32
	Flags          uint16
	Tile           uint32
	Barcode        uint16
	ClusterID      uint32
	ClusterX       int32
	ClusterY       int32
	DuplicateRank  uint64
}

// TotalLength returns sizeof(header) + packed-base bytes + 4*cigarLen, the
// byte span one fragment record occupies (spec.md invariant #1).
func (h *Header) TotalLength() int64 {
	return int64(HeaderSize) + int64((int(h.ReadLength)+1)/2) + 4*int64(h.CigarLen)
}

// IsAligned reports whether this header describes an aligned fragment.
func (h *Header) IsAligned() bool { return h.CigarLen > 0 }

// RefPos returns the packed reference position corresponding to
// (ContigID, Position), or NoMatch if unaligned.
func (h *Header) RefPos() refpos.ReferencePosition {
	if !h.IsAligned() {
		return refpos.NoMatch
	}
	return refpos.New(h.ContigID, h.Position)
}

func marshalHeader(h *Header, buf []byte) {
	if len(buf) < HeaderSize {
		panic("fragment: header buffer too small")
	}
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], uint32(h.ContigID))
	le.PutUint64(buf[4:12], uint64(h.Position))
	buf[12] = h.ReadIndex
	le.PutUint16(buf[13:15], h.ReadLength)
	le.PutUint16(buf[15:17], h.CigarLen)
	le.PutUint16(buf[17:19], h.MismatchCount)
	le.PutUint16(buf[19:21], h.GapCount)
	le.PutUint16(buf[21:23], h.EditDistance)
	le.PutUint32(buf[23:27], uint32(h.AlignmentScore))
	le.PutUint32(buf[27:31], uint32(h.BamTlen))
	le.PutUint64(buf[31:39], uint64(h.MatePosition))
	le.PutUint64(buf[39:47], uint64(h.MateAnchor))
	le.PutUint32(buf[47:51], uint32(h.MateStorageBin))
	le.PutUint16(buf[51:53], h.Flags)
	le.PutUint32(buf[53:57], h.Tile)
	le.PutUint16(buf[57:59], h.Barcode)
	le.PutUint32(buf[59:63], h.ClusterID)
	le.PutUint32(buf[63:67], uint32(h.ClusterX))
	le.PutUint32(buf[67:71], uint32(h.ClusterY))
	le.PutUint64(buf[71:79], h.DuplicateRank)
	buf[79] = 0 // reserved/padding
}

func unmarshalHeader(buf []byte) *Header {
	if len(buf) < HeaderSize {
		panic("fragment: header buffer too small")
	}
	le := binary.LittleEndian
	h := &Header{}
	h.ContigID = int32(le.Uint32(buf[0:4]))
	h.Position = int64(le.Uint64(buf[4:12]))
	h.ReadIndex = buf[12]
	h.ReadLength = le.Uint16(buf[13:15])
	h.CigarLen = le.Uint16(buf[15:17])
	h.MismatchCount = le.Uint16(buf[17:19])
	h.GapCount = le.Uint16(buf[19:21])
	h.EditDistance = le.Uint16(buf[21:23])
	h.AlignmentScore = int32(le.Uint32(buf[23:27]))
	h.BamTlen = int32(le.Uint32(buf[27:31]))
	h.MatePosition = int64(le.Uint64(buf[31:39]))
	h.MateAnchor = int64(le.Uint64(buf[39:47]))
	h.MateStorageBin = int32(le.Uint32(buf[47:51]))
	h.Flags = le.Uint16(buf[51:53])
	h.Tile = le.Uint32(buf[53:57])
	h.Barcode = le.Uint16(buf[57:59])
	h.ClusterID = le.Uint32(buf[59:63])
	h.ClusterX = int32(le.Uint32(buf[63:67]))
	h.ClusterY = int32(le.Uint32(buf[67:71]))
	h.DuplicateRank = le.Uint64(buf[71:79])
	return h
}

// Accessor is a read-only view of one fragment record living inside a
// larger buffer owned by a PackedFragmentBuffer (see buffer.go). It never
// copies the underlying bytes.
type Accessor struct {
	buf []byte // exactly TotalLength() bytes, header+bases+cigar
}

// NewAccessor wraps buf (which must be at least one record long) as an
// Accessor, reading just enough of the header to know the record's total
// length.
func NewAccessor(buf []byte) *Accessor {
	h := unmarshalHeader(buf)
	n := h.TotalLength()
	return &Accessor{buf: buf[:n]}
}

// Header parses and returns the fixed header.
func (a *Accessor) Header() *Header {
	return unmarshalHeader(a.buf)
}

// PackedBases returns the raw 2-bases-per-byte BCL-encoded base slice.
func (a *Accessor) PackedBases() []byte {
	h := a.Header()
	n := (int(h.ReadLength) + 1) / 2
	return a.buf[HeaderSize : HeaderSize+n]
}

// Cigar returns the packed cigar word slice.
func (a *Accessor) Cigar() cigar.Cigar {
	h := a.Header()
	baseBytes := (int(h.ReadLength) + 1) / 2
	start := HeaderSize + baseBytes
	words := make(cigar.Cigar, h.CigarLen)
	le := binary.LittleEndian
	for i := 0; i < int(h.CigarLen); i++ {
		words[i] = le.Uint32(a.buf[start+4*i : start+4*i+4])
	}
	return words
}

// Bytes returns the raw bytes spanning this one record.
func (a *Accessor) Bytes() []byte { return a.buf }

// Marshal serializes h, bases (one byte per base, 'A'/'C'/'G'/'T'/'N', NOT
// yet BCL-packed) and c into dst, which must be at least
// h.TotalLength() bytes. bases must have length h.ReadLength.
func Marshal(h *Header, bases []byte, c cigar.Cigar, dst []byte) {
	h.CigarLen = uint16(len(c))
	h.ReadLength = uint16(len(bases))
	marshalHeader(h, dst)
	packed := dst[HeaderSize : HeaderSize+(len(bases)+1)/2]
	packBases(bases, packed)
	cigarStart := HeaderSize + len(packed)
	le := binary.LittleEndian
	for i, w := range c {
		le.PutUint32(dst[cigarStart+4*i:cigarStart+4*i+4], w)
	}
}

var baseToCode = map[byte]byte{'A': 0, 'C': 1, 'G': 2, 'T': 3, 'N': 4}
var codeToBase = [...]byte{'A', 'C', 'G', 'T', 'N'}

// packBases packs one ASCII base per nibble into dst (2 bases/byte,
// high nibble first), the BCL-style encoding spec.md §4.4 describes. The
// nibble-packing step itself is biosimd.PackSeq; only the base/code
// translation is domain-specific.
func packBases(bases []byte, dst []byte) {
	codes := make([]byte, len(bases))
	for i, b := range bases {
		codes[i] = baseToCode[b]
	}
	biosimd.PackSeq(dst, codes)
}

// UnpackBases unpacks n bases from a 2-bases/byte buffer.
func UnpackBases(packed []byte, n int) []byte {
	codes := make([]byte, n)
	biosimd.UnpackSeq(codes, packed[:(n+1)/2])
	out := make([]byte, n)
	for i, code := range codes {
		if int(code) >= len(codeToBase) {
			code = 4
		}
		out[i] = codeToBase[code]
	}
	return out
}
