// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package binmeta describes the on-disk bin layout (spec.md §3, §4.3): a
// contiguous reference interval (or the special unaligned bin) plus a
// chunked byte-offset distribution used so concurrent bin writers never
// collide.
package binmeta

import (
	"sync/atomic"

	"github.com/grailbio/bioasm/assemble/refpos"
)

// minChunkBytes is the chunk-size floor: bins smaller than this get one
// chunk per byte rather than per ~1024th of the bin (spec.md §4.3).
const minChunkBytes = 1024

// targetChunks is the number of distribution chunks aimed for per bin.
const targetChunks = 1024

// BinChunk is one ~chunkSize-byte slice of a bin's data, with its own
// per-barcode byte-size breakdown. After tallyOffsets, DataSize holds the
// cumulative byte offset at which the chunk begins (not its own size).
type BinChunk struct {
	DataSize    int64
	PerBarcode  map[int]int64 // barcode index -> bytes
	CigarLength map[int]int64 // barcode index -> cigar words
}

func newBinChunk() BinChunk {
	return BinChunk{PerBarcode: map[int]int64{}, CigarLength: map[int]int64{}}
}

// PerBarcodeCounts aggregates element/gap/cigar-length counters for one
// barcode across the whole bin (spec.md §3 BinMetadata.perBarcode).
type PerBarcodeCounts struct {
	Elements    int64
	Gaps        int64
	CigarLength int64
}

// Metadata describes one bin. It is read-only after finalization
// (tallyOffsets); the orchestrator shares it by reference across workers.
type Metadata struct {
	Index     int
	BinStart  refpos.ReferencePosition
	Length    int64
	DataPath  string
	FIdxPath  string
	RIdxPath  string
	SeIdxPath string

	DataOffset int64
	DataSize   int64

	PerBarcode map[int]*PerBarcodeCounts

	chunkSize    int64
	distribution []BinChunk
	tallied      bool
}

// New creates Metadata for a bin spanning [binStart, binStart+length),
// sizing the distribution chunks per the §4.3 policy.
func New(index int, binStart refpos.ReferencePosition, length int64) *Metadata {
	m := &Metadata{
		Index:      index,
		BinStart:   binStart,
		Length:     length,
		PerBarcode: map[int]*PerBarcodeCounts{},
	}
	m.chunkSize = chunkSizeFor(length)
	nChunks := int(length/m.chunkSize) + 1
	m.distribution = make([]BinChunk, nChunks)
	for i := range m.distribution {
		m.distribution[i] = newBinChunk()
	}
	return m
}

func chunkSizeFor(length int64) int64 {
	if length <= minChunkBytes {
		return 1
	}
	size := length / targetChunks
	if size < 1 {
		size = 1
	}
	return size
}

// Clone returns a deep copy of m, suitable for splitting via
// RemoveChunksBefore/RemoveChunksAfter without disturbing the original
// (spec.md §4.12 "the unaligned bin may be split into N roughly
// equal-size sub-bins").
func (m *Metadata) Clone() *Metadata {
	clone := *m
	clone.PerBarcode = make(map[int]*PerBarcodeCounts, len(m.PerBarcode))
	for k, v := range m.PerBarcode {
		counts := *v
		clone.PerBarcode[k] = &counts
	}
	clone.distribution = make([]BinChunk, len(m.distribution))
	for i, c := range m.distribution {
		clone.distribution[i] = BinChunk{
			DataSize:    c.DataSize,
			PerBarcode:  copyInt64Map(c.PerBarcode),
			CigarLength: copyInt64Map(c.CigarLength),
		}
	}
	return &clone
}

func copyInt64Map(m map[int]int64) map[int]int64 {
	out := make(map[int]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IsUnaligned reports whether this is the catch-all unaligned bin.
func (m *Metadata) IsUnaligned() bool {
	return m.BinStart.IsTooManyMatch()
}

// distributionKey maps a reference position (or, for the unaligned bin, a
// cluster number) to a distribution-chunk index, clamped to the bin.
func (m *Metadata) distributionKey(posOrCluster int64) int {
	if m.IsUnaligned() {
		return m.clampChunk(posOrCluster / m.chunkSize)
	}
	offset := posOrCluster
	if offset < 0 {
		offset = 0
	}
	if offset >= m.Length {
		offset = m.Length - 1
	}
	return m.clampChunk(offset / m.chunkSize)
}

func (m *Metadata) clampChunk(idx int64) int {
	if idx < 0 {
		return 0
	}
	if int(idx) >= len(m.distribution) {
		return len(m.distribution) - 1
	}
	return int(idx)
}

// IncrementDataSize records that `bytes` bytes belonging to the given
// reference position (or cluster number, for unaligned bins) and barcode
// were just serialized. It returns the bin-global previous total and the
// previous offset *within this chunk*, which the caller uses to place the
// record so concurrent writers to distinct chunks never collide.
//
// DataSize, the chunk's DataSize and the per-barcode element count are
// updated atomically, but the PerBarcode maps of m and of the chunk are
// read and written without a lock, so concurrent IncrementDataSize calls
// on one Metadata are not safe.
func (m *Metadata) IncrementDataSize(posOrCluster int64, barcode int, nBytes int64) (prevTotal, prevChunkOffset int64) {
	key := m.distributionKey(posOrCluster)
	chunk := &m.distribution[key]
	prevChunkOffset = atomic.AddInt64(&chunk.DataSize, nBytes) - nBytes
	prevTotal = atomic.AddInt64(&m.DataSize, nBytes) - nBytes

	pb, ok := m.PerBarcode[barcode]
	if !ok {
		pb = &PerBarcodeCounts{}
		m.PerBarcode[barcode] = pb
	}
	atomic.AddInt64(&pb.Elements, 1)
	chunk.PerBarcode[barcode] += nBytes
	return prevTotal, prevChunkOffset
}

// TallyOffsets performs an exclusive prefix sum over the chunks' DataSize
// fields, so that afterward each chunk's DataSize is the cumulative byte
// offset at which the chunk begins within the bin.
func (m *Metadata) TallyOffsets() {
	var running int64
	for i := range m.distribution {
		size := m.distribution[i].DataSize
		m.distribution[i].DataSize = running
		running += size
	}
	m.tallied = true
}

// ChunkStartOffset returns the byte offset at which chunk i begins.
// Requires TallyOffsets to have been called.
func (m *Metadata) ChunkStartOffset(i int) int64 {
	if !m.tallied {
		panic("binmeta: TallyOffsets not called")
	}
	return m.distribution[i].DataSize
}

// ChunkEndOffset returns the byte offset at which chunk i ends, i.e. the
// start offset of chunk i+1, or m.DataSize for the last chunk.
func (m *Metadata) ChunkEndOffset(i int) int64 {
	if !m.tallied {
		panic("binmeta: TallyOffsets not called")
	}
	if i+1 < len(m.distribution) {
		return m.distribution[i+1].DataSize
	}
	return m.DataSize
}

// NumChunks returns the number of distribution chunks.
func (m *Metadata) NumChunks() int { return len(m.distribution) }

// RemoveChunksBefore removes all chunks whose end offset is <= minOffset,
// supported only for the unaligned bin (which has no genomic meaning to
// preserve across a split). It returns the number of bytes removed.
func (m *Metadata) RemoveChunksBefore(minOffset int64) int64 {
	if !m.IsUnaligned() {
		panic("binmeta: RemoveChunksBefore only supported for the unaligned bin")
	}
	if !m.tallied {
		panic("binmeta: TallyOffsets not called")
	}
	cut := 0
	for cut < len(m.distribution) && m.ChunkEndOffset(cut) <= minOffset {
		cut++
	}
	removed := int64(0)
	if cut > 0 {
		removed = m.distribution[cut].DataSize
	}
	m.distribution = m.distribution[cut:]
	for i := range m.distribution {
		m.distribution[i].DataSize -= removed
	}
	m.DataSize -= removed
	return removed
}

// RemoveChunksAfter removes all chunks whose start offset is >= minOffset,
// supported only for the unaligned bin. It returns the number of bytes
// remaining (i.e. the new bin size).
func (m *Metadata) RemoveChunksAfter(minOffset int64) int64 {
	if !m.IsUnaligned() {
		panic("binmeta: RemoveChunksAfter only supported for the unaligned bin")
	}
	if !m.tallied {
		panic("binmeta: TallyOffsets not called")
	}
	cut := len(m.distribution)
	for cut > 0 && m.ChunkStartOffset(cut-1) >= minOffset {
		cut--
	}
	newSize := m.DataSize
	if cut == 0 {
		newSize = 0
	} else if cut < len(m.distribution) {
		newSize = m.ChunkStartOffset(cut)
	}
	m.distribution = m.distribution[:cut]
	m.DataSize = newSize
	return m.DataSize
}
