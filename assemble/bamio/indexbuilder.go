// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bamio

import (
	"sort"
	"sync"

	"github.com/biogo/hts/bgzf"
	"github.com/biogo/hts/sam"
	gbam "github.com/grailbio/bioasm/encoding/bam"
)

// linearWindow is the bucket width (bytes of reference) the BAM linear
// index uses, fixed by the .bai format (spec.md §4.11 "linear index").
const linearWindow = 1 << 14

// IndexBuilder accumulates a .bai index while a gbam.ShardedBAMWriter
// concurrently compresses shards. Each compressor records its records'
// virtual offsets relative to its own shard (ShardedBAMCompressor.
// LocalVOffset); IndexBuilder holds those pending until
// ShardedBAMWriter.OnShardWritten reports the byte position the shard
// actually landed at in the output stream, at which point it rebases
// them into file-wide offsets and folds them into the final index.
// Compression and indexing stay fully concurrent; only the cheap
// rebase-and-merge step below is serialized per shard.
type IndexBuilder struct {
	mu       sync.Mutex
	pending  map[int][]pendingEntry
	refs     map[int]*refAccumulator
	unmapped uint64
}

type pendingEntry struct {
	refID            int
	bin              uint32
	begin, end       uint64 // local to the shard, pre-rebase
	pos, refEnd      int
	unmapped         bool
	linearIneligible bool // secondary/supplementary: not counted in MappedCount and don't extend the linear index
}

type refAccumulator struct {
	bins      map[uint32]*binAccumulator
	intervals []bgzf.Offset
	meta      gbam.Metadata
}

type binAccumulator struct {
	chunks []gbam.Chunk
}

// NewIndexBuilder returns an empty builder.
func NewIndexBuilder() *IndexBuilder {
	return &IndexBuilder{
		pending: make(map[int][]pendingEntry),
		refs:    make(map[int]*refAccumulator),
	}
}

// AddRecord records the shard-local placement of one record about to be
// (or just) marshaled by the compressor for shardNum: begin/end are
// ShardedBAMCompressor.LocalVOffset() calls bracketing the AddRecord
// call, bin is r.Bin(), and refEnd is the reference position just past
// the record's aligned span.
func (b *IndexBuilder) AddRecord(shardNum int, r *sam.Record, bin uint32, begin, end uint64, refEnd int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := pendingEntry{pos: r.Pos, refEnd: refEnd}
	if r.Ref == nil || r.Flags&sam.Unmapped != 0 {
		entry.unmapped = true
	} else {
		entry.refID = r.Ref.ID()
		entry.bin = bin
		entry.begin, entry.end = begin, end
		entry.linearIneligible = r.Flags&(sam.Secondary|sam.Supplementary) != 0
	}
	b.pending[shardNum] = append(b.pending[shardNum], entry)
}

// CommitShard rebases every pending record of shardNum by startOffset
// (the byte position the shard begins at in the final file, as reported
// by gbam.ShardedBAMWriter.OnShardWritten) and folds them into the
// accumulated index. Wire it up with:
//
//	bw.OnShardWritten(func(shardNum int, start, _ uint64) { ib.CommitShard(shardNum, start) })
func (b *IndexBuilder) CommitShard(shardNum int, startOffset uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.pending[shardNum] {
		if e.unmapped {
			b.unmapped++
			continue
		}
		ra, ok := b.refs[e.refID]
		if !ok {
			ra = &refAccumulator{bins: make(map[uint32]*binAccumulator)}
			b.refs[e.refID] = ra
		}
		ba, ok := ra.bins[e.bin]
		if !ok {
			ba = &binAccumulator{}
			ra.bins[e.bin] = ba
		}
		begin := rebaseOffset(toBgzfOffset(e.begin), startOffset)
		end := rebaseOffset(toBgzfOffset(e.end), startOffset)
		ba.chunks = append(ba.chunks, gbam.Chunk{Begin: begin, End: end})

		if e.linearIneligible {
			continue
		}
		ra.meta.MappedCount++

		lo, hi := e.pos/linearWindow, e.refEnd/linearWindow
		if hi < lo {
			hi = lo
		}
		if n := hi + 1; n > len(ra.intervals) {
			grown := make([]bgzf.Offset, n)
			copy(grown, ra.intervals)
			ra.intervals = grown
		}
		for w := lo; w <= hi; w++ {
			cur := ra.intervals[w]
			if cur == (bgzf.Offset{}) || voffsetLess(begin, cur) {
				ra.intervals[w] = begin
			}
		}
	}
	delete(b.pending, shardNum)
}

// Finish returns the accumulated file-wide index. Call only after every
// shard has been committed (i.e. after ShardedBAMWriter.Close returns).
func (b *IndexBuilder) Finish(numRefs int) *gbam.Index {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := &gbam.Index{Refs: make([]gbam.Reference, numRefs)}
	for refID := 0; refID < numRefs; refID++ {
		ra, ok := b.refs[refID]
		if !ok {
			continue
		}
		ref := gbam.Reference{Intervals: ra.intervals, Meta: ra.meta}
		binNums := make([]int, 0, len(ra.bins))
		for n := range ra.bins {
			binNums = append(binNums, int(n))
		}
		sort.Ints(binNums)
		for _, n := range binNums {
			ref.Bins = append(ref.Bins, gbam.Bin{BinNum: uint32(n), Chunks: ra.bins[uint32(n)].chunks})
		}
		idx.Refs[refID] = ref
	}
	unmapped := b.unmapped
	idx.UnmappedCount = &unmapped
	return idx
}

func rebaseOffset(o bgzf.Offset, byDelta uint64) bgzf.Offset {
	return bgzf.Offset{File: o.File + int64(byDelta), Block: o.Block}
}

func toBgzfOffset(voffset uint64) bgzf.Offset {
	return bgzf.Offset{File: int64(voffset >> 16), Block: uint16(voffset)}
}

func voffsetLess(a, b bgzf.Offset) bool {
	if a.File != b.File {
		return a.File < b.File
	}
	return a.Block < b.Block
}
