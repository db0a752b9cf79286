// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bamio

import (
	"io"

	"github.com/biogo/hts/sam"
	gbam "github.com/grailbio/bioasm/encoding/bam"
)

// Writer serializes fragments to a BAM file while concurrently building
// its .bai index (spec.md §4.10-§4.11), one Shard per bin so the bin
// sorter/realigner/clipper pipeline's concurrency carries straight
// through to output.
type Writer struct {
	bw      *gbam.ShardedBAMWriter
	ib      *IndexBuilder
	numRefs int
}

// NewWriter opens a BAM writer over w using header, which must already
// list every contig the fragments reference. gzLevel is a
// compress/gzip level; queueSize bounds how many out-of-order shards
// ShardedBAMWriter buffers before a CloseShard call blocks.
func NewWriter(w io.Writer, gzLevel, queueSize int, header *sam.Header) (*Writer, error) {
	bw, err := gbam.NewShardedBAMWriter(w, gzLevel, queueSize, header)
	if err != nil {
		return nil, err
	}
	ib := NewIndexBuilder()
	bw.OnShardWritten(func(shardNum int, start, _ uint64) {
		ib.CommitShard(shardNum, start)
	})
	return &Writer{bw: bw, ib: ib, numRefs: len(header.Refs())}, nil
}

// NewShard returns a Shard that compresses its own run of records
// independently of any other Shard from the same Writer.
func (w *Writer) NewShard() *Shard {
	return &Shard{c: w.bw.GetCompressor(), ib: w.ib}
}

// Close finishes every shard's output and returns the accumulated
// index. It must be called only after every Shard has been closed.
func (w *Writer) Close() (*gbam.Index, error) {
	if err := w.bw.Close(); err != nil {
		return nil, err
	}
	return w.ib.Finish(w.numRefs), nil
}

// Shard is one independently-compressed run of records, numbered by
// StartNum; Writer writes shards to the underlying stream in increasing
// shard-number order regardless of the order their Close calls land in.
type Shard struct {
	c   *gbam.ShardedBAMCompressor
	ib  *IndexBuilder
	num int
}

// StartNum begins a new shard numbered shardNum (0-based, strictly
// increasing across a Writer's lifetime).
func (s *Shard) StartNum(shardNum int) {
	s.num = shardNum
	s.c.StartShard(shardNum)
}

// AddRecord builds and marshals one record, recording its placement for
// the index under construction. mappedRefLen is the number of reference
// bases in.Cigar consumes (cigar.Cigar.MappedLength()).
func (s *Shard) AddRecord(in RecordInput, tags TagSet, mappedRefLen int) error {
	r, err := BuildRecord(in, tags)
	if err != nil {
		return err
	}
	begin := s.c.LocalVOffset()
	if err := s.c.AddRecord(r); err != nil {
		return err
	}
	end := s.c.LocalVOffset()
	s.ib.AddRecord(s.num, r, r.Bin(), begin, end, in.Pos+mappedRefLen)
	return nil
}

// Close finalizes the shard and hands it to the parent Writer.
func (s *Shard) Close() error {
	return s.c.CloseShard()
}
