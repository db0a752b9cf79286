// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bamio

import (
	"bytes"
	"testing"

	"github.com/grailbio/bioasm/assemble/cigar"
	gbam "github.com/grailbio/bioasm/encoding/bam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterProducesAnIndexWithOneChunkPerRecord(t *testing.T) {
	h := testHeader(t)
	ref := h.Refs()[0]

	var out bytes.Buffer
	w, err := NewWriter(&out, 6, 4, h)
	require.NoError(t, err)

	var c cigar.Cigar
	c = cigar.AppendOperation(c, 100, cigar.Align)

	shard := w.NewShard()
	shard.StartNum(0)
	for i := 0; i < 3; i++ {
		in := RecordInput{
			Name:    "read",
			Ref:     ref,
			Pos:     i * 100,
			MapQ:    60,
			Cigar:   c,
			MateRef: ref,
			Seq:     []byte("ACGT"),
			Qual:    []byte{30, 30, 30, 30},
		}
		require.NoError(t, shard.AddRecord(in, AllTags, 100))
	}
	require.NoError(t, shard.Close())

	idx, err := w.Close()
	require.NoError(t, err)
	require.Len(t, idx.Refs, 1)

	totalChunks := 0
	for _, bin := range idx.Refs[0].Bins {
		totalChunks += len(bin.Chunks)
	}
	assert.Equal(t, 3, totalChunks)
	assert.EqualValues(t, 3, idx.Refs[0].Meta.MappedCount)

	var buf bytes.Buffer
	require.NoError(t, gbam.WriteIndex(&buf, idx))

	reparsed, err := gbam.ReadIndex(&buf)
	require.NoError(t, err)
	require.Len(t, reparsed.Refs, 1)
	assert.Equal(t, len(idx.Refs[0].Bins), len(reparsed.Refs[0].Bins))
}

func TestWriterAcrossMultipleShardsRebasesOffsets(t *testing.T) {
	h := testHeader(t)
	ref := h.Refs()[0]

	var out bytes.Buffer
	w, err := NewWriter(&out, 6, 4, h)
	require.NoError(t, err)

	var c cigar.Cigar
	c = cigar.AppendOperation(c, 50, cigar.Align)

	for shardNum := 0; shardNum < 2; shardNum++ {
		shard := w.NewShard()
		shard.StartNum(shardNum)
		in := RecordInput{
			Name:    "read",
			Ref:     ref,
			Pos:     shardNum * 500,
			MapQ:    60,
			Cigar:   c,
			MateRef: ref,
			Seq:     []byte("ACGT"),
			Qual:    []byte{30, 30, 30, 30},
		}
		require.NoError(t, shard.AddRecord(in, AllTags, 50))
		require.NoError(t, shard.Close())
	}

	idx, err := w.Close()
	require.NoError(t, err)
	require.Len(t, idx.Refs, 1)
	assert.EqualValues(t, 2, idx.Refs[0].Meta.MappedCount)
}
