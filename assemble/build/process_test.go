// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package build

import (
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/bioasm/assemble/binmeta"
	"github.com/grailbio/bioasm/assemble/binsort"
	"github.com/grailbio/bioasm/assemble/cigar"
	"github.com/grailbio/bioasm/assemble/fragment"
	"github.com/grailbio/bioasm/assemble/refpos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stringReference is a trivial ReferenceSource over one in-memory contig,
// for exercising the gap realigner/clipper wiring without a real FASTA.
type stringReference string

func (r stringReference) Get(seqName string, start, end uint64) (string, error) {
	s := string(r)
	if end > uint64(len(s)) {
		end = uint64(len(s))
	}
	return s[start:end], nil
}

func marshalTestFragment(t *testing.T, h *fragment.Header, bases []byte, c cigar.Cigar) []byte {
	t.Helper()
	dst := make([]byte, fragment.HeaderSize+(len(bases)+1)/2+4*len(c))
	fragment.Marshal(h, bases, c, dst)
	return dst
}

func newTestRef(t *testing.T) *sam.Reference {
	t.Helper()
	ref, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	return ref
}

func TestProcessorComputeProducesOneRecordPerFragment(t *testing.T) {
	ref := newTestRef(t)
	bases := []byte("ACGTACGTAC")
	c := cigar.Cigar{cigar.Encode(len(bases), cigar.Align)}

	h := &fragment.Header{
		ContigID:       0,
		Position:       100,
		AlignmentScore: 60,
		Barcode:        1,
		ClusterID:      42,
		Tile:           7003,
	}
	data := marshalTestFragment(t, h, bases, c)

	meta := &binmeta.Metadata{Index: 0, BinStart: refpos.New(0, 0), Length: 1000}
	binRef := &BinRef{Meta: meta, RefName: "chr1", Ref: ref, BinEnd: 1000}
	lb := &loadedBin{
		meta: meta,
		buf:  fragment.NewPackedFragmentBuffer(data),
		se:   []fragment.SeFragmentIndex{{FStrandPos: refpos.New(0, 100), DataOffset: 0}},
	}
	w := &binWork{ref: binRef, bin: lb}

	p := &Processor{
		Reference: stringReference(repeatSeq("ACGTACGTAC", 200)),
		Stats:     NewTileStats(),
	}

	computed, err := p.Compute(Job{Index: 0}, w)
	require.NoError(t, err)
	records := computed.([]computedRecord)
	require.Len(t, records, 1)
	assert.Equal(t, 100, records[0].in.Pos)
	assert.Equal(t, uint32(7003), records[0].tile)
	assert.True(t, records[0].unique)
}

func repeatSeq(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func TestCollectGapsReportsDeletionsAndInsertions(t *testing.T) {
	c := cigar.Cigar{
		cigar.Encode(5, cigar.Align),
		cigar.Encode(2, cigar.Delete),
		cigar.Encode(3, cigar.Align),
		cigar.Encode(1, cigar.Insert),
		cigar.Encode(4, cigar.Align),
	}
	gaps := collectGaps(1000, c)
	require.Len(t, gaps, 2)
	assert.Equal(t, int64(1005), gaps[0].Pos)
	assert.Equal(t, 2, gaps[0].Length)
	assert.Equal(t, int64(1010), gaps[1].Pos)
	assert.Equal(t, -1, gaps[1].Length)
}

func TestMapQPessimisticCapsAnythingShortOfMax(t *testing.T) {
	assert.Equal(t, byte(0), mapq(-1, false))
	assert.Equal(t, byte(60), mapq(60, false))
	assert.Equal(t, byte(60), mapq(100, false))
	assert.Equal(t, byte(3), mapq(45, true))
	assert.Equal(t, byte(60), mapq(60, true))
}

func TestDedupModeMapsFlagsToFilterMode(t *testing.T) {
	assert.Equal(t, binsort.ModeNoOp, dedupMode(Opts{}))
	assert.Equal(t, binsort.ModeMark, dedupMode(Opts{KeepDuplicates: true}))
	assert.Equal(t, binsort.ModeDrop, dedupMode(Opts{MarkDuplicates: true}))
}
