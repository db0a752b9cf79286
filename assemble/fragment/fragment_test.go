package fragment

import (
	"testing"

	"github.com/grailbio/bioasm/assemble/cigar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	h := &Header{
		ContigID:       2,
		Position:       12345,
		ReadIndex:      0,
		AlignmentScore: 42,
		BamTlen:        300,
		MatePosition:   12645,
		Flags:          FlagPaired | FlagProperPair,
		Tile:           1101,
		Barcode:        7,
		ClusterID:      99,
	}
	bases := []byte("ACGTACGTAC")
	var c cigar.Cigar
	c = cigar.AppendOperation(c, 10, cigar.Align)

	buf := make([]byte, HeaderSize+(len(bases)+1)/2+4*len(c))
	Marshal(h, bases, c, buf)

	acc := NewAccessor(buf)
	got := acc.Header()
	assert.Equal(t, h.ContigID, got.ContigID)
	assert.Equal(t, h.Position, got.Position)
	assert.Equal(t, h.Flags, got.Flags)
	assert.Equal(t, uint16(len(bases)), got.ReadLength)
	assert.Equal(t, uint16(len(c)), got.CigarLen)

	gotBases := UnpackBases(acc.PackedBases(), int(got.ReadLength))
	assert.Equal(t, bases, gotBases)

	gotCigar := acc.Cigar()
	require.Len(t, gotCigar, 1)
	assert.Equal(t, c[0], gotCigar[0])

	assert.Equal(t, int64(len(buf)), got.TotalLength())
}

func TestTotalLengthInvariant(t *testing.T) {
	h := &Header{}
	bases := []byte("ACGTA")
	var c cigar.Cigar
	c = cigar.AppendOperation(c, 5, cigar.Align)
	buf := make([]byte, HeaderSize+3+4)
	Marshal(h, bases, c, buf)
	acc := NewAccessor(buf)
	got := acc.Header()
	assert.Equal(t, int64(HeaderSize+3+4), got.TotalLength())
}

func TestCollectorDisjointSlots(t *testing.T) {
	coll := NewCollector(4, 2, 20)
	h0 := &Header{ContigID: 1, Position: 100}
	h1 := &Header{ContigID: 1, Position: 400}
	bases := []byte("AAAAAAAAAACCCCCCCCCC")
	var c cigar.Cigar
	c = cigar.AppendOperation(c, 20, cigar.Align)

	coll.Write(0, 0, false, h0, bases, c)
	coll.Write(0, 1, true, h1, bases, c)

	assert.True(t, coll.Initialized(0, 0))
	assert.True(t, coll.Initialized(0, 1))
	assert.False(t, coll.Initialized(1, 0))

	acc0 := coll.Accessor(0, 0)
	gotBases0 := UnpackBases(acc0.PackedBases(), int(acc0.Header().ReadLength))
	assert.Equal(t, bases, gotBases0)

	acc1 := coll.Accessor(0, 1)
	gotBases1 := UnpackBases(acc1.PackedBases(), int(acc1.Header().ReadLength))
	assert.NotEqual(t, bases, gotBases1) // reverse-complemented on store
}

func TestCollectorDoubleWritePanics(t *testing.T) {
	coll := NewCollector(1, 1, 10)
	h := &Header{}
	bases := []byte("ACGTACGTAC")
	var c cigar.Cigar
	coll.Write(0, 0, false, h, bases, c)
	assert.Panics(t, func() { coll.Write(0, 0, false, h, bases, c) })
}
