package cigar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		length int
		op     Op
	}{
		{0, Align},
		{1, Insert},
		{100, Align},
		{5, SoftClip},
		{1<<28 - 1, Delete},
	}
	for _, c := range cases {
		word := Encode(c.length, c.op)
		length, op := Decode(word)
		assert.Equal(t, c.length, length)
		assert.Equal(t, c.op, op)
	}
}

func TestAppendOperationMerges(t *testing.T) {
	var c Cigar
	c = AppendOperation(c, 10, Align)
	c = AppendOperation(c, 5, Align)
	require.Len(t, c, 1)
	length, op := Decode(c[0])
	assert.Equal(t, 15, length)
	assert.Equal(t, Align, op)

	c = AppendOperation(c, 3, Insert)
	require.Len(t, c, 2)
}

func TestMaxOps(t *testing.T) {
	assert.Equal(t, 5, MaxOps(0))
	assert.Equal(t, 25, MaxOps(100))
}

func TestMappedAndReadLength(t *testing.T) {
	var c Cigar
	c = AppendOperation(c, 5, SoftClip)
	c = AppendOperation(c, 90, Align)
	c = AppendOperation(c, 3, Delete)
	c = AppendOperation(c, 2, Align)
	assert.Equal(t, 95, c.MappedLength())
	assert.Equal(t, 97, c.ReadLength())
}

func TestValidate(t *testing.T) {
	var good Cigar
	good = AppendOperation(good, 5, SoftClip)
	good = AppendOperation(good, 90, Align)
	require.NoError(t, good.Validate())

	bad := Cigar{Encode(0, Align)}
	assert.Error(t, bad.Validate())

	badClip := Cigar{Encode(5, SoftClip), Encode(10, Align), Encode(5, SoftClip), Encode(3, Align)}
	assert.Error(t, badClip.Validate())
}

func TestString(t *testing.T) {
	var c Cigar
	c = AppendOperation(c, 10, SoftClip)
	c = AppendOperation(c, 90, Align)
	c = AppendOperation(c, 2, Delete)
	c = AppendOperation(c, 8, Align)
	assert.Equal(t, "10S90M2D8M", c.String())
	assert.Equal(t, "*", Cigar(nil).String())
}
