// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bamio

import (
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/bioasm/assemble/cigar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader(t *testing.T) *sam.Header {
	h, err := BuildHeader(HeaderOpts{Contigs: []Contig{{Name: "chr1", Length: 1000}}})
	require.NoError(t, err)
	return h
}

func TestBuildRecordEmitsOnlyEnabledTagsThatArePresent(t *testing.T) {
	h := testHeader(t)
	ref := h.Refs()[0]

	var c cigar.Cigar
	c = cigar.AppendOperation(c, 100, cigar.Align)

	in := RecordInput{
		Name:         "read1",
		Ref:          ref,
		Pos:          10,
		MapQ:         60,
		Cigar:        c,
		MateRef:      ref,
		MatePos:      210,
		TLen:         300,
		Seq:          []byte("ACGT"),
		Qual:         []byte{30, 30, 30, 30},
		HaveSingleAS: true,
		SingleAS:     42,
		ReadGroup:    "rg1",
	}
	r, err := BuildRecord(in, AllTags)
	require.NoError(t, err)
	assert.Equal(t, "read1", r.Name)
	assert.Equal(t, "100M", r.Cigar.String())

	var sawSM, sawRG, sawNM bool
	for _, a := range r.AuxFields {
		switch a.Tag() {
		case sam.NewTag("SM"):
			sawSM = true
		case sam.NewTag("RG"):
			sawRG = true
		case sam.NewTag("NM"):
			sawNM = true
		}
	}
	assert.True(t, sawSM)
	assert.True(t, sawRG)
	assert.False(t, sawNM) // HaveEditDistance unset
}

func TestBuildRecordTagSetDisablesTag(t *testing.T) {
	h := testHeader(t)
	ref := h.Refs()[0]
	var c cigar.Cigar
	c = cigar.AppendOperation(c, 50, cigar.Align)

	in := RecordInput{
		Name:         "read2",
		Ref:          ref,
		Pos:          0,
		MapQ:         30,
		Cigar:        c,
		MateRef:      ref,
		Seq:          []byte("ACGT"),
		Qual:         []byte{20, 20, 20, 20},
		HaveSingleAS: true,
		SingleAS:     1,
	}
	r, err := BuildRecord(in, TagSet{}) // every tag disabled
	require.NoError(t, err)
	assert.Empty(t, r.AuxFields)
}
