// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bamio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHeaderContigsAndReadGroups(t *testing.T) {
	h, err := BuildHeader(HeaderOpts{
		Contigs: []Contig{{Name: "chr1", Length: 1000}, {Name: "chr2", Length: 2000}},
		ReadGroups: []ReadGroup{
			{ID: "rg1", Library: "lib1", Sample: "sampleA"},
		},
		ProgramName: "bioasm",
		ProgramArgs: "--realign-gaps",
		Version:     "1.0",
	})
	require.NoError(t, err)
	require.Len(t, h.Refs(), 2)
	assert.Equal(t, "chr1", h.Refs()[0].Name())
	assert.Equal(t, 1000, h.Refs()[0].Len())
	assert.Equal(t, "chr2", h.Refs()[1].Name())
}

func TestBuildHeaderNoReadGroupsOrProgram(t *testing.T) {
	h, err := BuildHeader(HeaderOpts{Contigs: []Contig{{Name: "chr1", Length: 10}}})
	require.NoError(t, err)
	require.Len(t, h.Refs(), 1)
}
