// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package template implements the template builder (spec.md §4.6): given
// candidate single-end alignments for the two mates of a cluster, pick the
// best pair, score it via rest-of-genome-corrected mapping quality, and
// rescue unaligned mates via the shadow aligner.
package template

import (
	"github.com/grailbio/bioasm/assemble/cigar"
	"github.com/grailbio/bioasm/assemble/refpos"
)

// wellAnchoredSpan is the minimum span between non-unique seed offsets
// that counts as "well anchored" in the absence of any unique seed
// (spec.md §3 FragmentMetadata.isWellAnchored).
const wellAnchoredSpan = 32

// FragmentMetadata is the in-memory, per-cluster, per-read-end candidate
// alignment spec.md §3 describes.
type FragmentMetadata struct {
	ClusterID uint32

	ContigID int32
	Position int64 // may be briefly negative before cigar finalization
	Reverse  bool

	ReadIndex int
	ObservedLength int
	Cigar          cigar.Cigar

	MismatchCount int
	GapCount      int
	EditDistance  int

	LogProbability     float64
	AlignmentScore     int
	SmithWatermanScore int

	LowClipped, HighClipped int
	MismatchCycles          []int

	FirstSeedIndex  int
	UniqueSeedCount int

	NonUniqueSeedOffsetMin, NonUniqueSeedOffsetMax int
	RepeatSeedsCount                               int
}

// IsAligned reports whether this candidate has a non-empty cigar.
func (f *FragmentMetadata) IsAligned() bool { return len(f.Cigar) > 0 }

// IsWellAnchored reports whether the candidate has at least one unique
// seed, or two non-unique seeds spanning at least wellAnchoredSpan bases
// of the read (spec.md §3, GLOSSARY "Well anchored").
func (f *FragmentMetadata) IsWellAnchored() bool {
	if f.UniqueSeedCount > 0 {
		return true
	}
	return f.NonUniqueSeedOffsetMax-f.NonUniqueSeedOffsetMin >= wellAnchoredSpan
}

// RefPos returns the packed reference position, or NoMatch if unaligned.
func (f *FragmentMetadata) RefPos() refpos.ReferencePosition {
	if !f.IsAligned() || f.Position < 0 {
		return refpos.NoMatch
	}
	return refpos.New(f.ContigID, f.Position)
}

// End returns the reference coordinate one past the last mapped base.
func (f *FragmentMetadata) End() int64 {
	return f.Position + int64(f.Cigar.MappedLength())
}

// BamTemplate is the final product of the template builder: the (up to
// two) chosen fragments plus the template-level score and proper-pair
// classification (spec.md §4.6 "Responsibility").
type BamTemplate struct {
	Fragments     [2]*FragmentMetadata
	AlignmentScore int
	ProperPair     bool
	// Dodgy records whether the anchoring evidence backing this template
	// was weak enough to trigger the §4.6.6 dodgy-alignment policy.
	Dodgy bool
}

// IsPaired reports whether both mates of the template are present.
func (t *BamTemplate) IsPaired() bool {
	return t.Fragments[0] != nil && t.Fragments[1] != nil
}
