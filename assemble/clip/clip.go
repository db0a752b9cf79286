// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package clip implements the semialigned-ends clipper (spec.md §4.9):
// walk in from each end of a mapped fragment, and soft-clip the leading
// run of bases that never settles into 5 consecutive matches against the
// reference. Grounded on the realigner's walk-against-reference style
// (assemble/realign) and the gap catalog's position bookkeeping.
package clip

import "github.com/grailbio/bioasm/assemble/cigar"

// ConsecutiveMatchesMin is the run length that ends a clip: once this
// many consecutive matches are seen, clipping stops (spec.md §4.9).
const ConsecutiveMatchesMin = 5

// clipRun walks forward through bases (paired 1:1 with reference, same
// length) until ConsecutiveMatchesMin consecutive matches are seen, or
// the bases run out. It returns the number of leading bases to clip and
// the number of those clipped bases that were mismatches (for edit
// distance bookkeeping), or (0,0) if no run of ConsecutiveMatchesMin
// matches was ever found.
func clipRun(bases, reference []byte) (clipped, clippedMismatches int) {
	matchesInARow := 0
	mismatchesTotal := 0
	n := 0
	for n < len(bases) && n < len(reference) && matchesInARow < ConsecutiveMatchesMin {
		match := bases[n] == reference[n]
		if match {
			matchesInARow++
		} else {
			matchesInARow = 0
		}
		if !match {
			mismatchesTotal++
		}
		n++
	}
	if matchesInARow != ConsecutiveMatchesMin {
		return 0, 0
	}
	return n - matchesInARow, mismatchesTotal
}

// reverse returns a newly allocated reversed copy of b.
func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// Fragment is the minimal view of a mapped fragment the clipper needs.
// Reference is a window of the contig's forward strand; Reference[0]
// corresponds to the absolute reference coordinate ReferenceStart, so
// Reference need not start at coordinate 0.
type Fragment struct {
	Bases          []byte // full read, 5'->3', matching Cigar
	Cigar          cigar.Cigar
	Position       int64 // reference start of the first Align op
	ObservedLength int   // reference bases consumed (mirrors Cigar.MappedLength())
	EditDistance   int
	Reference      []byte
	ReferenceStart int64
}

// ClipLeft clips the leading run of mismatches from f, provided doing so
// does not push the fragment's start past binEndPos (a fragment must stay
// in the bin it was assigned to; spec.md §4.9 "Bin boundary interaction").
// It returns the updated Fragment and whether a clip was applied.
func ClipLeft(f Fragment, binEndPos int64) (Fragment, bool) {
	seqStart := 0
	var leadingClip int
	rest := f.Cigar
	if len(rest) > 0 {
		length, op := cigar.Decode(rest[0])
		if op == cigar.SoftClip {
			leadingClip = length
			seqStart = length
			rest = rest[1:]
		}
	}
	if len(rest) == 0 {
		return f, false
	}
	length, op := cigar.Decode(rest[0])
	if op != cigar.Align && op != cigar.Match && op != cigar.Mismatch {
		return f, false
	}
	mappedBegin := length

	seqWindow := f.Bases[seqStart : seqStart+mappedBegin]
	refOff := f.Position - f.ReferenceStart
	if refOff < 0 || int(refOff) >= len(f.Reference) {
		return f, false
	}
	refWindow := f.Reference[refOff:]

	clipped, clippedMismatches := clipRun(seqWindow, refWindow)
	if clipped == 0 {
		return f, false
	}
	if f.Position+int64(clipped) >= binEndPos {
		return f, false
	}

	out := f
	out.Position = f.Position + int64(clipped)
	out.ObservedLength = f.ObservedLength - clipped
	out.EditDistance = f.EditDistance - clippedMismatches

	var newCigar cigar.Cigar
	newCigar = cigar.AppendOperation(newCigar, leadingClip+clipped, cigar.SoftClip)
	newCigar = cigar.AppendOperation(newCigar, mappedBegin-clipped, cigar.Align)
	newCigar = append(newCigar, rest[1:]...)
	out.Cigar = newCigar
	return out, true
}

// ClipRight clips the trailing run of mismatches from f. Unlike ClipLeft,
// trailing clips never cross a bin boundary on their own (the fragment's
// end position only shrinks).
func ClipRight(f Fragment) (Fragment, bool) {
	rest := f.Cigar
	var trailingClip int
	if n := len(rest); n > 0 {
		length, op := cigar.Decode(rest[n-1])
		if op == cigar.SoftClip {
			trailingClip = length
			rest = rest[:n-1]
		}
	}
	if len(rest) == 0 {
		return f, false
	}
	length, op := cigar.Decode(rest[len(rest)-1])
	if op != cigar.Align && op != cigar.Match && op != cigar.Mismatch {
		return f, false
	}
	mappedEnd := length

	seqEnd := len(f.Bases) - trailingClip
	seqWindow := reverse(f.Bases[seqEnd-mappedEnd : seqEnd])

	refEnd := f.Position + int64(f.ObservedLength) - f.ReferenceStart
	if refEnd < 0 || int(refEnd) > len(f.Reference) {
		return f, false
	}
	refWindow := reverse(f.Reference[:refEnd])

	clipped, clippedMismatches := clipRun(seqWindow, refWindow)
	if clipped == 0 {
		return f, false
	}

	out := f
	out.ObservedLength = f.ObservedLength - clipped
	out.EditDistance = f.EditDistance - clippedMismatches

	newCigar := append(cigar.Cigar{}, rest[:len(rest)-1]...)
	newCigar = cigar.AppendOperation(newCigar, mappedEnd-clipped, cigar.Align)
	newCigar = cigar.AppendOperation(newCigar, trailingClip+clipped, cigar.SoftClip)
	out.Cigar = newCigar
	return out, true
}

// Clip applies both ClipLeft and ClipRight to f in sequence, returning
// the (possibly doubly-clipped) fragment and whether either side changed
// it. A fragment with no Align/Match/Mismatch run left after clipping
// never happens: clipRun only reports a clip when ConsecutiveMatchesMin
// further matching bases remain unclipped.
func Clip(f Fragment, binEndPos int64) (Fragment, bool) {
	left, leftClipped := ClipLeft(f, binEndPos)
	right, rightClipped := ClipRight(left)
	return right, leftClipped || rightClipped
}
