// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package shadow implements the shadow aligner (spec.md §4.5): given an
// aligned orphan and its unaligned mate, locate the best placement of the
// mate within the orphan's mate-insert window via a small k-mer hash,
// grounded on fusion/kmer.go's base<->2-bit mapping and fusion/kmer_index.go's
// farmhash-sharded lookup idea, scaled down to the short window this
// problem actually searches.
package shadow

import (
	"sort"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/bioasm/assemble/qual"
	"github.com/grailbio/bioasm/assemble/refpos"
)

// kmerLen is deliberately small: the hash table only needs to disambiguate
// positions within a several-hundred-base rescue window, not a whole
// genome, unlike fusion/kmer_index.go's genome-wide map.
const kmerLen = 11

// nSlots is the bucket count for the farmhash-addressed table; a single
// unsharded table is enough at this window's scale (fusion/kmer_index.go
// shards 256-ways because it indexes the whole genome).
const nSlots = 1024

var base2bit [256]int8

func init() {
	for i := range base2bit {
		base2bit[i] = -1
	}
	base2bit['A'], base2bit['a'] = 0, 0
	base2bit['C'], base2bit['c'] = 1, 1
	base2bit['G'], base2bit['g'] = 2, 2
	base2bit['T'], base2bit['t'] = 3, 3
}

// kmerAt packs the kmerLen bases starting at pos into a 2-bit-per-base key,
// then hashes it the way fusion/kmer_index.go's hashKmer does, returning a
// bucket index into a nSlots-sized table.
func kmerAt(seq []byte, pos int) (int, bool) {
	k := uint64(0)
	for i := 0; i < kmerLen; i++ {
		b := base2bit[seq[pos+i]]
		if b < 0 {
			return 0, false
		}
		k = k<<2 | uint64(b)
	}
	h := farm.Hash64WithSeed(nil, k)
	return int(h % nSlots), true
}

// Candidate is one placement hypothesis for the shadow, best-first after
// FindCandidates sorts by LogProbability.
type Candidate struct {
	Pos            refpos.ReferencePosition
	LogProbability float64
	MismatchCount  int
}

// maxCandidates bounds how many distinct hash hits we'll pursue; beyond
// this the template is repetitive and would score low anyway (spec.md
// §4.5 step 4).
const maxCandidates = 64

// Window is the rescue window within which the shadow may be placed,
// computed by the caller from TLS statistics (spec.md §4.5 step 1).
type Window struct {
	MinPos, MaxPos refpos.ReferencePosition
}

// RescueWindow computes [minPos, maxPos] around an orphan's position
// using the nominal maximum template length, widened to bestTemplateLength
// if that pair is longer than the nominal dominant template (spec.md
// §4.5 step 1), plus padding on both sides. nominalMin is not used.
func RescueWindow(orphanStart refpos.ReferencePosition, nominalMin, nominalMax, padding, bestTemplateLength int64) Window {
	span := nominalMax
	if bestTemplateLength > span {
		span = bestTemplateLength
	}
	lo := orphanStart.Offset() - padding
	if lo < 0 {
		lo = 0
	}
	hi := orphanStart.Offset() + span + padding
	return Window{
		MinPos: refpos.New(orphanStart.ContigID(), lo),
		MaxPos: refpos.New(orphanStart.ContigID(), hi),
	}
}

// FindCandidates searches for placements of shadowSeq (already oriented
// per the template's alignment model: the caller reverse-complements it
// first if that's what the model calls for) within win against
// reference, which must cover exactly [win.MinPos, win.MaxPos).
//
// It returns false if no candidate is viable, matching the caller
// contract in spec.md §4.5: the caller distinguishes "no candidate" from
// "ambiguous repeat" by checking len(candidates) > 0 on a true return.
func FindCandidates(shadowSeq, shadowQuals []byte, reference []byte, win Window, table *qual.Table) ([]Candidate, bool) {
	if len(shadowSeq) < kmerLen || len(reference) < kmerLen {
		return nil, false
	}

	// Step 2: hash the shadow sequence, storing the first occurrence of
	// each kmer (-1 means absent).
	shadowHash := [nSlots]int{}
	for i := range shadowHash {
		shadowHash[i] = -1
	}
	for pos := 0; pos+kmerLen <= len(shadowSeq); pos++ {
		k, ok := kmerAt(shadowSeq, pos)
		if !ok {
			continue
		}
		if shadowHash[k] == -1 {
			shadowHash[k] = pos
		}
	}

	// Step 3: scan the reference window, emitting a candidate position
	// refPos - shadowHashPos for every matching kmer, suppressing
	// immediate duplicates.
	var rawPositions []int64
	lastEmitted := int64(-1) // reference offset within the window, not an absolute position
	for refOff := 0; refOff+kmerLen <= len(reference); refOff++ {
		k, ok := kmerAt(reference, refOff)
		if !ok {
			continue
		}
		shadowPos := shadowHash[k]
		if shadowPos == -1 {
			continue
		}
		candOff := int64(refOff - shadowPos)
		if candOff == lastEmitted {
			continue
		}
		lastEmitted = candOff
		rawPositions = append(rawPositions, candOff)
	}

	// Step 4: dedup and sort; bail early if too repetitive.
	positions := dedupSorted(rawPositions)
	if len(positions) == 0 {
		return nil, false
	}
	if len(positions) > maxCandidates {
		return nil, false
	}

	contig := win.MinPos.ContigID()
	base := win.MinPos.Offset()

	// Step 5: ungapped scoring of each candidate position, keep the best
	// by LogProbability. No gapped alignment of the shadow is attempted.
	var best []Candidate
	for _, off := range positions {
		refStart := off
		if refStart < 0 || refStart+int64(len(shadowSeq)) > int64(len(reference)) {
			continue
		}
		mismatch := make([]bool, len(shadowSeq))
		nMismatch := 0
		for i := range shadowSeq {
			if reference[refStart+int64(i)] != shadowSeq[i] {
				mismatch[i] = true
				nMismatch++
			}
		}
		lp := table.LogProbability(shadowQuals, mismatch)
		best = append(best, Candidate{
			Pos:            refpos.New(contig, base+refStart),
			LogProbability: lp,
			MismatchCount:  nMismatch,
		})
	}
	if len(best) == 0 {
		return nil, false
	}
	sort.Slice(best, func(i, j int) bool { return best[i].LogProbability > best[j].LogProbability })
	return best, true
}

func dedupSorted(vals []int64) []int64 {
	if len(vals) == 0 {
		return nil
	}
	cp := append([]int64(nil), vals...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	out := cp[:1]
	for _, v := range cp[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
