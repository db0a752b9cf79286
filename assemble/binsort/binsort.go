// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package binsort implements the bin sorter / duplicate filter
// (spec.md §4.7): load a bin's fragment index side-files, group by
// duplicate-ranking key, collapse PCR/optical duplicates by library, and
// optionally mark rather than drop them. Grounded on
// markduplicates/duplicate_key.go's orientation/library key idea, adapted
// from BAM-level post-sort records to the pre-BAM bin/index representation
// spec.md §3-§4.7 describe. The group maps below key on a highwayhash sum of
// DuplicateKey's fields rather than the struct itself, the way
// fusion/postprocess.go's groupCandidatesByGenePair hashes its composite key
// into a fixed-size map key.
package binsort

import (
	"encoding/binary"

	"github.com/grailbio/bioasm/assemble/fragment"
	"github.com/grailbio/bioasm/assemble/refpos"
	"github.com/minio/highwayhash"
)

// tileClusterMultiplier is the "insanely high" constant spec.md §4.7 calls
// for: it must exceed any real clusterId so that tile*K+clusterId is
// unique per (tile,clusterId) pair.
const tileClusterMultiplier = uint64(1) << 32

// DuplicateKey groups records that are candidates to be duplicates of one
// another (spec.md §4.7).
type DuplicateKey struct {
	FStrandPos refpos.ReferencePosition
	MateAnchor refpos.ReferencePosition
	MateInfo   int64
	Library    int
}

// Record is one candidate (fragment or pair) considered by the filter.
// Two Records with the same DuplicateKey are duplicates of each other
// UNLESS they share (Tile, ClusterID) -- in which case they are the two
// mates of the same template and must never suppress each other
// (spec.md §4.7 "Equality").
type Record struct {
	Index fragment.Index
	Key   DuplicateKey

	Tile      uint32
	ClusterID uint32

	Quality        uint16
	TotalReadLen   int
	EditDistance   int
	AlignmentScore int

	// Duplicate is set by Filter when markDuplicates/keepDuplicates
	// caused this record to be flagged rather than dropped.
	Duplicate bool
}

// DuplicateClusterRank packs the §4.7 ranking key:
// (quality<<32) | ((totalReadLen-editDistance)<<16) | alignmentScore.
func DuplicateClusterRank(quality uint16, totalReadLen, editDistance, alignmentScore int) uint64 {
	adjustedLen := totalReadLen - editDistance
	if adjustedLen < 0 {
		adjustedLen = 0
	}
	return uint64(quality)<<32 | (uint64(adjustedLen)&0xffff)<<16 | uint64(uint16(alignmentScore))
}

func (r *Record) rank() uint64 {
	return DuplicateClusterRank(r.Quality, r.TotalReadLen, r.EditDistance, r.AlignmentScore)
}

func (r *Record) tileClusterSortKey() uint64 {
	return uint64(r.Tile)*tileClusterMultiplier + uint64(r.ClusterID)
}

// hashKey is a fixed-size highwayhash digest used as a map key in place of
// DuplicateKey itself.
type hashKey = [highwayhash.Size]uint8

var zeroSeed = hashKey{}

// sum hashes k's fields into a hashKey, the way
// fusion/postprocess.go's groupCandidatesByGenePair builds its hashKey from a
// gene pair via encoding/binary before calling highwayhash.Sum.
func (k DuplicateKey) sum() hashKey {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(k.FStrandPos))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(k.MateAnchor))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(k.MateInfo))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(k.Library))
	return highwayhash.Sum(buf[:], zeroSeed[:])
}

// Mode selects the filter's drop-vs-mark behavior (spec.md §4.7
// "Marking vs removing").
type Mode int

const (
	// ModeNoOp keeps everything, unmodified: !markDuplicates && !keepDuplicates.
	ModeNoOp Mode = iota
	// ModeDrop drops losers: markDuplicates && !keepDuplicates.
	ModeDrop
	// ModeMark retains losers but flags them as duplicates: keepDuplicates.
	ModeMark
)

// Filter groups records by (DuplicateKey), and within each group further
// groups by (Tile, ClusterID) (since F/R mates of one template legitimately
// share a DuplicateKey). Exactly one (Tile,ClusterID) group per DuplicateKey
// survives unflagged: each (Tile,ClusterID) group is ranked by the
// DuplicateClusterRank of its first record in input order, the highest
// rank wins, and ties are broken by ascending tile*K+clusterId.
//
// It returns the surviving records in input order (ModeNoOp/ModeMark keep
// everything; ModeDrop removes losers).
func Filter(records []Record, mode Mode) []Record {
	if mode == ModeNoOp {
		return records
	}

	type group struct {
		bestTileCluster uint64
		bestRank        uint64
		bestTCKey       uint64 // tileClusterSortKey of the current best, for tie-break
	}
	groups := map[hashKey]*group{}

	// First pass: find the winning (tile,clusterId) per key.
	tileClusterOf := map[hashKey]map[uint64]bool{}
	for i := range records {
		r := &records[i]
		key := r.Key.sum()
		g, ok := groups[key]
		tcKey := r.tileClusterSortKey()
		if tileClusterOf[key] == nil {
			tileClusterOf[key] = map[uint64]bool{}
		}
		isNewTC := !tileClusterOf[key][tcKey]
		tileClusterOf[key][tcKey] = true
		if !ok {
			groups[key] = &group{bestTileCluster: tcKey, bestRank: r.rank(), bestTCKey: tcKey}
			continue
		}
		if !isNewTC {
			continue
		}
		rank := r.rank()
		if rank > g.bestRank || (rank == g.bestRank && tcKey < g.bestTCKey) {
			g.bestRank = rank
			g.bestTileCluster = tcKey
			g.bestTCKey = tcKey
		}
	}

	var survivors []Record
	for i := range records {
		r := records[i]
		g := groups[r.Key.sum()]
		if r.tileClusterSortKey() == g.bestTileCluster {
			survivors = append(survivors, r)
			continue
		}
		switch mode {
		case ModeDrop:
			// loser dropped.
		case ModeMark:
			r.Duplicate = true
			survivors = append(survivors, r)
		}
	}
	return survivors
}
