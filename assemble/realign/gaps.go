// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package realign implements the gap realigner (spec.md §4.8): collect
// indel gaps observed across a bin, exhaustively try combinations of them
// against each fragment under a mismatch/gap/extend cost model, and
// rewrite the fragment's CIGAR and position when a combination strictly
// improves it.
package realign

import (
	"math"

	"github.com/biogo/store/llrb"
)

// Gap is one observed indel: positive Length is a deletion, negative is
// an insertion, both anchored at a reference position (spec.md §4.8
// "Gap catalog"). Gap implements llrb.Comparable so a Catalog can store
// gaps ordered by (Pos, Length) in a red-black tree, the way
// encoding/bampair/shard_info.go orders its shard keys.
type Gap struct {
	Pos    int64
	Length int
}

// Compare orders gaps by Pos, then Length, matching shard_info.go's key.Compare.
func (g Gap) Compare(c llrb.Comparable) int {
	o := c.(Gap)
	if g.Pos != o.Pos {
		if g.Pos < o.Pos {
			return -1
		}
		return 1
	}
	return g.Length - o.Length
}

// Catalog accumulates gaps seen across a bin (optionally restricted to a
// sample/project group, per the realignGaps mode -- callers maintain one
// Catalog per group). Insertion into the underlying llrb.Tree both orders
// and deduplicates identical (pos,length) gaps, since Insert replaces any
// existing node comparing equal.
type Catalog struct {
	tree      llrb.Tree
	finalized bool
}

// Add records one observed gap.
func (c *Catalog) Add(pos int64, length int) {
	if c.finalized {
		panic("realign: Add after Finalize")
	}
	c.tree.Insert(Gap{pos, length})
}

// Finalize marks the catalog read-only; the llrb.Tree is already ordered
// and deduplicated as of each Add, so there is no bulk sort step left to do.
func (c *Catalog) Finalize() {
	c.finalized = true
}

// Overlapping returns gaps whose position falls within [lo, hi], the
// intersection of the bin span and the fragment's (padded) span (spec.md
// §4.8 step 2).
func (c *Catalog) Overlapping(lo, hi int64) []Gap {
	if !c.finalized {
		panic("realign: Overlapping before Finalize")
	}
	var out []Gap
	from := Gap{Pos: lo, Length: math.MinInt32}
	to := Gap{Pos: hi + 1, Length: math.MinInt32}
	c.tree.DoRange(func(c llrb.Comparable) bool {
		out = append(out, c.(Gap))
		return false
	}, from, to)
	return out
}

// Len returns the number of distinct gaps in the catalog.
func (c *Catalog) Len() int { return c.tree.Len() }
