// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package fragment

import (
	"fmt"
	"sync/atomic"

	"github.com/grailbio/bioasm/assemble/cigar"
	"github.com/grailbio/bioasm/biosimd"
)

// Collector is the match-selector side fragment buffer (spec.md §4.4): it
// allocates a fixed-width slot per (cluster, read) in a pre-reserved byte
// buffer, so that independent threads writing distinct cluster-id slots
// never contend, the same way encoding/pam's sharder hands each worker a
// disjoint output range.
type Collector struct {
	readsPerCluster int
	maxReadLength   int
	maxCigarOps     int
	slotSize        int

	buf []byte

	// initialized guards against a slot being written twice; one entry
	// per (cluster,read) slot, set with atomic.CompareAndSwap. This
	// mirrors the debug assertion spec.md §5 calls for.
	initialized []int32
}

// NewCollector reserves a buffer for nClusters clusters, each with
// readsPerCluster reads (1 for single-end, 2 for paired-end), sized for
// reads up to maxReadLength bases.
func NewCollector(nClusters, readsPerCluster, maxReadLength int) *Collector {
	maxCigarOps := cigar.MaxOps(maxReadLength)
	slotSize := HeaderSize + (maxReadLength+1)/2 + 4*maxCigarOps
	c := &Collector{
		readsPerCluster: readsPerCluster,
		maxReadLength:   maxReadLength,
		maxCigarOps:     maxCigarOps,
		slotSize:        slotSize,
		buf:             make([]byte, nClusters*readsPerCluster*slotSize),
		initialized:     make([]int32, nClusters*readsPerCluster),
	}
	return c
}

// slotIndex returns the pure function of (clusterID, readIndex) that
// determines a slot's address: concurrent writers touch disjoint ranges
// by construction.
func (c *Collector) slotIndex(clusterID uint32, readIndex int) int {
	return int(clusterID)*c.readsPerCluster + readIndex
}

// SlotSize returns the fixed byte width of one (cluster,read) slot.
func (c *Collector) SlotSize() int { return c.slotSize }

// Write records one fragment into its (clusterID, readIndex) slot. bases
// are in original (not reverse-complemented) read order; if reverse is
// set, Write reverse-complements bases before storing them, matching spec.md §4.4's "BCL
// bases (reverse-complemented if the fragment is reverse-aligned)".
func (c *Collector) Write(clusterID uint32, readIndex int, reverse bool, h *Header, bases []byte, c2 cigar.Cigar) {
	slot := c.slotIndex(clusterID, readIndex)
	if !atomic.CompareAndSwapInt32(&c.initialized[slot], 0, 1) {
		panic(fmt.Sprintf("fragment: slot (cluster=%d,read=%d) written twice", clusterID, readIndex))
	}
	if len(bases) > c.maxReadLength {
		panic("fragment: read exceeds maxReadLength")
	}
	if len(c2) > c.maxCigarOps {
		panic("fragment: cigar exceeds maxCigarOps")
	}
	storeBases := bases
	if reverse {
		storeBases = append([]byte(nil), bases...)
		biosimd.ReverseComp8Inplace(storeBases)
	}
	dst := c.buf[slot*c.slotSize : (slot+1)*c.slotSize]
	Marshal(h, storeBases, c2, dst)
}

// Accessor returns the Accessor for the (clusterID, readIndex) slot. The
// slot must have been written (Write) first; an uninitialized slot
// returns an Accessor over a zeroed header (ReadLength=0, CigarLen=0),
// which the BAM order comparator treats as "send to the bottom"
// (spec.md §4.4(a)).
func (c *Collector) Accessor(clusterID uint32, readIndex int) *Accessor {
	slot := c.slotIndex(clusterID, readIndex)
	return NewAccessor(c.buf[slot*c.slotSize : (slot+1)*c.slotSize])
}

// Initialized reports whether the (clusterID, readIndex) slot has been
// written.
func (c *Collector) Initialized(clusterID uint32, readIndex int) bool {
	return atomic.LoadInt32(&c.initialized[c.slotIndex(clusterID, readIndex)]) != 0
}
