// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package build

import (
	"github.com/grailbio/base/log"
	"golang.org/x/sys/unix"
)

// PinToNUMANode binds the calling OS thread's scheduling affinity to
// the CPUs of NUMA node `node mod numNodes` (spec.md §5 "pinned to NUMA
// nodes when available"). It must be called from the goroutine that
// should be pinned, after runtime.LockOSThread. numNodes <= 0 or a
// syscall failure (e.g. non-Linux, or a sandbox that denies affinity
// changes) makes this a no-op: NUMA pinning is a scheduling hint, never
// a correctness requirement.
func PinToNUMANode(node, numNodes int, cpusPerNode int) {
	if numNodes <= 0 || cpusPerNode <= 0 {
		return
	}
	target := node % numNodes
	var set unix.CPUSet
	set.Zero()
	for cpu := target * cpusPerNode; cpu < (target+1)*cpusPerNode; cpu++ {
		set.Set(cpu)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		log.Printf("build: NUMA pin to node %d skipped: %v", target, err)
	}
}
