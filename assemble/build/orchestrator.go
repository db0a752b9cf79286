// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package build

import (
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
)

// ErrTerminated is returned to every job still in flight once any job's
// hook sets forceTermination (spec.md §7 "Propagation policy").
var ErrTerminated = errors.New("build: orchestrator terminated early due to a prior failure")

// Job is one bin's place in the processing order. Index must be dense
// and strictly increasing across a Run call; it is both the ordering
// key for the allocate/save slots and the fairness key for the compute
// slot (spec.md §4.12, §5 "Scheduling model").
type Job struct {
	Index int
	Bin   interface{} // *binmeta.Metadata in production use; opaque here so build stays decoupled from the bin format
}

// Hooks supplies the actual per-bin work. Each stage receives the
// previous stage's result and returns the next one; Compute folds
// dedupe+realign+clip into a single stage since none of the three
// needs to suspend independently (spec.md §5 "Suspension points": a
// worker never suspends mid-compute, only at slot-wait points).
type Hooks interface {
	Allocate(job Job) (mem interface{}, err error)
	Load(job Job, mem interface{}) (loaded interface{}, err error)
	Compute(job Job, loaded interface{}) (computed interface{}, err error)
	WriteBGZF(job Job, computed interface{}) (written interface{}, err error)
	MergeIndex(job Job, written interface{}) error
}

// Config bounds the orchestrator's load/compute concurrency (spec.md
// §4.12 "load and compute have configurable parallelism").
type Config struct {
	LoadParallelism    int
	ComputeParallelism int
}

// Orchestrator drives a set of bins through the six-state pipeline
// (spec.md §4.12): AllocateMemory -> Load -> Compute -> WaitSaveSlot ->
// WriteBGZF -> MergeIndex. Allocate and the save entry point are
// strictly ordered by bin index to bound peak memory and keep output
// ordering well-defined; Load and Compute run with configurable
// parallelism, and Compute additionally obeys a fairness rule so a bin
// whose prerequisites are ready never starves behind a larger bin index
// that got there first.
type Orchestrator struct {
	mu   sync.Mutex
	cond *sync.Cond

	nextAllocate int
	nextSave     int

	loadSlots, loadInUse       int
	computeSlots, computeInUse int
	computeWaiting             map[int]struct{}

	terminated bool
	firstErr   error
}

// NewOrchestrator creates an Orchestrator ready to process bins with
// indices 0..N-1 in ascending order.
func NewOrchestrator(cfg Config) *Orchestrator {
	o := &Orchestrator{
		loadSlots:      cfg.LoadParallelism,
		computeSlots:   cfg.ComputeParallelism,
		computeWaiting: make(map[int]struct{}),
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Run processes every job through the six-state pipeline, spawning one
// goroutine per job; the slot machinery, not the goroutine count, is
// what bounds actual concurrency. Run returns the first error any
// hook raised (ErrTerminated for jobs aborted by a sibling's failure).
func (o *Orchestrator) Run(jobs []Job, hooks Hooks) error {
	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for _, job := range jobs {
		job := job
		go func() {
			defer wg.Done()
			if err := o.process(job, hooks); err != nil {
				o.fail(err)
			}
		}()
	}
	wg.Wait()
	return o.firstErr
}

func (o *Orchestrator) process(job Job, hooks Hooks) error {
	if err := o.acquireOrdered(&o.nextAllocate, job.Index); err != nil {
		return err
	}
	mem, err := hooks.Allocate(job)
	if err != nil {
		return errors.E(err, fmt.Sprintf("bin %d: allocate:", job.Index))
	}

	if err := o.acquireLoadSlot(); err != nil {
		return err
	}
	loaded, err := hooks.Load(job, mem)
	o.releaseLoadSlot()
	if err != nil {
		return errors.E(err, fmt.Sprintf("bin %d: load:", job.Index))
	}

	if err := o.acquireComputeSlot(job.Index); err != nil {
		return err
	}
	computed, err := hooks.Compute(job, loaded)
	o.releaseComputeSlot()
	if err != nil {
		return errors.E(err, fmt.Sprintf("bin %d: compute:", job.Index))
	}

	if err := o.acquireOrdered(&o.nextSave, job.Index); err != nil {
		return err
	}
	written, err := hooks.WriteBGZF(job, computed)
	if err != nil {
		return errors.E(err, fmt.Sprintf("bin %d: write bgzf:", job.Index))
	}
	if err := hooks.MergeIndex(job, written); err != nil {
		return errors.E(err, fmt.Sprintf("bin %d: merge index:", job.Index))
	}
	return nil
}

// fail records the first failure and flips forceTermination, waking
// every thread blocked at a wait point so it can bail out (spec.md §7).
func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.terminated {
		o.terminated = true
		o.firstErr = err
	}
	o.cond.Broadcast()
}

// acquireOrdered blocks until counter equals idx, then advances it,
// letting the next bin in sequence proceed immediately; this bounds
// only the *order* of entry, not the duration of the work that follows,
// since bamio's shard writer already reorders physically-concurrent
// writes back into bin-index order.
func (o *Orchestrator) acquireOrdered(counter *int, idx int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for *counter != idx {
		if o.terminated {
			return ErrTerminated
		}
		o.cond.Wait()
	}
	if o.terminated {
		return ErrTerminated
	}
	*counter++
	o.cond.Broadcast()
	return nil
}

func (o *Orchestrator) acquireLoadSlot() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.loadInUse >= o.loadSlots {
		if o.terminated {
			return ErrTerminated
		}
		o.cond.Wait()
	}
	if o.terminated {
		return ErrTerminated
	}
	o.loadInUse++
	return nil
}

func (o *Orchestrator) releaseLoadSlot() {
	o.mu.Lock()
	o.loadInUse--
	o.mu.Unlock()
	o.cond.Broadcast()
}

// acquireComputeSlot blocks idx into the waiting set until a compute
// slot is free AND idx is the lowest index currently waiting (spec.md
// §4.12 "fairness rule").
func (o *Orchestrator) acquireComputeSlot(idx int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.computeWaiting[idx] = struct{}{}
	for {
		if o.terminated {
			delete(o.computeWaiting, idx)
			return ErrTerminated
		}
		if o.computeInUse < o.computeSlots && idx == o.lowestWaitingLocked() {
			delete(o.computeWaiting, idx)
			o.computeInUse++
			return nil
		}
		o.cond.Wait()
	}
}

func (o *Orchestrator) lowestWaitingLocked() int {
	lowest := -1
	for idx := range o.computeWaiting {
		if lowest == -1 || idx < lowest {
			lowest = idx
		}
	}
	return lowest
}

func (o *Orchestrator) releaseComputeSlot() {
	o.mu.Lock()
	o.computeInUse--
	o.mu.Unlock()
	o.cond.Broadcast()
}
