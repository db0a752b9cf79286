// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package build implements the orchestrator that drives one bin at a
// time through allocate/load/compute/save (spec.md §4.12): the
// dedupe+realign+clip pipeline of assemble/binsort, assemble/realign,
// and assemble/clip feed into assemble/bamio's BGZF writer and index
// builder, under a thread pool with strictly-ordered allocation and
// save slots and a fairness rule over the compute slot.
package build

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// GapRealignMode selects which reads the gap realigner considers
// (spec.md §6 "realign-gaps").
type GapRealignMode int

const (
	RealignGapsNone GapRealignMode = iota
	RealignGapsSample
	RealignGapsProject
	RealignGapsAll
)

func (m GapRealignMode) String() string {
	switch m {
	case RealignGapsNone:
		return "none"
	case RealignGapsSample:
		return "sample"
	case RealignGapsProject:
		return "project"
	case RealignGapsAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseGapRealignMode parses the "realign-gaps" flag value.
func ParseGapRealignMode(s string) (GapRealignMode, error) {
	switch s {
	case "none":
		return RealignGapsNone, nil
	case "sample":
		return RealignGapsSample, nil
	case "project":
		return RealignGapsProject, nil
	case "all":
		return RealignGapsAll, nil
	default:
		return 0, errors.New(fmt.Sprintf("build: invalid realign-gaps value %q", s))
	}
}

// DodgyAlignmentScore selects the synthetic score assigned to dodgy
// (ambiguous) alignments (spec.md §6 "dodgy-alignment-score").
type DodgyAlignmentScore struct {
	Unaligned bool
	Unknown   bool
	Value     int // meaningful only when neither bool is set
}

// ParseDodgyAlignmentScore parses "Unaligned", "Unknown", or an integer.
func ParseDodgyAlignmentScore(s string) (DodgyAlignmentScore, error) {
	switch s {
	case "Unaligned":
		return DodgyAlignmentScore{Unaligned: true}, nil
	case "Unknown":
		return DodgyAlignmentScore{Unknown: true}, nil
	}
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return DodgyAlignmentScore{}, errors.E(err, fmt.Sprintf("build: invalid dodgy-alignment-score %q:", s))
	}
	return DodgyAlignmentScore{Value: v}, nil
}

// Opts is the core-relevant slice of the CLI surface (spec.md §6),
// already parsed and validated.
type Opts struct {
	RealignGaps             GapRealignMode
	RealignVigorously       bool
	RealignDodgy            bool
	RealignedGapsPerFragment int

	ClipSemialigned bool

	KeepDuplicates      bool
	MarkDuplicates      bool
	SingleLibrarySamples bool

	DodgyAlignmentScore DodgyAlignmentScore

	BAMGzipLevel                 int
	ExpectedBGZFCompressionRatio float64

	KeepUnaligned         bool
	PutUnalignedInTheBack bool

	BinRegex string // "all" | "skip-empty" | a regex over bin file names

	IncludeTags string // comma-separated subset of {AS,BC,NM,OC,RG,SM,ZX,ZY}

	PessimisticMapQ bool

	LoadParallelism    int
	ComputeParallelism int
	NUMAPin            bool
}

// Validate checks the §7 ConfigError invariants: contradictory or
// out-of-range options are rejected at startup rather than partway
// through a run.
func (o Opts) Validate() error {
	if o.RealignedGapsPerFragment < 0 {
		return errors.New(fmt.Sprintf("build: realigned-gaps-per-fragment must be >= 0, got %d", o.RealignedGapsPerFragment))
	}
	if o.BAMGzipLevel < 0 || o.BAMGzipLevel > 9 {
		return errors.New(fmt.Sprintf("build: bam-gzip-level must be in [0,9], got %d", o.BAMGzipLevel))
	}
	if o.ExpectedBGZFCompressionRatio <= 0 {
		return errors.New(fmt.Sprintf("build: expected-bgzf-compression-ratio must be > 0, got %g", o.ExpectedBGZFCompressionRatio))
	}
	if o.KeepDuplicates && o.MarkDuplicates {
		return errors.New("build: keep-duplicates and mark-duplicates are mutually exclusive")
	}
	if o.LoadParallelism <= 0 {
		return errors.New(fmt.Sprintf("build: load parallelism must be > 0, got %d", o.LoadParallelism))
	}
	if o.ComputeParallelism <= 0 {
		return errors.New(fmt.Sprintf("build: compute parallelism must be > 0, got %d", o.ComputeParallelism))
	}
	for _, tag := range splitTags(o.IncludeTags) {
		switch tag {
		case "AS", "BC", "NM", "OC", "RG", "SM", "ZX", "ZY":
		default:
			return errors.New(fmt.Sprintf("build: unknown tag %q in include-tags", tag))
		}
	}
	return nil
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
