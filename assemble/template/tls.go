// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package template

import "sort"

// Class is the TLS (template-length statistics) classification of an
// observed insert size, supplementing spec.md §4.6.4's "matches the
// Nominal class" with the full set the original isaac aligner's
// TemplateLengthStatistics computes (original_source/.../
// testTemplateLengthStatistics.cpp, dropped by the distillation but named
// here per SPEC_FULL.md's supplemented-features note).
type Class int

const (
	// ClassUnknown means too few observations exist yet to classify.
	ClassUnknown Class = iota
	// ClassNominal is the dominant, expected template-length population.
	ClassNominal
	// ClassShort is shorter than the nominal window (e.g. adapter
	// read-through, short-fragment library prep).
	ClassShort
	// ClassLong is longer than the nominal window (e.g. structural
	// variant, mate-pair style library).
	ClassLong
)

// TLSModel is a template-length-statistics model fit from an empirical
// insert-size histogram: the nominal window is [median-k*MAD,
// median+k*MAD], a robust analogue of the original's stddev-based window
// that tolerates the same heavy right tail real insert-size histograms
// have.
type TLSModel struct {
	Median int64
	MAD    int64 // median absolute deviation
	K      float64

	Min, Max int64 // nominal window, precomputed by Fit
}

// DefaultK is the default MAD multiplier for the nominal window.
const DefaultK = 3.0

// Fit builds a TLSModel from a sample of observed template lengths
// (absolute values; orientation is handled separately by Matches).
func Fit(templateLengths []int64, k float64) *TLSModel {
	if len(templateLengths) == 0 {
		return &TLSModel{K: k}
	}
	sorted := append([]int64(nil), templateLengths...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	median := sorted[len(sorted)/2]

	devs := make([]int64, len(sorted))
	for i, v := range sorted {
		d := v - median
		if d < 0 {
			d = -d
		}
		devs[i] = d
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i] < devs[j] })
	mad := devs[len(devs)/2]
	if mad == 0 {
		mad = 1
	}

	m := &TLSModel{Median: median, MAD: mad, K: k}
	span := int64(float64(mad) * k)
	m.Min = median - span
	if m.Min < 0 {
		m.Min = 0
	}
	m.Max = median + span
	return m
}

// Classify returns the Class of an observed (signed) template length.
func (m *TLSModel) Classify(tlen int64) Class {
	if m.Max == 0 && m.Min == 0 {
		return ClassUnknown
	}
	abs := tlen
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < m.Min:
		return ClassShort
	case abs > m.Max:
		return ClassLong
	default:
		return ClassNominal
	}
}

// orientationMatchesFR reports whether (pos1,reverse1) and (pos2,reverse2)
// form a standard forward/reverse (FR) innie pair, the orientation the
// dominant paired-end library prep produces.
func orientationMatchesFR(pos1 int64, reverse1 bool, pos2 int64, reverse2 bool) bool {
	if reverse1 == reverse2 {
		return false
	}
	if reverse1 {
		// read1 is the reverse-strand (rightward) mate.
		return pos2 <= pos1
	}
	return pos1 <= pos2
}

// Matches reports whether the pair (f1,f2) matches this TLS model:
// standard FR orientation and a template length in the nominal window
// (spec.md §4.6.1 "matches the model").
func (m *TLSModel) Matches(f1, f2 *FragmentMetadata) bool {
	if f1.ContigID != f2.ContigID {
		return false
	}
	if !orientationMatchesFR(f1.Position, f1.Reverse, f2.Position, f2.Reverse) {
		return false
	}
	tlen := getTlen(f1, f2)
	return m.Classify(tlen) == ClassNominal
}
