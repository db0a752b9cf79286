// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package qual precomputes per-Q log-probability tables and the
// rest-of-genome prior correction used by the shadow aligner and template
// builder (spec.md §4.5-§4.6, GLOSSARY "Rest-of-genome correction").
package qual

import "math"

const (
	// MaxQ bounds the precomputed table; BCL quality values never exceed this.
	MaxQ = 64
)

// Table holds precomputed log P(match) / log P(mismatch) for every quality
// value in [0, MaxQ), the way the original Quality.cpp table is built once
// and shared read-only across all alignment scoring.
type Table struct {
	LogMatch    [MaxQ]float64
	LogMismatch [MaxQ]float64
}

// NewTable builds the standard Phred-scaled table: Q encodes
// P(error) = 10^(-Q/10); log P(match) = log(1-P(error)), log
// P(mismatch) = log(P(error)/3) (error distributed uniformly over the
// three wrong bases).
func NewTable() *Table {
	var t Table
	for q := 0; q < MaxQ; q++ {
		pErr := math.Pow(10, -float64(q)/10)
		if pErr >= 1 {
			pErr = 1 - 1e-9
		}
		t.LogMatch[q] = math.Log(1 - pErr)
		t.LogMismatch[q] = math.Log(pErr / 3)
	}
	return &t
}

// LogProbability returns the sum of per-base log P(observed | reference)
// over a read, given a mask of which positions mismatch. quals holds raw
// Phred quality values (0..63); mismatch[i] is true iff base i disagrees
// with the reference.
func (t *Table) LogProbability(quals []byte, mismatch []bool) float64 {
	var lp float64
	for i, q := range quals {
		qq := int(q)
		if qq >= MaxQ {
			qq = MaxQ - 1
		}
		if i < len(mismatch) && mismatch[i] {
			lp += t.LogMismatch[qq]
		} else {
			lp += t.LogMatch[qq]
		}
	}
	return lp
}

// RestOfGenomeCorrection returns the prior 2*G*4^(-L) added to the
// denominator of the alignment-score computation (GLOSSARY): reads with
// extremely low probability of occurring by chance anywhere in a genome
// of size genomeLength get inflated confidence rather than an
// artificially perfect score.
func RestOfGenomeCorrection(genomeLength int64, readLength int) float64 {
	if readLength <= 0 {
		return 2 * float64(genomeLength)
	}
	return 2 * float64(genomeLength) * math.Pow(4, -float64(readLength))
}

// AlignmentScore implements the §4.6.3 updateMappingScore formula:
// floor(-10*log10(otherLP / (otherLP + bestLP))), clamped to >= 0. otherLP
// must already include the rest-of-genome correction.
func AlignmentScore(bestLogProbability, otherLogProbabilitySum float64) int {
	bestLP := math.Exp(bestLogProbability)
	otherLP := otherLogProbabilitySum
	if otherLP <= 0 {
		return 0
	}
	ratio := otherLP / (otherLP + bestLP)
	if ratio <= 0 {
		return 0
	}
	score := math.Floor(-10 * math.Log10(ratio))
	if score < 0 || math.IsInf(score, 0) || math.IsNaN(score) {
		return 0
	}
	return int(score)
}

// SumExp returns log-sum-exp-free Σ exp(logProbabilities[i]), used to
// accumulate totalTemplateProbability (§4.6.1) and the "other candidates"
// denominator (§4.6.3).
func SumExp(logProbabilities []float64) float64 {
	var sum float64
	for _, lp := range logProbabilities {
		sum += math.Exp(lp)
	}
	return sum
}
