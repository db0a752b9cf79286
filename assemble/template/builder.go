// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package template

import (
	"github.com/grailbio/bioasm/assemble/qual"
	"github.com/grailbio/bioasm/assemble/shadow"
)

// TracksRepeatsMaxOneRead bounds the number of equivalently-best pairs
// tracked for one read (spec.md §4.6.1, "TRACKED_REPEATS_MAX_ONE_READ").
const TracksRepeatsMaxOneRead = 16

// DodgyPolicyKind selects how the builder handles a chosen-but-weakly-
// anchored pair (spec.md §4.6.6).
type DodgyPolicyKind int

const (
	DodgyUnaligned DodgyPolicyKind = iota
	DodgyUnknown
	DodgyNumeric
)

// DodgyPolicy is the tri-valued "dodgy alignment" configuration
// (spec.md §9 Design Notes).
type DodgyPolicy struct {
	Kind  DodgyPolicyKind
	Score int // used only when Kind == DodgyNumeric
}

// DodgyButCleanAlignmentScore is the capped score used by DodgyNumeric
// when the caller doesn't supply its own (spec.md §4.6.6).
const DodgyButCleanAlignmentScore = 3

// RescueSource rescues a shadow given an orphan; it is the template
// builder's view of the shadow aligner (assemble/shadow), parameterized so
// tests can substitute a stub.
type RescueSource interface {
	Rescue(orphan *FragmentMetadata, mateSeq, mateQuals []byte) ([]shadow.Candidate, bool)
}

// Opts configures one Builder.
type Opts struct {
	TLS               *TLSModel
	MapqThreshold     int
	GenomeLength       int64
	RepeatScatter      bool
	Dodgy              DodgyPolicy
	QualTable          *qual.Table
	Rescue             RescueSource
}

// Builder produces BamTemplates from per-read candidate lists
// (spec.md §4.6).
type Builder struct {
	opts Opts
}

// NewBuilder constructs a Builder with the given options.
func NewBuilder(opts Opts) *Builder {
	if opts.QualTable == nil {
		opts.QualTable = qual.NewTable()
	}
	return &Builder{opts: opts}
}

// BuildSingleEnd implements §4.6's single-end path: pickBestFragment
// computes the alignment score and returns.
func (b *Builder) BuildSingleEnd(candidates []*FragmentMetadata) *BamTemplate {
	best, otherLP := pickBest(candidates)
	t := &BamTemplate{}
	if best == nil {
		return t
	}
	t.Fragments[0] = best
	b.scoreSingle(best, otherLP)
	t.AlignmentScore = best.AlignmentScore
	return t
}

func pickBest(candidates []*FragmentMetadata) (best *FragmentMetadata, otherLogProbSum float64) {
	var logs []float64
	bestIdx := -1
	for i, c := range candidates {
		if !c.IsAligned() {
			continue
		}
		logs = append(logs, c.LogProbability)
		if bestIdx == -1 || c.LogProbability > candidates[bestIdx].LogProbability {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return nil, 0
	}
	best = candidates[bestIdx]
	var others []float64
	for _, c := range candidates {
		if c == best || !c.IsAligned() {
			continue
		}
		others = append(others, c.LogProbability)
	}
	return best, qual.SumExp(others)
}

func (b *Builder) scoreSingle(f *FragmentMetadata, otherLogProbSum float64) {
	if !f.IsWellAnchored() {
		f.AlignmentScore = 0
		return
	}
	correction := qual.RestOfGenomeCorrection(b.opts.GenomeLength, f.ObservedLength)
	f.AlignmentScore = qual.AlignmentScore(f.LogProbability, otherLogProbSum+correction)
}

// pairCandidate is one model-matching (f1,f2) combination considered
// during pair enumeration.
type pairCandidate struct {
	f1, f2 *FragmentMetadata
}

// BuildPaired implements the §4.6 paired-end path end to end: pair
// enumeration, optional repeat scatter, anchored scoring, proper-pair
// classification, rescue fallback, and the dodgy-alignment policy.
func (b *Builder) BuildPaired(clusterID uint32, candidates1, candidates2 []*FragmentMetadata, mateSeq1, mateQuals1, mateSeq2, mateQuals2 []byte) *BamTemplate {
	best, totalTemplateProbability := b.locateBestPair(candidates1, candidates2)

	if best == nil {
		return b.buildDisjoinedTemplate(clusterID, candidates1, candidates2, mateSeq1, mateQuals1, mateSeq2, mateQuals2)
	}
	if best[0].f1.EditDistance != 0 || best[0].f2.EditDistance != 0 {
		if alt := b.buildDisjoinedTemplate(clusterID, candidates1, candidates2, mateSeq1, mateQuals1, mateSeq2, mateQuals2); alt != nil && alt.IsPaired() {
			if alt.AlignmentScore > 0 {
				return alt
			}
		}
	}

	rep := best[0]
	if b.opts.RepeatScatter && len(best) > 1 {
		rep = best[int(clusterID)%len(best)]
	}

	t := &BamTemplate{}
	t.Fragments[0] = rep.f1
	t.Fragments[1] = rep.f2
	b.updateMappingScore(rep.f1, rep.f2, totalTemplateProbability)
	t.AlignmentScore = rep.f1.AlignmentScore
	if rep.f2.AlignmentScore < t.AlignmentScore {
		t.AlignmentScore = rep.f2.AlignmentScore
	}
	t.ProperPair = b.opts.TLS != nil && b.opts.TLS.Matches(rep.f1, rep.f2)
	b.applyDodgyPolicy(t, rep.f1, rep.f2)
	b.applyMapqFilter(t)
	return t
}

// locateBestPair walks the per-read candidate lists contig by contig,
// checking every cross-product pair against the TLS model, accumulating
// totalTemplateProbability and tracking the best pair(s) by
// (smithWatermanScore ascending, logProbability descending)
// (spec.md §4.6.1).
func (b *Builder) locateBestPair(candidates1, candidates2 []*FragmentMetadata) ([]pairCandidate, float64) {
	var totalTemplateProbability float64
	var bestPairs []pairCandidate

	for _, f1 := range candidates1 {
		if !f1.IsAligned() {
			continue
		}
		for _, f2 := range candidates2 {
			if !f2.IsAligned() || f2.ContigID != f1.ContigID {
				continue
			}
			if b.opts.TLS == nil || !b.opts.TLS.Matches(f1, f2) {
				continue
			}
			totalTemplateProbability += qualExp(f1.LogProbability) * qualExp(f2.LogProbability)

			if len(bestPairs) == 0 || betterPair(f1, f2, bestPairs[0].f1, bestPairs[0].f2) {
				bestPairs = []pairCandidate{{f1, f2}}
				continue
			}
			if equalPair(f1, f2, bestPairs[0].f1, bestPairs[0].f2) {
				if len(bestPairs) < TracksRepeatsMaxOneRead {
					bestPairs = append(bestPairs, pairCandidate{f1, f2})
				}
			}
		}
	}
	return bestPairs, totalTemplateProbability
}

func qualExp(lp float64) float64 { return qual.SumExp([]float64{lp}) }

// betterPair orders by (smithWatermanScore ascending, logProbability
// descending) as spec.md §4.6.1 specifies -- a *lower* SW score wins
// (the source's SW scores are costs, not similarities, in this
// comparator), ties broken by higher combined log-probability.
func betterPair(f1, f2, g1, g2 *FragmentMetadata) bool {
	swA := f1.SmithWatermanScore + f2.SmithWatermanScore
	swB := g1.SmithWatermanScore + g2.SmithWatermanScore
	if swA != swB {
		return swA < swB
	}
	return (f1.LogProbability + f2.LogProbability) > (g1.LogProbability + g2.LogProbability)
}

func equalPair(f1, f2, g1, g2 *FragmentMetadata) bool {
	return f1.SmithWatermanScore+f2.SmithWatermanScore == g1.SmithWatermanScore+g2.SmithWatermanScore &&
		f1.LogProbability+f2.LogProbability == g1.LogProbability+g2.LogProbability
}

// updateMappingScore implements §4.6.3: for each end, if it (or its
// mate) is well anchored, compute the rest-of-genome-corrected mapping
// score; otherwise leave the score at 0/undefined.
func (b *Builder) updateMappingScore(f1, f2 *FragmentMetadata, totalTemplateProbability float64) {
	anchored := f1.IsWellAnchored() || f2.IsWellAnchored()
	if !anchored {
		f1.AlignmentScore = 0
		f2.AlignmentScore = 0
		return
	}
	bestLP := f1.LogProbability + f2.LogProbability
	otherLP := totalTemplateProbability - qualExpPair(f1, f2)
	if otherLP < 0 {
		otherLP = 0
	}
	correction := qual.RestOfGenomeCorrection(b.opts.GenomeLength, f1.ObservedLength+f2.ObservedLength)
	score := qual.AlignmentScore(bestLP, otherLP+correction)
	f1.AlignmentScore = score
	f2.AlignmentScore = score
}

func qualExpPair(f1, f2 *FragmentMetadata) float64 {
	return qualExp(f1.LogProbability) * qualExp(f2.LogProbability)
}

// buildDisjoinedTemplate implements §4.6.5: when no model-matching pair
// exists, rescue each mate's shadow using the other end's best orphan
// candidate, and keep the (orphan, rescued-shadow) combination with the
// highest summed log probability across both reads. Only the best rescue
// candidate of each attempt is scored; shadow and orphan probabilities are
// not deduplicated.
func (b *Builder) buildDisjoinedTemplate(clusterID uint32, candidates1, candidates2 []*FragmentMetadata, mateSeq1, mateQuals1, mateSeq2, mateQuals2 []byte) *BamTemplate {
	if b.opts.Rescue == nil {
		return &BamTemplate{}
	}
	orphan1, _ := pickBest(candidates1)
	orphan2, _ := pickBest(candidates2)

	type attempt struct {
		orphan, shadowMeta *FragmentMetadata
		score              float64
	}
	var attempts []attempt

	tryRescue := func(orphan *FragmentMetadata, mateSeq, mateQuals []byte, mateReadIndex int) {
		if orphan == nil {
			return
		}
		cands, ok := b.opts.Rescue.Rescue(orphan, mateSeq, mateQuals)
		if !ok || len(cands) == 0 {
			return
		}
		best := cands[0]
		shadowMeta := &FragmentMetadata{
			ClusterID:      clusterID,
			ContigID:       best.Pos.ContigID(),
			Position:       best.Pos.Offset(),
			ReadIndex:      mateReadIndex,
			LogProbability: best.LogProbability,
			UniqueSeedCount: 1,
		}
		attempts = append(attempts, attempt{
			orphan:     orphan,
			shadowMeta: shadowMeta,
			score:      orphan.LogProbability + best.LogProbability,
		})
	}

	tryRescue(orphan1, mateSeq2, mateQuals2, 1)
	tryRescue(orphan2, mateSeq1, mateQuals1, 0)

	if len(attempts) == 0 {
		return &BamTemplate{}
	}
	bestIdx := 0
	for i, a := range attempts[1:] {
		if a.score > attempts[bestIdx].score {
			bestIdx = i + 1
		}
	}
	chosen := attempts[bestIdx]
	t := &BamTemplate{}
	if chosen.orphan.ReadIndex == 0 {
		t.Fragments[0] = chosen.orphan
		t.Fragments[1] = chosen.shadowMeta
	} else {
		t.Fragments[1] = chosen.orphan
		t.Fragments[0] = chosen.shadowMeta
	}
	correction := qual.RestOfGenomeCorrection(b.opts.GenomeLength, chosen.orphan.ObservedLength)
	score := qual.AlignmentScore(chosen.orphan.LogProbability, correction)
	chosen.orphan.AlignmentScore = score
	chosen.shadowMeta.AlignmentScore = score
	t.AlignmentScore = score
	t.ProperPair = b.opts.TLS != nil && b.opts.TLS.Matches(t.Fragments[0], t.Fragments[1])
	return t
}

// applyDodgyPolicy implements §4.6.6: when the chosen pair's anchoring is
// weak, flag unaligned / mark unknown score / cap at a low known value,
// per the configured DodgyPolicy.
func (b *Builder) applyDodgyPolicy(t *BamTemplate, f1, f2 *FragmentMetadata) {
	if f1.IsWellAnchored() || f2.IsWellAnchored() {
		return
	}
	t.Dodgy = true
	switch b.opts.Dodgy.Kind {
	case DodgyUnaligned:
		f1.Cigar = nil
		f2.Cigar = nil
		t.Fragments[0] = nil
		t.Fragments[1] = nil
		t.AlignmentScore = 0
	case DodgyUnknown:
		f1.AlignmentScore = -1
		f2.AlignmentScore = -1
		t.AlignmentScore = -1
	case DodgyNumeric:
		score := b.opts.Dodgy.Score
		if score == 0 {
			score = DodgyButCleanAlignmentScore
		}
		f1.AlignmentScore = score
		f2.AlignmentScore = score
		t.AlignmentScore = score
	}
}

// applyMapqFilter implements the §4.6 "Mapping-quality threshold filter":
// after scoring, an improper pair gets each fragment below threshold
// individually collapsed to unaligned; a proper pair below threshold is
// collapsed wholesale.
func (b *Builder) applyMapqFilter(t *BamTemplate) {
	if t.Fragments[0] == nil || t.Fragments[1] == nil {
		return
	}
	if t.ProperPair {
		if t.AlignmentScore < b.opts.MapqThreshold {
			collapseToUnaligned(t.Fragments[0], t.Fragments[1])
			collapseToUnaligned(t.Fragments[1], t.Fragments[0])
			t.AlignmentScore = 0
		}
		return
	}
	if t.Fragments[0].AlignmentScore < b.opts.MapqThreshold {
		collapseToUnaligned(t.Fragments[0], t.Fragments[1])
	}
	if t.Fragments[1].AlignmentScore < b.opts.MapqThreshold {
		collapseToUnaligned(t.Fragments[1], t.Fragments[0])
	}
}

// collapseToUnaligned zeros f's cigar and moves its position to mate's,
// matching the source's behavior for a fragment that fails the MAPQ
// threshold (spec.md §4.6).
func collapseToUnaligned(f, mate *FragmentMetadata) {
	f.Cigar = nil
	f.AlignmentScore = 0
	if mate != nil {
		f.ContigID = mate.ContigID
		f.Position = mate.Position
	}
}
