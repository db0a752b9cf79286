// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package realign

import (
	"encoding/binary"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/bioasm/assemble/cigar"
)

// MaxGapsAtATime bounds the subset enumeration so the choice bitmask fits
// in a u16 (spec.md §4.8 step 3).
const MaxGapsAtATime = 10

// Costs is the mismatch/gap-open/gap-extend cost model (spec.md §4.8
// step 3). The recommended defaults make two mismatches the break-even
// point for introducing a new gap.
type Costs struct {
	Mismatch  int
	GapOpen   int
	GapExtend int
}

// DefaultCosts are the spec's recommended defaults.
var DefaultCosts = Costs{Mismatch: 3, GapOpen: 4, GapExtend: 0}

// Opts configures Realign.
type Opts struct {
	Costs     Costs
	Slack     int64 // padding added to the fragment span when querying the catalog
	Vigorous  bool
	BinStart  int64
	BinEnd    int64
	ContigLen int64
}

// Choice is the result of simulating one candidate gap subset (spec.md
// §4.8 step 3, "GapChoice").
type Choice struct {
	Gaps         []Gap
	Position     int64
	Cigar        cigar.Cigar
	EditDistance int
	Mismatches   int
	Cost         int
	MappedLength int
}

// simulate walks bases against reference (reference[0] corresponds to
// reference coordinate refStart), starting the alignment at `position`,
// applying gaps (sorted ascending by Pos) at their reference coordinates.
// It returns the resulting Choice, or ok=false if the walk runs off the
// end of the supplied reference window.
func simulate(bases []byte, position int64, reference []byte, refStart int64, gaps []Gap, costs Costs) (Choice, bool) {
	var c cigar.Cigar
	refPos := position
	readIdx := 0
	mismatches := 0
	inserted := 0
	deleted := 0
	cost := 0
	gapIdx := 0

	for readIdx < len(bases) {
		// Apply any gap starting exactly here before consuming more
		// aligned bases.
		for gapIdx < len(gaps) && gaps[gapIdx].Pos == refPos {
			g := gaps[gapIdx]
			gapIdx++
			length := g.Length
			if length > 0 {
				// Deletion: reference advances, read does not.
				c = cigar.AppendOperation(c, length, cigar.Delete)
				refPos += int64(length)
				deleted += length
			} else if length < 0 {
				// Insertion: read advances, reference does not.
				n := -length
				if readIdx+n > len(bases) {
					return Choice{}, false
				}
				c = cigar.AppendOperation(c, n, cigar.Insert)
				readIdx += n
				inserted += n
			}
			cost += costs.GapOpen + abs(length)*costs.GapExtend
		}
		if readIdx >= len(bases) {
			break
		}
		refOff := refPos - refStart
		if refOff < 0 || int(refOff) >= len(reference) {
			return Choice{}, false
		}
		if reference[refOff] != bases[readIdx] {
			mismatches++
			c = cigar.AppendOperation(c, 1, cigar.Mismatch)
		} else {
			c = cigar.AppendOperation(c, 1, cigar.Match)
		}
		refPos++
		readIdx++
	}

	cost += mismatches * costs.Mismatch
	return Choice{
		Gaps:         gaps,
		Position:     position,
		Cigar:        c,
		EditDistance: mismatches + inserted + deleted,
		Mismatches:   mismatches,
		Cost:         cost,
		MappedLength: int(refPos - position),
	}, true
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// FragmentView is the minimal view of a fragment Realign needs: its read
// bases (original 5'->3' orientation matching the cigar), its current
// reference position, and the reference window covering at least
// [position-slack, position+observedLength+slack).
type FragmentView struct {
	Bases          []byte
	Position       int64
	Reference      []byte
	ReferenceStart int64
}

// Realign implements spec.md §4.8's per-fragment realignment: enumerate
// subsets of the gaps overlapping the fragment's (padded) span, simulate
// each, and keep the best choice that strictly lowers cost without
// raising edit distance (and, unless vigorous, cuts the mismatch percentage by >=20%
// relative to the original). It returns the winning Choice and true if an
// improvement was found, or ok=false if the original alignment could not
// be beaten.
func Realign(fv FragmentView, catalog *Catalog, opts Opts) (Choice, bool) {
	baseline, ok := simulate(fv.Bases, fv.Position, fv.Reference, fv.ReferenceStart, nil, opts.Costs)
	if !ok {
		return Choice{}, false
	}

	lo := fv.Position - opts.Slack
	hi := fv.Position + int64(len(fv.Bases)) + opts.Slack
	if opts.BinStart != 0 || opts.BinEnd != 0 {
		if lo < opts.BinStart {
			lo = opts.BinStart
		}
		if hi > opts.BinEnd {
			hi = opts.BinEnd
		}
	}
	candidates := catalog.Overlapping(lo, hi)
	if len(candidates) > MaxGapsAtATime {
		candidates = candidates[:MaxGapsAtATime]
	}
	n := len(candidates)
	if n == 0 {
		return Choice{}, false
	}

	best := baseline
	bestMask := 0
	for mask := 1; mask < (1 << uint(n)); mask++ {
		var subset []Gap
		for i := 0; i < n; i++ {
			if mask&(1<<uint(i)) != 0 {
				subset = append(subset, candidates[i])
			}
		}
		choice, ok := simulate(fv.Bases, fv.Position, fv.Reference, fv.ReferenceStart, subset, opts.Costs)
		if !ok {
			continue
		}
		if !improves(baseline, choice, opts.Vigorous) {
			continue
		}
		if choice.Cost < best.Cost || (bestMask == 0 && choice.Cost <= best.Cost && choice.Cost < baseline.Cost) {
			best = choice
			bestMask = mask
		}
	}
	if bestMask == 0 {
		return Choice{}, false
	}

	// Honor the bin boundary / contig boundary, truncating or soft-
	// clipping as needed (spec.md §4.8 step 6).
	best = clampToBin(best, opts)
	return best, true
}

func improves(baseline, choice Choice, vigorous bool) bool {
	if choice.Cost >= baseline.Cost {
		return false
	}
	if choice.EditDistance > baseline.EditDistance {
		return false
	}
	if vigorous {
		return true
	}
	if baseline.Mismatches == 0 {
		return choice.Mismatches == 0
	}
	baselinePct := float64(baseline.Mismatches) / float64(baseline.MappedLength+1)
	choicePct := float64(choice.Mismatches) / float64(choice.MappedLength+1)
	return choicePct <= baselinePct*0.8
}

// clampToBin truncates a realigned choice that now extends past the bin
// end, or soft-clips it if it would fall outside the contig.
func clampToBin(choice Choice, opts Opts) Choice {
	if opts.BinEnd > 0 && choice.Position+int64(choice.MappedLength) > opts.BinEnd {
		overhang := choice.Position + int64(choice.MappedLength) - opts.BinEnd
		choice.Cigar = truncateTail(choice.Cigar, int(overhang))
		choice.MappedLength = choice.Cigar.MappedLength()
	}
	if opts.ContigLen > 0 && choice.Position < 0 {
		shift := -choice.Position
		choice.Cigar = softClipHead(choice.Cigar, int(shift))
		choice.Position = 0
	}
	return choice
}

// truncateTail removes up to n reference-consuming bases from the end of
// c, converting the removed span to a soft clip (keeping at least one
// Align/Match op, per the invariant that a fragment must never be
// clipped away to empty).
func truncateTail(c cigar.Cigar, n int) cigar.Cigar {
	if n <= 0 {
		return c
	}
	out := append(cigar.Cigar(nil), c...)
	clipped := 0
	for len(out) > 1 && clipped < n {
		length, op := cigar.Decode(out[len(out)-1])
		switch op {
		case cigar.Align, cigar.Match, cigar.Mismatch:
			take := length
			if take > n-clipped {
				take = n - clipped
			}
			remaining := length - take
			out = out[:len(out)-1]
			if remaining > 0 {
				out = cigar.AppendOperation(out, remaining, op)
			}
			out = cigar.AppendOperation(out, take, cigar.SoftClip)
			clipped += take
		default:
			out = out[:len(out)-1]
		}
	}
	return out
}

// ChecksumCigar hashes c's words along with position, the way
// cmd/bio-pamtool/checksum.go's hashField combines a position key with a
// record field before writing it to a seahash.Hash64. Equal positions
// and CIGARs give equal checksums, which is how re-simulating a winning
// gap subset is checked to reproduce the same alignment.
func ChecksumCigar(position int64, c cigar.Cigar) uint64 {
	h := seahash.New()
	var pos [8]byte
	binary.LittleEndian.PutUint64(pos[:], uint64(position))
	h.Write(pos[:])
	buf := make([]byte, 4*len(c))
	for i, w := range c {
		binary.LittleEndian.PutUint32(buf[4*i:4*i+4], w)
	}
	h.Write(buf)
	return h.Sum64()
}

// softClipHead converts the first n read bases to a leading soft clip.
func softClipHead(c cigar.Cigar, n int) cigar.Cigar {
	if n <= 0 {
		return c
	}
	var out cigar.Cigar
	remaining := n
	for _, w := range c {
		length, op := cigar.Decode(w)
		if remaining <= 0 {
			out = cigar.AppendOperation(out, length, op)
			continue
		}
		take := length
		if take > remaining {
			take = remaining
		}
		out = cigar.AppendOperation(out, take, cigar.SoftClip)
		remaining -= take
		if length-take > 0 {
			out = cigar.AppendOperation(out, length-take, op)
		}
	}
	return out
}
