// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bamio

import (
	"github.com/biogo/hts/sam"
	"github.com/grailbio/bioasm/assemble/cigar"
)

// ToSamCigar converts our packed cigar representation to the biogo/hts
// sam.Cigar slice Marshal expects, collapsing Match/Mismatch to the
// conventional "M" op first (spec.md §4.10 emits plain CIGAR, not the
// extended "="/"X" alphabet).
func ToSamCigar(c cigar.Cigar) sam.Cigar {
	collapsed := cigar.Collapse(c)
	out := make(sam.Cigar, 0, len(collapsed))
	for _, w := range collapsed {
		length, op := cigar.Decode(w)
		out = append(out, sam.NewCigarOp(toSamOpType(op), length))
	}
	return out
}

func toSamOpType(op cigar.Op) sam.CigarOpType {
	switch op {
	case cigar.Align, cigar.Match, cigar.Mismatch:
		return sam.CigarMatch
	case cigar.Insert:
		return sam.CigarInsertion
	case cigar.Delete:
		return sam.CigarDeletion
	case cigar.Skip:
		return sam.CigarSkipped
	case cigar.SoftClip:
		return sam.CigarSoftClipped
	case cigar.HardClip:
		return sam.CigarHardClipped
	case cigar.Pad:
		return sam.CigarPadded
	default:
		return sam.CigarMatch
	}
}
