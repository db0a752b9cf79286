// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package template

// getTlen computes the signed template length BAM's TLEN field requires
// for `fragment`, given its mate. This preserves the source's behavior
// verbatim (spec.md §9 Open Questions): it returns -distance when
// fragment.Position > mate.Position, and -- perhaps counter-intuitively --
// also -distance when the positions are equal and fragment is not read 1.
// Do not "fix" this; regression-test against reference BAMs instead of
// re-deriving it (per the spec's own guidance).
func getTlen(fragment, mate *FragmentMetadata) int64 {
	fragmentEnd := fragment.End()
	mateEnd := mate.End()

	begin := fragment.Position
	if mate.Position < begin {
		begin = mate.Position
	}
	end := fragmentEnd
	if mateEnd > end {
		end = mateEnd
	}
	distance := end - begin

	if fragment.Position > mate.Position {
		return -distance
	}
	if fragment.Position == mate.Position && fragment.ReadIndex != 0 {
		return -distance
	}
	return distance
}
