// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bamio

import (
	"github.com/biogo/hts/sam"
	"github.com/grailbio/bioasm/assemble/cigar"
)

// TagSet selects which optional tags BuildRecord emits (spec.md §4.10
// "include-tags"); unset fields are simply omitted regardless of
// whether the corresponding bit is set.
type TagSet struct {
	SM, AS, RG, NM, BC, OC, ZX, ZY bool
}

// AllTags enables every optional tag.
var AllTags = TagSet{SM: true, AS: true, RG: true, NM: true, BC: true, OC: true, ZX: true, ZY: true}

// RecordInput is everything BuildRecord needs to emit one BAM alignment
// record for a single fragment (spec.md §4.10).
type RecordInput struct {
	Name  string
	Ref   *sam.Reference
	Pos   int // 0-based
	MapQ  byte
	Cigar cigar.Cigar
	Flags sam.Flags

	MateRef *sam.Reference
	MatePos int
	TLen    int

	Seq  []byte
	Qual []byte

	SingleAS         int
	HaveSingleAS     bool
	TemplateAS       int
	HaveTemplateAS   bool
	ReadGroup        string
	EditDistance     int
	HaveEditDistance bool
	Barcode          string
	OriginalCigar    cigar.Cigar // set only when the gap realigner rewrote the CIGAR
	ClusterX, ClusterY int
	HaveClusterXY      bool
}

// BuildRecord assembles a *sam.Record from in, emitting the tags enabled
// in tags and actually present on in (spec.md §4.10 "Tags emitted
// conditionally").
func BuildRecord(in RecordInput, tags TagSet) (*sam.Record, error) {
	r, err := sam.NewRecord(in.Name, in.Ref, in.MateRef, in.Pos, in.MatePos, in.TLen, in.MapQ, ToSamCigar(in.Cigar), in.Seq, in.Qual, nil)
	if err != nil {
		return nil, err
	}
	r.Flags = in.Flags

	addAux := func(tag string, value interface{}) {
		if a, err := sam.NewAux(sam.NewTag(tag), value); err == nil {
			r.AuxFields = append(r.AuxFields, a)
		}
	}

	if tags.SM && in.HaveSingleAS {
		addAux("SM", in.SingleAS)
	}
	if tags.AS && in.HaveTemplateAS {
		addAux("AS", in.TemplateAS)
	}
	if tags.RG && in.ReadGroup != "" {
		addAux("RG", in.ReadGroup)
	}
	if tags.NM && in.HaveEditDistance {
		addAux("NM", in.EditDistance)
	}
	if tags.BC && in.Barcode != "" {
		addAux("BC", in.Barcode)
	}
	if tags.OC && len(in.OriginalCigar) > 0 {
		addAux("OC", in.OriginalCigar.String())
	}
	if tags.ZX && in.HaveClusterXY {
		addAux("ZX", in.ClusterX*100)
	}
	if tags.ZY && in.HaveClusterXY {
		addAux("ZY", in.ClusterY*100)
	}
	return r, nil
}
