// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package build

import (
	"context"
	"fmt"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bioasm/assemble/bamio"
	"github.com/grailbio/bioasm/assemble/binmeta"
	"github.com/grailbio/bioasm/assemble/binsort"
	"github.com/grailbio/bioasm/assemble/cigar"
	"github.com/grailbio/bioasm/assemble/clip"
	"github.com/grailbio/bioasm/assemble/fragment"
	"github.com/grailbio/bioasm/assemble/realign"
	"github.com/grailbio/bioasm/assemble/refpos"
)

// ReferenceSource supplies reference bases for the gap realigner and the
// semialigned-ends clipper, both of which need a window of genomic
// sequence around a fragment's mapped position (spec.md §4.8, §4.9).
// encoding/fasta.Fasta satisfies this directly.
type ReferenceSource interface {
	Get(seqName string, start, end uint64) (string, error)
}

// BinRef is one bin's place in the reference dictionary, resolved once up
// front so the per-bin Hooks never have to re-derive a contig name from an
// id mid-run.
type BinRef struct {
	Meta     *binmeta.Metadata
	RefName  string // empty for the unaligned bin
	Ref      *sam.Reference
	BinEnd   int64 // meta.BinStart.Offset() + meta.Length; 0 for the unaligned bin
}

// LibraryOf maps a barcode index to a duplicate-filter library id
// (spec.md §4.7 "Library"); when SingleLibrarySamples is set every
// barcode collapses to library 0.
type LibraryOf func(barcode uint16) int

// Processor implements build.Hooks over the real bin/fragment/BAM
// pipeline: Allocate validates a bin's place in the reference dictionary,
// Load reads its packed fragment bytes and index side-files off disk,
// Compute runs the dedupe+realign+clip chain, and WriteBGZF/MergeIndex
// hand the surviving records to the shared bamio.Writer (spec.md §4.12
// "Hooks").
type Processor struct {
	Opts      Opts
	Writer    *bamio.Writer
	Reference ReferenceSource
	Library   LibraryOf
	ReadGroup func(barcode uint16) string
	Tags      bamio.TagSet
	Stats     *TileStats

	slack int64 // padding added to a fragment's span when querying the gap catalog
}

// computedRecord is one fragment ready to be marshaled into BAM, plus
// the bookkeeping WriteBGZF needs.
type computedRecord struct {
	in           bamio.RecordInput
	mappedRefLen int
	tile         uint32
	unique       bool
}

// Allocate validates the job and passes the *BinRef straight through;
// this core has no separate memory-reservation step beyond what Load's
// byte-slice allocations already do, so Allocate exists mainly to give
// the orchestrator its ordered entry point into the pipeline (spec.md
// §4.12 "AllocateMemory").
func (p *Processor) Allocate(job Job) (interface{}, error) {
	ref, ok := job.Bin.(*BinRef)
	if !ok || ref == nil || ref.Meta == nil {
		return nil, fmt.Errorf("build: job %d has no bin metadata", job.Index)
	}
	return ref, nil
}

// Load reads the bin's fragment bytes and index side-files.
func (p *Processor) Load(job Job, mem interface{}) (interface{}, error) {
	ref := mem.(*BinRef)
	lb, err := LoadBin(context.Background(), ref.Meta)
	if err != nil {
		return nil, err
	}
	return &binWork{ref: ref, bin: lb}, nil
}

type binWork struct {
	ref *BinRef
	bin *loadedBin
}

// Compute runs the bin sorter, gap realigner, and semialigned-ends
// clipper over the bin's surviving records (spec.md §4.7-§4.9).
func (p *Processor) Compute(job Job, loaded interface{}) (interface{}, error) {
	w := loaded.(*binWork)

	records := p.collectRecords(w)
	mode := dedupMode(p.Opts)
	survivors := binsort.Filter(records, mode)

	catalog := p.buildGapCatalog(w, survivors)

	out := make([]computedRecord, 0, len(survivors))
	for i := range survivors {
		rec := &survivors[i]
		cr, ok := p.buildComputedRecord(w, rec, catalog)
		if !ok {
			continue
		}
		out = append(out, cr)
	}
	return out, nil
}

// dedupMode translates the CLI-level keep/mark-duplicates flags into
// binsort.Mode (spec.md §4.7 "Marking vs removing").
func dedupMode(o Opts) binsort.Mode {
	switch {
	case o.KeepDuplicates:
		return binsort.ModeMark
	case o.MarkDuplicates:
		return binsort.ModeDrop
	default:
		return binsort.ModeNoOp
	}
}

// collectRecords flattens a bin's se/fwd/rev index entries into
// binsort.Records, fetching each entry's Tile/ClusterID/quality fields
// from its fragment.Header (spec.md §4.7 "Record").
func (p *Processor) collectRecords(w *binWork) []binsort.Record {
	var out []binsort.Record
	for _, idx := range w.bin.se {
		h := w.bin.buf.AccessorAt(idx.DataOffset).Header()
		out = append(out, p.toRecord(fragment.Index{Pos: idx.FStrandPos, DataOffset: idx.DataOffset}, h,
			binsort.DuplicateKey{FStrandPos: idx.FStrandPos, MateAnchor: refpos.NoMatch, Library: p.libraryOf(h.Barcode)}))
	}
	for _, idx := range w.bin.fwd {
		h := w.bin.buf.AccessorAt(idx.DataOffset).Header()
		out = append(out, p.toRecord(fragment.Index{Pos: idx.FStrandPos, DataOffset: idx.DataOffset, MateDataOffset: idx.MateDataOffset}, h,
			binsort.DuplicateKey{FStrandPos: idx.FStrandPos, MateAnchor: idx.Mate.Anchor, MateInfo: idx.Mate.Info, Library: p.libraryOf(h.Barcode)}))
	}
	for _, idx := range w.bin.rev {
		h := w.bin.buf.AccessorAt(idx.DataOffset).Header()
		out = append(out, p.toRecord(fragment.Index{Pos: idx.FStrandPos, DataOffset: idx.DataOffset, MateDataOffset: idx.MateDataOffset}, h,
			binsort.DuplicateKey{FStrandPos: idx.FStrandPos, MateAnchor: idx.Mate.Anchor, MateInfo: idx.Mate.Info, Library: p.libraryOf(h.Barcode)}))
	}
	return out
}

func (p *Processor) toRecord(fi fragment.Index, h *fragment.Header, key binsort.DuplicateKey) binsort.Record {
	fi.Tile, fi.ClusterID = h.Tile, h.ClusterID
	return binsort.Record{
		Index:          fi,
		Key:            key,
		Tile:           h.Tile,
		ClusterID:      h.ClusterID,
		Quality:        uint16(h.DuplicateRank >> 32),
		TotalReadLen:   int(h.ReadLength),
		EditDistance:   int(h.EditDistance),
		AlignmentScore: int(h.AlignmentScore),
	}
}

func (p *Processor) libraryOf(barcode uint16) int {
	if p.Opts.SingleLibrarySamples || p.Library == nil {
		return 0
	}
	return p.Library(barcode)
}

// buildGapCatalog collects every indel observed in the surviving
// records' cigars, for the gap realigner to try in combination against
// each fragment (spec.md §4.8 "Gap catalog").
func (p *Processor) buildGapCatalog(w *binWork, records []binsort.Record) *realign.Catalog {
	catalog := &realign.Catalog{}
	if p.Opts.RealignGaps == RealignGapsNone {
		catalog.Finalize()
		return catalog
	}
	for _, rec := range records {
		h := w.bin.buf.AccessorAt(rec.Index.DataOffset).Header()
		if !h.IsAligned() {
			continue
		}
		for _, g := range collectGaps(h.Position, w.bin.buf.AccessorAt(rec.Index.DataOffset).Cigar()) {
			catalog.Add(g.Pos, g.Length)
		}
	}
	catalog.Finalize()
	return catalog
}

// collectGaps walks a cigar and reports each indel at the reference
// coordinate it occurs, the form realign.Catalog expects (spec.md §4.8).
func collectGaps(position int64, c cigar.Cigar) []realign.Gap {
	var out []realign.Gap
	refPos := position
	for _, word := range c {
		length, op := cigar.Decode(word)
		switch op {
		case cigar.Delete:
			out = append(out, realign.Gap{Pos: refPos, Length: length})
			refPos += int64(length)
		case cigar.Insert:
			out = append(out, realign.Gap{Pos: refPos, Length: -length})
		case cigar.Align, cigar.Match, cigar.Mismatch, cigar.Skip:
			refPos += int64(length)
		}
	}
	return out
}

// buildComputedRecord applies gap realignment and semialigned-ends
// clipping (when enabled) to one surviving record, and assembles the
// bamio.RecordInput WriteBGZF will marshal.
func (p *Processor) buildComputedRecord(w *binWork, rec *binsort.Record, catalog *realign.Catalog) (computedRecord, bool) {
	acc := w.bin.buf.AccessorAt(rec.Index.DataOffset)
	h := acc.Header()
	if h.ReadLength == 0 {
		return computedRecord{}, false
	}
	bases := fragment.UnpackBases(acc.PackedBases(), int(h.ReadLength))
	c := acc.Cigar()
	pos := h.Position
	editDistance := int(h.EditDistance)
	var originalCigar cigar.Cigar

	if h.IsAligned() && w.ref.RefName != "" {
		if fv, ok := p.referenceWindow(w, h, bases, c); ok {
			opts := realign.Opts{
				Costs:     realign.DefaultCosts,
				Slack:     p.slackBases(),
				Vigorous:  p.Opts.RealignVigorously,
				BinStart:  w.ref.Meta.BinStart.Offset(),
				BinEnd:    w.ref.BinEnd,
				ContigLen: contigLen(w.ref.Ref),
			}
			if p.Opts.RealignGaps != RealignGapsNone && catalog.Len() > 0 {
				if choice, ok := realign.Realign(fv, catalog, opts); ok {
					originalCigar = c
					c = choice.Cigar
					pos = choice.Position
					editDistance = choice.EditDistance
				}
			}
			if p.Opts.ClipSemialigned {
				cf := clip.Fragment{
					Bases: bases, Cigar: cigar.Collapse(c), Position: pos,
					ObservedLength: cigar.Collapse(c).MappedLength(), EditDistance: editDistance,
					Reference: fv.Reference, ReferenceStart: fv.ReferenceStart,
				}
				if clipped, ok := clip.Clip(cf, w.ref.BinEnd); ok {
					if len(originalCigar) == 0 {
						originalCigar = c
					}
					c = clipped.Cigar
					pos = clipped.Position
					editDistance = clipped.EditDistance
				}
			}
		}
	}

	flags := sam.Flags(h.Flags)
	if rec.Duplicate {
		flags |= sam.Duplicate
	}

	in := bamio.RecordInput{
		Pos:              int(pos),
		MapQ:             mapq(h.AlignmentScore, p.Opts.PessimisticMapQ),
		Cigar:            c,
		Flags:            flags,
		Ref:              w.ref.Ref,
		MatePos:          int(h.MatePosition),
		TLen:             int(h.BamTlen),
		Seq:              bases,
		HaveSingleAS:     true,
		SingleAS:         int(h.AlignmentScore),
		HaveEditDistance: true,
		EditDistance:     editDistance,
		OriginalCigar:    originalCigar,
		ClusterX:         int(h.ClusterX),
		ClusterY:         int(h.ClusterY),
		HaveClusterXY:    true,
	}
	if p.ReadGroup != nil {
		in.ReadGroup = p.ReadGroup(h.Barcode)
	}

	return computedRecord{in: in, mappedRefLen: cigar.Collapse(c).MappedLength(), tile: h.Tile, unique: !rec.Duplicate}, true
}

func contigLen(ref *sam.Reference) int64 {
	if ref == nil {
		return 0
	}
	return int64(ref.Len())
}

func (p *Processor) slackBases() int64 {
	if p.Opts.RealignedGapsPerFragment > 0 {
		return int64(p.Opts.RealignedGapsPerFragment) * 4
	}
	return 16
}

// referenceWindow fetches the reference bases spanning a fragment's
// (padded) footprint, for the realigner/clipper to compare against.
func (p *Processor) referenceWindow(w *binWork, h *fragment.Header, bases []byte, c cigar.Cigar) (realign.FragmentView, bool) {
	if p.Reference == nil {
		return realign.FragmentView{}, false
	}
	slack := p.slackBases()
	lo := h.Position - slack
	if lo < 0 {
		lo = 0
	}
	hi := h.Position + int64(c.MappedLength()) + slack
	seq, err := p.Reference.Get(w.ref.RefName, uint64(lo), uint64(hi))
	if err != nil || len(seq) == 0 {
		return realign.FragmentView{}, false
	}
	return realign.FragmentView{Bases: bases, Position: h.Position, Reference: []byte(seq), ReferenceStart: lo}, true
}

// mapq derives a MAPQ byte from the fragment's alignment score; the
// pessimistic-mapq policy caps the reported quality at the conventional
// "non-unique" value 3 for anything short of the maximum score, since this
// core's on-disk fragment record carries no second-best-score signal to
// judge anchoring confidence by (spec.md §6 "pessimistic-mapq").
func mapq(alignmentScore int32, pessimistic bool) byte {
	if alignmentScore < 0 {
		return 0
	}
	score := alignmentScore
	if score > 60 {
		score = 60
	}
	if pessimistic && score < 60 {
		return 3
	}
	return byte(score)
}

// WriteBGZF marshals every computed record of this bin into its own BAM
// shard, numbered by the bin's index so the shared bamio.Writer emits
// shards in bin order regardless of which bins finish computing first
// (spec.md §4.10-§4.12).
func (p *Processor) WriteBGZF(job Job, computed interface{}) (interface{}, error) {
	records := computed.([]computedRecord)
	shard := p.Writer.NewShard()
	shard.StartNum(job.Index)
	for _, cr := range records {
		if err := shard.AddRecord(cr.in, p.Tags, cr.mappedRefLen); err != nil {
			return nil, err
		}
		if p.Stats != nil {
			p.Stats.Add(fmt.Sprintf("%d", cr.tile/1000), fmt.Sprintf("%d", cr.tile%1000), cr.unique)
		}
	}
	if err := shard.Close(); err != nil {
		return nil, err
	}
	return nil, nil
}

// MergeIndex is a no-op: the bin's index contribution was already folded
// into the shared IndexBuilder as soon as its shard actually reached the
// output stream (bamio.Writer's OnShardWritten hook does the rebase).
// This stage exists to keep the six-state pipeline shape explicit even
// though, for this Hooks implementation, there is nothing left to do.
func (p *Processor) MergeIndex(job Job, written interface{}) error {
	log.Printf("build: bin %d merged", job.Index)
	return nil
}
