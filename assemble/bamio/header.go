// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bamio implements the BAM serializer and concurrent index
// builder (spec.md §4.10-§4.11): build the sam.Header/sam.Record values
// the fragment/template/bin pipeline produces, marshal them and write
// them as BGZF blocks through encoding/bam's ShardedBAMWriter, and
// accumulate a .bai index as records are written. Grounded on
// cmd/bio-bam-sort/sorter's header-merge conventions and encoding/bam's
// Marshal/MarshalHeader/Index types.
package bamio

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/biogo/hts/sam"
)

// Contig is one entry of the reference dictionary (spec.md §4.10 "@SQ").
type Contig struct {
	Name   string
	Length int
}

// ReadGroup is one barcode/library's @RG line.
type ReadGroup struct {
	ID, Library, Sample, PlatformUnit string
}

// HeaderOpts configures BuildHeader.
type HeaderOpts struct {
	Contigs     []Contig
	ReadGroups  []ReadGroup
	ProgramName string
	ProgramArgs string
	Version     string
}

// BuildHeader constructs the BAM header: @HD VN:1.4 SO:coordinate, one
// @SQ per contig, one @RG per barcode/library, and a single @PG line
// recording the program invocation (spec.md §4.10). It is built by
// composing the textual header and parsing it, the same path a real BAM
// file's header goes through on read, so every field lands exactly
// where the sam package expects it.
func BuildHeader(opts HeaderOpts) (*sam.Header, error) {
	var buf strings.Builder
	fmt.Fprintf(&buf, "@HD\tVN:1.4\tSO:coordinate\n")
	for _, c := range opts.Contigs {
		fmt.Fprintf(&buf, "@SQ\tSN:%s\tLN:%d\n", c.Name, c.Length)
	}
	for _, rg := range opts.ReadGroups {
		fmt.Fprintf(&buf, "@RG\tID:%s", rg.ID)
		if rg.Library != "" {
			fmt.Fprintf(&buf, "\tLB:%s", rg.Library)
		}
		if rg.Sample != "" {
			fmt.Fprintf(&buf, "\tSM:%s", rg.Sample)
		}
		if rg.PlatformUnit != "" {
			fmt.Fprintf(&buf, "\tPU:%s", rg.PlatformUnit)
		}
		fmt.Fprintf(&buf, "\tPL:illumina\n")
	}
	if opts.ProgramName != "" {
		fmt.Fprintf(&buf, "@PG\tID:%s\tPN:%s", opts.ProgramName, opts.ProgramName)
		if opts.ProgramArgs != "" {
			fmt.Fprintf(&buf, "\tCL:%s", opts.ProgramArgs)
		}
		if opts.Version != "" {
			fmt.Fprintf(&buf, "\tVN:%s", opts.Version)
		}
		buf.WriteByte('\n')
	}

	sr, err := sam.NewReader(bytes.NewReader([]byte(buf.String())))
	if err != nil {
		return nil, fmt.Errorf("bamio: building header: %w", err)
	}
	return sr.Header(), nil
}
