// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package build

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"sort"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/bioasm/assemble/binmeta"
	"github.com/grailbio/bioasm/assemble/refpos"
)

// BinManifestEntry is one bin's place in the on-disk layout (spec.md §3,
// §6 "Bin metadata list"), as handed off by the match-selector. The
// catch-all unaligned bin has an empty Contig.
type BinManifestEntry struct {
	Index     int    `json:"index"`
	Contig    string `json:"contig"`
	Offset    int64  `json:"offset"`
	Length    int64  `json:"length"`
	DataPath  string `json:"dataPath"`
	FIdxPath  string `json:"fIdxPath"`
	RIdxPath  string `json:"rIdxPath"`
	SeIdxPath string `json:"seIdxPath"`
}

// LoadManifest reads a JSON array of BinManifestEntry from path.
func LoadManifest(path string) ([]BinManifestEntry, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("build: reading manifest %s: %w", path, err)
	}
	var entries []BinManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("build: parsing manifest %s: %w", path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
	return entries, nil
}

// ResolveBinRefs turns a manifest into the []*BinRef the pipeline needs,
// resolving each entry's contig name against the references already in
// header. An entry with an empty contig becomes an unaligned bin starting
// at refpos.TooManyMatch; a contig name not in header is an error.
func ResolveBinRefs(entries []BinManifestEntry, header *sam.Header) ([]*BinRef, error) {
	refByName := make(map[string]*sam.Reference, len(header.Refs()))
	for _, r := range header.Refs() {
		refByName[r.Name()] = r
	}

	out := make([]*BinRef, len(entries))
	for i, e := range entries {
		meta := &binmeta.Metadata{
			Index:     e.Index,
			Length:    e.Length,
			DataPath:  e.DataPath,
			FIdxPath:  e.FIdxPath,
			RIdxPath:  e.RIdxPath,
			SeIdxPath: e.SeIdxPath,
			DataSize:  e.Length,
		}
		br := &BinRef{Meta: meta}
		if e.Contig == "" {
			meta.BinStart = refpos.TooManyMatch
			out[i] = br
			continue
		}
		ref, ok := refByName[e.Contig]
		if !ok {
			return nil, fmt.Errorf("build: manifest entry %d references unknown contig %q", e.Index, e.Contig)
		}
		meta.BinStart = refpos.New(int32(ref.ID()), e.Offset)
		br.RefName = e.Contig
		br.Ref = ref
		br.BinEnd = e.Offset + e.Length
		out[i] = br
	}
	return out, nil
}
